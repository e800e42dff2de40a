package contract

// Artifact: 聚合工件句柄（单个只追加的文本文件）。
// 生命周期：每轮 Reset 恰好一次 → 若干 Append → 外部编译器消费。
// 约束：
//  1. Append 对单个条目原子（多个写者时串行化，不要求跨文档顺序）；
//  2. Reset/Append 的任何 I/O 失败须以 ErrArtifactWrite 包装上抛（致命）；
//  3. 返回的 startLine 为条目首行在工件中的 1 起始行号。
type Artifact interface {
	Reset() error
	Append(e Entry) (startLine int, err error)
	// Path 返回工件在文件系统中的路径（供编译器调用与诊断匹配）。
	Path() string
	// Digest 返回当前工件内容的摘要（十六进制），用于观察跨轮幂等。
	Digest() (string, error)
	Close() error
}
