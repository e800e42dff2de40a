package contract

import "context"

// CompileResult: 外部编译器/测试运行器的一次调用结果（原样捕获）。
// Diagnostics 为结构化（逐行 JSON）诊断流所在的原始字节（rustc 为 stderr）。
type CompileResult struct {
	ExitCode    int
	Stdout      string
	Stderr      string
	Diagnostics []byte
}

// OK 报告外部工具是否以 0 退出。
func (r CompileResult) OK() bool { return r.ExitCode == 0 }

// Compiler: 以“测试”模式对聚合工件调用外部工具，请求结构化诊断输出。
// 约束：
//  1. 同步阻塞直至外部进程退出；不自行设置超时；
//  2. 非 0 退出码不是错误，放入 CompileResult；
//  3. 仅当进程无法启动时返回错误（以 ErrCompilerLaunch 包装）。
type Compiler interface {
	Compile(ctx context.Context, artifactPath string) (CompileResult, error)
}
