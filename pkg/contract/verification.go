package contract

// SnippetLine: 错误行附近的一行工件源码（Mark 标记报错行）。
type SnippetLine struct {
	No   int
	Text string
	Mark bool
}

// Finding: 一轮校验中被选中渲染的错误。
// Span 为 nil 表示没有落在工件内的主区间，仅打印裸消息；
// Origin 为报错工件行对应的文档位置（生成行为零值）。
type Finding struct {
	Diagnostic Diagnostic
	Span       *Span
	Snippet    []SnippetLine
	Origin     Origin
}

// Verification: 一轮（BeginPass..EndPass）的结果。
// 编译失败不是错误：OK=false 且 ExitCode 为外部进程退出码。
type Verification struct {
	OK             bool
	ExitCode       int
	Stdout         string
	Stderr         string
	First          *Finding
	Diagnostics    []Diagnostic
	Blocks         int
	Units          int
	ArtifactPath   string
	ArtifactDigest string
}

// Warnings 返回 warning 级别的诊断。
func (v Verification) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range v.Diagnostics {
		if d.Level == "warning" {
			out = append(out, d)
		}
	}
	return out
}
