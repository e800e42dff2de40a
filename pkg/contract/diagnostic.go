package contract

// Span: 诊断的源码区间。
type Span struct {
	File        string
	LineStart   int
	LineEnd     int
	ColumnStart int
	ColumnEnd   int
	Primary     bool
	Label       string
}

// Diagnostic: 解析后的单条编译器诊断记录。
type Diagnostic struct {
	Level    string
	Message  string
	Code     string
	Rendered string
	Spans    []Span
	Children []Diagnostic
}

// PrimarySpan 返回首个主区间；无则返回 nil。
func (d Diagnostic) PrimarySpan() *Span {
	for i := range d.Spans {
		if d.Spans[i].Primary {
			return &d.Spans[i]
		}
	}
	return nil
}

// IsError 报告严重级别是否为 error。
func (d Diagnostic) IsError() bool { return d.Level == "error" }

// DiagnosticDecoder: 解码外部工具的结构化诊断流。
// 约束：逐行 JSON；非 JSON 行与非诊断记录静默跳过（不是错误）；保持原顺序。
type DiagnosticDecoder interface {
	Decode(raw []byte) []Diagnostic
}
