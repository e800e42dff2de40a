package rustcjson

import (
	"bytes"
	"encoding/json"

	"docrunner/pkg/contract"
)

// Options: 预留占位；当前无配置。
type Options struct{}

type decoder struct{}

// New 从原样 JSON Options 创建解码器（当前忽略选项）。
func New(raw json.RawMessage) (contract.DiagnosticDecoder, error) {
	var opts Options
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &opts)
	}
	return &decoder{}, nil
}

var _ contract.DiagnosticDecoder = (*decoder)(nil)

// wire 形状：rustc --error-format=json 的单条诊断。
type wireSpan struct {
	FileName    string  `json:"file_name"`
	LineStart   int     `json:"line_start"`
	LineEnd     int     `json:"line_end"`
	ColumnStart int     `json:"column_start"`
	ColumnEnd   int     `json:"column_end"`
	IsPrimary   bool    `json:"is_primary"`
	Label       *string `json:"label"`
}

type wireDiag struct {
	MessageType *string `json:"$message_type"`
	Message     *string `json:"message"`
	Level       string  `json:"level"`
	Code        *struct {
		Code string `json:"code"`
	} `json:"code"`
	Rendered *string    `json:"rendered"`
	Spans    []wireSpan `json:"spans"`
	Children []wireDiag `json:"children"`
}

// cargo --message-format=json 的外层包装。
type wireCargo struct {
	Reason  string          `json:"reason"`
	Message json.RawMessage `json:"message"`
}

// Decode 逐行解析；非 JSON 行、非诊断记录静默跳过，保持原顺序。
// 同时接受 rustc 直出记录与 cargo 的 compiler-message 包装记录。
func (d *decoder) Decode(raw []byte) []contract.Diagnostic {
	var out []contract.Diagnostic
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if diag, ok := decodeLine(line); ok {
			out = append(out, diag)
		}
	}
	return out
}

func decodeLine(line []byte) (contract.Diagnostic, bool) {
	var cargo wireCargo
	if err := json.Unmarshal(line, &cargo); err != nil {
		return contract.Diagnostic{}, false
	}
	if cargo.Reason != "" {
		if cargo.Reason != "compiler-message" || len(cargo.Message) == 0 {
			return contract.Diagnostic{}, false
		}
		line = cargo.Message
	}
	var w wireDiag
	if err := json.Unmarshal(line, &w); err != nil {
		return contract.Diagnostic{}, false
	}
	if w.MessageType != nil && *w.MessageType != "diagnostic" {
		return contract.Diagnostic{}, false
	}
	if w.Message == nil || w.Level == "" {
		return contract.Diagnostic{}, false
	}
	return convert(w), true
}

func convert(w wireDiag) contract.Diagnostic {
	d := contract.Diagnostic{Level: w.Level}
	if w.Message != nil {
		d.Message = *w.Message
	}
	if w.Code != nil {
		d.Code = w.Code.Code
	}
	if w.Rendered != nil {
		d.Rendered = *w.Rendered
	}
	for _, s := range w.Spans {
		sp := contract.Span{
			File:        s.FileName,
			LineStart:   s.LineStart,
			LineEnd:     s.LineEnd,
			ColumnStart: s.ColumnStart,
			ColumnEnd:   s.ColumnEnd,
			Primary:     s.IsPrimary,
		}
		if s.Label != nil {
			sp.Label = *s.Label
		}
		d.Spans = append(d.Spans, sp)
	}
	for _, c := range w.Children {
		d.Children = append(d.Children, convert(c))
	}
	return d
}
