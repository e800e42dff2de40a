package rusttest

import (
	"fmt"
	"strings"

	"docrunner/pkg/contract"
)

// Options 为 Rust 测试合成器的可选配置。
type Options struct {
	// Prefix: 函数名前缀，默认 "test_block"。
	Prefix string `json:"prefix"`
	// Indent: 函数体重缩进，默认 4 个空格。
	Indent string `json:"indent"`
	// Attributes: 追加在 #[test] 之后的属性行（如 "#[allow(unused)]"）。
	Attributes []string `json:"attributes"`
}

// Synth 生成 `#[test] fn <name>() { ... }` 条目。
type Synth struct {
	prefix string
	indent string
	attrs  []string
}

// New 创建合成器。
func New(opts *Options) (*Synth, error) {
	s := &Synth{prefix: "test_block", indent: "    "}
	if opts == nil {
		return s, nil
	}
	if p := strings.TrimSpace(opts.Prefix); p != "" {
		if contract.SanitizeIdent(p) != p {
			return nil, fmt.Errorf("rusttest: prefix %q is not an identifier: %w", p, contract.ErrInvalidInput)
		}
		s.prefix = p
	}
	if opts.Indent != "" {
		if strings.Trim(opts.Indent, " \t") != "" {
			return nil, fmt.Errorf("rusttest: indent must be whitespace: %w", contract.ErrInvalidInput)
		}
		s.indent = opts.Indent
	}
	for _, a := range opts.Attributes {
		if a = strings.TrimSpace(a); a != "" {
			s.attrs = append(s.attrs, a)
		}
	}
	return s, nil
}

var _ contract.Synthesizer = (*Synth)(nil)

// Name 由 (doc, index) 派生函数名：<prefix>_<清洗后的 doc>_<index>。
func (s *Synth) Name(doc contract.DocID, index int) string {
	return fmt.Sprintf("%s_%s_%d", s.prefix, contract.SanitizeIdent(string(doc)), index)
}

// Synthesize 产出条目文本：注释头、#[test]、签名、去公共缩进后重缩进的代码行、闭合括号、空行分隔。
// 块内空行写为空行，保证条目行与源行一一对应（Origins）。
func (s *Synth) Synthesize(doc contract.DocID, index int, lines []contract.Line) contract.Entry {
	name := s.Name(doc, index)
	var b strings.Builder
	var origins []contract.Origin
	emit := func(line string, o contract.Origin) {
		b.WriteString(line)
		b.WriteByte('\n')
		origins = append(origins, o)
	}

	emit(fmt.Sprintf("// ==== Code Block %d (%s) ====", index, doc), contract.Origin{})
	emit("#[test]", contract.Origin{})
	for _, a := range s.attrs {
		emit(a, contract.Origin{})
	}
	emit(fmt.Sprintf("fn %s() {", name), contract.Origin{})
	cut := commonIndent(lines)
	for _, l := range lines {
		o := contract.Origin{Doc: doc, Line: l.No}
		if contract.IsBlank(l.Text) {
			emit("", o)
			continue
		}
		emit(s.indent+strings.TrimRight(l.Text[cut:], " \t"), o)
	}
	emit("}", contract.Origin{})
	emit("", contract.Origin{})
	return contract.Entry{Name: name, Text: b.String(), Origins: origins}
}

// commonIndent 返回非空行的公共前导空白字节数（按字节精确匹配，不展开制表符）。
func commonIndent(ls []contract.Line) int {
	var prefix string
	first := true
	for _, l := range ls {
		if contract.IsBlank(l.Text) {
			continue
		}
		lead := l.Text[:len(l.Text)-len(strings.TrimLeft(l.Text, " \t"))]
		if first {
			prefix, first = lead, false
			continue
		}
		n := 0
		for n < len(prefix) && n < len(lead) && prefix[n] == lead[n] {
			n++
		}
		prefix = prefix[:n]
	}
	return len(prefix)
}
