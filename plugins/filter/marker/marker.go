package marker

import (
	"fmt"
	"strings"

	"docrunner/pkg/contract"
)

// 默认哨兵：文档源中约定的字面量，需保持稳定以便往返。
const (
	DefaultStart = "// HIDDEN START"
	DefaultEnd   = "// HIDDEN END"
)

// Options 为隐藏区过滤器的可选配置。
type Options struct {
	Start string `json:"start"`
	End   string `json:"end"`
	// StripIndent: 判定标记前最多去除的前导空格数，默认 2。
	StripIndent int `json:"strip_indent"`
}

// Filter 扁平（单层）隐藏区过滤器。
type Filter struct {
	start, end string
	strip      int
}

// New 创建过滤器；start/end 不得为空且不得互为包含（否则同一行两者皆命中）。
func New(opts *Options) (*Filter, error) {
	f := &Filter{start: DefaultStart, end: DefaultEnd, strip: 2}
	if opts != nil {
		if s := strings.TrimSpace(opts.Start); s != "" {
			f.start = s
		}
		if s := strings.TrimSpace(opts.End); s != "" {
			f.end = s
		}
		if opts.StripIndent < 0 {
			return nil, fmt.Errorf("marker: strip_indent %d: %w", opts.StripIndent, contract.ErrInvalidInput)
		}
		if opts.StripIndent > 0 {
			f.strip = opts.StripIndent
		}
	}
	if strings.Contains(f.start, f.end) || strings.Contains(f.end, f.start) {
		return nil, fmt.Errorf("marker: start %q and end %q overlap: %w", f.start, f.end, contract.ErrInvalidInput)
	}
	return f, nil
}

var _ contract.Filter = (*Filter)(nil)

// Split 自上而下扫描，维护 hidden 标志（初始 false）：
//   - 含 start 哨兵的行置 true，自身丢弃；
//   - 含 end 哨兵的行置 false，自身丢弃（已为 false 时为空操作）；
//   - 其余行按标志分流到 Hidden/Visible。
func (f *Filter) Split(b contract.Block) contract.Filtered {
	var out contract.Filtered
	hidden := false
	for _, l := range b.Lines {
		probe := f.stripIndent(l.Text)
		switch {
		case strings.Contains(probe, f.start):
			hidden = true
			out.Markers = append(out.Markers, l)
		case strings.Contains(probe, f.end):
			hidden = false
			out.Markers = append(out.Markers, l)
		case hidden:
			out.Hidden = append(out.Hidden, l)
		default:
			out.Visible = append(out.Visible, l)
		}
	}
	return out
}

func (f *Filter) stripIndent(s string) string {
	n := 0
	for n < f.strip && n < len(s) && s[n] == ' ' {
		n++
	}
	return s[n:]
}
