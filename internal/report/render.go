package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"docrunner/pkg/contract"
)

const frame = "========================="

// Options 控制控制台报告。
type Options struct {
	// Color: auto|always|never。auto 依据输出终端与 NO_COLOR/CLICOLOR_FORCE 判定。
	Color string
	// Highlight: 着色时是否对片段做 Rust 语法高亮。
	Highlight bool
}

// Printer 负责把一轮校验结果写到控制台。
type Printer struct {
	w         io.Writer
	color     bool
	highlight bool

	ok, fail, head, mark, dim lipgloss.Style
}

// NewPrinter 按颜色模式构造 Printer。
func NewPrinter(w io.Writer, opts Options) *Printer {
	profile := termenv.Ascii
	switch strings.ToLower(strings.TrimSpace(opts.Color)) {
	case "always":
		profile = termenv.ANSI256
	case "never":
	default:
		profile = termenv.NewOutput(w).EnvColorProfile()
	}
	r := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	// 显式设置，避免 Renderer 按环境重新探测
	r.SetColorProfile(profile)
	return &Printer{
		w:         w,
		color:     profile != termenv.Ascii,
		highlight: opts.Highlight,
		ok:        r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		fail:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		head:      r.NewStyle().Bold(true),
		mark:      r.NewStyle().Foreground(lipgloss.Color("11")),
		dim:       r.NewStyle().Faint(true),
	}
}

// Render 返回一个 Finding 的多行文本（不含结尾换行）。
// 有区间时：标题 + 位置 + 文档来源 + 片段；无区间时仅标题。
func (p *Printer) Render(f contract.Finding) string {
	d := f.Diagnostic
	level := d.Level
	if d.Code != "" {
		level += "[" + d.Code + "]"
	}
	var b strings.Builder
	if f.Span == nil {
		b.WriteString(p.fail.Render(level+":") + " " + d.Message)
		return b.String()
	}
	sp := f.Span
	fmt.Fprintf(&b, "%s line %d: %s\n", p.fail.Render(level+":"), sp.LineStart, d.Message)
	loc := fmt.Sprintf("  --> %s:%d:%d", sp.File, sp.LineStart, sp.ColumnStart)
	if sp.Label != "" {
		loc += ": " + sp.Label
	}
	b.WriteString(p.dim.Render(loc))
	if !f.Origin.IsZero() {
		fmt.Fprintf(&b, "\n  ::: %s:%d", f.Origin.Doc, f.Origin.Line)
	}
	if len(f.Snippet) > 0 {
		b.WriteString("\n" + frame)
		for _, l := range f.Snippet {
			b.WriteString("\n " + p.snippetLine(l))
		}
		b.WriteString("\n" + frame)
	}
	return b.String()
}

func (p *Printer) snippetLine(l contract.SnippetLine) string {
	if !p.color {
		return FormatSnippetLine(l)
	}
	text := l.Text
	if p.highlight && strings.TrimSpace(text) != "" {
		var sb strings.Builder
		if err := quick.Highlight(&sb, text, "rust", "terminal256", "monokai"); err == nil {
			text = strings.TrimRight(sb.String(), "\n")
		}
	}
	gutter := fmt.Sprintf("  %4d: ", l.No)
	if l.Mark {
		gutter = p.mark.Render(fmt.Sprintf("> %4d: ", l.No))
	} else {
		gutter = p.dim.Render(gutter)
	}
	return gutter + text
}

// Print 输出整轮结果：
//   - 成功：横幅 + 原始 stdout，若有警告再附警告；
//   - 失败：--- rustc Errors/Warnings --- + 选中的错误，随后 --- rustc Output --- + 原始 stdout。
func (p *Printer) Print(v contract.Verification) error {
	ew := &errWriter{w: p.w}
	if v.OK {
		ew.line(p.ok.Render(fmt.Sprintf("✓ %d code blocks from %d documents passed", v.Blocks, v.Units)))
		ew.line(p.head.Render("--- rustc Output ---"))
		ew.text(v.Stdout)
		if warn := p.warnings(v); warn != "" {
			ew.line("")
			ew.line(p.head.Render("--- rustc Warnings ---"))
			ew.text(warn)
		}
	} else {
		ew.line(p.fail.Render(fmt.Sprintf("✗ verification failed (exit %d) | code blocks %d | documents %d", v.ExitCode, v.Blocks, v.Units)))
		ew.line(p.head.Render("--- rustc Errors/Warnings ---"))
		switch {
		case v.First != nil:
			ew.line(p.Render(*v.First))
		case len(v.Diagnostics) == 0:
			// 无结构化诊断（例如测试运行失败）：原样输出 stderr
			ew.text(v.Stderr)
		}
		ew.line(p.head.Render("--- rustc Output ---"))
		ew.text(v.Stdout)
	}
	if v.ArtifactPath != "" {
		digest := v.ArtifactDigest
		if len(digest) > 16 {
			digest = digest[:16]
		}
		ew.line(p.dim.Render(fmt.Sprintf("artifact %s | blake3 %s", v.ArtifactPath, digest)))
	}
	return ew.err
}

// warnings 优先使用解码后的 rendered 文本；没有结构化诊断时退回原始 stderr。
func (p *Printer) warnings(v contract.Verification) string {
	ws := v.Warnings()
	if len(ws) == 0 {
		if len(v.Diagnostics) == 0 {
			return v.Stderr
		}
		return ""
	}
	var b strings.Builder
	for _, d := range ws {
		if d.Rendered != "" {
			b.WriteString(strings.TrimRight(d.Rendered, "\n"))
		} else {
			b.WriteString("warning: " + d.Message)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// errWriter 记住首个写错误，之后的写入为 no-op。
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) line(s string) {
	if e.err != nil {
		return
	}
	_, e.err = io.WriteString(e.w, s+"\n")
}

// text 原样输出，保证以换行结尾；空串不输出。
func (e *errWriter) text(s string) {
	if s == "" {
		return
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	if e.err != nil {
		return
	}
	_, e.err = io.WriteString(e.w, s)
}
