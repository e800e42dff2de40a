package rst

import (
	"fmt"
	"iter"
	"regexp"
	"strings"

	"docrunner/pkg/contract"
)

// Options 为 reStructuredText 抽取器的可选配置。
type Options struct {
	// Lang: 目标语言标记，默认 "rust"。
	Lang string `json:"lang"`
	// MinIndent: 代码行最小缩进列数，默认 2。
	// 实际阈值为 max(MinIndent, 围栏缩进+1)，嵌套在其他指令中的代码块按相对缩进判定。
	MinIndent int `json:"min_indent"`
	// Directives: 视为代码围栏的指令名，默认 ["code-block","code","sourcecode"]。
	Directives []string `json:"directives"`
}

// Extractor 按行扫描 `.. code-block:: <lang>` 指令。
type Extractor struct {
	lang      string
	minIndent int
	fence     *regexp.Regexp
}

var optionLine = regexp.MustCompile(`^:[A-Za-z0-9_-]+:`)

// New 创建抽取器。
func New(opts *Options) (*Extractor, error) {
	lang := "rust"
	minIndent := 2
	dirs := []string{"code-block", "code", "sourcecode"}
	if opts != nil {
		if l := strings.TrimSpace(opts.Lang); l != "" {
			lang = l
		}
		if opts.MinIndent < 0 {
			return nil, fmt.Errorf("rst: min_indent %d: %w", opts.MinIndent, contract.ErrInvalidInput)
		}
		if opts.MinIndent > 0 {
			minIndent = opts.MinIndent
		}
		if len(opts.Directives) > 0 {
			dirs = dirs[:0]
			for _, d := range opts.Directives {
				if d = strings.TrimSpace(d); d != "" {
					dirs = append(dirs, regexp.QuoteMeta(d))
				}
			}
			if len(dirs) == 0 {
				return nil, fmt.Errorf("rst: directives empty: %w", contract.ErrInvalidInput)
			}
		}
	}
	re := regexp.MustCompile(`^([ \t]*)\.\.[ \t]+(?:` + strings.Join(dirs, "|") + `)::[ \t]*(\S*)[ \t]*$`)
	return &Extractor{lang: lang, minIndent: minIndent, fence: re}, nil
}

var _ contract.Extractor = (*Extractor)(nil)

// Extract 惰性产出代码块。
// 匹配规则：围栏行 → 可选指令选项行 → 可选空行 → 连续的“空行或缩进达标行”；
// 遇到首个缩进不达标的非空行即结束；块尾空行裁掉，块内空行保留。
func (e *Extractor) Extract(unit contract.SourceUnit) iter.Seq[contract.Block] {
	return func(yield func(contract.Block) bool) {
		lines := contract.LinesOf(unit.Text)
		index := 0
		for i := 0; i < len(lines); i++ {
			m := e.fence.FindStringSubmatch(lines[i].Text)
			if m == nil || m[2] != e.lang {
				continue
			}
			need := indentWidth(m[1]) + 1
			if need < e.minIndent {
				need = e.minIndent
			}
			j := i + 1
			for j < len(lines) && isOption(lines[j].Text, need) {
				j++
			}
			for j < len(lines) && contract.IsBlank(lines[j].Text) {
				j++
			}
			var body []contract.Line
			for ; j < len(lines); j++ {
				l := lines[j]
				if !contract.IsBlank(l.Text) && indentWidth(l.Text) < need {
					break
				}
				body = append(body, l)
			}
			for len(body) > 0 && contract.IsBlank(body[len(body)-1].Text) {
				body = body[:len(body)-1]
			}
			fence := lines[i].No
			i = j - 1
			if len(body) == 0 {
				continue
			}
			index++
			if !yield(contract.Block{Index: index, Lang: e.lang, Fence: fence, Lines: body}) {
				return
			}
		}
	}
}

func isOption(s string, need int) bool {
	if contract.IsBlank(s) || indentWidth(s) < need {
		return false
	}
	return optionLine.MatchString(strings.TrimLeft(s, " \t"))
}

// indentWidth 计算前导空白列宽（制表符按 8 列制表位展开，与 docutils 一致）。
func indentWidth(s string) int {
	w := 0
	for _, r := range s {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 8 - w%8
		default:
			return w
		}
	}
	return w
}
