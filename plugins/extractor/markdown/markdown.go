package markdown

import (
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"docrunner/pkg/contract"
)

// Options 为 Markdown 抽取器的可选配置。
type Options struct {
	// Lang: 目标语言标记（info string 首个词，逗号前部分），默认 "rust"。
	Lang string `json:"lang"`
}

// Extractor 基于 goldmark AST 抽取围栏代码块。
type Extractor struct {
	lang string
}

// goldmark 解析器配置固定，可跨调用复用；每次 Parse 自建状态。
var (
	parserOnce sync.Once
	parserInst goldmark.Markdown
)

func getParser() goldmark.Markdown {
	parserOnce.Do(func() { parserInst = goldmark.New() })
	return parserInst
}

// New 创建抽取器。
func New(opts *Options) *Extractor {
	lang := "rust"
	if opts != nil && strings.TrimSpace(opts.Lang) != "" {
		lang = strings.TrimSpace(opts.Lang)
	}
	return &Extractor{lang: lang}
}

var _ contract.Extractor = (*Extractor)(nil)

// Extract 惰性产出代码块：首次迭代时解析，按文档顺序遍历 FencedCodeBlock。
// Lines 取源文本对应整行（保留原缩进），行号由段偏移换算；块尾空行裁掉。
func (e *Extractor) Extract(unit contract.SourceUnit) iter.Seq[contract.Block] {
	return func(yield func(contract.Block) bool) {
		src := []byte(unit.Text)
		doc := getParser().Parser().Parse(text.NewReader(src))
		lines := contract.LinesOf(unit.Text)
		starts := lineStarts(src)
		index := 0
		_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
			if !entering {
				return ast.WalkContinue, nil
			}
			fcb, ok := n.(*ast.FencedCodeBlock)
			if !ok || fcb.Info == nil {
				return ast.WalkContinue, nil
			}
			if infoLang(fcb.Language(src)) != e.lang {
				return ast.WalkSkipChildren, nil
			}
			var body []contract.Line
			segs := fcb.Lines()
			for i := 0; i < segs.Len(); i++ {
				no := lineOf(starts, segs.At(i).Start)
				if no < 1 || no > len(lines) {
					continue
				}
				body = append(body, lines[no-1])
			}
			for len(body) > 0 && contract.IsBlank(body[len(body)-1].Text) {
				body = body[:len(body)-1]
			}
			if len(body) == 0 {
				return ast.WalkSkipChildren, nil
			}
			index++
			b := contract.Block{
				Index: index,
				Lang:  e.lang,
				Fence: lineOf(starts, fcb.Info.Segment.Start),
				Lines: body,
			}
			if !yield(b) {
				return ast.WalkStop, nil
			}
			return ast.WalkSkipChildren, nil
		})
	}
}

// infoLang 取 info string 的语言部分（mdBook 风格 "rust,ignore" → "rust"）。
func infoLang(b []byte) string {
	s := string(b)
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// lineStarts 返回每行首字节偏移（第 i 项对应第 i+1 行）。
func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, c := range src {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineOf 将字节偏移换算为 1 起始行号。
func lineOf(starts []int, off int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > off })
}
