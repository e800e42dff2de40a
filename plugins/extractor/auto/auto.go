package auto

import (
	"iter"
	"path/filepath"
	"strings"

	"docrunner/pkg/contract"
	"docrunner/plugins/extractor/markdown"
	"docrunner/plugins/extractor/rst"
)

// Options: 两个子抽取器的选项原样透传；Lang 为空时各自使用默认值。
type Options struct {
	Lang      string `json:"lang"`
	MinIndent int    `json:"min_indent"`
	// MarkdownExts: 视为 Markdown 的扩展名（小写，含点），默认 [".md",".markdown"]。
	MarkdownExts []string `json:"markdown_exts"`
}

// Extractor 按 SourceUnit.Path 扩展名分派：Markdown 走 goldmark，其余走 rst。
type Extractor struct {
	rst *rst.Extractor
	md  *markdown.Extractor
	mds map[string]struct{}
}

// New 创建分派抽取器。
func New(opts *Options) (*Extractor, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	r, err := rst.New(&rst.Options{Lang: o.Lang, MinIndent: o.MinIndent})
	if err != nil {
		return nil, err
	}
	exts := o.MarkdownExts
	if len(exts) == 0 {
		exts = []string{".md", ".markdown"}
	}
	mds := make(map[string]struct{}, len(exts))
	for _, x := range exts {
		mds[strings.ToLower(strings.TrimSpace(x))] = struct{}{}
	}
	return &Extractor{rst: r, md: markdown.New(&markdown.Options{Lang: o.Lang}), mds: mds}, nil
}

var _ contract.Extractor = (*Extractor)(nil)

// Extract 实现 contract.Extractor。
func (e *Extractor) Extract(unit contract.SourceUnit) iter.Seq[contract.Block] {
	if _, ok := e.mds[strings.ToLower(filepath.Ext(unit.Path))]; ok {
		return e.md.Extract(unit)
	}
	return e.rst.Extract(unit)
}
