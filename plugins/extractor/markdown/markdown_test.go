package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrunner/pkg/contract"
)

func extract(e *Extractor, text string) []contract.Block {
	var out []contract.Block
	for b := range e.Extract(contract.SourceUnit{ID: "d", Path: "d.md", Text: text}) {
		out = append(out, b)
	}
	return out
}

func TestExtractFenced(t *testing.T) {
	e := New(nil)
	src := "# Title\n" +
		"\n" +
		"```rust\n" +
		"fn main() {\n" +
		"\n" +
		"    let x = 1;\n" +
		"}\n" +
		"```\n" +
		"\n" +
		"```python\n" +
		"print(1)\n" +
		"```\n" +
		"\n" +
		"```rust,ignore\n" +
		"loop {}\n" +
		"```\n"
	blocks := extract(e, src)
	require.Len(t, blocks, 2)

	b := blocks[0]
	assert.Equal(t, 1, b.Index)
	assert.Equal(t, 3, b.Fence)
	require.Len(t, b.Lines, 4)
	assert.Equal(t, contract.Line{No: 4, Text: "fn main() {"}, b.Lines[0])
	assert.Equal(t, contract.Line{No: 5, Text: ""}, b.Lines[1])
	assert.Equal(t, contract.Line{No: 6, Text: "    let x = 1;"}, b.Lines[2])

	assert.Equal(t, 2, blocks[1].Index)
	assert.Equal(t, []contract.Line{{No: 15, Text: "loop {}"}}, blocks[1].Lines)
}

func TestExtractNone(t *testing.T) {
	e := New(&Options{Lang: "rust"})
	assert.Empty(t, extract(e, "plain\n\n    indented code\n"))
	assert.Empty(t, extract(e, "```rust\n```\n"))
}

func TestExtractEarlyStop(t *testing.T) {
	e := New(nil)
	n := 0
	for range e.Extract(contract.SourceUnit{Text: "```rust\na\n```\n\n```rust\nb\n```\n"}) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestLineOf(t *testing.T) {
	starts := lineStarts([]byte("ab\ncd\n\nx"))
	assert.Equal(t, []int{0, 3, 6, 7}, starts)
	assert.Equal(t, 1, lineOf(starts, 0))
	assert.Equal(t, 1, lineOf(starts, 2))
	assert.Equal(t, 2, lineOf(starts, 3))
	assert.Equal(t, 4, lineOf(starts, 7))
	assert.Equal(t, "rust", infoLang([]byte("rust,should_panic")))
}
