package rst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrunner/pkg/contract"
)

func collect(t *testing.T, e *Extractor, text string) []contract.Block {
	t.Helper()
	var out []contract.Block
	for b := range e.Extract(contract.SourceUnit{ID: "d", Path: "d.rst", Text: text}) {
		out = append(out, b)
	}
	return out
}

func texts(ls []contract.Line) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Text
	}
	return out
}

// 无目标语言围栏 → 空序列
func TestExtractNoFence(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	assert.Empty(t, collect(t, e, "Title\n=====\n\nplain text\n"))
	assert.Empty(t, collect(t, e, ".. code-block:: python\n\n    print(1)\n"))
	assert.Empty(t, collect(t, e, ""))
}

// 基本抽取：保留缩进与块内空行，裁掉块尾空行，记录行号
func TestExtractBasic(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	src := "Intro\n" +
		"\n" +
		".. code-block:: rust\n" +
		"\n" +
		"  fn main() {\n" +
		"\n" +
		"      let x = 1;\n" +
		"  }\n" +
		"\n" +
		"After text\n"
	blocks := collect(t, e, src)
	require.Len(t, blocks, 1)
	b := blocks[0]
	assert.Equal(t, 1, b.Index)
	assert.Equal(t, 3, b.Fence)
	assert.Equal(t, "rust", b.Lang)
	assert.Equal(t, []string{"  fn main() {", "", "      let x = 1;", "  }"}, texts(b.Lines))
	assert.Equal(t, 5, b.Lines[0].No)
	assert.Equal(t, 8, b.Lines[3].No)
}

// 嵌套在其他指令中：按相对缩进判定结束，跳过指令选项
func TestExtractNestedAndOptions(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	src := ".. compliant_example::\n" +
		"   :id: compl_ex_1\n" +
		"\n" +
		"   .. code-block:: rust\n" +
		"      :linenos:\n" +
		"\n" +
		"      let a = 1;\n" +
		"      let b = a;\n" +
		"\n" +
		"   .. non_compliant_example::\n" +
		"      :id: x\n" +
		"\n" +
		"   .. code-block:: rust\n" +
		"\n" +
		"       unsafe {}\n"
	blocks := collect(t, e, src)
	require.Len(t, blocks, 2)
	assert.Equal(t, []string{"      let a = 1;", "      let b = a;"}, texts(blocks[0].Lines))
	assert.Equal(t, []string{"       unsafe {}"}, texts(blocks[1].Lines))
	assert.Equal(t, 2, blocks[1].Index)
}

// 空体围栏不产出块、不占用序号
func TestExtractEmptyBody(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	src := ".. code-block:: rust\n\nnot code\n\n.. code-block:: rust\n\n  ok();\n"
	blocks := collect(t, e, src)
	require.Len(t, blocks, 1)
	assert.Equal(t, 1, blocks[0].Index)
	assert.Equal(t, []string{"  ok();"}, texts(blocks[0].Lines))
}

// CRLF 与自定义语言/指令
func TestExtractOptions(t *testing.T) {
	e, err := New(&Options{Lang: "toml", Directives: []string{"sourcecode"}})
	require.NoError(t, err)
	blocks := collect(t, e, ".. sourcecode:: toml\r\n\r\n  a = 1\r\n.. code-block:: toml\r\n\r\n  b = 2\r\n")
	require.Len(t, blocks, 1)
	assert.Equal(t, []string{"  a = 1"}, texts(blocks[0].Lines))

	_, err = New(&Options{MinIndent: -1})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(&Options{Directives: []string{" "}})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// 序列惰性：提前停止不再产出
func TestExtractEarlyStop(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	src := ".. code-block:: rust\n\n  a();\n\n.. code-block:: rust\n\n  b();\n"
	n := 0
	for range e.Extract(contract.SourceUnit{Text: src}) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestIndentWidth(t *testing.T) {
	assert.Equal(t, 0, indentWidth("x"))
	assert.Equal(t, 4, indentWidth("    x"))
	assert.Equal(t, 8, indentWidth("\tx"))
	assert.Equal(t, 8, indentWidth("  \tx"))
	assert.Equal(t, 3, indentWidth("   "))
}
