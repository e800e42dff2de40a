package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrunner/internal/diag"
	"docrunner/pkg/contract"
	fsartifact "docrunner/plugins/artifact/filesystem"
	cmock "docrunner/plugins/compiler/mock"
	"docrunner/plugins/decoder/rustcjson"
	"docrunner/plugins/extractor/rst"
	"docrunner/plugins/filter/marker"
	fsreader "docrunner/plugins/reader/filesystem"
	"docrunner/plugins/synth/rusttest"
)

// 通用桩件 ----------------------------------------------------

type memWriter struct {
	mu  sync.Mutex
	out map[contract.OutputID]string
}

func (w *memWriter) Write(ctx context.Context, id contract.OutputID, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		w.out = map[contract.OutputID]string{}
	}
	w.out[id] = string(b)
	return nil
}

type brokenArtifact struct{ contract.Artifact }

func (brokenArtifact) Reset() error { return nil }
func (brokenArtifact) Append(contract.Entry) (int, error) {
	return 0, fmt.Errorf("append: %w: disk full", contract.ErrArtifactWrite)
}
func (brokenArtifact) Close() error { return nil }

// components 以真实插件组装；compiler 为 mock 的原样 JSON 选项。
func components(t testing.TB, compiler string) Components {
	t.Helper()
	ext, err := rst.New(nil)
	require.NoError(t, err)
	flt, err := marker.New(nil)
	require.NoError(t, err)
	syn, err := rusttest.New(nil)
	require.NoError(t, err)
	art, err := fsartifact.New(&fsartifact.Options{Path: filepath.Join(t.TempDir(), "build", "generated.rs")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = art.Close() })
	cc, err := cmock.New(json.RawMessage(compiler))
	require.NoError(t, err)
	dec, err := rustcjson.New(nil)
	require.NoError(t, err)
	return Components{
		Reader:    fsreader.New(nil),
		Extractor: ext,
		Filter:    flt,
		Synth:     syn,
		Artifact:  art,
		Compiler:  cc,
		Decoder:   dec,
		Writer:    &memWriter{},
	}
}

func readArtifact(t *testing.T, comp Components) string {
	t.Helper()
	b, err := os.ReadFile(comp.Artifact.Path())
	require.NoError(t, err)
	return string(b)
}

const guide = "Title\n" + // 1
	"=====\n" + // 2
	"\n" + // 3
	".. code-block:: rust\n" + // 4
	"\n" + // 5
	"  // HIDDEN START\n" + // 6
	"  fn helper() -> i32 { 1 }\n" + // 7
	"  // HIDDEN END\n" + // 8
	"  let x = helper();\n" + // 9
	"\n" + // 10
	"Middle\n" + // 11
	"\n" + // 12
	".. code-block:: rust\n" + // 13
	"\n" + // 14
	"  let a = 1;\n" + // 15
	"  let b = 2;\n" + // 16
	"  compile_error!(\"boom\");\n" + // 17
	"  let c = 3;\n" + // 18
	"\n" + // 19
	"End\n"

// 无文档：空工件且编译通过
func TestEmptyPass(t *testing.T) {
	comp := components(t, `{}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))
	v, err := d.EndPass(ctx)
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.Nil(t, v.First)
	assert.Zero(t, v.Blocks)
	assert.Empty(t, readArtifact(t, comp))
}

// 无标记文档：改写后的文本逐字节不变
func TestRoundTripWithoutMarkers(t *testing.T) {
	comp := components(t, `{}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))

	src := "A\r\n\r\n.. code-block:: rust\r\n\r\n  fn main() {}\r\n\r\ntail without newline"
	unit := contract.SourceUnit{ID: "a", Path: "a.rst", Text: src}
	text, err := d.ProcessUnit(ctx, &unit)
	require.NoError(t, err)
	assert.Equal(t, src, text)
	assert.Equal(t, src, unit.Text)

	v, err := d.EndPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Blocks)
	assert.Contains(t, readArtifact(t, comp), "    fn main() {}\n")
}

// 隐藏行从文档中删除但参与编译；标记行两边都不出现
func TestHiddenLines(t *testing.T) {
	comp := components(t, `{}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))

	unit := contract.SourceUnit{ID: "guide", Path: "guide.rst", Text: guide}
	text, err := d.ProcessUnit(ctx, &unit)
	require.NoError(t, err)
	assert.NotContains(t, text, "HIDDEN")
	assert.NotContains(t, text, "helper() -> i32")
	assert.Contains(t, text, "  let x = helper();\n")
	assert.Equal(t, strings.Count(guide, "\n")-3, strings.Count(text, "\n"))

	_, err = d.EndPass(ctx)
	require.NoError(t, err)
	art := readArtifact(t, comp)
	assert.NotContains(t, art, "HIDDEN")
	assert.Contains(t, art, "fn test_block_guide_1() {\n    fn helper() -> i32 { 1 }\n    let x = helper();\n}\n")
	assert.Equal(t, contract.Origin{Doc: "guide", Line: 7}, d.OriginOf(4))
	assert.Equal(t, contract.Origin{Doc: "guide", Line: 9}, d.OriginOf(5))
	assert.True(t, d.OriginOf(1).IsZero())
	assert.True(t, d.OriginOf(10_000).IsZero())
}

// visible_only：隐藏行不进入工件
func TestVisibleOnly(t *testing.T) {
	comp := components(t, `{}`)
	d := NewDriver(comp, Settings{VisibleOnly: true}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))
	unit := contract.SourceUnit{ID: "guide", Path: "guide.rst", Text: guide}
	_, err := d.ProcessUnit(ctx, &unit)
	require.NoError(t, err)
	_, err = d.EndPass(ctx)
	require.NoError(t, err)
	assert.NotContains(t, readArtifact(t, comp), "helper() -> i32")
}

// 同一语料两轮：工件逐字节一致
func TestIdempotentArtifact(t *testing.T) {
	comp := components(t, `{}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()

	pass := func() (string, string) {
		require.NoError(t, d.BeginPass(ctx))
		for _, id := range []contract.DocID{"guide", "intro/guide"} {
			unit := contract.SourceUnit{ID: id, Path: string(id) + ".rst", Text: guide}
			_, err := d.ProcessUnit(ctx, &unit)
			require.NoError(t, err)
		}
		v, err := d.EndPass(ctx)
		require.NoError(t, err)
		return readArtifact(t, comp), v.ArtifactDigest
	}
	a1, d1 := pass()
	a2, d2 := pass()
	assert.Equal(t, a1, a2)
	assert.Equal(t, d1, d2)
	assert.Equal(t, 4, strings.Count(a1, "#[test]"))
}

// 退出 0：成功且不渲染片段
func TestSuccessHasNoFinding(t *testing.T) {
	comp := components(t, `{"stdout":"test result: ok. 2 passed"}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))
	unit := contract.SourceUnit{ID: "guide", Path: "guide.rst", Text: guide}
	_, err := d.ProcessUnit(ctx, &unit)
	require.NoError(t, err)
	v, err := d.EndPass(ctx)
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.Nil(t, v.First)
	assert.Equal(t, "test result: ok. 2 passed", v.Stdout)
	assert.Equal(t, 2, v.Blocks)
	assert.Equal(t, 1, v.Units)
}

// 编译失败：首个错误定位到工件行、片段为 ±3 行、来源映射回文档行
func TestFailureLocatesFirstError(t *testing.T) {
	comp := components(t, `{"response_mode":"scan_error"}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))
	unit := contract.SourceUnit{ID: "guide", Path: "guide.rst", Text: guide}
	_, err := d.ProcessUnit(ctx, &unit)
	require.NoError(t, err)

	v, err := d.EndPass(ctx)
	require.NoError(t, err)
	assert.False(t, v.OK)
	assert.Equal(t, 1, v.ExitCode)
	require.NotNil(t, v.First)
	require.NotNil(t, v.First.Span)
	// 条目 1 占 1..7；条目 2 自第 8 行开始，错误行为其第 6 行
	assert.Equal(t, 13, v.First.Span.LineStart)
	require.Len(t, v.First.Snippet, 7)
	assert.Equal(t, 10, v.First.Snippet[0].No)
	assert.Equal(t, 16, v.First.Snippet[6].No)
	assert.True(t, v.First.Snippet[3].Mark)
	assert.Contains(t, v.First.Snippet[3].Text, "compile_error!")
	assert.Equal(t, contract.Origin{Doc: "guide", Line: 17}, v.First.Origin)
}

// 非法状态转换均返回 ErrPassState；EndPass 之后可开始新一轮
func TestPassStates(t *testing.T) {
	comp := components(t, `{}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	unit := contract.SourceUnit{ID: "a", Text: "x"}

	_, err := d.ProcessUnit(ctx, &unit)
	assert.ErrorIs(t, err, contract.ErrPassState)
	_, err = d.EndPass(ctx)
	assert.ErrorIs(t, err, contract.ErrPassState)

	require.NoError(t, d.BeginPass(ctx))
	assert.ErrorIs(t, d.BeginPass(ctx), contract.ErrPassState)
	_, err = d.ProcessUnit(ctx, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	_, err = d.EndPass(ctx)
	require.NoError(t, err)
	_, err = d.EndPass(ctx)
	assert.ErrorIs(t, err, contract.ErrPassState)
	_, err = d.ProcessUnit(ctx, &unit)
	assert.ErrorIs(t, err, contract.ErrPassState)

	require.NoError(t, d.BeginPass(ctx))
}

// 工件追加失败为致命错误
func TestArtifactFailureIsFatal(t *testing.T) {
	comp := components(t, `{}`)
	comp.Artifact = brokenArtifact{}
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))
	unit := contract.SourceUnit{ID: "guide", Text: guide}
	_, err := d.ProcessUnit(ctx, &unit)
	assert.ErrorIs(t, err, contract.ErrArtifactWrite)
	assert.Equal(t, guide, unit.Text)
}

// 编译器无法启动：错误上抛
func TestCompilerLaunchFailure(t *testing.T) {
	comp := components(t, `{"response_mode":"explode"}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))
	_, err := d.EndPass(ctx)
	assert.ErrorIs(t, err, contract.ErrCompilerLaunch)
}

// 并发 ProcessUnit：条目不交错，来源按行落位
func TestConcurrentUnits(t *testing.T) {
	comp := components(t, `{}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unit := contract.SourceUnit{ID: contract.DocID(fmt.Sprintf("doc%d", i)), Text: guide}
			_, err := d.ProcessUnit(ctx, &unit)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	v, err := d.EndPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, v.Blocks)

	for no, ln := range contract.LinesOf(readArtifact(t, comp)) {
		if strings.HasPrefix(ln.Text, "    let x = helper();") {
			o := d.OriginOf(no + 1)
			assert.Equal(t, 9, o.Line)
			assert.True(t, strings.HasPrefix(string(o.Doc), "doc"))
		}
	}
}

// 取消的 ctx 直接返回
func TestCanceled(t *testing.T) {
	comp := components(t, `{}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.BeginPass(ctx), context.Canceled)
}

// Run：Reader 枚举 → 改写后的文档写出 → 编译
func TestRunEndToEnd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "intro"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "intro", "guide.rst"), []byte(guide), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "plain.md"), []byte("# plain\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.txt"), []byte("x"), 0o644))

	comp := components(t, `{"response_mode":"scan_error"}`)
	w := comp.Writer.(*memWriter)
	var logs strings.Builder
	logger := diag.NewLoggerTo(&logs, "corr", "debug")

	v, err := Run(context.Background(), comp, Settings{Inputs: []string{root}, CompilerName: "mock"}, logger)
	require.NoError(t, err)
	assert.False(t, v.OK)
	assert.Equal(t, 2, v.Units)
	require.NotNil(t, v.First)
	assert.Equal(t, contract.Origin{Doc: "intro/guide.rst", Line: 17}, v.First.Origin)

	require.Len(t, w.out, 2)
	assert.NotContains(t, w.out["intro/guide.rst"], "HIDDEN")
	assert.Equal(t, "# plain\n", w.out["plain.md"])
	assert.Contains(t, logs.String(), `"corr_id":"corr"`)
}

// testNames 返回工件中的测试函数名（按出现顺序）。
func testNames(art string) []string {
	var names []string
	for _, ln := range contract.LinesOf(art) {
		if rest, ok := strings.CutPrefix(ln.Text, "fn "); ok && strings.HasPrefix(rest, "test_block_") {
			name, _, _ := strings.Cut(rest, "(")
			names = append(names, name)
		}
	}
	return names
}

// 多个 root 中的同名文档、同名不同扩展名的文档：函数名互不相同，写出互不覆盖
func TestRunSameNameDocuments(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "bookA"), filepath.Join(dir, "bookB")
	for _, p := range []string{
		filepath.Join(a, "index.rst"),
		filepath.Join(b, "index.rst"),
		filepath.Join(a, "x.rst"),
		filepath.Join(a, "x.md"),
	} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(guide), 0o644))
	}

	comp := components(t, `{}`)
	w := comp.Writer.(*memWriter)
	v, err := Run(context.Background(), comp, Settings{Inputs: []string{a, b}, CompilerName: "mock"}, nil)
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.Equal(t, 4, v.Units)
	assert.Equal(t, 8, v.Blocks)

	assert.ElementsMatch(t,
		[]contract.OutputID{"bookA/index.rst", "bookB/index.rst", "bookA/x.rst", "bookA/x.md"},
		func() []contract.OutputID {
			var ids []contract.OutputID
			for id := range w.out {
				ids = append(ids, id)
			}
			return ids
		}())

	names := testNames(readArtifact(t, comp))
	require.Len(t, names, 8)
	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], "duplicate test name %s", n)
		seen[n] = true
	}
	for _, n := range []string{"test_block_bookA_index_rst_1", "test_block_bookB_index_rst_1", "test_block_bookA_x_rst_2", "test_block_bookA_x_md_2"} {
		assert.True(t, seen[n], "missing %s in %v", n, names)
	}
}

// 同一轮内 DocID 重复或清洗后函数名冲突：ErrInvariantViolation，文档不被改写
func TestDuplicateGuard(t *testing.T) {
	comp := components(t, `{}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))

	first := contract.SourceUnit{ID: "a-b.rst", Path: "a-b.rst", Text: guide}
	_, err := d.ProcessUnit(ctx, &first)
	require.NoError(t, err)

	again := contract.SourceUnit{ID: "a-b.rst", Path: "a-b.rst", Text: guide}
	_, err = d.ProcessUnit(ctx, &again)
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
	assert.Equal(t, guide, again.Text)

	// a-b 与 a_b 清洗后同为 a_b
	clash := contract.SourceUnit{ID: "a_b.rst", Path: "a_b.rst", Text: guide}
	_, err = d.ProcessUnit(ctx, &clash)
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
	assert.Equal(t, guide, clash.Text)

	v, err := d.EndPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Units)
	assert.Equal(t, 2, v.Blocks)
	assert.Len(t, testNames(readArtifact(t, comp)), 2)

	// 新一轮重新计数
	require.NoError(t, d.BeginPass(ctx))
	_, err = d.ProcessUnit(ctx, &again)
	require.NoError(t, err)
}

// Run 中的重复：整轮失败且不再写出
func TestRunDuplicateFails(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a-b.rst", "a_b.rst"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(guide), 0o644))
	}
	comp := components(t, `{}`)
	_, err := Run(context.Background(), comp, Settings{Inputs: []string{dir}}, nil)
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
	assert.Len(t, comp.Writer.(*memWriter).out, 1)
}

// 每次追加的条目计入 docrunner_blocks_total{kind="entries"}
func TestEntriesMetric(t *testing.T) {
	diag.ResetMetrics()
	comp := components(t, `{}`)
	d := NewDriver(comp, Settings{}, nil)
	ctx := context.Background()
	require.NoError(t, d.BeginPass(ctx))
	unit := contract.SourceUnit{ID: "guide.rst", Path: "guide.rst", Text: guide}
	_, err := d.ProcessUnit(ctx, &unit)
	require.NoError(t, err)
	_, err = d.EndPass(ctx)
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "m.prom")
	require.NoError(t, diag.WriteMetrics(p))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `docrunner_blocks_total{kind="entries"} 2`)
	assert.Contains(t, string(b), `docrunner_blocks_total{kind="extracted"} 2`)
	assert.Contains(t, string(b), `docrunner_blocks_total{kind="hidden_lines"} 1`)
}

func TestRunMissingComponents(t *testing.T) {
	_, err := Run(context.Background(), Components{}, Settings{}, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, contract.ErrPassState))
}

// Expand 不做 I/O：逐块回调，返回过滤后的文本；emit 出错即中止
func TestExpand(t *testing.T) {
	comp := components(t, `{}`)
	st := Stages{Extractor: comp.Extractor, Filter: comp.Filter, Synth: comp.Synth}
	unit := contract.SourceUnit{ID: "guide", Path: "guide.rst", Text: guide}

	var hidden, blocks int
	var entries []string
	text, err := Expand(context.Background(), st, unit, func(b contract.Block, f contract.Filtered, e contract.Entry) error {
		blocks++
		hidden += len(f.Hidden)
		entries = append(entries, e.Text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, blocks)
	assert.Equal(t, 1, hidden)
	assert.Contains(t, entries[0], "fn helper() -> i32")
	assert.NotContains(t, text, "HIDDEN")
	assert.NotContains(t, text, "fn helper")
	assert.Equal(t, strings.Count(guide, "\n")-3, strings.Count(text, "\n"))

	st.VisibleOnly = true
	entries = entries[:0]
	_, err = Expand(context.Background(), st, unit, func(_ contract.Block, _ contract.Filtered, e contract.Entry) error {
		entries = append(entries, e.Text)
		return nil
	})
	require.NoError(t, err)
	assert.NotContains(t, entries[0], "fn helper")

	stop := errors.New("stop")
	calls := 0
	_, err = Expand(context.Background(), st, unit, func(contract.Block, contract.Filtered, contract.Entry) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
