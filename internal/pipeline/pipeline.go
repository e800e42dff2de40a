package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"docrunner/internal/diag"
	"docrunner/internal/report"
	"docrunner/pkg/contract"
)

// - 两阶段：BeginPass 重置工件进入 COLLECTING；ProcessUnit 逐文档抽取/过滤/合成/追加；
//   EndPass 恰好一次进入 VERIFYING，调用外部编译器并解析诊断。
// - 编译失败（非 0 退出）写入结果而非返回错误；仅工件 I/O 与编译器启动失败中止本轮。
// - 工件 Append 自身串行化，ProcessUnit 可被并发调用。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader    contract.Reader
	Extractor contract.Extractor
	Filter    contract.Filter
	Synth     contract.Synthesizer
	Artifact  contract.Artifact
	Compiler  contract.Compiler
	Decoder   contract.DiagnosticDecoder
	Writer    contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// Inputs: 文档根（文件/目录/"-"）；仅 Run 使用。
	Inputs []string
	// SnippetContext: 错误行上下文行数；<=0 使用 report.DefaultContext。
	SnippetContext int
	// CompilerName: 终端提示中显示的编译器名称。
	CompilerName string
	// VisibleOnly: 仅编译可见行；默认隐藏行同样参与编译。
	VisibleOnly bool
}

type state int

const (
	idle state = iota
	collecting
	verifying
)

func (s state) String() string {
	switch s {
	case collecting:
		return "collecting"
	case verifying:
		return "verifying"
	default:
		return "idle"
	}
}

// Driver 为两阶段 API 的实现。零值不可用，使用 NewDriver。
type Driver struct {
	comp   Components
	set    Settings
	logger *diag.Logger

	// st 的读锁覆盖整个 ProcessUnit，EndPass 的写锁因此等待在途文档完成
	stMu sync.RWMutex
	st   state

	mu      sync.Mutex
	blocks  int
	units   int
	origins []contract.Origin // 工件第 i+1 行的来源
	docs    map[contract.DocID]struct{}
	names   map[string]struct{} // 本轮已追加的测试函数名
}

// NewDriver 创建驱动器（初始为 idle）。
func NewDriver(comp Components, set Settings, logger *diag.Logger) *Driver {
	if set.SnippetContext <= 0 {
		set.SnippetContext = report.DefaultContext
	}
	return &Driver{comp: comp, set: set, logger: logger}
}

// BeginPass 重置工件并进入 COLLECTING。COLLECTING 中重复调用返回 ErrPassState。
// 上一轮 EndPass 之后可再次开始新一轮。
func (d *Driver) BeginPass(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.stMu.Lock()
	defer d.stMu.Unlock()
	if d.st == collecting {
		return fmt.Errorf("begin pass: %w: already collecting", contract.ErrPassState)
	}
	timer := d.logger.StartWith("artifact", "reset", "", 0)
	if err := d.comp.Artifact.Reset(); err != nil {
		d.fail("artifact", "reset failed", err, nil, "", 0)
		return fmt.Errorf("artifact reset: %w", err)
	}
	timer.Finish("reset", 0)
	diag.IncOp("artifact", "reset", "success")

	d.mu.Lock()
	d.blocks, d.units, d.origins = 0, 0, d.origins[:0]
	d.docs = make(map[contract.DocID]struct{})
	d.names = make(map[string]struct{})
	d.mu.Unlock()
	d.st = collecting
	return nil
}

// ProcessUnit 对单个文档执行 Extractor → Filter → Synthesizer → Artifact.Append，
// 并把 unit.Text 改写为去除隐藏行与标记行后的文本（同时返回）。
// 仅在 COLLECTING 中有效；工件追加失败为致命错误。
// 同一轮内 DocID 或合成的函数名重复时返回 ErrInvariantViolation。
func (d *Driver) ProcessUnit(ctx context.Context, unit *contract.SourceUnit) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if unit == nil {
		return "", fmt.Errorf("process unit: %w: nil unit", contract.ErrInvalidInput)
	}
	d.stMu.RLock()
	defer d.stMu.RUnlock()
	if d.st != collecting {
		return "", fmt.Errorf("process unit: %w: state %s", contract.ErrPassState, d.st)
	}

	doc := string(unit.ID)
	timer := d.logger.StartWith("driver", "process unit", doc, 0)
	if !claim(&d.mu, d.docs, unit.ID) {
		err := fmt.Errorf("process unit %s: %w: duplicate document id", doc, contract.ErrInvariantViolation)
		d.fail("driver", "duplicate document", err, timer.Since(), doc, 0)
		return "", err
	}
	blocks, hidden, entries := 0, 0, 0
	text, err := Expand(ctx, d.stages(), *unit, func(b contract.Block, f contract.Filtered, e contract.Entry) error {
		blocks++
		hidden += len(f.Hidden)
		d.logger.DebugStart("filter", "split", doc, b.Index, map[string]string{
			"fence":   strconv.Itoa(b.Fence),
			"visible": strconv.Itoa(len(f.Visible)),
			"hidden":  strconv.Itoa(len(f.Hidden)),
			"markers": strconv.Itoa(len(f.Markers)),
		})
		if !claim(&d.mu, d.names, e.Name) {
			err := fmt.Errorf("process unit %s#%d: %w: duplicate test name %s", doc, b.Index, contract.ErrInvariantViolation, e.Name)
			d.fail("driver", "duplicate test name", err, timer.Since(), doc, b.Index)
			return err
		}
		start, err := d.comp.Artifact.Append(e)
		if err != nil {
			d.fail("artifact", "append failed", err, timer.Since(), doc, b.Index)
			return fmt.Errorf("artifact append %s#%d: %w", doc, b.Index, err)
		}
		entries++
		d.record(start, e.Origins)
		return nil
	})
	if err != nil {
		return "", err
	}
	unit.Text = text

	d.mu.Lock()
	d.blocks += blocks
	d.units++
	d.mu.Unlock()

	timer.Finish("process unit", int64(blocks))
	diag.IncOp("driver", "process_unit", "success")
	diag.AddBlocks("extracted", blocks)
	diag.AddBlocks("hidden_lines", hidden)
	diag.AddBlocks("entries", entries)
	if t := diag.GetTerminal(); t != nil {
		t.DocDone(doc, blocks)
	}
	return unit.Text, nil
}

func (d *Driver) stages() Stages {
	return Stages{Extractor: d.comp.Extractor, Filter: d.comp.Filter, Synth: d.comp.Synth, VisibleOnly: d.set.VisibleOnly}
}

// Stages 为单文档变换所需的纯计算组件。
type Stages struct {
	Extractor   contract.Extractor
	Filter      contract.Filter
	Synth       contract.Synthesizer
	VisibleOnly bool
}

// Expand 对单个文档执行 Extractor → Filter → Synthesizer，每个块回调一次 emit，
// 返回去除隐藏行与标记行后的文本。emit 返回错误时立即中止。
// 不做 I/O，不修改 unit。
func Expand(ctx context.Context, st Stages, unit contract.SourceUnit, emit func(b contract.Block, f contract.Filtered, e contract.Entry) error) (string, error) {
	drop := make(map[int]struct{})
	for b := range st.Extractor.Extract(unit) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		f := st.Filter.Split(b)
		for _, ln := range f.Hidden {
			drop[ln.No] = struct{}{}
		}
		for _, ln := range f.Markers {
			drop[ln.No] = struct{}{}
		}
		lines := f.Code()
		if st.VisibleOnly {
			lines = f.Visible
		}
		if err := emit(b, f, st.Synth.Synthesize(unit.ID, b.Index, lines)); err != nil {
			return "", err
		}
	}
	return contract.DropLines(unit.Text, drop), nil
}

// claim 在 set 中登记 k（持 d.mu）；本轮已登记过时返回 false。
func claim[K comparable](mu *sync.Mutex, set map[K]struct{}, k K) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := set[k]; dup {
		return false
	}
	set[k] = struct{}{}
	return true
}

// record 登记条目各行的来源；条目在工件中可能乱序（并发追加），按行号落位。
func (d *Driver) record(start int, origins []contract.Origin) {
	if start <= 0 || len(origins) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	end := start - 1 + len(origins)
	if end > len(d.origins) {
		d.origins = append(d.origins, make([]contract.Origin, end-len(d.origins))...)
	}
	copy(d.origins[start-1:end], origins)
}

// OriginOf 返回工件第 line 行对应的文档位置；生成行或越界时为零值。
func (d *Driver) OriginOf(line int) contract.Origin {
	d.mu.Lock()
	defer d.mu.Unlock()
	if line <= 0 || line > len(d.origins) {
		return contract.Origin{}
	}
	return d.origins[line-1]
}

// EndPass 进入 VERIFYING（每轮恰好一次），调用编译器并解析诊断。
// 非 0 退出体现在 Verification.OK=false；仅工件摘要（刷新）失败与编译器启动失败返回错误。
func (d *Driver) EndPass(ctx context.Context) (contract.Verification, error) {
	d.stMu.Lock()
	if d.st != collecting {
		st := d.st
		d.stMu.Unlock()
		return contract.Verification{}, fmt.Errorf("end pass: %w: state %s", contract.ErrPassState, st)
	}
	d.st = verifying
	d.stMu.Unlock()

	path := d.comp.Artifact.Path()
	d.mu.Lock()
	v := contract.Verification{Blocks: d.blocks, Units: d.units, ArtifactPath: path}
	d.mu.Unlock()

	digest, err := d.comp.Artifact.Digest()
	if err != nil {
		d.fail("artifact", "digest failed", err, nil, "", 0)
		return contract.Verification{}, fmt.Errorf("artifact digest: %w: %w", contract.ErrArtifactWrite, err)
	}
	v.ArtifactDigest = digest

	if t := diag.GetTerminal(); t != nil {
		t.VerifyStart(path)
	}
	timer := d.logger.StartWithKV("compiler", "compile", "", 0, map[string]string{"artifact": path, "digest": digest})
	began := time.Now()
	res, err := d.comp.Compiler.Compile(ctx, path)
	if err != nil {
		d.fail("compiler", "compile failed", err, timer.Since(), "", 0)
		return contract.Verification{}, fmt.Errorf("compiler compile: %w", err)
	}
	diag.ObserveDuration("compiler", "compile", time.Since(began).Milliseconds())

	v.OK = res.OK()
	v.ExitCode = res.ExitCode
	v.Stdout = res.Stdout
	v.Stderr = res.Stderr
	v.Diagnostics = d.comp.Decoder.Decode(res.Diagnostics)

	if !v.OK {
		if f, ok := report.First(v.Diagnostics, path); ok {
			d.locate(&f, path)
			v.First = &f
		}
		d.logger.ErrorWithKV("compiler", "verify", "verification failed", timer.Since(), "", 0, map[string]string{
			"exit_code": strconv.Itoa(v.ExitCode),
		})
		diag.IncOp("compiler", "compile", "error")
		return v, nil
	}
	timer.Finish("compile", int64(v.Blocks))
	diag.IncOp("compiler", "compile", "success")
	return v, nil
}

// locate 为带区间的 Finding 补齐片段与文档来源；片段读取失败仅告警。
func (d *Driver) locate(f *contract.Finding, path string) {
	if f.Span == nil {
		return
	}
	f.Origin = d.OriginOf(f.Span.LineStart)
	snip, err := report.Snippet(path, f.Span.LineStart, d.set.SnippetContext)
	if err != nil {
		d.logger.Warn("report", string(diag.Classify(err)), "snippet unavailable", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return
	}
	f.Snippet = snip
}

// Close 释放工件句柄。
func (d *Driver) Close() error { return d.comp.Artifact.Close() }

// fail 统一错误日志与指标。
func (d *Driver) fail(comp, msg string, err error, since *time.Time, doc string, block int) {
	code := diag.Classify(err)
	d.logger.ErrorWithKV(comp, string(code), msg, since, doc, block, map[string]string{"error": err.Error()})
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// Run 执行完整一轮：Reader 枚举文档 → ProcessUnit → Writer 写出过滤后文档 → EndPass。
// 文档写出先于编译；编译失败不影响已写出的文档。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (contract.Verification, error) {
	if err := sanity(comp); err != nil {
		return contract.Verification{}, fmt.Errorf("sanity: %w", err)
	}
	runStart := time.Now()
	if t := diag.GetTerminal(); t != nil {
		t.RunStart(set.CompilerName, len(set.Inputs))
	}
	ok := false
	defer func() {
		if t := diag.GetTerminal(); t != nil {
			t.RunFinish(ok, time.Since(runStart))
		}
	}()

	d := NewDriver(comp, set, logger)
	defer d.Close()
	if err := d.BeginPass(ctx); err != nil {
		return contract.Verification{}, err
	}

	rtimer := logger.Start("reader", "iterate")
	err := comp.Reader.Iterate(ctx, set.Inputs, func(doc contract.DocRef, rc io.ReadCloser) error {
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read %s: %w", doc.Path, err)
		}
		unit := contract.SourceUnit{ID: doc.ID, Path: doc.Path, Text: string(b)}
		text, err := d.ProcessUnit(ctx, &unit)
		if err != nil {
			return err
		}
		wtimer := logger.StartWith("writer", "write", string(doc.ID), 0)
		if err := comp.Writer.Write(ctx, contract.OutputID(doc.Path), strings.NewReader(text)); err != nil {
			d.fail("writer", "write failed", err, wtimer.Since(), string(doc.ID), 0)
			return fmt.Errorf("writer write: %w", err)
		}
		wtimer.Finish("write", int64(len(text)))
		diag.IncOp("writer", "finish", "success")
		return nil
	})
	if err != nil {
		if !errors.Is(err, contract.ErrArtifactWrite) && !errors.Is(err, contract.ErrPassState) &&
			!errors.Is(err, contract.ErrInvariantViolation) {
			d.fail("reader", "iterate failed", err, rtimer.Since(), "", 0)
		}
		return contract.Verification{}, fmt.Errorf("reader iterate: %w", err)
	}
	rtimer.Finish("iterate", 0)
	diag.IncOp("reader", "finish", "success")

	v, err := d.EndPass(ctx)
	if err != nil {
		return contract.Verification{}, err
	}
	ok = v.OK
	logger.InfoFinish("driver", "run", runStart, int64(v.Blocks))
	return v, nil
}

func sanity(c Components) error {
	if c.Reader == nil || c.Extractor == nil || c.Filter == nil || c.Synth == nil ||
		c.Artifact == nil || c.Compiler == nil || c.Decoder == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	return nil
}
