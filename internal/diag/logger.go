package diag

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger 为结构化日志器：单行 JSON（zerolog）写入按大小轮转的日志文件。
// 事件字段：comp/stage/code/dur_ms/count/doc_id/block/msg/kv。
type Logger struct {
	corrID string
	zl     zerolog.Logger
	sink   io.Closer
}

// NewCorrID 生成一次运行的关联 ID（随机 UUID）。
func NewCorrID() string { return uuid.NewString() }

// NewLogger 通过配置的 level 初始化，日志写入 logs/，10MiB 轮转。
// corrID 为空时自动生成。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile("logs", 10*1024*1024)
	l := NewLoggerTo(sink, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写入任意 io.Writer（测试或嵌入使用）；w 为 nil 时写 stderr。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	if corrID == "" {
		corrID = NewCorrID()
	}
	// ts 由 hook 在写出时填充
	zl := zerolog.New(w).Level(ParseLevel(level)).Hook(tsHook{}).With().Str("corr_id", corrID).Logger()
	return &Logger{corrID: corrID, zl: zl}
}

type tsHook struct{}

func (tsHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) { e.Str("ts", NowUTC()) }

// ParseLevel 解析 debug|info|warn|error，未知值回退 info。
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel 报告 s 是否为 ParseLevel 认识的等级。
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// CorrID 返回本次运行的关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Close 关闭底层日志文件（若有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Event 为标准事件结构。
type Event struct {
	Comp  string
	Stage string // start|finish|error|warn
	Code  string
	DurMS int64
	Count int64
	DocID string
	Block int
	Msg   string
	KV    map[string]string
}

func (l *Logger) log(lv zerolog.Level, ev Event) {
	if l == nil {
		return
	}
	e := l.zl.WithLevel(lv)
	if e == nil {
		return
	}
	e = e.Str("comp", ev.Comp).Str("stage", ev.Stage)
	if ev.Code != "" {
		e = e.Str("code", ev.Code)
	}
	if ev.DurMS != 0 {
		e = e.Int64("dur_ms", ev.DurMS)
	}
	if ev.Count != 0 {
		e = e.Int64("count", ev.Count)
	}
	if ev.DocID != "" {
		e = e.Str("doc_id", ev.DocID)
	}
	if ev.Block != 0 {
		e = e.Int("block", ev.Block)
	}
	if len(ev.KV) > 0 {
		d := zerolog.Dict()
		for k, v := range ev.KV {
			d = d.Str(k, v)
		}
		e = e.Dict("kv", d)
	}
	e.Str("msg", ev.Msg).Send()
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 doc_id/block 的 start。
func (l *Logger) StartWith(comp, msg, docID string, block int) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", DocID: docID, Block: block, Msg: msg})
	return &Timer{l: l, comp: comp, docID: docID, block: block, t0: time.Now()}
}

// StartWithKV 记录带 doc_id/block 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, docID string, block int, kv map[string]string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", DocID: docID, Block: block, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, docID: docID, block: block, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", 0, nil)
}

// ErrorWith 支持 doc_id/block。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, docID string, block int) {
	l.ErrorWithKV(comp, code, msg, durSince, docID, block, nil)
}

// ErrorWithKV 支持附带键值对（例如退出码、工件路径）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, docID string, block int, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(zerolog.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, DocID: docID, Block: block, KV: kv})
}

// Warn 记录可恢复的问题（例如片段读取失败）。
func (l *Logger) Warn(comp, code, msg string, kv map[string]string) {
	l.log(zerolog.WarnLevel, Event{Comp: comp, Stage: "warn", Code: code, Msg: msg, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, docID string, block int, kv map[string]string) {
	l.log(zerolog.DebugLevel, Event{Comp: comp, Stage: "start", DocID: docID, Block: block, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l     *Logger
	comp  string
	docID string
	block int
	t0    time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(zerolog.InfoLevel, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, DocID: t.docID, Block: t.block, Msg: msg})
}

// Since 返回计时起点，便于 ErrorWith 计算耗时。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
