package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "docrunner/internal/config"
	"docrunner/internal/diag"
	"docrunner/internal/pipeline"
	"docrunner/internal/report"
	"docrunner/pkg/contract"
	"docrunner/pkg/registry"
)

var (
	// version 在构建时以 -ldflags "-X main.version=..." 注入。
	version = "dev"

	pipelineRun = pipeline.Run
)

// 退出码
const (
	exitOK     = 0
	exitFatal  = 1 // 工件 I/O、编译器无法启动、读取/写出失败
	exitVerify = 2 // 编译或测试失败（文档已写出）
	exitConfig = 3 // 配置解析/校验/装配失败
)

// exitError 携带退出码穿过 cobra 的 RunE。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func fail(code int, format string, a ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, a...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 执行 CLI 并返回退出码；I/O 注入便于测试。
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(stdin, stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && !errors.Is(ee.err, context.Canceled) {
			fprintf(stderr, "%v\n", ee.err)
		}
		return ee.code
	}
	// cobra 参数/旗标错误
	fprintf(stderr, "%v\n", err)
	return exitConfig
}

type rootFlags struct {
	config      string
	artifact    string
	out         string
	compiler    string
	logLevel    string
	color       string
	metricsFile string
	status      bool
	visibleOnly bool
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var f rootFlags
	root := &cobra.Command{
		Use:   "docrunner [roots...]",
		Short: "聚合文档中的 Rust 代码块为测试并一次性编译验证",
		Long: `docrunner 扫描文档根（文件/目录，"-" 表示 STDIN）中的 rust 代码块：
隐藏区标记之间的行从文档中删除但仍参与编译；每个块包装为 #[test] 函数
追加到聚合工件，过滤后的文档写出到输出目录，最后调用编译器一次并报告首个错误。`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(cmd, args, &f, stdout, stderr)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "配置文件（.json/.jsonc/.yaml）；缺省依次查找 ./config.{jsonc,json,yaml,yml}")
	pf.StringVar(&f.logLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	pf.BoolVar(&f.visibleOnly, "visible-only", false, "仅编译可见行（隐藏行不进入工件）")
	fl := root.Flags()
	fl.StringVar(&f.artifact, "artifact", "", "聚合工件路径（覆盖配置）")
	fl.StringVar(&f.out, "out", "", "过滤后文档输出目录（覆盖配置）")
	fl.StringVar(&f.compiler, "compiler", "", "编译器实现名 rustc|mock（覆盖配置）")
	fl.StringVar(&f.color, "color", "", "控制台颜色 auto|always|never（覆盖配置）")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "运行结束写出 Prometheus 文本指标的路径")
	fl.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")

	root.AddCommand(newInitConfigCmd(stdout, stderr))
	root.AddCommand(newExtractCmd(&f, stdin, stdout))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "打印版本",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fprintf(stdout, "docrunner %s\n", version)
		},
	})
	return root
}

// resolveConfig 按 defaults < 文件 < ENV < CLI 合并配置。
func resolveConfig(cmd *cobra.Command, f *rootFlags, roots []string) (cfgpkg.Config, error) {
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")

	path := f.config
	var raw []byte
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
			raw = []byte(s)
		}
	}
	if path == "" && len(raw) == 0 {
		for _, name := range []string{"config.jsonc", "config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}

	cfg := cfgpkg.Defaults()
	if path != "" || len(raw) > 0 {
		base, err := cfgpkg.Load(path, raw)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	var over cfgpkg.Config
	over.Inputs = roots
	over.Logging.Level = f.logLevel
	over.Artifact = f.artifact
	over.Out = f.out
	over.Components.Compiler = f.compiler
	over.Report.Color = f.color
	over.MetricsFile = f.metricsFile
	if cmd.Flags().Changed("visible-only") {
		v := f.visibleOnly
		over.VisibleOnly = &v
	}
	return cfgpkg.Merge(cfg, over), nil
}

func runPass(cmd *cobra.Command, roots []string, f *rootFlags, stdout, stderr io.Writer) error {
	start := time.Now()
	corrID := diag.NewCorrID()

	cfg, err := resolveConfig(cmd, f, roots)
	if err != nil {
		return fail(exitConfig, "配置解析失败: %w", err)
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		dumpConfig(stderr, cfg)
		return fail(exitConfig, "配置校验失败: %w", err)
	}
	logger := diag.NewLogger(corrID, cfg.Logging.Level)
	defer logger.Close()

	if err := preflightCheckOutputDir(cfg); err != nil {
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return fail(exitConfig, "输出目录不可写或无法创建: %w", err)
	}
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return fail(exitConfig, "装配失败: %w", err)
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	logger.DebugStart("config", "effective", "", 0, map[string]string{
		"inputs_count": fmt.Sprintf("%d", len(cfg.Inputs)),
		"artifact":     cfg.Artifact,
		"reader":       cfg.Components.Reader,
		"extractor":    cfg.Components.Extractor,
		"filter":       cfg.Components.Filter,
		"synthesizer":  cfg.Components.Synthesizer,
		"compiler":     cfg.Components.Compiler,
		"decoder":      cfg.Components.Decoder,
		"writer":       cfg.Components.Writer,
	})

	v, err := pipelineRun(cmd.Context(), comp, set, logger)
	defer writeMetrics(cfg.MetricsFile, logger)
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		return fail(exitFatal, "运行失败: %w", err)
	}
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())

	printer := report.NewPrinter(stdout, cfgpkg.ReportOptions(cfg))
	if err := printer.Print(v); err != nil {
		return fail(exitFatal, "报告输出失败: %w", err)
	}
	if !v.OK {
		diag.IncOp("pipeline", "verify", "error")
		return &exitError{code: exitVerify}
	}
	diag.IncOp("pipeline", "finish", "success")
	return nil
}

// writeMetrics 写出指标文本；失败仅告警。
func writeMetrics(path string, logger *diag.Logger) {
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := diag.WriteMetrics(path); err != nil {
		logger.Warn("metrics", string(diag.Classify(err)), "write metrics failed", map[string]string{"path": path, "error": err.Error()})
	}
}

func newInitConfigCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在目录中生成默认 config.json 与 .env 模板（已存在则失败，不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail(exitConfig, "生成默认配置失败: %w", err)
			}
			cfgPath := filepath.Join(dir, "config.json")
			if err := writeConfig(cfgPath, cfgpkg.DefaultTemplateConfig()); err != nil {
				return fail(exitConfig, "生成默认配置失败: %w", err)
			}
			// 生成 .env 模板（不覆盖已存在文件）。
			if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
				fprintf(stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			fprintf(stdout, "%s\n", cfgPath)
			return nil
		},
	}
}

// newExtractCmd: 对单个文件打印合成的测试条目与过滤后的文档，不写工件、不编译。
func newExtractCmd(f *rootFlags, stdin io.Reader, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "打印单个文档的测试条目与过滤后文本（不编译）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f, args)
			if err != nil {
				return fail(exitConfig, "配置解析失败: %w", err)
			}
			st, err := stagesFor(cfg)
			if err != nil {
				return fail(exitConfig, "装配失败: %w", err)
			}
			unit, err := readUnit(args[0], stdin)
			if err != nil {
				return fail(exitFatal, "读取失败: %w", err)
			}
			w := bufio.NewWriter(stdout)
			text, err := pipeline.Expand(cmd.Context(), st, unit, func(_ contract.Block, _ contract.Filtered, e contract.Entry) error {
				_, err := w.WriteString(e.Text)
				return err
			})
			if err != nil {
				return fail(exitFatal, "抽取失败: %w", err)
			}
			fmt.Fprintf(w, "// ==== Filtered Document (%s) ====\n", unit.ID)
			_, _ = w.WriteString(text)
			if err := w.Flush(); err != nil {
				return fail(exitFatal, "输出失败: %w", err)
			}
			return nil
		},
	}
}

// stagesFor 仅构造纯计算组件（不打开工件）。
func stagesFor(cfg cfgpkg.Config) (pipeline.Stages, error) {
	d := cfgpkg.Defaults().Components
	name := func(got, def string) string {
		if got == "" {
			return def
		}
		return got
	}
	var st pipeline.Stages
	newExt := registry.Extractor[name(cfg.Components.Extractor, d.Extractor)]
	newFlt := registry.Filter[name(cfg.Components.Filter, d.Filter)]
	newSyn := registry.Synthesizer[name(cfg.Components.Synthesizer, d.Synthesizer)]
	if newExt == nil || newFlt == nil || newSyn == nil {
		return st, errors.New("extractor/filter/synthesizer not registered")
	}
	var err error
	if st.Extractor, err = newExt(cfg.Options.Extractor); err != nil {
		return st, err
	}
	if st.Filter, err = newFlt(cfg.Options.Filter); err != nil {
		return st, err
	}
	if st.Synth, err = newSyn(cfg.Options.Synthesizer); err != nil {
		return st, err
	}
	st.VisibleOnly = cfg.VisibleOnly != nil && *cfg.VisibleOnly
	return st, nil
}

func readUnit(path string, stdin io.Reader) (contract.SourceUnit, error) {
	var (
		b   []byte
		err error
	)
	name := path
	if path == "-" {
		name = "stdin.rst"
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return contract.SourceUnit{}, err
	}
	base := filepath.ToSlash(filepath.Base(name))
	return contract.SourceUnit{ID: contract.NormalizeDocID(base), Path: base, Text: string(b)}, nil
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	fprintf(w, "有效配置:\n%s\n", b)
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；无法读取时返回错误（但调用处可忽略）。
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export ".
// - 仅按首个 '=' 分割；若 value 被成对的单/双引号包裹，则去除外层引号。
// - 空值视为未设置；不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if !ok || key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '\'' || val[0] == '"') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if val == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# docrunner .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件 > 默认值；空值表示未设置。\n\n")
	b.WriteString("# 配置来源（可二选一）\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{"INPUTS", "ARTIFACT", "OUT", "VISIBLE_ONLY", "LOG_LEVEL", "COLOR", "CONTEXT", "METRICS_FILE"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	kinds := []string{"READER", "EXTRACTOR", "FILTER", "SYNTHESIZER", "ARTIFACT", "COMPILER", "DECODER", "WRITER"}
	b.WriteString("\n# 组件选择\n")
	for _, k := range kinds {
		b.WriteString(cfgpkg.EnvPrefix + "COMPONENTS_" + k + "=\n")
	}
	b.WriteString("\n# 组件选项（原样 JSON，整体替换）\n")
	for _, k := range kinds {
		b.WriteString(cfgpkg.EnvPrefix + "OPTIONS_" + k + "_JSON=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: 当 Writer 使用文件系统实现(fs)时，启动前检查输出目录可写性。
// 目录存在时尝试创建并删除临时文件；不存在时检查最近的已存在祖先目录。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	writer := cfg.Components.Writer
	if writer == "" {
		writer = cfgpkg.Defaults().Components.Writer
	}
	if writer != "fs" {
		return nil
	}
	dir := strings.TrimSpace(cfg.Out)
	if dir == "" {
		var wopts struct {
			OutputDir string `json:"output_dir"`
		}
		if len(cfg.Options.Writer) > 0 {
			_ = json.Unmarshal(cfg.Options.Writer, &wopts)
		}
		dir = strings.TrimSpace(wopts.OutputDir)
	}
	if dir == "" {
		// 未指定时无法可靠检查，让装配阶段按实现自行报错
		return nil
	}
	for {
		st, err := os.Stat(dir)
		if err == nil {
			if !st.IsDir() {
				return fmt.Errorf("路径存在但不是目录: %s", dir)
			}
			tmp, err := os.CreateTemp(dir, ".wcheck-*")
			if err != nil {
				return err
			}
			name := tmp.Name()
			_ = tmp.Close()
			return os.Remove(name)
		}
		if !os.IsNotExist(err) {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		dir = parent
	}
}
