package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"docrunner/internal/diag"
	"docrunner/internal/pipeline"
	"docrunner/internal/report"
	"docrunner/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if strings.TrimSpace(cfg.Artifact) == "" {
		return errors.New("config: artifact path empty")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Report.Color)) {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("config: report.color %q must be auto|always|never", cfg.Report.Color)
	}
	if cfg.Report.Context < 0 {
		return errors.New("config: report.context must be >= 0")
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !diag.ValidLevel(lv) {
		return fmt.Errorf("config: logging.level %q unknown", lv)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Extractor, d.Extractor); registry.Extractor[name] == nil {
		return fmt.Errorf("config: extractor %q not registered", name)
	}
	if name := effName(cfg.Components.Filter, d.Filter); registry.Filter[name] == nil {
		return fmt.Errorf("config: filter %q not registered", name)
	}
	if name := effName(cfg.Components.Synthesizer, d.Synthesizer); registry.Synthesizer[name] == nil {
		return fmt.Errorf("config: synthesizer %q not registered", name)
	}
	if name := effName(cfg.Components.Artifact, d.Artifact); registry.Artifact[name] == nil {
		return fmt.Errorf("config: artifact %q not registered", name)
	}
	if name := effName(cfg.Components.Compiler, d.Compiler); registry.Compiler[name] == nil {
		return fmt.Errorf("config: compiler %q not registered", name)
	}
	if name := effName(cfg.Components.Decoder, d.Decoder); registry.Decoder[name] == nil {
		return fmt.Errorf("config: decoder %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	var (
		comp pipeline.Components
		err  error
	)
	if comp.Reader, err = registry.Reader[effName(cfg.Components.Reader, d.Reader)](cfg.Options.Reader); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader: %w", err)
	}
	if comp.Extractor, err = registry.Extractor[effName(cfg.Components.Extractor, d.Extractor)](cfg.Options.Extractor); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("extractor: %w", err)
	}
	if comp.Filter, err = registry.Filter[effName(cfg.Components.Filter, d.Filter)](cfg.Options.Filter); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("filter: %w", err)
	}
	if comp.Synth, err = registry.Synthesizer[effName(cfg.Components.Synthesizer, d.Synthesizer)](cfg.Options.Synthesizer); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("synthesizer: %w", err)
	}
	compiler := effName(cfg.Components.Compiler, d.Compiler)
	if comp.Compiler, err = registry.Compiler[compiler](cfg.Options.Compiler); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("compiler: %w", err)
	}
	if comp.Decoder, err = registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("decoder: %w", err)
	}
	writer := effName(cfg.Components.Writer, d.Writer)
	wopts := cfg.Options.Writer
	if writer == "fs" && strings.TrimSpace(cfg.Out) != "" {
		if wopts, err = withOutputDir(wopts, strings.TrimSpace(cfg.Out)); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer: %w", err)
		}
	}
	if comp.Writer, err = registry.Writer[writer](wopts); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer: %w", err)
	}
	// 工件最后打开：前面任一步失败时无需释放句柄
	if comp.Artifact, err = registry.Artifact[effName(cfg.Components.Artifact, d.Artifact)](strings.TrimSpace(cfg.Artifact), cfg.Options.Artifact); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("artifact: %w", err)
	}

	set := pipeline.Settings{
		Inputs:         cloneStrings(cfg.Inputs),
		SnippetContext: cfg.Report.Context,
		CompilerName:   compiler,
		VisibleOnly:    cfg.VisibleOnly != nil && *cfg.VisibleOnly,
	}
	return comp, set, nil
}

// ReportOptions 返回控制台报告选项；高亮默认开启。
func ReportOptions(cfg Config) report.Options {
	return report.Options{
		Color:     cfg.Report.Color,
		Highlight: cfg.Report.Highlight == nil || *cfg.Report.Highlight,
	}
}

// withOutputDir 在 writer 原样选项上覆盖 output_dir，其余键保持不变。
func withOutputDir(raw json.RawMessage, dir string) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	v, err := json.Marshal(dir)
	if err != nil {
		return nil, err
	}
	m["output_dir"] = v
	return json.Marshal(m)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
