package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "DOCRUNNER_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Inputs 不设默认（必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Artifact: "build/rust-examples/generated.rs",
		Logging:  Logging{Level: "info"},
		Report:   Report{Color: "auto", Context: 3},
		Components: Components{
			Reader:      "fs",
			Extractor:   "auto",
			Filter:      "marker",
			Synthesizer: "rust-test",
			Artifact:    "fs",
			Compiler:    "rustc",
			Decoder:     "rustc-json",
			Writer:      "fs",
		},
		Options: Options{
			Writer: json.RawMessage(`{"output_dir":"build/docs"}`),
		},
	}
}

// Load 从文件路径或原始字节解析 Config（严格拒绝未知字段）。
// .yaml/.yml 按 YAML 解析，其余按 JSONC（允许注释与尾逗号）解析。
func Load(path string, raw []byte) (Config, error) {
	data := raw
	if len(data) == 0 {
		if path == "" {
			return Config{}, errors.New("no config source provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		data = b
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err := LoadYAML(data)
		if err != nil && path != "" {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, err
	default:
		cfg, err := LoadJSONC(data)
		if err != nil && path != "" {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, err
	}
}

// LoadJSONC 去除注释与尾逗号后严格解码。
func LoadJSONC(data []byte) (Config, error) {
	return decodeStrict(jsonc.ToJSON(data))
}

// LoadYAML 将 YAML 文档转为 JSON 再严格解码，组件 Options 因此同样以原样 JSON 传入工厂。
func LoadYAML(data []byte) (Config, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return Config{}, fmt.Errorf("parsing yaml: %w", err)
	}
	if tree == nil {
		return Config{}, nil
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("yaml to json: %w", err)
	}
	return decodeStrict(b)
}

func decodeStrict(b []byte) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	pick(&out.Artifact, over.Artifact)
	pick(&out.Out, over.Out)
	pick(&out.MetricsFile, over.MetricsFile)
	if over.VisibleOnly != nil {
		v := *over.VisibleOnly
		out.VisibleOnly = &v
	}
	pick(&out.Logging.Level, over.Logging.Level)

	pick(&out.Report.Color, over.Report.Color)
	if over.Report.Context > 0 {
		out.Report.Context = over.Report.Context
	}
	if over.Report.Highlight != nil {
		v := *over.Report.Highlight
		out.Report.Highlight = &v
	}

	// 组件名（空不覆盖）
	pick(&out.Components.Reader, over.Components.Reader)
	pick(&out.Components.Extractor, over.Components.Extractor)
	pick(&out.Components.Filter, over.Components.Filter)
	pick(&out.Components.Synthesizer, over.Components.Synthesizer)
	pick(&out.Components.Artifact, over.Components.Artifact)
	pick(&out.Components.Compiler, over.Components.Compiler)
	pick(&out.Components.Decoder, over.Components.Decoder)
	pick(&out.Components.Writer, over.Components.Writer)

	// Options（完整替换对应键）
	pickRaw(&out.Options.Reader, over.Options.Reader)
	pickRaw(&out.Options.Extractor, over.Options.Extractor)
	pickRaw(&out.Options.Filter, over.Options.Filter)
	pickRaw(&out.Options.Synthesizer, over.Options.Synthesizer)
	pickRaw(&out.Options.Artifact, over.Options.Artifact)
	pickRaw(&out.Options.Compiler, over.Options.Compiler)
	pickRaw(&out.Options.Decoder, over.Options.Decoder)
	pickRaw(&out.Options.Writer, over.Options.Writer)
	return out
}

func pick(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func pickRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 DOCRUNNER_；集合之外的键忽略。
// 支持：INPUTS, ARTIFACT, OUT, VISIBLE_ONLY, LOG_LEVEL, COLOR, CONTEXT, METRICS_FILE,
// COMPONENTS_<KIND> 以及 OPTIONS_<KIND>_JSON（原样 JSON，非法时报错）。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		switch key {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "ARTIFACT":
			over.Artifact = strings.TrimSpace(val)
		case "OUT":
			over.Out = strings.TrimSpace(val)
		case "VISIBLE_ONLY":
			if v, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
				over.VisibleOnly = &v
			}
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "COLOR":
			over.Report.Color = strings.TrimSpace(val)
		case "CONTEXT":
			if v, err := atoi(val); err == nil {
				over.Report.Context = v
			}
		case "METRICS_FILE":
			over.MetricsFile = strings.TrimSpace(val)
		default:
			if kind, ok := strings.CutPrefix(key, "COMPONENTS_"); ok {
				if dst := componentField(&over.Components, kind); dst != nil {
					*dst = strings.TrimSpace(val)
				}
				continue
			}
			if mid, ok := strings.CutPrefix(key, "OPTIONS_"); ok {
				kind, ok := strings.CutSuffix(mid, "_JSON")
				if !ok {
					continue
				}
				dst := optionField(&over.Options, kind)
				if dst == nil || strings.TrimSpace(val) == "" {
					continue
				}
				if !json.Valid([]byte(val)) {
					return Config{}, fmt.Errorf("env %s%s: invalid json", EnvPrefix, key)
				}
				*dst = json.RawMessage(val)
			}
		}
	}
	return over, nil
}

func componentField(c *Components, kind string) *string {
	switch kind {
	case "READER":
		return &c.Reader
	case "EXTRACTOR":
		return &c.Extractor
	case "FILTER":
		return &c.Filter
	case "SYNTHESIZER":
		return &c.Synthesizer
	case "ARTIFACT":
		return &c.Artifact
	case "COMPILER":
		return &c.Compiler
	case "DECODER":
		return &c.Decoder
	case "WRITER":
		return &c.Writer
	}
	return nil
}

func optionField(o *Options, kind string) *json.RawMessage {
	switch kind {
	case "READER":
		return &o.Reader
	case "EXTRACTOR":
		return &o.Extractor
	case "FILTER":
		return &o.Filter
	case "SYNTHESIZER":
		return &o.Synthesizer
	case "ARTIFACT":
		return &o.Artifact
	case "COMPILER":
		return &o.Compiler
	case "DECODER":
		return &o.Decoder
	case "WRITER":
		return &o.Writer
	}
	return nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
