package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 键使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Inputs: 文档根（文件/目录/"-" 表示 STDIN）。
	Inputs []string `json:"inputs"`
	// Artifact: 聚合工件路径。
	Artifact string `json:"artifact"`
	// Out: 过滤后文档输出目录；非空时覆盖 fs writer 选项中的 output_dir。
	Out string `json:"out,omitempty"`
	// VisibleOnly: 仅编译可见行（隐藏行不进入工件）。nil 表示未设置。
	VisibleOnly *bool   `json:"visible_only,omitempty"`
	Logging     Logging `json:"logging"`
	Report      Report  `json:"report"`
	// MetricsFile: 运行结束写出 Prometheus 文本指标的路径；空表示不写。
	MetricsFile string `json:"metrics_file,omitempty"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Report: 控制台报告。
type Report struct {
	// Color: auto|always|never。
	Color string `json:"color"`
	// Context: 错误行上下文行数（0 使用默认 3）。
	Context int `json:"context"`
	// Highlight: 彩色输出时对片段做语法高亮。nil 表示未设置（默认开启）。
	Highlight *bool `json:"highlight,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader      string `json:"reader"`
	Extractor   string `json:"extractor"`
	Filter      string `json:"filter"`
	Synthesizer string `json:"synthesizer"`
	Artifact    string `json:"artifact"`
	Compiler    string `json:"compiler"`
	Decoder     string `json:"decoder"`
	Writer      string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader      json.RawMessage `json:"reader,omitempty"`
	Extractor   json.RawMessage `json:"extractor,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	Synthesizer json.RawMessage `json:"synthesizer,omitempty"`
	Artifact    json.RawMessage `json:"artifact,omitempty"`
	Compiler    json.RawMessage `json:"compiler,omitempty"`
	Decoder     json.RawMessage `json:"decoder,omitempty"`
	Writer      json.RawMessage `json:"writer,omitempty"`
}
