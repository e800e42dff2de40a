package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认输入为 docs 目录，过滤后文档输出到 build/docs；
// - 组件名采用仓库内置实现；
// - 选项给出全部键与安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	highlight := true
	visibleOnly := false
	cfg := Config{
		Inputs:      []string{"docs"},
		Artifact:    d.Artifact,
		VisibleOnly: &visibleOnly,
		Logging:     d.Logging,
		Report:      Report{Color: d.Report.Color, Context: d.Report.Context, Highlight: &highlight},
		Components:  d.Components,
	}
	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "_build", "node_modules"],
  "allow_exts": [".rst", ".md"],
  "stdin_name": "stdin.rst"
}`)
	cfg.Options.Extractor = json.RawMessage(`{
  "lang": "rust",
  "min_indent": 2,
  "markdown_exts": [".md", ".markdown"]
}`)
	cfg.Options.Filter = json.RawMessage(`{
  "start": "// HIDDEN START",
  "end": "// HIDDEN END",
  "strip_indent": 2
}`)
	cfg.Options.Synthesizer = json.RawMessage(`{
  "prefix": "test_block",
  "indent": "    ",
  "attributes": []
}`)
	cfg.Options.Artifact = json.RawMessage(`{
  "perm_file": 0,
  "perm_dir": 0,
  "sync": false
}`)
	cfg.Options.Compiler = json.RawMessage(`{
  "binary": "rustc",
  "edition": "2021",
  "extra_args": [],
  "output": "",
  "run_tests": true,
  "test_args": []
}`)
	// decoder.rustc-json 当前无配置项，保持空对象
	cfg.Options.Decoder = json.RawMessage(`{}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "build/docs",
  "atomic": true,
  "skip_unchanged": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
