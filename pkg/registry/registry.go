package registry

import (
	"bytes"
	"encoding/json"

	"docrunner/pkg/contract"
	afs "docrunner/plugins/artifact/filesystem"
	cmock "docrunner/plugins/compiler/mock"
	crustc "docrunner/plugins/compiler/rustc"
	drustc "docrunner/plugins/decoder/rustcjson"
	eauto "docrunner/plugins/extractor/auto"
	emd "docrunner/plugins/extractor/markdown"
	erst "docrunner/plugins/extractor/rst"
	fmarker "docrunner/plugins/filter/marker"
	rfs "docrunner/plugins/reader/filesystem"
	srust "docrunner/plugins/synth/rusttest"
	wdiscard "docrunner/plugins/writer/discard"
	wfs "docrunner/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewExtractor 工厂签名：接收原样 JSON Options。
type NewExtractor func(raw json.RawMessage) (contract.Extractor, error)

// NewFilter 工厂签名：接收原样 JSON Options。
type NewFilter func(raw json.RawMessage) (contract.Filter, error)

// NewSynthesizer 工厂签名：接收原样 JSON Options。
type NewSynthesizer func(raw json.RawMessage) (contract.Synthesizer, error)

// NewArtifact 工厂签名：path 为配置层解析后的工件路径，raw 为其余选项。
type NewArtifact func(path string, raw json.RawMessage) (contract.Artifact, error)

// NewCompiler 工厂签名：接收原样 JSON Options。
type NewCompiler func(raw json.RawMessage) (contract.Compiler, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.DiagnosticDecoder, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Extractor 工厂注册表。
var Extractor = map[string]NewExtractor{
	// rst: reStructuredText code-block 指令
	"rst": func(raw json.RawMessage) (contract.Extractor, error) {
		var opts erst.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return erst.New(&opts)
	},
	// markdown: goldmark 围栏代码块
	"markdown": func(raw json.RawMessage) (contract.Extractor, error) {
		var opts emd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return emd.New(&opts), nil
	},
	// auto: 按扩展名分派 rst/markdown
	"auto": func(raw json.RawMessage) (contract.Extractor, error) {
		var opts eauto.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return eauto.New(&opts)
	},
}

// Filter 工厂注册表。
var Filter = map[string]NewFilter{
	"marker": func(raw json.RawMessage) (contract.Filter, error) {
		var opts fmarker.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fmarker.New(&opts)
	},
}

// Synthesizer 工厂注册表。
var Synthesizer = map[string]NewSynthesizer{
	// rust-test: #[test] fn 包装
	"rust-test": func(raw json.RawMessage) (contract.Synthesizer, error) {
		var opts srust.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return srust.New(&opts)
	},
}

// Artifact 工厂注册表。
var Artifact = map[string]NewArtifact{
	"fs": func(path string, raw json.RawMessage) (contract.Artifact, error) {
		var opts afs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		if path != "" {
			opts.Path = path
		}
		return afs.New(&opts)
	},
}

// Compiler 工厂注册表。
var Compiler = map[string]NewCompiler{
	// rustc: rustc --test --error-format=json，可选运行测试二进制
	"rustc": func(raw json.RawMessage) (contract.Compiler, error) {
		var opts crustc.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return crustc.New(&opts)
	},
	"mock": func(raw json.RawMessage) (contract.Compiler, error) { return cmock.New(raw) },
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// rustc-json: rustc/cargo 逐行 JSON 诊断
	"rustc-json": func(raw json.RawMessage) (contract.DiagnosticDecoder, error) { return drustc.New(raw) },
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
	// discard: 不落盘（仅验证）
	"discard": func(raw json.RawMessage) (contract.Writer, error) { return wdiscard.Writer{}, nil },
}
