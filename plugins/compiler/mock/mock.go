package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"docrunner/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	// ExitCode: 模拟编译退出码，默认 0。
	ExitCode int `json:"exit_code"`
	// Stdout/Stderr: 原样回显的输出。
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// Diagnostics: 模拟的 JSON 诊断流（逐行）；为空时取 Stderr。
	Diagnostics string `json:"diagnostics,omitempty"`
	// ResponseMode: 可选的响应模式（用于集成测试与无工具链联调）。
	//  - "" / "fixed": 按上述字段返回固定结果。
	//  - "scan_error": 读取工件，遇到包含 Needle 的首行时产出一条指向该行的 error 诊断并以 1 退出；否则成功。
	ResponseMode string `json:"response_mode,omitempty"`
	// Needle: scan_error 模式下的匹配子串，默认 "compile_error!"。
	Needle string `json:"needle,omitempty"`
}

// Compiler 不启动任何进程，仅用于流程调试与测试。
type Compiler struct {
	o    Options
	mode string
}

func New(raw json.RawMessage) (contract.Compiler, error) {
	var o Options
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &o)
	}
	if o.Needle == "" {
		o.Needle = "compile_error!"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "fixed"
	}
	return &Compiler{o: o, mode: mode}, nil
}

func (c *Compiler) Compile(ctx context.Context, artifactPath string) (contract.CompileResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.CompileResult{}, err
	}
	switch c.mode {
	case "fixed":
		diags := c.o.Diagnostics
		if diags == "" {
			diags = c.o.Stderr
		}
		return contract.CompileResult{
			ExitCode:    c.o.ExitCode,
			Stdout:      c.o.Stdout,
			Stderr:      c.o.Stderr,
			Diagnostics: []byte(diags),
		}, nil
	case "scan_error":
		return c.scan(artifactPath)
	}
	return contract.CompileResult{}, fmt.Errorf("mock: %w: unknown response_mode %q", contract.ErrCompilerLaunch, c.mode)
}

// scan 逐行查找 Needle，模拟 rustc 对首个错误行的 JSON 诊断。
func (c *Compiler) scan(artifactPath string) (contract.CompileResult, error) {
	b, err := os.ReadFile(artifactPath)
	if err != nil {
		return contract.CompileResult{}, fmt.Errorf("mock: %w: %w", contract.ErrCompilerLaunch, err)
	}
	for _, ln := range contract.LinesOf(string(b)) {
		col := strings.Index(ln.Text, c.o.Needle)
		if col < 0 {
			continue
		}
		rec := map[string]any{
			"$message_type": "diagnostic",
			"message":       "mock error: " + strings.TrimSpace(ln.Text),
			"level":         "error",
			"spans": []map[string]any{{
				"file_name":    artifactPath,
				"line_start":   ln.No,
				"line_end":     ln.No,
				"column_start": col + 1,
				"column_end":   col + 1 + len(c.o.Needle),
				"is_primary":   true,
				"label":        "found here",
			}},
			"children": []any{},
		}
		bts, _ := json.Marshal(rec)
		return contract.CompileResult{ExitCode: 1, Stderr: string(bts) + "\n", Diagnostics: append(bts, '\n')}, nil
	}
	return contract.CompileResult{Stdout: c.o.Stdout}, nil
}
