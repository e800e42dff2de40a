package rustc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"docrunner/pkg/contract"
)

// Options 为 rustc 测试编译器的可选配置。
type Options struct {
	// Binary: rustc 可执行文件，默认 "rustc"（按 PATH 查找）。
	Binary string `json:"binary"`
	// Edition: Rust edition，默认 "2021"。
	Edition string `json:"edition"`
	// ExtraArgs: 追加在工件路径之前的额外参数（如 ["-A","dead_code"]）。
	ExtraArgs []string `json:"extra_args"`
	// Output: 测试二进制输出路径；为空时为工件同目录下去扩展名的同名文件。
	// 去扩展名后与工件路径相同（工件无扩展名）时追加 ".test"。
	Output string `json:"output"`
	// RunTests: 编译成功后执行测试二进制，默认 true。
	RunTests *bool `json:"run_tests,omitempty"`
	// TestArgs: 传给测试二进制的参数（如 ["--quiet"]）。
	TestArgs []string `json:"test_args"`
}

// Compiler 以 `rustc --test --error-format=json` 编译聚合工件，并可选运行测试。
type Compiler struct {
	bin      string
	edition  string
	extra    []string
	output   string
	runTests bool
	testArgs []string
}

// New 创建编译器。
func New(opts *Options) (*Compiler, error) {
	c := &Compiler{bin: "rustc", edition: "2021", runTests: true}
	if opts == nil {
		return c, nil
	}
	if b := strings.TrimSpace(opts.Binary); b != "" {
		c.bin = b
	}
	if e := strings.TrimSpace(opts.Edition); e != "" {
		switch e {
		case "2015", "2018", "2021", "2024":
		default:
			return nil, fmt.Errorf("rustc: edition %q: %w", e, contract.ErrInvalidInput)
		}
		c.edition = e
	}
	if opts.RunTests != nil {
		c.runTests = *opts.RunTests
	}
	c.extra = append([]string(nil), opts.ExtraArgs...)
	c.testArgs = append([]string(nil), opts.TestArgs...)
	c.output = strings.TrimSpace(opts.Output)
	return c, nil
}

var _ contract.Compiler = (*Compiler)(nil)

// Args 返回对给定工件的 rustc 参数列表。
func (c *Compiler) Args(artifactPath string) []string {
	args := []string{"--test", "--edition=" + c.edition, "--error-format=json", "-o", c.outputFor(artifactPath)}
	args = append(args, c.extra...)
	return append(args, artifactPath)
}

func (c *Compiler) outputFor(artifactPath string) string {
	out := c.output
	if out == "" {
		out = strings.TrimSuffix(artifactPath, filepath.Ext(artifactPath))
	}
	// rustc 拒绝以输出覆盖输入；".rs" 之类的点文件去扩展名后只剩目录
	if out == "" || filepath.Clean(out) == filepath.Clean(artifactPath) || strings.HasSuffix(out, string(filepath.Separator)) {
		return artifactPath + ".test"
	}
	return out
}

// Compile 同步执行编译（及可选的测试运行）。
// 诊断流取自 rustc 的 stderr；测试运行时 Stdout 为测试二进制输出。
func (c *Compiler) Compile(ctx context.Context, artifactPath string) (contract.CompileResult, error) {
	res, err := run(ctx, c.bin, c.Args(artifactPath)...)
	if err != nil {
		return contract.CompileResult{}, err
	}
	res.Diagnostics = []byte(res.Stderr)
	if !res.OK() || !c.runTests {
		return res, nil
	}
	bin := c.outputFor(artifactPath)
	if !filepath.IsAbs(bin) && !strings.ContainsRune(bin, filepath.Separator) {
		bin = "." + string(filepath.Separator) + bin
	}
	test, err := run(ctx, bin, c.testArgs...)
	if err != nil {
		return contract.CompileResult{}, err
	}
	// 编译期警告仍在 rustc stderr 中；合并测试运行输出
	return contract.CompileResult{
		ExitCode:    test.ExitCode,
		Stdout:      test.Stdout,
		Stderr:      joinNonEmpty(res.Stderr, test.Stderr),
		Diagnostics: res.Diagnostics,
	}, nil
}

// run 执行外部进程并捕获输出；非 0 退出不是错误，无法启动才是。
func run(ctx context.Context, bin string, args ...string) (contract.CompileResult, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := contract.CompileResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.ExitCode = ee.ExitCode()
		if res.ExitCode < 0 {
			// 被信号终止
			res.ExitCode = 128
		}
		return res, nil
	}
	return contract.CompileResult{}, fmt.Errorf("%s: %w: %w", bin, contract.ErrCompilerLaunch, err)
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}
