package filesystem

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"docrunner/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// Path: 聚合工件路径（必需）。
	Path string `json:"path"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// Sync: 每次追加后 fsync。默认 false（编译器在同一进程生命周期内读取）。
	Sync bool `json:"sync,omitempty"`
}

// File 为文件系统上的聚合工件句柄。
// 单写者纪律：Append 全程持锁，单个条目的写入不会与其他条目交错。
type File struct {
	path  string
	permF os.FileMode
	permD os.FileMode
	sync  bool

	mu    sync.Mutex
	f     *os.File
	lines int
}

// New 创建工件句柄（不触碰文件系统；Reset 时才创建/截断）。
func New(opts *Options) (*File, error) {
	if opts == nil || strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("artifact: path required: %w", contract.ErrInvalidInput)
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	return &File{path: filepath.Clean(opts.Path), permF: pf, permD: pd, sync: opts.Sync}, nil
}

var _ contract.Artifact = (*File)(nil)

// Path 返回工件路径。
func (a *File) Path() string { return a.path }

// Reset 截断（必要时创建）工件并打开为追加写；行计数归零。
func (a *File) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f != nil {
		_ = a.f.Close()
		a.f = nil
	}
	if err := os.MkdirAll(filepath.Dir(a.path), a.permD); err != nil {
		return fmt.Errorf("artifact reset: %w: %w", contract.ErrArtifactWrite, err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, a.permF)
	if err != nil {
		return fmt.Errorf("artifact reset: %w: %w", contract.ErrArtifactWrite, err)
	}
	a.f = f
	a.lines = 0
	return nil
}

// Append 以单次写入追加条目文本，返回条目首行的 1 起始行号。
func (a *File) Append(e contract.Entry) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return 0, fmt.Errorf("artifact append before reset: %w", contract.ErrArtifactWrite)
	}
	if _, err := io.WriteString(a.f, e.Text); err != nil {
		return 0, fmt.Errorf("artifact append %s: %w: %w", e.Name, contract.ErrArtifactWrite, err)
	}
	if a.sync {
		if err := a.f.Sync(); err != nil {
			return 0, fmt.Errorf("artifact sync: %w: %w", contract.ErrArtifactWrite, err)
		}
	}
	start := a.lines + 1
	a.lines += strings.Count(e.Text, "\n")
	return start, nil
}

// Digest 计算当前工件内容的 BLAKE3 摘要（十六进制）。
func (a *File) Digest() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.Open(a.path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Close 关闭当前打开的文件句柄（可重复调用）。
func (a *File) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}
