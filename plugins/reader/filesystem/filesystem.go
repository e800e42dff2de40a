package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docrunner/pkg/contract"
)

// Options 为文档源 Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 扫描目录时跳过的目录名（基名，大小写不敏感）。
	// 默认 [".git","_build","node_modules"]；显式空数组表示不跳过。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// AllowExts: 目录扫描时收录的扩展名（大小写不敏感，含点）。默认 [".rst",".md"]。
	// 单文件 root 不受限制。
	AllowExts []string `json:"allow_exts"`
	// StdinName: STDIN 文档的逻辑路径（决定抽取器分派），默认 "stdin.rst"。
	StdinName string `json:"stdin_name"`
}

// FileSystem 实现基于文件系统与 STDIN 的文档 Reader。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	allowExt   map[string]struct{}
	stdinName  string
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	r := &FileSystem{bufSize: 64 * 1024, stdinName: "stdin.rst"}
	excl := []string{".git", "_build", "node_modules"}
	exts := []string{".rst", ".md"}
	if opts != nil {
		if opts.BufSize > 0 {
			r.bufSize = opts.BufSize
		}
		if opts.ExcludeDirNames != nil {
			excl = opts.ExcludeDirNames
		}
		if len(opts.AllowExts) > 0 {
			exts = opts.AllowExts
		}
		if s := strings.TrimSpace(opts.StdinName); s != "" {
			r.stdinName = s
		}
	}
	r.excludeDir = lowerSet(excl, false)
	r.allowExt = lowerSet(exts, true)
	return r
}

func lowerSet(in []string, dot bool) map[string]struct{} {
	m := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if dot && !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		m[s] = struct{}{}
	}
	return m
}

// Iterate 遍历 roots，按稳定顺序对每个文档调用 yield。
// DocRef.Path 为相对所属 root 的斜杠路径（单文件 root 取基名），ID 为其规范化形式（含扩展名）。
// 多个 roots 时，目录 root 下的文档以该目录基名为前缀，避免不同 root 中的同名文档重名。
// roots 为空或仅包含 "-" 时读取 STDIN。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(doc contract.DocRef, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(ref(r.stdinName), newBufferedCloser(os.Stdin, r.bufSize))
	}
	if len(roots) > 1 {
		for _, s := range roots {
			if s == "-" {
				return errors.New("stdin '-' cannot be mixed with other roots")
			}
		}
	}
	for _, root := range roots {
		prefix := ""
		if len(roots) > 1 {
			prefix = rootName(root)
		}
		if err := r.iterateOne(ctx, root, prefix, yield); err != nil {
			return err
		}
	}
	return nil
}

func ref(rel string) contract.DocRef {
	p := filepath.ToSlash(filepath.Clean(rel))
	return contract.DocRef{ID: contract.NormalizeDocID(p), Path: p}
}

// rootName 返回目录 root 的基名；"."、".." 等按绝对路径取基名。
func rootName(root string) string {
	name := filepath.Base(filepath.Clean(root))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		if abs, err := filepath.Abs(root); err == nil {
			name = filepath.Base(abs)
		}
	}
	if name == string(filepath.Separator) {
		return ""
	}
	return name
}

func (r *FileSystem) iterateOne(ctx context.Context, root, prefix string, yield func(contract.DocRef, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	// 仅跟随到常规文件；目录符号链接忽略
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return r.open(root, ref(filepath.Base(root)), yield)
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, prefix, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.open(root, ref(filepath.Base(root)), yield)
}

func (r *FileSystem) open(p string, doc contract.DocRef, yield func(contract.DocRef, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	brc := newBufferedCloser(f, r.bufSize)
	if err := yield(doc, brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

// walkDir 先子目录后文件，各自按字典序。rel 为相对 root 的目录前缀。
func (r *FileSystem) walkDir(ctx context.Context, dir, rel string, yield func(contract.DocRef, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), filepath.Join(rel, e.Name()), yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		if _, ok := r.allowExt[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			// 设备、FIFO 等
			continue
		}
		if err := r.open(p, ref(filepath.Join(rel, e.Name())), yield); err != nil {
			return err
		}
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
