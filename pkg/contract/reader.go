package contract

import (
	"context"
	"io"
)

// Reader: 文档源抽象（文件/目录/STDIN）。
// 约束：
// 1) 流式读取，按文档维度回调；
// 2) DocID 稳定且去平台差异化；
// 3) 不做解码/业务解析，仅提供字节流；
// 4) 不在内部起并发；
// 5) 目录遍历顺序稳定（字典序），保证同一语料两次遍历顺序一致。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(doc DocRef, r io.ReadCloser) error) error
}
