package discard

import (
	"context"
	"io"

	"docrunner/pkg/contract"
)

// Writer 丢弃全部输出；用于只验证不产出过滤文档的运行（默认）。
type Writer struct{}

var _ contract.Writer = Writer{}

func (Writer) Write(ctx context.Context, _ contract.OutputID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := io.Copy(io.Discard, r)
	return err
}
