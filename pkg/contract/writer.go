package contract

import (
	"context"
	"io"
)

// OutputID: 过滤后文档的持久化标识（与 DocRef.Path 同形的相对路径）。
type OutputID string

// Writer: 将过滤后的文档以流式方式持久化到目标介质（供站点生成器渲染）。
// 约束：
//  1. 同一 OutputID 单写者；
//  2. 流式写入，按字节透传，不读取/修改业务内容；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id OutputID, r io.Reader) error
}
