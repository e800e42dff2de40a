package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"docrunner/pkg/contract"
)

// BenchmarkWrite 测量不同文档尺寸下的写入（含/不含跳过未变更内容）。
func BenchmarkWrite(b *testing.B) {
	for _, sz := range []int{4 * 1024, 256 * 1024} {
		for _, skip := range []bool{false, true} {
			b.Run(fmt.Sprintf("size=%d/skip=%v", sz, skip), func(b *testing.B) {
				data := bytes.Repeat([]byte("a"), sz)
				s := skip
				w, err := New(&Options{OutputDir: b.TempDir(), SkipUnchanged: &s})
				if err != nil {
					b.Fatalf("创建 Writer 失败: %v", err)
				}
				id := contract.OutputID("doc.rst")
				ctx := context.Background()
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
						b.Fatalf("写入失败: %v", err)
					}
				}
			})
		}
	}
}
