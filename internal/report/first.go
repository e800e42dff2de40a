package report

import (
	"path/filepath"

	"docrunner/pkg/contract"
)

// First 选出首个应渲染的错误：
//  1. 优先：首个 level=error 且主区间文件与工件路径一致的记录（带区间）；
//  2. 回退：若无匹配区间，取首个 error 记录本身（Span 为 nil，仅打印裸消息）；
//  3. 无 error 记录时 ok=false。
//
// 一个逻辑错误常对应多条 JSON 记录，因此只取第一条。
// 返回的 Finding 不含 Snippet/Origin，由调用方按需补齐。
func First(diags []contract.Diagnostic, artifactPath string) (contract.Finding, bool) {
	fallback := -1
	for i := range diags {
		if !diags[i].IsError() {
			continue
		}
		if fallback < 0 {
			fallback = i
		}
		if sp := diags[i].PrimarySpan(); sp != nil && SameFile(sp.File, artifactPath) {
			cp := *sp
			return contract.Finding{Diagnostic: diags[i], Span: &cp}, true
		}
	}
	if fallback >= 0 {
		return contract.Finding{Diagnostic: diags[fallback]}, true
	}
	return contract.Finding{}, false
}

// SameFile 比较诊断中的文件名与工件路径（Clean 后相等，或绝对化后相等）。
func SameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}
