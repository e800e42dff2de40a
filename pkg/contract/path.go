package contract

import (
	"path"
	"strings"
)

// NormalizeDocID 规范化路径，统一为跨平台稳定的 DocID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留扩展名：guide.rst 与 guide.md 是两个文档
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeDocID(p string) DocID {
	return DocID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// SanitizeIdent 将任意文本映射为 ASCII 标识符片段：
// [A-Za-z0-9_] 以外的字节（路径分隔符、连字符、点等）一律替换为 '_'。
// 纯函数，输出仅取决于输入。
func SanitizeIdent(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
