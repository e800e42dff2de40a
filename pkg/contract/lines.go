package contract

import "strings"

// LinesOf 将文本按 '\n' 切分为带 1 起始行号的行（去掉行尾 '\r'）。
// 行号约定与 DropLines 一致：文本以 '\n' 结尾时，最后一个空元素也计为一行。
func LinesOf(text string) []Line {
	parts := strings.Split(text, "\n")
	out := make([]Line, len(parts))
	for i, p := range parts {
		out[i] = Line{No: i + 1, Text: strings.TrimSuffix(p, "\r")}
	}
	return out
}

// DropLines 返回删除给定行号后的文本；其余字节（含行尾符）原样保留。
// drop 为空时返回原文本本身。
func DropLines(text string, drop map[int]struct{}) string {
	if len(drop) == 0 {
		return text
	}
	parts := strings.SplitAfter(text, "\n")
	var b strings.Builder
	b.Grow(len(text))
	for i, p := range parts {
		if _, ok := drop[i+1]; ok {
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}

// IsBlank 报告行是否仅含空白。
func IsBlank(s string) bool { return strings.TrimSpace(s) == "" }
