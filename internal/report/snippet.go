package report

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"docrunner/pkg/contract"
)

// DefaultContext 为错误行上下各取的行数。
const DefaultContext = 3

// Snippet 读取 path 中第 line 行上下 context 行（按文件边界截断）。
// line 超出文件范围时返回空切片。
func Snippet(path string, line, context int) ([]contract.SnippetLine, error) {
	if context < 0 {
		context = 0
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lo, hi := line-context, line+context
	var out []contract.SnippetLine
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for no := 1; sc.Scan(); no++ {
		if no < lo {
			continue
		}
		if no > hi {
			break
		}
		out = append(out, contract.SnippetLine{
			No:   no,
			Text: strings.TrimRight(sc.Text(), " \t\r"),
			Mark: no == line,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FormatSnippetLine 输出 "> 1234: text" 形式（非报错行前缀为空格）。
func FormatSnippetLine(l contract.SnippetLine) string {
	prefix := " "
	if l.Mark {
		prefix = ">"
	}
	return fmt.Sprintf("%s %4d: %s", prefix, l.No, l.Text)
}
