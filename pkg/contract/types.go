package contract

// DocID: 逻辑文档名（相对输入根的规范化斜杠路径，保留扩展名）。
// 多个输入根时带根目录基名前缀；同一轮内唯一。
type DocID string

// DocRef: Reader 产出的文档引用。
// Path 保留扩展名，供 Extractor 按类型分派；ID 用于命名与日志。
type DocRef struct {
	ID   DocID
	Path string
}

// SourceUnit: 单个文档源单元。
// 约束：Text 可被 Driver 就地替换为过滤后的文本；本核心不持久化它。
type SourceUnit struct {
	ID   DocID
	Path string
	Text string
}

// Line: 源单元中的一行（No 为 1 起始行号；Text 不含换行，保留原始缩进）。
type Line struct {
	No   int
	Text string
}

// Block: 从一个围栏区域原样抽取的代码块。
// 约束：
//   - Index 在所属单元内按抽取顺序自 1 递增；
//   - Fence 为开围栏所在行号；
//   - Lines 保留区域内的空行（带行号），不含开/闭围栏本身。
type Block struct {
	Index int
	Lang  string
	Fence int
	Lines []Line
}

// Filtered: 隐藏区过滤结果。
// Visible/Hidden 保持原相对顺序；Markers 为被丢弃的标记行本身。
type Filtered struct {
	Visible []Line
	Hidden  []Line
	Markers []Line
}

// Code 返回参与编译的行：Visible 与 Hidden 按行号归并，标记行除外。
func (f Filtered) Code() []Line {
	out := make([]Line, 0, len(f.Visible)+len(f.Hidden))
	i, j := 0, 0
	for i < len(f.Visible) && j < len(f.Hidden) {
		if f.Visible[i].No < f.Hidden[j].No {
			out = append(out, f.Visible[i])
			i++
		} else {
			out = append(out, f.Hidden[j])
			j++
		}
	}
	out = append(out, f.Visible[i:]...)
	return append(out, f.Hidden[j:]...)
}

// Origin: 聚合工件中某一行的来源（Line 为 0 表示生成行）。
type Origin struct {
	Doc  DocID
	Line int
}

// IsZero 报告是否为生成行（无来源）。
func (o Origin) IsZero() bool { return o.Line == 0 }

// Entry: 合成的测试条目（只追加，不修改）。
// Origins 与 Text 的行一一对应（含末尾分隔空行）。
type Entry struct {
	Name    string
	Text    string
	Origins []Origin
}
