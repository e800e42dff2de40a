package contract

import "iter"

// Extractor: 扫描源单元文本，产出目标语言围栏区域的代码块序列。
// 约束：
//  1. 惰性、有限、不可重启：每次调用 Extract 返回新的序列，同一序列值只消费一次；
//  2. 无匹配围栏时产出空序列（不是错误）；
//  3. Block.Index 自 1 递增；Lines 原样保留缩进与区域内空行；
//  4. 纯计算，不做 I/O。
type Extractor interface {
	Extract(unit SourceUnit) iter.Seq[Block]
}

// Filter: 隐藏区过滤器。
// 约束：扁平（不嵌套）的 start/end 标记对；永不失败；
// 未闭合的 start 隐藏至块尾；孤立的 end 为空操作。
type Filter interface {
	Split(b Block) Filtered
}

// Synthesizer: 将块的代码行（默认为 Filtered.Code）包装为唯一命名的测试函数条目。
// 约束：纯函数；名称仅由 (doc, index) 决定，同一轮内 (doc, index) 唯一即名称唯一。
type Synthesizer interface {
	Synthesize(doc DocID, index int, lines []Line) Entry
}
