package contract

import "errors"

// 最小错误分类（用于上层策略判定与日志分类）。
var (
	// ErrInvalidInput: 输入/选项不合法（例如空语言标记、非法哨兵）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrPassState: 两阶段驱动的状态违例（未 BeginPass 即处理、重复 EndPass 等）。
	ErrPassState = errors.New("pass state violation")
	// ErrArtifactWrite: 聚合工件无法重置/追加；本轮校验失去意义，必须中止。
	ErrArtifactWrite = errors.New("artifact write failed")
	// ErrCompilerLaunch: 外部编译器/测试运行器无法启动（非“编译失败”）。
	ErrCompilerLaunch = errors.New("compiler launch failed")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
