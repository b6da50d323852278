package contract

import "errors"

// 最小错误分类（哨兵）。调用方以 errors.Is 判定，不做字符串匹配。
var (
	// ErrFileAccess: 源文件/工作文件缺失或不可读写。
	ErrFileAccess = errors.New("file access")
	// ErrParse: 记录格式非法（字段不足或坐标非数值）。整次抽取中止，不做静默跳过。
	ErrParse = errors.New("parse error")
	// ErrInvalidInput: 调用方参数非法（例如 bbox 次序颠倒、划分数非平方数）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrProcessorUnavailable: 外部工具无法启动（可执行文件缺失等）。
	// 注意：非零退出码不是错误，而是 Process 返回的 false。
	ErrProcessorUnavailable = errors.New("processor unavailable")
	// ErrPathInvalid: 工件标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
)
