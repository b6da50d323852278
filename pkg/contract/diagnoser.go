package contract

import "context"

// Diagnoser: 失败后的可选诊断（拓扑塌缩检查）。
// 结果只用于丰富报告，绝不影响搜索控制流；错误为非致命。
type Diagnoser interface {
	Diagnose(ctx context.Context, r Region) (Collapse, error)
}
