package contract

import "context"

// Processor: 外部几何工具适配器。
// 返回 true 表示退出码为 0；非零退出码返回 false 且 err 为 nil（预期结果，不是异常）。
// 仅当工具无法启动时返回错误（包装 ErrProcessorUnavailable）。
type Processor interface {
	Process(ctx context.Context, inPath, outPath string, selector int) (bool, error)
}
