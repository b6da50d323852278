package contract

import (
	"context"
	"io"
)

// Reader: 源文件抽象（主数据文件或父区域工作文件）。
// 约束：
// 1) 流式读取，不做解析；
// 2) 缺失/不可读时返回包装 ErrFileAccess 的错误；
// 3) 不在内部起并发。
type Reader interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}
