package contract

import (
	"context"
	"io"
)

// ExtractResult: 一次抽取的计数与范围。
type ExtractResult struct {
	// Kept: 写入的非合成记录数（即区域的 SegmentCount）。
	Kept int
	// Scanned: 读取的数据记录数（不含头部与被截断的尾部）。
	Scanned int
	// Extent: 保留记录端点的紧致外包矩形；Kept==0 时为零值。
	Extent BBox
	// Boundary: 是否追加了 4 条合成边界。
	Boundary bool
}

// Extractor: 从源文件中为 box 选出相关线段，写入 dst，并按需追加合成边界。
// 约束：
//   - 记录原样透传（字节一致）；
//   - 同一 (src, box) 重复调用输出字节一致；
//   - 缺失源 → ErrFileAccess；非法记录 → ErrParse（整次中止）。
type Extractor interface {
	Extract(ctx context.Context, src Source, box BBox, dst io.Writer) (ExtractResult, error)
}
