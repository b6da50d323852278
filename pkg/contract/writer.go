package contract

import (
	"context"
	"io"
)

// ArtifactID: 运行目录内的工件标识（相对路径，例如 voronoi-in.3.txt）。
type ArtifactID string

// Artifact: 正在写入的工件。Commit 使内容对外可见（原子替换时为 rename）；
// Abort 丢弃已写内容。二者只需调用其一，重复调用为 no-op。
type Artifact interface {
	io.Writer
	Commit() error
	Abort() error
}

// Writer: 将工作文件持久化到运行目录。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入（O(1) 额外内存），按字节透传；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Create(ctx context.Context, id ArtifactID) (Artifact, error)
	// Path 返回 id 的最终落盘路径（供外部工具读取/写入）。
	Path(id ArtifactID) (string, error)
}
