package contract

import (
	"path"
	"strconv"
	"strings"
)

// NormalizeArtifactID 规范化工件标识，统一为跨平台稳定形式。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeArtifactID(p string) ArtifactID {
	s := strings.ReplaceAll(p, "\\", "/")
	return ArtifactID(path.Clean(s))
}

// InputArtifact/OutputArtifact: 区域工作文件的确定性命名（由区域 ID 唯一决定）。
func InputArtifact(id int64) ArtifactID {
	return ArtifactID("voronoi-in." + formatID(id) + ".txt")
}

func OutputArtifact(id int64) ArtifactID {
	return ArtifactID("voronoi-out." + formatID(id) + ".wkt")
}

// LogArtifact: 外部工具的 stdout/stderr 捕获文件。
func LogArtifact(id int64) ArtifactID {
	return ArtifactID("voronoi-out." + formatID(id) + ".log")
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
