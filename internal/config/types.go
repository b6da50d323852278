package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Input: 主数据文件（分段文本）。
	Input string `json:"input"`
	// OutDir: 输出根目录；每次运行在其下创建时间戳子目录。
	OutDir string `json:"out_dir"`
	// BBox: 初始搜索范围 "xmin,ymin,xmax,ymax"。
	BBox string `json:"bbox"`
	// Division: 每次细分的子区域数，须为 >=4 的完全平方数。
	Division int `json:"division"`
	// VoronoiConfigNum: 透传给外部工具的配置编号；nil 视为未设置，0 为合法取值。
	VoronoiConfigNum *int `json:"voronoi_config_num,omitempty"`
	// ExcludesHeader: 主文件不含 4 行 bbox 头。
	ExcludesHeader bool `json:"in_file_excludes_bbox_header"`

	// SourceMode: parent|master。
	SourceMode string `json:"source_mode"`
	// OnRegionError: abort|record。
	OnRegionError string `json:"on_region_error"`
	// MaxDepth: 细分深度上限；0 不限。
	MaxDepth int `json:"max_depth"`
	// CacheSize: 结果缓存容量；<=0 关闭（默认关闭，每个区域都调用外部工具）。
	CacheSize int `json:"cache_size"`

	// 快捷项：装配时写入对应组件 Options（非空才覆盖）。
	Containment string `json:"containment,omitempty"`
	Voronoi     string `json:"voronoi,omitempty"`

	Logging Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader    string `json:"reader"`
	Writer    string `json:"writer"`
	Extractor string `json:"extractor"`
	Processor string `json:"processor"`
	Diagnoser string `json:"diagnoser"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader    json.RawMessage `json:"reader"`
	Writer    json.RawMessage `json:"writer"`
	Extractor json.RawMessage `json:"extractor"`
	Processor json.RawMessage `json:"processor"`
	Diagnoser json.RawMessage `json:"diagnoser"`
}
