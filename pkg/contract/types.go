package contract

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BBox: 轴对齐矩形范围（闭区间）。不变量：XMin<=XMax 且 YMin<=YMax。
type BBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// ParseBBox 解析 "xmin,ymin,xmax,ymax"（允许空白）。
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("%w: bbox needs 4 comma-separated numbers, got %q", ErrInvalidInput, s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("%w: bbox component %d: %v", ErrInvalidInput, i+1, err)
		}
		v[i] = f
	}
	b := BBox{XMin: v[0], YMin: v[1], XMax: v[2], YMax: v[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}

// Validate 校验次序不变量。
func (b BBox) Validate() error {
	if b.XMin > b.XMax || b.YMin > b.YMax {
		return fmt.Errorf("%w: bbox %s has min > max", ErrInvalidInput, b)
	}
	return nil
}

// Contains: 点是否落在闭区间内（含边界）。
func (b BBox) Contains(x, y float64) bool {
	return x >= b.XMin && x <= b.XMax && y >= b.YMin && y <= b.YMax
}

// Expand 向外扩展 m（四边）。
func (b BBox) Expand(m float64) BBox {
	return BBox{XMin: b.XMin - m, YMin: b.YMin - m, XMax: b.XMax + m, YMax: b.YMax + m}
}

// Width/Height 便于测试与日志。
func (b BBox) Width() float64  { return b.XMax - b.XMin }
func (b BBox) Height() float64 { return b.YMax - b.YMin }

// Area 面积（退化矩形为 0）。
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// String 形如 [xmin, ymin, xmax, ymax]。
func (b BBox) String() string {
	return "[" + FormatCoord(b.XMin) + ", " + FormatCoord(b.YMin) + ", " + FormatCoord(b.XMax) + ", " + FormatCoord(b.YMax) + "]"
}

// Containment: 线段端点的包含判定策略。
type Containment string

const (
	// ContainAny: 任一端点在 bbox 内即保留（默认；保守的过量包含）。
	ContainAny Containment = "any"
	// ContainAll: 两端点都在 bbox 内才保留（严格）。
	ContainAll Containment = "all"
)

// ParseContainment 解析策略名；空串取默认 any。
func ParseContainment(s string) (Containment, error) {
	switch Containment(strings.ToLower(strings.TrimSpace(s))) {
	case "", ContainAny:
		return ContainAny, nil
	case ContainAll:
		return ContainAll, nil
	default:
		return "", fmt.Errorf("%w: containment %q (want any|all)", ErrInvalidInput, s)
	}
}

// Keep 判定线段 (x1,y1)-(x2,y2) 是否保留。
func (c Containment) Keep(b BBox, x1, y1, x2, y2 float64) bool {
	if c == ContainAll {
		return b.Contains(x1, y1) && b.Contains(x2, y2)
	}
	return b.Contains(x1, y1) || b.Contains(x2, y2)
}

// Outcome: 单个区域的外部工具结果。
type Outcome int

const (
	OutcomeUnset Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unset"
	}
}

// Collapse: 可选诊断的拓扑塌缩标注（仅用于报告）。
type Collapse int

const (
	CollapseUnknown Collapse = iota
	CollapseNone
	CollapseSuspected
)

func (c Collapse) String() string {
	switch c {
	case CollapseNone:
		return "no"
	case CollapseSuspected:
		return "suspected"
	default:
		return "unknown"
	}
}

// Source: 抽取阶段的输入描述。
// - HeaderLines: 跳过的前导行数（初始区域通常为 4）；
// - MaxRecords: 最多读取的数据记录数；-1 表示全部。
// 子区域读取父区域工作文件时 MaxRecords=父区域 SegmentCount，以排除父文件尾部的 4 条合成边界。
type Source struct {
	Path        string
	HeaderLines int
	MaxRecords  int
}

// HeaderLineCount: bbox 头部固定为 4 行。
const HeaderLineCount = 4

// Region: 一次二分试验的候选区域。
// 仅由当前持有它的阶段修改（抽取写 SegmentCount，处理写 Outcome），离开栈后不再修改。
type Region struct {
	ID       int64
	ParentID int64 // 根区域为 0
	Depth    int   // 根区域为 0
	BBox     BBox
	// HasHeaderLines: 源文件是否以 4 行 bbox 头开始。仅初始区域可能为 true。
	HasHeaderLines bool
	// SegmentCount: 抽取后写入的非合成记录数；-1 表示未知（未抽取或抽取失败）。
	SegmentCount int
	InputPath    string
	OutputPath   string
	Outcome      Outcome
	Collapse     Collapse
	Duration     time.Duration
	// Cached: 结果来自输出缓存（未重复调用外部工具）。
	Cached bool
	// Err: 仅 on_region_error=record 时记录的区域级错误。
	Err error
}

// Irreducible: 失败且不可再分（SegmentCount<=1）。
func (r Region) Irreducible() bool {
	return r.Outcome == OutcomeFailure && r.Err == nil && r.SegmentCount <= 1
}
