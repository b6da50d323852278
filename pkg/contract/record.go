package contract

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Segment: 单条有向线段记录的解析视图。原始行由抽取器原样透传，此结构只用于判定。
type Segment struct {
	Tag    string
	X1, Y1 float64
	X2, Y2 float64
}

// BoundaryTag: 合成边界记录使用与普通记录相同的标签约定。
const BoundaryTag = "s"

// ParseRecord 解析一行记录：<tag> <x1> <y1> <unused> <x2> <y2> [extra...]。
// 规则：
//   - 按单个空格/制表符切分并保留空字段（双空格布局使 unused 为空串），读取位置 1,2,4,5；
//   - 若上述失败且非空字段恰为 5 个，则按 tag x1 y1 x2 y2 读取；
//   - 其余情况返回 ErrParse。
func ParseRecord(line string) (Segment, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := splitKeepEmpty(line)
	var perr error
	if len(parts) >= 6 && parts[0] != "" {
		s, err := parsePositions(parts[0], parts[1], parts[2], parts[4], parts[5])
		if err == nil {
			return s, nil
		}
		perr = err
	}
	fs := strings.Fields(line)
	if len(fs) == 5 {
		return parsePositions(fs[0], fs[1], fs[2], fs[3], fs[4])
	}
	if perr != nil {
		return Segment{}, perr
	}
	if len(fs) >= 6 {
		return parsePositions(fs[0], fs[1], fs[2], fs[4], fs[5])
	}
	return Segment{}, fmt.Errorf("%w: need two coordinate pairs, got %d fields", ErrParse, len(fs))
}

func parsePositions(tag, sx1, sy1, sx2, sy2 string) (Segment, error) {
	var v [4]float64
	for i, s := range [4]string{sx1, sy1, sx2, sy2} {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Segment{}, fmt.Errorf("%w: coordinate %q", ErrParse, s)
		}
		v[i] = f
	}
	return Segment{Tag: tag, X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

func splitKeepEmpty(s string) []string {
	out := make([]string, 0, 8)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\t' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

// FormatCoord 使用最短往返表示输出坐标，保证输出确定。
func FormatCoord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// BoundaryRecords 返回包围 ext 的 4 条合成边界记录（不含换行），
// 依次连接 (minx,miny)→(maxx,miny)→(maxx,maxy)→(minx,maxy)→(minx,miny)。
func BoundaryRecords(ext BBox) [4]string {
	x0, y0 := FormatCoord(ext.XMin), FormatCoord(ext.YMin)
	x1, y1 := FormatCoord(ext.XMax), FormatCoord(ext.YMax)
	rec := func(ax, ay, bx, by string) string {
		return BoundaryTag + " " + ax + " " + ay + "  " + bx + " " + by
	}
	return [4]string{
		rec(x0, y0, x1, y0),
		rec(x1, y0, x1, y1),
		rec(x1, y1, x0, y1),
		rec(x0, y1, x0, y0),
	}
}

// WriteBoundary 将合成边界写入 w（每条以 \n 结尾）。
func WriteBoundary(w io.Writer, ext BBox) error {
	for _, r := range BoundaryRecords(ext) {
		if _, err := io.WriteString(w, r+"\n"); err != nil {
			return err
		}
	}
	return nil
}
