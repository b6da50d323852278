package segfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"bboxbisect/pkg/contract"
)

// Options 为分段文本抽取器的可选配置（最小必要）。
type Options struct {
	// Margin: 合成边界相对保留端点紧致外包的外扩量。默认 10。
	Margin *float64 `json:"margin,omitempty"`
	// Containment: any|all；默认 any（任一端点在 bbox 内即保留）。
	Containment string `json:"containment,omitempty"`
	// Boundary: 是否追加 4 条合成边界。默认 true。
	Boundary *bool `json:"boundary,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认 64KiB。
	BufSize int `json:"buf_size,omitempty"`
}

// DefaultMargin 为合成边界的默认外扩量。
const DefaultMargin = 10.0

// Extractor 实现 contract.Extractor：流式扫描源文件，原样透传被选中的记录。
type Extractor struct {
	r        contract.Reader
	margin   float64
	contain  contract.Containment
	boundary bool
	bufSize  int
}

var _ contract.Extractor = (*Extractor)(nil)

// New 创建抽取器；r 负责打开源文件。
func New(r contract.Reader, opts *Options) (*Extractor, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: extractor requires a reader", contract.ErrInvalidInput)
	}
	e := &Extractor{r: r, margin: DefaultMargin, contain: contract.ContainAny, boundary: true, bufSize: 64 * 1024}
	if opts == nil {
		return e, nil
	}
	if opts.Margin != nil {
		if *opts.Margin < 0 || math.IsNaN(*opts.Margin) || math.IsInf(*opts.Margin, 0) {
			return nil, fmt.Errorf("%w: margin must be a finite number >= 0", contract.ErrInvalidInput)
		}
		e.margin = *opts.Margin
	}
	c, err := contract.ParseContainment(opts.Containment)
	if err != nil {
		return nil, err
	}
	e.contain = c
	if opts.Boundary != nil {
		e.boundary = *opts.Boundary
	}
	if opts.BufSize > 0 {
		e.bufSize = opts.BufSize
	}
	return e, nil
}

// Containment 返回生效的包含策略（用于日志）。
func (e *Extractor) Containment() contract.Containment { return e.contain }

// Extract 读取 src，保留与 box 相交的记录并写入 dst。
// - 跳过前 HeaderLines 行；随后最多读取 MaxRecords 条数据记录（<0 不限）；
// - 空行忽略（不计数、不透传）；
// - 行号为源文件中的 1 基行号。
func (e *Extractor) Extract(ctx context.Context, src contract.Source, box contract.BBox, dst io.Writer) (contract.ExtractResult, error) {
	var res contract.ExtractResult
	if err := box.Validate(); err != nil {
		return res, err
	}
	rc, err := e.r.Open(ctx, src.Path)
	if err != nil {
		return res, err
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	bw := bufio.NewWriterSize(dst, e.bufSize)
	ext := emptyExtent()
	lineNo := 0
	// 最后一条保留记录缺少换行（文件末行）时，在追加合成边界前补齐
	unterminated := false
	for {
		if src.MaxRecords >= 0 && res.Scanned >= src.MaxRecords && lineNo >= src.HeaderLines {
			break
		}
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		line, rerr := br.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return res, fmt.Errorf("%w: read %s: %v", contract.ErrFileAccess, src.Path, rerr)
		}
		if line == "" && rerr != nil {
			break
		}
		lineNo++
		if lineNo <= src.HeaderLines {
			if rerr != nil {
				break
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			if rerr != nil {
				break
			}
			continue
		}
		seg, perr := contract.ParseRecord(line)
		if perr != nil {
			return res, fmt.Errorf("%s line %d: %w", src.Path, lineNo, perr)
		}
		res.Scanned++
		if e.contain.Keep(box, seg.X1, seg.Y1, seg.X2, seg.Y2) {
			if _, err := bw.WriteString(line); err != nil {
				return res, fmt.Errorf("%w: write: %v", contract.ErrFileAccess, err)
			}
			res.Kept++
			unterminated = !strings.HasSuffix(line, "\n")
			ext.add(seg.X1, seg.Y1)
			ext.add(seg.X2, seg.Y2)
		}
		if rerr != nil {
			break
		}
	}
	if res.Kept > 0 {
		res.Extent = ext.BBox
		if e.boundary {
			if unterminated {
				if err := bw.WriteByte('\n'); err != nil {
					return res, fmt.Errorf("%w: write: %v", contract.ErrFileAccess, err)
				}
			}
			if err := contract.WriteBoundary(bw, ext.Expand(e.margin)); err != nil {
				return res, fmt.Errorf("%w: write boundary: %v", contract.ErrFileAccess, err)
			}
			res.Boundary = true
		}
	}
	if err := bw.Flush(); err != nil {
		return res, fmt.Errorf("%w: flush: %v", contract.ErrFileAccess, err)
	}
	return res, nil
}

// extent 累计保留端点的紧致外包。
type extent struct{ contract.BBox }

func emptyExtent() *extent {
	return &extent{contract.BBox{XMin: math.Inf(1), YMin: math.Inf(1), XMax: math.Inf(-1), YMax: math.Inf(-1)}}
}

func (x *extent) add(px, py float64) {
	x.XMin = math.Min(x.XMin, px)
	x.YMin = math.Min(x.YMin, py)
	x.XMax = math.Max(x.XMax, px)
	x.YMax = math.Max(x.YMax, py)
}
