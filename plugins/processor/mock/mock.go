package mock

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"bboxbisect/pkg/contract"
)

// 模式
const (
	ModeSucceed   = "succeed"
	ModeFail      = "fail"
	ModePoison    = "poison"
	ModeFailEmpty = "fail_empty"
)

// Options 定义可选项。
type Options struct {
	// Mode: succeed|fail|poison|fail_empty；默认 succeed。
	Mode string `json:"mode"`
	// PoisonBBox: poison 模式下的"有毒"范围，数据记录任一端点落入即失败。
	PoisonBBox *contract.BBox `json:"poison_bbox,omitempty"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Processor 是进程内确定性替身：不启动子进程，按模式判定成败。
// 成功时写出一个空的 WKT 集合到 outPath。
type Processor struct {
	mode    string
	poison  contract.BBox
	logPath string
	calls   atomic.Int64
}

var _ contract.Processor = (*Processor)(nil)

// New 构造 Processor。
func New(opts *Options) (*Processor, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	mode := strings.ToLower(strings.TrimSpace(o.Mode))
	if mode == "" {
		mode = ModeSucceed
	}
	p := &Processor{mode: mode, logPath: o.LogPath}
	switch mode {
	case ModeSucceed, ModeFail, ModeFailEmpty:
	case ModePoison:
		if o.PoisonBBox == nil {
			return nil, fmt.Errorf("%w: mock poison mode requires poison_bbox", contract.ErrInvalidInput)
		}
		if err := o.PoisonBBox.Validate(); err != nil {
			return nil, err
		}
		p.poison = *o.PoisonBBox
	default:
		return nil, fmt.Errorf("%w: mock mode %q", contract.ErrInvalidInput, o.Mode)
	}
	return p, nil
}

// Calls 返回 Process 调用次数（缓存命中时不计）。
func (p *Processor) Calls() int64 { return p.calls.Load() }

// Name 用于终端叙述。
func (p *Processor) Name() string { return "mock:" + p.mode }

// Process 实现 contract.Processor。
func (p *Processor) Process(ctx context.Context, inPath, outPath string, selector int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.calls.Add(1)
	ok, err := p.judge(inPath)
	if err != nil {
		return false, err
	}
	p.log(fmt.Sprintf("%s selector=%d ok=%t", inPath, selector, ok))
	if ok && outPath != "" {
		if err := os.WriteFile(outPath, []byte("GEOMETRYCOLLECTION EMPTY\n"), 0o644); err != nil {
			return false, fmt.Errorf("%w: %v", contract.ErrFileAccess, err)
		}
	}
	return ok, nil
}

func (p *Processor) judge(inPath string) (bool, error) {
	switch p.mode {
	case ModeSucceed:
		return true, nil
	case ModeFail:
		return false, nil
	}
	segs, valid, err := readDataRecords(inPath)
	if err != nil || !valid {
		// 真实工具对非法输入同样失败；这里以失败结果表达
		return false, err
	}
	if p.mode == ModeFailEmpty {
		return len(segs) > 0, nil
	}
	for _, s := range segs {
		if p.poison.Contains(s.X1, s.Y1) || p.poison.Contains(s.X2, s.Y2) {
			return false, nil
		}
	}
	return true, nil
}

// readDataRecords 读取输入文件的全部记录，并去掉尾部的合成边界环。
// 输入文件不可读时视为工具无法运行。
func readDataRecords(path string) ([]contract.Segment, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", contract.ErrProcessorUnavailable, err)
	}
	defer f.Close()
	var segs []contract.Segment
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		s, err := contract.ParseRecord(line)
		if err != nil {
			return nil, false, nil
		}
		segs = append(segs, s)
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", contract.ErrFileAccess, err)
	}
	if n := len(segs); n >= 5 && isBoundaryRing(segs[n-4:], lines[n-4:]) {
		segs = segs[:n-4]
	}
	return segs, true, nil
}

func isBoundaryRing(segs []contract.Segment, lines []string) bool {
	ext := contract.BBox{XMin: segs[0].X1, YMin: segs[0].Y1, XMax: segs[1].X2, YMax: segs[1].Y2}
	want := contract.BoundaryRecords(ext)
	for i := range want {
		if lines[i] != want[i] {
			return false
		}
	}
	return true
}

func (p *Processor) log(s string) {
	if p.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	f, err := os.OpenFile(p.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(s + "\n")
}
