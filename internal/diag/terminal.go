package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"bboxbisect/pkg/contract"
)

// Terminal: 终端叙述（非日志）。
// - 输出到提供的 io.Writer（默认 stdout）。
// - 每个区域：开始时给出 id/bbox/段数；结束时给出耗时与成败。
// - TTY: 运行中一行 \r 覆盖；非 TTY: 仅分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	division  int
	processor string
	visited   int
	failed    int
	runStart  time.Time

	lastLen int

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 search 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stdout
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录运行上下文。
func (t *Terminal) RunStart(runDir string, division int, processor string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.division = division
	t.processor = processor
	t.visited = 0
	t.failed = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] dir=%s | division=%d | processor=%s", safe(runDir), division, safe(processor)))
}

// RegionStart: 区域已抽取，即将调用外部工具。
func (t *Terminal) RegionStart(r contract.Region) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.println("-----------------------")
	t.println(fmt.Sprintf("[region %d] depth=%d | bbox=%s | segments=%d", r.ID, r.Depth, r.BBox, r.SegmentCount))
	t.println(fmt.Sprintf("  in:  %s", safe(r.InputPath)))
	t.println(fmt.Sprintf("  out: %s", safe(r.OutputPath)))
	if t.isTTY {
		t.printInline(fmt.Sprintf("  running… (已访问 %d | 失败 %d | 用时 %s)", t.visited, t.failed, formatSince(t.runStart)))
	}
}

// RegionFinish: 区域结果（成败、耗时、可选塌缩标注）。
func (t *Terminal) RegionFinish(r contract.Region) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.visited++
	status := "pass"
	if r.Outcome != contract.OutcomeSuccess {
		status = "fail"
		t.failed++
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	line := fmt.Sprintf("  [%s] run time %s", status, formatDur(r.Duration))
	if r.Cached {
		line += " | cached"
	}
	if r.Outcome == contract.OutcomeFailure && r.Collapse != contract.CollapseUnknown {
		line += " | collapse=" + r.Collapse.String()
	}
	if r.Err != nil {
		line += " | error=" + safe(r.Err.Error())
	}
	t.println(line)
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.println(fmt.Sprintf("[%s] 全部完成 | 区域 %d | 失败 %d | 总用时 %s", tag, t.visited, t.failed, formatDur(dur)))
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if pad > 0 || s == "" {
		b.WriteByte('\r')
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
