package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"bboxbisect/pkg/contract"
)

// SummaryArtifact 为运行目录中的机器可读汇总。
const SummaryArtifact contract.ArtifactID = "summary.json"

// Entry 为报告中的单个区域条目。
type Entry struct {
	ID           int64         `json:"id"`
	ParentID     int64         `json:"parent_id"`
	Depth        int           `json:"depth"`
	BBox         contract.BBox `json:"bbox"`
	SegmentCount int           `json:"segment_count"`
	InputPath    string        `json:"input_path,omitempty"`
	Collapse     string        `json:"collapse,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Summary 为一次搜索的最终汇总。
type Summary struct {
	Visited          int     `json:"visited"`
	FailuresObserved int     `json:"failures_observed"`
	CacheHits        int     `json:"cache_hits"`
	Irreducible      []Entry `json:"irreducible"`
	Unresolved       []Entry `json:"unresolved"`
	Errored          []Entry `json:"errored"`
	DurationMS       int64   `json:"duration_ms"`
}

// Reporter 累积搜索结果。按发现顺序保存，不排序。
type Reporter struct {
	mu       sync.Mutex
	start    time.Time
	end      time.Time
	visited  int
	failures int
	hits     int
	irr      []Entry
	unres    []Entry
	errd     []Entry
}

// New 创建 Reporter，计时从此刻开始。
func New() *Reporter { return &Reporter{start: time.Now()} }

// Observe 记录一个已完成的区域（所有区域都经过此处）。
func (r *Reporter) Observe(reg contract.Region) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visited++
	if reg.Outcome == contract.OutcomeFailure {
		r.failures++
	}
	if reg.Cached {
		r.hits++
	}
}

// AddIrreducible 记录不可约失败（失败且段数 <= 1）。
func (r *Reporter) AddIrreducible(reg contract.Region) {
	r.mu.Lock()
	r.irr = append(r.irr, entryOf(reg, true))
	r.mu.Unlock()
}

// AddUnresolved 记录因深度上限停止细分的失败区域（可能不收敛）。
func (r *Reporter) AddUnresolved(reg contract.Region) {
	r.mu.Lock()
	r.unres = append(r.unres, entryOf(reg, true))
	r.mu.Unlock()
}

// AddErrored 记录抽取/运行出错而降级为失败的区域。
func (r *Reporter) AddErrored(reg contract.Region) {
	r.mu.Lock()
	r.errd = append(r.errd, entryOf(reg, false))
	r.mu.Unlock()
}

// Finish 冻结耗时；重复调用以首次为准。
func (r *Reporter) Finish() {
	r.mu.Lock()
	if r.end.IsZero() {
		r.end = time.Now()
	}
	r.mu.Unlock()
}

// HasFailures: 存在任何不可约/未决/出错区域。
func (r *Reporter) HasFailures() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.irr)+len(r.unres)+len(r.errd) > 0
}

// Summary 返回当前汇总的副本。
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := r.end
	if end.IsZero() {
		end = time.Now()
	}
	return Summary{
		Visited:          r.visited,
		FailuresObserved: r.failures,
		CacheHits:        r.hits,
		Irreducible:      append([]Entry{}, r.irr...),
		Unresolved:       append([]Entry{}, r.unres...),
		Errored:          append([]Entry{}, r.errd...),
		DurationMS:       end.Sub(r.start).Milliseconds(),
	}
}

// WriteSummary 输出控制台汇总。
func (r *Reporter) WriteSummary(w io.Writer) error {
	s := r.Summary()
	var b strings.Builder
	b.WriteString("=======================\n")
	b.WriteString("Summary\n")
	fmt.Fprintf(&b, "  regions visited: %d\n", s.Visited)
	fmt.Fprintf(&b, "  failures observed: %d\n", s.FailuresObserved)
	if s.CacheHits > 0 {
		fmt.Fprintf(&b, "  cache hits: %d\n", s.CacheHits)
	}
	fmt.Fprintf(&b, "%d irreducible failures\n", len(s.Irreducible))
	for _, e := range s.Irreducible {
		fmt.Fprintf(&b, "  - id %d: bbox %s, %d segments", e.ID, e.BBox, e.SegmentCount)
		if e.Collapse != "" {
			fmt.Fprintf(&b, ", collapse %s", e.Collapse)
		}
		if e.InputPath != "" {
			fmt.Fprintf(&b, ", in %s", e.InputPath)
		}
		b.WriteByte('\n')
	}
	if len(s.Unresolved) > 0 {
		fmt.Fprintf(&b, "%d unresolved regions (depth limit reached; possible non-termination)\n", len(s.Unresolved))
		for _, e := range s.Unresolved {
			fmt.Fprintf(&b, "  - id %d: bbox %s, %d segments, depth %d\n", e.ID, e.BBox, e.SegmentCount, e.Depth)
		}
	}
	if len(s.Errored) > 0 {
		fmt.Fprintf(&b, "%d errored regions\n", len(s.Errored))
		for _, e := range s.Errored {
			fmt.Fprintf(&b, "  - id %d: bbox %s: %s\n", e.ID, e.BBox, e.Error)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON 将汇总以 summary.json 原子写入运行目录。
func (r *Reporter) WriteJSON(ctx context.Context, w contract.Writer) error {
	b, err := json.MarshalIndent(r.Summary(), "", "  ")
	if err != nil {
		return err
	}
	a, err := w.Create(ctx, SummaryArtifact)
	if err != nil {
		return err
	}
	if _, err := a.Write(append(b, '\n')); err != nil {
		_ = a.Abort()
		return err
	}
	return a.Commit()
}

func entryOf(reg contract.Region, withCollapse bool) Entry {
	e := Entry{
		ID:           reg.ID,
		ParentID:     reg.ParentID,
		Depth:        reg.Depth,
		BBox:         reg.BBox,
		SegmentCount: reg.SegmentCount,
		InputPath:    reg.InputPath,
	}
	if withCollapse && reg.Collapse != contract.CollapseUnknown {
		e.Collapse = reg.Collapse.String()
	}
	if reg.Err != nil {
		e.Error = reg.Err.Error()
	}
	return e
}
