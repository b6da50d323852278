package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"bboxbisect/internal/diag"
	"bboxbisect/internal/report"
	"bboxbisect/pkg/contract"
)

// - 单 goroutine：一个区域处理完毕（抽取 → 运行 → 判定）后才弹出下一个。
// - 深度优先：后进先出栈；子区域按生成顺序入栈，最后生成的最先处理。
// - 区域 ID 由引擎计数器分配，创建即分配，永不复用。
// - 工具失败是数据（false），不是错误；只有抽取/写入/启动失败才是错误。

// 源派生方式
const (
	SourceParent = "parent"
	SourceMaster = "master"
)

// 区域级错误策略
const (
	OnErrorAbort  = "abort"
	OnErrorRecord = "record"
)

// Components 聚合运行所需的组件。Diagnoser 可为 nil。
type Components struct {
	Extractor contract.Extractor
	Processor contract.Processor
	Diagnoser contract.Diagnoser
	Writer    contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// Master: 主数据文件路径。
	Master string
	// BBox: 初始搜索范围。
	BBox contract.BBox
	// HasHeaderLines: 主文件是否以 4 行 bbox 头开始。
	HasHeaderLines bool
	// Grid: 每轴等分数 k（子区域数 k²），>=2。
	Grid int
	// Selector: 透传给外部工具的配置编号。
	Selector int
	// SourceMode: parent|master；空取 parent。
	SourceMode string
	// OnRegionError: abort|record；空取 abort。
	OnRegionError string
	// MaxDepth: 细分深度上限；0 表示不限。
	MaxDepth int
	// CacheSize: 结果缓存容量；0 关闭。
	CacheSize int
}

// item 为栈元素：区域与其抽取源。
type item struct {
	region      contract.Region
	src         contract.Source
	parentCount int
}

// Engine 为二分搜索引擎。单次使用：一个 Engine 对应一次 Run。
type Engine struct {
	comp   Components
	set    Settings
	logger *diag.Logger
	nextID int64
	cache  *lru.Cache[string, contract.Outcome]
	rep    *report.Reporter
}

// New 校验并构造引擎。
func New(comp Components, set Settings, logger *diag.Logger) (*Engine, error) {
	if err := sanity(comp, &set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	e := &Engine{comp: comp, set: set, logger: logger, rep: report.New()}
	if set.CacheSize > 0 {
		c, err := lru.New[string, contract.Outcome](set.CacheSize)
		if err != nil {
			return nil, err
		}
		e.cache = c
	}
	return e, nil
}

// Run 构造引擎并执行一次搜索。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (*report.Reporter, error) {
	e, err := New(comp, set, logger)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx)
}

// Run 执行搜索直至栈空。返回的 Reporter 在出错时也包含已完成部分。
func (e *Engine) Run(ctx context.Context) (*report.Reporter, error) {
	defer e.rep.Finish()
	t := e.logger.StartWithKV("search", "run", 0, map[string]string{
		"bbox":        e.set.BBox.String(),
		"grid":        strconv.Itoa(e.set.Grid),
		"source_mode": e.set.SourceMode,
	})

	root := contract.Region{
		ID:             e.newID(),
		BBox:           e.set.BBox,
		HasHeaderLines: e.set.HasHeaderLines,
		SegmentCount:   -1,
	}
	stack := []item{{region: root, src: e.masterSource(), parentCount: -1}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			e.logger.Error("search", string(diag.CodeCancel), "run canceled", nil)
			return e.rep, err
		}
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		r, err := e.visit(ctx, it)
		if err != nil {
			return e.rep, err
		}
		e.rep.Observe(r)
		if r.Outcome != contract.OutcomeFailure {
			continue
		}
		switch {
		case r.Err != nil:
			e.rep.AddErrored(r)
		case r.Irreducible():
			e.rep.AddIrreducible(r)
		case e.set.MaxDepth > 0 && r.Depth >= e.set.MaxDepth:
			e.logger.Warn("search", "depth_limit", r.ID, map[string]string{
				"depth":    strconv.Itoa(r.Depth),
				"segments": strconv.Itoa(r.SegmentCount),
			})
			e.rep.AddUnresolved(r)
		default:
			stack = append(stack, e.children(r)...)
		}
	}
	t.Finish("run", int64(e.rep.Summary().Visited))
	diag.IncOp("search", "finish", "success")
	e.logger.DebugStart("search", "metrics", 0, diag.SnapshotKV())
	return e.rep, nil
}

// visit 处理单个区域：抽取 → 运行外部工具 → 可选诊断。
func (e *Engine) visit(ctx context.Context, it item) (contract.Region, error) {
	r := it.region
	inID := contract.InputArtifact(r.ID)
	outID := contract.OutputArtifact(r.ID)
	var err error
	if r.InputPath, err = e.comp.Writer.Path(inID); err != nil {
		return r, fmt.Errorf("region %d: %w", r.ID, err)
	}
	if r.OutputPath, err = e.comp.Writer.Path(outID); err != nil {
		return r, fmt.Errorf("region %d: %w", r.ID, err)
	}

	digest, err := e.extract(ctx, &r, it.src, inID)
	if err != nil {
		return e.regionError(ctx, r, "extractor", err)
	}
	if it.parentCount >= 0 && r.SegmentCount == it.parentCount {
		// 子区域计数未下降：任一端点包含策略下可能无法收敛
		e.logger.Warn("search", "no_progress", r.ID, map[string]string{
			"parent_id": strconv.FormatInt(r.ParentID, 10),
			"segments":  strconv.Itoa(r.SegmentCount),
		})
		diag.IncOp("search", "no_progress", "warn")
	}

	term := diag.GetTerminal()
	term.RegionStart(r)
	start := time.Now()
	if outcome, ok := e.cached(digest); ok {
		r.Outcome = outcome
		r.Cached = true
		diag.IncOp("processor", "cache", "hit")
	} else {
		ok, perr := e.process(ctx, r)
		if perr != nil {
			r.Duration = time.Since(start)
			return e.regionError(ctx, r, "processor", perr)
		}
		r.Outcome = contract.OutcomeFailure
		if ok {
			r.Outcome = contract.OutcomeSuccess
		}
		if e.cache != nil && digest != "" {
			e.cache.Add(digest, r.Outcome)
		}
	}
	r.Duration = time.Since(start)

	if r.Outcome == contract.OutcomeFailure && e.comp.Diagnoser != nil {
		r.Collapse = e.diagnose(ctx, r)
	}
	term.RegionFinish(r)
	return r, nil
}

func (e *Engine) extract(ctx context.Context, r *contract.Region, src contract.Source, id contract.ArtifactID) (string, error) {
	t := e.logger.StartWithKV("extractor", "extract", r.ID, map[string]string{
		"bbox":   r.BBox.String(),
		"source": src.Path,
	})
	a, err := e.comp.Writer.Create(ctx, id)
	if err != nil {
		return "", err
	}
	var h hash.Hash
	var dst io.Writer = a
	if e.cache != nil {
		h = sha256.New()
		dst = io.MultiWriter(a, h)
	}
	res, err := e.comp.Extractor.Extract(ctx, src, r.BBox, dst)
	if err != nil {
		_ = a.Abort()
		return "", err
	}
	if err := a.Commit(); err != nil {
		_ = a.Abort()
		return "", err
	}
	r.SegmentCount = res.Kept
	t.FinishKV("extract", int64(res.Kept), map[string]string{"scanned": strconv.Itoa(res.Scanned)})
	diag.IncOp("extractor", "finish", "success")
	diag.ObserveDuration("extractor", "finish", t.Elapsed().Milliseconds())
	if h == nil {
		return "", nil
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (e *Engine) process(ctx context.Context, r contract.Region) (bool, error) {
	t := e.logger.StartWithKV("processor", "process", r.ID, map[string]string{
		"in":       r.InputPath,
		"selector": strconv.Itoa(e.set.Selector),
	})
	ok, err := e.comp.Processor.Process(ctx, r.InputPath, r.OutputPath, e.set.Selector)
	if err != nil {
		return false, err
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	t.FinishKV("process", int64(r.SegmentCount), map[string]string{"result": result})
	diag.IncOp("processor", "finish", result)
	diag.ObserveDuration("processor", "finish", t.Elapsed().Milliseconds())
	return ok, nil
}

// diagnose 的任何错误只留下 unknown，不影响控制流。
func (e *Engine) diagnose(ctx context.Context, r contract.Region) contract.Collapse {
	t := e.logger.StartWith("diagnoser", "diagnose", r.ID)
	c, err := e.comp.Diagnoser.Diagnose(ctx, r)
	if err != nil {
		code := diag.Classify(err)
		e.logger.ErrorWith("diagnoser", string(code), err.Error(), nil, r.ID)
		diag.IncError("diagnoser", string(code))
		return contract.CollapseUnknown
	}
	t.FinishKV("diagnose", 0, map[string]string{"collapse": c.String()})
	return c
}

// regionError 按策略处理区域级错误：abort 直接上抛；record 降级为该区域失败。
func (e *Engine) regionError(ctx context.Context, r contract.Region, comp string, err error) (contract.Region, error) {
	code := diag.Classify(err)
	e.logger.ErrorWithKV(comp, string(code), err.Error(), nil, r.ID, map[string]string{"bbox": r.BBox.String()})
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || e.set.OnRegionError != OnErrorRecord {
		return r, fmt.Errorf("region %d: %s: %w", r.ID, comp, err)
	}
	r.SegmentCount = -1
	r.Outcome = contract.OutcomeFailure
	r.Err = err
	diag.GetTerminal().RegionFinish(r)
	return r, nil
}

func (e *Engine) cached(digest string) (contract.Outcome, bool) {
	if e.cache == nil || digest == "" {
		return contract.OutcomeUnset, false
	}
	return e.cache.Get(digest)
}

// children 细分失败区域；按生成顺序返回（调用方依次入栈）。
func (e *Engine) children(parent contract.Region) []item {
	cells := Subdivide(parent.BBox, e.set.Grid)
	out := make([]item, 0, len(cells))
	for _, b := range cells {
		child := contract.Region{
			ID:           e.newID(),
			ParentID:     parent.ID,
			Depth:        parent.Depth + 1,
			BBox:         b,
			SegmentCount: -1,
		}
		src := e.masterSource()
		if e.set.SourceMode == SourceParent {
			src = contract.Source{Path: parent.InputPath, HeaderLines: 0, MaxRecords: parent.SegmentCount}
		}
		out = append(out, item{region: child, src: src, parentCount: parent.SegmentCount})
	}
	return out
}

func (e *Engine) masterSource() contract.Source {
	src := contract.Source{Path: e.set.Master, MaxRecords: -1}
	if e.set.HasHeaderLines {
		src.HeaderLines = contract.HeaderLineCount
	}
	return src
}

func (e *Engine) newID() int64 {
	e.nextID++
	return e.nextID
}

// Subdivide 将 b 在 x、y 上各等分 k 份，返回 k² 个子矩形。
// 次序：外层 x 列、内层 y 行；每轴最后一格的上界对齐父区域上界，使铺砌无缝。
func Subdivide(b contract.BBox, k int) []contract.BBox {
	if k < 1 {
		return nil
	}
	w := b.Width() / float64(k)
	h := b.Height() / float64(k)
	out := make([]contract.BBox, 0, k*k)
	for i := 0; i < k; i++ {
		x0 := b.XMin + float64(i)*w
		x1 := b.XMin + float64(i+1)*w
		if i == k-1 {
			x1 = b.XMax
		}
		for j := 0; j < k; j++ {
			y0 := b.YMin + float64(j)*h
			y1 := b.YMin + float64(j+1)*h
			if j == k-1 {
				y1 = b.YMax
			}
			out = append(out, contract.BBox{XMin: x0, YMin: y0, XMax: x1, YMax: y1})
		}
	}
	return out
}

func sanity(c Components, s *Settings) error {
	if c.Extractor == nil || c.Processor == nil || c.Writer == nil {
		return errors.New("components incomplete")
	}
	if strings.TrimSpace(s.Master) == "" {
		return fmt.Errorf("%w: master input path is empty", contract.ErrInvalidInput)
	}
	if err := s.BBox.Validate(); err != nil {
		return err
	}
	if s.Grid < 2 {
		return fmt.Errorf("%w: grid must be >= 2, got %d", contract.ErrInvalidInput, s.Grid)
	}
	if s.MaxDepth < 0 || s.CacheSize < 0 {
		return fmt.Errorf("%w: max_depth and cache_size must be >= 0", contract.ErrInvalidInput)
	}
	switch s.SourceMode {
	case "":
		s.SourceMode = SourceParent
	case SourceParent, SourceMaster:
	default:
		return fmt.Errorf("%w: source_mode %q (want parent|master)", contract.ErrInvalidInput, s.SourceMode)
	}
	switch s.OnRegionError {
	case "":
		s.OnRegionError = OnErrorAbort
	case OnErrorAbort, OnErrorRecord:
	default:
		return fmt.Errorf("%w: on_region_error %q (want abort|record)", contract.ErrInvalidInput, s.OnRegionError)
	}
	return nil
}
