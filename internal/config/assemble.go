package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"bboxbisect/internal/search"
	"bboxbisect/pkg/contract"
	"bboxbisect/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Input) == "" {
		return errors.New("config: input not set")
	}
	if strings.TrimSpace(cfg.OutDir) == "" {
		return errors.New("config: out_dir not set")
	}
	if strings.TrimSpace(cfg.BBox) == "" {
		return errors.New("config: bbox not set")
	}
	if _, err := contract.ParseBBox(cfg.BBox); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := GridOf(cfg.Division); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Selector() < 0 {
		return errors.New("config: voronoi_config_num must be >= 0")
	}
	if cfg.MaxDepth < 0 {
		return errors.New("config: max_depth must be >= 0")
	}
	switch cfg.SourceMode {
	case "", search.SourceParent, search.SourceMaster:
	default:
		return fmt.Errorf("config: source_mode %q (want parent|master)", cfg.SourceMode)
	}
	switch cfg.OnRegionError {
	case "", search.OnErrorAbort, search.OnErrorRecord:
	default:
		return fmt.Errorf("config: on_region_error %q (want abort|record)", cfg.OnRegionError)
	}
	if cfg.Containment != "" {
		if _, err := contract.ParseContainment(cfg.Containment); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if name := effName(cfg.Components.Extractor, d.Extractor); registry.Extractor[name] == nil {
		return fmt.Errorf("config: extractor %q not registered", name)
	}
	if name := effName(cfg.Components.Processor, d.Processor); registry.Processor[name] == nil {
		return fmt.Errorf("config: processor %q not registered", name)
	}
	if name := effName(cfg.Components.Diagnoser, d.Diagnoser); registry.Diagnoser[name] == nil {
		return fmt.Errorf("config: diagnoser %q not registered", name)
	}
	return nil
}

// GridOf 由划分数 n 求每轴等分数 k=√n；n 须为 >=4 的完全平方数。
func GridOf(division int) (int, error) {
	if division < 4 {
		return 0, fmt.Errorf("%w: division must be >= 4, got %d", contract.ErrInvalidInput, division)
	}
	k := int(math.Round(math.Sqrt(float64(division))))
	if k*k != division {
		return 0, fmt.Errorf("%w: division %d is not a perfect square", contract.ErrInvalidInput, division)
	}
	return k, nil
}

// Assemble 构造 search.Components 与 search.Settings。
// runDir 为本次运行目录：fs writer 的 output_dir 固定指向它。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config, runDir string) (search.Components, search.Settings, error) {
	if err := Validate(cfg); err != nil {
		return search.Components{}, search.Settings{}, err
	}

	d := Defaults().Components
	rn := effName(cfg.Components.Reader, d.Reader)
	wn := effName(cfg.Components.Writer, d.Writer)
	en := effName(cfg.Components.Extractor, d.Extractor)
	pn := effName(cfg.Components.Processor, d.Processor)
	dn := effName(cfg.Components.Diagnoser, d.Diagnoser)

	wraw := cfg.Options.Writer
	if wn == "fs" && runDir != "" {
		var err error
		if wraw, err = setOption(wraw, "output_dir", runDir); err != nil {
			return search.Components{}, search.Settings{}, fmt.Errorf("writer options: %w", err)
		}
	}
	eraw := cfg.Options.Extractor
	if en == "segfile" && cfg.Containment != "" {
		var err error
		if eraw, err = setOption(eraw, "containment", cfg.Containment); err != nil {
			return search.Components{}, search.Settings{}, fmt.Errorf("extractor options: %w", err)
		}
	}
	praw := cfg.Options.Processor
	if pn == "command" && cfg.Voronoi != "" {
		var err error
		if praw, err = setOption(praw, "path", cfg.Voronoi); err != nil {
			return search.Components{}, search.Settings{}, fmt.Errorf("processor options: %w", err)
		}
	}

	// 构造实例
	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return search.Components{}, search.Settings{}, fmt.Errorf("reader %s: %w", rn, err)
	}
	w, err := registry.Writer[wn](wraw)
	if err != nil {
		return search.Components{}, search.Settings{}, fmt.Errorf("writer %s: %w", wn, err)
	}
	ex, err := registry.Extractor[en](eraw, r)
	if err != nil {
		return search.Components{}, search.Settings{}, fmt.Errorf("extractor %s: %w", en, err)
	}
	p, err := registry.Processor[pn](praw)
	if err != nil {
		return search.Components{}, search.Settings{}, fmt.Errorf("processor %s: %w", pn, err)
	}
	dg, err := registry.Diagnoser[dn](cfg.Options.Diagnoser)
	if err != nil {
		return search.Components{}, search.Settings{}, fmt.Errorf("diagnoser %s: %w", dn, err)
	}

	comp := search.Components{Extractor: ex, Processor: p, Diagnoser: dg, Writer: w}

	box, _ := contract.ParseBBox(cfg.BBox)
	grid, _ := GridOf(cfg.Division)
	cache := cfg.CacheSize
	if cache < 0 {
		cache = 0
	}
	set := search.Settings{
		Master:         cfg.Input,
		BBox:           box,
		HasHeaderLines: !cfg.ExcludesHeader,
		Grid:           grid,
		Selector:       cfg.Selector(),
		SourceMode:     cfg.SourceMode,
		OnRegionError:  cfg.OnRegionError,
		MaxDepth:       cfg.MaxDepth,
		CacheSize:      cache,
	}
	return comp, set, nil
}

// setOption 在原样 JSON 对象上设置单个键，其余键保持不变。
func setOption(raw json.RawMessage, key string, val any) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m == nil {
			m = map[string]json.RawMessage{}
		}
	}
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	m[key] = b
	return json.Marshal(m)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
