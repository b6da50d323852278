package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "BBOX_BISECT_"

// DefaultSelector: 未设置 voronoi_config_num 时透传的编号。
const DefaultSelector = 5

// IntPtr 返回 n 的指针，用于“显式设置”的整型字段。
func IntPtr(n int) *int { return &n }

// Selector 返回生效的工具配置编号（未设置时取 DefaultSelector）。
func (c Config) Selector() int {
	if c.VoronoiConfigNum == nil {
		return DefaultSelector
	}
	return *c.VoronoiConfigNum
}

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Input/OutDir/BBox 不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Division:         4,
		VoronoiConfigNum: IntPtr(DefaultSelector),
		SourceMode:       "parent",
		OnRegionError:    "abort",
		Logging:          Logging{Level: "info"},
		Components: Components{
			Reader:    "fs",
			Writer:    "fs",
			Extractor: "segfile",
			Processor: "command",
			Diagnoser: "none",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。零值视为未覆盖（指针字段以 nil 表示未覆盖）。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.Input); s != "" {
		out.Input = s
	}
	if s := strings.TrimSpace(over.OutDir); s != "" {
		out.OutDir = s
	}
	if s := strings.TrimSpace(over.BBox); s != "" {
		out.BBox = s
	}
	if over.Division != 0 {
		out.Division = over.Division
	}
	// 编号显式设置即覆盖（含 0）
	if over.VoronoiConfigNum != nil {
		out.VoronoiConfigNum = IntPtr(*over.VoronoiConfigNum)
	}
	// 布尔只能“打开”
	if over.ExcludesHeader {
		out.ExcludesHeader = true
	}
	if s := strings.TrimSpace(over.SourceMode); s != "" {
		out.SourceMode = s
	}
	if s := strings.TrimSpace(over.OnRegionError); s != "" {
		out.OnRegionError = s
	}
	if over.MaxDepth != 0 {
		out.MaxDepth = over.MaxDepth
	}
	if over.CacheSize != 0 {
		out.CacheSize = over.CacheSize
	}
	if s := strings.TrimSpace(over.Containment); s != "" {
		out.Containment = s
	}
	if s := strings.TrimSpace(over.Voronoi); s != "" {
		out.Voronoi = s
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Extractor != "" {
		out.Components.Extractor = over.Components.Extractor
	}
	if over.Components.Processor != "" {
		out.Components.Processor = over.Components.Processor
	}
	if over.Components.Diagnoser != "" {
		out.Components.Diagnoser = over.Components.Diagnoser
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Extractor) > 0 {
		out.Options.Extractor = cloneRaw(over.Options.Extractor)
	}
	if len(over.Options.Processor) > 0 {
		out.Options.Processor = cloneRaw(over.Options.Processor)
	}
	if len(over.Options.Diagnoser) > 0 {
		out.Options.Diagnoser = cloneRaw(over.Options.Diagnoser)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 BBOX_BISECT_；集合之外的键忽略；数值解析失败返回错误。
// 支持：INPUT, OUT_DIR, BBOX, DIVISION, VORONOI_CONFIG_NUM, IN_FILE_EXCLUDES_BBOX_HEADER,
// SOURCE_MODE, ON_REGION_ERROR, MAX_DEPTH, CACHE_SIZE, CONTAINMENT, VORONOI, LOG_LEVEL,
// COMPONENTS_* 以及 OPTIONS_<COMPONENT>_JSON。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			// 空值视为未设置，避免清空 config.json
			continue
		}
		var err error
		switch key {
		case "INPUT":
			over.Input = val
		case "OUT_DIR":
			over.OutDir = val
		case "BBOX":
			over.BBox = val
		case "DIVISION":
			over.Division, err = atoi(val)
		case "VORONOI_CONFIG_NUM":
			var n int
			if n, err = atoi(val); err == nil {
				over.VoronoiConfigNum = IntPtr(n)
			}
		case "IN_FILE_EXCLUDES_BBOX_HEADER":
			over.ExcludesHeader, err = parseBool(val)
		case "SOURCE_MODE":
			over.SourceMode = val
		case "ON_REGION_ERROR":
			over.OnRegionError = val
		case "MAX_DEPTH":
			over.MaxDepth, err = atoi(val)
		case "CACHE_SIZE":
			over.CacheSize, err = atoi(val)
		case "CONTAINMENT":
			over.Containment = val
		case "VORONOI":
			over.Voronoi = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "COMPONENTS_EXTRACTOR":
			over.Components.Extractor = val
		case "COMPONENTS_PROCESSOR":
			over.Components.Processor = val
		case "COMPONENTS_DIAGNOSER":
			over.Components.Diagnoser = val
		case "OPTIONS_READER_JSON":
			over.Options.Reader = json.RawMessage(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = json.RawMessage(val)
		case "OPTIONS_EXTRACTOR_JSON":
			over.Options.Extractor = json.RawMessage(val)
		case "OPTIONS_PROCESSOR_JSON":
			over.Options.Processor = json.RawMessage(val)
		case "OPTIONS_DIAGNOSER_JSON":
			over.Options.Diagnoser = json.RawMessage(val)
		default:
			// CONFIG_FILE/CONFIG_JSON 由入口读取；其余未知键忽略。
		}
		if err != nil {
			return over, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
	}
	return over, nil
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool %q", s)
}
