package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bboxbisect/internal/search"
	"bboxbisect/pkg/contract"
)

// UT-CFG-01: 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Division != 9 || cfg.Components.Processor != "mock" {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if err := Validate(Merge(Defaults(), cfg)); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
}

// UT-CFG-02: ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"BBOX_BISECT_INPUT=master.txt",
		"BBOX_BISECT_BBOX=0,0,10,10",
		"BBOX_BISECT_DIVISION=16",
		"BBOX_BISECT_IN_FILE_EXCLUDES_BBOX_HEADER=true",
		"BBOX_BISECT_COMPONENTS_PROCESSOR=mock",
		`BBOX_BISECT_OPTIONS_PROCESSOR_JSON={"mode":"fail"}`,
		"BBOX_BISECT_MAX_DEPTH=",
		"BBOX_BISECT_LOG_LEVEL=warn",
		"OTHER_DIVISION=99",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	assert.Equal(t, "master.txt", over.Input)
	assert.Equal(t, 16, over.Division)
	assert.True(t, over.ExcludesHeader)
	assert.Equal(t, "mock", over.Components.Processor)
	assert.JSONEq(t, `{"mode":"fail"}`, string(over.Options.Processor))
	assert.Zero(t, over.MaxDepth, "空值视为未设置")
	assert.Equal(t, "warn", over.Logging.Level)

	_, err = EnvOverlay([]string{"BBOX_BISECT_DIVISION=four"})
	assert.Error(t, err)
	_, err = EnvOverlay([]string{"BBOX_BISECT_IN_FILE_EXCLUDES_BBOX_HEADER=maybe"})
	assert.Error(t, err)
}

// UT-CFG-03: 含非法字段
func TestLoadJSONUnknown(t *testing.T) {
	raw := []byte(`{"unknown":1}`)
	if _, err := LoadJSON("", raw); err == nil {
		t.Fatalf("应当返回错误")
	}
	if _, err := LoadJSON("", nil); err == nil {
		t.Fatalf("无来源应失败")
	}
	if _, err := LoadJSON(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Fatalf("缺失文件应失败")
	}
}

// 优先级：后者覆盖前者；零值不覆盖
func TestMerge(t *testing.T) {
	base := Defaults()
	base.Input = "a.txt"
	base.Options.Processor = json.RawMessage(`{"path":"x"}`)
	out := Merge(base, Config{Division: 9, SourceMode: "master", Components: Components{Diagnoser: "javahelper"}})
	assert.Equal(t, "a.txt", out.Input)
	assert.Equal(t, 9, out.Division)
	assert.Equal(t, 5, out.Selector())
	assert.Equal(t, "master", out.SourceMode)
	assert.Equal(t, "javahelper", out.Components.Diagnoser)
	assert.Equal(t, "command", out.Components.Processor)
	assert.JSONEq(t, `{"path":"x"}`, string(out.Options.Processor))

	out = Merge(out, Config{Options: Options{Processor: json.RawMessage(`{"path":"y"}`)}, CacheSize: -1})
	assert.JSONEq(t, `{"path":"y"}`, string(out.Options.Processor), "Options 整体替换")
	assert.Equal(t, -1, out.CacheSize)
}

// 编号显式为 0 时覆盖默认值；nil 不覆盖
func TestMergeSelectorZero(t *testing.T) {
	out := Merge(Defaults(), Config{VoronoiConfigNum: IntPtr(0)})
	assert.Equal(t, 0, out.Selector())
	out = Merge(out, Config{})
	assert.Equal(t, 0, out.Selector(), "nil 不覆盖")
	assert.Equal(t, DefaultSelector, Config{}.Selector())

	cfg, err := LoadJSON("", []byte(`{"voronoi_config_num":0}`))
	require.NoError(t, err)
	assert.Equal(t, 0, Merge(Defaults(), cfg).Selector())
	cfg, err = LoadJSON("", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultSelector, Merge(Defaults(), cfg).Selector())

	env, err := EnvOverlay([]string{EnvPrefix + "VORONOI_CONFIG_NUM=0"})
	require.NoError(t, err)
	require.NotNil(t, env.VoronoiConfigNum)
	assert.Equal(t, 0, Merge(Defaults(), env).Selector())
}

// 缓存默认关闭：每个区域都交给外部工具
func TestDefaultsCacheOff(t *testing.T) {
	assert.Zero(t, Defaults().CacheSize)
	cfg := validConfig()
	_, set, err := Assemble(cfg, t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, set.CacheSize)
}

func TestGridOf(t *testing.T) {
	for n, k := range map[int]int{4: 2, 9: 3, 16: 4, 100: 10} {
		got, err := GridOf(n)
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	for _, n := range []int{0, 1, 2, 3, 5, 8, 10} {
		_, err := GridOf(n)
		assert.ErrorIs(t, err, contract.ErrInvalidInput, n)
	}
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Input = "m.txt"
	cfg.OutDir = "out"
	cfg.BBox = "0,0,10,10"
	cfg.Components.Processor = "mock"
	return cfg
}

// 补充覆盖: Validate 错误分支
func TestValidateErrors(t *testing.T) {
	if err := Validate(Config{}); err == nil {
		t.Fatal("空配置应失败")
	}
	require.NoError(t, Validate(validConfig()))
	cases := map[string]func(*Config){
		"input":      func(c *Config) { c.Input = " " },
		"out_dir":    func(c *Config) { c.OutDir = "" },
		"bbox empty": func(c *Config) { c.BBox = "" },
		"bbox order": func(c *Config) { c.BBox = "10,0,0,10" },
		"division":   func(c *Config) { c.Division = 6 },
		"selector":   func(c *Config) { c.VoronoiConfigNum = IntPtr(-1) },
		"depth":      func(c *Config) { c.MaxDepth = -2 },
		"source":     func(c *Config) { c.SourceMode = "sibling" },
		"on_error":   func(c *Config) { c.OnRegionError = "skip" },
		"contain":    func(c *Config) { c.Containment = "both" },
		"reader":     func(c *Config) { c.Components.Reader = "s3" },
		"writer":     func(c *Config) { c.Components.Writer = "s3" },
		"extractor":  func(c *Config) { c.Components.Extractor = "csv" },
		"processor":  func(c *Config) { c.Components.Processor = "grpc" },
		"diagnoser":  func(c *Config) { c.Components.Diagnoser = "qgis" },
	}
	for name, mut := range cases {
		cfg := validConfig()
		mut(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: 应当校验失败", name)
		}
	}
}

func TestAssemble(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/basic.json", nil)
	require.NoError(t, err)
	cfg = Merge(Defaults(), cfg)
	runDir := filepath.Join(t.TempDir(), "run")
	comp, set, err := Assemble(cfg, runDir)
	require.NoError(t, err)
	assert.NotNil(t, comp.Extractor)
	assert.NotNil(t, comp.Processor)
	assert.NotNil(t, comp.Writer)
	assert.Nil(t, comp.Diagnoser, "diagnoser=none")

	assert.Equal(t, "data/water_features.txt", set.Master)
	assert.Equal(t, contract.BBox{XMin: 1552005.6, YMin: 482650.7, XMax: 1812279.8, YMax: 626731.1}, set.BBox)
	assert.True(t, set.HasHeaderLines)
	assert.Equal(t, 3, set.Grid)
	assert.Equal(t, 3, set.Selector)
	assert.Equal(t, search.SourceMaster, set.SourceMode)
	assert.Equal(t, search.OnErrorRecord, set.OnRegionError)
	assert.Equal(t, 12, set.MaxDepth)
	assert.Equal(t, 64, set.CacheSize)

	// fs writer 固定写入运行目录
	p, err := comp.Writer.Path(contract.InputArtifact(1))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(runDir, "voronoi-in.1.txt"), p)

	cfg.CacheSize = -1
	cfg.ExcludesHeader = true
	_, set, err = Assemble(cfg, runDir)
	require.NoError(t, err)
	assert.Zero(t, set.CacheSize)
	assert.False(t, set.HasHeaderLines)
}

func TestAssembleShortcuts(t *testing.T) {
	cfg := validConfig()
	cfg.Components.Processor = "command"
	cfg.Voronoi = "/usr/local/bin/voronoi"
	cfg.Containment = "all"
	comp, _, err := Assemble(cfg, t.TempDir())
	require.NoError(t, err)
	c, ok := comp.Extractor.(interface{ Containment() contract.Containment })
	require.True(t, ok)
	assert.Equal(t, contract.ContainAll, c.Containment())
	n, ok := comp.Processor.(interface{ Name() string })
	require.True(t, ok)
	assert.Contains(t, n.Name(), "voronoi")

	// command 缺少工具路径：装配失败
	cfg.Voronoi = ""
	_, _, err = Assemble(cfg, t.TempDir())
	assert.Error(t, err)

	// 非法 Options：严格解析拒绝未知字段
	cfg = validConfig()
	cfg.Options.Processor = json.RawMessage(`{"mode":"fail","retries":3}`)
	_, _, err = Assemble(cfg, t.TempDir())
	assert.Error(t, err)
}

func TestAssembleJavaHelper(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/javahelper.json", nil)
	require.NoError(t, err)
	comp, _, err := Assemble(Merge(Defaults(), cfg), t.TempDir())
	require.NoError(t, err)
	assert.NotNil(t, comp.Diagnoser)
}

func TestSetOption(t *testing.T) {
	out, err := setOption(json.RawMessage(`{"atomic":true}`), "output_dir", "run")
	require.NoError(t, err)
	assert.JSONEq(t, `{"atomic":true,"output_dir":"run"}`, string(out))
	out, err = setOption(nil, "path", "x")
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"x"}`, string(out))
	out, err = setOption(json.RawMessage(`null`), "path", "x")
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"x"}`, string(out))
	_, err = setOption(json.RawMessage(`[1]`), "path", "x")
	assert.Error(t, err)
}

// 模板本身可被严格解析，且键齐全
func TestTemplateRoundTrip(t *testing.T) {
	b, err := json.MarshalIndent(DefaultTemplateConfig(), "", "  ")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	cfg, err := LoadJSON(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.OutDir)
	assert.Equal(t, 4, cfg.Division)
	var ex map[string]any
	require.NoError(t, json.Unmarshal(cfg.Options.Extractor, &ex))
	assert.Contains(t, ex, "containment")
	assert.Contains(t, ex, "margin")
}

// 补充覆盖: atoi 与 cloneRaw
func TestHelpers(t *testing.T) {
	if v, err := atoi("10"); err != nil || v != 10 {
		t.Fatalf("atoi 失败: %v %d", err, v)
	}
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	if string(dst) != "abc" {
		t.Fatalf("cloneRaw 未复制")
	}
	assert.Nil(t, cloneRaw(nil))
	if b, err := parseBool("ON"); err != nil || !b {
		t.Fatalf("parseBool ON")
	}
}
