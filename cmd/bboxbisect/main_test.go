package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "bboxbisect/internal/config"
	"bboxbisect/internal/diag"
	"bboxbisect/internal/report"
	"bboxbisect/internal/search"
	"bboxbisect/pkg/contract"
)

const master = "0 0\n100 0\n100 100\n0 100\n" +
	"s 10 10  20 20\n" +
	"s 80 10  90 20\n" +
	"s 10 80  20 90\n" +
	"s 80 80  90 90\n"

func resetFlag(args []string) {
	flag.CommandLine = flag.NewFlagSet(args[0], flag.ContinueOnError)
	os.Args = args
}

// inTempDir 切换到临时目录并写入主数据文件。
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(cwd)
		windowsFileCleanupDelay()
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "master.txt"), []byte(master), 0o644))
	return dir
}

// stubSearch 替换 searchRun，并记录收到的 Settings。
func stubSearch(t *testing.T, fn func(search.Settings) (*report.Reporter, error)) *search.Settings {
	t.Helper()
	var got search.Settings
	orig := searchRun
	searchRun = func(ctx context.Context, comp search.Components, set search.Settings, logger *diag.Logger) (*report.Reporter, error) {
		got = set
		return fn(set)
	}
	t.Cleanup(func() { searchRun = orig })
	return &got
}

func okSearch(search.Settings) (*report.Reporter, error) {
	r := report.New()
	r.Observe(contract.Region{ID: 1, Outcome: contract.OutcomeSuccess})
	return r, nil
}

var baseArgs = []string{"bboxbisect", "-status=false", "-i", "master.txt", "-out-dir", "out", "-bbox", "0,0,100,100", "-voronoi", "/opt/voronoi"}

func runDirs(t *testing.T, dir string) []string {
	t.Helper()
	ents, err := os.ReadDir(filepath.Join(dir, "out"))
	require.NoError(t, err)
	var out []string
	for _, e := range ents {
		out = append(out, filepath.Join(dir, "out", e.Name()))
	}
	return out
}

func TestWriteConfig(t *testing.T) {
	cfg := cfgpkg.Defaults()
	dir := t.TempDir()
	file := filepath.Join(dir, "c.json")
	if err := writeConfig(file, cfg); err != nil {
		t.Fatalf("writeConfig file: %v", err)
	}
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if err := writeConfig(file, cfg); err == nil {
		t.Fatalf("不应覆盖已存在文件")
	}
	r, w, _ := os.Pipe()
	old := os.Stdout
	os.Stdout = w
	if err := writeConfig("-", cfg); err != nil {
		t.Fatalf("writeConfig stdout: %v", err)
	}
	w.Close()
	os.Stdout = old
	r.Close()
}

func TestDumpConfig(t *testing.T) {
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	old := os.Stderr
	os.Stderr = devnull
	if err := dumpConfig(cfgpkg.Defaults()); err != nil {
		t.Fatalf("dumpConfig: %v", err)
	}
	os.Stderr = old
	devnull.Close()
}

func TestRunInitConfig(t *testing.T) {
	dir := inTempDir(t)
	outDir := filepath.Join(dir, "tpl")
	resetFlag([]string{"bboxbisect", "--init-config", outDir})
	if code := run(); code != exitOK {
		t.Fatalf("run return %d", code)
	}
	_, err := cfgpkg.LoadJSON(filepath.Join(outDir, "config.json"), nil)
	require.NoError(t, err, "模板应可被严格解析")
	env, err := os.ReadFile(filepath.Join(outDir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "BBOX_BISECT_DIVISION=")
	assert.Contains(t, string(env), "BBOX_BISECT_OPTIONS_PROCESSOR_JSON=")
}

func TestRunInitConfigDefault(t *testing.T) {
	dir := inTempDir(t)
	resetFlag([]string{"bboxbisect", "--init-config"})
	if code := run(); code != exitOK {
		t.Fatalf("run return %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("config not generated: %v", err)
	}
}

func TestRunInitConfigFileExists(t *testing.T) {
	dir := inTempDir(t)
	outDir := filepath.Join(dir, "tpl")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "config.json"), []byte("{}"), 0o644))
	resetFlag([]string{"bboxbisect", "--init-config", outDir})
	if code := run(); code != exitConfig {
		t.Fatalf("expect 3, got %d", code)
	}
}

func TestRunSuccess(t *testing.T) {
	dir := inTempDir(t)
	got := stubSearch(t, okSearch)
	resetFlag(append(append([]string{}, baseArgs...), "-division", "9", "-voronoi-config-num", "7", "--in-file-excludes-bbox-header"))
	if code := run(); code != exitOK {
		t.Fatalf("run return %d", code)
	}
	assert.Equal(t, "master.txt", got.Master)
	assert.Equal(t, 3, got.Grid)
	assert.Equal(t, 7, got.Selector)
	assert.False(t, got.HasHeaderLines)
	assert.Equal(t, contract.BBox{XMax: 100, YMax: 100}, got.BBox)

	dirs := runDirs(t, dir)
	require.Len(t, dirs, 1)
	_, err := os.Stat(filepath.Join(dirs[0], string(report.SummaryArtifact)))
	assert.NoError(t, err, "summary.json 写入运行目录")
}

func TestRunFailuresExitCode(t *testing.T) {
	inTempDir(t)
	stubSearch(t, func(search.Settings) (*report.Reporter, error) {
		r := report.New()
		reg := contract.Region{ID: 2, Outcome: contract.OutcomeFailure, SegmentCount: 1}
		r.Observe(reg)
		r.AddIrreducible(reg)
		return r, nil
	})
	resetFlag(append([]string{}, baseArgs...))
	if code := run(); code != exitFailures {
		t.Fatalf("expect 2, got %d", code)
	}
}

func TestRunSearchError(t *testing.T) {
	inTempDir(t)
	stubSearch(t, func(search.Settings) (*report.Reporter, error) {
		return report.New(), errors.New("boom")
	})
	resetFlag(append([]string{}, baseArgs...))
	if code := run(); code != exitError {
		t.Fatalf("expect 1, got %d", code)
	}
}

func TestRunUsageErrors(t *testing.T) {
	cases := map[string][]string{
		"missing bbox":  {"bboxbisect", "-status=false", "-i", "master.txt", "-out-dir", "out"},
		"bad bbox":      {"bboxbisect", "-status=false", "-i", "master.txt", "-out-dir", "out", "-bbox", "1,2,3"},
		"bad division":  append(append([]string{}, baseArgs...), "-division", "6"),
		"bad source":    append(append([]string{}, baseArgs...), "-source-mode", "sibling"),
		"missing input": {"bboxbisect", "-status=false", "-i", "nope.txt", "-out-dir", "out", "-bbox", "0,0,1,1"},
		"no voronoi":    {"bboxbisect", "-status=false", "-i", "master.txt", "-out-dir", "out", "-bbox", "0,0,1,1"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			inTempDir(t)
			stubSearch(t, okSearch)
			resetFlag(args)
			if code := run(); code != exitConfig {
				t.Fatalf("expect 3, got %d", code)
			}
		})
	}
}

func TestRunConfigFileNotFound(t *testing.T) {
	inTempDir(t)
	resetFlag([]string{"bboxbisect", "--config", "missing.json"})
	if code := run(); code != exitConfig {
		t.Fatalf("expect 3, got %d", code)
	}
}

func TestRunConfigSources(t *testing.T) {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Input = "master.txt"
	cfg.BBox = "0,0,100,100"
	cfg.Division = 16
	cfg.Components.Processor = "mock"
	cfg.Options.Processor = json.RawMessage(`{"mode":"succeed"}`)
	b, _ := json.Marshal(cfg)

	t.Run("flag", func(t *testing.T) {
		dir := inTempDir(t)
		path := filepath.Join(dir, "cfg.json")
		require.NoError(t, os.WriteFile(path, b, 0o644))
		got := stubSearch(t, okSearch)
		resetFlag([]string{"bboxbisect", "-status=false", "--config", path})
		require.Equal(t, exitOK, run())
		assert.Equal(t, 4, got.Grid)
	})
	t.Run("env file", func(t *testing.T) {
		dir := inTempDir(t)
		path := filepath.Join(dir, "cfg.json")
		require.NoError(t, os.WriteFile(path, b, 0o644))
		t.Setenv("BBOX_BISECT_CONFIG_FILE", path)
		got := stubSearch(t, okSearch)
		resetFlag([]string{"bboxbisect", "-status=false"})
		require.Equal(t, exitOK, run())
		assert.Equal(t, 4, got.Grid)
	})
	t.Run("env json", func(t *testing.T) {
		inTempDir(t)
		t.Setenv("BBOX_BISECT_CONFIG_JSON", string(b))
		got := stubSearch(t, okSearch)
		resetFlag([]string{"bboxbisect", "-status=false"})
		require.Equal(t, exitOK, run())
		assert.Equal(t, 4, got.Grid)
	})
	t.Run("default file", func(t *testing.T) {
		dir := inTempDir(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), b, 0o644))
		got := stubSearch(t, okSearch)
		resetFlag([]string{"bboxbisect", "-status=false"})
		require.Equal(t, exitOK, run())
		assert.Equal(t, 4, got.Grid)
	})
	t.Run("priority", func(t *testing.T) {
		inTempDir(t)
		t.Setenv("BBOX_BISECT_CONFIG_JSON", string(b))
		t.Setenv("BBOX_BISECT_DIVISION", "9")
		t.Setenv("BBOX_BISECT_MAX_DEPTH", "3")
		got := stubSearch(t, okSearch)
		resetFlag([]string{"bboxbisect", "-status=false", "-division", "25"})
		require.Equal(t, exitOK, run())
		assert.Equal(t, 5, got.Grid, "CLI > ENV > JSON")
		assert.Equal(t, 3, got.MaxDepth)
	})
	t.Run("bad env", func(t *testing.T) {
		inTempDir(t)
		t.Setenv("BBOX_BISECT_CONFIG_JSON", string(b))
		t.Setenv("BBOX_BISECT_CACHE_SIZE", "lots")
		resetFlag([]string{"bboxbisect", "-status=false"})
		require.Equal(t, exitConfig, run())
	})
}

func TestRunDotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BBOX_BISECT_DIVISION=9\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("BBOX_BISECT_DIVISION") })
	got := stubSearch(t, okSearch)
	resetFlag(append([]string{}, baseArgs...))
	require.Equal(t, exitOK, run())
	assert.Equal(t, 3, got.Grid)
}

// 端到端：真实搜索 + mock 处理器（总是失败）
func TestRunEndToEndMock(t *testing.T) {
	dir := inTempDir(t)
	t.Setenv("BBOX_BISECT_COMPONENTS_PROCESSOR", "mock")
	t.Setenv("BBOX_BISECT_OPTIONS_PROCESSOR_JSON", `{"mode":"fail"}`)
	resetFlag([]string{"bboxbisect", "-status=false", "-i", "master.txt", "-out-dir", "out", "-bbox", "0,0,100,100"})
	require.Equal(t, exitFailures, run())

	dirs := runDirs(t, dir)
	require.Len(t, dirs, 1)
	b, err := os.ReadFile(filepath.Join(dirs[0], string(report.SummaryArtifact)))
	require.NoError(t, err)
	var s report.Summary
	require.NoError(t, json.Unmarshal(b, &s))
	assert.Equal(t, 5, s.Visited)
	assert.Len(t, s.Irreducible, 4)
	for i := int64(1); i <= 5; i++ {
		_, err := os.Stat(filepath.Join(dirs[0], string(contract.InputArtifact(i))))
		assert.NoError(t, err)
	}
	_, err = os.Stat(filepath.Join(dirs[0], "logs"))
	assert.NoError(t, err, "日志随运行目录保存")
}

// 编号 0 是合法取值：CLI/ENV/JSON 显式给出 0 时原样透传到处理器
func TestRunSelectorZero(t *testing.T) {
	t.Run("cli reaches processor", func(t *testing.T) {
		dir := inTempDir(t)
		logPath := filepath.Join(dir, "mock.log")
		t.Setenv("BBOX_BISECT_COMPONENTS_PROCESSOR", "mock")
		t.Setenv("BBOX_BISECT_OPTIONS_PROCESSOR_JSON", `{"mode":"succeed","log_path":"`+filepath.ToSlash(logPath)+`"}`)
		resetFlag([]string{"bboxbisect", "-status=false", "-i", "master.txt", "-out-dir", "out", "-bbox", "0,0,100,100", "-voronoi-config-num", "0"})
		require.Equal(t, exitOK, run())
		b, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(b), "selector=0 ok=true")
		assert.NotContains(t, string(b), "selector=5")
	})
	t.Run("flag absent keeps default", func(t *testing.T) {
		inTempDir(t)
		got := stubSearch(t, okSearch)
		resetFlag(append([]string{}, baseArgs...))
		require.Equal(t, exitOK, run())
		assert.Equal(t, cfgpkg.DefaultSelector, got.Selector)
	})
	t.Run("env", func(t *testing.T) {
		inTempDir(t)
		t.Setenv("BBOX_BISECT_VORONOI_CONFIG_NUM", "0")
		got := stubSearch(t, okSearch)
		resetFlag(append([]string{}, baseArgs...))
		require.Equal(t, exitOK, run())
		assert.Equal(t, 0, got.Selector)
	})
	t.Run("json", func(t *testing.T) {
		inTempDir(t)
		t.Setenv("BBOX_BISECT_CONFIG_JSON", `{"voronoi_config_num":0}`)
		got := stubSearch(t, okSearch)
		resetFlag(append([]string{}, baseArgs...))
		require.Equal(t, exitOK, run())
		assert.Equal(t, 0, got.Selector)
	})
	t.Run("cli over env", func(t *testing.T) {
		inTempDir(t)
		t.Setenv("BBOX_BISECT_VORONOI_CONFIG_NUM", "8")
		got := stubSearch(t, okSearch)
		resetFlag(append(append([]string{}, baseArgs...), "-voronoi-config-num", "0"))
		require.Equal(t, exitOK, run())
		assert.Equal(t, 0, got.Selector)
	})
}

func TestNormalizeInitArg(t *testing.T) {
	cases := map[string][]string{
		"--init-config":         {"x", "--init-config", "."},
		"--init-config -status": {"x", "--init-config", ".", "-status"},
		"--init-config dir":     {"x", "--init-config", "dir"},
	}
	for in, want := range cases {
		os.Args = append([]string{"x"}, strings.Fields(in)...)
		normalizeInitArg()
		assert.Equal(t, want, os.Args, in)
	}
}

func TestProcessorName(t *testing.T) {
	assert.Equal(t, "command", processorName(nil, "command"))
	assert.Equal(t, "n", processorName(named{}, "command"))
}

type named struct{}

func (named) Name() string { return "n" }
