package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	cfgpkg "bboxbisect/internal/config"
	"bboxbisect/internal/diag"
	"bboxbisect/internal/search"
)

var searchRun = search.Run

// 退出码
const (
	exitOK       = 0
	exitError    = 1
	exitFailures = 2
	exitConfig   = 3
)

// runDirLayout: 运行目录名 <out_dir>/<YYYY-MM-DD.HH-MM-SS>。
const runDirLayout = "2006-01-02.15-04-05"

// 单一命令：在 bbox 内二分搜索使外部 Voronoi 工具失败的最小输入。
// 必需：-i <master> -out-dir <dir> -bbox xmin,ymin,xmax,ymax（可由 JSON/ENV 提供）。
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前加载 .env（不覆盖已有 ENV；文件缺失忽略）。
	_ = godotenv.Load()
	// 先占位默认，稍后在解析/合并配置后重建 logger 以使用最终 level 与运行目录
	logger := diag.NewLogger(corrID, "info")
	defer func() { _ = logger.Close() }()

	var (
		flagInput       string
		flagOutDir      string
		flagBBox        string
		flagDivision    int
		flagSelector    int
		flagNoHeader    bool
		flagConfig      string
		flagInitDir     string
		flagStatus      bool
		flagMaxDepth    int
		flagContainment string
		flagSourceMode  string
		flagOnError     string
		flagVoronoi     string
	)
	flag.StringVar(&flagInput, "i", "", "主数据文件（分段文本）")
	flag.StringVar(&flagOutDir, "out-dir", "", "输出根目录；每次运行创建时间戳子目录")
	flag.StringVar(&flagBBox, "bbox", "", "初始搜索范围 xmin,ymin,xmax,ymax")
	flag.IntVar(&flagDivision, "division", 0, "每次细分的子区域数（>=4 的完全平方数，默认 4）")
	flag.IntVar(&flagSelector, "voronoi-config-num", cfgpkg.DefaultSelector, "外部工具配置编号（0 亦透传）")
	flag.BoolVar(&flagNoHeader, "in-file-excludes-bbox-header", false, "主文件不含 4 行 bbox 头")
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（若已存在则跳过，不覆盖）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端叙述（stdout）。TTY 动态刷新；非 TTY 分行输出")
	flag.IntVar(&flagMaxDepth, "max-depth", 0, "细分深度上限（0 不限）")
	flag.StringVar(&flagContainment, "containment", "", "线段保留规则 any|all")
	flag.StringVar(&flagSourceMode, "source-mode", "", "子区域抽取源 parent|master")
	flag.StringVar(&flagOnError, "on-region-error", "", "区域级错误策略 abort|record")
	flag.StringVar(&flagVoronoi, "voronoi", "", "外部 Voronoi 工具路径（command 处理器）")
	normalizeInitArg()
	flag.Parse()

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return exitConfig
		}
		if err := writeConfig(filepath.Join(initDir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return exitConfig
		}
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return exitOK
	}

	// JSON 配置（ENV 原文 > 文件）
	var cfgJSON []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	if flagConfig == "" {
		flagConfig = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if flagConfig == "" {
		if _, err := os.Stat("config.json"); err == nil {
			flagConfig = "config.json"
		}
	}

	cfg := cfgpkg.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(flagConfig, cfgJSON)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return exitConfig
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	overCLI := cfgpkg.Config{
		Input:          flagInput,
		OutDir:         flagOutDir,
		BBox:           flagBBox,
		Division:       flagDivision,
		ExcludesHeader: flagNoHeader,
		MaxDepth:       flagMaxDepth,
		Containment:    flagContainment,
		SourceMode:     flagSourceMode,
		OnRegionError:  flagOnError,
		Voronoi:        flagVoronoi,
	}
	// 编号 0 合法，按“是否出现在命令行”判断
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "voronoi-config-num" {
			overCLI.VoronoiConfigNum = cfgpkg.IntPtr(flagSelector)
		}
	})
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	if _, err := os.Stat(cfg.Input); err != nil {
		fprintf(os.Stderr, "主数据文件不可访问: %v\n", err)
		logger.Error("config", string(diag.CodeIO), "first error", &start)
		return exitConfig
	}

	runDir := filepath.Join(cfg.OutDir, start.Format(runDirLayout))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	// 使用最终日志级别重建 logger；日志随运行目录保存
	_ = logger.Close()
	logger = diag.NewLoggerAt(filepath.Join(runDir, "logs"), corrID, cfg.Logging.Level)

	comp, set, err := cfgpkg.Assemble(cfg, runDir)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	logger.DebugStart("config", "effective", 0, map[string]string{
		"input":       cfg.Input,
		"run_dir":     runDir,
		"bbox":        cfg.BBox,
		"division":    fmt.Sprintf("%d", cfg.Division),
		"selector":    fmt.Sprintf("%d", set.Selector),
		"source_mode": set.SourceMode,
		"on_error":    set.OnRegionError,
		"max_depth":   fmt.Sprintf("%d", cfg.MaxDepth),
		"cache_size":  fmt.Sprintf("%d", set.CacheSize),
		"extractor":   cfg.Components.Extractor,
		"processor":   cfg.Components.Processor,
		"diagnoser":   cfg.Components.Diagnoser,
	})

	term := diag.NewTerminal(os.Stdout, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(runDir, cfg.Division, processorName(comp.Processor, cfg.Components.Processor))

	// SIGINT/SIGTERM 取消当前区域并停止搜索
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := searchRun(ctx, comp, set, logger)
	if rep != nil {
		_ = rep.WriteSummary(os.Stdout)
		if werr := rep.WriteJSON(context.Background(), comp.Writer); werr != nil {
			fprintf(os.Stderr, "summary.json 写入失败: %v\n", werr)
			logger.Error("report", string(diag.Classify(werr)), werr.Error(), nil)
		}
	}
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("search", code, "first error", &start)
		diag.IncOp("search", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("search", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, time.Since(start))
		return exitError
	}
	diag.ObserveDuration("search", "finish", time.Since(start).Milliseconds())
	failed := rep.HasFailures()
	term.RunFinish(!failed, time.Since(start))
	logger.InfoFinish("search", "done", start, int64(rep.Summary().Visited))
	if failed {
		return exitFailures
	}
	return exitOK
}

func processorName(p any, def string) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return def
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, _ = f.Write([]byte("\n"))
	return nil
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用默认值当前目录 "."。
// 兼容以下形式：
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	p := cfgpkg.EnvPrefix
	var b strings.Builder
	b.WriteString("# bboxbisect .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{
		"INPUT", "OUT_DIR", "BBOX", "DIVISION", "VORONOI_CONFIG_NUM",
		"IN_FILE_EXCLUDES_BBOX_HEADER", "SOURCE_MODE", "ON_REGION_ERROR",
		"MAX_DEPTH", "CACHE_SIZE", "CONTAINMENT", "VORONOI", "LOG_LEVEL",
	} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 组件选择与 Options（原样 JSON）\n")
	for _, c := range []string{"READER", "WRITER", "EXTRACTOR", "PROCESSOR", "DIAGNOSER"} {
		b.WriteString(p + "COMPONENTS_" + c + "=\n")
		b.WriteString(p + "OPTIONS_" + c + "_JSON=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
