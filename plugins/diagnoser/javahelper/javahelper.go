package javahelper

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"bboxbisect/pkg/contract"
)

const (
	convertClass  = "ca.bc.gov.catchment.scripts.VoronoiInput2GeoPackage"
	collapseClass = "ca.bc.gov.catchment.scripts.CheckCollapse"
	// DefaultTable 为塌缩检查的默认图层。
	DefaultTable = "water_features_segmented"
)

// Options 为 Java 辅助诊断配置。
type Options struct {
	// Java: java 可执行文件；默认 "java"。
	Java string `json:"java,omitempty"`
	// Classpath: 辅助类与依赖 jar 的 classpath（必需）。
	Classpath string `json:"classpath"`
	// Table: 检查的图层名；默认 water_features_segmented。
	Table string `json:"table,omitempty"`
}

// runJava 运行一次子进程并返回退出码；无法启动时返回 error。测试中可替换。
var runJava = func(ctx context.Context, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("%w: %s: %v", contract.ErrProcessorUnavailable, name, err)
}

// Diagnoser 先将失败区域的输入转换为 GeoPackage，再检查拓扑塌缩。
type Diagnoser struct {
	java  string
	cp    string
	table string
}

var _ contract.Diagnoser = (*Diagnoser)(nil)

// New 构造 Diagnoser。
func New(opts *Options) (*Diagnoser, error) {
	if opts == nil || strings.TrimSpace(opts.Classpath) == "" {
		return nil, fmt.Errorf("%w: javahelper classpath is required", contract.ErrInvalidInput)
	}
	d := &Diagnoser{java: opts.Java, cp: opts.Classpath, table: opts.Table}
	if strings.TrimSpace(d.java) == "" {
		d.java = "java"
	}
	if strings.TrimSpace(d.table) == "" {
		d.table = DefaultTable
	}
	return d, nil
}

// GeoPackagePath: voronoi-in.<id>.txt → voronoi-in.<id>.gpkg。
func GeoPackagePath(inPath string) string {
	if strings.HasSuffix(inPath, ".txt") {
		return strings.TrimSuffix(inPath, ".txt") + ".gpkg"
	}
	return inPath + ".gpkg"
}

// Diagnose 返回塌缩判定：检查退出 0 → 无塌缩；非零 → 疑似塌缩；转换失败 → unknown 与错误。
func (d *Diagnoser) Diagnose(ctx context.Context, r contract.Region) (contract.Collapse, error) {
	if r.InputPath == "" {
		return contract.CollapseUnknown, fmt.Errorf("%w: region %d has no input path", contract.ErrInvalidInput, r.ID)
	}
	gpkg := GeoPackagePath(r.InputPath)
	code, err := runJava(ctx, d.java, "-cp", d.cp, convertClass, "-i", r.InputPath, "-o", gpkg)
	if err != nil {
		return contract.CollapseUnknown, err
	}
	if code != 0 {
		return contract.CollapseUnknown, fmt.Errorf("geopackage conversion exited with %d", code)
	}
	code, err = runJava(ctx, d.java, "-cp", d.cp, collapseClass, "-i", gpkg, "-tables", d.table)
	if err != nil {
		return contract.CollapseUnknown, err
	}
	if code != 0 {
		return contract.CollapseSuspected, nil
	}
	return contract.CollapseNone, nil
}
