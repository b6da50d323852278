package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bboxbisect/pkg/contract"
)

// Options 为外部 Voronoi 工具适配器配置。
type Options struct {
	// Path: 可执行文件路径或 PATH 中的名称（必需）。
	Path string `json:"path"`
	// Args: 置于 <in> <out> <selector> 之前的固定参数。
	Args []string `json:"args,omitempty"`
	// TimeoutSeconds: 单次运行上限；<=0 不限。超时视为失败而非错误。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// CaptureOutput: 将 stdout/stderr 写入与输出文件同名的 .log；否则丢弃。
	CaptureOutput bool `json:"capture_output,omitempty"`
}

// Command 以子进程运行外部工具：<path> [args...] <in> <out> <selector>。
type Command struct {
	path    string
	args    []string
	timeout time.Duration
	capture bool
}

var _ contract.Processor = (*Command)(nil)

// New 创建适配器；仅校验配置，不探测可执行文件（探测推迟到首次运行）。
func New(opts *Options) (*Command, error) {
	if opts == nil || strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("%w: processor path is required", contract.ErrInvalidInput)
	}
	if opts.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("%w: timeout_seconds must be >= 0", contract.ErrInvalidInput)
	}
	return &Command{
		path:    opts.Path,
		args:    append([]string(nil), opts.Args...),
		timeout: time.Duration(opts.TimeoutSeconds) * time.Second,
		capture: opts.CaptureOutput,
	}, nil
}

// Name 返回工具路径（用于终端叙述）。
func (c *Command) Name() string { return c.path }

// LogPath 返回 outPath 对应的输出捕获文件路径（voronoi-out.<id>.wkt → voronoi-out.<id>.log）。
func LogPath(outPath string) string {
	return strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".log"
}

// Process 运行一次外部工具。退出码 0 → true；非零或超时 → false, nil；
// 无法启动 → ErrProcessorUnavailable；外层 ctx 取消 → ctx.Err()。
func (c *Command) Process(ctx context.Context, inPath, outPath string, selector int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	args := append(append([]string(nil), c.args...), inPath, outPath, strconv.Itoa(selector))
	cmd := exec.CommandContext(runCtx, c.path, args...)

	var sink io.Writer = io.Discard
	if c.capture {
		f, err := os.Create(LogPath(outPath))
		if err != nil {
			return false, fmt.Errorf("%w: capture log: %v", contract.ErrFileAccess, err)
		}
		defer f.Close()
		sink = f
	}
	cmd.Stdout = sink
	cmd.Stderr = sink
	// 被杀后子孙进程仍持有输出管道时，不无限等待
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("%w: %s: %v", contract.ErrProcessorUnavailable, c.path, err)
	}
	err := cmd.Wait()
	if err == nil {
		return true, nil
	}
	// 外层取消优先于超时判定
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s: %v", contract.ErrProcessorUnavailable, c.path, err)
}

// Timeout 返回单次运行上限（0 表示不限）。
func (c *Command) Timeout() time.Duration { return c.timeout }
