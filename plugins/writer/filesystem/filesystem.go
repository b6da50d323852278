package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bboxbisect/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 运行目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 是否扁平化输出（仅保留文件名，不保留目录层级）。默认 true。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	root    string
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("%w: writer output_dir is required", contract.ErrInvalidInput)
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	flat := true
	if opts.Flat != nil {
		flat = *opts.Flat
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{root: opts.OutputDir, atomic: atomic, flat: flat, permF: pf, permD: pd, bufSize: bsz}, nil
}

var _ contract.Writer = (*FS)(nil)

// Root 返回运行目录。
func (w *FS) Root() string { return w.root }

// Path 返回 id 的最终落盘路径。
func (w *FS) Path(id contract.ArtifactID) (string, error) { return w.mapPath(id) }

// Create 打开一个待提交的工件。原子模式下写入同目录临时文件，Commit 时替换目标。
func (w *FS) Create(ctx context.Context, id contract.ArtifactID) (contract.Artifact, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrFileAccess, err)
	}
	var f *os.File
	if w.atomic {
		f, err = os.CreateTemp(filepath.Dir(dest), ".tmp-*")
		if err == nil {
			// 目标权限：尽量与期望一致
			_ = os.Chmod(f.Name(), w.permF)
		}
	} else {
		f, err = os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrFileAccess, err)
	}
	return &artifact{ctx: ctx, f: f, bw: bufio.NewWriterSize(f, w.bufSize), dest: dest, atomic: w.atomic}, nil
}

// mapPath: Clean + Join + 越界校验。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(string(id))
	// Flat 优先：若扁平化，则仅保留文件名并在此后校验名称合法
	if w.flat {
		rel = filepath.Base(rel)
		if rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
		return filepath.Join(w.root, rel), nil
	}
	// 非扁平：禁止绝对路径、父级逃逸、Windows 卷名
	if rel == "." || rel == "" {
		return "", contract.ErrPathInvalid
	}
	if filepath.IsAbs(rel) {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	if vol := filepath.VolumeName(rel); vol != "" {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// artifact 为单写者缓冲工件；Commit/Abort 只生效一次。
type artifact struct {
	ctx    context.Context
	f      *os.File
	bw     *bufio.Writer
	dest   string
	atomic bool

	once sync.Once
	err  error
}

// Write 在每次写入前检查 ctx 是否已取消。
func (a *artifact) Write(p []byte) (int, error) {
	select {
	case <-a.ctx.Done():
		return 0, a.ctx.Err()
	default:
	}
	return a.bw.Write(p)
}

func (a *artifact) Commit() error {
	a.once.Do(func() { a.err = a.commit() })
	return a.err
}

func (a *artifact) Abort() error {
	a.once.Do(func() {
		_ = a.f.Close()
		a.err = os.Remove(a.f.Name())
		if os.IsNotExist(a.err) {
			a.err = nil
		}
	})
	return a.err
}

func (a *artifact) commit() error {
	tmpPath := a.f.Name()
	fail := func(err error) error {
		_ = a.f.Close()
		if a.atomic {
			_ = os.Remove(tmpPath)
		}
		return fmt.Errorf("%w: %v", contract.ErrFileAccess, err)
	}
	if err := a.bw.Flush(); err != nil {
		return fail(err)
	}
	if a.atomic {
		if err := a.f.Sync(); err != nil {
			return fail(err)
		}
	}
	if err := a.f.Close(); err != nil {
		if a.atomic {
			_ = os.Remove(tmpPath)
		}
		return fmt.Errorf("%w: %v", contract.ErrFileAccess, err)
	}
	if !a.atomic {
		return nil
	}
	// 平台特定的原子替换（或最佳努力）：
	if err := osReplace(tmpPath, a.dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", contract.ErrFileAccess, err)
	}
	// 最佳努力：在部分平台同步父目录，提升崩溃安全性
	_ = syncDir(filepath.Dir(a.dest))
	return nil
}
