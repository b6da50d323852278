//go:build !windows

package filesystem

import (
	"errors"
	"testing"

	"bboxbisect/pkg/contract"
)

// 非扁平模式拒绝绝对路径与逃逸；扁平模式仅拒绝无文件名的标识
func TestMapPathInvalidUnix(t *testing.T) {
	dir := t.TempDir()
	flat := false
	w, _ := New(&Options{OutputDir: dir, Flat: &flat})
	for _, id := range []string{"/abs", "..", ".", "../x/voronoi-in.1.txt"} {
		if _, err := w.mapPath(contract.ArtifactID(id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("id %s expect invalid", id)
		}
	}
	fw, _ := New(&Options{OutputDir: dir})
	for _, id := range []string{"/", "..", "."} {
		if _, err := fw.mapPath(contract.ArtifactID(id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("flat id %s expect invalid", id)
		}
	}
	if _, err := fw.mapPath("/abs/voronoi-in.1.txt"); err != nil {
		t.Fatalf("flat mode should keep base name: %v", err)
	}
}
