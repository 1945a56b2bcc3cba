//go:build !windows

package filesystem

import (
	"testing"

	"ssmlaudio/pkg/contract"
)

// TestMapPathInvalidUnix Unix 绝对路径拒绝
func TestMapPathInvalidUnix(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	for _, rel := range []string{"/abs", "..", "."} {
		if _, err := w.mapPath(rel); err != contract.ErrPathInvalid {
			t.Fatalf("%s 期望 invalid", rel)
		}
	}
}
