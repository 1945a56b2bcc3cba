//go:build windows

package filesystem

import (
	"testing"

	"ssmlaudio/pkg/contract"
)

// TestMapPathInvalidWindows Windows 绝对路径/盘符拒绝
func TestMapPathInvalidWindows(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	for _, rel := range []string{"C:\\abs", "..", "."} {
		if _, err := w.mapPath(rel); err != contract.ErrPathInvalid {
			t.Fatalf("%s 期望 invalid", rel)
		}
	}
}
