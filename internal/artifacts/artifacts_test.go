package artifacts

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveScreenshot_Naming(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }

	first, err := s.SaveScreenshot(7, []byte("png-1"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.SaveScreenshot(7, []byte("png-2"))
	if err != nil {
		t.Fatal(err)
	}

	if filepath.Base(first) != "7_1700000000123.png" {
		t.Errorf("first = %s", first)
	}
	if filepath.Base(second) != "7_1700000000124.png" {
		t.Errorf("same-millisecond capture should get the next slot, got %s", second)
	}
	if data, _ := os.ReadFile(first); string(data) != "png-1" {
		t.Errorf("first screenshot overwritten: %q", data)
	}
	if got := DiffPath(first); filepath.Base(got) != "7_1700000000123_diff.png" {
		t.Errorf("DiffPath = %s", got)
	}
}

func TestRemove(t *testing.T) {
	s, _ := NewStore(t.TempDir())

	path, _ := s.SaveScreenshot(1, []byte("x"))
	if err := s.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(path); err != nil {
		t.Errorf("removing a missing file should succeed: %v", err)
	}
	if err := s.Remove(""); err != nil {
		t.Errorf("empty path: %v", err)
	}
}

func TestRemoveMonitor(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.SaveScreenshot(1, []byte("a"))
	s.SaveScreenshot(1, []byte("b"))
	keep, _ := s.SaveScreenshot(11, []byte("c"))

	n, err := s.RemoveMonitor(1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("monitor 11 artifact removed: %v", err)
	}
}
