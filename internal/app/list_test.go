package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListDirectoryDepth(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, err := listDirectory(root, 0)
	if err != nil {
		t.Fatalf("listDirectory depth 0: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 top-level entries at depth 0, got %d", len(entries))
	}

	entries, err = listDirectory(root, 1)
	if err != nil {
		t.Fatalf("listDirectory depth 1: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries at depth 1, got %d", len(entries))
	}

	var subID uint64
	for _, e := range entries {
		if e.Name == "sub" && e.IsDir {
			subID = e.ChildID
		}
	}
	if subID == 0 {
		t.Fatalf("sub directory entry not found")
	}
	found := false
	for _, e := range entries {
		if e.Name == "b.txt" {
			found = true
			if e.ParentID != subID {
				t.Fatalf("expected b.txt parent id %d, got %d", subID, e.ParentID)
			}
		}
	}
	if !found {
		t.Fatalf("b.txt entry not found at depth 1")
	}
}

func TestListDirectoryRejectsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := listDirectory(path, 0); err == nil {
		t.Fatalf("expected error listing a non-directory")
	}
}
