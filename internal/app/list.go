package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/josephbirkner/r2ft/pkg/wire"
)

// listDirectory walks root up to depth additional levels (depth 0 lists
// only root's direct children), assigning each entry a sequential id so
// FileListResponse rows can express parent/child relationships without
// repeating full paths.
func listDirectory(root string, depth uint64) ([]wire.FileListEntry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("app: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("app: %s is not a directory", root)
	}

	var entries []wire.FileListEntry
	var nextID uint64 = 1

	var walk func(dir string, parentID uint64, remaining uint64) error
	walk = func(dir string, parentID uint64, remaining uint64) error {
		names, err := readDirSorted(dir)
		if err != nil {
			return fmt.Errorf("app: read dir %s: %w", dir, err)
		}
		for _, name := range names {
			full := filepath.Join(dir, name)
			fi, err := os.Lstat(full)
			if err != nil {
				return fmt.Errorf("app: stat %s: %w", full, err)
			}
			id := nextID
			nextID++
			entries = append(entries, wire.FileListEntry{
				IsDir:    fi.IsDir(),
				ParentID: parentID,
				Name:     name,
				ChildID:  id,
			})
			if fi.IsDir() && remaining > 0 {
				if err := walk(full, id, remaining-1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root, 0, depth); err != nil {
		return nil, err
	}
	return entries, nil
}

func readDirSorted(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(des))
	for _, d := range des {
		names = append(names, d.Name())
	}
	sort.Strings(names)
	return names, nil
}
