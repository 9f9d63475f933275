package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Bundle groups named tables the way the explorer persists them: "data"
// holds the matrix and masks, "samples" holds one table per sampler.
type Bundle struct {
	Data    map[string]*ColumnStore
	Samples map[string]*ColumnStore
}

const (
	bundleDataDir    = "data"
	bundleSamplesDir = "samples"
	bundleExt        = ".arrow"
)

// SaveBundle writes every table as dir/<group>/<name>.arrow.
func SaveBundle(dir string, b *Bundle) error {
	groups := map[string]map[string]*ColumnStore{
		bundleDataDir:    b.Data,
		bundleSamplesDir: b.Samples,
	}
	for group, tables := range groups {
		gdir := filepath.Join(dir, group)
		if err := os.MkdirAll(gdir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", gdir, err)
		}
		for name, cs := range tables {
			if err := WriteArrow(filepath.Join(gdir, name+bundleExt), cs); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadBundle reads a directory written by SaveBundle.
func LoadBundle(dir string) (*Bundle, error) {
	b := &Bundle{}
	var err error
	if b.Data, err = loadGroup(filepath.Join(dir, bundleDataDir)); err != nil {
		return nil, err
	}
	if b.Samples, err = loadGroup(filepath.Join(dir, bundleSamplesDir)); err != nil {
		return nil, err
	}
	return b, nil
}

func loadGroup(dir string) (map[string]*ColumnStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read bundle group: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make(map[string]*ColumnStore)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != bundleExt {
			continue
		}
		cs, err := LoadArrow(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[strings.TrimSuffix(e.Name(), bundleExt)] = cs
	}
	return out, nil
}
