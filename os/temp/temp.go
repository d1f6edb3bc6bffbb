// Package temp makes hierarchical temporary directories.
// Session working directories all live under one root so relocating the
// engine's scratch space means changing one value.
package temp

import (
	"fmt"
	"os"
	"path"
	"strings"
)

// NewTempDir creates a new TempDir in directory dir with the given prefix.
func NewTempDir(dir, prefix string) (*TempDir, error) {
	p, err := os.MkdirTemp(dir, prefix)
	if err != nil {
		return nil, err
	}
	return &TempDir{Dir: p}, nil
}

// TempDir is a temporary directory that may live under other temporary
// directories.
type TempDir struct {
	Dir string
}

// FixedDir creates a directory with a fixed name under d.
func (d *TempDir) FixedDir(name string) (*TempDir, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		return nil, fmt.Errorf("temp.TempDir.FixedDir: invalid name %v", name)
	}
	p := path.Join(d.Dir, name)
	if err := os.MkdirAll(p, 0777); err != nil {
		return nil, err
	}
	return &TempDir{p}, nil
}
