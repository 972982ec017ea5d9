package dedup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dhcgn/mbox-archive/fileutil"
	"github.com/dhcgn/mbox-archive/model"
)

// Strategy selects how a duplicate is turned into a reference.
type Strategy string

const (
	StrategyHardlink Strategy = "hardlink"
	StrategySymlink  Strategy = "symlink"
	// StrategyManifest leaves the tree alone and only records the groups.
	StrategyManifest Strategy = "manifest"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyHardlink, StrategySymlink, StrategyManifest:
		return Strategy(s), nil
	case "":
		return StrategyHardlink, nil
	}
	return "", fmt.Errorf("unknown dedup strategy %q (want hardlink, symlink or manifest)", s)
}

// Linker replaces duplicate with a reference to retained. Both paths hold the
// same bytes; after Link, duplicate still resolves to them.
type Linker interface {
	Link(retained, duplicate string) error
}

func linkerFor(s Strategy) Linker {
	switch s {
	case StrategySymlink:
		return SymLinker{}
	case StrategyManifest:
		return manifestOnly{}
	}
	return HardLinker{}
}

// HardLinker points the duplicate path at the retained inode.
type HardLinker struct{}

func (HardLinker) Link(retained, duplicate string) error {
	return replace(duplicate, func(tmp string) error {
		return os.Link(retained, tmp)
	})
}

// SymLinker replaces the duplicate with a relative symbolic link.
type SymLinker struct{}

func (SymLinker) Link(retained, duplicate string) error {
	target, err := filepath.Rel(filepath.Dir(duplicate), retained)
	if err != nil {
		return fmt.Errorf("relative link target for %s: %w", duplicate, err)
	}
	return replace(duplicate, func(tmp string) error {
		return os.Symlink(target, tmp)
	})
}

type manifestOnly struct{}

func (manifestOnly) Link(string, string) error {
	return nil
}

// replace builds the reference under a temp name and renames it over path,
// so path never disappears.
func replace(path string, create func(tmp string) error) error {
	tmp, err := fileutil.TempSibling(path)
	if err != nil {
		return err
	}
	if err := create(tmp); err != nil {
		return &model.IOError{Op: "link", Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &model.IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
