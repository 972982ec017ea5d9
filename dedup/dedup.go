// Package dedup collapses byte-identical files in the attachment tree into
// one retained copy plus references.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dhcgn/mbox-archive/model"
)

type Options struct {
	Root     string
	Strategy Strategy
	// ManifestPath, if set, receives a YAML list of duplicate groups.
	ManifestPath string
}

type Report struct {
	Files          int
	DistinctHashes int
	Groups         int
	Duplicates     int
	Linked         int
	AlreadyLinked  int
	BytesSaved     int64
	Broken         int
	Duration       time.Duration
}

func (r Report) LogAttrs() []any {
	return []any{
		"files", r.Files,
		"distinctHashes", r.DistinctHashes,
		"groups", r.Groups,
		"duplicates", r.Duplicates,
		"linked", r.Linked,
		"alreadyLinked", r.AlreadyLinked,
		"bytesSaved", r.BytesSaved,
		"broken", r.Broken,
		"duration", r.Duration,
	}
}

type Deduplicator struct {
	opts   Options
	linker Linker
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyHardlink
	}
	return &Deduplicator{opts: opts, linker: linkerFor(opts.Strategy), logger: logger}
}

type entry struct {
	rel     string
	path    string
	info    os.FileInfo
	symlink bool
}

type key struct {
	size int64
	sum  [sha256.Size]byte
}

// Run hashes every file under Root and links each duplicate to the
// lexicographically first regular file of its group. Link failures are
// collected and returned together once every group was handled.
func (d *Deduplicator) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	var report Report

	groups, err := d.scan(ctx, &report)
	if err != nil {
		return report, err
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	report.DistinctHashes = len(keys)
	sort.Slice(keys, func(i, j int) bool {
		return groups[keys[i]][0].rel < groups[keys[j]][0].rel
	})

	manifest := Manifest{Root: d.opts.Root, Strategy: string(d.opts.Strategy)}
	var errs []error
	for _, k := range keys {
		members := groups[k]
		if len(members) < 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		retained, ok := pickRetained(members)
		if !ok {
			continue
		}
		report.Groups++
		g := Group{SHA256: hex.EncodeToString(k.sum[:]), Size: k.size, Retained: retained.rel}

		for _, m := range members {
			if m.rel == retained.rel {
				continue
			}
			g.Duplicates = append(g.Duplicates, m.rel)
			report.Duplicates++

			if os.SameFile(retained.info, m.info) {
				report.AlreadyLinked++
				continue
			}
			if d.opts.Strategy == StrategyManifest {
				continue
			}
			if err := d.linker.Link(retained.path, m.path); err != nil {
				d.logger.Warn("dedup link failed", "retained", retained.rel, "duplicate", m.rel, "err", err)
				errs = append(errs, err)
				continue
			}
			d.logger.Debug("linked duplicate", "retained", retained.rel, "duplicate", m.rel, "strategy", d.opts.Strategy)
			report.Linked++
			report.BytesSaved += k.size
		}
		manifest.Groups = append(manifest.Groups, g)
	}

	if d.opts.ManifestPath != "" {
		if err := writeManifest(d.opts.ManifestPath, manifest); err != nil {
			errs = append(errs, err)
		}
	}

	report.Duration = time.Since(started)
	if err := errors.Join(errs...); err != nil {
		return report, err
	}
	d.logger.Info("dedup completed", report.LogAttrs()...)
	return report, nil
}

// scan walks Root and groups files by size and SHA-256. Symlinks are
// followed so references made by an earlier run join their group.
func (d *Deduplicator) scan(ctx context.Context, report *Report) (map[key][]entry, error) {
	root := d.opts.Root
	if _, err := os.Stat(root); err != nil {
		return nil, &model.IOError{Op: "stat attachment tree", Path: root, Err: err}
	}

	groups := make(map[key][]entry)
	err := filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return &model.IOError{Op: "walk", Path: path, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != root && strings.HasPrefix(de.Name(), ".") {
			if de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if de.IsDir() {
			return nil
		}

		symlink := de.Type()&fs.ModeSymlink != 0
		if !symlink && !de.Type().IsRegular() {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			report.Broken++
			d.logger.Warn("skipping unreadable file", "path", path, "err", err)
			return nil
		}

		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", path, err)
		}

		report.Files++
		k := key{size: info.Size(), sum: sum}
		groups[k] = append(groups[k], entry{rel: filepath.ToSlash(rel), path: path, info: info, symlink: symlink})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i].rel < members[j].rel })
	}
	return groups, nil
}

// pickRetained returns the first member that is a real file. A group made
// only of symlinks points outside the tree and is left alone.
func pickRetained(members []entry) (entry, bool) {
	for _, m := range members {
		if !m.symlink {
			return m, true
		}
	}
	return entry{}, false
}

func hashFile(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, &model.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, &model.IOError{Op: "read", Path: path, Err: err}
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
