// Package export rewrites the staged mail as one text file per year and one
// attachment directory per year.
package export

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhcgn/mbox-archive/fileutil"
	"github.com/dhcgn/mbox-archive/model"
	"github.com/dhcgn/mbox-archive/staging"
)

const (
	DefaultTextDir       = "yearly_text_archives"
	DefaultAttachmentDir = "attachments_by_year"
)

type Options struct {
	OutputDir     string
	TextDir       string
	AttachmentDir string
	// SkipExtensions lists attachment extensions that are not exported,
	// compared case-insensitively with the leading dot.
	SkipExtensions []string
}

func (o Options) textRoot() string {
	return filepath.Join(o.OutputDir, o.TextDir)
}

func (o Options) attachmentRoot() string {
	return filepath.Join(o.OutputDir, o.AttachmentDir)
}

// YearReport counts what one year produced.
type YearReport struct {
	Year        string
	Messages    int
	Threads     int
	Attachments int
	// Unchanged attachments already held the right bytes and were left in place.
	Unchanged int
	Skipped   int
	Removed   int
}

type Report struct {
	Years []YearReport
	// RemovedYears lists attachment year directories no longer backed by the store.
	RemovedYears []string
	Duration     time.Duration
}

func (r Report) Totals() YearReport {
	var t YearReport
	for _, y := range r.Years {
		t.Messages += y.Messages
		t.Threads += y.Threads
		t.Attachments += y.Attachments
		t.Unchanged += y.Unchanged
		t.Skipped += y.Skipped
		t.Removed += y.Removed
	}
	return t
}

func (r Report) LogAttrs() []any {
	t := r.Totals()
	return []any{
		"years", len(r.Years),
		"messages", t.Messages,
		"threads", t.Threads,
		"attachments", t.Attachments,
		"unchanged", t.Unchanged,
		"skipped", t.Skipped,
		"removed", t.Removed,
		"removedYears", len(r.RemovedYears),
		"duration", r.Duration,
	}
}

func (y YearReport) LogAttrs() []any {
	return []any{
		"year", y.Year,
		"messages", y.Messages,
		"threads", y.Threads,
		"attachments", y.Attachments,
		"unchanged", y.Unchanged,
		"skipped", y.Skipped,
		"removed", y.Removed,
	}
}

// Exporter writes the output trees from a staging store.
type Exporter struct {
	store  *staging.Store
	opts   Options
	skip   map[string]bool
	logger *slog.Logger
}

func New(store *staging.Store, opts Options, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TextDir == "" {
		opts.TextDir = DefaultTextDir
	}
	if opts.AttachmentDir == "" {
		opts.AttachmentDir = DefaultAttachmentDir
	}
	skip := make(map[string]bool, len(opts.SkipExtensions))
	for _, ext := range opts.SkipExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		skip[ext] = true
	}
	return &Exporter{store: store, opts: opts, skip: skip, logger: logger}
}

// Run rewrites every year present in the store. Each output file is replaced
// atomically, so an interrupted run leaves old or new files, never partial
// ones, and a re-run completes the tree.
func (e *Exporter) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	var report Report

	textRoot, attRoot := e.opts.textRoot(), e.opts.attachmentRoot()
	if err := ensureDir(textRoot); err != nil {
		return report, err
	}
	if err := ensureDir(attRoot); err != nil {
		return report, err
	}

	years, err := e.store.Years(ctx)
	if err != nil {
		return report, err
	}

	written := make(map[string]bool, len(years))
	yearDirs := make(map[string]bool, len(years))
	for _, year := range years {
		yearDirs[year] = true
		if err := ctx.Err(); err != nil {
			return report, err
		}

		yr := YearReport{Year: year}
		name, err := e.writeYearText(ctx, textRoot, &yr)
		if err != nil {
			return report, err
		}
		if name != "" {
			written[name] = true
		}
		if err := e.writeYearAttachments(ctx, filepath.Join(attRoot, year), &yr); err != nil {
			return report, err
		}

		e.logger.Info("year exported", yr.LogAttrs()...)
		report.Years = append(report.Years, yr)
	}

	removed, err := prune(textRoot, written, func(name string) bool {
		return strings.HasSuffix(name, ".txt")
	})
	if err != nil {
		return report, err
	}
	for _, name := range removed {
		e.logger.Info("removed stale year file", "file", filepath.Join(textRoot, name))
	}

	report.RemovedYears, err = pruneDirs(attRoot, yearDirs)
	if err != nil {
		return report, err
	}
	for _, name := range report.RemovedYears {
		e.logger.Info("removed stale attachment year", "dir", filepath.Join(attRoot, name))
	}

	report.Duration = time.Since(started)
	e.logger.Info("export completed", report.LogAttrs()...)
	return report, nil
}

func (e *Exporter) writeYearText(ctx context.Context, root string, yr *YearReport) (string, error) {
	name := yr.Year + ".txt"
	path := filepath.Join(root, name)

	var messages, threads int
	err := fileutil.WriteAtomic(path, func(w io.Writer) error {
		tw := &threadWriter{w: w}
		err := e.store.IterateByThreadThenDate(ctx, yr.Year, func(m model.Email) error {
			messages++
			return tw.write(m)
		})
		if err != nil {
			return err
		}
		threads = tw.threads
		return tw.close()
	})
	if err != nil {
		return "", err
	}
	yr.Messages, yr.Threads = messages, threads
	return name, nil
}

func (e *Exporter) writeYearAttachments(ctx context.Context, dir string, yr *YearReport) error {
	if err := ensureDir(dir); err != nil {
		return err
	}

	namer := NewNamer()
	keep := make(map[string]bool)
	err := e.store.IterateAttachments(ctx, yr.Year, func(a model.Attachment) error {
		if e.skipped(a) {
			yr.Skipped++
			return nil
		}
		name := namer.Assign(a.Filename)
		keep[name] = true
		yr.Attachments++

		path := filepath.Join(dir, name)
		if sameContent(path, a.Payload) {
			yr.Unchanged++
			return nil
		}
		return fileutil.WriteAtomic(path, func(w io.Writer) error {
			_, err := w.Write(a.Payload)
			return err
		})
	})
	if err != nil {
		return err
	}

	removed, err := prune(dir, keep, func(string) bool { return true })
	if err != nil {
		return err
	}
	yr.Removed += len(removed)
	return nil
}

func (e *Exporter) skipped(a model.Attachment) bool {
	if strings.EqualFold(a.ContentType, "text/calendar") && e.skip[".ics"] {
		return true
	}
	return e.skip[strings.ToLower(filepath.Ext(a.Filename))]
}
