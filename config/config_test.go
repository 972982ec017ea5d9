package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-archive/filter"
)

// load parses args against a root command with a single subcommand, the
// way the CLI resolves configuration.
func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()

	root := &cobra.Command{Use: "root"}
	if err := RegisterFlags(root); err != nil {
		t.Fatalf("RegisterFlags() error = %v", err)
	}

	var (
		cfg     Config
		loadErr error
	)
	sub := &cobra.Command{
		Use: "sub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loadErr = LoadConfig(cmd)
			return nil
		},
	}
	root.AddCommand(sub)
	root.SetArgs(append([]string{"sub"}, args...))
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	return cfg, loadErr
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.DBPath != "email_index.db" || cfg.OutputDir != "." {
		t.Errorf("DBPath = %q, OutputDir = %q", cfg.DBPath, cfg.OutputDir)
	}
	if cfg.LogLevel != "info" || !cfg.Progress || !cfg.UnescapeFrom {
		t.Errorf("LogLevel = %q, Progress = %v, UnescapeFrom = %v", cfg.LogLevel, cfg.Progress, cfg.UnescapeFrom)
	}
	if cfg.Workers < 1 || cfg.BatchSize != 250 {
		t.Errorf("Workers = %d, BatchSize = %d", cfg.Workers, cfg.BatchSize)
	}
	if len(cfg.SkipExtensions) != 1 || cfg.SkipExtensions[0] != ".ics" {
		t.Errorf("SkipExtensions = %v", cfg.SkipExtensions)
	}
	if cfg.DedupStrategy != "hardlink" {
		t.Errorf("DedupStrategy = %q", cfg.DedupStrategy)
	}
	if got, want := cfg.ManifestPath(), "dedup_manifest.yaml"; got != want {
		t.Errorf("ManifestPath() = %q, want %q", got, want)
	}
}

func TestFlagsOverrideEnvAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "db: from-file.db\nworkers: 2\nbatch-size: 10\nlog-level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MBOXARCHIVE_WORKERS", "3")

	cfg, err := load(t, "--config", path, "--batch-size", "7")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.DBPath != "from-file.db" {
		t.Errorf("DBPath = %q, want value from file", cfg.DBPath)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want env value 3", cfg.Workers)
	}
	if cfg.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want flag value 7", cfg.BatchSize)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := load(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestPatternsKeepCommas(t *testing.T) {
	cfg, err := load(t, "--include-header", `^From: .{1,3}@x`, "--include-body", "invoice")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.IncludeHeader) != 1 || cfg.IncludeHeader[0] != `^From: .{1,3}@x` {
		t.Errorf("IncludeHeader = %q", cfg.IncludeHeader)
	}
	if opts := cfg.FilterOptions(); !opts.Active() || len(opts.IncludeBody) != 1 {
		t.Errorf("FilterOptions() = %+v", opts)
	}
}

func TestWarningAlias(t *testing.T) {
	cfg, err := load(t, "--log-level", "WARNING")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestPaths(t *testing.T) {
	cfg, err := load(t, "--out", "archive", "--dedup-manifest", "m.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.AttachmentRoot(), filepath.Join("archive", "attachments_by_year"); got != want {
		t.Errorf("AttachmentRoot() = %q, want %q", got, want)
	}
	if got, want := cfg.ManifestPath(), filepath.Join("archive", "m.yaml"); got != want {
		t.Errorf("ManifestPath() = %q, want %q", got, want)
	}

	cfg, err = load(t, "--dedup-manifest", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ManifestPath() != "" {
		t.Errorf("ManifestPath() = %q, want disabled", cfg.ManifestPath())
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"conflicting filters", []string{"--include-header", "a", "--exclude-body", "b"}},
		{"zero workers", []string{"--workers", "0"}},
		{"zero batch", []string{"--batch-size", "0"}},
		{"unknown strategy", []string{"--dedup-strategy", "copy"}},
		{"unknown log level", []string{"--log-level", "loud"}},
		{"same directories", []string{"--text-dir", "x", "--attachment-dir", "x"}},
		{"empty db", []string{"--db", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(t, tt.args...); err == nil {
				t.Errorf("LoadConfig(%v) succeeded, want error", tt.args)
			}
		})
	}

	_, err := load(t, "--include-header", "a", "--exclude-header", "b")
	if !errors.Is(err, filter.ErrConflictingModes) {
		t.Errorf("expected ErrConflictingModes, got %v", err)
	}
}
