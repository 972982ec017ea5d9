package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dhcgn/mbox-archive/dedup"
	"github.com/dhcgn/mbox-archive/export"
	"github.com/dhcgn/mbox-archive/filter"
	"github.com/dhcgn/mbox-archive/ingest"
)

// EnvPrefix prefixes every environment variable, e.g. MBOXARCHIVE_DB.
const EnvPrefix = "MBOXARCHIVE"

// Config captures the options shared by all commands.
type Config struct {
	DBPath        string
	OutputDir     string
	LogLevel      string
	LogDir        string
	Progress      bool
	Workers       int
	BatchSize     int
	UnescapeFrom  bool
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string

	TextDir        string
	AttachmentDir  string
	SkipExtensions []string

	DedupStrategy string
	DedupManifest string
}

// AttachmentRoot is the directory the exporter writes and dedup scans.
func (c Config) AttachmentRoot() string {
	return filepath.Join(c.OutputDir, c.AttachmentDir)
}

// ManifestPath resolves the dedup manifest against the output directory.
// An empty setting disables the manifest.
func (c Config) ManifestPath() string {
	if c.DedupManifest == "" || filepath.IsAbs(c.DedupManifest) {
		return c.DedupManifest
	}
	return filepath.Join(c.OutputDir, c.DedupManifest)
}

// RegisterFlags attaches the persistent CLI flags to the root command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML config file")
	flags.String("db", "email_index.db", "Path to the SQLite staging database")
	flags.String("out", ".", "Output directory for text archives and attachments")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.Bool("progress", true, "Show a progress bar when stderr is a terminal")
	flags.Int("workers", runtime.NumCPU(), "Parallel message normalizers during ingest")
	flags.Int("batch-size", ingest.DefaultBatchSize, "Messages per staging transaction")
	flags.Bool("unescape-from", true, `Strip one ">" from body lines matching ^>+From (mboxrd)`)
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	flags.String("text-dir", export.DefaultTextDir, "Directory under --out for yearly text files")
	flags.String("attachment-dir", export.DefaultAttachmentDir, "Directory under --out for attachments")
	flags.StringSlice("skip-ext", []string{".ics"}, "Attachment extensions that are not exported")
	flags.String("dedup-strategy", string(dedup.StrategyHardlink), "Dedup reference type: hardlink, symlink or manifest")
	flags.String("dedup-manifest", "dedup_manifest.yaml", "Dedup manifest path, relative to --out (empty disables)")

	return cmd.MarkPersistentFlagFilename("config", "yaml", "yml")
}

// LoadConfig resolves the configuration for cmd. Explicit flags win over
// environment variables, which win over the config file and the defaults.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	logLevel := strings.ToLower(v.GetString("log-level"))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		DBPath:         v.GetString("db"),
		OutputDir:      filepath.Clean(v.GetString("out")),
		LogLevel:       logLevel,
		LogDir:         v.GetString("log-dir"),
		Progress:       v.GetBool("progress"),
		Workers:        v.GetInt("workers"),
		BatchSize:      v.GetInt("batch-size"),
		UnescapeFrom:   v.GetBool("unescape-from"),
		IncludeHeader:  stringList(v, flags, "include-header"),
		IncludeBody:    stringList(v, flags, "include-body"),
		ExcludeHeader:  stringList(v, flags, "exclude-header"),
		ExcludeBody:    stringList(v, flags, "exclude-body"),
		TextDir:        v.GetString("text-dir"),
		AttachmentDir:  v.GetString("attachment-dir"),
		SkipExtensions: v.GetStringSlice("skip-ext"),
		DedupStrategy:  strings.ToLower(v.GetString("dedup-strategy")),
		DedupManifest:  v.GetString("dedup-manifest"),
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stringList reads repeatable flags directly so that patterns containing
// commas survive; viper's slice parsing splits them.
func stringList(v *viper.Viper, flags *pflag.FlagSet, key string) []string {
	if f := flags.Lookup(key); f != nil && f.Changed {
		if values, err := flags.GetStringArray(key); err == nil {
			return values
		}
	}
	return v.GetStringSlice(key)
}

func validateConfig(cfg Config) error {
	if cfg.DBPath == "" {
		return errors.New("--db is required")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("--batch-size must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.TextDir == "" || cfg.AttachmentDir == "" {
		return errors.New("--text-dir and --attachment-dir must not be empty")
	}
	if filepath.Clean(cfg.TextDir) == filepath.Clean(cfg.AttachmentDir) {
		return errors.New("--text-dir and --attachment-dir must differ")
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return filter.ErrConflictingModes
	}

	if _, err := dedup.ParseStrategy(cfg.DedupStrategy); err != nil {
		return err
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// FilterOptions returns the filter patterns as filter options.
func (c Config) FilterOptions() filter.Options {
	return filter.Options{
		IncludeHeader: c.IncludeHeader,
		IncludeBody:   c.IncludeBody,
		ExcludeHeader: c.ExcludeHeader,
		ExcludeBody:   c.ExcludeBody,
	}
}
