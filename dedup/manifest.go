package dedup

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dhcgn/mbox-archive/fileutil"
)

// Manifest records every duplicate group found in one run. Paths are
// relative to Root and use forward slashes.
type Manifest struct {
	Root     string  `yaml:"root"`
	Strategy string  `yaml:"strategy"`
	Groups   []Group `yaml:"groups"`
}

type Group struct {
	SHA256     string   `yaml:"sha256"`
	Size       int64    `yaml:"size"`
	Retained   string   `yaml:"retained"`
	Duplicates []string `yaml:"duplicates"`
}

func writeManifest(path string, m Manifest) error {
	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode manifest: %w", err)
		}
		return enc.Close()
	})
}

// ReadManifest loads a manifest written by Run.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}
