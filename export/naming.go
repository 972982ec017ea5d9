package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameBytes = 200

// Namer hands out collision-free file names within one directory. The first
// attachment with a name keeps it; later ones get "_1", "_2", ... before the
// extension. Names are compared case-insensitively so the result is the same
// on case-folding file systems.
type Namer struct {
	used map[string]bool
}

func NewNamer() *Namer {
	return &Namer{used: make(map[string]bool)}
}

// Assign sanitizes name and returns the first free variant of it.
func (n *Namer) Assign(name string) string {
	name = SanitizeFilename(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 1; n.used[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	n.used[strings.ToLower(candidate)] = true
	return candidate
}

// SanitizeFilename reduces an attachment name from a message to a single safe
// path element. Leading dots are dropped so no export looks like a temp or
// hidden file.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			return -1
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		name = "attachment"
	}

	if len(name) > maxNameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		stem := name[:maxNameBytes-len(ext)]
		for !utf8.ValidString(stem) {
			stem = stem[:len(stem)-1]
		}
		name = stem + ext
	}
	return name
}
