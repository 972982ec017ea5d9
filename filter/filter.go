// Package filter decides which raw messages ingest stages, based on
// include or exclude regular expressions over the header block and body.
package filter

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

var ErrConflictingModes = errors.New("include and exclude filters are mutually exclusive")

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Active reports whether any pattern is configured.
func (o Options) Active() bool {
	return len(o.IncludeHeader)+len(o.IncludeBody)+len(o.ExcludeHeader)+len(o.ExcludeBody) > 0
}

type section int

const (
	sectionHeader section = iota
	sectionBody
)

func (s section) String() string {
	if s == sectionHeader {
		return "header"
	}
	return "body"
}

type rule struct {
	section section
	re      *regexp.Regexp
	hits    atomic.Int64
}

// Decision explains why a message was kept or skipped.
type Decision struct {
	Allowed bool
	// Rule is "<section>:<pattern>" of the matching rule, empty when no rule matched.
	Rule string
}

// Filter holds compiled patterns. It is safe for concurrent use.
type Filter struct {
	include bool
	rules   []*rule

	checked atomic.Int64
	skipped atomic.Int64
}

// New compiles opts. A Filter without patterns allows everything.
func New(opts Options) (*Filter, error) {
	includes := len(opts.IncludeHeader)+len(opts.IncludeBody) > 0
	excludes := len(opts.ExcludeHeader)+len(opts.ExcludeBody) > 0
	if includes && excludes {
		return nil, ErrConflictingModes
	}

	f := &Filter{include: includes}
	groups := []struct {
		name     string
		section  section
		patterns []string
	}{
		{"include-header", sectionHeader, opts.IncludeHeader},
		{"include-body", sectionBody, opts.IncludeBody},
		{"exclude-header", sectionHeader, opts.ExcludeHeader},
		{"exclude-body", sectionBody, opts.ExcludeBody},
	}
	for _, g := range groups {
		for _, pattern := range g.patterns {
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("compile %s pattern %q: %w", g.name, pattern, err)
			}
			f.rules = append(f.rules, &rule{section: g.section, re: re})
		}
	}
	return f, nil
}

// Check evaluates raw, a complete message with headers and body.
func (f *Filter) Check(raw []byte) Decision {
	if f == nil || len(f.rules) == 0 {
		return Decision{Allowed: true}
	}
	f.checked.Add(1)

	header, body := SplitRawMessage(raw)
	matched := f.match(header, body)

	d := Decision{Allowed: true}
	if matched != nil {
		d.Rule = matched.section.String() + ":" + matched.re.String()
	}
	switch {
	case f.include && matched == nil:
		d.Allowed = false
	case !f.include && matched != nil:
		d.Allowed = false
	}
	if !d.Allowed {
		f.skipped.Add(1)
	}
	return d
}

// Allows reports whether raw passes the filter.
func (f *Filter) Allows(raw []byte) bool {
	return f.Check(raw).Allowed
}

func (f *Filter) match(header, body []byte) *rule {
	for _, r := range f.rules {
		text := header
		if r.section == sectionBody {
			text = body
		}
		if r.re.Match(text) {
			r.hits.Add(1)
			return r
		}
	}
	return nil
}

// Stats is a point-in-time view of how often the filter matched.
type Stats struct {
	Checked int64
	Skipped int64
	// Hits maps "<section>:<pattern>" to match counts.
	Hits map[string]int64
}

func (f *Filter) Stats() Stats {
	if f == nil {
		return Stats{}
	}
	st := Stats{
		Checked: f.checked.Load(),
		Skipped: f.skipped.Load(),
		Hits:    make(map[string]int64, len(f.rules)),
	}
	for _, r := range f.rules {
		st.Hits[r.section.String()+":"+r.re.String()] = r.hits.Load()
	}
	return st
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	// The first blank line wins, whichever line ending it uses.
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:]
	case lf >= 0:
		return raw[:lf], raw[lf+2:]
	}

	return raw, nil
}
