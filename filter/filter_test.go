package filter

import (
	"errors"
	"testing"
)

const (
	plainMsg = "Subject: Test Message\nFrom: sender@example.com\n\nThis is the message body"
	spamMsg  = "Subject: This is spam\nFrom: spammer@example.com\n\nbuy now"
	bodyMsg  = "Subject: Message\n\nThis is an important message"
	// The header mentions "important" but the body does not.
	headerOnlyMsg = "Subject: important\n\nregular body"
)

func TestFilterAllows(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		raw  string
		want bool
	}{
		{"no filters", Options{}, plainMsg, true},
		{"include header match", Options{IncludeHeader: []string{"Subject: Test"}}, plainMsg, true},
		{"include header miss", Options{IncludeHeader: []string{"Subject: Test"}}, spamMsg, false},
		{"exclude header match", Options{ExcludeHeader: []string{"spam"}}, spamMsg, false},
		{"exclude header miss", Options{ExcludeHeader: []string{"spam"}}, plainMsg, true},
		{"include body match", Options{IncludeBody: []string{"important"}}, bodyMsg, true},
		{"include body ignores header", Options{IncludeBody: []string{"important"}}, headerOnlyMsg, false},
		{"exclude body match", Options{ExcludeBody: []string{"buy now"}}, spamMsg, false},
		{"blank patterns ignored", Options{IncludeHeader: []string{"  "}}, spamMsg, true},
		{"exclude body with CRLF body lines", Options{ExcludeBody: []string{"plain body"}}, "Subject: x\n\nplain body\r\n\r\n\r\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.opts)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := f.Allows([]byte(tt.raw)); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterMutuallyExclusive(t *testing.T) {
	_, err := New(Options{
		IncludeHeader: []string{"test"},
		ExcludeHeader: []string{"spam"},
	})
	if !errors.Is(err, ErrConflictingModes) {
		t.Errorf("expected ErrConflictingModes, got %v", err)
	}
}

func TestFilterInvalidPattern(t *testing.T) {
	if _, err := New(Options{IncludeBody: []string{"("}}); err == nil {
		t.Error("expected compile error")
	}
}

func TestFilterNilAllowsEverything(t *testing.T) {
	var f *Filter
	if !f.Allows([]byte(spamMsg)) {
		t.Error("nil filter should allow")
	}
	if st := f.Stats(); st.Checked != 0 {
		t.Errorf("nil filter stats = %+v", st)
	}
}

func TestFilterStats(t *testing.T) {
	f, err := New(Options{ExcludeHeader: []string{"spam"}})
	if err != nil {
		t.Fatal(err)
	}
	f.Allows([]byte(plainMsg))
	d := f.Check([]byte(spamMsg))
	if d.Allowed || d.Rule != "header:spam" {
		t.Errorf("Check() = %+v", d)
	}

	st := f.Stats()
	if st.Checked != 2 || st.Skipped != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.Hits["header:spam"] != 1 {
		t.Errorf("hits = %v", st.Hits)
	}
}

func TestSplitRawMessage(t *testing.T) {
	tests := []struct {
		name       string
		raw        []byte
		wantHeader []byte
		wantBody   []byte
	}{
		{
			name:       "CRLF separator",
			raw:        []byte("Header: value\r\n\r\nBody content"),
			wantHeader: []byte("Header: value"),
			wantBody:   []byte("Body content"),
		},
		{
			name:       "LF separator",
			raw:        []byte("Header: value\n\nBody content"),
			wantHeader: []byte("Header: value"),
			wantBody:   []byte("Body content"),
		},
		{
			name:       "LF headers with CRLF blank lines in body",
			raw:        []byte("Header: value\n\nplain body\r\n\r\n\r\n"),
			wantHeader: []byte("Header: value"),
			wantBody:   []byte("plain body\r\n\r\n\r\n"),
		},
		{
			name:       "CRLF headers with LF blank line in body",
			raw:        []byte("Header: value\r\n\r\nline\n\nmore"),
			wantHeader: []byte("Header: value"),
			wantBody:   []byte("line\n\nmore"),
		},
		{
			name:       "No separator",
			raw:        []byte("All header content"),
			wantHeader: []byte("All header content"),
			wantBody:   nil,
		},
		{
			name:       "Empty message",
			raw:        []byte{},
			wantHeader: nil,
			wantBody:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotHeader, gotBody := SplitRawMessage(tt.raw)
			if string(gotHeader) != string(tt.wantHeader) {
				t.Errorf("SplitRawMessage() header = %q, want %q", gotHeader, tt.wantHeader)
			}
			if string(gotBody) != string(tt.wantBody) {
				t.Errorf("SplitRawMessage() body = %q, want %q", gotBody, tt.wantBody)
			}
		})
	}
}
