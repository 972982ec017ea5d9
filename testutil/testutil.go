// Package testutil holds fixtures shared by the package tests.
package testutil

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mbox-archive/staging"
)

// Message is one entry of a fixture mailbox.
type Message struct {
	Sender string
	Date   time.Time
	Raw    string
}

// NewTestStore opens a staging store in a temporary directory.
// It automatically closes the store when the test completes.
func NewTestStore(t testing.TB) *staging.Store {
	t.Helper()

	s, err := staging.Open(filepath.Join(t.TempDir(), "staging.db"))
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// WriteMbox writes msgs to path using an mbox writer, which escapes body
// lines starting with "From ".
func WriteMbox(t testing.TB, path string, msgs ...Message) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating mbox: %v", err)
	}
	defer f.Close()

	w := mboxlib.NewWriter(f)
	for i, m := range msgs {
		sender := m.Sender
		if sender == "" {
			sender = "fixture@example.com"
		}
		date := m.Date
		if date.IsZero() {
			date = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		mw, err := w.CreateMessage(sender, date)
		if err != nil {
			t.Fatalf("creating message %d: %v", i, err)
		}
		raw := m.Raw
		if !strings.HasSuffix(raw, "\n") {
			raw += "\n"
		}
		if _, err := mw.Write([]byte(raw)); err != nil {
			t.Fatalf("writing message %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing mbox writer: %v", err)
	}
}

// Plain builds a single-part text/plain message.
func Plain(id, date, subject, body string, headers ...string) string {
	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\n", id)
	}
	if date != "" {
		fmt.Fprintf(&b, "Date: %s\n", date)
	}
	b.WriteString("From: Alice <alice@example.com>\n")
	b.WriteString("To: bob@example.com\n")
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	for _, h := range headers {
		b.WriteString(h)
		b.WriteString("\n")
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\n")
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n")
	return b.String()
}

// WithAttachment builds a multipart/mixed message with a text body and one
// base64 attachment per name/content pair.
func WithAttachment(id, date, body string, files ...[2]string) string {
	const boundary = "fixture-boundary"
	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: <%s>\n", id)
	fmt.Fprintf(&b, "Date: %s\n", date)
	b.WriteString("From: Alice <alice@example.com>\n")
	b.WriteString("To: bob@example.com\n")
	b.WriteString("Subject: with attachment\n")
	b.WriteString("MIME-Version: 1.0\n")
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%q\n\n", boundary)
	fmt.Fprintf(&b, "--%s\nContent-Type: text/plain; charset=utf-8\n\n%s\n", boundary, body)
	for _, f := range files {
		fmt.Fprintf(&b, "--%s\n", boundary)
		b.WriteString("Content-Type: application/octet-stream\n")
		fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\n", f[0])
		b.WriteString("Content-Transfer-Encoding: base64\n\n")
		b.WriteString(encodeBase64(f[1]))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "--%s--\n", boundary)
	return b.String()
}

func encodeBase64(s string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(s))
	var b strings.Builder
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteString("\n")
		enc = enc[76:]
	}
	b.WriteString(enc)
	return b.String()
}
