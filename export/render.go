package export

import (
	"io"
	"strings"

	"github.com/dhcgn/mbox-archive/model"
)

// renderEmail writes one delimited message block.
func renderEmail(w io.Writer, e model.Email) error {
	var b strings.Builder
	b.WriteString("--- MESSAGE ---\n")
	b.WriteString("Message-ID: " + e.MessageID + "\n")
	b.WriteString("Thread-ID: " + e.ThreadID + "\n")
	b.WriteString("Date: " + e.DateHeader + "\n")
	b.WriteString("From: " + e.From + "\n")
	b.WriteString("To: " + e.To + "\n")
	if e.Cc != "" {
		b.WriteString("Cc: " + e.Cc + "\n")
	}
	b.WriteString("Subject: " + e.Subject + "\n")
	if e.Labels != "" {
		b.WriteString("Labels: " + e.Labels + "\n")
	}
	b.WriteString("\n")
	b.WriteString(e.Body)
	b.WriteString("\n")
	return writeString(w, b.String())
}

// threadWriter lays out consecutive emails: one blank line between messages
// of a thread, and each thread terminated by two.
type threadWriter struct {
	w       io.Writer
	thread  string
	started bool
	threads int
}

func (t *threadWriter) write(e model.Email) error {
	if t.started {
		sep := "\n"
		if e.ThreadID != t.thread {
			sep = "\n\n"
		}
		if err := writeString(t.w, sep); err != nil {
			return err
		}
	}
	if !t.started || e.ThreadID != t.thread {
		t.threads++
	}
	t.started = true
	t.thread = e.ThreadID
	return renderEmail(t.w, e)
}

func (t *threadWriter) close() error {
	if !t.started {
		return nil
	}
	return writeString(t.w, "\n\n")
}
