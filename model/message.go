package model

import "time"

// UnknownYear is the bucket for messages whose Date header could not be parsed.
const UnknownYear = "unknown"

// RawMessage is one mailbox entry as it appears in the mbox file.
type RawMessage struct {
	// Offset is the byte offset of the "From " separator line.
	Offset int64
	// End is the byte offset where the next entry starts.
	End      int64
	FromLine string
	// Data holds the RFC 5322 bytes (headers and body) with mbox escaping removed.
	Data []byte
}

// Email is a normalized message as held by the staging store.
type Email struct {
	MessageID  string
	ThreadID   string
	SentAt     time.Time
	DateHeader string
	From       string
	To         string
	Cc         string
	Subject    string
	Labels     string
	Body       string
	Year       string
	Offset     int64
}

// Attachment is a payload extracted from one MIME part of an Email.
type Attachment struct {
	ID          int64
	MessageID   string
	PartIndex   int
	Year        string
	Filename    string
	ContentType string
	Payload     []byte
}

// Envelope wraps a raw message alongside an optional error encountered while reading.
type Envelope struct {
	Seq     uint64
	Message RawMessage
	Err     error
}

// YearOf returns the archive bucket for t.
func YearOf(t time.Time) string {
	if t.IsZero() {
		return UnknownYear
	}
	return t.UTC().Format("2006")
}
