package staging

import (
	"database/sql"
	"time"

	"github.com/dhcgn/mbox-archive/model"
)

type emailRow struct {
	MessageID    string        `db:"message_id"`
	ThreadID     string        `db:"thread_id"`
	SentAt       sql.NullInt64 `db:"sent_at"`
	DateHeader   string        `db:"date_header"`
	Sender       string        `db:"sender"`
	Recipients   string        `db:"recipients"`
	Cc           string        `db:"cc"`
	Subject      string        `db:"subject"`
	Labels       string        `db:"labels"`
	Body         string        `db:"body"`
	Year         string        `db:"year"`
	IngestOffset int64         `db:"ingest_offset"`
}

func toEmailRow(e model.Email) emailRow {
	r := emailRow{
		MessageID:    e.MessageID,
		ThreadID:     e.ThreadID,
		DateHeader:   e.DateHeader,
		Sender:       e.From,
		Recipients:   e.To,
		Cc:           e.Cc,
		Subject:      e.Subject,
		Labels:       e.Labels,
		Body:         e.Body,
		Year:         e.Year,
		IngestOffset: e.Offset,
	}
	if r.ThreadID == "" {
		r.ThreadID = e.MessageID
	}
	if r.Year == "" {
		r.Year = model.YearOf(e.SentAt)
	}
	if !e.SentAt.IsZero() {
		r.SentAt = sql.NullInt64{Int64: e.SentAt.Unix(), Valid: true}
	}
	return r
}

func (r emailRow) toModel() model.Email {
	e := model.Email{
		MessageID:  r.MessageID,
		ThreadID:   r.ThreadID,
		DateHeader: r.DateHeader,
		From:       r.Sender,
		To:         r.Recipients,
		Cc:         r.Cc,
		Subject:    r.Subject,
		Labels:     r.Labels,
		Body:       r.Body,
		Year:       r.Year,
		Offset:     r.IngestOffset,
	}
	if r.SentAt.Valid {
		e.SentAt = time.Unix(r.SentAt.Int64, 0).UTC()
	}
	return e
}

type attachmentRow struct {
	ID          int64  `db:"id"`
	MessageID   string `db:"message_id"`
	PartIndex   int    `db:"part_index"`
	Year        string `db:"year"`
	Filename    string `db:"filename"`
	ContentType string `db:"content_type"`
	Payload     []byte `db:"payload"`
}

func (r attachmentRow) toModel() model.Attachment {
	return model.Attachment{
		ID:          r.ID,
		MessageID:   r.MessageID,
		PartIndex:   r.PartIndex,
		Year:        r.Year,
		Filename:    r.Filename,
		ContentType: r.ContentType,
		Payload:     r.Payload,
	}
}
