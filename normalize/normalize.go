// Package normalize turns a raw mbox entry into a staged email record and its
// attachments.
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/dhcgn/mbox-archive/model"
)

// UndecodablePlaceholder replaces body content that could not be decoded.
const UndecodablePlaceholder = "[undecodable content]"

const syntheticDomain = "synthetic.invalid"

var (
	ErrEmptyMessage = errors.New("empty message")

	syntheticNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("mbox-archive"))
)

// Error reports a message that could not be normalized at all.
type Error struct {
	Offset    int64
	MessageID string
	Err       error
}

func (e *Error) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("normalize message %s at offset %d: %v", e.MessageID, e.Offset, e.Err)
	}
	return fmt.Sprintf("normalize message at offset %d: %v", e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result is the normalized form of one raw message.
type Result struct {
	Email       model.Email
	Attachments []model.Attachment
	// Warnings lists parts that were decoded lossily or dropped.
	Warnings []string
}

// Message normalizes raw. Decoding problems inside the body degrade to
// placeholder text; only an unreadable header block yields an *Error.
func Message(raw model.RawMessage) (Result, error) {
	if len(bytes.TrimSpace(raw.Data)) == 0 {
		return Result{}, &Error{Offset: raw.Offset, Err: ErrEmptyMessage}
	}

	entity, err := message.Read(bytes.NewReader(raw.Data))
	if entity == nil {
		return Result{}, &Error{Offset: raw.Offset, Err: fmt.Errorf("read header: %w", err)}
	}

	n := &normalizer{}
	if err != nil {
		n.warnf("top-level entity: %v", err)
	}

	h := mail.Header{Header: entity.Header}
	email := headerFields(h, raw)

	n.walk(entity)

	email.Body = strings.TrimSpace(strings.Join(n.texts, "\n"))
	for i := range n.attachments {
		n.attachments[i].MessageID = email.MessageID
		n.attachments[i].Year = email.Year
	}

	return Result{Email: email, Attachments: n.attachments, Warnings: n.warnings}, nil
}

func headerFields(h mail.Header, raw model.RawMessage) model.Email {
	id := messageID(h)
	if id == "" {
		id = uuid.NewSHA1(syntheticNamespace, raw.Data).String() + "@" + syntheticDomain
	}

	sentAt := parseDate(h)
	return model.Email{
		MessageID:  id,
		ThreadID:   threadID(h, id),
		SentAt:     sentAt,
		DateHeader: textField(h, "Date"),
		From:       addressField(h, "From"),
		To:         addressField(h, "To"),
		Cc:         addressField(h, "Cc"),
		Subject:    subject(h),
		Labels:     textField(h, "X-Gmail-Labels"),
		Year:       model.YearOf(sentAt),
		Offset:     raw.Offset,
	}
}

func messageID(h mail.Header) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return id
	}
	return strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>")
}

// threadID prefers Gmail's thread header, then the thread root named by
// References, then In-Reply-To. A message without any of them is its own thread.
func threadID(h mail.Header, id string) string {
	if v := strings.TrimSpace(h.Get("X-GM-THRID")); v != "" {
		return v
	}
	for _, key := range []string{"References", "In-Reply-To"} {
		if ids, err := h.MsgIDList(key); err == nil && len(ids) > 0 {
			return ids[0]
		}
		if fields := strings.Fields(h.Get(key)); len(fields) > 0 {
			if v := strings.Trim(fields[0], "<>"); v != "" {
				return v
			}
		}
	}
	return id
}

const fallbackDateLayout = "02-Jan-2006 15:04:05"

func parseDate(h mail.Header) time.Time {
	raw := strings.TrimSpace(h.Get("Date"))
	if raw == "" {
		return time.Time{}
	}
	if t, err := h.Date(); err == nil && !t.IsZero() {
		return t
	}
	if t, err := time.ParseInLocation(fallbackDateLayout, raw, time.UTC); err == nil {
		return t
	}
	return time.Time{}
}

func subject(h mail.Header) string {
	if s, err := h.Subject(); err == nil {
		return collapse(s)
	}
	return collapse(h.Get("Subject"))
}

func textField(h mail.Header, key string) string {
	if v, err := h.Text(key); err == nil {
		return collapse(v)
	}
	return collapse(h.Get(key))
}

func addressField(h mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return textField(h, key)
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToValidUTF8(s, "\uFFFD")), " ")
}

type normalizer struct {
	parts       int
	texts       []string
	attachments []model.Attachment
	warnings    []string
}

func (n *normalizer) warnf(format string, args ...any) {
	n.warnings = append(n.warnings, fmt.Sprintf(format, args...))
}

func (n *normalizer) walk(e *message.Entity) {
	if mr := e.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return
			}
			if part == nil {
				n.warnf("multipart: %v", err)
				return
			}
			if err != nil {
				n.warnf("part %d: %v", n.parts+1, err)
			}
			n.walk(part)
		}
	}
	n.leaf(e)
}

func (n *normalizer) leaf(e *message.Entity) {
	n.parts++
	index := n.parts

	mediaType, _, _ := e.Header.ContentType()
	mediaType = strings.ToLower(mediaType)
	if mediaType == "" {
		mediaType = "text/plain"
	}
	disposition, _, _ := e.Header.ContentDisposition()
	disposition = strings.ToLower(disposition)

	ah := mail.AttachmentHeader{Header: e.Header}
	filename, _ := ah.Filename()
	filename = decodeWords(filename)

	switch {
	case filename != "" || disposition == "attachment" || mediaType == "message/rfc822":
		payload, err := io.ReadAll(e.Body)
		if err != nil {
			n.warnf("attachment part %d (%s): %v", index, filename, err)
			return
		}
		if filename == "" {
			filename = fmt.Sprintf("attachment-%d%s", index, extensionFor(mediaType))
		}
		n.attachments = append(n.attachments, model.Attachment{
			PartIndex:   index,
			Filename:    filename,
			ContentType: mediaType,
			Payload:     payload,
		})
	case mediaType == "text/plain":
		data, err := io.ReadAll(e.Body)
		text := cleanText(data)
		if err != nil {
			n.warnf("text part %d: %v", index, err)
			text += UndecodablePlaceholder
		}
		n.texts = append(n.texts, text)
	}
}

func cleanText(b []byte) string {
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func decodeWords(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	dec := mime.WordDecoder{CharsetReader: message.CharsetReader}
	if out, err := dec.DecodeHeader(s); err == nil {
		return out
	}
	return s
}

var extensions = map[string]string{
	"message/rfc822":     ".eml",
	"application/pdf":    ".pdf",
	"application/zip":    ".zip",
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"text/plain":         ".txt",
	"text/html":          ".html",
	"text/calendar":      ".ics",
	"application/msword": ".doc",
}

func extensionFor(mediaType string) string {
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	return ".bin"
}
