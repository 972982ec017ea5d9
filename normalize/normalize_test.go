package normalize

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/mbox-archive/model"
	"github.com/dhcgn/mbox-archive/testutil"
)

func raw(lines ...string) model.RawMessage {
	return model.RawMessage{Offset: 42, Data: []byte(strings.Join(lines, "\n") + "\n")}
}

func TestMessagePlainText(t *testing.T) {
	t.Parallel()

	res, err := Message(model.RawMessage{Offset: 7, Data: []byte(testutil.Plain(
		"abc@example.com", "Fri, 01 Mar 2019 10:00:00 +0100", "Hello", "Line one\r\nLine two",
		"Cc: Carol <carol@example.com>", "X-Gmail-Labels: Inbox,Important",
	))})
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}

	e := res.Email
	if e.MessageID != "abc@example.com" {
		t.Errorf("MessageID = %q", e.MessageID)
	}
	if e.ThreadID != "abc@example.com" {
		t.Errorf("ThreadID = %q, want own id", e.ThreadID)
	}
	if e.From != "Alice <alice@example.com>" {
		t.Errorf("From = %q", e.From)
	}
	if e.To != "bob@example.com" || e.Cc != "Carol <carol@example.com>" {
		t.Errorf("To = %q, Cc = %q", e.To, e.Cc)
	}
	if e.Subject != "Hello" || e.Labels != "Inbox,Important" {
		t.Errorf("Subject = %q, Labels = %q", e.Subject, e.Labels)
	}
	if e.Body != "Line one\nLine two" {
		t.Errorf("Body = %q", e.Body)
	}
	want := time.Date(2019, 3, 1, 9, 0, 0, 0, time.UTC)
	if !e.SentAt.Equal(want) || e.Year != "2019" {
		t.Errorf("SentAt = %v, Year = %q", e.SentAt, e.Year)
	}
	if e.Offset != 7 {
		t.Errorf("Offset = %d", e.Offset)
	}
	if len(res.Attachments) != 0 {
		t.Errorf("expected no attachments, got %d", len(res.Attachments))
	}
}

func TestThreadID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers []string
		want    string
	}{
		{"gmail thread header wins", []string{"X-GM-THRID: 1234", "References: <root@x>"}, "1234"},
		{"first reference", []string{"References: <root@x> <mid@x>", "In-Reply-To: <mid@x>"}, "root@x"},
		{"in-reply-to", []string{"In-Reply-To: <parent@x>"}, "parent@x"},
		{"own id", nil, "self@x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Message(model.RawMessage{Data: []byte(testutil.Plain("self@x", "Fri, 01 Mar 2019 10:00:00 +0000", "s", "b", tt.headers...))})
			if err != nil {
				t.Fatal(err)
			}
			if res.Email.ThreadID != tt.want {
				t.Errorf("ThreadID = %q, want %q", res.Email.ThreadID, tt.want)
			}
		})
	}
}

func TestSyntheticMessageIDIsStable(t *testing.T) {
	t.Parallel()

	msg := model.RawMessage{Data: []byte(testutil.Plain("", "Fri, 01 Mar 2019 10:00:00 +0000", "no id", "body"))}
	a, err := Message(msg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Message(msg)
	if err != nil {
		t.Fatal(err)
	}
	if a.Email.MessageID == "" || a.Email.MessageID != b.Email.MessageID {
		t.Errorf("synthetic ids %q and %q", a.Email.MessageID, b.Email.MessageID)
	}
	if !strings.HasSuffix(a.Email.MessageID, "@"+syntheticDomain) {
		t.Errorf("unexpected synthetic id %q", a.Email.MessageID)
	}
}

func TestDateFallbacks(t *testing.T) {
	t.Parallel()

	res, err := Message(model.RawMessage{Data: []byte(testutil.Plain("d@x", "05-Jan-2020 13:14:15", "s", "b"))})
	if err != nil {
		t.Fatal(err)
	}
	if res.Email.Year != "2020" {
		t.Errorf("Year = %q, want 2020", res.Email.Year)
	}

	res, err = Message(model.RawMessage{Data: []byte(testutil.Plain("u@x", "sometime last week", "s", "b"))})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Email.SentAt.IsZero() || res.Email.Year != model.UnknownYear {
		t.Errorf("SentAt = %v, Year = %q", res.Email.SentAt, res.Email.Year)
	}
	if res.Email.DateHeader != "sometime last week" {
		t.Errorf("DateHeader = %q", res.Email.DateHeader)
	}
}

func TestUndecodableBodyFallsBack(t *testing.T) {
	t.Parallel()

	res, err := Message(raw(
		"Message-ID: <bad@x>",
		"Date: Fri, 01 Mar 2019 10:00:00 +0000",
		"Subject: broken",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: base64",
		"",
		"!!!! this is not base64 !!!!",
	))
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}
	if !strings.Contains(res.Email.Body, UndecodablePlaceholder) {
		t.Errorf("Body = %q, want placeholder", res.Email.Body)
	}
	if len(res.Warnings) == 0 {
		t.Errorf("expected a warning")
	}
}

func TestUnknownCharsetIsLossy(t *testing.T) {
	t.Parallel()

	res, err := Message(raw(
		"Message-ID: <cs@x>",
		"Subject: charset",
		"Content-Type: text/plain; charset=x-no-such-charset",
		"",
		"caf\xe9",
	))
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}
	if res.Email.Body != "caf\uFFFD" {
		t.Errorf("Body = %q", res.Email.Body)
	}
}

func TestLatin1Body(t *testing.T) {
	t.Parallel()

	res, err := Message(raw(
		"Message-ID: <l1@x>",
		"Subject: =?iso-8859-1?q?caf=E9?=",
		"Content-Type: text/plain; charset=iso-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"d=E9j=E0 vu",
	))
	if err != nil {
		t.Fatal(err)
	}
	if res.Email.Subject != "café" {
		t.Errorf("Subject = %q", res.Email.Subject)
	}
	if res.Email.Body != "déjà vu" {
		t.Errorf("Body = %q", res.Email.Body)
	}
}

func TestAttachments(t *testing.T) {
	t.Parallel()

	res, err := Message(model.RawMessage{Data: []byte(testutil.WithAttachment(
		"att@x", "Wed, 10 Jul 2019 10:00:00 +0000", "see attached",
		[2]string{"report.pdf", "%PDF-1.4 fake"},
		[2]string{"notes.txt", "plain notes"},
	))})
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}
	if res.Email.Body != "see attached" {
		t.Errorf("Body = %q", res.Email.Body)
	}
	if len(res.Attachments) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(res.Attachments))
	}
	a := res.Attachments[0]
	if a.Filename != "report.pdf" || string(a.Payload) != "%PDF-1.4 fake" {
		t.Errorf("attachment 0 = %q %q", a.Filename, a.Payload)
	}
	if a.MessageID != "att@x" || a.Year != "2019" {
		t.Errorf("attachment owner = %q year %q", a.MessageID, a.Year)
	}
	if res.Attachments[0].PartIndex >= res.Attachments[1].PartIndex {
		t.Errorf("part indexes not increasing: %d, %d", res.Attachments[0].PartIndex, res.Attachments[1].PartIndex)
	}
}

func TestInlineImageWithoutNameSkipped(t *testing.T) {
	t.Parallel()

	res, err := Message(raw(
		"Message-ID: <img@x>",
		"Content-Type: multipart/related; boundary=b",
		"",
		"--b",
		"Content-Type: text/plain",
		"",
		"text",
		"--b",
		"Content-Type: image/png",
		"Content-ID: <logo>",
		"Content-Transfer-Encoding: base64",
		"",
		"iVBORw0KGgo=",
		"--b",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment",
		"",
		"pdf-bytes",
		"--b--",
	))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Attachments) != 1 {
		t.Fatalf("expected only the unnamed attachment-disposition part, got %d", len(res.Attachments))
	}
	if res.Attachments[0].Filename != "attachment-3.pdf" {
		t.Errorf("synthesized name = %q", res.Attachments[0].Filename)
	}
}

func TestEmptyMessageIsError(t *testing.T) {
	t.Parallel()

	_, err := Message(model.RawMessage{Offset: 99, Data: []byte("\n\n")})
	var nerr *Error
	if !errors.As(err, &nerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if nerr.Offset != 99 || !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("unexpected error %v", err)
	}
}
