package staging_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhcgn/mbox-archive/model"
	"github.com/dhcgn/mbox-archive/staging"
	"github.com/dhcgn/mbox-archive/testutil"
)

func email(id, thread string, sent time.Time) model.Email {
	return model.Email{
		MessageID: id,
		ThreadID:  thread,
		SentAt:    sent,
		From:      "alice@example.com",
		Subject:   "subject " + id,
		Body:      "body " + id,
		Year:      model.YearOf(sent),
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func collectEmails(t *testing.T, s *staging.Store, year string) []model.Email {
	t.Helper()
	var out []model.Email
	if err := s.IterateByThreadThenDate(context.Background(), year, func(e model.Email) error {
		out = append(out, e)
		return nil
	}); err != nil {
		t.Fatalf("IterateByThreadThenDate() error = %v", err)
	}
	return out
}

func TestUpsertReplacesEarlierRecord(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first := email("a@x", "a@x", day(2019, 3, 1))
	if err := s.Upsert(ctx, first, []model.Attachment{{PartIndex: 2, Filename: "old.pdf", Payload: []byte("old")}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	second := first
	second.Subject = "updated"
	if err := s.Upsert(ctx, second, []model.Attachment{{PartIndex: 3, Filename: "new.pdf", Payload: []byte("new")}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got := collectEmails(t, s, "")
	if len(got) != 1 {
		t.Fatalf("expected 1 email, got %d", len(got))
	}
	if got[0].Subject != "updated" {
		t.Errorf("Subject = %q, want updated", got[0].Subject)
	}
	if !got[0].SentAt.Equal(first.SentAt) {
		t.Errorf("SentAt = %v, want %v", got[0].SentAt, first.SentAt)
	}

	var atts []model.Attachment
	if err := s.IterateAttachments(ctx, "2019", func(a model.Attachment) error {
		atts = append(atts, a)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(atts) != 1 || atts[0].Filename != "new.pdf" || string(atts[0].Payload) != "new" {
		t.Errorf("attachments = %+v, want only new.pdf", atts)
	}
	if atts[0].Year != "2019" || atts[0].MessageID != "a@x" {
		t.Errorf("attachment owner = %q year %q", atts[0].MessageID, atts[0].Year)
	}
}

func TestIterateOrdersByThreadThenDate(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for _, e := range []model.Email{
		email("reply@x", "root@x", day(2019, 4, 2)),
		email("other@x", "other@x", day(2019, 1, 1)),
		email("root@x", "root@x", day(2019, 4, 1)),
		email("late@x", "late@x", day(2020, 1, 1)),
	} {
		if err := s.Upsert(ctx, e, nil); err != nil {
			t.Fatal(err)
		}
	}

	got := collectEmails(t, s, "2019")
	want := []string{"other@x", "root@x", "reply@x"}
	if len(got) != len(want) {
		t.Fatalf("got %d emails, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].MessageID != id {
			t.Errorf("position %d = %s, want %s", i, got[i].MessageID, id)
		}
	}

	years, err := s.Years(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(years) != 2 || years[0] != "2019" || years[1] != "2020" {
		t.Errorf("Years() = %v", years)
	}
}

func TestUnknownYearStoresNullDate(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	e := email("nodate@x", "nodate@x", time.Time{})
	e.DateHeader = "garbage"
	if err := s.Upsert(ctx, e, nil); err != nil {
		t.Fatal(err)
	}
	got := collectEmails(t, s, model.UnknownYear)
	if len(got) != 1 {
		t.Fatalf("expected 1 email in unknown year, got %d", len(got))
	}
	if !got[0].SentAt.IsZero() || got[0].DateHeader != "garbage" {
		t.Errorf("got %+v", got[0])
	}
}

func TestBatchCommitsCheckpointAtomically(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	b, err := s.Begin(ctx, "/m.mbox")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Upsert(ctx, email("a@x", "a@x", day(2019, 1, 1)), nil); err != nil {
		t.Fatal(err)
	}
	if err := b.RecordFailure(ctx, 100, "", errors.New("bad header")); err != nil {
		t.Fatal(err)
	}
	b.Advance(200)
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Len())
	}
	if err := b.Rollback(); err != nil {
		t.Fatal(err)
	}

	if off, err := s.LastOffset(ctx, "/m.mbox"); err != nil || off != 0 {
		t.Fatalf("LastOffset() after rollback = %d, %v", off, err)
	}
	if got := collectEmails(t, s, ""); len(got) != 0 {
		t.Fatalf("rolled back batch left %d emails", len(got))
	}

	b, err = s.Begin(ctx, "/m.mbox")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Upsert(ctx, email("a@x", "a@x", day(2019, 1, 1)), nil); err != nil {
		t.Fatal(err)
	}
	if err := b.RecordFailure(ctx, 100, "", errors.New("bad header")); err != nil {
		t.Fatal(err)
	}
	b.Advance(200)
	if err := b.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Rollback(); err != nil {
		t.Errorf("Rollback() after Commit() = %v, want nil", err)
	}

	off, err := s.LastOffset(ctx, "/m.mbox")
	if err != nil || off != 200 {
		t.Fatalf("LastOffset() = %d, %v, want 200", off, err)
	}
	failures, err := s.Failures(ctx, "/m.mbox")
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 || failures[0].Offset != 100 || failures[0].Error != "bad header" {
		t.Errorf("Failures() = %+v", failures)
	}

	st, err := s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Emails != 1 || st.Failures != 1 || len(st.Checkpoints) != 1 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestCheckpointOverwrites(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	if err := s.Checkpoint(ctx, "src", 10); err != nil {
		t.Fatal(err)
	}
	if err := s.Checkpoint(ctx, "src", 42); err != nil {
		t.Fatal(err)
	}
	off, err := s.LastOffset(ctx, "src")
	if err != nil || off != 42 {
		t.Errorf("LastOffset() = %d, %v, want 42", off, err)
	}
	if off, _ := s.LastOffset(ctx, "other"); off != 0 {
		t.Errorf("LastOffset(other) = %d, want 0", off)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staging.db")
	ctx := context.Background()

	s, err := staging.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, email("keep@x", "keep@x", day(2021, 6, 1)), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = staging.Open(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	if got := collectEmails(t, s, "2021"); len(got) != 1 {
		t.Errorf("expected 1 email after reopen, got %d", len(got))
	}
}
