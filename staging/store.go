// Package staging is the SQLite store that sits between ingest and export.
package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dhcgn/mbox-archive/model"
)

// Store persists normalized emails, attachments and ingest checkpoints.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the staging database at path and runs any pending
// schema migrations. Foreign keys and WAL are enabled on every connection.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, &model.IOError{Op: "open", Path: path, Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &model.IOError{Op: "open", Path: path, Err: err}
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Upsert stores one email and replaces its attachments in a single
// transaction. A later call for the same message id wins.
func (s *Store) Upsert(ctx context.Context, e model.Email, atts []model.Attachment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsert(ctx, tx, e, atts); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert of %s: %w", e.MessageID, err)
	}
	return nil
}

const upsertEmailQuery = `
	INSERT INTO emails (
		message_id, thread_id, sent_at, date_header,
		sender, recipients, cc, subject,
		labels, body, year, ingest_offset
	) VALUES (
		:message_id, :thread_id, :sent_at, :date_header,
		:sender, :recipients, :cc, :subject,
		:labels, :body, :year, :ingest_offset
	)
	ON CONFLICT(message_id) DO UPDATE SET
		thread_id = excluded.thread_id,
		sent_at = excluded.sent_at,
		date_header = excluded.date_header,
		sender = excluded.sender,
		recipients = excluded.recipients,
		cc = excluded.cc,
		subject = excluded.subject,
		labels = excluded.labels,
		body = excluded.body,
		year = excluded.year,
		ingest_offset = excluded.ingest_offset`

const insertAttachmentQuery = `
	INSERT INTO attachments (
		message_id, part_index, year, filename, content_type, payload
	) VALUES (?, ?, ?, ?, ?, ?)`

func upsert(ctx context.Context, tx *sqlx.Tx, e model.Email, atts []model.Attachment) error {
	if e.MessageID == "" {
		return errors.New("upsert: empty message id")
	}
	row := toEmailRow(e)
	if _, err := tx.NamedExecContext(ctx, upsertEmailQuery, row); err != nil {
		return fmt.Errorf("upserting email %s: %w", e.MessageID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE message_id = ?", e.MessageID); err != nil {
		return fmt.Errorf("clearing attachments of %s: %w", e.MessageID, err)
	}
	if len(atts) == 0 {
		return nil
	}

	stmt, err := tx.PreparexContext(ctx, insertAttachmentQuery)
	if err != nil {
		return fmt.Errorf("preparing attachment statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range atts {
		payload := a.Payload
		if payload == nil {
			payload = []byte{}
		}
		_, err := stmt.ExecContext(ctx, e.MessageID, a.PartIndex, row.Year, a.Filename, a.ContentType, payload)
		if err != nil {
			return fmt.Errorf("inserting attachment %d of %s: %w", a.PartIndex, e.MessageID, err)
		}
	}
	return nil
}

const upsertCheckpointQuery = `
	INSERT INTO checkpoints (source, byte_offset, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(source) DO UPDATE SET
		byte_offset = excluded.byte_offset,
		updated_at = excluded.updated_at`

// Checkpoint records that every message of source before offset is staged.
func (s *Store) Checkpoint(ctx context.Context, source string, offset int64) error {
	if _, err := s.db.ExecContext(ctx, upsertCheckpointQuery, source, offset, now()); err != nil {
		return fmt.Errorf("writing checkpoint for %s: %w", source, err)
	}
	return nil
}

// LastOffset returns the checkpointed offset for source, or 0 if ingest
// never committed anything for it.
func (s *Store) LastOffset(ctx context.Context, source string) (int64, error) {
	var offset int64
	err := s.db.GetContext(ctx, &offset, "SELECT byte_offset FROM checkpoints WHERE source = ?", source)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading checkpoint for %s: %w", source, err)
	}
	return offset, nil
}

// Batch groups upserts, failure records and a checkpoint advance into one
// transaction. Nothing is visible until Commit.
type Batch struct {
	tx        *sqlx.Tx
	source    string
	offset    int64
	hasOffset bool
	n         int
}

// Begin starts a batch for source.
func (s *Store) Begin(ctx context.Context, source string) (*Batch, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning batch: %w", err)
	}
	return &Batch{tx: tx, source: source}, nil
}

// Upsert stages one email inside the batch and clears any failure previously
// recorded at the same offset.
func (b *Batch) Upsert(ctx context.Context, e model.Email, atts []model.Attachment) error {
	if err := upsert(ctx, b.tx, e, atts); err != nil {
		return err
	}
	_, err := b.tx.ExecContext(ctx, "DELETE FROM ingest_failures WHERE source = ? AND byte_offset = ?", b.source, e.Offset)
	if err != nil {
		return fmt.Errorf("clearing failure at %d: %w", e.Offset, err)
	}
	b.n++
	return nil
}

const upsertFailureQuery = `
	INSERT INTO ingest_failures (source, byte_offset, message_id, error, recorded_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(source, byte_offset) DO UPDATE SET
		message_id = excluded.message_id,
		error = excluded.error,
		recorded_at = excluded.recorded_at`

// RecordFailure notes a message that could not be staged.
func (b *Batch) RecordFailure(ctx context.Context, offset int64, messageID string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := b.tx.ExecContext(ctx, upsertFailureQuery, b.source, offset, messageID, msg, now()); err != nil {
		return fmt.Errorf("recording failure at %d: %w", offset, err)
	}
	b.n++
	return nil
}

// Advance moves the checkpoint that Commit will write.
func (b *Batch) Advance(offset int64) {
	b.offset = offset
	b.hasOffset = true
}

// Len reports how many records the batch holds.
func (b *Batch) Len() int {
	return b.n
}

// Commit writes the pending checkpoint and commits the transaction.
func (b *Batch) Commit(ctx context.Context) error {
	if b.hasOffset {
		if _, err := b.tx.ExecContext(ctx, upsertCheckpointQuery, b.source, b.offset, now()); err != nil {
			b.tx.Rollback()
			return fmt.Errorf("writing checkpoint for %s: %w", b.source, err)
		}
	}
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// Rollback discards the batch.
func (b *Batch) Rollback() error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

const emailColumns = `message_id, thread_id, sent_at, date_header, sender, recipients,
	cc, subject, labels, body, year, ingest_offset`

// IterateByThreadThenDate calls fn for every email of year, grouped by thread
// and ordered by send time inside a thread. An empty year selects all rows.
// fn must not call back into the store.
func (s *Store) IterateByThreadThenDate(ctx context.Context, year string, fn func(model.Email) error) error {
	query := "SELECT " + emailColumns + " FROM emails"
	var args []any
	if year != "" {
		query += " WHERE year = ?"
		args = append(args, year)
	}
	query += " ORDER BY thread_id, sent_at, message_id"

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r emailRow
		if err := rows.StructScan(&r); err != nil {
			return fmt.Errorf("scanning email: %w", err)
		}
		if err := fn(r.toModel()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// IterateAttachments calls fn for every attachment of year in send order of
// the owning email, then message id, then part index.
// fn must not call back into the store.
func (s *Store) IterateAttachments(ctx context.Context, year string, fn func(model.Attachment) error) error {
	const query = `
		SELECT a.id, a.message_id, a.part_index, a.year, a.filename, a.content_type, a.payload
		FROM attachments a
		JOIN emails e ON e.message_id = a.message_id
		WHERE a.year = ?
		ORDER BY e.sent_at, a.message_id, a.part_index`

	rows, err := s.db.QueryxContext(ctx, query, year)
	if err != nil {
		return fmt.Errorf("querying attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r attachmentRow
		if err := rows.StructScan(&r); err != nil {
			return fmt.Errorf("scanning attachment: %w", err)
		}
		if err := fn(r.toModel()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Years lists every year bucket that has at least one email or attachment.
func (s *Store) Years(ctx context.Context) ([]string, error) {
	var years []string
	err := s.db.SelectContext(ctx, &years, `
		SELECT year FROM emails
		UNION
		SELECT year FROM attachments
		ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("listing years: %w", err)
	}
	return years, nil
}

// CheckpointInfo is one stored ingest position.
type CheckpointInfo struct {
	Source    string `db:"source"`
	Offset    int64  `db:"byte_offset"`
	UpdatedAt string `db:"updated_at"`
}

// Status summarizes the contents of the store.
type Status struct {
	Emails      int
	Attachments int
	Failures    int
	Checkpoints []CheckpointInfo
}

// Status reports row counts and checkpoints.
func (s *Store) Status(ctx context.Context) (Status, error) {
	var st Status
	counts := []struct {
		dst   *int
		query string
	}{
		{&st.Emails, "SELECT COUNT(*) FROM emails"},
		{&st.Attachments, "SELECT COUNT(*) FROM attachments"},
		{&st.Failures, "SELECT COUNT(*) FROM ingest_failures"},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dst, c.query); err != nil {
			return Status{}, fmt.Errorf("counting rows: %w", err)
		}
	}
	if err := s.db.SelectContext(ctx, &st.Checkpoints,
		"SELECT source, byte_offset, updated_at FROM checkpoints ORDER BY source"); err != nil {
		return Status{}, fmt.Errorf("listing checkpoints: %w", err)
	}
	return st, nil
}

// Failure is one message that ingest could not stage.
type Failure struct {
	Source     string `db:"source"`
	Offset     int64  `db:"byte_offset"`
	MessageID  string `db:"message_id"`
	Error      string `db:"error"`
	RecordedAt string `db:"recorded_at"`
}

// Failures lists recorded failures for source, or for every source if empty.
func (s *Store) Failures(ctx context.Context, source string) ([]Failure, error) {
	query := "SELECT source, byte_offset, message_id, error, recorded_at FROM ingest_failures"
	var args []any
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " ORDER BY source, byte_offset"

	var out []Failure
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	return out, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
