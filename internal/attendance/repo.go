package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"qrattend/internal/store"
)

const recordColumns = `id, student_name, roll, slot, recorded_at_ms, device_fingerprint, ip, user_agent`

// Repository persists attendance records in Postgres or SQLite.
type Repository struct {
	db      *sql.DB
	dialect string
}

// NewRepository creates a repo over a migrated database.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db.Client, dialect: db.Dialect}
}

func (r *Repository) q(query string) string { return store.Rebind(r.dialect, query) }

// Append writes a new record. The unique (slot, device_fingerprint) index turns a
// concurrent second insert into ErrDuplicateSubmission.
func (r *Repository) Append(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Millisecond)

	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.StudentName, rec.Roll, rec.Slot, rec.Timestamp.UnixMilli(),
		rec.DeviceFingerprint, rec.IP, rec.UserAgent)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrDuplicateSubmission
		}
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// Exists reports whether the device already has a record for slot.
func (r *Repository) Exists(ctx context.Context, slot, fingerprint string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, r.q(`
		SELECT 1 FROM attendance_records
		WHERE slot = ? AND device_fingerprint = ?
		LIMIT 1
	`), slot, fingerprint).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup record: %w", err)
	}
	return true, nil
}

// ListBySlot returns the records of slot, most recent first.
func (r *Repository) ListBySlot(ctx context.Context, slot string) ([]Record, error) {
	return r.list(ctx, `WHERE slot = ?`, slot)
}

// ListAll returns every record, most recent first.
func (r *Repository) ListAll(ctx context.Context) ([]Record, error) {
	return r.list(ctx, ``)
}

func (r *Repository) list(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+recordColumns+` FROM attendance_records `+where+`
		ORDER BY recorded_at_ms DESC, seq DESC
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var (
			rec Record
			ms  int64
		)
		if err := rows.Scan(&rec.ID, &rec.StudentName, &rec.Roll, &rec.Slot, &ms,
			&rec.DeviceFingerprint, &rec.IP, &rec.UserAgent); err != nil {
			return nil, err
		}
		rec.Timestamp = time.UnixMilli(ms).UTC()
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Purge deletes the records of slot, or all records when slot is empty.
func (r *Repository) Purge(ctx context.Context, slot string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if slot == "" {
		res, err = r.db.ExecContext(ctx, `DELETE FROM attendance_records`)
	} else {
		res, err = r.db.ExecContext(ctx, r.q(`DELETE FROM attendance_records WHERE slot = ?`), slot)
	}
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	return res.RowsAffected()
}

// RecordAudit stores one submission decision.
func (r *Repository) RecordAudit(ctx context.Context, evt AuditEvent) error {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO submission_audit (slot, outcome, device_fingerprint, record_id, decided_at_ms)
		VALUES (?, ?, ?, ?, ?)
	`), evt.Slot, evt.Outcome, evt.Fingerprint, evt.RecordID, evt.At.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// countAudit returns how many decisions with outcome were stored for slot.
func (r *Repository) countAudit(ctx context.Context, slot, outcome string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.q(`
		SELECT COUNT(*) FROM submission_audit WHERE slot = ? AND outcome = ?
	`), slot, outcome).Scan(&n)
	return n, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}
	return false
}
