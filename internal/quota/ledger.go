package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrExhausted is returned by Debit when the day's remaining quota cannot
// cover the requested amount. Expected and non-fatal: the caller defers
// the work item to the next cycle.
var ErrExhausted = errors.New("quota exhausted")

// Record is one quota_records row.
type Record struct {
	Day       time.Time
	Kind      Kind
	Limit     int
	Used      int
	Remaining int
}

// Ledger is the source of truth for per-day quota counts. All mutation
// goes through single conditional statements so overlapping cycles can
// never double-spend a unit.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger returns a Ledger backed by the given pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Ensure upserts today's record for kind with the given limit and returns
// it. Existing rows are left untouched.
func (l *Ledger) Ensure(ctx context.Context, day time.Time, kind Kind, limit int) (Record, error) {
	var r Record
	err := l.pool.QueryRow(ctx,
		`INSERT INTO quota_records (day, kind, day_limit, used, remaining)
		 VALUES ($1, $2, $3, 0, $3)
		 ON CONFLICT (day, kind) DO UPDATE SET day = quota_records.day
		 RETURNING day, kind, day_limit, used, remaining`,
		day.Format("2006-01-02"), string(kind), limit,
	).Scan(&r.Day, &r.Kind, &r.Limit, &r.Used, &r.Remaining)
	if err != nil {
		return Record{}, fmt.Errorf("ensure quota record: %w", err)
	}
	return r, nil
}

// Debit atomically consumes n units from today's record. Returns
// ErrExhausted when remaining < n; never applies a partial debit.
func (l *Ledger) Debit(ctx context.Context, day time.Time, kind Kind, n int) error {
	if n <= 0 {
		return nil
	}
	tag, err := l.pool.Exec(ctx,
		`UPDATE quota_records
		 SET used = used + $1, remaining = remaining - $1
		 WHERE day = $2 AND kind = $3 AND remaining >= $1`,
		n, day.Format("2006-01-02"), string(kind),
	)
	if err != nil {
		return fmt.Errorf("debit quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExhausted
	}
	return nil
}

// Remaining returns today's remaining units, creating the record first if
// the day has just rolled over.
func (l *Ledger) Remaining(ctx context.Context, day time.Time, kind Kind, limit int) (int, error) {
	r, err := l.Ensure(ctx, day, kind, limit)
	if err != nil {
		return 0, err
	}
	return r.Remaining, nil
}

// SyncRemote overwrites today's record with the remaining count read from
// the authoritative external source, correcting drift from out-of-band
// usage. Called once at discovery-cycle start.
func (l *Ledger) SyncRemote(ctx context.Context, day time.Time, kind Kind, limit, remaining int) error {
	if remaining < 0 {
		remaining = 0
	}
	if remaining > limit {
		remaining = limit
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO quota_records (day, kind, day_limit, used, remaining)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (day, kind) DO UPDATE
		 SET day_limit = EXCLUDED.day_limit,
		     used      = EXCLUDED.used,
		     remaining = EXCLUDED.remaining`,
		day.Format("2006-01-02"), string(kind), limit, limit-remaining, remaining,
	)
	if err != nil {
		return fmt.Errorf("sync remote quota: %w", err)
	}
	return nil
}

// History returns records for kind over the last `days` days, oldest
// first. Days with no record are simply absent.
func (l *Ledger) History(ctx context.Context, kind Kind, days int) ([]Record, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT day, kind, day_limit, used, remaining
		 FROM quota_records
		 WHERE kind = $1 AND day >= CURRENT_DATE - $2::int
		 ORDER BY day ASC`,
		string(kind), days,
	)
	if err != nil {
		return nil, fmt.Errorf("quota history query: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r       Record
			rawKind string
		)
		if err := rows.Scan(&r.Day, &rawKind, &r.Limit, &r.Used, &r.Remaining); err != nil {
			return nil, fmt.Errorf("quota history scan: %w", err)
		}
		k, err := ParseKind(rawKind)
		if err != nil {
			return nil, fmt.Errorf("quota history: %w", err)
		}
		r.Kind = k
		records = append(records, r)
	}
	return records, rows.Err()
}
