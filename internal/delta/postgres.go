package delta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/storage"
)

// PostgresStore persists delta requests in delta_requests. The conditional
// UPDATE in Transition enforces single consumption across instances.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const requestCols = `id, ride_id, kind, suggested_cents, delta_miles, delta_minutes,
	delta_wait_minutes, original_fare_cents, percent_change, auto_accept_eligible,
	state, created_at, resolved_at, committed_cents`

func (p *PostgresStore) Create(ctx context.Context, r *models.DeltaRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO delta_requests(id, ride_id, kind, suggested_cents, delta_miles,
			delta_minutes, delta_wait_minutes, original_fare_cents, percent_change,
			auto_accept_eligible, state, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.RideID, string(r.Kind), int64(r.SuggestedCents),
		r.Calc.DeltaMiles, r.Calc.DeltaMinutes, r.Calc.DeltaWaitMinutes,
		int64(r.OriginalFareCents), r.PercentChange, r.AutoAcceptEligible,
		string(r.State), r.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.DeltaRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+requestCols+` FROM delta_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) Transition(ctx context.Context, id string, to models.DeltaState, at time.Time, committed *models.Cents) (*models.DeltaRequest, error) {
	var committedVal sql.NullInt64
	if committed != nil {
		committedVal = sql.NullInt64{Int64: int64(*committed), Valid: true}
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE delta_requests SET state = $1, resolved_at = $2, committed_cents = $3
		WHERE id = $4 AND state = $5
		RETURNING `+requestCols,
		string(to), at, committedVal, id, string(models.DeltaProposed))
	r, err := scanRequest(row)
	if errors.Is(err, storage.ErrNotFound) {
		var state string
		serr := p.db.QueryRowContext(ctx, `SELECT state FROM delta_requests WHERE id = $1`, id).Scan(&state)
		if errors.Is(serr, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		if serr != nil {
			return nil, serr
		}
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, id, state)
	}
	return r, err
}

func scanRequest(row *sql.Row) (*models.DeltaRequest, error) {
	var r models.DeltaRequest
	var kind, state string
	var suggested, original int64
	var resolvedAt sql.NullTime
	var committed sql.NullInt64
	err := row.Scan(&r.ID, &r.RideID, &kind, &suggested,
		&r.Calc.DeltaMiles, &r.Calc.DeltaMinutes, &r.Calc.DeltaWaitMinutes,
		&original, &r.PercentChange, &r.AutoAcceptEligible,
		&state, &r.CreatedAt, &resolvedAt, &committed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Kind = models.DeltaKind(kind)
	r.State = models.DeltaState(state)
	r.SuggestedCents = models.Cents(suggested)
	r.OriginalFareCents = models.Cents(original)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedAt = &t
	}
	if committed.Valid {
		c := models.Cents(committed.Int64)
		r.CommittedCents = &c
	}
	return &r, nil
}
