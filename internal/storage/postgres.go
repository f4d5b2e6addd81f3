package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/fare-engine/internal/models"
)

// Open dials Postgres and verifies the connection. The returned pool is
// shared by every Postgres-backed store. Schema bootstrap lives in
// migrations/001_engine.sql.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// PostgresLedger implements FareLedger on ride_fares.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger { return &PostgresLedger{db: db} }

func (p *PostgresLedger) Commit(ctx context.Context, f *models.RideFare) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ride_fares(ride_id, quote_id, suggested_cents, committed_cents, status, updated_at)
		VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT (ride_id) DO UPDATE SET
			quote_id = EXCLUDED.quote_id,
			suggested_cents = EXCLUDED.suggested_cents,
			committed_cents = EXCLUDED.committed_cents,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		f.RideID, f.QuoteID, int64(f.SuggestedCents), int64(f.CommittedCents), string(f.Status), f.UpdatedAt)
	return err
}

func (p *PostgresLedger) Get(ctx context.Context, rideID string) (*models.RideFare, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT ride_id, quote_id, suggested_cents, committed_cents, status, updated_at
		FROM ride_fares WHERE ride_id = $1`, rideID)
	return scanFare(row)
}

func (p *PostgresLedger) SetCommitted(ctx context.Context, rideID string, amount models.Cents, at time.Time) (*models.RideFare, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE ride_fares SET committed_cents = $1, updated_at = $2
		WHERE ride_id = $3 AND status = $4
		RETURNING ride_id, quote_id, suggested_cents, committed_cents, status, updated_at`,
		int64(amount), at, rideID, string(models.FareCommitted))
	f, err := scanFare(row)
	if errors.Is(err, ErrNotFound) {
		return nil, p.explainMissing(ctx, rideID)
	}
	return f, err
}

func (p *PostgresLedger) ApplyDelta(ctx context.Context, rideID string, delta models.Cents, at time.Time) (*models.RideFare, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE ride_fares SET committed_cents = committed_cents + $1, updated_at = $2
		WHERE ride_id = $3 AND status = $4
		RETURNING ride_id, quote_id, suggested_cents, committed_cents, status, updated_at`,
		int64(delta), at, rideID, string(models.FareCommitted))
	f, err := scanFare(row)
	if errors.Is(err, ErrNotFound) {
		return nil, p.explainMissing(ctx, rideID)
	}
	return f, err
}

func (p *PostgresLedger) Void(ctx context.Context, rideID string, at time.Time) (*models.RideFare, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE ride_fares SET status = $1, updated_at = $2
		WHERE ride_id = $3
		RETURNING ride_id, quote_id, suggested_cents, committed_cents, status, updated_at`,
		string(models.FareVoided), at, rideID)
	return scanFare(row)
}

// explainMissing distinguishes "no such ride" from "agreement voided" after
// a guarded UPDATE matched nothing.
func (p *PostgresLedger) explainMissing(ctx context.Context, rideID string) error {
	var status string
	err := p.db.QueryRowContext(ctx, `SELECT status FROM ride_fares WHERE ride_id = $1`, rideID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrFareNotActive
}

type rowScanner interface{ Scan(dest ...any) error }

func scanFare(row rowScanner) (*models.RideFare, error) {
	var f models.RideFare
	var suggested, committed int64
	var status string
	err := row.Scan(&f.RideID, &f.QuoteID, &suggested, &committed, &status, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.SuggestedCents = models.Cents(suggested)
	f.CommittedCents = models.Cents(committed)
	f.Status = models.FareStatus(status)
	return &f, nil
}

// PostgresBidEdits implements BidEditLog on bid_edits.
type PostgresBidEdits struct {
	db *sql.DB
}

func NewPostgresBidEdits(db *sql.DB) *PostgresBidEdits { return &PostgresBidEdits{db: db} }

func (p *PostgresBidEdits) Append(ctx context.Context, rec models.BidEditRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bid_edits(ride_id, at, prior_cents, new_cents) VALUES($1,$2,$3,$4)`,
		rec.RideID, rec.At, int64(rec.PriorCents), int64(rec.NewCents))
	return err
}

func (p *PostgresBidEdits) ListByRide(ctx context.Context, rideID string) ([]models.BidEditRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ride_id, at, prior_cents, new_cents FROM bid_edits
		WHERE ride_id = $1 ORDER BY at`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.BidEditRecord
	for rows.Next() {
		var r models.BidEditRecord
		var prior, next int64
		if err := rows.Scan(&r.RideID, &r.At, &prior, &next); err != nil {
			return nil, err
		}
		r.PriorCents = models.Cents(prior)
		r.NewCents = models.Cents(next)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PostgresEvents implements EventLog on outcome_events.
type PostgresEvents struct {
	db *sql.DB
}

func NewPostgresEvents(db *sql.DB) *PostgresEvents { return &PostgresEvents{db: db} }

func (p *PostgresEvents) Append(ctx context.Context, ev models.OutcomeEvent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO outcome_events(event_id, driver_id, ride_id, type, cancel_code, on_time, occurred_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.ID, ev.DriverID, ev.RideID, string(ev.Type), string(ev.CancelCode), ev.OnTime, ev.OccurredAt)
	return err
}

func (p *PostgresEvents) ListByDriver(ctx context.Context, driverID string, from, to time.Time) ([]models.OutcomeEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT event_id, driver_id, ride_id, type, cancel_code, on_time, occurred_at
		FROM outcome_events
		WHERE driver_id = $1 AND occurred_at > $2 AND occurred_at <= $3
		ORDER BY occurred_at`, driverID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.OutcomeEvent
	for rows.Next() {
		var ev models.OutcomeEvent
		var typ, code string
		if err := rows.Scan(&ev.ID, &ev.DriverID, &ev.RideID, &typ, &code, &ev.OnTime, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Type = models.OutcomeType(typ)
		ev.CancelCode = models.CancelCode(code)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PostgresProfiles implements ProfileStore on rate_profiles. Profiles are
// stored whole as JSONB since the engine always reads them whole.
type PostgresProfiles struct {
	db *sql.DB
}

func NewPostgresProfiles(db *sql.DB) *PostgresProfiles { return &PostgresProfiles{db: db} }

func (p *PostgresProfiles) Put(ctx context.Context, profile models.RateProfile) error {
	doc, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO rate_profiles(driver_id, profile, updated_at) VALUES($1,$2,$3)
		ON CONFLICT (driver_id) DO UPDATE SET profile = EXCLUDED.profile, updated_at = EXCLUDED.updated_at`,
		profile.DriverID, doc, time.Now().UTC())
	return err
}

func (p *PostgresProfiles) Get(ctx context.Context, driverID string) (models.RateProfile, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT profile FROM rate_profiles WHERE driver_id = $1`, driverID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RateProfile{}, ErrNotFound
	}
	if err != nil {
		return models.RateProfile{}, err
	}
	var out models.RateProfile
	if err := json.Unmarshal(doc, &out); err != nil {
		return models.RateProfile{}, err
	}
	out.DriverID = driverID
	return out, nil
}
