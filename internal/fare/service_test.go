package fare

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/storage"
	"github.com/example/fare-engine/internal/throttle"
)

func TestEditBoundsExactSubinterval(t *testing.T) {
	cases := []struct {
		suggested models.Cents
		lo, hi    models.Cents
	}{
		{1000, 800, 1200},
		// 0.8*333 = 266.4 and 1.2*333 = 399.6: 266 and 400 would break the band
		{333, 267, 399},
		{-300, 240, 360},
		{5, 4, 6},
		{1, 1, 1},
	}
	for _, c := range cases {
		lo, hi := EditBounds(c.suggested, DefaultEditBand)
		if lo != c.lo || hi != c.hi {
			t.Errorf("EditBounds(%d) = [%d, %d], want [%d, %d]", c.suggested, lo, hi, c.lo, c.hi)
		}
	}
}

func TestCheckEditBoundaries(t *testing.T) {
	for _, amount := range []models.Cents{800, 1000, 1200} {
		if err := CheckEdit(1000, amount, DefaultEditBand); err != nil {
			t.Errorf("CheckEdit(1000, %d): %v", amount, err)
		}
	}
	for _, amount := range []models.Cents{799, 1201, 0} {
		err := CheckEdit(1000, amount, DefaultEditBand)
		var oor *OutOfRangeError
		if !errors.As(err, &oor) {
			t.Errorf("CheckEdit(1000, %d) = %v, want OutOfRangeError", amount, err)
			continue
		}
		if oor.Min != 800 || oor.Max != 1200 {
			t.Errorf("bounds = [%d, %d], want [800, 1200]", oor.Min, oor.Max)
		}
	}
}

func newTestService() (*Service, storage.FareLedger, storage.BidEditLog) {
	ledger := storage.NewMemoryLedger()
	edits := storage.NewMemoryBidEdits()
	s := &Service{
		Ledger:   ledger,
		Edits:    edits,
		Throttle: throttle.NewMemory(120*time.Second, 3),
	}
	return s, ledger, edits
}

func TestCommitValidation(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService()

	if _, err := s.Commit(ctx, "", models.FareQuote{ID: "q1", TotalCents: 1000}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing ride id: err = %v", err)
	}
	if _, err := s.Commit(ctx, "r1", models.FareQuote{ID: "q1", TotalCents: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero total: err = %v", err)
	}
	if _, err := s.Commit(ctx, "r1", models.FareQuote{ID: "q1", TotalCents: -50}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative total: err = %v", err)
	}
}

func TestCommitThenGet(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService()

	committed, err := s.Commit(ctx, "r1", models.FareQuote{ID: "q1", TotalCents: 1000})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committed.SuggestedCents != 1000 || committed.CommittedCents != 1000 {
		t.Fatalf("fare = %+v", committed)
	}
	got, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.QuoteID != "q1" || got.Status != models.FareCommitted {
		t.Fatalf("got = %+v", got)
	}
}

// Edits anchor to the suggested amount captured at commit, not the current
// committed amount, so two maximal edits cannot compound.
func TestEditAnchorsToSuggested(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService()
	if _, err := s.Commit(ctx, "r1", models.FareQuote{ID: "q1", TotalCents: 1000}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if _, err := s.Edit(ctx, "r1", 1200, now); err != nil {
		t.Fatalf("edit to ceiling: %v", err)
	}
	_, err := s.Edit(ctx, "r1", 1400, now.Add(time.Second))
	var oor *OutOfRangeError
	if !errors.As(err, &oor) {
		t.Fatalf("ratcheted edit: err = %v, want OutOfRangeError", err)
	}
	if oor.Min != 800 || oor.Max != 1200 {
		t.Fatalf("bounds moved to [%d, %d]", oor.Min, oor.Max)
	}
	updated, err := s.Edit(ctx, "r1", 900, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("edit back down: %v", err)
	}
	if updated.CommittedCents != 900 {
		t.Fatalf("committed = %d, want 900", updated.CommittedCents)
	}
	if updated.SuggestedCents != 1000 {
		t.Fatalf("suggested anchor moved to %d", updated.SuggestedCents)
	}
}

func TestEditRequiresActiveFare(t *testing.T) {
	ctx := context.Background()
	s, ledger, _ := newTestService()
	if _, err := s.Commit(ctx, "r1", models.FareQuote{ID: "q1", TotalCents: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Void(ctx, "r1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Edit(ctx, "r1", 1100, time.Now()); !errors.Is(err, storage.ErrFareNotActive) {
		t.Fatalf("err = %v, want ErrFareNotActive", err)
	}
}

func TestEditRejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService()
	if _, err := s.Commit(ctx, "r1", models.FareQuote{ID: "q1", TotalCents: 1000}); err != nil {
		t.Fatal(err)
	}
	for _, amount := range []models.Cents{0, -900} {
		if _, err := s.Edit(ctx, "r1", amount, time.Now()); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("amount %d: err = %v, want ErrInvalidInput", amount, err)
		}
	}
}

func TestEditThrottledAfterWindowLimit(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService()
	s.Throttle = throttle.NewMemory(120*time.Second, 2)
	if _, err := s.Commit(ctx, "r1", models.FareQuote{ID: "q1", TotalCents: 1000}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	for i, amount := range []models.Cents{1100, 1050} {
		if _, err := s.Edit(ctx, "r1", amount, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
	}
	_, err := s.Edit(ctx, "r1", 950, now.Add(2*time.Second))
	var limited *throttle.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if limited.RetryAfter <= 0 {
		t.Fatalf("retry after = %v, want positive", limited.RetryAfter)
	}
}

func TestEditAppendsAuditRecord(t *testing.T) {
	ctx := context.Background()
	s, _, edits := newTestService()
	if _, err := s.Commit(ctx, "r1", models.FareQuote{ID: "q1", TotalCents: 1000}); err != nil {
		t.Fatal(err)
	}
	at := time.Now()
	if _, err := s.Edit(ctx, "r1", 1150, at); err != nil {
		t.Fatal(err)
	}

	recs, err := edits.ListByRide(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(recs))
	}
	if recs[0].PriorCents != 1000 || recs[0].NewCents != 1150 {
		t.Fatalf("record = %+v", recs[0])
	}
}
