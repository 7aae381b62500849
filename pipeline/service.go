package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrOpportunityNotFound is returned when no opportunity row exists for the id.
	ErrOpportunityNotFound = errors.New("pipeline: opportunity not found")
)

// Opportunity mirrors the opportunities table columns touched by this service.
type Opportunity struct {
	ID          string
	ContactID   string
	OwnerUserID string
	Title       string
	Stage       Stage
	Amount      float64
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Service moves opportunities through the sales pipeline and records every
// transition in the stage_transitions log.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// AdvanceAuto applies a guarded automated transition inside the caller's
// transaction. It is a no-op (nil error, false) when the guard rejects the
// move, so callers never regress a stage or double-log a transition.
func (s *Service) AdvanceAuto(ctx context.Context, tx pgx.Tx, opportunityID string, target Stage, trigger string) (bool, error) {
	var current Stage
	if err := tx.QueryRow(ctx, `SELECT stage FROM opportunities WHERE id=$1 FOR UPDATE`, opportunityID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrOpportunityNotFound
		}
		return false, fmt.Errorf("pipeline: fetch stage: %w", err)
	}

	if !ShouldAdvance(current, target) {
		return false, nil
	}

	if err := setStage(ctx, tx, opportunityID, current, target, trigger, true); err != nil {
		return false, err
	}
	return true, nil
}

// SetManual applies a user-driven stage change. It bypasses ShouldAdvance so
// staff can move an opportunity in either direction, but still logs the
// transition with the acting user.
func (s *Service) SetManual(ctx context.Context, opportunityID string, target Stage, actorUserID string) error {
	if stageIndex(target) < 0 {
		return fmt.Errorf("pipeline: unknown stage %q", target)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Stage
	if err := tx.QueryRow(ctx, `SELECT stage FROM opportunities WHERE id=$1 FOR UPDATE`, opportunityID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOpportunityNotFound
		}
		return fmt.Errorf("pipeline: fetch stage: %w", err)
	}
	if current == target {
		return tx.Commit(ctx)
	}

	if err := setStage(ctx, tx, opportunityID, current, target, "user:"+actorUserID, false); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pipeline: commit stage change: %w", err)
	}
	return nil
}

// Get loads one opportunity.
func (s *Service) Get(ctx context.Context, opportunityID string) (Opportunity, error) {
	var o Opportunity
	err := s.pool.QueryRow(ctx, `
        SELECT id, contact_id, owner_user_id, title, stage, amount, closed_at, created_at, updated_at
        FROM opportunities WHERE id=$1
    `, opportunityID).Scan(&o.ID, &o.ContactID, &o.OwnerUserID, &o.Title, &o.Stage, &o.Amount, &o.ClosedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Opportunity{}, ErrOpportunityNotFound
		}
		return Opportunity{}, fmt.Errorf("pipeline: get opportunity: %w", err)
	}
	return o, nil
}

func setStage(ctx context.Context, tx pgx.Tx, opportunityID string, from, to Stage, trigger string, automated bool) error {
	closedAt := "closed_at"
	if to == StageClosed {
		closedAt = "COALESCE(closed_at, now())"
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
        UPDATE opportunities
        SET stage=$1, closed_at=%s, updated_at=now()
        WHERE id=$2
    `, closedAt), to, opportunityID); err != nil {
		return fmt.Errorf("pipeline: update stage: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"from":      from,
		"to":        to,
		"trigger":   trigger,
		"automated": automated,
	})
	if err != nil {
		return fmt.Errorf("pipeline: marshal transition payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
        INSERT INTO stage_transitions (opportunity_id, from_stage, to_stage, automated, payload)
        VALUES ($1,$2,$3,$4,$5::jsonb)
    `, opportunityID, from, to, automated, payload); err != nil {
		return fmt.Errorf("pipeline: insert stage transition: %w", err)
	}
	return nil
}
