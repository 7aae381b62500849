package test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"solarflow/agreement"
	"solarflow/billing"
	"solarflow/pipeline"
	"solarflow/test/infra"
)

func dockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "info")
	return cmd.Run() == nil
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	if env := os.Getenv("E2E_PG_DSN"); env != "" {
		dsn = env
		usedShared = true
		pgC = &infra.PGContainer{}
	} else if dockerAvailable(ctx) {
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	} else {
		t.Skip("no docker and no E2E_PG_DSN; skipping end-to-end test")
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return pool
}

type seeded struct {
	contactID     string
	opportunityID string
}

func seedOpportunity(t *testing.T, ctx context.Context, pool *pgxpool.Pool, stage pipeline.Stage) seeded {
	t.Helper()
	var s seeded
	if err := pool.QueryRow(ctx, `
        INSERT INTO contacts (id, name, phone, email, channel, platform_user_id)
        VALUES (gen_random_uuid(), 'Dana Reyes', '+15550100', 'dana@example.com', 'telegram', $1)
        RETURNING id
    `, fmt.Sprintf("tg-%d", time.Now().UnixNano())).Scan(&s.contactID); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	if err := pool.QueryRow(ctx, `
        INSERT INTO opportunities (contact_id, title, stage, amount)
        VALUES ($1, '6kW rooftop install', $2, 12000)
        RETURNING id
    `, s.contactID, stage).Scan(&s.opportunityID); err != nil {
		t.Fatalf("seed opportunity: %v", err)
	}
	return s
}

// TestConcurrentSigning_OneWinner races several signers over one signing
// token against a real database and checks that exactly one signature is
// recorded.
func TestConcurrentSigning_OneWinner(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := startDatabase(t, ctx)
	seed := seedOpportunity(t, ctx, pool, pipeline.StageProposalSent)

	stages := pipeline.NewService(pool)
	agreements := agreement.NewService(pool, nil, nil).WithStageAdvancer(stages)

	a, err := agreements.Create(ctx, agreement.CreateParams{
		OpportunityID: seed.opportunityID,
		ContactID:     seed.contactID,
		ClientName:    "Dana Reyes",
		ClientEmail:   "dana@example.com",
		TotalPrice:    12000,
		DepositAmount: 2000,
	})
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}
	if _, err := agreements.MarkSent(ctx, a.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	const signers = 8
	var wins atomic.Int64
	var mu sync.Mutex
	var unexpected []error

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < signers; i++ {
		name := fmt.Sprintf("Signer %d", i)
		g.Go(func() error {
			_, err := agreements.Sign(gctx, a.SigningToken, agreement.SignatureParams{
				ImageDataURL: "data:image/png;base64,iVBORw0KGgo=",
				SignerName:   name,
				SignerIP:     "203.0.113.7",
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, agreement.ErrAlreadySigned):
			default:
				mu.Lock()
				unexpected = append(unexpected, err)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if len(unexpected) > 0 {
		t.Fatalf("unexpected signer errors: %v", unexpected)
	}
	if got := wins.Load(); got != 1 {
		t.Fatalf("winners = %d, want exactly 1", got)
	}

	var status, signerName string
	if err := pool.QueryRow(ctx, `
        SELECT status, signer_name FROM agreements WHERE id=$1
    `, a.ID).Scan(&status, &signerName); err != nil {
		t.Fatalf("read agreement: %v", err)
	}
	if status != "signed" {
		t.Errorf("status = %q", status)
	}
	if !strings.HasPrefix(signerName, "Signer ") {
		t.Errorf("signer name = %q", signerName)
	}

	var signedEvents int
	if err := pool.QueryRow(ctx, `
        SELECT count(*) FROM agreement_events WHERE agreement_id=$1 AND type=$2
    `, a.ID, agreement.EventSigned).Scan(&signedEvents); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if signedEvents != 1 {
		t.Errorf("signed events = %d, want 1", signedEvents)
	}

	var stage string
	if err := pool.QueryRow(ctx, `SELECT stage FROM opportunities WHERE id=$1`, seed.opportunityID).Scan(&stage); err != nil {
		t.Fatalf("read stage: %v", err)
	}
	if stage != "for_installation" {
		t.Errorf("stage = %q, want for_installation", stage)
	}
}

// TestBillingFlow_Idempotent exercises the invoice and receipt generation
// that follows signing and closing against a real database.
func TestBillingFlow_Idempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := startDatabase(t, ctx)
	seed := seedOpportunity(t, ctx, pool, pipeline.StageProposalSent)

	stages := pipeline.NewService(pool)
	agreements := agreement.NewService(pool, nil, nil).WithStageAdvancer(stages)
	invoices := billing.NewService(pool).WithTaxRate(12)

	a, err := agreements.Create(ctx, agreement.CreateParams{
		OpportunityID: seed.opportunityID,
		ContactID:     seed.contactID,
		ClientName:    "Dana Reyes",
		TotalPrice:    10000,
		DepositAmount: 2000,
	})
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}

	first, err := invoices.CreateFromAgreement(ctx, a)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	second, err := invoices.CreateFromAgreement(ctx, a)
	if err != nil {
		t.Fatalf("replay invoice: %v", err)
	}
	if first != second {
		t.Errorf("invoice replay created a new row: %q vs %q", first, second)
	}

	inv, err := invoices.GetInvoice(ctx, first)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if !strings.HasPrefix(inv.Number, "INV-") {
		t.Errorf("invoice number = %q", inv.Number)
	}
	// 10000 - 2000 deposit, taxed at 12%.
	if inv.Total != 8960 {
		t.Errorf("total = %v, want 8960", inv.Total)
	}

	opp, err := stages.Get(ctx, seed.opportunityID)
	if err != nil {
		t.Fatalf("get opportunity: %v", err)
	}
	rec1, err := invoices.CreateReceipt(ctx, opp)
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}
	rec2, err := invoices.CreateReceipt(ctx, opp)
	if err != nil {
		t.Fatalf("replay receipt: %v", err)
	}
	if rec1.ID != rec2.ID {
		t.Errorf("receipt replay created a new row: %q vs %q", rec1.ID, rec2.ID)
	}
	if !strings.HasPrefix(rec1.Number, "RCP-") {
		t.Errorf("receipt number = %q", rec1.Number)
	}
}

// TestMarkSent_DoesNotRegressStage sends an agreement on an opportunity
// already past contract_sent and checks the stage stays put with no
// transition logged.
func TestMarkSent_DoesNotRegressStage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := startDatabase(t, ctx)
	seed := seedOpportunity(t, ctx, pool, pipeline.StageForInstallation)

	stages := pipeline.NewService(pool)
	agreements := agreement.NewService(pool, nil, nil).WithStageAdvancer(stages)

	a, err := agreements.Create(ctx, agreement.CreateParams{
		OpportunityID: seed.opportunityID,
		ContactID:     seed.contactID,
		ClientName:    "Dana Reyes",
		TotalPrice:    10000,
	})
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}

	sent, err := agreements.MarkSent(ctx, a.ID)
	if err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if sent.Status != agreement.StatusSent {
		t.Errorf("status = %q, want sent", sent.Status)
	}

	var stage string
	if err := pool.QueryRow(ctx, `SELECT stage FROM opportunities WHERE id=$1`, seed.opportunityID).Scan(&stage); err != nil {
		t.Fatalf("read stage: %v", err)
	}
	if stage != string(pipeline.StageForInstallation) {
		t.Errorf("stage = %q, want for_installation untouched", stage)
	}

	var transitions int
	if err := pool.QueryRow(ctx, `
        SELECT count(*) FROM stage_transitions WHERE opportunity_id=$1
    `, seed.opportunityID).Scan(&transitions); err != nil {
		t.Fatalf("count transitions: %v", err)
	}
	if transitions != 0 {
		t.Errorf("stage transitions = %d, want 0", transitions)
	}
}
