package pipeline

import "testing"

func TestShouldAdvance_Forward(t *testing.T) {
	if !ShouldAdvance(StageInbox, StageContractSent) {
		t.Fatalf("expected inbox -> contract_sent to advance")
	}
	if !ShouldAdvance(StageContractSent, StageForInstallation) {
		t.Fatalf("expected contract_sent -> for_installation to advance")
	}
}

func TestShouldAdvance_Backward(t *testing.T) {
	if ShouldAdvance(StageToCall, StageInbox) {
		t.Fatalf("expected to_call -> inbox to be rejected")
	}
}

func TestShouldAdvance_SameStage(t *testing.T) {
	if ShouldAdvance(StageContractSent, StageContractSent) {
		t.Fatalf("expected same-stage transition to be rejected")
	}
}

func TestShouldAdvance_UnknownStages(t *testing.T) {
	if ShouldAdvance(Stage("unknown_stage"), StageClosed) {
		t.Fatalf("expected unknown current stage to fail safe")
	}
	if ShouldAdvance(StageInbox, Stage("warp_drive")) {
		t.Fatalf("expected unknown target stage to fail safe")
	}
	if ShouldAdvance(Stage(""), Stage("")) {
		t.Fatalf("expected empty stages to fail safe")
	}
}

func TestStages_OrderStable(t *testing.T) {
	got := Stages()
	if len(got) != 10 {
		t.Fatalf("expected 10 stages, got %d", len(got))
	}
	if got[0] != StageInbox || got[len(got)-1] != StageClosed {
		t.Fatalf("unexpected pipeline bounds: %v", got)
	}
	// Mutating the returned slice must not affect the guard.
	got[0] = Stage("tampered")
	if !ShouldAdvance(StageInbox, StageToCall) {
		t.Fatalf("stage order leaked internal state")
	}
}
