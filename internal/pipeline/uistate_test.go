package pipeline

import "testing"

func TestUIStateLazyEntry(t *testing.T) {
	s := NewUIState(true)

	e := s.Entry("cmp-1")
	if !e.FullSequenceMode {
		t.Error("lazily created entry should inherit the default full-sequence mode")
	}
	if len(e.Guidance) != 0 || e.LastFailedPhase != "" || e.PreflightOpen {
		t.Error("fresh entry should be empty")
	}
}

func TestUIStateGuidanceAppendOnly(t *testing.T) {
	s := NewUIState(false)

	first := s.AppendGuidance("cmp-1", PhaseDNSValidation, "check persona configuration")
	second := s.AppendGuidance("cmp-1", PhaseDNSValidation, "retry after fixing resolvers")

	if first.ID == "" || second.ID == "" || first.ID == second.ID {
		t.Fatalf("guidance ids must be unique and non-empty: %q vs %q", first.ID, second.ID)
	}

	got := s.Entry("cmp-1").Guidance
	if len(got) != 2 {
		t.Fatalf("guidance length = %d, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Error("guidance must preserve append order")
	}

	// Mutating the returned copy must not leak into the container.
	got[0].Message = "tampered"
	if s.Entry("cmp-1").Guidance[0].Message == "tampered" {
		t.Error("Entry must return a copy of the guidance list")
	}
}

func TestUIStateDismissGuidance(t *testing.T) {
	s := NewUIState(false)
	msg := s.AppendGuidance("cmp-1", PhaseExtraction, "extraction needs a keyword set")

	if !s.DismissGuidance("cmp-1", msg.ID) {
		t.Fatal("dismissing an existing message should succeed")
	}
	if s.DismissGuidance("cmp-1", msg.ID) {
		t.Error("dismissing twice should report false")
	}
	if len(s.Entry("cmp-1").Guidance) != 0 {
		t.Error("dismissed message should be gone")
	}
}

func TestUIStateToggles(t *testing.T) {
	s := NewUIState(false)

	s.SetFullSequence("cmp-1", true)
	if !s.FullSequence("cmp-1") {
		t.Error("full-sequence toggle did not stick")
	}

	s.SetLastFailedPhase("cmp-1", PhaseDNSValidation)
	s.SetSelectedPhase("cmp-1", PhaseExtraction)
	s.SetPreflightOpen("cmp-1", true)

	e := s.Entry("cmp-1")
	if e.LastFailedPhase != PhaseDNSValidation || e.SelectedPhase != PhaseExtraction || !e.PreflightOpen {
		t.Errorf("entry = %+v", e)
	}

	// Campaigns are isolated from each other.
	if s.FullSequence("cmp-2") {
		t.Error("another campaign should keep the default toggle")
	}
}
