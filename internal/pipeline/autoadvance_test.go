package pipeline

import "testing"

func phase(key PhaseKey, cfg ConfigState, exec ExecState) Phase {
	return Phase{CampaignID: "cmp-1", Key: key, ConfigState: cfg, ExecState: exec}
}

func TestComputeAutoStart(t *testing.T) {
	tests := []struct {
		name    string
		phases  []Phase
		enabled bool
		want    PhaseKey
		wantOK  bool
	}{
		{
			name: "disabled returns none regardless of state",
			phases: []Phase{
				phase(PhaseDomainGeneration, ConfigValid, ExecCompleted),
				phase(PhaseDNSValidation, ConfigValid, ExecIdle),
			},
			enabled: false,
		},
		{
			name: "all idle returns none, first start is manual",
			phases: []Phase{
				phase(PhaseDomainGeneration, ConfigValid, ExecIdle),
				phase(PhaseDNSValidation, ConfigValid, ExecIdle),
			},
			enabled: true,
		},
		{
			name: "running phase blocks any start",
			phases: []Phase{
				phase(PhaseDomainGeneration, ConfigValid, ExecCompleted),
				phase(PhaseDNSValidation, ConfigValid, ExecRunning),
				phase(PhaseHTTPKeywordValidation, ConfigValid, ExecIdle),
			},
			enabled: true,
		},
		{
			name: "next configured idle phase is selected",
			phases: []Phase{
				phase(PhaseDomainGeneration, ConfigValid, ExecCompleted),
				phase(PhaseDNSValidation, ConfigValid, ExecIdle),
			},
			enabled: true,
			want:    PhaseDNSValidation,
			wantOK:  true,
		},
		{
			name: "unconfigured optional phase is skipped, not blocking",
			phases: []Phase{
				phase(PhaseDomainGeneration, ConfigValid, ExecCompleted),
				phase(PhaseDNSValidation, ConfigValid, ExecCompleted),
				phase(PhaseEnrichment, ConfigMissing, ExecIdle),
				phase(PhaseExtraction, ConfigValid, ExecIdle),
			},
			enabled: true,
			want:    PhaseExtraction,
			wantOK:  true,
		},
		{
			name: "nothing runnable returns none",
			phases: []Phase{
				phase(PhaseDomainGeneration, ConfigValid, ExecCompleted),
				phase(PhaseDNSValidation, ConfigMissing, ExecIdle),
			},
			enabled: true,
		},
		{
			name: "failed phase counts as started and may be retried later in order",
			phases: []Phase{
				phase(PhaseDomainGeneration, ConfigValid, ExecFailed),
				phase(PhaseDNSValidation, ConfigValid, ExecIdle),
			},
			enabled: true,
			want:    PhaseDNSValidation,
			wantOK:  true,
		},
		{
			name:    "empty list returns none",
			phases:  nil,
			enabled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ComputeAutoStart(tt.phases, tt.enabled)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ComputeAutoStart() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestComputeAutoStartIsPure(t *testing.T) {
	phases := []Phase{
		phase(PhaseDomainGeneration, ConfigValid, ExecCompleted),
		phase(PhaseDNSValidation, ConfigValid, ExecIdle),
	}

	// Redundant re-evaluation is part of the contract: same input, same
	// answer, no side effects on the input slice.
	for i := 0; i < 3; i++ {
		got, ok := ComputeAutoStart(phases, true)
		if !ok || got != PhaseDNSValidation {
			t.Fatalf("evaluation %d: got (%q, %v)", i, got, ok)
		}
	}
	if phases[1].ExecState != ExecIdle {
		t.Error("input slice was mutated")
	}
}
