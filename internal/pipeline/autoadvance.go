package pipeline

// ComputeAutoStart decides which phase, if any, is eligible to start
// automatically. phases must be in declared order. Pure function; safe to
// re-evaluate after every model mutation.
//
// Rules:
//  1. Auto-advance disabled: nothing starts.
//  2. Nothing has ever started: the very first phase is always started by an
//     explicit user action, never automatically.
//  3. A phase is running: exclusivity, never queue a second start.
//  4. Otherwise the first idle phase, in order, with valid configuration.
//     Unconfigured phases are skipped, not blocking: an optional phase with
//     missing configuration is bypassed when a later configured one exists.
func ComputeAutoStart(phases []Phase, autoAdvanceEnabled bool) (PhaseKey, bool) {
	if !autoAdvanceEnabled {
		return "", false
	}

	anyStarted := false
	for _, p := range phases {
		if p.ExecState == ExecRunning {
			return "", false
		}
		if p.ExecState != ExecIdle {
			anyStarted = true
		}
	}
	if !anyStarted {
		return "", false
	}

	for _, p := range phases {
		if p.ExecState == ExecIdle && p.ConfigState == ConfigValid {
			return p.Key, true
		}
	}
	return "", false
}
