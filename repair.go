package voiceparts

// RepairAttempt records one retry of the legacy actions-path coverage
// repair loop (spec §4.8, §6 "repair_loop").
type RepairAttempt struct {
	Attempt    int
	Strategy   LyricStrategy
	Status     string
	Validation LyricCoverageValidation
}

// legacyRetryStrategies is the fixed order the legacy actions path tries
// alternative lyric strategies in, excluding whichever was used initially
// (spec §4.8).
var legacyRetryStrategies = []LyricStrategy{StrategyOverlapBestMatch, StrategySyllableFlow, StrategyStrictOnset}

func remainingRetryStrategies(initial LyricStrategy) []LyricStrategy {
	var out []LyricStrategy
	for _, s := range legacyRetryStrategies {
		if s != initial {
			out = append(out, s)
		}
	}
	return out
}

// promoteSectionForRepair clones and upgrades a section for the sections-path
// structural-failure repair entry point: method=B (DP), replace_all lyric
// policy, syllable_flow strategy, and a fabricated melody_source if the
// section had none (spec §4.8).
func promoteSectionForRepair(s Section, target VoiceRef, preferHigh bool) Section {
	out := s
	if out.Mode != ModeDerive {
		return out
	}
	out.Method = methodB
	out.LyricPolicy = PolicyReplaceAll
	out.LyricStrategy = StrategySyllableFlow
	if out.MelodySource == nil {
		ref := target
		out.MelodySource = &ref
	}
	if preferHigh {
		out.splitSelector = "high"
	} else {
		out.splitSelector = "low"
	}
	return out
}

// RepairSectionsForStructuralFailure promotes every section whose range
// overlaps a failing range, returning a new target ready for a single
// repairs-disabled re-execution (spec §4.8 "Sections path structural
// failure").
func RepairSectionsForStructuralFailure(target Target, failingRanges []MeasureRange, preferHigh bool) Target {
	out := target
	out.Sections = make([]Section, len(target.Sections))
	for i, s := range target.Sections {
		overlaps := false
		for _, fr := range failingRanges {
			if s.Range().Overlaps(fr) {
				overlaps = true
				break
			}
		}
		if overlaps {
			out.Sections[i] = promoteSectionForRepair(s, out.Target, preferHigh)
		} else {
			out.Sections[i] = s
		}
	}
	return out
}

// RepairLegacyActionForCoverageFailure tries alternative lyric strategies
// for the legacy actions path, up to the configured retry cap, recording
// each attempt (spec §4.8 "Legacy actions path coverage failure").
//
// execute is called with each candidate strategy and must return the
// resulting coverage validation for that attempt.
func RepairLegacyActionForCoverageFailure(initialStrategy LyricStrategy, execute func(LyricStrategy) (LyricCoverageValidation, error)) ([]RepairAttempt, LyricCoverageValidation, error) {
	var attempts []RepairAttempt
	candidates := remainingRetryStrategies(initialStrategy)
	maxRetries := repairMaxRetries()

	var last LyricCoverageValidation
	for i, strategy := range candidates {
		if i >= maxRetries {
			break
		}
		validation, err := execute(strategy)
		if err != nil {
			return attempts, validation, err
		}
		status := validation.Status
		attempts = append(attempts, RepairAttempt{Attempt: i + 1, Strategy: strategy, Status: status, Validation: validation})
		last = validation
		if status == statusReady || status == statusReadyWithWarnings {
			return attempts, validation, nil
		}
	}
	return attempts, last, nil
}
