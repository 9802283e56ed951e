package voiceparts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemainingRetryStrategiesExcludesInitial(t *testing.T) {
	out := remainingRetryStrategies(StrategyOverlapBestMatch)
	assert.Equal(t, []LyricStrategy{StrategySyllableFlow, StrategyStrictOnset}, out)
}

func TestPromoteSectionForRepairUpgradesDeriveSection(t *testing.T) {
	s := Section{Mode: ModeDerive, Method: MethodTrivial, LyricStrategy: StrategyStrictOnset, LyricPolicy: PolicyFillMissingOnly}
	target := VoiceRef{PartIndex: 0, VoicePartID: "alto"}
	out := promoteSectionForRepair(s, target, true)
	assert.Equal(t, methodB, out.Method)
	assert.Equal(t, PolicyReplaceAll, out.LyricPolicy)
	assert.Equal(t, StrategySyllableFlow, out.LyricStrategy)
	assert.Equal(t, &target, out.MelodySource)
	assert.Equal(t, "high", out.splitSelector)
}

func TestPromoteSectionForRepairLeavesRestSectionUntouched(t *testing.T) {
	s := Section{Mode: ModeRest}
	out := promoteSectionForRepair(s, VoiceRef{PartIndex: 0, VoicePartID: "alto"}, true)
	assert.Equal(t, s, out)
}

func TestPromoteSectionForRepairKeepsExistingMelodySource(t *testing.T) {
	existing := VoiceRef{PartIndex: 0, VoicePartID: "soprano"}
	s := Section{Mode: ModeDerive, MelodySource: &existing}
	out := promoteSectionForRepair(s, VoiceRef{PartIndex: 0, VoicePartID: "alto"}, false)
	assert.Same(t, &existing, out.MelodySource)
	assert.Equal(t, "low", out.splitSelector)
}

func TestRepairSectionsForStructuralFailureOnlyPromotesOverlappingSections(t *testing.T) {
	target := Target{
		Target: VoiceRef{PartIndex: 0, VoicePartID: "alto"},
		Sections: []Section{
			{StartMeasure: 1, EndMeasure: 4, Mode: ModeDerive, DecisionType: DecisionExtractFromVoice, Method: MethodTrivial},
			{StartMeasure: 5, EndMeasure: 8, Mode: ModeDerive, DecisionType: DecisionExtractFromVoice, Method: MethodTrivial},
		},
	}
	repaired := RepairSectionsForStructuralFailure(target, []MeasureRange{{Start: 6, End: 6}}, true)
	assert.Equal(t, MethodTrivial, repaired.Sections[0].Method, "measures 1-4 never overlap the failing range")
	assert.Equal(t, methodB, repaired.Sections[1].Method, "measures 5-8 overlap the failing range and get promoted")
}

func TestRepairLegacyActionForCoverageFailureStopsOnFirstReadyAttempt(t *testing.T) {
	var seen []LyricStrategy
	execute := func(s LyricStrategy) (LyricCoverageValidation, error) {
		seen = append(seen, s)
		if s == StrategyStrictOnset {
			return LyricCoverageValidation{Status: statusReady}, nil
		}
		return LyricCoverageValidation{Status: statusFail}, nil
	}
	// initial=overlap_best_match leaves [syllable_flow, strict_onset] as
	// candidates; syllable_flow fails so the loop must try strict_onset
	// next and stop there rather than exhausting further (there is none).
	attempts, final, err := RepairLegacyActionForCoverageFailure(StrategyOverlapBestMatch, execute)
	assert.NoError(t, err)
	assert.Equal(t, statusReady, final.Status)
	assert.Len(t, attempts, 2)
	assert.Equal(t, []LyricStrategy{StrategySyllableFlow, StrategyStrictOnset}, seen)
}

func TestRepairLegacyActionForCoverageFailureExhaustsAllCandidatesWhenNoneSucceed(t *testing.T) {
	execute := func(s LyricStrategy) (LyricCoverageValidation, error) {
		return LyricCoverageValidation{Status: statusFail}, nil
	}
	attempts, final, err := RepairLegacyActionForCoverageFailure(StrategyStrictOnset, execute)
	assert.NoError(t, err)
	assert.Equal(t, statusFail, final.Status)
	assert.Len(t, attempts, 2, "strict_onset's two remaining candidates are overlap_best_match and syllable_flow")
}
