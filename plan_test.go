package voiceparts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func sopranoAltoAnalyses() []PartAnalysis {
	return []PartAnalysis{
		{
			PartIndex: 0,
			VoiceParts: []VoicePart{
				{SourceVoiceID: "1", VoicePartID: "soprano", RankIndex: 0, PartIndex: 0},
				{SourceVoiceID: "2", VoicePartID: "alto", RankIndex: 1, PartIndex: 0},
			},
			Span: MeasureRange{Start: 1, End: 8},
		},
	}
}

func TestParsePlanRejectsEmptyTargets(t *testing.T) {
	_, err := ParsePlan(RawPlan{}, sopranoAltoAnalyses())
	assert.Error(t, err)
	ar, ok := err.(*ActionRequiredError)
	assert.True(t, ok)
	assert.Equal(t, "invalid_plan_payload", ar.Code)
}

func TestParsePlanRejectsMalformedTargetRef(t *testing.T) {
	raw := RawPlan{Targets: []RawTarget{
		{Target: &RawVoiceRef{PartIndex: nil, VoicePartID: strPtr("soprano")}, Actions: []RawAction{{MelodySource: &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("soprano")}}}},
	}}
	_, err := ParsePlan(raw, sopranoAltoAnalyses())
	assert.Error(t, err)
	ar := err.(*ActionRequiredError)
	assert.Equal(t, "invalid_plan_target_ref", ar.Code)
}

func TestParsePlanRejectsBothSectionsAndActions(t *testing.T) {
	raw := RawPlan{Targets: []RawTarget{
		{
			Target:   &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("alto")},
			Sections: []RawSection{{StartMeasure: intPtr(1), EndMeasure: intPtr(8), Mode: "rest"}},
			Actions:  []RawAction{{MelodySource: &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("soprano")}}},
		},
	}}
	_, err := ParsePlan(raw, sopranoAltoAnalyses())
	assert.Error(t, err)
	assert.Equal(t, "invalid_plan_payload", err.(*ActionRequiredError).Code)
}

func TestParsePlanAcceptsContiguousSections(t *testing.T) {
	raw := RawPlan{Targets: []RawTarget{
		{
			Target: &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("alto")},
			Sections: []RawSection{
				{StartMeasure: intPtr(1), EndMeasure: intPtr(4), Mode: "rest"},
				{
					StartMeasure: intPtr(5), EndMeasure: intPtr(8), Mode: "derive",
					DecisionType: string(DecisionExtractFromVoice),
					MelodySource: &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("soprano")},
				},
			},
		},
	}}
	plan, err := ParsePlan(raw, sopranoAltoAnalyses())
	assert.NoError(t, err)
	assert.Len(t, plan.Targets, 1)
	assert.Len(t, plan.Targets[0].Sections, 2)
	assert.Equal(t, SharedNoteDuplicateToAll, plan.Targets[0].SharedNotePolicy)
}

func TestParsePlanRejectsGapInSections(t *testing.T) {
	raw := RawPlan{Targets: []RawTarget{
		{
			Target: &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("alto")},
			Sections: []RawSection{
				{StartMeasure: intPtr(1), EndMeasure: intPtr(3), Mode: "rest"},
				{StartMeasure: intPtr(5), EndMeasure: intPtr(8), Mode: "rest"},
			},
		},
	}}
	_, err := ParsePlan(raw, sopranoAltoAnalyses())
	assert.Error(t, err)
	assert.Equal(t, "non_contiguous_sections", err.(*ActionRequiredError).Code)
}

func TestParsePlanRejectsOverlappingSections(t *testing.T) {
	raw := RawPlan{Targets: []RawTarget{
		{
			Target: &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("alto")},
			Sections: []RawSection{
				{StartMeasure: intPtr(1), EndMeasure: intPtr(5), Mode: "rest"},
				{StartMeasure: intPtr(4), EndMeasure: intPtr(8), Mode: "rest"},
			},
		},
	}}
	_, err := ParsePlan(raw, sopranoAltoAnalyses())
	assert.Error(t, err)
	assert.Equal(t, "overlapping_sections", err.(*ActionRequiredError).Code)
}

func TestParsePlanRejectsPublicUseOfInternalMethod(t *testing.T) {
	raw := RawPlan{Targets: []RawTarget{
		{
			Target: &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("alto")},
			Sections: []RawSection{
				{
					StartMeasure: intPtr(1), EndMeasure: intPtr(8), Mode: "derive",
					DecisionType: string(DecisionSplitChordsSelectNotes),
					Method:       "B",
					MelodySource: &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("soprano")},
				},
			},
		},
	}}
	_, err := ParsePlan(raw, sopranoAltoAnalyses())
	assert.Error(t, err)
	assert.Equal(t, "invalid_section_mode", err.(*ActionRequiredError).Code)
}

func TestParsePlanDefaultsMethodAndPolicies(t *testing.T) {
	raw := RawPlan{Targets: []RawTarget{
		{
			Target: &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("alto")},
			Sections: []RawSection{
				{
					StartMeasure: intPtr(1), EndMeasure: intPtr(8), Mode: "derive",
					DecisionType: string(DecisionSplitChordsSelectNotes),
					MelodySource: &RawVoiceRef{PartIndex: intPtr(0), VoicePartID: strPtr("soprano")},
				},
			},
		},
	}}
	plan, err := ParsePlan(raw, sopranoAltoAnalyses())
	assert.NoError(t, err)
	sec := plan.Targets[0].Sections[0]
	assert.Equal(t, MethodTrivial, sec.Method)
	assert.Equal(t, RankFallbackGreedy, sec.RankFallback)
	assert.Equal(t, StrategyStrictOnset, sec.LyricStrategy)
	assert.Equal(t, PolicyFillMissingOnly, sec.LyricPolicy)
}

func TestSectionRange(t *testing.T) {
	s := Section{StartMeasure: 3, EndMeasure: 7}
	assert.Equal(t, MeasureRange{Start: 3, End: 7}, s.Range())
}
