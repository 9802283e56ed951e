package voiceparts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sopranoAltoContext(sopranoNotes, altoNotes []Note) *ExecutionContext {
	notes := append(append([]Note{}, sopranoNotes...), altoNotes...)
	return &ExecutionContext{
		Score: &Score{Parts: []Part{{PartID: "p0", PartName: "Soprano/Alto", Notes: notes}}},
		Analyses: []PartAnalysis{{
			PartIndex: 0,
			VoiceParts: []VoicePart{
				{SourceVoiceID: "1", VoicePartID: "soprano", RankIndex: 0, PartIndex: 0},
				{SourceVoiceID: "2", VoicePartID: "alto", RankIndex: 1, PartIndex: 0},
			},
			Span: MeasureRange{Start: 1, End: 1},
		}},
	}
}

func TestExecuteTimelineSamePartDerivationWithLyrics(t *testing.T) {
	amen := "Amen"
	ctx := sopranoAltoContext([]Note{
		{MeasureNumber: 1, Voice: "1", OffsetBeats: 0, DurationBeats: 1, PitchMIDI: floatPtr(72), Lyric: &amen},
	}, nil)
	target := Target{
		Target: VoiceRef{PartIndex: 0, VoicePartID: "alto"},
		Sections: []Section{{
			StartMeasure: 1, EndMeasure: 1, Mode: ModeDerive,
			DecisionType: DecisionExtractFromVoice,
			MelodySource: &VoiceRef{PartIndex: 0, VoicePartID: "soprano"},
			LyricSource:  &VoiceRef{PartIndex: 0, VoicePartID: "soprano"},
			LyricStrategy: StrategyStrictOnset, LyricPolicy: PolicyFillMissingOnly,
		}},
	}

	derived, results, err := ExecuteTimeline(ctx, target)
	assert.NoError(t, err)
	assert.Len(t, derived, 1)
	assert.Equal(t, "2", derived[0].Voice, "derived notes are re-voiced to the target's own source voice id")
	assert.Equal(t, 72.0, *derived[0].PitchMIDI)
	assert.Equal(t, "Amen", *derived[0].Lyric, "lyric propagation restores the lyric the melody extraction stripped")
	assert.Len(t, results, 1)
	assert.Equal(t, 1, results[0].CopiedNoteCount)
	assert.Equal(t, 1, results[0].CopiedWordLyricCount)
}

func TestExecuteTimelineRestSectionSynthesizesRests(t *testing.T) {
	ctx := sopranoAltoContext([]Note{
		{MeasureNumber: 1, Voice: "1", OffsetBeats: 0, DurationBeats: 2, PitchMIDI: floatPtr(72)},
	}, nil)
	ctx.Analyses[0].Span = MeasureRange{Start: 1, End: 1}
	target := Target{
		Target:   VoiceRef{PartIndex: 0, VoicePartID: "alto"},
		Sections: []Section{{StartMeasure: 1, EndMeasure: 1, Mode: ModeRest}},
	}

	derived, results, err := ExecuteTimeline(ctx, target)
	assert.NoError(t, err)
	assert.Len(t, derived, 1)
	assert.True(t, derived[0].IsRest)
	assert.Equal(t, 2.0, derived[0].DurationBeats, "the synthesized rest spans the source measure's full active duration")
	assert.Len(t, results, 1)
	assert.Equal(t, ModeRest, results[0].SectionMode)
}

func TestExecuteTimelineLyricSourceWithoutTargetNotesFails(t *testing.T) {
	ctx := sopranoAltoContext(nil, nil)
	target := Target{
		Target: VoiceRef{PartIndex: 0, VoicePartID: "alto"},
		Sections: []Section{{
			StartMeasure: 1, EndMeasure: 1, Mode: ModeDerive,
			DecisionType: DecisionExtractFromVoice,
			LyricSource:  &VoiceRef{PartIndex: 0, VoicePartID: "soprano"},
		}},
	}
	_, _, err := ExecuteTimeline(ctx, target)
	assert.Error(t, err)
	ar, ok := err.(*ActionRequiredError)
	assert.True(t, ok)
	assert.Equal(t, "lyric_source_without_target_notes", ar.Code)
}

func TestExecuteLegacyActionsMelodyThenLyric(t *testing.T) {
	amen := "Amen"
	ctx := sopranoAltoContext([]Note{
		{MeasureNumber: 1, Voice: "1", OffsetBeats: 0, DurationBeats: 1, PitchMIDI: floatPtr(72), Lyric: &amen},
	}, nil)
	target := Target{
		Target: VoiceRef{PartIndex: 0, VoicePartID: "alto"},
		Actions: []Action{{
			MelodySource: &VoiceRef{PartIndex: 0, VoicePartID: "soprano"},
			LyricSource:  &VoiceRef{PartIndex: 0, VoicePartID: "soprano"},
		}},
	}

	derived, results, err := ExecuteLegacyActions(ctx, target)
	assert.NoError(t, err)
	assert.Len(t, derived, 1)
	assert.Equal(t, "Amen", *derived[0].Lyric)
	assert.Len(t, results, 1)
	assert.Equal(t, DecisionExtractFromVoice, results[0].DecisionType)
	assert.Equal(t, 1, results[0].CopiedNoteCount)
	assert.Equal(t, 1, results[0].CopiedWordLyricCount)
}

func TestSelectTargetNativeNotesAssignPrimaryOnlyDropsSharedNotes(t *testing.T) {
	shared := Note{MeasureNumber: 1, Voice: "2", OffsetBeats: 0, DurationBeats: 1, PitchMIDI: floatPtr(60)}
	unique := Note{MeasureNumber: 1, Voice: "2", OffsetBeats: 1, DurationBeats: 1, PitchMIDI: floatPtr(62)}
	sopranoShared := Note{MeasureNumber: 1, Voice: "1", OffsetBeats: 0, DurationBeats: 1, PitchMIDI: floatPtr(60)}
	ctx := sopranoAltoContext([]Note{sopranoShared}, []Note{shared, unique})

	target := Target{Target: VoiceRef{PartIndex: 0, VoicePartID: "alto"}, SharedNotePolicy: SharedNoteAssignPrimaryOnly}
	out := selectTargetNativeNotes(ctx, target)
	assert.Len(t, out, 1, "the onset/duration/pitch-identical note is claimed by the higher-ranked soprano")
	assert.Equal(t, 62.0, *out[0].PitchMIDI)
}

func TestEnforceMonophonyPrefersLyricBearingNoteAndClipsSustain(t *testing.T) {
	lyric := "la"
	notes := []Note{
		{OffsetBeats: 0, DurationBeats: 4, PitchMIDI: floatPtr(72)},
		{OffsetBeats: 0, DurationBeats: 2, PitchMIDI: floatPtr(67), Lyric: &lyric},
		{OffsetBeats: 1, DurationBeats: 1, PitchMIDI: floatPtr(69)},
	}
	out := enforceMonophony(notes, "soprano")
	assert.Len(t, out, 2)
	assert.Equal(t, "la", *out[0].Lyric, "lyric-bearing candidate wins the onset group even though it isn't the highest pitch")
	assert.Equal(t, 1.0, out[0].DurationBeats, "the winning note's sustain is clipped to the next onset")
	assert.Equal(t, 69.0, *out[1].PitchMIDI)
}

func floatPtr(v float64) *float64 { return &v }
