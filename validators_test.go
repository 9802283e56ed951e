package voiceparts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateStructuralPassesCleanMonophonicSequence(t *testing.T) {
	notes := []Note{plainNote(1, "1", 0), plainNote(1, "1", 1)}
	v := ValidateStructural(notes)
	assert.False(t, v.HardFail)
	assert.Equal(t, 1, v.MaxSimultaneousNotes)
	assert.Empty(t, v.UnresolvedMeasures)
}

func TestValidateStructuralDetectsSimultaneousConflict(t *testing.T) {
	notes := []Note{plainNote(1, "1", 0), plainNote(1, "2", 0)}
	v := ValidateStructural(notes)
	assert.True(t, v.HardFail)
	assert.Equal(t, 1, v.SimultaneousConflictCount)
	assert.Equal(t, []int{1}, v.UnresolvedMeasures)
}

func TestValidateStructuralDetectsOverlapConflict(t *testing.T) {
	notes := []Note{
		{MeasureNumber: 1, Voice: "1", OffsetBeats: 0, DurationBeats: 2},
		{MeasureNumber: 1, Voice: "1", OffsetBeats: 1, DurationBeats: 1},
	}
	v := ValidateStructural(notes)
	assert.True(t, v.HardFail)
	assert.Equal(t, 1, v.OverlapConflictCount)
}

func TestValidateStructuralIgnoresRests(t *testing.T) {
	notes := []Note{restNote(1, "1", 0), restNote(1, "2", 0)}
	v := ValidateStructural(notes)
	assert.False(t, v.HardFail)
	assert.Equal(t, 0, v.MaxSimultaneousNotes)
}

func TestValidateLyricCoverageReadyWhenFullyCovered(t *testing.T) {
	notes := []Note{lyricNote(1, "1", 0, "a"), lyricNote(1, "1", 1, "b")}
	v := ValidateLyricCoverage(notes, 0, true, nil, true)
	assert.Equal(t, statusReady, v.Status)
	assert.Equal(t, 1.0, v.LyricCoverageRatio)
}

func TestValidateLyricCoveragePartialCoverageWarns(t *testing.T) {
	notes := make([]Note, 0, 20)
	for i := 0; i < 19; i++ {
		notes = append(notes, lyricNote(1, "1", float64(i), "a"))
	}
	notes = append(notes, plainNote(1, "1", 19))
	v := ValidateLyricCoverage(notes, 0, true, nil, true)
	assert.Equal(t, statusReadyWithWarnings, v.Status)
	assert.Equal(t, "partial_lyric_coverage", v.FailureCode)
}

func TestValidateLyricCoverageFailsBelowNinetyPercent(t *testing.T) {
	notes := []Note{lyricNote(1, "1", 0, "a"), plainNote(1, "1", 1)}
	v := ValidateLyricCoverage(notes, 0, true, nil, true)
	assert.Equal(t, statusFail, v.Status)
	assert.Equal(t, "validation_failed_needs_review", v.FailureCode)
}

func TestValidateLyricCoverageExemptCountReducesDenominator(t *testing.T) {
	notes := []Note{plainNote(1, "1", 0)}
	v := ValidateLyricCoverage(notes, 1, false, nil, true)
	assert.Equal(t, statusFail, v.Status, "the one missing-lyric note is not exempted away to zero by itself")
	_ = v
}

func TestValidateLyricCoverageWordRatioTooLowFails(t *testing.T) {
	ext := "+"
	notes := []Note{{MeasureNumber: 1, Voice: "1", OffsetBeats: 0, DurationBeats: 1, Lyric: &ext, LyricIsExtended: true}}
	v := ValidateLyricCoverage(notes, 0, true, nil, true)
	assert.Equal(t, statusFail, v.Status)
	assert.Equal(t, "word_lyric_coverage_too_low", v.FailureCode)
}

func TestValidateLyricCoverageSkipsWordRatioCheckForLegacyPath(t *testing.T) {
	ext := "+"
	notes := []Note{{MeasureNumber: 1, Voice: "1", OffsetBeats: 0, DurationBeats: 1, Lyric: &ext, LyricIsExtended: true}}
	v := ValidateLyricCoverage(notes, 0, true, nil, false)
	assert.Equal(t, statusReady, v.Status, "legacy actions never enforce the word-lyric-coverage floor")
	assert.Empty(t, v.FailureCode)
}

func TestSourceAlignmentRatioMatchesOnsets(t *testing.T) {
	timeline := []SourceLyricEntry{{Start: 0}, {Start: 2}}
	derived := []Note{lyricNote(1, "1", 0, "a"), lyricNote(1, "1", 1, "b")}
	ratio := sourceAlignmentRatio(derived, timeline)
	assert.Equal(t, 0.5, ratio, "only the onset-0 lyric note aligns with a source timeline entry")
}
