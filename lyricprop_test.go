package voiceparts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sourceEntry(offset, duration float64, lyric string, sourceIndex int) SourceLyricEntry {
	l := lyric
	n := Note{OffsetBeats: offset, DurationBeats: duration, Lyric: &l}
	return SourceLyricEntry{Note: n, SourceIndex: sourceIndex, Start: OnsetKey(offset), End: OnsetKey(offset + duration), Duration: duration, LyricConfidence: 1.0}
}

func TestExtractVerseFromLyric(t *testing.T) {
	verse, ok := extractVerseFromLyric("2. Amazing")
	assert.True(t, ok)
	assert.Equal(t, "2", verse)

	_, ok = extractVerseFromLyric("Amazing grace")
	assert.False(t, ok)
}

func TestLyricMatchesRequestedVerse(t *testing.T) {
	assert.True(t, lyricMatchesRequestedVerse("1. grace", "1", false))
	assert.False(t, lyricMatchesRequestedVerse("2. grace", "1", false))
	assert.True(t, lyricMatchesRequestedVerse("2. grace", "1", true), "copy_all_verses bypasses the verse filter")
	assert.True(t, lyricMatchesRequestedVerse("grace", "1", false), "an untagged lyric is never excluded by the verse filter")
}

func TestBuildSourceTimelineFiltersAndOrders(t *testing.T) {
	words := []string{"a", "b", "c"}
	notes := []Note{
		{OffsetBeats: 2, DurationBeats: 1, Lyric: &words[1]},
		{OffsetBeats: 0, DurationBeats: 1, Lyric: &words[0]},
		{IsRest: true, OffsetBeats: 1, DurationBeats: 1},
		{OffsetBeats: 1, DurationBeats: 1, Lyric: &words[2]},
	}
	timeline := BuildSourceTimeline(notes, "", false)
	assert.Len(t, timeline, 3, "the rest is excluded")
	assert.Equal(t, 0.0, timeline[0].Start)
	assert.Equal(t, 1.0, timeline[1].Start)
	assert.Equal(t, 2.0, timeline[2].Start)
}

func TestBuildSourceTimelineExtensionLowersConfidence(t *testing.T) {
	ext := "+"
	notes := []Note{{OffsetBeats: 0, DurationBeats: 1, Lyric: &ext, LyricIsExtended: true}}
	timeline := BuildSourceTimeline(notes, "", false)
	assert.Len(t, timeline, 1)
	assert.Equal(t, 0.5, timeline[0].LyricConfidence)
}

func TestChooseStrictOnsetMatchesWithinTolerance(t *testing.T) {
	timeline := []SourceLyricEntry{sourceEntry(0, 1, "a", 0), sourceEntry(1, 1, "b", 1)}
	entry, ok := chooseStrictOnset(Note{OffsetBeats: 1.0000001}, timeline)
	assert.True(t, ok)
	assert.Equal(t, 1, entry.SourceIndex)

	_, ok = chooseStrictOnset(Note{OffsetBeats: 5}, timeline)
	assert.False(t, ok)
}

func TestChooseOverlapBestMatchPrefersHigherOverlapAndProximity(t *testing.T) {
	timeline := []SourceLyricEntry{sourceEntry(0, 0.5, "a", 0), sourceEntry(0.1, 2, "b", 1)}
	target := Note{OffsetBeats: 0, DurationBeats: 2}
	entry, ok := chooseOverlapBestMatch(target, timeline)
	assert.True(t, ok)
	assert.Equal(t, 1, entry.SourceIndex, "the longer-overlapping entry wins despite its later onset")
}

func TestChooseOverlapBestMatchNoOverlapReturnsFalse(t *testing.T) {
	timeline := []SourceLyricEntry{sourceEntry(10, 1, "a", 0)}
	_, ok := chooseOverlapBestMatch(Note{OffsetBeats: 0, DurationBeats: 1}, timeline)
	assert.False(t, ok)
}

func TestDetectPhraseBoundaries(t *testing.T) {
	notes := []Note{
		{OffsetBeats: 0, DurationBeats: 5},
		{OffsetBeats: 5, DurationBeats: 1},
		{OffsetBeats: 9, DurationBeats: 1},
	}
	boundaries := detectPhraseBoundaries(notes)
	assert.True(t, boundaries[1], "a long note (>=4 beats) marks the following index as a boundary")
	assert.True(t, boundaries[2], "a gap of >=1 beat before the note marks its own index as a boundary")
}

func TestShouldApplyLyricPolicy(t *testing.T) {
	lyric := "x"
	withLyric := Note{Lyric: &lyric}
	withoutLyric := Note{}

	assert.True(t, shouldApplyLyricPolicy(withoutLyric, PolicyFillMissingOnly))
	assert.False(t, shouldApplyLyricPolicy(withLyric, PolicyFillMissingOnly))
	assert.True(t, shouldApplyLyricPolicy(withLyric, PolicyReplaceAll))
	assert.False(t, shouldApplyLyricPolicy(withLyric, PolicyPreserveExisting))
}

func TestPropagateLyricsStrictOnsetFillsMissingOnly(t *testing.T) {
	timeline := BuildSourceTimeline([]Note{
		{OffsetBeats: 0, DurationBeats: 1, Lyric: strPtr("a")},
		{OffsetBeats: 1, DurationBeats: 1, Lyric: strPtr("b")},
	}, "", false)
	existing := "keep"
	target := []Note{
		{OffsetBeats: 0, DurationBeats: 1},
		{OffsetBeats: 1, DurationBeats: 1, Lyric: &existing},
	}
	result := PropagateLyrics(target, timeline, StrategyStrictOnset, PolicyFillMissingOnly)
	assert.Equal(t, 1, result.CopiedLyricCount)
	assert.Equal(t, "a", *target[0].Lyric)
	assert.Equal(t, "keep", *target[1].Lyric, "fill_missing_only never overwrites an existing lyric")
	assert.True(t, result.SourceHadWords)
	assert.Equal(t, []int{1}, result.DroppedSourceLyrics)
}

func TestPropagateLyricsReplaceAllOverwritesExisting(t *testing.T) {
	timeline := BuildSourceTimeline([]Note{{OffsetBeats: 0, DurationBeats: 1, Lyric: strPtr("a")}}, "", false)
	existing := "old"
	target := []Note{{OffsetBeats: 0, DurationBeats: 1, Lyric: &existing}}
	result := PropagateLyrics(target, timeline, StrategyStrictOnset, PolicyReplaceAll)
	assert.Equal(t, 1, result.CopiedLyricCount)
	assert.Equal(t, "a", *target[0].Lyric)
}

func TestPropagateLyricsSyllableFlowFallsBackWhenDisabled(t *testing.T) {
	timeline := BuildSourceTimeline([]Note{
		{OffsetBeats: 0, DurationBeats: 1, Lyric: strPtr("a")},
	}, "", false)
	target := []Note{{OffsetBeats: 0, DurationBeats: 1}}
	result := PropagateLyrics(target, timeline, StrategySyllableFlow, PolicyFillMissingOnly)
	assert.Equal(t, 1, result.CopiedLyricCount, "with the flag unset, syllable_flow behaves like strict_onset")
}
