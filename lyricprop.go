package voiceparts

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// SourceLyricEntry is one lyric-bearing source note admitted into a source
// timeline (spec §4.5b).
type SourceLyricEntry struct {
	Note            Note
	SourceIndex     int
	Start           float64
	End             float64
	Duration        float64
	LyricConfidence float64
}

var verseLyricPrefix = regexp.MustCompile(`^\s*(\d+)\.`)

// extractVerseFromLyric returns the verse number a lyric is tagged with, if
// any, via a leading "N." prefix.
func extractVerseFromLyric(lyric string) (string, bool) {
	m := verseLyricPrefix.FindStringSubmatch(lyric)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func lyricMatchesRequestedVerse(lyric string, verseNumber string, copyAllVerses bool) bool {
	if copyAllVerses {
		return true
	}
	if verseNumber == "" {
		return true
	}
	parsed, ok := extractVerseFromLyric(lyric)
	if !ok {
		return true
	}
	return parsed == verseNumber
}

// BuildSourceTimeline builds the ordered list of lyric-bearing source notes
// eligible for propagation, after the verse filter (spec §4.5b).
func BuildSourceTimeline(notes []Note, verseNumber string, copyAllVerses bool) []SourceLyricEntry {
	var timeline []SourceLyricEntry
	for idx, n := range notes {
		if n.IsRest || !n.HasLyric() {
			continue
		}
		lyric := ""
		if n.Lyric != nil {
			lyric = *n.Lyric
		}
		if !lyricMatchesRequestedVerse(lyric, verseNumber, copyAllVerses) {
			continue
		}
		start := OnsetKey(n.OffsetBeats)
		duration := n.DurationBeats
		end := OnsetKey(start + duration)
		confidence := 1.0
		if n.LyricIsExtended {
			confidence = 0.5
		}
		timeline = append(timeline, SourceLyricEntry{
			Note:            n,
			SourceIndex:     idx,
			Start:           start,
			End:             end,
			Duration:        math.Max(duration, 0.0001),
			LyricConfidence: confidence,
		})
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		if timeline[i].Start != timeline[j].Start {
			return timeline[i].Start < timeline[j].Start
		}
		return timeline[i].SourceIndex < timeline[j].SourceIndex
	})
	return timeline
}

// chooseStrictOnset picks the timeline entry whose start matches the
// target's offset within the 6-decimal onset tolerance; ties resolve to the
// first entry in timeline order (spec §4.5b).
func chooseStrictOnset(target Note, timeline []SourceLyricEntry) (SourceLyricEntry, bool) {
	targetOnset := OnsetKey(target.OffsetBeats)
	for _, e := range timeline {
		if nearlyEqual(e.Start, targetOnset) {
			return e, true
		}
	}
	return SourceLyricEntry{}, false
}

// chooseOverlapBestMatch implements the overlap-scored strategy (spec
// §4.5b), mirroring the original's tie-break order: score desc, confidence
// desc, |Δonset| asc, source_index asc.
func chooseOverlapBestMatch(target Note, timeline []SourceLyricEntry) (SourceLyricEntry, bool) {
	targetStart := target.OffsetBeats
	targetDuration := math.Max(target.DurationBeats, 0.0001)
	targetEnd := targetStart + targetDuration
	onsetWindow := math.Max(targetDuration, 1.0)

	type scored struct {
		score      float64
		confidence float64
		onsetDelta float64
		sourceIdx  int
		entry      SourceLyricEntry
	}
	var candidates []scored
	for _, e := range timeline {
		overlapStart := math.Max(targetStart, e.Start)
		overlapEnd := math.Min(targetEnd, e.End)
		overlapDuration := math.Max(0, overlapEnd-overlapStart)
		if overlapDuration <= 0 {
			continue
		}
		overlapRatio := overlapDuration / targetDuration
		onsetDelta := math.Abs(targetStart - e.Start)
		onsetProximity := math.Max(0, 1-onsetDelta/onsetWindow)
		score := 0.7*overlapRatio + 0.3*onsetProximity
		candidates = append(candidates, scored{score: score, confidence: e.LyricConfidence, onsetDelta: onsetDelta, sourceIdx: e.SourceIndex, entry: e})
	}
	if len(candidates) == 0 {
		return SourceLyricEntry{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if a.onsetDelta != b.onsetDelta {
			return a.onsetDelta < b.onsetDelta
		}
		return a.sourceIdx < b.sourceIdx
	})
	return candidates[0].entry, true
}

// detectPhraseBoundaries marks target-note indices where a syllable-flow
// cursor should reset (spec §4.5b).
func detectPhraseBoundaries(targetNotes []Note) map[int]bool {
	boundaries := map[int]bool{}
	lastEnd := math.NaN()
	haveLast := false
	for idx, n := range targetNotes {
		if n.IsRest {
			continue
		}
		start := n.OffsetBeats
		duration := n.DurationBeats
		if duration >= 4.0 {
			boundaries[idx+1] = true
		}
		if haveLast && start-lastEnd >= 1.0 {
			boundaries[idx] = true
		}
		lastEnd, haveLast = start+duration, true
	}
	return boundaries
}

func copyLyricFields(target *Note, source Note) {
	target.Lyric = source.Lyric
	target.Syllabic = source.Syllabic
	target.LyricIsExtended = source.LyricIsExtended
}

func shouldApplyLyricPolicy(note Note, policy LyricPolicy) bool {
	switch policy {
	case PolicyReplaceAll:
		return true
	default: // fill_missing_only, preserve_existing
		return !note.HasLyric()
	}
}

// PropagationResult reports what the Lyric Propagator did to one section's
// target notes, the raw material for a section_results entry (spec §6).
type PropagationResult struct {
	CopiedLyricCount          int
	CopiedWordLyricCount      int
	CopiedExtensionLyricCount int
	MappedSourceLyricsCount   int
	DroppedSourceLyrics       []int
	SourceHadWords            bool
	TargetHasOnlyExtensions   bool
}

// PropagateLyrics applies lyric_source lyrics onto targetNotes (restricted
// to the section range by the caller) per the chosen strategy and policy
// (spec §4.5b). targetNotes is mutated in place.
func PropagateLyrics(targetNotes []Note, timeline []SourceLyricEntry, strategy LyricStrategy, policy LyricPolicy) PropagationResult {
	if strategy == StrategySyllableFlow && !syllableFlowEnabled() {
		strategy = StrategyStrictOnset
	}

	result := PropagationResult{}
	mapped := map[int]bool{}

	for _, e := range timeline {
		if e.Note.Classify() == LyricWord {
			result.SourceHadWords = true
			break
		}
	}

	switch strategy {
	case StrategySyllableFlow:
		boundaries := detectPhraseBoundaries(targetNotes)
		cursor := 0
		for idx := range targetNotes {
			n := &targetNotes[idx]
			if n.IsRest || !shouldApplyLyricPolicy(*n, policy) {
				continue
			}
			if boundaries[idx] {
				cursor = 0
			}
			if cursor >= len(timeline) {
				continue
			}
			entry := timeline[cursor]
			if cursor < len(timeline)-1 {
				cursor++
			}
			applyLyricEntry(n, entry, &result, mapped)
		}
	case StrategyOverlapBestMatch:
		for idx := range targetNotes {
			n := &targetNotes[idx]
			if n.IsRest || !shouldApplyLyricPolicy(*n, policy) {
				continue
			}
			entry, ok := chooseOverlapBestMatch(*n, timeline)
			if !ok {
				continue
			}
			applyLyricEntry(n, entry, &result, mapped)
		}
	default: // strict_onset
		for idx := range targetNotes {
			n := &targetNotes[idx]
			if n.IsRest || !shouldApplyLyricPolicy(*n, policy) {
				continue
			}
			entry, ok := chooseStrictOnset(*n, timeline)
			if !ok {
				continue
			}
			applyLyricEntry(n, entry, &result, mapped)
		}
	}

	for _, e := range timeline {
		if !mapped[e.SourceIndex] {
			result.DroppedSourceLyrics = append(result.DroppedSourceLyrics, e.SourceIndex)
		}
	}
	sort.Ints(result.DroppedSourceLyrics)

	hasWord, hasExtension := false, false
	for _, n := range targetNotes {
		switch n.Classify() {
		case LyricWord:
			hasWord = true
		case LyricExtension:
			hasExtension = true
		}
	}
	result.TargetHasOnlyExtensions = !hasWord && hasExtension

	return result
}

func applyLyricEntry(target *Note, entry SourceLyricEntry, result *PropagationResult, mapped map[int]bool) {
	copyLyricFields(target, entry.Note)
	mapped[entry.SourceIndex] = true
	result.MappedSourceLyricsCount++
	result.CopiedLyricCount++
	switch target.Classify() {
	case LyricWord:
		result.CopiedWordLyricCount++
	case LyricExtension:
		result.CopiedExtensionLyricCount++
	}
}

// ordinalVoicePartName matches "voice part N" style generated names,
// used by the Materializer's derived-part naming rule (spec §4.10).
var ordinalVoicePartName = regexp.MustCompile(`^voice part \d+$`)

func isGeneratedVoicePartName(name string) bool {
	return ordinalVoicePartName.MatchString(strings.ToLower(strings.TrimSpace(name)))
}
