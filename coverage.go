package voiceparts

// CoverageStats are the lyric-coverage statistics for a (part, voice-part,
// measure range) triple, shared by lint rules and validators (spec §4.3
// "Coverage statistics in a range"). They are computed on demand by each
// call; results are not cached between calls.
type CoverageStats struct {
	SungNoteCount            int
	WordLyricNoteCount       int
	ExtensionLyricNoteCount  int
	MissingLyricNoteCount    int
	WordLyricCoverageRatio   float64
	ExtensionLyricRatio      float64
}

// notesForVoiceInRange returns the non-rest notes belonging to the given
// source voice label within a part, restricted to a measure range.
func notesForVoiceInRange(part Part, voice string, r MeasureRange) []Note {
	var out []Note
	for _, n := range part.Notes {
		if n.IsRest {
			continue
		}
		v := n.Voice
		if v == "" {
			v = DefaultVoice
		}
		if v != voice {
			continue
		}
		if !r.Contains(n.MeasureNumber) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// computeCoverageStats computes coverage statistics for a voice-part's
// notes within a measure range (spec §4.3).
func computeCoverageStats(notes []Note) CoverageStats {
	stats := CoverageStats{}
	for _, n := range notes {
		stats.SungNoteCount++
		switch n.Classify() {
		case LyricWord:
			stats.WordLyricNoteCount++
		case LyricExtension:
			stats.ExtensionLyricNoteCount++
		case LyricEmpty:
			stats.MissingLyricNoteCount++
		}
	}
	denom := stats.SungNoteCount
	if denom < 1 {
		denom = 1
	}
	stats.WordLyricCoverageRatio = float64(stats.WordLyricNoteCount) / float64(denom)
	stats.ExtensionLyricRatio = float64(stats.ExtensionLyricNoteCount) / float64(denom)
	return stats
}

// voicePartCoverageInRange resolves a voice-part by id within a part and
// returns its coverage stats over a measure range.
func voicePartCoverageInRange(score *Score, analyses []PartAnalysis, partIndex int, voicePartID string, r MeasureRange) (CoverageStats, bool) {
	if partIndex < 0 || partIndex >= len(score.Parts) {
		return CoverageStats{}, false
	}
	vp, ok := analyses[partIndex].FindVoicePart(voicePartID)
	if !ok {
		return CoverageStats{}, false
	}
	notes := notesForVoiceInRange(score.Parts[partIndex], vp.SourceVoiceID, r)
	return computeCoverageStats(notes), true
}
