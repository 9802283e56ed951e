package voiceparts

import "sort"

// StructuralValidation is the Structural Validator's report (spec §4.6).
type StructuralValidation struct {
	HardFail                  bool
	MaxSimultaneousNotes      int
	SimultaneousConflictCount int
	OverlapConflictCount      int
	UnresolvedMeasures        []int
}

// ValidateStructural buckets notes by onset (ε=1e-5) to find simultaneous
// conflicts, then checks each consecutive sustain for overlap conflicts
// (spec §4.6).
func ValidateStructural(notes []Note) StructuralValidation {
	type bucket struct {
		onset float64
		notes []Note
	}
	var buckets []bucket
	index := map[float64]int{}
	for _, n := range notes {
		if n.IsRest {
			continue
		}
		key := OnsetKey(n.OffsetBeats)
		if i, ok := index[key]; ok {
			buckets[i].notes = append(buckets[i].notes, n)
			continue
		}
		index[key] = len(buckets)
		buckets = append(buckets, bucket{onset: key, notes: []Note{n}})
	}

	unresolved := map[int]bool{}
	simultaneousConflicts := 0
	for _, b := range buckets {
		if len(b.notes) > 1 {
			simultaneousConflicts++
			for _, n := range b.notes {
				if n.MeasureNumber > 0 {
					unresolved[n.MeasureNumber] = true
				}
			}
		}
	}

	sorted := append([]Note(nil), notes...)
	sortNotesByOnset(sorted)

	overlapConflicts := 0
	maxActive := 0
	var activeEnds []float64
	var activeMeasures []int
	for _, n := range sorted {
		if n.IsRest {
			continue
		}
		onset := OnsetKey(n.OffsetBeats)
		var survivingEnds []float64
		var survivingMeasures []int
		for i, end := range activeEnds {
			if end > onset+onsetEpsilon {
				survivingEnds = append(survivingEnds, end)
				survivingMeasures = append(survivingMeasures, activeMeasures[i])
			}
		}
		if len(survivingEnds) > 0 {
			overlapConflicts++
			for _, m := range survivingMeasures {
				if m > 0 {
					unresolved[m] = true
				}
			}
		}
		activeEnds = append(survivingEnds, n.EndBeats())
		activeMeasures = append(survivingMeasures, n.MeasureNumber)
		if len(activeEnds) > maxActive {
			maxActive = len(activeEnds)
		}
	}

	var unresolvedList []int
	for m := range unresolved {
		unresolvedList = append(unresolvedList, m)
	}
	sortInts(unresolvedList)

	return StructuralValidation{
		HardFail:                  simultaneousConflicts > 0 || overlapConflicts > 0,
		MaxSimultaneousNotes:      maxActive,
		SimultaneousConflictCount: simultaneousConflicts,
		OverlapConflictCount:      overlapConflicts,
		UnresolvedMeasures:        unresolvedList,
	}
}

// LyricCoverageValidation is the Lyric Coverage Validator's report (spec
// §4.6).
type LyricCoverageValidation struct {
	Status                 string
	LyricCoverageRatio      float64
	WordLyricCoverageRatio  float64
	ExtensionLyricRatio     float64
	SourceAlignmentRatio    float64
	SungNoteCount           int
	MissingLyricNoteCount   int
	FailureCode             string
}

const (
	statusReady               = "ready"
	statusReadyWithWarnings   = "ready_with_warnings"
	statusFail                = "fail"
)

// ValidateLyricCoverage computes coverage statistics against the derived
// notes and source lyric timeline, deciding ready/warn/fail per the
// configured thresholds (spec §4.6). checkWordLyricRatio gates the
// word-lyric-coverage floor check, which only applies to the
// sections/timeline planning path; the legacy action path still reports
// the ratio but never enforces it.
func ValidateLyricCoverage(derivedNotes []Note, exemptCount int, sourceHadWords bool, sourceTimeline []SourceLyricEntry, checkWordLyricRatio bool) LyricCoverageValidation {
	stats := computeCoverageStats(sungNotesOnly(derivedNotes))

	denomExempt := stats.SungNoteCount - exemptCount
	if denomExempt < 1 {
		denomExempt = 1
	}
	lyricCoverageRatio := float64(stats.SungNoteCount-stats.MissingLyricNoteCount) / float64(denomExempt)

	sourceAlignment := sourceAlignmentRatio(derivedNotes, sourceTimeline)

	v := LyricCoverageValidation{
		LyricCoverageRatio:     lyricCoverageRatio,
		WordLyricCoverageRatio: stats.WordLyricCoverageRatio,
		ExtensionLyricRatio:    stats.ExtensionLyricRatio,
		SourceAlignmentRatio:   sourceAlignment,
		SungNoteCount:          stats.SungNoteCount,
		MissingLyricNoteCount:  stats.MissingLyricNoteCount,
		Status:                 statusReady,
	}

	if stats.MissingLyricNoteCount > 0 {
		if lyricCoverageRatio >= 0.90 {
			v.Status = statusReadyWithWarnings
			v.FailureCode = "partial_lyric_coverage"
		} else {
			v.Status = statusFail
			v.FailureCode = "validation_failed_needs_review"
			return v
		}
	}

	if checkWordLyricRatio && sourceHadWords {
		floor := minWordLyricCoverageRatio()
		if stats.WordLyricCoverageRatio < floor {
			warnFloor := floor * minWordLyricWarnFloorRatio()
			if stats.WordLyricCoverageRatio >= warnFloor {
				if v.Status == statusReady {
					v.Status = statusReadyWithWarnings
				}
				v.FailureCode = "word_lyric_coverage_low"
			} else {
				v.Status = statusFail
				v.FailureCode = "word_lyric_coverage_too_low"
			}
		}
	}

	return v
}

func sungNotesOnly(notes []Note) []Note {
	var out []Note
	for _, n := range notes {
		if !n.IsRest {
			out = append(out, n)
		}
	}
	return out
}

func sourceAlignmentRatio(derivedNotes []Note, timeline []SourceLyricEntry) float64 {
	onsets := map[float64]bool{}
	for _, e := range timeline {
		onsets[e.Start] = true
	}
	total, matched := 0, 0
	for _, n := range derivedNotes {
		if n.IsRest || !n.HasLyric() {
			continue
		}
		total++
		if onsets[OnsetKey(n.OffsetBeats)] {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

func sortNotesByOnset(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].MeasureNumber != notes[j].MeasureNumber {
			return notes[i].MeasureNumber < notes[j].MeasureNumber
		}
		return OnsetKey(notes[i].OffsetBeats) < OnsetKey(notes[j].OffsetBeats)
	})
}

func sortInts(xs []int) {
	sort.Ints(xs)
}
