package voiceparts

import (
	"sort"
	"strconv"
	"strings"
)

// PartAnalysis is the analyzer's full decomposition of one Part (spec §4.1).
type PartAnalysis struct {
	PartIndex  int
	VoiceParts []VoicePart
	// Regions maps voice_part_id -> its collapsed region ranges. Per the
	// open question in spec §9, NEEDS_SPLIT and UNASSIGNED_SOURCE ranges
	// may overlap for the same voice-part; both are emitted.
	Regions map[string][]RegionRange
	// Span is the part's overall sung measure span (min/max measure number
	// across all notes, rest or not).
	Span MeasureRange
}

// AnalyzePart ranks the voice-parts in a Part by descending mean pitch,
// assigns canonical names, and classifies each measure of each voice-part's
// range (spec §4.1).
func AnalyzePart(part Part, partIndex int) PartAnalysis {
	voiceNotes := map[string][]Note{}
	var voiceOrder []string
	minMeasure, maxMeasure := 0, 0
	first := true

	for _, n := range part.Notes {
		if first {
			minMeasure, maxMeasure = n.MeasureNumber, n.MeasureNumber
			first = false
		} else {
			if n.MeasureNumber < minMeasure {
				minMeasure = n.MeasureNumber
			}
			if n.MeasureNumber > maxMeasure {
				maxMeasure = n.MeasureNumber
			}
		}
		if n.IsRest {
			continue
		}
		v := n.Voice
		if v == "" {
			v = DefaultVoice
		}
		if _, ok := voiceNotes[v]; !ok {
			voiceOrder = append(voiceOrder, v)
		}
		voiceNotes[v] = append(voiceNotes[v], n)
	}

	type ranked struct {
		voice   string
		avgPitc float64
		notes   []Note
	}
	var rankedVoices []ranked
	for _, v := range voiceOrder {
		notes := voiceNotes[v]
		rankedVoices = append(rankedVoices, ranked{voice: v, avgPitc: avgPitch(notes), notes: notes})
	}
	sort.SliceStable(rankedVoices, func(i, j int) bool {
		if rankedVoices[i].avgPitc != rankedVoices[j].avgPitc {
			return rankedVoices[i].avgPitc > rankedVoices[j].avgPitc
		}
		return rankedVoices[i].voice < rankedVoices[j].voice
	})

	names := canonicalVoicePartNames(part.PartName, len(rankedVoices))

	var voiceParts []VoicePart
	for i, rv := range rankedVoices {
		lyricCount, missing := 0, 0
		for _, n := range rv.notes {
			if n.HasLyric() {
				lyricCount++
			} else {
				missing++
			}
		}
		voiceParts = append(voiceParts, VoicePart{
			SourceVoiceID:  rv.voice,
			VoicePartID:    names[i],
			NoteCount:      len(rv.notes),
			LyricNoteCount: lyricCount,
			MissingLyrics:  missing,
			AvgPitchMIDI:   rv.avgPitc,
			PartIndex:      partIndex,
			RankIndex:      i,
		})
	}

	chordMeasuresByVoice, defaultVoiceMeasures := detectChordAndDefaultRegions(part.Notes)

	regions := map[string][]RegionRange{}
	span := MeasureRange{Start: minMeasure, End: maxMeasure}
	for _, vp := range voiceParts {
		regions[vp.VoicePartID] = classifyVoicePartRegions(vp, span, voiceNotes[vp.SourceVoiceID], chordMeasuresByVoice[vp.SourceVoiceID], defaultVoiceMeasures)
	}

	return PartAnalysis{PartIndex: partIndex, VoiceParts: voiceParts, Regions: regions, Span: span}
}

func avgPitch(notes []Note) float64 {
	var sum float64
	var count int
	for _, n := range notes {
		if n.PitchMIDI != nil {
			sum += *n.PitchMIDI
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// canonicalVoicePartNames implements the SOPRANO/ALTO and TENOR/BASS
// shorthand naming rule, falling back to "voice part N" (spec §4.1).
func canonicalVoicePartNames(partName string, count int) []string {
	upper := strings.ToUpper(partName)
	if count == 2 {
		if strings.Contains(upper, "SOPRANO") && strings.Contains(upper, "ALTO") {
			return []string{"soprano", "alto"}
		}
		if strings.Contains(upper, "TENOR") && strings.Contains(upper, "BASS") {
			return []string{"tenor", "bass"}
		}
	}
	names := make([]string, count)
	for i := range names {
		names[i] = voicePartOrdinalName(i + 1)
	}
	return names
}

func voicePartOrdinalName(n int) string {
	return "voice part " + strconv.Itoa(n)
}

// detectChordAndDefaultRegions groups non-rest notes by (voice, measure,
// onset) to find chord regions, and separately flags measures where any
// note uses the default-voice sentinel (spec §4.1).
func detectChordAndDefaultRegions(notes []Note) (map[string]map[int]bool, map[int]bool) {
	type key struct {
		voice   string
		measure int
		onset   float64
	}
	groups := map[key]int{}
	defaultVoiceMeasures := map[int]bool{}

	for _, n := range notes {
		if n.IsRest {
			continue
		}
		v := n.Voice
		if v == "" {
			v = DefaultVoice
		}
		if v == DefaultVoice {
			defaultVoiceMeasures[n.MeasureNumber] = true
		}
		k := key{voice: v, measure: n.MeasureNumber, onset: OnsetKey(n.OffsetBeats)}
		groups[k]++
	}

	chordMeasuresByVoice := map[string]map[int]bool{}
	for k, count := range groups {
		if count < 2 {
			continue
		}
		if chordMeasuresByVoice[k.voice] == nil {
			chordMeasuresByVoice[k.voice] = map[int]bool{}
		}
		chordMeasuresByVoice[k.voice][k.measure] = true
	}
	return chordMeasuresByVoice, defaultVoiceMeasures
}

// classifyVoicePartRegions walks a voice-part's part span and collapses
// per-measure classification into contiguous ranges (spec §4.1).
func classifyVoicePartRegions(vp VoicePart, span MeasureRange, voiceNotes []Note, chordMeasures map[int]bool, defaultVoiceMeasures map[int]bool) []RegionRange {
	activeMeasures := map[int]bool{}
	for _, n := range voiceNotes {
		activeMeasures[n.MeasureNumber] = true
	}

	var noMusic, needsSplit, unassigned, resolved []int
	for m := span.Start; m <= span.End; m++ {
		if !activeMeasures[m] {
			noMusic = append(noMusic, m)
			continue
		}
		isSplit := chordMeasures[m]
		isUnassigned := vp.SourceVoiceID == DefaultVoice || defaultVoiceMeasures[m]
		if isSplit {
			needsSplit = append(needsSplit, m)
		}
		if isUnassigned {
			unassigned = append(unassigned, m)
		}
		if !isSplit && !isUnassigned {
			resolved = append(resolved, m)
		}
	}

	var out []RegionRange
	for _, r := range collapseMeasureRanges(noMusic) {
		out = append(out, RegionRange{MeasureRange: r, Status: RegionNoMusic})
	}
	for _, r := range collapseMeasureRanges(needsSplit) {
		out = append(out, RegionRange{MeasureRange: r, Status: RegionNeedsSplit})
	}
	for _, r := range collapseMeasureRanges(unassigned) {
		out = append(out, RegionRange{MeasureRange: r, Status: RegionUnassignedSource})
	}
	for _, r := range collapseMeasureRanges(resolved) {
		out = append(out, RegionRange{MeasureRange: r, Status: RegionResolved})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// collapseMeasureRanges collapses a sorted-or-unsorted set of measure
// numbers into contiguous inclusive ranges (spec §3 "Region Index").
func collapseMeasureRanges(measures []int) []MeasureRange {
	if len(measures) == 0 {
		return nil
	}
	sorted := append([]int(nil), measures...)
	sort.Ints(sorted)
	var out []MeasureRange
	start, prev := sorted[0], sorted[0]
	for _, m := range sorted[1:] {
		if m == prev+1 {
			prev = m
			continue
		}
		out = append(out, MeasureRange{Start: start, End: prev})
		start, prev = m, m
	}
	out = append(out, MeasureRange{Start: start, End: prev})
	return out
}

// FindVoicePart looks up a voice-part by id within a PartAnalysis.
func (a PartAnalysis) FindVoicePart(voicePartID string) (VoicePart, bool) {
	for _, vp := range a.VoiceParts {
		if vp.VoicePartID == voicePartID {
			return vp, true
		}
	}
	return VoicePart{}, false
}

// NonDefaultSiblings returns every voice-part in the analysis other than
// the given id whose source voice is not the default sentinel.
func (a PartAnalysis) NonDefaultSiblings(voicePartID string) []VoicePart {
	var out []VoicePart
	for _, vp := range a.VoiceParts {
		if vp.VoicePartID == voicePartID {
			continue
		}
		if vp.SourceVoiceID == DefaultVoice {
			continue
		}
		out = append(out, vp)
	}
	return out
}
