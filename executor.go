package voiceparts

import (
	"sort"
)

// SectionResult reports what one executed section produced, the raw
// material for a preprocess result's section_results entry (spec §6).
type SectionResult struct {
	SectionMode                  SectionMode
	DecisionType                 DecisionType
	Method                       Method
	StartMeasure                 int
	EndMeasure                   int
	CopiedNoteCount               int
	CopiedLyricCount               int
	CopiedWordLyricCount            int
	CopiedExtensionLyricCount       int
	MissingLyricSungNoteCount       int
	SourceLyricCandidatesCount      int
	MappedSourceLyricsCount         int
	DroppedSourceLyricsCount        int
	DroppedSourceLyrics             []int
}

// ExecutionContext bundles the inputs the Timeline Executor needs to
// resolve source refs against the working score (spec §4.5).
type ExecutionContext struct {
	Score       *Score
	Analyses    []PartAnalysis
	VerseNumber string
	CopyAllVerses bool
}

func (c *ExecutionContext) resolveVoicePart(ref VoiceRef) (VoicePart, bool) {
	if ref.PartIndex < 0 || ref.PartIndex >= len(c.Analyses) {
		return VoicePart{}, false
	}
	return c.Analyses[ref.PartIndex].FindVoicePart(ref.VoicePartID)
}

func (c *ExecutionContext) sourceNotes(ref VoiceRef) []Note {
	vp, ok := c.resolveVoicePart(ref)
	if !ok {
		return nil
	}
	return selectVoiceNotes(c.Score.Parts[ref.PartIndex], vp.SourceVoiceID)
}

func selectVoiceNotes(part Part, voice string) []Note {
	var out []Note
	for _, n := range part.Notes {
		v := n.Voice
		if v == "" {
			v = DefaultVoice
		}
		if v == voice {
			out = append(out, n)
		}
	}
	return out
}

func notesInRange(notes []Note, r MeasureRange) []Note {
	var out []Note
	for _, n := range notes {
		if r.Contains(n.MeasureNumber) {
			out = append(out, n)
		}
	}
	return out
}

// selectTargetNativeNotes implements spec §4.5 step 1: select the target's
// native notes with the shared-note policy applied against its siblings.
func selectTargetNativeNotes(ctx *ExecutionContext, target Target) []Note {
	partIndex := target.Target.PartIndex
	part := ctx.Score.Parts[partIndex]
	vp, ok := ctx.resolveVoicePart(target.Target)
	if !ok {
		return nil
	}
	own := selectVoiceNotes(part, vp.SourceVoiceID)
	if target.SharedNotePolicy == SharedNoteAssignPrimaryOnly {
		siblings := ctx.Analyses[partIndex].NonDefaultSiblings(target.Target.VoicePartID)
		var out []Note
		for _, n := range own {
			if !noteSharedWithHigherSibling(n, part, vp, siblings) {
				out = append(out, n)
			}
		}
		return out
	}
	return own
}

func noteSignature(n Note) [3]float64 {
	pitch := 0.0
	if n.PitchMIDI != nil {
		pitch = *n.PitchMIDI
	}
	return [3]float64{OnsetKey(n.OffsetBeats), n.DurationBeats, pitch}
}

// noteSharedWithHigherSibling reports whether n's (offset,duration,pitch)
// signature is also produced by a higher-ranked sibling voice, under
// assign_primary_only (spec §4.5 step 1).
func noteSharedWithHigherSibling(n Note, part Part, vp VoicePart, siblings []VoicePart) bool {
	sig := noteSignature(n)
	for _, sib := range siblings {
		if sib.RankIndex >= vp.RankIndex {
			continue
		}
		for _, sn := range selectVoiceNotes(part, sib.SourceVoiceID) {
			if noteSignature(sn) == sig {
				return true
			}
		}
	}
	return false
}

// ExecuteTimeline runs the Section Executor for one sections-based target,
// returning the derived notes and the per-section results (spec §4.5).
func ExecuteTimeline(ctx *ExecutionContext, target Target) ([]Note, []SectionResult, error) {
	partIndex := target.Target.PartIndex
	vp, ok := ctx.resolveVoicePart(target.Target)
	if !ok {
		return nil, nil, newActionRequired("target_voice_part_not_found", "target voice part not found")
	}

	working := append([]Note(nil), selectTargetNativeNotes(ctx, target)...)
	var results []SectionResult

	for _, s := range target.Sections {
		r := s.Range()
		switch s.Mode {
		case ModeRest:
			working = dropNotesInRange(working, r)
			working = append(working, synthesizeRestsForGap(ctx.Score.Parts[partIndex], r, vp.SourceVoiceID)...)
			results = append(results, SectionResult{SectionMode: ModeRest, StartMeasure: s.StartMeasure, EndMeasure: s.EndMeasure})
		case ModeDerive:
			derived, sr, err := executeDeriveSection(ctx, target, vp, s)
			if err != nil {
				return nil, results, err
			}
			working = dropNotesInRange(working, r)
			working = append(working, derived...)
			results = append(results, sr)
		}
	}

	sortNotesByOnset(working)
	working = enforceMonophony(working, vp.VoicePartID)

	return working, results, nil
}

func dropNotesInRange(notes []Note, r MeasureRange) []Note {
	var out []Note
	for _, n := range notes {
		if !r.Contains(n.MeasureNumber) {
			out = append(out, n)
		}
	}
	return out
}

// synthesizeRestsForGap emits one rest per active measure in the range
// covering the measure's source activity span (spec §4.5 step 3 "rest").
func synthesizeRestsForGap(part Part, r MeasureRange, voice string) []Note {
	byMeasure := map[int][]Note{}
	for _, n := range part.Notes {
		if r.Contains(n.MeasureNumber) {
			byMeasure[n.MeasureNumber] = append(byMeasure[n.MeasureNumber], n)
		}
	}
	var out []Note
	var measures []int
	for m := range byMeasure {
		measures = append(measures, m)
	}
	sort.Ints(measures)
	for _, m := range measures {
		notes := byMeasure[m]
		minOffset, maxEnd := notes[0].OffsetBeats, notes[0].EndBeats()
		for _, n := range notes[1:] {
			if n.OffsetBeats < minOffset {
				minOffset = n.OffsetBeats
			}
			if n.EndBeats() > maxEnd {
				maxEnd = n.EndBeats()
			}
		}
		out = append(out, Note{
			OffsetBeats:   minOffset,
			DurationBeats: maxEnd - minOffset,
			IsRest:        true,
			Voice:         voice,
			MeasureNumber: m,
		})
	}
	return out
}

// executeDeriveSection applies melody derivation then lyric derivation for
// one derive-mode section (spec §4.5a, §4.5b).
func executeDeriveSection(ctx *ExecutionContext, target Target, vp VoicePart, s Section) ([]Note, SectionResult, error) {
	r := s.Range()
	result := SectionResult{SectionMode: ModeDerive, DecisionType: s.DecisionType, Method: s.Method, StartMeasure: s.StartMeasure, EndMeasure: s.EndMeasure}

	var melodyNotes []Note
	if s.MelodySource != nil {
		sourceNotes := notesInRange(ctx.sourceNotes(*s.MelodySource), r)
		switch s.DecisionType {
		case DecisionSplitChordsSelectNotes:
			siblingCount, targetRank := splitSiblingContext(ctx, target, *s.MelodySource)
			preferHigh := preferHighForVoicePart(vp.VoicePartID)
			melodyNotes = SplitChords(sourceNotes, s.Method, s.RankIndex, s.RankFallback, siblingCount, targetRank, preferHigh, vp.SourceVoiceID)
		case DecisionInsertRests:
			melodyNotes = restsOnly(sourceNotes, vp.SourceVoiceID)
		case DecisionDropNotesIfNeeded:
			melodyNotes = nil
		default: // EXTRACT_FROM_VOICE, COPY_UNISON_SECTION
			for _, n := range sourceNotes {
				melodyNotes = append(melodyNotes, reVoiceStripLyrics(n, vp.SourceVoiceID))
			}
		}
	} else {
		// lyric_source without melody_source: the target lane must already
		// carry native notes in range (spec §4.5b).
		native := notesInRange(selectTargetNativeNotes(ctx, target), r)
		if len(native) == 0 {
			return nil, result, newActionRequired("lyric_source_without_target_notes", "lyric_source supplied without melody_source and target has no native notes in range")
		}
		melodyNotes = native
	}
	result.CopiedNoteCount = countNonRest(melodyNotes)

	if s.LyricSource != nil {
		sourceNotes := ctx.sourceNotes(*s.LyricSource)
		timeline := BuildSourceTimeline(notesInRange(sourceNotes, r), ctx.VerseNumber, ctx.CopyAllVerses)
		prop := PropagateLyrics(melodyNotes, timeline, s.LyricStrategy, s.LyricPolicy)
		result.CopiedLyricCount = prop.CopiedLyricCount
		result.CopiedWordLyricCount = prop.CopiedWordLyricCount
		result.CopiedExtensionLyricCount = prop.CopiedExtensionLyricCount
		result.SourceLyricCandidatesCount = len(timeline)
		result.MappedSourceLyricsCount = prop.MappedSourceLyricsCount
		result.DroppedSourceLyrics = prop.DroppedSourceLyrics
		result.DroppedSourceLyricsCount = len(prop.DroppedSourceLyrics)

		if prop.SourceHadWords && prop.TargetHasOnlyExtensions {
			return nil, result, newActionRequired("section_lyric_quality_failed", "source had word lyrics but the derived section ended up with only extension lyrics")
		}
	}

	for _, n := range melodyNotes {
		if !n.IsRest && !n.HasLyric() {
			result.MissingLyricSungNoteCount++
		}
	}

	return melodyNotes, result, nil
}

// ExecuteLegacyActions runs the pre-sections action list for one target: an
// Action carries no explicit measure range, so each action is applied
// across the target's whole sung span in order, melody first then lyrics
// (spec §3 "Action is equivalent to a single section spanning the target's
// whole native range").
func ExecuteLegacyActions(ctx *ExecutionContext, target Target) ([]Note, []SectionResult, error) {
	vp, ok := ctx.resolveVoicePart(target.Target)
	if !ok {
		return nil, nil, newActionRequired("target_voice_part_not_found", "target voice part not found")
	}
	span := ctx.Analyses[target.Target.PartIndex].Span

	working := append([]Note(nil), selectTargetNativeNotes(ctx, target)...)
	var results []SectionResult

	for _, a := range target.Actions {
		result := SectionResult{SectionMode: ModeDerive, StartMeasure: span.Start, EndMeasure: span.End}

		if a.MelodySource != nil {
			sourceNotes := notesInRange(ctx.sourceNotes(*a.MelodySource), span)
			var melody []Note
			for _, n := range sourceNotes {
				melody = append(melody, reVoiceStripLyrics(n, vp.SourceVoiceID))
			}
			working = dropNotesInRange(working, span)
			working = append(working, melody...)
			result.DecisionType = DecisionExtractFromVoice
			result.CopiedNoteCount = countNonRest(melody)
		}

		if a.LyricSource != nil {
			strategy := a.LyricStrategy
			if strategy == "" {
				strategy = StrategyStrictOnset
			}
			policy := a.LyricPolicy
			if policy == "" {
				policy = PolicyFillMissingOnly
			}
			sourceNotes := notesInRange(ctx.sourceNotes(*a.LyricSource), span)
			timeline := BuildSourceTimeline(sourceNotes, ctx.VerseNumber, ctx.CopyAllVerses)
			prop := PropagateLyrics(working, timeline, strategy, policy)
			result.CopiedLyricCount = prop.CopiedLyricCount
			result.CopiedWordLyricCount = prop.CopiedWordLyricCount
			result.CopiedExtensionLyricCount = prop.CopiedExtensionLyricCount
			result.SourceLyricCandidatesCount = len(timeline)
			result.MappedSourceLyricsCount = prop.MappedSourceLyricsCount
			result.DroppedSourceLyrics = prop.DroppedSourceLyrics
			result.DroppedSourceLyricsCount = len(prop.DroppedSourceLyrics)
		}

		results = append(results, result)
	}

	sortNotesByOnset(working)
	working = enforceMonophony(working, vp.VoicePartID)
	return working, results, nil
}

func countNonRest(notes []Note) int {
	count := 0
	for _, n := range notes {
		if !n.IsRest {
			count++
		}
	}
	return count
}

func restsOnly(notes []Note, voice string) []Note {
	var out []Note
	for _, n := range notes {
		if n.IsRest {
			out = append(out, reVoiceStripLyrics(n, voice))
		}
	}
	return out
}

// splitSiblingContext resolves the sibling chord-density count and the
// target's rank among siblings of the melody source's owning part, used by
// method=trivial (spec §4.5d).
func splitSiblingContext(ctx *ExecutionContext, target Target, melodySource VoiceRef) (siblingCount int, targetRank int) {
	analysis := ctx.Analyses[melodySource.PartIndex]
	siblingCount = len(analysis.VoiceParts)
	if vp, ok := ctx.resolveVoicePart(target.Target); ok {
		targetRank = vp.RankIndex
	}
	return siblingCount, targetRank
}

// enforceMonophony implements spec §4.5c: within each onset group, keep one
// note (prefer lyric-bearing, then pitch direction), then clip sustains so
// no note reaches the next onset.
func enforceMonophony(notes []Note, voicePartID string) []Note {
	preferHigh := preferHighForVoicePart(voicePartID)

	type group struct {
		onset float64
		notes []Note
	}
	var groups []group
	index := map[float64]int{}
	var rests []Note
	for _, n := range notes {
		if n.IsRest {
			rests = append(rests, n)
			continue
		}
		key := OnsetKey(n.OffsetBeats)
		if i, ok := index[key]; ok {
			groups[i].notes = append(groups[i].notes, n)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, group{onset: key, notes: []Note{n}})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].onset < groups[j].onset })

	kept := make([]Note, 0, len(groups))
	for _, g := range groups {
		kept = append(kept, pickMonophonicWinner(g.notes, preferHigh))
	}

	for i := range kept {
		if i+1 < len(kept) {
			nextOnset := kept[i+1].OffsetBeats
			if kept[i].EndBeats() > nextOnset {
				kept[i].DurationBeats = nextOnset - kept[i].OffsetBeats
			}
		}
	}

	var out []Note
	for _, n := range kept {
		if n.DurationBeats > 0 {
			out = append(out, n)
		}
	}
	out = append(out, rests...)
	sortNotesByOnset(out)
	return out
}

func pickMonophonicWinner(candidates []Note, preferHigh bool) Note {
	if len(candidates) == 1 {
		return candidates[0]
	}
	var lyricBearing []Note
	for _, n := range candidates {
		if n.HasLyric() {
			lyricBearing = append(lyricBearing, n)
		}
	}
	pool := candidates
	if len(lyricBearing) > 0 {
		pool = lyricBearing
	}
	if preferHigh {
		return sortDescByPitch(pool)[0]
	}
	return sortAscByPitch(pool)[0]
}
