package voiceparts

// Lint applies the 14 named rules against the plan and the analyzed score,
// returning every finding (never short-circuiting) so the caller receives
// the full diagnostic set (spec §4.3).
func Lint(score *Score, plan *Plan, analyses []PartAnalysis) []LintFinding {
	var findings []LintFinding

	findings = append(findings, lintSamePartTargetCompletenessAll(analyses, plan)...)

	for ti, target := range plan.Targets {
		findings = append(findings, lintPlanRequiresSections(score, analyses, ti, target)...)
		findings = append(findings, lintMixedRegionRequiresSections(analyses, ti, target)...)
		if len(target.Sections) > 0 {
			findings = append(findings, lintSectionsContiguous(analyses, ti, target)...)
		}
		findings = append(findings, lintTrivialMethodChordDensity(score, analyses, plan, ti, target)...)
		findings = append(findings, lintCrossStaffMelody(score, analyses, ti, target)...)
		findings = append(findings, lintCrossStaffLyric(score, analyses, ti, target)...)
		findings = append(findings, lintLyricSourceQuality(score, analyses, ti, target)...)
		findings = append(findings, lintLyricSourceWithoutTargetNotes(score, analyses, ti, target)...)
		findings = append(findings, lintNoRestOverNativeNotes(score, analyses, ti, target)...)
	}

	findings = append(findings, lintSameClefClaimCoverage(score, analyses, plan)...)

	return findings
}

func finding(code string, targetIndex, sectionIndex int, attrs map[string]any) LintFinding {
	spec := LintRuleSpecs[code]
	return LintFinding{
		Code:              spec.Code,
		Name:              spec.Name,
		Message:           spec.MessageTemplate,
		Severity:          spec.Severity,
		TargetIndex:       targetIndex,
		SectionIndex:      sectionIndex,
		FailingAttributes: attrs,
	}
}

func lintPlanRequiresSections(score *Score, analyses []PartAnalysis, ti int, target Target) []LintFinding {
	if len(target.Sections) > 0 {
		return nil
	}
	partIndex := target.Target.PartIndex
	if partIndex < 0 || partIndex >= len(analyses) {
		return nil
	}
	for _, ranges := range analyses[partIndex].Regions {
		for _, r := range ranges {
			if r.Status == RegionNeedsSplit {
				return []LintFinding{finding("plan_requires_sections", ti, -1, map[string]any{"part_index": partIndex})}
			}
		}
	}
	return nil
}

func lintMixedRegionRequiresSections(analyses []PartAnalysis, ti int, target Target) []LintFinding {
	if len(target.Sections) > 0 {
		return nil
	}
	partIndex := target.Target.PartIndex
	if partIndex < 0 || partIndex >= len(analyses) {
		return nil
	}
	ranges, ok := analyses[partIndex].Regions[target.Target.VoicePartID]
	if !ok {
		return nil
	}
	hasResolved, hasUnassigned := false, false
	var statuses []string
	for _, r := range ranges {
		if r.Status == RegionResolved {
			hasResolved = true
		}
		if r.Status == RegionUnassignedSource {
			hasUnassigned = true
		}
		statuses = append(statuses, string(r.Status))
	}
	if hasResolved && hasUnassigned {
		return []LintFinding{finding("mixed_region_requires_sections", ti, -1, map[string]any{"region_statuses": statuses})}
	}
	return nil
}

func lintSectionsContiguous(analyses []PartAnalysis, ti int, target Target) []LintFinding {
	partIndex := target.Target.PartIndex
	if partIndex < 0 || partIndex >= len(analyses) {
		return nil
	}
	span := analyses[partIndex].Span
	if err := checkContiguous(target.Sections, span); err != nil {
		return []LintFinding{finding("section_timeline_contiguous_no_gaps", ti, -1, nil)}
	}
	return nil
}

// maxSimultaneousNoteCount returns the largest onset group size among all
// non-rest notes (any voice) in the part within the measure range.
func maxSimultaneousNoteCount(part Part, r MeasureRange) int {
	groups := map[float64]int{}
	for _, n := range part.Notes {
		if n.IsRest || !r.Contains(n.MeasureNumber) {
			continue
		}
		groups[OnsetKey(n.OffsetBeats)]++
	}
	max := 0
	for _, c := range groups {
		if c > max {
			max = c
		}
	}
	return max
}

func countTrivialSplitLanesForSection(plan *Plan, partIndex int, r MeasureRange) int {
	count := 0
	for _, t := range plan.Targets {
		if t.Target.PartIndex != partIndex {
			continue
		}
		for _, s := range t.Sections {
			if s.Mode != ModeDerive || s.DecisionType != DecisionSplitChordsSelectNotes {
				continue
			}
			if s.Range() == r {
				count++
			}
		}
	}
	return count
}

func lintTrivialMethodChordDensity(score *Score, analyses []PartAnalysis, plan *Plan, ti int, target Target) []LintFinding {
	var out []LintFinding
	partIndex := target.Target.PartIndex
	if partIndex < 0 || partIndex >= len(score.Parts) {
		return nil
	}
	for si, s := range target.Sections {
		if s.Mode != ModeDerive || s.DecisionType != DecisionSplitChordsSelectNotes || s.Method != MethodTrivial {
			continue
		}
		maxCount := maxSimultaneousNoteCount(score.Parts[partIndex], s.Range())
		laneCount := countTrivialSplitLanesForSection(plan, partIndex, s.Range())
		if maxCount != laneCount {
			out = append(out, finding("trivial_method_requires_equal_chord_voice_part_count", ti, si, map[string]any{
				"expected_simultaneous_note_count": maxCount,
				"target_lane_count":                laneCount,
			}))
		}
	}
	return out
}

func targetNativeSungNotes(score *Score, analyses []PartAnalysis, target Target, r MeasureRange) []Note {
	partIndex := target.Target.PartIndex
	if partIndex < 0 || partIndex >= len(score.Parts) {
		return nil
	}
	vp, ok := analyses[partIndex].FindVoicePart(target.Target.VoicePartID)
	if !ok {
		return nil
	}
	return notesForVoiceInRange(score.Parts[partIndex], vp.SourceVoiceID, r)
}

func lintCrossStaffMelody(score *Score, analyses []PartAnalysis, ti int, target Target) []LintFinding {
	var out []LintFinding
	for si, s := range target.Sections {
		if s.Mode != ModeDerive || s.MelodySource == nil {
			continue
		}
		if s.MelodySource.PartIndex == target.Target.PartIndex {
			continue
		}
		if len(targetNativeSungNotes(score, analyses, target, s.Range())) > 0 {
			out = append(out, finding("cross_staff_melody_source_when_local_available", ti, si, map[string]any{
				"melody_source": s.MelodySource,
			}))
		}
	}
	return out
}

func lintCrossStaffLyric(score *Score, analyses []PartAnalysis, ti int, target Target) []LintFinding {
	var out []LintFinding
	partIndex := target.Target.PartIndex
	for si, s := range target.Sections {
		if s.Mode != ModeDerive || s.LyricSource == nil {
			continue
		}
		if s.LyricSource.PartIndex == partIndex {
			continue
		}
		localStats, ok := voicePartCoverageInRange(score, analyses, partIndex, target.Target.VoicePartID, s.Range())
		if !ok || localStats.WordLyricNoteCount == 0 {
			continue
		}
		out = append(out, finding("cross_staff_lyric_source_when_local_available", ti, si, map[string]any{
			"lyric_source": s.LyricSource,
		}))

		// Registry-authoritative emission of the "stronger alternative"
		// variant from the same site (spec §9 open question).
		if partIndex >= 0 && partIndex < len(analyses) {
			best, bestStats, found := bestSameStaffWordLyricAlternative(score, analyses, partIndex, target.Target.VoicePartID, s.Range())
			if found && bestStats.WordLyricCoverageRatio > localStats.WordLyricCoverageRatio {
				out = append(out, finding("cross_staff_lyric_source_with_stronger_local_alternative", ti, si, map[string]any{
					"suggested_lyric_source": VoiceRef{PartIndex: partIndex, VoicePartID: best.VoicePartID},
				}))
			}
		}
	}
	return out
}

// bestSameStaffWordLyricAlternative finds the same-part sibling (excluding
// the voice-part itself) with the highest word-lyric coverage ratio in the
// given range, used by several lyric-quality rules.
func bestSameStaffWordLyricAlternative(score *Score, analyses []PartAnalysis, partIndex int, excludeVoicePartID string, r MeasureRange) (VoicePart, CoverageStats, bool) {
	var best VoicePart
	var bestStats CoverageStats
	found := false
	for _, vp := range analyses[partIndex].VoiceParts {
		if vp.VoicePartID == excludeVoicePartID {
			continue
		}
		notes := notesForVoiceInRange(score.Parts[partIndex], vp.SourceVoiceID, r)
		stats := computeCoverageStats(notes)
		if stats.WordLyricNoteCount == 0 {
			continue
		}
		if !found || stats.WordLyricCoverageRatio > bestStats.WordLyricCoverageRatio {
			best, bestStats, found = vp, stats, true
		}
	}
	return best, bestStats, found
}

func lintLyricSourceQuality(score *Score, analyses []PartAnalysis, ti int, target Target) []LintFinding {
	var out []LintFinding
	partIndex := target.Target.PartIndex
	if partIndex < 0 || partIndex >= len(score.Parts) {
		return nil
	}
	for si, s := range target.Sections {
		if s.Mode != ModeDerive || s.LyricSource == nil || s.LyricSource.PartIndex != partIndex {
			continue
		}
		stats, ok := voicePartCoverageInRange(score, analyses, partIndex, s.LyricSource.VoicePartID, s.Range())
		if !ok {
			continue
		}
		best, bestStats, found := bestSameStaffWordLyricAlternative(score, analyses, partIndex, s.LyricSource.VoicePartID, s.Range())
		if !found {
			continue
		}

		switch {
		case stats.WordLyricNoteCount == 0 && stats.ExtensionLyricNoteCount > 0:
			out = append(out, finding("extension_only_lyric_source_with_word_alternative", ti, si, map[string]any{
				"suggested_lyric_source": VoiceRef{PartIndex: partIndex, VoicePartID: best.VoicePartID},
			}))
		case stats.SungNoteCount == 0 || (stats.WordLyricNoteCount == 0 && stats.ExtensionLyricNoteCount == 0):
			out = append(out, finding("empty_lyric_source_with_word_alternative", ti, si, map[string]any{
				"suggested_lyric_source": VoiceRef{PartIndex: partIndex, VoicePartID: best.VoicePartID},
			}))
		case stats.WordLyricCoverageRatio < weakLyricSourceMaxWordRatio() &&
			bestStats.WordLyricCoverageRatio >= stats.WordLyricCoverageRatio+weakLyricSourceMinRatioDelta() &&
			bestStats.WordLyricNoteCount >= stats.WordLyricNoteCount+weakLyricSourceMinWordDelta():
			out = append(out, finding("weak_lyric_source_with_better_alternative", ti, si, map[string]any{
				"suggested_lyric_source": VoiceRef{PartIndex: partIndex, VoicePartID: best.VoicePartID},
			}))
		}
	}
	return out
}

func lintLyricSourceWithoutTargetNotes(score *Score, analyses []PartAnalysis, ti int, target Target) []LintFinding {
	var out []LintFinding
	for si, s := range target.Sections {
		if s.Mode != ModeDerive || s.LyricSource == nil || s.MelodySource != nil {
			continue
		}
		if len(targetNativeSungNotes(score, analyses, target, s.Range())) == 0 {
			out = append(out, finding("lyric_source_without_target_notes", ti, si, map[string]any{
				"native_sung_measure_overlap": false,
			}))
		}
	}
	return out
}

func lintNoRestOverNativeNotes(score *Score, analyses []PartAnalysis, ti int, target Target) []LintFinding {
	var out []LintFinding
	for si, s := range target.Sections {
		if s.Mode != ModeRest {
			continue
		}
		if len(targetNativeSungNotes(score, analyses, target, s.Range())) > 0 {
			out = append(out, finding("no_rest_when_target_has_native_notes", ti, si, nil))
		}
	}
	return out
}

func lintSameClefClaimCoverage(score *Score, analyses []PartAnalysis, plan *Plan) []LintFinding {
	var out []LintFinding
	targetsByPart := map[int][]int{}
	for ti, t := range plan.Targets {
		if len(t.Sections) == 0 {
			continue
		}
		targetsByPart[t.Target.PartIndex] = append(targetsByPart[t.Target.PartIndex], ti)
	}
	for partIndex, targetIdxs := range targetsByPart {
		if partIndex < 0 || partIndex >= len(score.Parts) {
			continue
		}
		sungMeasures := map[int]bool{}
		for _, n := range score.Parts[partIndex].Notes {
			if !n.IsRest {
				sungMeasures[n.MeasureNumber] = true
			}
		}
		claimed := map[int]bool{}
		for _, ti := range targetIdxs {
			for _, s := range plan.Targets[ti].Sections {
				if s.Mode != ModeDerive {
					continue
				}
				for m := s.StartMeasure; m <= s.EndMeasure; m++ {
					claimed[m] = true
				}
			}
		}
		missing := false
		for m := range sungMeasures {
			if !claimed[m] {
				missing = true
				break
			}
		}
		if missing {
			out = append(out, finding("same_clef_claim_coverage", targetIdxs[0], -1, map[string]any{"part_index": partIndex}))
		}
	}
	return out
}

// lintSamePartTargetCompletenessAll runs once, globally, across every
// target before any other rule — matching the original's preflight lint,
// which checks same-part target completeness first and independently of
// any single target's sections. Legacy action-only targets (no Sections)
// are exempt, since the original's check only applies to the
// sections-based planning path.
func lintSamePartTargetCompletenessAll(analyses []PartAnalysis, plan *Plan) []LintFinding {
	var out []LintFinding
	targeted := map[int]map[string]bool{}
	for _, t := range plan.Targets {
		if targeted[t.Target.PartIndex] == nil {
			targeted[t.Target.PartIndex] = map[string]bool{}
		}
		targeted[t.Target.PartIndex][t.Target.VoicePartID] = true
	}

	for ti, target := range plan.Targets {
		if len(target.Sections) == 0 {
			continue
		}
		partIndex := target.Target.PartIndex
		if partIndex < 0 || partIndex >= len(analyses) {
			continue
		}
		vp, ok := analyses[partIndex].FindVoicePart(target.Target.VoicePartID)
		if !ok || vp.SourceVoiceID == DefaultVoice {
			continue
		}
		for _, sib := range analyses[partIndex].NonDefaultSiblings(target.Target.VoicePartID) {
			if !targeted[partIndex][sib.VoicePartID] {
				out = append(out, finding("same_part_target_completeness", ti, -1, map[string]any{"missing_sibling": sib.VoicePartID}))
				break
			}
		}
	}
	return out
}
