package voiceparts

import "sort"

// PreprocessOptions bundles the public preprocess_voice_parts parameters
// (spec §6).
type PreprocessOptions struct {
	Plan          RawPlan
	VerseNumber   string
	CopyAllVerses bool
}

// PreprocessResult is the success-shape envelope returned by
// PreprocessVoiceParts (spec §6).
type PreprocessResult struct {
	Status               string
	Score                *Score
	PartIndex            int
	TransformID           string
	ScoreFingerprint      string
	TransformHash         string
	AppendedPartRef       AppendedPartRef
	ModifiedMusicXMLPath  string
	ReusedTransform         bool
	HiddenDefaultLane       bool
	Warnings                []string
	Validation              *LyricCoverageValidation
	Metadata                PreprocessMetadata
}

// PreprocessMetadata is the result's metadata block (spec §6).
type PreprocessMetadata struct {
	PlanApplied              bool
	PlanMode                 string
	SectionCount             int
	SplitSharedNotePolicy    SharedNotePolicy
	SectionResults           []SectionResult
	GeneratedSamePartVoiceParts []string
	RepairLoop               *RepairLoopMetadata
}

// RepairLoopMetadata records why and how the repair loop engaged (spec §6,
// §4.8).
type RepairLoopMetadata struct {
	Reason   string
	Attempts []RepairAttempt
}

// PreprocessVoiceParts runs the full pipeline (Parse → Lint → Execute →
// Sibling Generate → Materialize) for one or more targets against a deep
// copy of score (spec §2, §6). It never mutates the caller's score.
func PreprocessVoiceParts(score *Score, opts PreprocessOptions) (*PreprocessResult, error) {
	working := score.Clone()

	if len(working.Parts) == 0 {
		return nil, newActionRequired("missing_score_parts", "score has no parts")
	}

	analyses := analyzeAllParts(working)

	plan, err := ParsePlan(opts.Plan, analyses)
	if err != nil {
		return nil, err
	}

	findings := Lint(working, plan, analyses)
	if len(findings) > 0 {
		return nil, newActionRequired("plan_lint_failed", "plan failed preflight lint", map[string]any{"lint_findings": findings})
	}

	ctx := &ExecutionContext{Score: working, Analyses: analyses, VerseNumber: opts.VerseNumber, CopyAllVerses: opts.CopyAllVerses}

	var allSectionResults []SectionResult
	var generatedSiblings []string
	var repairMeta *RepairLoopMetadata
	var lastMaterialize *MaterializeResult
	var validation *LyricCoverageValidation
	var lastSharedNotePolicy SharedNotePolicy

	explicitlyTargeted := map[int]map[string]bool{}
	for _, t := range plan.Targets {
		if explicitlyTargeted[t.Target.PartIndex] == nil {
			explicitlyTargeted[t.Target.PartIndex] = map[string]bool{}
		}
		explicitlyTargeted[t.Target.PartIndex][t.Target.VoicePartID] = true
	}

	for _, target := range plan.Targets {
		vp, ok := ctx.resolveVoicePart(target.Target)
		if !ok {
			return nil, newActionRequired("target_voice_part_not_found", "target voice part not found")
		}

		var derived []Note
		var sectionResults []SectionResult
		var err error
		if len(target.Sections) > 0 {
			derived, sectionResults, err = ExecuteTimeline(ctx, target)
		} else {
			derived, sectionResults, err = ExecuteLegacyActions(ctx, target)
		}
		if err != nil {
			return nil, err
		}

		structural := ValidateStructural(derived)
		if structural.HardFail {
			if repairLoopEnabled() && len(target.Sections) > 0 {
				preferHigh := preferHighForVoicePart(vp.VoicePartID)
				failingRanges := collapseMeasureRanges(structural.UnresolvedMeasures)
				repaired := RepairSectionsForStructuralFailure(target, failingRanges, preferHigh)
				derived, sectionResults, err = ExecuteTimeline(ctx, repaired)
				if err != nil {
					return nil, err
				}
				structural = ValidateStructural(derived)
				if structural.HardFail {
					return nil, withContext(newActionRequired("structural_validation_failed", "derived notes failed structural validation after repair"), map[string]any{"section_results": sectionResults})
				}
				repairMeta = &RepairLoopMetadata{Reason: "structural_validation_failed"}
			} else {
				return nil, withContext(newActionRequired("structural_validation_failed", "derived notes failed structural validation"), map[string]any{"section_results": sectionResults})
			}
		}

		sourceHadWords, timeline := sectionLyricSourceSignal(ctx, target)
		v := ValidateLyricCoverage(derived, 0, sourceHadWords, timeline, len(target.Sections) > 0)
		if v.Status == statusFail && repairLoopEnabled() && len(target.Actions) > 0 {
			initialStrategy := StrategyStrictOnset
			if len(target.Actions) > 0 && target.Actions[0].LyricStrategy != "" {
				initialStrategy = target.Actions[0].LyricStrategy
			}
			attempts, retried, repairErr := RepairLegacyActionForCoverageFailure(initialStrategy, func(strategy LyricStrategy) (LyricCoverageValidation, error) {
				retriedTarget := target
				retriedTarget.Actions = make([]Action, len(target.Actions))
				copy(retriedTarget.Actions, target.Actions)
				for i := range retriedTarget.Actions {
					if retriedTarget.Actions[i].LyricSource != nil {
						retriedTarget.Actions[i].LyricStrategy = strategy
					}
				}
				retriedNotes, _, execErr := ExecuteLegacyActions(ctx, retriedTarget)
				if execErr != nil {
					return LyricCoverageValidation{}, execErr
				}
				derived = retriedNotes
				sourceHadWords, timeline := sectionLyricSourceSignal(ctx, retriedTarget)
				return ValidateLyricCoverage(derived, 0, sourceHadWords, timeline, false), nil
			})
			if repairErr != nil {
				return nil, repairErr
			}
			v = retried
			if v.Status == statusFail {
				return nil, withContext(newActionRequired(v.FailureCode, "lyric coverage validation failed after repair"), map[string]any{"repair_attempts": attempts, "validation": v})
			}
			repairMeta = &RepairLoopMetadata{Reason: "lyric_coverage_failed", Attempts: attempts}
		} else if v.Status == statusFail {
			return nil, withContext(newActionRequired(v.FailureCode, "lyric coverage validation failed"), map[string]any{"section_results": sectionResults, "validation": v})
		}
		validation = &v

		mr, err := Materialize(MaterializeInput{
			Score:             working,
			PartIndex:         target.Target.PartIndex,
			TargetVoicePartID: target.Target.VoicePartID,
			SourceVoicePartID: vp.SourceVoiceID,
			SourcePartIndex:   target.Target.PartIndex,
			Propagated:        target.hasLyricPropagation(),
			DerivedNotes:      derived,
			HiddenDefaultLane: vp.SourceVoiceID == DefaultVoice,
		})
		if err != nil {
			return nil, err
		}
		lastMaterialize = mr
		lastSharedNotePolicy = target.SharedNotePolicy
		allSectionResults = append(allSectionResults, sectionResults...)

		for _, sib := range GenerateSiblings(ctx, target.Target.PartIndex, explicitlyTargeted[target.Target.PartIndex]) {
			explicitlyTargeted[target.Target.PartIndex][sib.VoicePartID] = true
			sibMr, err := Materialize(MaterializeInput{
				Score:             working,
				PartIndex:         target.Target.PartIndex,
				TargetVoicePartID: sib.VoicePartID,
				SourceVoicePartID: sib.VoicePartID,
				SourcePartIndex:   target.Target.PartIndex,
				DerivedNotes:      sib.Notes,
			})
			if err == nil {
				generatedSiblings = append(generatedSiblings, sibMr.AppendedPartRef.PartID)
			}
		}
	}

	status := statusReady
	var warnings []string
	if validation != nil && validation.Status == statusReadyWithWarnings {
		status = statusReadyWithWarnings
		warnings = append(warnings, validation.FailureCode)
	}

	result := &PreprocessResult{
		Status:   status,
		Score:    working,
		Warnings: warnings,
		Validation: validation,
		Metadata: PreprocessMetadata{
			PlanApplied:                 true,
			PlanMode:                    "timeline_sections",
			SectionCount:                len(allSectionResults),
			SplitSharedNotePolicy:       lastSharedNotePolicy,
			SectionResults:              allSectionResults,
			GeneratedSamePartVoiceParts: generatedSiblings,
			RepairLoop:                  repairMeta,
		},
	}
	if lastMaterialize != nil {
		result.PartIndex = lastMaterialize.PartIndex
		result.TransformID = lastMaterialize.TransformID
		result.ScoreFingerprint = lastMaterialize.ScoreFingerprint
		result.TransformHash = lastMaterialize.TransformHash
		result.AppendedPartRef = lastMaterialize.AppendedPartRef
		result.ModifiedMusicXMLPath = lastMaterialize.ModifiedMusicXMLPath
		result.ReusedTransform = lastMaterialize.ReusedTransform
		result.HiddenDefaultLane = lastMaterialize.HiddenDefaultLane
	}
	return result, nil
}

func (t Target) hasLyricPropagation() bool {
	for _, s := range t.Sections {
		if s.LyricSource != nil {
			return true
		}
	}
	for _, a := range t.Actions {
		if a.LyricSource != nil {
			return true
		}
	}
	return false
}

func sectionLyricSourceSignal(ctx *ExecutionContext, target Target) (bool, []SourceLyricEntry) {
	var refs []VoiceRef
	var ranges []MeasureRange
	if len(target.Sections) > 0 {
		for _, s := range target.Sections {
			if s.LyricSource != nil {
				refs = append(refs, *s.LyricSource)
				ranges = append(ranges, s.Range())
			}
		}
	} else {
		span := ctx.Analyses[target.Target.PartIndex].Span
		for _, a := range target.Actions {
			if a.LyricSource != nil {
				refs = append(refs, *a.LyricSource)
				ranges = append(ranges, span)
			}
		}
	}

	var timeline []SourceLyricEntry
	hadWords := false
	for i, ref := range refs {
		notes := notesInRange(ctx.sourceNotes(ref), ranges[i])
		entries := BuildSourceTimeline(notes, ctx.VerseNumber, ctx.CopyAllVerses)
		timeline = append(timeline, entries...)
		for _, e := range entries {
			if e.Note.Classify() == LyricWord {
				hadWords = true
			}
		}
	}
	return hadWords, timeline
}

func analyzeAllParts(score *Score) []PartAnalysis {
	out := make([]PartAnalysis, len(score.Parts))
	for i, p := range score.Parts {
		out[i] = AnalyzePart(p, i)
	}
	return out
}

// AnalyzeScoreResult is the Analyze API's return shape (spec §6).
type AnalyzeScoreResult struct {
	Parts                []PartAnalysis
	SourceCandidateHints []SourceCandidateHint
	MeasureLyricCoverage []MeasureLyricCoverage
}

// SourceCandidateHint ranks alternative sources for a target by a blended
// onset-overlap/lyric-density score (spec §6).
type SourceCandidateHint struct {
	TargetPartIndex   int
	TargetVoicePartID string
	Candidates        []ScoredCandidate
}

// ScoredCandidate is one ranked alternative source.
type ScoredCandidate struct {
	PartIndex   int
	VoicePartID string
	Score       float64
}

// MeasureLyricCoverage reports per-measure lyric coverage for a part +
// voice-part (spec §6).
type MeasureLyricCoverage struct {
	PartIndex     int
	VoicePartID   string
	MeasureNumber int
	HasLyric      bool
}

// AnalyzeScoreVoiceParts runs the Score Analyzer over every part and adds
// the cross-part hints the Analyze API promises (spec §6).
func AnalyzeScoreVoiceParts(score *Score, verseNumber string) AnalyzeScoreResult {
	analyses := analyzeAllParts(score)

	var hints []SourceCandidateHint
	var coverage []MeasureLyricCoverage

	for pi, analysis := range analyses {
		for _, vp := range analysis.VoiceParts {
			notes := selectVoiceNotes(score.Parts[pi], vp.SourceVoiceID)
			for _, n := range notes {
				if n.IsRest {
					continue
				}
				coverage = append(coverage, MeasureLyricCoverage{
					PartIndex:     pi,
					VoicePartID:   vp.VoicePartID,
					MeasureNumber: n.MeasureNumber,
					HasLyric:      n.HasLyric(),
				})
			}

			var candidates []ScoredCandidate
			for opi, other := range analyses {
				for _, ovp := range other.VoiceParts {
					if opi == pi && ovp.VoicePartID == vp.VoicePartID {
						continue
					}
					candidateNotes := selectVoiceNotes(score.Parts[opi], ovp.SourceVoiceID)
					candidateScore := scoreSourceCandidate(notes, candidateNotes)
					candidates = append(candidates, ScoredCandidate{PartIndex: opi, VoicePartID: ovp.VoicePartID, Score: candidateScore})
				}
			}
			sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
			hints = append(hints, SourceCandidateHint{TargetPartIndex: pi, TargetVoicePartID: vp.VoicePartID, Candidates: candidates})
		}
	}

	return AnalyzeScoreResult{Parts: analyses, SourceCandidateHints: hints, MeasureLyricCoverage: coverage}
}

func scoreSourceCandidate(targetNotes, candidateNotes []Note) float64 {
	overlap := onsetOverlapRatio(targetNotes, candidateNotes)
	density := lyricDensity(candidateNotes)
	return 0.7*overlap + 0.3*density
}

func onsetOverlapRatio(a, b []Note) float64 {
	onsetsB := map[float64]bool{}
	for _, n := range b {
		if !n.IsRest {
			onsetsB[OnsetKey(n.OffsetBeats)] = true
		}
	}
	total, matched := 0, 0
	for _, n := range a {
		if n.IsRest {
			continue
		}
		total++
		if onsetsB[OnsetKey(n.OffsetBeats)] {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

func lyricDensity(notes []Note) float64 {
	sung, lyric := 0, 0
	for _, n := range notes {
		if n.IsRest {
			continue
		}
		sung++
		if n.HasLyric() {
			lyric++
		}
	}
	if sung == 0 {
		return 0
	}
	return float64(lyric) / float64(sung)
}

// SynthesizePreflightActionRequired returns nil when synthesizing
// partIndex directly (without a plan) is safe, else an action_required
// envelope explaining why a plan is needed (spec §6).
func SynthesizePreflightActionRequired(score *Score, partIndex int) *ActionRequiredError {
	if partIndex < 0 || partIndex >= len(score.Parts) {
		return newActionRequired("invalid_part_index", "part_index out of range")
	}
	analysis := AnalyzePart(score.Parts[partIndex], partIndex)

	diagnostics := map[string]any{}
	unsafe := false

	if len(analysis.VoiceParts) > 1 {
		diagnostics["multi_voice_detected"] = true
		unsafe = true
	}
	for _, vp := range analysis.VoiceParts {
		if vp.MissingLyrics > 0 {
			diagnostics["missing_lyrics_detected"] = true
			unsafe = true
			break
		}
	}
	for _, ranges := range analysis.Regions {
		for _, r := range ranges {
			if r.Status == RegionNeedsSplit || r.Status == RegionUnassignedSource {
				diagnostics["derived_target_heuristics_failed"] = true
				unsafe = true
			}
		}
	}

	if !unsafe {
		return nil
	}
	return withContext(newActionRequired("preprocessing_required", "score requires an explicit preprocess plan before synthesis"), map[string]any{"part_index": partIndex, "diagnostics": diagnostics})
}
