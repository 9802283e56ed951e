package voiceparts

import (
	"sort"
	"strconv"
)

// SectionMode is a section's rest/derive mode (spec §3).
type SectionMode string

const (
	ModeRest   SectionMode = "rest"
	ModeDerive SectionMode = "derive"
)

// DecisionType selects how a derive section's melody is produced (spec §3).
type DecisionType string

const (
	DecisionExtractFromVoice      DecisionType = "EXTRACT_FROM_VOICE"
	DecisionSplitChordsSelectNotes DecisionType = "SPLIT_CHORDS_SELECT_NOTES"
	DecisionCopyUnisonSection      DecisionType = "COPY_UNISON_SECTION"
	DecisionInsertRests            DecisionType = "INSERT_RESTS"
	DecisionDropNotesIfNeeded      DecisionType = "DROP_NOTES_IF_NEEDED"
)

// Method selects the chord-splitting algorithm (spec §4.5d). trivial/ranked
// are reachable from the public parser; A/B are internal-only and can only
// be constructed by the Repair Loop (spec §4.2 check 5, §9 "Method enums").
type Method string

const (
	MethodTrivial Method = "trivial"
	MethodRanked  Method = "ranked"
	methodA       Method = "A"
	methodB       Method = "B"
)

var publicMethods = map[Method]bool{MethodTrivial: true, MethodRanked: true}

// RankFallback controls what `method=ranked` does when a chord group is
// smaller than rank_index+1 demands (spec §4.5d).
type RankFallback string

const (
	RankFallbackGreedy RankFallback = "greedy"
	RankFallbackSkip   RankFallback = "skip"
)

// LyricStrategy selects how source lyric tokens map onto target notes
// (spec §4.5b).
type LyricStrategy string

const (
	StrategyStrictOnset      LyricStrategy = "strict_onset"
	StrategyOverlapBestMatch LyricStrategy = "overlap_best_match"
	StrategySyllableFlow     LyricStrategy = "syllable_flow"
)

// LyricPolicy controls which target notes lyric propagation is allowed to
// touch (spec §4.5b).
type LyricPolicy string

const (
	PolicyFillMissingOnly  LyricPolicy = "fill_missing_only"
	PolicyReplaceAll       LyricPolicy = "replace_all"
	PolicyPreserveExisting LyricPolicy = "preserve_existing"
)

// VoiceRef identifies a voice-part by its owning part and canonical id
// (spec §3).
type VoiceRef struct {
	PartIndex   int    `json:"part_index"`
	VoicePartID string `json:"voice_part_id"`
}

// Section is a contiguous measure range within a target with a derivation
// mode (spec §3).
type Section struct {
	StartMeasure  int           `json:"start_measure"`
	EndMeasure    int           `json:"end_measure"`
	Mode          SectionMode   `json:"mode"`
	DecisionType  DecisionType  `json:"decision_type,omitempty"`
	Method        Method        `json:"method,omitempty"`
	RankIndex     int           `json:"rank_index,omitempty"`
	RankFallback  RankFallback  `json:"rank_fallback,omitempty"`
	MelodySource  *VoiceRef     `json:"melody_source,omitempty"`
	LyricSource   *VoiceRef     `json:"lyric_source,omitempty"`
	LyricStrategy LyricStrategy `json:"lyric_strategy,omitempty"`
	LyricPolicy   LyricPolicy   `json:"lyric_policy,omitempty"`

	// splitSelector records the repair loop's preferred pitch direction
	// for a fabricated melody_source (spec §4.8).
	splitSelector string `json:"-"`
}

func (s Section) Range() MeasureRange {
	return MeasureRange{Start: s.StartMeasure, End: s.EndMeasure}
}

// SharedNotePolicy controls how notes shared between two same-onset siblings
// are assigned when selecting a target's native notes (spec §4.5 step 1).
type SharedNotePolicy string

const (
	SharedNoteDuplicateToAll   SharedNotePolicy = "duplicate_to_all"
	SharedNoteAssignPrimaryOnly SharedNotePolicy = "assign_primary_only"
)

// Action is the legacy (pre-sections) per-target derivation spec. It is
// equivalent to a single section spanning the target's whole native range.
type Action struct {
	MelodySource  *VoiceRef     `json:"melody_source,omitempty"`
	LyricSource   *VoiceRef     `json:"lyric_source,omitempty"`
	LyricStrategy LyricStrategy `json:"lyric_strategy,omitempty"`
	LyricPolicy   LyricPolicy   `json:"lyric_policy,omitempty"`
}

// Target pairs a target voice-part ref with either a sections timeline or
// (legacy) a list of actions (spec §3).
type Target struct {
	Target           VoiceRef         `json:"target"`
	Sections         []Section        `json:"sections,omitempty"`
	Actions          []Action         `json:"actions,omitempty"`
	SharedNotePolicy SharedNotePolicy `json:"shared_note_policy,omitempty"`
}

// Plan is an ordered sequence of targets (spec §3).
type Plan struct {
	Targets []Target `json:"targets"`
}

// --- Raw (pre-validation) plan shapes, as received over the wire ---

type RawVoiceRef struct {
	PartIndex   *int    `json:"part_index"`
	VoicePartID *string `json:"voice_part_id"`
}

type RawSection struct {
	StartMeasure  *int         `json:"start_measure"`
	EndMeasure    *int         `json:"end_measure"`
	Mode          string       `json:"mode"`
	DecisionType  string       `json:"decision_type"`
	Method        string       `json:"method"`
	RankIndex     int          `json:"rank_index"`
	RankFallback  string       `json:"rank_fallback"`
	MelodySource  *RawVoiceRef `json:"melody_source"`
	LyricSource   *RawVoiceRef `json:"lyric_source"`
	LyricStrategy string       `json:"lyric_strategy"`
	LyricPolicy   string       `json:"lyric_policy"`
}

type RawAction struct {
	MelodySource  *RawVoiceRef `json:"melody_source"`
	LyricSource   *RawVoiceRef `json:"lyric_source"`
	LyricStrategy string       `json:"lyric_strategy"`
	LyricPolicy   string       `json:"lyric_policy"`
}

type RawTarget struct {
	Target           *RawVoiceRef `json:"target"`
	Sections         []RawSection `json:"sections"`
	Actions          []RawAction  `json:"actions"`
	SharedNotePolicy string       `json:"shared_note_policy"`
}

type RawPlan struct {
	Targets []RawTarget `json:"targets"`
}

// ParsePlan validates and normalizes a raw plan payload against the
// analyzed score, rejecting malformed plans before the engine touches the
// score (spec §4.2). It never mutates the score (spec §8 "Parser/Linter
// laws").
func ParsePlan(raw RawPlan, analyses []PartAnalysis) (*Plan, error) {
	// Check 1: payload is an object with non-empty targets list.
	if len(raw.Targets) == 0 {
		return nil, newActionRequired("invalid_plan_payload", "plan must contain a non-empty targets list")
	}

	plan := &Plan{}
	for ti, rt := range raw.Targets {
		// Check 2: well-formed target ref.
		targetRef, err := parseVoiceRef(rt.Target)
		if err != nil {
			return nil, newActionRequired("invalid_plan_target_ref", "target["+strconv.Itoa(ti)+"]: "+err.Error())
		}

		// Check 3: exactly one of sections/actions present and non-empty.
		hasSections := len(rt.Sections) > 0
		hasActions := len(rt.Actions) > 0
		if hasSections == hasActions {
			return nil, newActionRequired("invalid_plan_payload", "target["+strconv.Itoa(ti)+"]: exactly one of sections or actions must be present and non-empty")
		}

		target := Target{Target: targetRef, SharedNotePolicy: SharedNotePolicy(rt.SharedNotePolicy)}
		if target.SharedNotePolicy == "" {
			target.SharedNotePolicy = SharedNoteDuplicateToAll
		}

		if hasActions {
			for _, ra := range rt.Actions {
				act := Action{LyricStrategy: LyricStrategy(ra.LyricStrategy), LyricPolicy: LyricPolicy(ra.LyricPolicy)}
				if ra.MelodySource != nil {
					ref, err := parseVoiceRef(ra.MelodySource)
					if err != nil {
						return nil, newActionRequired("invalid_plan_target_ref", "target["+strconv.Itoa(ti)+"] action melody_source: "+err.Error())
					}
					act.MelodySource = &ref
				}
				if ra.LyricSource != nil {
					ref, err := parseVoiceRef(ra.LyricSource)
					if err != nil {
						return nil, newActionRequired("invalid_plan_target_ref", "target["+strconv.Itoa(ti)+"] action lyric_source: "+err.Error())
					}
					act.LyricSource = &ref
				}
				if act.MelodySource == nil && act.LyricSource == nil {
					return nil, newActionRequired("empty_section_source", "target["+strconv.Itoa(ti)+"]: action has neither melody_source nor lyric_source")
				}
				if act.LyricStrategy != "" && !validLyricStrategy(act.LyricStrategy) {
					return nil, newActionRequired("invalid_plan_enum", "target["+strconv.Itoa(ti)+"]: invalid lyric_strategy")
				}
				if act.LyricPolicy != "" && !validLyricPolicy(act.LyricPolicy) {
					return nil, newActionRequired("invalid_plan_enum", "target["+strconv.Itoa(ti)+"]: invalid lyric_policy")
				}
				target.Actions = append(target.Actions, act)
			}
			plan.Targets = append(plan.Targets, target)
			continue
		}

		span, err := targetSungSpan(targetRef, analyses)
		if err != nil {
			return nil, newActionRequired("invalid_plan_target_ref", "target["+strconv.Itoa(ti)+"]: "+err.Error())
		}

		sections := make([]Section, 0, len(rt.Sections))
		for si, rs := range rt.Sections {
			sec, err := parseSection(rs)
			if err != nil {
				return nil, newActionRequired("invalid_section_mode", "target["+strconv.Itoa(ti)+"] section["+strconv.Itoa(si)+"]: "+err.Error())
			}
			if sec.StartMeasure < span.Start || sec.EndMeasure > span.End {
				return nil, newActionRequired("non_contiguous_sections", "target["+strconv.Itoa(ti)+"] section["+strconv.Itoa(si)+"]: range outside target's sung span")
			}
			sections = append(sections, sec)
		}

		if err := checkContiguous(sections, span); err != nil {
			return nil, err
		}

		target.Sections = sections
		plan.Targets = append(plan.Targets, target)
	}

	return plan, nil
}

func parseVoiceRef(raw *RawVoiceRef) (VoiceRef, error) {
	if raw == nil || raw.PartIndex == nil || raw.VoicePartID == nil || *raw.VoicePartID == "" {
		return VoiceRef{}, newPlainError("malformed voice reference: part_index and non-empty voice_part_id required")
	}
	return VoiceRef{PartIndex: *raw.PartIndex, VoicePartID: *raw.VoicePartID}, nil
}

func targetSungSpan(ref VoiceRef, analyses []PartAnalysis) (MeasureRange, error) {
	if ref.PartIndex < 0 || ref.PartIndex >= len(analyses) {
		return MeasureRange{}, newPlainError("part_index out of range")
	}
	return analyses[ref.PartIndex].Span, nil
}

func parseSection(rs RawSection) (Section, error) {
	if rs.StartMeasure == nil || rs.EndMeasure == nil || *rs.StartMeasure > *rs.EndMeasure {
		return Section{}, newPlainError("invalid measure range")
	}
	mode := SectionMode(rs.Mode)
	if mode != ModeRest && mode != ModeDerive {
		return Section{}, newPlainError("invalid mode")
	}

	sec := Section{
		StartMeasure: *rs.StartMeasure,
		EndMeasure:   *rs.EndMeasure,
		Mode:         mode,
	}

	if mode == ModeRest {
		if rs.DecisionType != "" || rs.MelodySource != nil || rs.LyricSource != nil {
			return Section{}, newPlainError("rest mode may not carry source fields")
		}
		return sec, nil
	}

	// derive mode
	sec.DecisionType = DecisionType(rs.DecisionType)
	if !validDecisionType(sec.DecisionType) {
		return Section{}, newPlainError("invalid decision_type")
	}

	if rs.Method != "" {
		sec.Method = Method(rs.Method)
		if !publicMethods[sec.Method] {
			return Section{}, newPlainError("invalid method: only trivial/ranked are accepted from the public parser")
		}
	} else {
		sec.Method = MethodTrivial
	}

	sec.RankIndex = rs.RankIndex
	if rs.RankFallback != "" {
		sec.RankFallback = RankFallback(rs.RankFallback)
		if sec.RankFallback != RankFallbackGreedy && sec.RankFallback != RankFallbackSkip {
			return Section{}, newPlainError("invalid rank_fallback")
		}
	} else {
		sec.RankFallback = RankFallbackGreedy
	}

	if rs.MelodySource != nil {
		ref, err := parseVoiceRef(rs.MelodySource)
		if err != nil {
			return Section{}, err
		}
		sec.MelodySource = &ref
	}
	if rs.LyricSource != nil {
		ref, err := parseVoiceRef(rs.LyricSource)
		if err != nil {
			return Section{}, err
		}
		sec.LyricSource = &ref
	}
	if sec.MelodySource == nil && sec.LyricSource == nil {
		return Section{}, newPlainError("derive mode requires at least one of melody_source/lyric_source")
	}

	if rs.LyricStrategy != "" {
		sec.LyricStrategy = LyricStrategy(rs.LyricStrategy)
		if !validLyricStrategy(sec.LyricStrategy) {
			return Section{}, newPlainError("invalid lyric_strategy")
		}
	} else {
		sec.LyricStrategy = StrategyStrictOnset
	}

	if rs.LyricPolicy != "" {
		sec.LyricPolicy = LyricPolicy(rs.LyricPolicy)
		if !validLyricPolicy(sec.LyricPolicy) {
			return Section{}, newPlainError("invalid lyric_policy")
		}
	} else {
		sec.LyricPolicy = PolicyFillMissingOnly
	}

	return sec, nil
}

func validDecisionType(d DecisionType) bool {
	switch d {
	case DecisionExtractFromVoice, DecisionSplitChordsSelectNotes, DecisionCopyUnisonSection, DecisionInsertRests, DecisionDropNotesIfNeeded:
		return true
	}
	return false
}

func validLyricStrategy(s LyricStrategy) bool {
	switch s {
	case StrategyStrictOnset, StrategyOverlapBestMatch, StrategySyllableFlow:
		return true
	}
	return false
}

func validLyricPolicy(p LyricPolicy) bool {
	switch p {
	case PolicyFillMissingOnly, PolicyReplaceAll, PolicyPreserveExisting:
		return true
	}
	return false
}

// checkContiguous enforces that a target's sections cover its sung span
// contiguously with no gaps or overlaps (spec §3 invariants, §4.2 check 4).
func checkContiguous(sections []Section, span MeasureRange) error {
	sorted := append([]Section(nil), sections...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMeasure < sorted[j].StartMeasure })

	if len(sorted) == 0 {
		return newActionRequired("non_contiguous_sections", "no sections provided")
	}
	if sorted[0].StartMeasure != span.Start {
		return newActionRequired("non_contiguous_sections", "sections must start at the part's first sung measure")
	}
	for i := 1; i < len(sorted); i++ {
		prevEnd := sorted[i-1].EndMeasure
		if sorted[i].StartMeasure <= prevEnd {
			return newActionRequired("overlapping_sections", "sections overlap")
		}
		if sorted[i].StartMeasure != prevEnd+1 {
			return newActionRequired("non_contiguous_sections", "sections leave a gap")
		}
	}
	if sorted[len(sorted)-1].EndMeasure != span.End {
		return newActionRequired("non_contiguous_sections", "sections must end at the part's last sung measure")
	}
	return nil
}
