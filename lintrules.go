package voiceparts

import "strings"

// LintSeverity classifies how serious a finding is. Every rule in this
// registry is hard (it aborts execution, spec §4.3), but the field is kept
// on the finding so a future soft-rule can be added without reshaping the
// type.
type LintSeverity string

const (
	SeverityError LintSeverity = "error"
)

// LintRuleSpec is the canonical metadata for one lint rule (spec §4.3).
type LintRuleSpec struct {
	Code            string
	Name            string
	Definition      string
	FailCondition   string
	Suggestion      string
	MessageTemplate string
	Severity        LintSeverity
}

// LintFinding is one emitted violation, carrying the attributes that were
// used to decide it fired (spec §4.3 "failing_attributes").
type LintFinding struct {
	Code              string         `json:"code"`
	Name              string         `json:"name"`
	Message           string         `json:"message"`
	Severity          LintSeverity   `json:"severity"`
	TargetIndex       int            `json:"target_index"`
	SectionIndex      int            `json:"section_index,omitempty"`
	FailingAttributes map[string]any `json:"failing_attributes,omitempty"`
}

// lintRuleOrder fixes the order in which RenderLintRulesForPrompt lists the
// registry entries. Lint itself emits findings in the order its rule
// functions run (see lint.go), not by this slice.
var lintRuleOrder = []string{
	"plan_requires_sections",
	"mixed_region_requires_sections",
	"section_timeline_contiguous_no_gaps",
	"trivial_method_requires_equal_chord_voice_part_count",
	"cross_staff_melody_source_when_local_available",
	"cross_staff_lyric_source_when_local_available",
	"cross_staff_lyric_source_with_stronger_local_alternative",
	"extension_only_lyric_source_with_word_alternative",
	"empty_lyric_source_with_word_alternative",
	"weak_lyric_source_with_better_alternative",
	"lyric_source_without_target_notes",
	"no_rest_when_target_has_native_notes",
	"same_clef_claim_coverage",
	"same_part_target_completeness",
}

// LintRuleSpecs is the read-only rule registry (spec §6 "Lint rule
// registry"), ported field-for-field from
// original_source/src/api/voice_part_lint_rules.py.
var LintRuleSpecs = map[string]LintRuleSpec{
	"plan_requires_sections": {
		Code:            "plan_requires_sections",
		Name:            "Complex Part Requires Sections",
		Definition:      "Complex multi-voice or chordal material must be planned with explicit timeline sections.",
		FailCondition:   "The target part contains chord regions or split-needed regions, but the plan uses the simple non-section action path.",
		Suggestion:      "Rewrite the target as a sections-based timeline plan and split behavior at the relevant measure boundaries.",
		MessageTemplate: "Score complexity requires a section-by-section preprocess plan instead of the simple action path.",
		Severity:        SeverityError,
	},
	"mixed_region_requires_sections": {
		Code:            "mixed_region_requires_sections",
		Name:            "Mixed Region Qualities Require Sections",
		Definition:      "A part with mixed resolved and unassigned regions needs explicit sectional handling.",
		FailCondition:   "The target part mixes resolved regions with unassigned/default-source regions, but the plan does not section them explicitly.",
		Suggestion:      "Split the plan into sections so each region uses an explicit source or rest behavior.",
		MessageTemplate: "Part contains mixed region qualities while the plan does not section them.",
		Severity:        SeverityError,
	},
	"section_timeline_contiguous_no_gaps": {
		Code:            "section_timeline_contiguous_no_gaps",
		Name:            "Sections Must Be Contiguous",
		Definition:      "Timeline sections for a target must fully cover the part span without gaps or overlaps.",
		FailCondition:   "A target's sections are out of order, overlap, or leave a gap in contiguous measure coverage.",
		Suggestion:      "Rewrite the section boundaries so they are contiguous from start to end with no gaps or overlaps.",
		MessageTemplate: "Target sections must be contiguous with no gaps or overlaps.",
		Severity:        SeverityError,
	},
	"trivial_method_requires_equal_chord_voice_part_count": {
		Code:            "trivial_method_requires_equal_chord_voice_part_count",
		Name:            "Trivial Split Requires Matching Chord Density",
		Definition:      "The trivial split method is only valid when the target lane count matches the maximum simultaneous note count in the source section.",
		FailCondition:   "A section uses method=trivial for SPLIT_CHORDS_SELECT_NOTES, but the local source chord density does not match the target lane count.",
		Suggestion:      "Use method=ranked with an explicit rank_index, or revise the section split so the target lane count matches the source section's maximum simultaneous note count.",
		MessageTemplate: "Trivial chord splitting requires the target lane count to match the maximum simultaneous note count in the source section.",
		Severity:        SeverityError,
	},
	"cross_staff_melody_source_when_local_available": {
		Code:            "cross_staff_melody_source_when_local_available",
		Name:            "Cross-Staff Melody Source When Local Material Exists",
		Definition:      "Melody sourcing should stay local to the target part when the target part already has sung material in the section.",
		FailCondition:   "A derive section pulls melody from another part even though the target part has local sung material in that range.",
		Suggestion:      "Use a same-part melody source for that section unless the user explicitly asked for cross-part sourcing.",
		MessageTemplate: "Selected melody source crosses parts even though local sung material exists in the target part.",
		Severity:        SeverityError,
	},
	"cross_staff_lyric_source_when_local_available": {
		Code:            "cross_staff_lyric_source_when_local_available",
		Name:            "Cross-Staff Lyric Source When Local Word Lyrics Exist",
		Definition:      "Lyric sourcing should stay local to the target part when the target part already has word lyrics in the section.",
		FailCondition:   "A derive section pulls lyrics from another part even though the target part has local word-bearing lyrics in that range.",
		Suggestion:      "Use a same-part lyric source with local word lyrics unless the user explicitly asked for cross-part lyric sourcing.",
		MessageTemplate: "Selected lyric source crosses parts even though local word lyrics exist in the target part.",
		Severity:        SeverityError,
	},
	"cross_staff_lyric_source_with_stronger_local_alternative": {
		Code:            "cross_staff_lyric_source_with_stronger_local_alternative",
		Name:            "Cross-Staff Lyric Source With Stronger Local Alternative",
		Definition:      "Cross-part lyric sourcing is invalid when a same-part alternative carries materially stronger word lyrics.",
		FailCondition:   "A derive section pulls lyrics from another part while a same-part source would provide materially stronger word-lyric coverage.",
		Suggestion:      "Switch lyric_source to the stronger same-part alternative.",
		MessageTemplate: "Selected lyric source crosses parts even though a stronger same-part alternative exists.",
		Severity:        SeverityError,
	},
	"extension_only_lyric_source_with_word_alternative": {
		Code:            "extension_only_lyric_source_with_word_alternative",
		Name:            "Extension-Only Lyric Source With Better Alternative",
		Definition:      "A lyric source with only extension lyrics is invalid when another same-part source has real word lyrics in the same section.",
		FailCondition:   "The selected same-part lyric source has zero word lyrics and one or more extension lyrics, while another same-part source has word lyrics.",
		Suggestion:      "Switch lyric_source to the suggested same-part source with real word lyrics.",
		MessageTemplate: "Selected lyric source has only extension lyrics in this section, while another same-part source has real word lyrics.",
		Severity:        SeverityError,
	},
	"empty_lyric_source_with_word_alternative": {
		Code:            "empty_lyric_source_with_word_alternative",
		Name:            "Empty Lyric Source With Better Alternative",
		Definition:      "A lyric source with no lyrics is invalid when another same-part source has real word lyrics in the same section.",
		FailCondition:   "The selected same-part lyric source has zero lyric notes, while another same-part source has word lyrics.",
		Suggestion:      "Switch lyric_source to the suggested same-part source with real word lyrics.",
		MessageTemplate: "Selected lyric source has no lyrics in this section, while another same-part source has real word lyrics.",
		Severity:        SeverityError,
	},
	"weak_lyric_source_with_better_alternative": {
		Code:            "weak_lyric_source_with_better_alternative",
		Name:            "Weak Lyric Source With Better Alternative",
		Definition:      "A same-part lyric source is weak when its real word coverage is materially worse than another same-part alternative in the same section.",
		FailCondition:   "The selected same-part lyric source has low word-lyric coverage and another same-part source exceeds the configured word-count and coverage deltas.",
		Suggestion:      "Switch lyric_source to the suggested same-part source with materially better real word coverage.",
		MessageTemplate: "Selected lyric source has weak word-lyric coverage in this section, while another same-part source has materially better word-lyric coverage.",
		Severity:        SeverityError,
	},
	"lyric_source_without_target_notes": {
		Code:            "lyric_source_without_target_notes",
		Name:            "Lyric Source Without Target Notes",
		Definition:      "Lyric-only propagation is invalid when the target lane has no native sung notes in the section.",
		FailCondition:   "A section specifies lyric_source without melody_source, and the target lane has no native sung notes in that range.",
		Suggestion:      "Add melody_source for the section, choose a different target lane, or make the section rest if it should be silent.",
		MessageTemplate: "Section uses lyric_source without melody_source, but target lane has no native sung notes in this range.",
		Severity:        SeverityError,
	},
	"no_rest_when_target_has_native_notes": {
		Code:            "no_rest_when_target_has_native_notes",
		Name:            "Rest Not Allowed Over Native Notes",
		Definition:      "A target section cannot be set to rest when the target lane already has native sung notes in that measure range.",
		FailCondition:   "A rest section overlaps measures where the target lane has native notes.",
		Suggestion:      "Change the overlapping section to derive mode or split the section so only truly silent measures use rest.",
		MessageTemplate: "Rest mode overlaps measures where the target lane already has native sung notes.",
		Severity:        SeverityError,
	},
	"same_clef_claim_coverage": {
		Code:            "same_clef_claim_coverage",
		Name:            "Same-Part Claim Coverage",
		Definition:      "Timeline targets must claim all sung measures in a part that is being materialized.",
		FailCondition:   "One or more sung measures in the part are not claimed by any derive section across the target lanes.",
		Suggestion:      "Expand the derive/rest section coverage so every sung measure in the part is explicitly handled.",
		MessageTemplate: "One or more sung measures in the part are not claimed by the current target timeline coverage.",
		Severity:        SeverityError,
	},
	"same_part_target_completeness": {
		Code:            "same_part_target_completeness",
		Name:            "Same-Part Target Completeness",
		Definition:      "When one non-default sibling lane in a part is targeted, all non-default sibling lanes in that part must be included.",
		FailCondition:   "The plan targets only a subset of same-part sibling voice parts, leaving one or more expected sibling targets missing.",
		Suggestion:      "Include all required same-part sibling targets using their canonical voice_part_id values.",
		MessageTemplate: "The plan is missing one or more required same-part sibling voice-part targets.",
		Severity:        SeverityError,
	},
}

// GetLintRuleSpec looks up a rule by code.
func GetLintRuleSpec(code string) (LintRuleSpec, bool) {
	spec, ok := LintRuleSpecs[code]
	return spec, ok
}

// RenderLintRulesForPrompt produces a human-readable bulleted listing of
// the rule registry (spec §6), for agent instructions.
func RenderLintRulesForPrompt() string {
	var b strings.Builder
	b.WriteString("Voice-Part Lint Rules (Canonical Runtime Validation)\n\n")
	b.WriteString("Use these runtime rules as the source of truth when planning or repairing preprocess plans.\n")
	b.WriteString("If a lint failure references one of these rule codes, fix the plan according to the rule suggestion and the reported failing attributes.\n")
	for _, code := range lintRuleOrder {
		spec := LintRuleSpecs[code]
		b.WriteString("\n- Rule code: " + spec.Code + "\n")
		b.WriteString("  Name: " + spec.Name + "\n")
		b.WriteString("  Definition: " + spec.Definition + "\n")
		b.WriteString("  Fails when: " + spec.FailCondition + "\n")
		b.WriteString("  Suggested fix: " + spec.Suggestion + "\n")
	}
	return b.String()
}
