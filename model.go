package voiceparts

import "math"

// DefaultVoice is the sentinel voice label meaning "no explicit voice was set".
const DefaultVoice = "_default"

// onsetEpsilon is the tolerance used when comparing beat offsets for lyric
// strict-onset alignment and structural overlap checks. Chord grouping and
// monophony enforcement bucket onsets with OnsetKey instead.
const onsetEpsilon = 1e-5

// TempoEvent is an opaque pass-through record; the core never inspects it
// beyond carrying it along on the working score (spec §3).
type TempoEvent struct {
	Beat float64 `json:"beat"`
	BPM  float64 `json:"bpm"`
}

// Note is a single timed event inside a Part (spec §3).
type Note struct {
	OffsetBeats     float64  `json:"offset_beats"`
	DurationBeats   float64  `json:"duration_beats"`
	PitchMIDI       *float64 `json:"pitch_midi,omitempty"`
	Lyric           *string  `json:"lyric,omitempty"`
	Syllabic        *string  `json:"syllabic,omitempty"`
	LyricIsExtended bool     `json:"lyric_is_extended"`
	IsRest          bool     `json:"is_rest"`
	TieType         *string  `json:"tie_type,omitempty"`
	Voice           string   `json:"voice"`
	Staff           string   `json:"staff"`
	MeasureNumber   int      `json:"measure_number"`

	// sourceIndex is not part of the wire shape; nothing in the engine
	// currently sets or reads it.
	sourceIndex int `json:"-"`
}

// EndBeats returns the beat at which the note's sustain ends.
func (n Note) EndBeats() float64 {
	return n.OffsetBeats + n.DurationBeats
}

// OnsetKey rounds a beat offset to 6 decimals for onset-bucket comparisons,
// matching the spec's ε=10⁻⁵ grouping rule used by chord detection, lyric
// strict-onset matching, and monophony enforcement.
func OnsetKey(beats float64) float64 {
	return math.Round(beats*1e6) / 1e6
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= onsetEpsilon
}

// LyricKind classifies a note's lyric as word, extension, or empty
// (spec §4.3).
type LyricKind string

const (
	LyricWord      LyricKind = "word"
	LyricExtension LyricKind = "extension"
	LyricEmpty     LyricKind = "empty"
)

// Classify returns the note's lyric kind.
func (n Note) Classify() LyricKind {
	if n.LyricIsExtended {
		return LyricExtension
	}
	if n.Lyric == nil || *n.Lyric == "" {
		return LyricEmpty
	}
	if *n.Lyric == "+" {
		return LyricExtension
	}
	return LyricWord
}

// HasLyric reports whether the note carries any lyric text at all (word or
// extension).
func (n Note) HasLyric() bool {
	return n.Classify() != LyricEmpty
}

// Part is an ordered sequence of notes plus identity (spec §3).
type Part struct {
	PartID   string `json:"part_id"`
	PartName string `json:"part_name"`
	Notes    []Note `json:"notes"`

	// sourcePartIndex records which original part index a derived part was
	// produced from, used by the Materializer to pick a reference part for
	// XML attributes/time signatures (§4.10).
	sourcePartIndex int `json:"-"`
	hasSourceIndex  bool
}

// Score is the ordered list of parts plus pass-through metadata (spec §3).
type Score struct {
	Title              string         `json:"title"`
	Tempos             []TempoEvent   `json:"tempos"`
	Parts              []Part         `json:"parts"`
	SourceMusicXMLPath string         `json:"source_musicxml_path,omitempty"`
	VoicePartTransforms map[string]any `json:"voice_part_transforms,omitempty"`
}

// Clone produces a deep copy of the score. The engine never mutates its
// input; every entry point clones first (spec §5, §9 "Deep clone
// discipline").
func (s *Score) Clone() *Score {
	if s == nil {
		return nil
	}
	out := &Score{
		Title:              s.Title,
		SourceMusicXMLPath: s.SourceMusicXMLPath,
	}
	out.Tempos = append(out.Tempos, s.Tempos...)
	out.Parts = make([]Part, len(s.Parts))
	for i, p := range s.Parts {
		out.Parts[i] = p.Clone()
	}
	if s.VoicePartTransforms != nil {
		out.VoicePartTransforms = make(map[string]any, len(s.VoicePartTransforms))
		for k, v := range s.VoicePartTransforms {
			out.VoicePartTransforms[k] = v
		}
	}
	return out
}

// Clone deep-copies a part including its notes.
func (p Part) Clone() Part {
	out := p
	out.Notes = make([]Note, len(p.Notes))
	copy(out.Notes, p.Notes)
	for i := range out.Notes {
		if p.Notes[i].PitchMIDI != nil {
			v := *p.Notes[i].PitchMIDI
			out.Notes[i].PitchMIDI = &v
		}
		if p.Notes[i].Lyric != nil {
			v := *p.Notes[i].Lyric
			out.Notes[i].Lyric = &v
		}
		if p.Notes[i].Syllabic != nil {
			v := *p.Notes[i].Syllabic
			out.Notes[i].Syllabic = &v
		}
		if p.Notes[i].TieType != nil {
			v := *p.Notes[i].TieType
			out.Notes[i].TieType = &v
		}
	}
	return out
}

// VoicePart is the analyzer's decomposition of one Part (spec §3).
type VoicePart struct {
	SourceVoiceID   string  `json:"source_voice_id"`
	VoicePartID     string  `json:"voice_part_id"`
	NoteCount       int     `json:"note_count"`
	LyricNoteCount  int     `json:"lyric_note_count"`
	MissingLyrics   int     `json:"missing_lyrics"`
	AvgPitchMIDI    float64 `json:"avg_pitch_midi"`
	PartIndex       int     `json:"part_index"`
	RankIndex       int     `json:"rank_index"`
}

// RegionStatus is the per-measure classification produced by the analyzer
// (spec §3, §4.1).
type RegionStatus string

const (
	RegionResolved         RegionStatus = "RESOLVED"
	RegionNeedsSplit       RegionStatus = "NEEDS_SPLIT"
	RegionUnassignedSource RegionStatus = "UNASSIGNED_SOURCE"
	RegionNoMusic          RegionStatus = "NO_MUSIC"
)

// MeasureRange is an inclusive [Start, End] measure span.
type MeasureRange struct {
	Start int `json:"start_measure"`
	End   int `json:"end_measure"`
}

// Overlaps reports whether two measure ranges share any measure.
func (r MeasureRange) Overlaps(o MeasureRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Contains reports whether the measure lies within the range.
func (r MeasureRange) Contains(measure int) bool {
	return measure >= r.Start && measure <= r.End
}

// RegionRange pairs a measure range with the status it was collapsed from.
type RegionRange struct {
	MeasureRange
	Status RegionStatus `json:"status"`
}
