package voiceparts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleMusicXML = `<?xml version="1.0"?>
<score-partwise>
<part-list><score-part id="P1"><part-name>Soprano/Alto</part-name></score-part></part-list>
<part id="P1">
<measure number="1"><attributes><divisions>1</divisions><time><beats>4</beats><beat-type>4</beat-type></time></attributes><note><pitch><step>C</step><octave>4</octave></pitch><duration>4</duration><voice>1</voice><type>whole</type></note></measure>
</part>
</score-partwise>`

func TestAppendDerivedPartToMusicXMLWritesSiblingFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hymn.xml")
	assert.NoError(t, os.WriteFile(src, []byte(sampleMusicXML), 0o644))

	pitch := 69.0
	part := Part{PartID: "P_DERIVED_ABCDEF0123", PartName: "Soprano/Alto - alto (Derived)", Notes: []Note{
		{MeasureNumber: 1, PitchMIDI: &pitch, DurationBeats: 4},
	}}

	dest, err := AppendDerivedPartToMusicXML(src, part, "abcdef0123456789")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "hymn.derived_abcdef0123.xml"), dest)

	out, err := os.ReadFile(dest)
	assert.NoError(t, err)
	body := string(out)
	assert.Contains(t, body, `<score-part id="P_DERIVED_ABCDEF0123">`)
	assert.Contains(t, body, `<part id="P_DERIVED_ABCDEF0123">`)
	assert.Contains(t, body, `<step>A</step>`)
	assert.Contains(t, body, `<octave>4</octave>`)
	assert.True(t, strings.Contains(body, `<measure number="1">`))
}

func TestAppendDerivedPartToMusicXMLInheritsReferenceTimeSignature(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hymn.xml")
	assert.NoError(t, os.WriteFile(src, []byte(sampleMusicXML), 0o644))

	part := Part{PartID: "P_DERIVED_FEDCBA9876", Notes: nil, sourcePartIndex: 0, hasSourceIndex: true}

	dest, err := AppendDerivedPartToMusicXML(src, part, "fedcba9876543210")
	assert.NoError(t, err)
	out, err := os.ReadFile(dest)
	assert.NoError(t, err)
	body := string(out)
	assert.Contains(t, body, `<beats>4</beats>`)
	assert.Contains(t, body, `<rest/>`, "measure with no derived notes gets a full-measure rest")
}

func TestPickReferencePartPrefersStashedSourceIndex(t *testing.T) {
	doc := &musicXMLDoc{parts: []xmlPart{{ID: "P1"}, {ID: "P2"}}}
	part := Part{PartID: "P3", sourcePartIndex: 1, hasSourceIndex: true}
	assert.Equal(t, 1, pickReferencePart(doc, part))
}

func TestPickReferencePartFallsBackToFirstDistinctPart(t *testing.T) {
	doc := &musicXMLDoc{parts: []xmlPart{{ID: "P1"}, {ID: "P2"}}}
	part := Part{PartID: "P3"}
	assert.Equal(t, 0, pickReferencePart(doc, part))
}

func TestPitchToStepAlterOctaveHandlesSharpsAndNil(t *testing.T) {
	step, alter, octave := pitchToStepAlterOctave(nil)
	assert.Equal(t, "C", step)
	assert.Equal(t, 0, alter)
	assert.Equal(t, 4, octave)

	pitch := 61.0 // C#4
	step, alter, octave = pitchToStepAlterOctave(&pitch)
	assert.Equal(t, "C", step)
	assert.Equal(t, 1, alter)
	assert.Equal(t, 4, octave)
}

func TestNoteTypeForDurationBuckets(t *testing.T) {
	assert.Equal(t, "whole", noteTypeForDuration(4))
	assert.Equal(t, "half", noteTypeForDuration(2))
	assert.Equal(t, "quarter", noteTypeForDuration(1))
	assert.Equal(t, "eighth", noteTypeForDuration(0.5))
	assert.Equal(t, "16th", noteTypeForDuration(0.25))
}

func TestXMLEscapeEscapesReservedCharacters(t *testing.T) {
	assert.Equal(t, "A&amp;B", xmlEscape("A&B"))
}
