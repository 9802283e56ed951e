package voiceparts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateSiblingsDerivesUntargetedNonDefaultVoices(t *testing.T) {
	soprano := []Note{pitchNote(1, 0, 72), pitchNote(1, 1, 74)}
	alto := []Note{pitchNote(1, 0, 65), pitchNote(1, 1, 67)}
	for i := range alto {
		alto[i].Voice = "2"
	}
	ctx := sopranoAltoContext(soprano, alto)

	out := GenerateSiblings(ctx, 0, map[string]bool{"soprano": true})
	assert.Len(t, out, 1)
	assert.Equal(t, "alto", out[0].VoicePartID)
	assert.Len(t, out[0].Notes, 2)
}

func TestGenerateSiblingsSkipsExplicitlyTargetedVoices(t *testing.T) {
	soprano := []Note{pitchNote(1, 0, 72)}
	alto := []Note{pitchNote(1, 0, 65)}
	ctx := sopranoAltoContext(soprano, alto)

	out := GenerateSiblings(ctx, 0, map[string]bool{"soprano": true, "alto": true})
	assert.Empty(t, out)
}

func TestGenerateSiblingsSkipsDefaultVoiceSource(t *testing.T) {
	ctx := &ExecutionContext{
		Score: &Score{Parts: []Part{{PartID: "p0", Notes: []Note{pitchNote(1, 0, 60)}}}},
		Analyses: []PartAnalysis{{
			PartIndex:  0,
			VoiceParts: []VoicePart{{SourceVoiceID: DefaultVoice, VoicePartID: "voice part 1", PartIndex: 0}},
			Span:       MeasureRange{Start: 1, End: 1},
		}},
	}
	out := GenerateSiblings(ctx, 0, map[string]bool{})
	assert.Empty(t, out)
}

func TestGenerateSiblingsEnforcesMonophonyOnChordedSource(t *testing.T) {
	alto := []Note{pitchNote(1, 0, 65), pitchNote(1, 0, 69)}
	for i := range alto {
		alto[i].Voice = "2"
	}
	soprano := []Note{pitchNote(1, 0, 72)}
	ctx := sopranoAltoContext(soprano, alto)

	out := GenerateSiblings(ctx, 0, map[string]bool{"soprano": true})
	assert.Len(t, out, 1)
	assert.Equal(t, "alto", out[0].VoicePartID)
	assert.Len(t, out[0].Notes, 1, "simultaneous alto notes collapse to one monophonic winner")
}
