package voiceparts

// SiblingDerivation is one auto-generated sibling lane produced by the
// Sibling Generator (spec §4.9).
type SiblingDerivation struct {
	VoicePartID string
	Notes       []Note
}

// GenerateSiblings derives every non-default sibling voice-part of the
// target's part that was not explicitly named by the plan, using the
// legacy simple path: native notes under duplicate_to_all, monophony
// enforced, no lyric propagation (spec §4.9).
func GenerateSiblings(ctx *ExecutionContext, partIndex int, explicitlyTargeted map[string]bool) []SiblingDerivation {
	var out []SiblingDerivation
	for _, vp := range ctx.Analyses[partIndex].VoiceParts {
		if vp.SourceVoiceID == DefaultVoice {
			continue
		}
		if explicitlyTargeted[vp.VoicePartID] {
			continue
		}
		notes := selectVoiceNotes(ctx.Score.Parts[partIndex], vp.SourceVoiceID)
		clone := append([]Note(nil), notes...)
		sortNotesByOnset(clone)
		derived := enforceMonophony(clone, vp.VoicePartID)
		out = append(out, SiblingDerivation{VoicePartID: vp.VoicePartID, Notes: derived})
	}
	return out
}
