package voiceparts

import (
	"math"
	"sort"
	"strings"
)

// onsetGroup is one (measure, rounded-offset) cluster of source notes
// considered together by the Chord Splitter (spec §4.5d).
type onsetGroup struct {
	measure   int
	onset     float64
	candidates []Note
}

// groupByOnset buckets non-rest notes by (measure, round(offset, 6)),
// preserving first-appearance order so voice-leading passes walk onsets in
// time order.
func groupByOnset(notes []Note) []onsetGroup {
	index := map[[2]float64]int{}
	var groups []onsetGroup
	for _, n := range notes {
		if n.IsRest {
			continue
		}
		key := [2]float64{float64(n.MeasureNumber), OnsetKey(n.OffsetBeats)}
		if i, ok := index[key]; ok {
			groups[i].candidates = append(groups[i].candidates, n)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, onsetGroup{measure: n.MeasureNumber, onset: OnsetKey(n.OffsetBeats), candidates: []Note{n}})
	}
	return groups
}

func pitchOf(n Note) float64 {
	if n.PitchMIDI == nil {
		return 0
	}
	return *n.PitchMIDI
}

func sortDescByPitch(notes []Note) []Note {
	out := append([]Note(nil), notes...)
	sort.SliceStable(out, func(i, j int) bool { return pitchOf(out[i]) > pitchOf(out[j]) })
	return out
}

func sortAscByPitch(notes []Note) []Note {
	out := append([]Note(nil), notes...)
	sort.SliceStable(out, func(i, j int) bool { return pitchOf(out[i]) < pitchOf(out[j]) })
	return out
}

// preferHighForVoicePart implements the spec's "voice part 1 / soprano /
// tenor" prefer-high naming rule (spec §4.5c), shared by the Chord Splitter
// and Monophony Enforcement.
func preferHighForVoicePart(voicePartID string) bool {
	lower := strings.ToLower(voicePartID)
	return strings.Contains(lower, "voice part 1") || strings.Contains(lower, "soprano") || strings.Contains(lower, "tenor")
}

// SplitChords chooses exactly one note per onset group from sourceNotes,
// re-voices the chosen notes (and any source rests) to targetVoice, and
// strips lyric fields (spec §4.5d, §4.5a).
//
// targetRank is the target voice-part's rank among its siblings (0 =
// highest pitch); siblingCount is the number of sibling voice-parts sharing
// the source part.
func SplitChords(sourceNotes []Note, method Method, rankIndex int, rankFallback RankFallback, siblingCount, targetRank int, preferHigh bool, targetVoice string) []Note {
	groups := groupByOnset(sourceNotes)

	var chosen []Note
	switch method {
	case MethodRanked:
		chosen = pickRanked(groups, rankIndex, rankFallback)
	case methodA:
		chosen = pickRuleBased(groups, preferHigh)
	case methodB:
		chosen = pickViterbi(groups, preferHigh)
	default: // MethodTrivial
		chosen = pickTrivial(groups, siblingCount, targetRank, preferHigh)
	}

	out := make([]Note, 0, len(chosen)+len(sourceNotes))
	for _, n := range chosen {
		out = append(out, reVoiceStripLyrics(n, targetVoice))
	}
	for _, n := range sourceNotes {
		if n.IsRest {
			out = append(out, reVoiceStripLyrics(n, targetVoice))
		}
	}
	return out
}

func reVoiceStripLyrics(n Note, targetVoice string) Note {
	out := n
	out.Voice = targetVoice
	out.Lyric = nil
	out.Syllabic = nil
	out.LyricIsExtended = false
	return out
}

// pickTrivial implements method=trivial: rank mapping when the onset's
// chord density matches the sibling count, else the rule-based fallback
// (spec §4.5d).
func pickTrivial(groups []onsetGroup, siblingCount, targetRank int, preferHigh bool) []Note {
	var out []Note
	var prevPitch float64
	havePrev := false
	for _, g := range groups {
		if len(g.candidates) == 1 {
			out = append(out, g.candidates[0])
			prevPitch, havePrev = pitchOf(g.candidates[0]), true
			continue
		}
		if len(g.candidates) == siblingCount {
			desc := sortDescByPitch(g.candidates)
			r := targetRank
			if r >= len(desc) {
				r = len(desc) - 1
			}
			out = append(out, desc[r])
			prevPitch, havePrev = pitchOf(desc[r]), true
			continue
		}
		pick := ruleBasedPickOne(g.candidates, preferHigh, prevPitch, havePrev)
		out = append(out, pick)
		prevPitch, havePrev = pitchOf(pick), true
	}
	return out
}

// pickRuleBased implements method=A: pitch-extreme first choice, then
// nearest-to-previous voice leading (spec §4.5d).
func pickRuleBased(groups []onsetGroup, preferHigh bool) []Note {
	var out []Note
	var prevPitch float64
	havePrev := false
	for _, g := range groups {
		pick := ruleBasedPickOne(g.candidates, preferHigh, prevPitch, havePrev)
		out = append(out, pick)
		prevPitch, havePrev = pitchOf(pick), true
	}
	return out
}

func ruleBasedPickOne(candidates []Note, preferHigh bool, prevPitch float64, havePrev bool) Note {
	if len(candidates) == 1 {
		return candidates[0]
	}
	if !havePrev {
		if preferHigh {
			return sortDescByPitch(candidates)[0]
		}
		return sortAscByPitch(candidates)[0]
	}
	best := candidates[0]
	bestDist := math.Abs(pitchOf(best) - prevPitch)
	for _, c := range candidates[1:] {
		d := math.Abs(pitchOf(c) - prevPitch)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// pickRanked implements method=ranked: always pick rank_index, applying
// rank_fallback when the onset's chord is too small (spec §4.5d).
func pickRanked(groups []onsetGroup, rankIndex int, fallback RankFallback) []Note {
	var out []Note
	for _, g := range groups {
		desc := sortDescByPitch(g.candidates)
		if rankIndex < len(desc) {
			out = append(out, desc[rankIndex])
			continue
		}
		switch fallback {
		case RankFallbackSkip:
			// drop the onset entirely
		default: // greedy
			out = append(out, desc[len(desc)-1])
		}
	}
	return out
}

// pickViterbi implements method=B: a dynamic-programming voice-leading
// optimizer over the full onset sequence (spec §4.5d).
func pickViterbi(groups []onsetGroup, preferHigh bool) []Note {
	sorted := make([][]Note, len(groups))
	for i, g := range groups {
		sorted[i] = sortAscByPitch(g.candidates)
	}

	extremityCost := func(pitch float64) float64 {
		if preferHigh {
			return -0.05 * pitch
		}
		return 0.05 * pitch
	}
	transitionCost := func(a, b float64) float64 {
		delta := math.Abs(a - b)
		if delta > 7 {
			return delta * 1.5
		}
		return delta
	}

	if len(sorted) == 0 {
		return nil
	}

	dp := make([][]float64, len(sorted))
	back := make([][]int, len(sorted))
	for i := range sorted {
		dp[i] = make([]float64, len(sorted[i]))
		back[i] = make([]int, len(sorted[i]))
	}
	for s, n := range sorted[0] {
		dp[0][s] = extremityCost(pitchOf(n))
		back[0][s] = -1
	}
	for i := 1; i < len(sorted); i++ {
		for s, n := range sorted[i] {
			best := math.Inf(1)
			bestPrev := 0
			for ps, pn := range sorted[i-1] {
				cost := dp[i-1][ps] + transitionCost(pitchOf(pn), pitchOf(n))
				if cost < best {
					best, bestPrev = cost, ps
				}
			}
			dp[i][s] = best + extremityCost(pitchOf(n))
			back[i][s] = bestPrev
		}
	}

	last := len(sorted) - 1
	bestState := 0
	bestCost := dp[last][0]
	for s, c := range dp[last] {
		if c < bestCost {
			bestCost, bestState = c, s
		}
	}

	chosenIdx := make([]int, len(sorted))
	chosenIdx[last] = bestState
	for i := last; i > 0; i-- {
		chosenIdx[i-1] = back[i][chosenIdx[i]]
	}

	out := make([]Note, len(sorted))
	for i, idx := range chosenIdx {
		out[i] = sorted[i][idx]
	}
	return out
}
