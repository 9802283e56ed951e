package voiceparts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ArtifactEntry is one record in the process-global artifact index (spec
// §4.10).
type ArtifactEntry struct {
	TransformID           string
	TransformHash         string
	ScoreFingerprint      string
	AppendedPartRef       AppendedPartRef
	ModifiedMusicXMLPath  string
}

// AppendedPartRef identifies the derived part the Materializer produced or
// reused.
type AppendedPartRef struct {
	PartID   string `json:"part_id"`
	PartName string `json:"part_name"`
}

var (
	indexMu sync.Mutex
	index   = map[string]ArtifactEntry{}

	lockMapMu sync.Mutex
	lockMap   = map[string]*sync.Mutex{}
)

// perKeyLock returns the per-artifact-key mutex, creating it if absent.
// Lock ordering is always outer (lockMapMu) then inner (the returned
// mutex); the outer lock is released before the caller locks the inner one
// (spec §5 "Shared state").
func perKeyLock(lockKey string) *sync.Mutex {
	lockMapMu.Lock()
	defer lockMapMu.Unlock()
	m, ok := lockMap[lockKey]
	if !ok {
		m = &sync.Mutex{}
		lockMap[lockKey] = m
	}
	return m
}

// canonicalJSON renders v as JSON with lexicographically sorted object
// keys and no insignificant whitespace, the basis for every content hash
// in the Materializer (spec §4.10). The jsoniter codec encodes scalars and
// keys, but object key ordering is done by hand here rather than left to
// the encoder.
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := normalizeForCanonicalJSON(v)
	if err != nil {
		return nil, err
	}
	return encodeCanonical(normalized)
}

func normalizeForCanonicalJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

func encodeCanonical(v any) ([]byte, error) {
	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		raw, err := json.Marshal(x)
		if err != nil {
			return err
		}
		b.Write(raw)
	case float64:
		raw, err := json.Marshal(x)
		if err != nil {
			return err
		}
		b.Write(raw)
	case []any:
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyRaw, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(keyRaw)
			b.WriteByte(':')
			if err := writeCanonical(b, x[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("canonicalJSON: unsupported type %T", v)
	}
	return nil
}

// ScoreFingerprint computes the 16-hex-char score fingerprint (spec
// §4.10).
func ScoreFingerprint(score *Score) (string, error) {
	raw, err := canonicalJSON(map[string]any{
		"title":  score.Title,
		"tempos": score.Tempos,
		"parts":  score.Parts,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16], nil
}

// TransformHashInput is the canonical payload hashed into a transform_hash
// (spec §4.10).
type TransformHashInput struct {
	PartIndex         int    `json:"part_index"`
	TargetVoicePartID string `json:"target_voice_part_id"`
	SourceVoicePartID string `json:"source_voice_part_id"`
	SourcePartIndex   int    `json:"source_part_index"`
	Propagated        bool   `json:"propagated"`
	Notes             []Note `json:"notes"`
}

// TransformHash computes the full SHA-256 hex transform hash and the
// derived transform_id (spec §4.10).
func TransformHash(in TransformHashInput) (hash string, transformID string, err error) {
	raw, err := canonicalJSON(in)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(raw)
	hash = hex.EncodeToString(sum[:])
	transformID = fmt.Sprintf("vp:part%d:%s:%s", in.PartIndex, in.TargetVoicePartID, hash[:12])
	return hash, transformID, nil
}

// derivedPartID computes the P_DERIVED_<10-hex-upper> part id (spec §3,
// §4.10).
func derivedPartID(transformHash string) string {
	return "P_DERIVED_" + strings.ToUpper(transformHash[:10])
}

var derivedSuffixPattern = regexp.MustCompile(`\.derived_[0-9a-fA-F]{10}$`)

// normalizeDerivedStem repeatedly strips a trailing ".derived_<10-hex>"
// suffix so chained derivations do not compound (spec §4.10).
func normalizeDerivedStem(stem string) string {
	for {
		trimmed := derivedSuffixPattern.ReplaceAllString(stem, "")
		if trimmed == stem {
			return stem
		}
		stem = trimmed
	}
}

// derivedPartName implements the naming rule in spec §4.10.
func derivedPartName(sourcePart Part, targetVoicePartID, partID string) string {
	if sourcePart.PartName != "" && !isGeneratedVoicePartName(sourcePart.PartName) {
		return sourcePart.PartName + " - " + targetVoicePartID + " (Derived)"
	}
	if partID != "" {
		return partID
	}
	return "Part - " + targetVoicePartID + " (Derived)"
}

// MaterializeInput bundles everything the Materializer needs to finalize
// one target's derived part (spec §4.10).
type MaterializeInput struct {
	Score             *Score
	PartIndex         int
	TargetVoicePartID string
	SourceVoicePartID string
	SourcePartIndex   int
	Propagated        bool
	DerivedNotes      []Note
	HiddenDefaultLane bool
}

// MaterializeResult is the Materializer's output, folded into the public
// preprocess result (spec §6).
type MaterializeResult struct {
	TransformID          string
	TransformHash        string
	ScoreFingerprint     string
	AppendedPartRef       AppendedPartRef
	ModifiedMusicXMLPath  string
	ReusedTransform        bool
	HiddenDefaultLane      bool
	PartIndex              int
}

// Materialize implements the Finalize contract (spec §4.10): compute
// fingerprint/hash, take the per-key lock, reuse a live artifact-index
// entry when present, else serialize (or mark hidden), then splice the
// derived part into the working score.
func Materialize(in MaterializeInput) (*MaterializeResult, error) {
	fingerprint, err := ScoreFingerprint(in.Score)
	if err != nil {
		return nil, err
	}

	hash, transformID, err := TransformHash(TransformHashInput{
		PartIndex:         in.PartIndex,
		TargetVoicePartID: in.TargetVoicePartID,
		SourceVoicePartID: in.SourceVoicePartID,
		SourcePartIndex:   in.SourcePartIndex,
		Propagated:        in.Propagated,
		Notes:             in.DerivedNotes,
	})
	if err != nil {
		return nil, err
	}

	artifactKey := fingerprint + ":" + hash
	lockKeyPrefix := "memory"
	if in.Score.SourceMusicXMLPath != "" {
		lockKeyPrefix = in.Score.SourceMusicXMLPath
	}
	lockKey := lockKeyPrefix + ":" + artifactKey

	mu := perKeyLock(lockKey)
	mu.Lock()
	defer mu.Unlock()

	indexMu.Lock()
	entry, ok := index[artifactKey]
	indexMu.Unlock()

	if ok && entry.ModifiedMusicXMLPath != "" {
		if _, statErr := os.Stat(entry.ModifiedMusicXMLPath); statErr == nil {
			result := spliceDerivedPart(in, entry.AppendedPartRef, entry.ModifiedMusicXMLPath, true)
			result.TransformID, result.TransformHash = entry.TransformID, entry.TransformHash
			return result, nil
		}
	}

	partID := derivedPartID(hash)
	sourcePart := Part{}
	if in.SourcePartIndex >= 0 && in.SourcePartIndex < len(in.Score.Parts) {
		sourcePart = in.Score.Parts[in.SourcePartIndex]
	}
	partName := derivedPartName(sourcePart, in.TargetVoicePartID, partID)
	ref := AppendedPartRef{PartID: partID, PartName: partName}

	if in.HiddenDefaultLane {
		result := &MaterializeResult{
			TransformID:          transformID,
			TransformHash:        hash,
			ScoreFingerprint:     fingerprint,
			AppendedPartRef:      ref,
			HiddenDefaultLane:    true,
		}
		spliceIntoScore(in.Score, Part{PartID: partID, PartName: partName, Notes: in.DerivedNotes, sourcePartIndex: in.SourcePartIndex, hasSourceIndex: true})
		result.PartIndex = len(in.Score.Parts) - 1
		return result, nil
	}

	var modifiedPath string
	if in.Score.SourceMusicXMLPath != "" {
		transformedPart := Part{PartID: partID, PartName: partName, Notes: in.DerivedNotes, sourcePartIndex: in.SourcePartIndex, hasSourceIndex: true}
		path, appendErr := AppendDerivedPartToMusicXML(in.Score.SourceMusicXMLPath, transformedPart, hash)
		if appendErr == nil {
			modifiedPath = path
		}
	}

	indexMu.Lock()
	index[artifactKey] = ArtifactEntry{
		TransformID:          transformID,
		TransformHash:        hash,
		ScoreFingerprint:     fingerprint,
		AppendedPartRef:      ref,
		ModifiedMusicXMLPath: modifiedPath,
	}
	indexMu.Unlock()

	result := spliceDerivedPart(in, ref, modifiedPath, false)
	result.TransformID, result.TransformHash = transformID, hash
	return result, nil
}

func spliceDerivedPart(in MaterializeInput, ref AppendedPartRef, modifiedPath string, reused bool) *MaterializeResult {
	spliceIntoScore(in.Score, Part{PartID: ref.PartID, PartName: ref.PartName, Notes: in.DerivedNotes, sourcePartIndex: in.SourcePartIndex, hasSourceIndex: true})
	partIndex := len(in.Score.Parts) - 1

	fingerprint, _ := ScoreFingerprint(in.Score)
	return &MaterializeResult{
		AppendedPartRef:      ref,
		ModifiedMusicXMLPath: modifiedPath,
		ReusedTransform:      reused,
		PartIndex:            partIndex,
		ScoreFingerprint:     fingerprint,
	}
}

func spliceIntoScore(score *Score, part Part) {
	for i, p := range score.Parts {
		if p.PartID == part.PartID {
			score.Parts[i] = part
			return
		}
	}
	score.Parts = append(score.Parts, part)
	if score.VoicePartTransforms == nil {
		score.VoicePartTransforms = map[string]any{}
	}
	score.VoicePartTransforms[part.PartID] = map[string]any{
		"part_name":  part.PartName,
		"note_count": len(part.Notes),
	}
}
