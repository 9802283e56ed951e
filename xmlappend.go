package voiceparts

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// AppendDerivedPartToMusicXML serializes transformedPart and appends it to
// the MusicXML document at sourcePath, producing
// "<stem>.derived_<first-10-hex>.xml" next to the source (or in a temp
// directory if writing there fails), and returns the written path (spec
// §4.10 "XML append algorithm").
func AppendDerivedPartToMusicXML(sourcePath string, transformedPart Part, transformHash string) (string, error) {
	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", err
	}

	doc, err := parseMusicXML(raw)
	if err != nil {
		return "", err
	}

	referenceIdx := pickReferencePart(doc, transformedPart)
	appendPartToDocument(doc, transformedPart, referenceIdx)

	out, err := renderMusicXML(doc)
	if err != nil {
		return "", err
	}

	stem := normalizeDerivedStem(strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath)))
	filename := fmt.Sprintf("%s.derived_%s.xml", stem, strings.ToLower(transformHash[:10]))

	destDir := filepath.Dir(sourcePath)
	dest := filepath.Join(destDir, filename)
	if err := os.WriteFile(dest, out, 0o644); err != nil {
		tmpDir := os.TempDir()
		dest = filepath.Join(tmpDir, filename)
		if err2 := os.WriteFile(dest, out, 0o644); err2 != nil {
			return "", err2
		}
	}
	return dest, nil
}

// musicXMLDoc is the minimal structural model the append algorithm needs:
// an ordered list of <measure> element trees per part, plus the part-list
// scorePart entries, preserving everything else as opaque bytes so
// unrelated document content round-trips untouched.
type musicXMLDoc struct {
	raw           []byte
	partList      []scorePartEntry
	parts         []xmlPart
	divisions     int
	noteByMeasure map[int][]Note
}

type scorePartEntry struct {
	ID   string
	Name string
}

type xmlPart struct {
	ID       string
	Measures []xmlMeasure
}

type xmlMeasure struct {
	Number     int
	Attributes []byte // raw <attributes>...</attributes>, if present
	TimeBeats  int
	TimeBeatType int
}

// parseMusicXML walks the document with the stdlib XML tokenizer and
// extracts the part-list and per-part measure structure needed to append a
// new part (spec §4.10). Unknown/unrelated elements are not retained in
// this in-memory model; renderMusicXML splices the new part's markup into
// the original raw bytes, so everything else in the source is left
// untouched.
func parseMusicXML(raw []byte) (*musicXMLDoc, error) {
	doc := &musicXMLDoc{raw: raw, divisions: 1}
	dec := xml.NewDecoder(bytes.NewReader(raw))

	var currentPart *xmlPart
	var currentMeasure *xmlMeasure
	var inPartList bool
	var inAttributes bool
	var attrBuf bytes.Buffer

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "part-list":
				inPartList = true
			case "score-part":
				if inPartList {
					entry := scorePartEntry{ID: attrValue(t, "id")}
					doc.partList = append(doc.partList, entry)
				}
			case "part-name":
				if inPartList && len(doc.partList) > 0 {
					var name string
					dec.DecodeElement(&name, &t)
					doc.partList[len(doc.partList)-1].Name = name
				}
			case "part":
				if !inPartList {
					p := xmlPart{ID: attrValue(t, "id")}
					currentPart = &p
				}
			case "measure":
				if currentPart != nil {
					num, _ := strconv.Atoi(attrValue(t, "number"))
					m := xmlMeasure{Number: num}
					currentMeasure = &m
				}
			case "attributes":
				if currentMeasure != nil {
					inAttributes = true
					attrBuf.Reset()
				}
			case "divisions":
				if inAttributes {
					var v int
					dec.DecodeElement(&v, &t)
					if v > 0 {
						doc.divisions = v
					}
				}
			case "beats":
				if inAttributes && currentMeasure != nil {
					var v string
					dec.DecodeElement(&v, &t)
					n, _ := strconv.Atoi(v)
					currentMeasure.TimeBeats = n
				}
			case "beat-type":
				if inAttributes && currentMeasure != nil {
					var v string
					dec.DecodeElement(&v, &t)
					n, _ := strconv.Atoi(v)
					currentMeasure.TimeBeatType = n
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "part-list":
				inPartList = false
			case "attributes":
				inAttributes = false
			case "measure":
				if currentPart != nil && currentMeasure != nil {
					currentPart.Measures = append(currentPart.Measures, *currentMeasure)
					currentMeasure = nil
				}
			case "part":
				if currentPart != nil {
					doc.parts = append(doc.parts, *currentPart)
					currentPart = nil
				}
			}
		}
	}
	return doc, nil
}

func attrValue(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// pickReferencePart selects the reference part for time-signature/division
// inheritance: by stashed source part index, else by part_id match, else
// the first part distinct from the new one (spec §4.10).
func pickReferencePart(doc *musicXMLDoc, transformedPart Part) int {
	if transformedPart.hasSourceIndex && transformedPart.sourcePartIndex >= 0 && transformedPart.sourcePartIndex < len(doc.parts) {
		return transformedPart.sourcePartIndex
	}
	for i, p := range doc.parts {
		if p.ID == transformedPart.PartID {
			return i
		}
	}
	if len(doc.parts) > 0 {
		return 0
	}
	return -1
}

// appendPartToDocument registers the new score-part/part entries on the
// in-memory model; renderMusicXML performs the actual byte-level splice.
func appendPartToDocument(doc *musicXMLDoc, transformedPart Part, referenceIdx int) {
	for i, e := range doc.partList {
		if e.ID == transformedPart.PartID {
			doc.partList[i].Name = transformedPart.PartName
			return
		}
	}
	doc.partList = append(doc.partList, scorePartEntry{ID: transformedPart.PartID, Name: transformedPart.PartName})

	var reference xmlPart
	if referenceIdx >= 0 && referenceIdx < len(doc.parts) {
		reference = doc.parts[referenceIdx]
	}

	newPart := xmlPart{ID: transformedPart.PartID}
	byMeasure := map[int][]Note{}
	for _, n := range transformedPart.Notes {
		byMeasure[n.MeasureNumber] = append(byMeasure[n.MeasureNumber], n)
	}

	beats, beatType := 4, 4
	for _, refMeasure := range reference.Measures {
		if refMeasure.TimeBeats > 0 {
			beats, beatType = refMeasure.TimeBeats, refMeasure.TimeBeatType
		}
		m := xmlMeasure{Number: refMeasure.Number, TimeBeats: beats, TimeBeatType: beatType}
		newPart.Measures = append(newPart.Measures, m)
	}
	if len(reference.Measures) == 0 {
		var numbers []int
		for n := range byMeasure {
			numbers = append(numbers, n)
		}
		sort.Ints(numbers)
		for _, n := range numbers {
			newPart.Measures = append(newPart.Measures, xmlMeasure{Number: n, TimeBeats: beats, TimeBeatType: beatType})
		}
	}

	for i := range doc.parts {
		if doc.parts[i].ID == transformedPart.PartID {
			doc.parts[i] = newPart
			return
		}
	}
	doc.parts = append(doc.parts, newPart)
	doc.noteByMeasure = byMeasure
}

// renderMusicXML builds the new <score-part>/<part> markup as plain
// strings and splices it into the original source bytes just before
// </part-list> and </score-partwise>. Everything else in the source is
// left untouched, so unrelated parts stay byte-identical and insertion is
// idempotent by construction: there is no re-serialization step that could
// reorder existing content.
func renderMusicXML(doc *musicXMLDoc) ([]byte, error) {
	source := string(doc.raw)

	newPartXML, err := renderNewPart(doc)
	if err != nil {
		return nil, err
	}

	scorePartXML := fmt.Sprintf("<score-part id=\"%s\"><part-name>%s</part-name></score-part>", doc.lastPartListID(), xmlEscape(doc.lastPartListName()))

	closePartList := "</part-list>"
	if idx := strings.LastIndex(source, closePartList); idx >= 0 {
		source = source[:idx] + scorePartXML + source[idx:]
	}

	closeScorePartwise := "</score-partwise>"
	if idx := strings.LastIndex(source, closeScorePartwise); idx >= 0 {
		source = source[:idx] + newPartXML + source[idx:]
	} else {
		source = source + newPartXML
	}

	return []byte(source), nil
}

func (d *musicXMLDoc) lastPartListID() string {
	if len(d.partList) == 0 {
		return ""
	}
	return d.partList[len(d.partList)-1].ID
}

func (d *musicXMLDoc) lastPartListName() string {
	if len(d.partList) == 0 {
		return ""
	}
	return d.partList[len(d.partList)-1].Name
}

func renderNewPart(doc *musicXMLDoc) (string, error) {
	if len(doc.parts) == 0 {
		return "", nil
	}
	newPart := doc.parts[len(doc.parts)-1]

	var b strings.Builder
	fmt.Fprintf(&b, `<part id="%s">`, xmlEscape(newPart.ID))
	for i, m := range newPart.Measures {
		fmt.Fprintf(&b, `<measure number="%d">`, m.Number)
		if i == 0 {
			fmt.Fprintf(&b, `<attributes><divisions>%d</divisions><time><beats>%d</beats><beat-type>%d</beat-type></time></attributes>`, doc.divisions, m.TimeBeats, m.TimeBeatType)
		}
		notes := doc.noteByMeasure[m.Number]
		if len(notes) == 0 {
			writeFullMeasureRest(&b, m, doc.divisions)
		} else {
			for _, n := range notes {
				writeNoteElement(&b, n, doc.divisions)
			}
		}
		b.WriteString(`</measure>`)
	}
	b.WriteString(`</part>`)
	return b.String(), nil
}

func writeFullMeasureRest(b *strings.Builder, m xmlMeasure, divisions int) {
	beats := m.TimeBeats
	if beats <= 0 {
		beats = 4
	}
	duration := beats * divisions
	fmt.Fprintf(b, `<note><rest/><duration>%d</duration><voice>1</voice></note>`, duration)
}

func writeNoteElement(b *strings.Builder, n Note, divisions int) {
	duration := int(math.Round(n.DurationBeats * float64(divisions)))
	if duration < 1 {
		duration = 1
	}
	b.WriteString(`<note>`)
	if n.IsRest {
		b.WriteString(`<rest/>`)
	} else {
		step, alter, octave := pitchToStepAlterOctave(n.PitchMIDI)
		fmt.Fprintf(b, `<pitch><step>%s</step>`, step)
		if alter != 0 {
			fmt.Fprintf(b, `<alter>%d</alter>`, alter)
		}
		fmt.Fprintf(b, `<octave>%d</octave></pitch>`, octave)
	}
	fmt.Fprintf(b, `<duration>%d</duration><voice>1</voice><type>%s</type>`, duration, noteTypeForDuration(n.DurationBeats))
	if n.HasLyric() && n.Lyric != nil {
		fmt.Fprintf(b, `<lyric><text>%s</text></lyric>`, xmlEscape(*n.Lyric))
	}
	b.WriteString(`</note>`)
}

// pitchToStepAlterOctave derives MusicXML step/alter/octave from a MIDI
// pitch number using a fixed sharp-based spelling (spec §4.10 "else
// computed from MIDI").
func pitchToStepAlterOctave(pitchMIDI *float64) (step string, alter int, octave int) {
	if pitchMIDI == nil {
		return "C", 0, 4
	}
	midi := int(math.Round(*pitchMIDI))
	names := []struct {
		step  string
		alter int
	}{
		{"C", 0}, {"C", 1}, {"D", 0}, {"D", 1}, {"E", 0}, {"F", 0},
		{"F", 1}, {"G", 0}, {"G", 1}, {"A", 0}, {"A", 1}, {"B", 0},
	}
	pc := ((midi % 12) + 12) % 12
	octave = midi/12 - 1
	return names[pc].step, names[pc].alter, octave
}

// noteTypeForDuration buckets a beat duration into a MusicXML note type by
// threshold (spec §4.10).
func noteTypeForDuration(beats float64) string {
	switch {
	case beats >= 4:
		return "whole"
	case beats >= 2:
		return "half"
	case beats >= 1:
		return "quarter"
	case beats >= 0.5:
		return "eighth"
	default:
		return "16th"
	}
}

func xmlEscape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
