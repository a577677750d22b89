package fontgen

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/freetype/truetype"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/test"
	xsfnt "golang.org/x/image/font/sfnt"
)

// square returns a simple one-contour glyph outline.
func square() []byte {
	w := parse.NewBinaryWriter([]byte{})
	w.WriteInt16(1) // numberOfContours
	w.WriteInt16(0)
	w.WriteInt16(0)
	w.WriteInt16(100)
	w.WriteInt16(100)
	w.WriteUint16(3) // endPtsOfContours
	w.WriteUint16(0) // instructionLength
	for i := 0; i < 4; i++ {
		w.WriteByte(0x01) // on curve, int16 coordinates
	}
	for _, dx := range []int16{0, 100, 0, -100} {
		w.WriteInt16(dx)
	}
	for _, dy := range []int16{0, 0, 100, -100} {
		w.WriteInt16(dy)
	}
	return w.Bytes()
}

// compositeOf returns a composite glyph built from the given components.
func compositeOf(glyphIDs ...uint16) []byte {
	w := parse.NewBinaryWriter([]byte{})
	w.WriteInt16(-1) // numberOfContours
	w.WriteInt16(0)
	w.WriteInt16(0)
	w.WriteInt16(100)
	w.WriteInt16(100)
	for i, glyphID := range glyphIDs {
		flags := uint16(0x0002) // ARGS_ARE_XY_VALUES
		if i+1 < len(glyphIDs) {
			flags |= glyfMoreComponents
		}
		w.WriteUint16(flags)
		w.WriteUint16(glyphID)
		w.WriteByte(0) // dx
		w.WriteByte(0) // dy
	}
	return w.Bytes()
}

// buildTestFont returns a TrueType font with six glyphs:
//
//	0 .notdef (empty), 1 'A', 2 'B', 3 'C', 4 ligature A+B (unmapped),
//	5 'D' (composite of glyphs 1 and 3)
//
// with a GSUB ligature lookup A+B -> 4, GPOS pair rules (1,2) and (1,3), and kern
// pairs (1,2) and (1,3).
func buildTestFont(t *testing.T) []byte {
	head := parse.NewBinaryWriter([]byte{})
	head.WriteUint32(0x00010000) // version
	head.WriteUint32(0x00010000) // fontRevision
	head.WriteUint32(0)          // checksumAdjustment
	head.WriteUint32(0x5F0F3CF5) // magicNumber
	head.WriteUint16(0x0003)     // flags
	head.WriteUint16(1000)       // unitsPerEm
	head.WriteInt64(0)           // created
	head.WriteInt64(0)           // modified
	head.WriteInt16(0)           // xMin
	head.WriteInt16(0)           // yMin
	head.WriteInt16(100)         // xMax
	head.WriteInt16(100)         // yMax
	head.WriteUint16(0)          // macStyle
	head.WriteUint16(8)          // lowestRecPPEM
	head.WriteInt16(2)           // fontDirectionHint
	head.WriteInt16(0)           // indexToLocFormat
	head.WriteInt16(0)           // glyphDataFormat

	hhea := parse.NewBinaryWriter([]byte{})
	hhea.WriteUint32(0x00010000) // version
	hhea.WriteInt16(800)         // ascender
	hhea.WriteInt16(-200)        // descender
	hhea.WriteInt16(0)           // lineGap
	hhea.WriteUint16(500)        // advanceWidthMax
	hhea.WriteInt16(0)           // minLeftSideBearing
	hhea.WriteInt16(0)           // minRightSideBearing
	hhea.WriteInt16(100)         // xMaxExtent
	hhea.WriteInt16(1)           // caretSlopeRise
	hhea.WriteInt16(0)           // caretSlopeRun
	hhea.WriteInt16(0)           // caretOffset
	hhea.WriteBytes(make([]byte, 8))
	hhea.WriteInt16(0)  // metricDataFormat
	hhea.WriteUint16(6) // numberOfHMetrics

	hmtx := parse.NewBinaryWriter([]byte{})
	for i := 0; i < 6; i++ {
		hmtx.WriteUint16(500)
		hmtx.WriteInt16(0)
	}

	maxp := parse.NewBinaryWriter([]byte{})
	maxp.WriteUint32(0x00010000)
	maxp.WriteUint16(6) // numGlyphs
	maxp.WriteBytes(make([]byte, 26))

	name := parse.NewBinaryWriter([]byte{})
	name.WriteUint16(0)  // version
	name.WriteUint16(1)  // count
	name.WriteUint16(18) // storageOffset
	name.WriteUint16(1)  // platformID, Macintosh
	name.WriteUint16(0)  // encodingID, Roman
	name.WriteUint16(0)  // languageID
	name.WriteUint16(2)  // nameID, subfamily
	name.WriteUint16(7)  // length
	name.WriteUint16(0)  // offset
	name.WriteString("Regular")

	os2 := parse.NewBinaryWriter([]byte{})
	os2.WriteUint16(4) // version
	os2.WriteBytes(make([]byte, 60))
	os2.WriteUint16(0x0040) // fsSelection, regular
	os2.WriteUint16(0x41)   // usFirstCharIndex
	os2.WriteUint16(0x44)   // usLastCharIndex
	os2.WriteInt16(800)     // sTypoAscender
	os2.WriteInt16(-200)    // sTypoDescender
	os2.WriteInt16(0)       // sTypoLineGap
	os2.WriteUint16(800)    // usWinAscent
	os2.WriteUint16(200)    // usWinDescent
	os2.WriteUint32(0)      // ulCodePageRange1
	os2.WriteUint32(0)      // ulCodePageRange2
	os2.WriteInt16(500)     // sxHeight
	os2.WriteInt16(700)     // sCapHeight
	os2.WriteUint16(0)      // usDefaultChar
	os2.WriteUint16(0x20)   // usBreakChar
	os2.WriteUint16(2)      // usMaxContext

	post := parse.NewBinaryWriter([]byte{})
	post.WriteUint32(0x00030000)
	post.WriteBytes(make([]byte, 28))

	glyf := parse.NewBinaryWriter([]byte{})
	offsets := []uint32{0, 0} // .notdef is empty
	for i := 0; i < 3; i++ {
		glyf.WriteBytes(square())
		offsets = append(offsets, glyf.Len())
	}
	offsets = append(offsets, glyf.Len()) // glyph 4 is empty
	glyf.WriteBytes(compositeOf(1, 3))
	offsets = append(offsets, glyf.Len())

	loca := parse.NewBinaryWriter([]byte{})
	for _, offset := range offsets {
		loca.WriteUint16(uint16(offset / 2))
	}

	kern := parse.NewBinaryWriter([]byte{})
	kern.WriteUint16(0)  // version
	kern.WriteUint16(1)  // nTables
	kern.WriteUint16(0)  // subtable version
	kern.WriteUint16(26) // length
	kern.WriteUint8(0)   // format
	kern.WriteUint8(1)   // coverage, horizontal
	kern.WriteUint16(2)  // nPairs
	kern.WriteUint16(12) // searchRange
	kern.WriteUint16(1)  // entrySelector
	kern.WriteUint16(0)  // rangeShift
	kern.WriteUint32(1<<16 | 2)
	kern.WriteInt16(-40)
	kern.WriteUint32(1<<16 | 3)
	kern.WriteInt16(-20)

	gsubTable := &layoutTable{
		Kind:     gsubKind,
		Scripts:  []script{{Tag: "DFLT", Default: &langSys{Required: 0xFFFF, Features: []uint16{0}}}},
		Features: []feature{{Tag: "liga", Lookups: []uint16{0}}},
		Lookups: []*lookup{{Type: gsubLookupLigature, Subtables: []layoutSubtable{
			&gsubLigature{Ligatures: []ligature{{From: []uint16{1, 2}, To: 4}}},
		}}},
	}
	gsub, err := gsubTable.Write()
	test.Error(t, err)

	gposTable := &layoutTable{
		Kind:     gposKind,
		Scripts:  []script{{Tag: "DFLT", Default: &langSys{Required: 0xFFFF, Features: []uint16{0}}}},
		Features: []feature{{Tag: "kern", Lookups: []uint16{0}}},
		Lookups: []*lookup{{Type: gposLookupPair, Subtables: []layoutSubtable{
			&gposPairGlyphs{Pairs: []pairValue{
				{Left: 1, Right: 2, V1: valueRecord{Format: 0x0004, XAdvance: -50}},
				{Left: 1, Right: 3, V1: valueRecord{Format: 0x0004, XAdvance: -30}},
			}},
		}}},
	}
	gpos, err := gposTable.Write()
	test.Error(t, err)

	sfnt := &SFNT{
		IsTrueType: true,
		Tables: map[string][]byte{
			"cmap": cmapWrite(map[rune]uint16{'A': 1, 'B': 2, 'C': 3, 'D': 5}),
			"head": head.Bytes(),
			"hhea": hhea.Bytes(),
			"hmtx": hmtx.Bytes(),
			"maxp": maxp.Bytes(),
			"name": name.Bytes(),
			"OS/2": os2.Bytes(),
			"post": post.Bytes(),
			"glyf": glyf.Bytes(),
			"loca": loca.Bytes(),
			"kern": kern.Bytes(),
			"GSUB": gsub,
			"GPOS": gpos,
		},
	}
	return sfnt.Write()
}

func TestParseTestFont(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)
	test.T(t, sfnt.NumGlyphs(), uint16(6))
	test.T(t, sfnt.GlyphIndex('A'), uint16(1))
	test.T(t, sfnt.GlyphIndex('D'), uint16(5))
	test.T(t, sfnt.GlyphAdvance(1), uint16(500))
	test.T(t, sfnt.Kerning(1, 2), int16(-40))
	test.T(t, sfnt.Subfamily(), "Regular")

	components, err := sfnt.Glyf.Components(5)
	test.Error(t, err)
	test.T(t, components, []uint16{1, 3})
}

func TestSubsetDropsBrokenLigature(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	// B is removed, so the A+B ligature and every rule mentioning them must go
	glyphMap, err := sfnt.Subset(RuneSet{'A': true, 'C': true})
	test.Error(t, err)
	test.T(t, sfnt.NumGlyphs(), uint16(3))
	test.T(t, glyphMap[0], uint16(0))
	test.T(t, glyphMap[1], uint16(1))
	test.T(t, glyphMap[3], uint16(2))
	if _, ok := glyphMap[2]; ok {
		test.Fail(t, "glyph 2 must be removed")
	}
	if _, ok := glyphMap[4]; ok {
		test.Fail(t, "ligature glyph must be removed")
	}
	if sfnt.Gsub != nil {
		test.Fail(t, "GSUB must be dropped when no rule remains")
	}

	// the pair rule (A,B) is dropped, (A,C) is remapped
	test.That(t, sfnt.Gpos != nil, "GPOS must remain")
	test.T(t, len(sfnt.Gpos.Lookups), 1)
	pairs := sfnt.Gpos.Lookups[0].Subtables[0].(*gposPairGlyphs)
	test.T(t, len(pairs.Pairs), 1)
	test.T(t, pairs.Pairs[0].Left, uint16(1))
	test.T(t, pairs.Pairs[0].Right, uint16(2))
	test.T(t, pairs.Pairs[0].V1.XAdvance, int16(-30))

	// same for the kern pairs
	test.T(t, sfnt.Kerning(1, 2), int16(-20))

	// the output must reparse
	out, err := ParseSFNT(sfnt.Write(), 0)
	test.Error(t, err)
	test.T(t, out.NumGlyphs(), uint16(3))
	test.T(t, out.GlyphIndex('A'), uint16(1))
	test.T(t, out.GlyphIndex('C'), uint16(2))
	test.T(t, out.GlyphIndex('B'), uint16(0))
}

func TestSubsetKeepsLigature(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	glyphMap, err := sfnt.Subset(RuneSet{'A': true, 'B': true})
	test.Error(t, err)
	test.T(t, sfnt.NumGlyphs(), uint16(4)) // .notdef, A, B, ligature
	test.T(t, glyphMap[4], uint16(3))

	test.That(t, sfnt.Gsub != nil, "GSUB must remain")
	lig := sfnt.Gsub.Lookups[0].Subtables[0].(*gsubLigature)
	test.T(t, len(lig.Ligatures), 1)
	test.T(t, lig.Ligatures[0].From[0], uint16(1))
	test.T(t, lig.Ligatures[0].From[1], uint16(2))
	test.T(t, lig.Ligatures[0].To, uint16(3))
}

func TestSubsetRenumbersComposite(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	glyphMap, err := sfnt.Subset(RuneSet{'D': true})
	test.Error(t, err)
	test.T(t, sfnt.NumGlyphs(), uint16(4)) // .notdef, both base glyphs, composite
	test.T(t, glyphMap[1], uint16(1))
	test.T(t, glyphMap[3], uint16(2))
	test.T(t, glyphMap[5], uint16(3))

	// every component must survive and be renumbered
	components, err := sfnt.Glyf.Components(3)
	test.Error(t, err)
	test.T(t, components, []uint16{1, 2})
}

func TestSubsetMonotone(t *testing.T) {
	sfnt1, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)
	sfnt2, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	glyphMap1, err := sfnt1.Subset(RuneSet{'A': true})
	test.Error(t, err)
	glyphMap2, err := sfnt2.Subset(RuneSet{'A': true, 'B': true, 'D': true})
	test.Error(t, err)

	for glyphID := range glyphMap1 {
		if _, ok := glyphMap2[glyphID]; !ok {
			test.Fail(t, "larger rune set must keep a superset of glyphs")
		}
	}
}

func TestSubsetKeepsNotdef(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	glyphMap, err := sfnt.Subset(RuneSet{})
	test.Error(t, err)
	test.T(t, glyphMap[0], uint16(0))
	test.T(t, sfnt.NumGlyphs(), uint16(1))
}

func TestAddConversion(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	_, err = sfnt.Subset(RuneSet{'A': true, 'B': true, 'C': true, 'D': true})
	test.Error(t, err)
	numGlyphs := sfnt.NumGlyphs()

	tables := &ConversionTables{
		Chars: []CharMapping{{From: 'A', To: 'C'}},
		Words: []WordMapping{{From: []rune("AB"), To: []rune("CD")}},
	}
	test.Error(t, sfnt.AddConversion(tables))

	// one pseudo glyph per word mapping, with zero advance
	test.T(t, sfnt.NumGlyphs(), numGlyphs+1)
	test.T(t, sfnt.GlyphAdvance(numGlyphs), uint16(0))

	// ligature, single, and multiple substitution lookups under the liga feature
	test.That(t, sfnt.Gsub != nil, "GSUB must exist")
	types := []uint16{}
	for _, l := range sfnt.Gsub.Lookups {
		types = append(types, l.Type)
	}
	test.T(t, len(types), 4) // the A+B ligature lookup plus the three conversion lookups
	test.T(t, types[1], uint16(gsubLookupLigature))
	test.T(t, types[2], uint16(gsubLookupSingle))
	test.T(t, types[3], uint16(gsubLookupMultiple))

	found := false
	for _, f := range sfnt.Gsub.Features {
		if f.Tag == "liga" && len(f.Lookups) == 3 {
			found = true
		}
	}
	test.That(t, found, "liga feature must hold the conversion lookups")

	// output font must be valid for independent parsers
	b := sfnt.Write()
	_, err = truetype.Parse(b)
	test.Error(t, err)
	_, err = xsfnt.Parse(b)
	test.Error(t, err)

	out, err := ParseSFNT(b, 0)
	test.Error(t, err)
	test.T(t, out.NumGlyphs(), numGlyphs+1)
}

func TestWriteDeterministic(t *testing.T) {
	run := func() []byte {
		sfnt, err := ParseSFNT(buildTestFont(t), 0)
		test.Error(t, err)
		_, err = sfnt.Subset(RuneSet{'A': true, 'C': true})
		test.Error(t, err)
		sfnt.Modified = time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
		return sfnt.Write()
	}
	if !bytes.Equal(run(), run()) {
		test.Fail(t, "identical runs must write identical bytes")
	}
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.ttf")
	output := filepath.Join(dir, "out.ttf")
	charTable := filepath.Join(dir, "chars.txt")
	wordTable := filepath.Join(dir, "words.txt")

	test.Error(t, os.WriteFile(input, buildTestFont(t), 0644))
	test.Error(t, os.WriteFile(charTable, []byte("A\tC\n"), 0644))
	test.Error(t, os.WriteFile(wordTable, []byte("AB\tCD\n"), 0644))

	err := Generate(Options{
		Input:     input,
		Output:    output,
		CharTable: charTable,
		WordTable: wordTable,
		Version:   2.5,
	})
	test.Error(t, err)

	b, err := os.ReadFile(output)
	test.Error(t, err)
	sfnt, err := ParseSFNT(b, 0)
	test.Error(t, err)
	test.T(t, sfnt.Head.FontRevision, uint32(2*65536+32768))
	test.That(t, sfnt.Gsub != nil, "GSUB must exist")
}

func TestGenerateEmptyMapping(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.ttf")
	output := filepath.Join(dir, "out.ttf")
	charTable := filepath.Join(dir, "chars.txt")

	test.Error(t, os.WriteFile(input, buildTestFont(t), 0644))
	test.Error(t, os.WriteFile(charTable, []byte(""), 0644))

	err := Generate(Options{Input: input, Output: output, CharTable: charTable})
	if _, ok := err.(ConfigurationError); !ok {
		test.Fail(t, "expected ConfigurationError, got", err)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		test.Fail(t, "no output file may be written")
	}
}
