package fontgen

import (
	"testing"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/test"
)

func TestCoverageRoundTrip(t *testing.T) {
	// sparse glyphs stay in format 1, long runs switch to format 2
	for _, glyphs := range [][]uint16{
		{2, 5, 9},
		{10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
		{1, 2, 3, 4, 5, 100, 101, 102, 103, 104},
	} {
		w := parse.NewBinaryWriter([]byte{})
		writeCoverage(w, glyphs)
		parsed, err := parseCoverage(w.Bytes())
		test.Error(t, err)
		test.T(t, parsed, glyphs)
	}
}

func TestClassDefRoundTrip(t *testing.T) {
	classes := map[uint16]uint16{2: 1, 3: 1, 4: 1, 9: 2, 20: 1}
	w := parse.NewBinaryWriter([]byte{})
	writeClassDef(w, classes)
	parsed, err := parseClassDef(w.Bytes())
	test.Error(t, err)
	test.T(t, parsed, classes)
}

func TestGsubSingleEncode(t *testing.T) {
	// a constant delta is stored as format 1
	st := &gsubSingle{From: []uint16{4, 2, 6}, To: []uint16{7, 5, 9}}
	b, err := st.encode()
	test.Error(t, err)
	test.T(t, b[1], byte(1)) // substFormat

	parsed, err := parseGsubSingle(b)
	test.Error(t, err)
	test.T(t, parsed.(*gsubSingle).From, []uint16{2, 4, 6})
	test.T(t, parsed.(*gsubSingle).To, []uint16{5, 7, 9})

	// mixed deltas fall back to format 2
	st = &gsubSingle{From: []uint16{2, 4}, To: []uint16{10, 3}}
	b, err = st.encode()
	test.Error(t, err)
	test.T(t, b[1], byte(2))  // substFormat
	test.T(t, b[3], byte(10)) // coverage follows the header and substitute array

	parsed, err = parseGsubSingle(b)
	test.Error(t, err)
	test.T(t, parsed.(*gsubSingle).From, []uint16{2, 4})
	test.T(t, parsed.(*gsubSingle).To, []uint16{10, 3})
}

func TestGsubMultipleRoundTrip(t *testing.T) {
	st := &gsubMultiple{From: []uint16{3, 8}, To: [][]uint16{{4, 5}, {9, 10, 11}}}
	b, err := st.encode()
	test.Error(t, err)
	parsed, err := parseGsubSequence(b, false)
	test.Error(t, err)
	test.T(t, parsed.(*gsubMultiple).From, st.From)
	test.T(t, parsed.(*gsubMultiple).To, st.To)
}

func TestGsubLigatureRoundTrip(t *testing.T) {
	// ligatures with the same first glyph keep their relative order
	st := &gsubLigature{Ligatures: []ligature{
		{From: []uint16{1, 2, 3}, To: 10},
		{From: []uint16{1, 2}, To: 11},
		{From: []uint16{2, 2}, To: 12},
	}}
	b, err := st.encode()
	test.Error(t, err)
	parsed, err := parseGsubLigature(b)
	test.Error(t, err)
	test.T(t, parsed.(*gsubLigature).Ligatures, st.Ligatures)
}

func TestGposSingleRoundTrip(t *testing.T) {
	// identical records collapse into format 1
	v := valueRecord{Format: 0x0004, XAdvance: -25}
	st := &gposSingle{Cov: []uint16{5, 7}, Values: []valueRecord{v, v}}
	b, err := st.encode()
	test.Error(t, err)
	test.T(t, b[1], byte(1)) // posFormat

	parsed, err := parseGposSingle(b)
	test.Error(t, err)
	test.T(t, parsed.(*gposSingle).Cov, st.Cov)
	test.T(t, parsed.(*gposSingle).Values, st.Values)
}

func TestGposPairGlyphsRoundTrip(t *testing.T) {
	st := &gposPairGlyphs{Pairs: []pairValue{
		{Left: 2, Right: 3, V1: valueRecord{Format: 0x0004, XAdvance: -40}},
		{Left: 2, Right: 5, V1: valueRecord{Format: 0x0004, XAdvance: -10}},
		{Left: 4, Right: 3, V1: valueRecord{Format: 0x0004, XAdvance: 15}},
	}}
	b, err := st.encode()
	test.Error(t, err)
	parsed, err := parseGposPair(b)
	test.Error(t, err)
	test.T(t, parsed.(*gposPairGlyphs).Pairs, st.Pairs)
}

func TestGposPairClassesRoundTrip(t *testing.T) {
	st := &gposPairClasses{
		Format1:     0x0004,
		Cov:         []uint16{2, 3},
		Class1:      map[uint16]uint16{3: 1},
		Class2:      map[uint16]uint16{5: 1},
		Class1Count: 2,
		Class2Count: 2,
		Values: [][2]valueRecord{
			{{Format: 0x0004}, {}},
			{{Format: 0x0004, XAdvance: -8}, {}},
			{{Format: 0x0004}, {}},
			{{Format: 0x0004, XAdvance: -16}, {}},
		},
	}
	b, err := st.encode()
	test.Error(t, err)
	parsed, err := parseGposPair(b)
	test.Error(t, err)
	n := parsed.(*gposPairClasses)
	test.T(t, n.Cov, st.Cov)
	test.T(t, n.Class1, st.Class1)
	test.T(t, n.Class2, st.Class2)
	test.T(t, n.Class1Count, st.Class1Count)
	test.T(t, n.Class2Count, st.Class2Count)
}

func TestLayoutRoundTrip(t *testing.T) {
	in := &layoutTable{
		Kind: gsubKind,
		Scripts: []script{{
			Tag:     "hani",
			Default: &langSys{Required: 0xFFFF, Features: []uint16{0, 1}},
			LangSys: []langSys{{Tag: "ZHT ", Required: 1, Features: []uint16{0}}},
		}},
		Features: []feature{
			{Tag: "liga", Lookups: []uint16{1}},
			{Tag: "ccmp", Lookups: []uint16{0}},
		},
		Lookups: []*lookup{
			{Type: gsubLookupSingle, Flag: 0x0008, Subtables: []layoutSubtable{
				&gsubSingle{From: []uint16{2, 3}, To: []uint16{4, 5}},
			}},
			{Type: gsubLookupLigature, Subtables: []layoutSubtable{
				&gsubLigature{Ligatures: []ligature{{From: []uint16{2, 3}, To: 6}}},
			}},
		},
	}
	in.sortFeatures()
	b, err := in.Write()
	test.Error(t, err)

	out, err := parseLayout(b, gsubKind)
	test.Error(t, err)
	test.T(t, out.Scripts, in.Scripts)
	test.T(t, out.Features, in.Features)
	test.T(t, len(out.Lookups), 2)
	test.T(t, out.Lookups[0].Flag, uint16(0x0008))
	test.T(t, out.Lookups[0].Subtables[0], in.Lookups[0].Subtables[0])
	test.T(t, out.Lookups[1].Subtables[0], in.Lookups[1].Subtables[0])
}

func TestLayoutExtensionLookups(t *testing.T) {
	// an oversized subtable does not fit 16-bit offsets and must round-trip through
	// extension lookups
	st := &gsubSingle{}
	for i := 0; i < 20000; i++ {
		st.From = append(st.From, uint16(2*i))
		st.To = append(st.To, uint16(2*i+i%2))
	}
	in := &layoutTable{
		Kind:     gsubKind,
		Scripts:  []script{{Tag: "DFLT", Default: &langSys{Required: 0xFFFF, Features: []uint16{0}}}},
		Features: []feature{{Tag: "liga", Lookups: []uint16{0}}},
		Lookups:  []*lookup{{Type: gsubLookupSingle, Subtables: []layoutSubtable{st}}},
	}
	b, err := in.Write()
	test.Error(t, err)

	out, err := parseLayout(b, gsubKind)
	test.Error(t, err)
	test.T(t, len(out.Lookups), 1)
	test.T(t, out.Lookups[0].Type, uint16(gsubLookupSingle))
	parsed := out.Lookups[0].Subtables[0].(*gsubSingle)
	test.T(t, len(parsed.From), 20000)
	test.T(t, parsed.From[12345], uint16(24690))
	test.T(t, parsed.To[12345], uint16(24691))
	test.T(t, parsed.To[12344], uint16(24688))
}

func TestRemapCompactsIndices(t *testing.T) {
	// removing glyph 3 empties the first lookup; the feature and language system
	// indices must shift down
	table := &layoutTable{
		Kind: gsubKind,
		Scripts: []script{{
			Tag:     "DFLT",
			Default: &langSys{Required: 0, Features: []uint16{0, 1}},
		}},
		Features: []feature{
			{Tag: "ccmp", Lookups: []uint16{0}},
			{Tag: "liga", Lookups: []uint16{1}},
		},
		Lookups: []*lookup{
			{Type: gsubLookupSingle, Subtables: []layoutSubtable{
				&gsubSingle{From: []uint16{3}, To: []uint16{4}},
			}},
			{Type: gsubLookupLigature, Subtables: []layoutSubtable{
				&gsubLigature{Ligatures: []ligature{{From: []uint16{1, 2}, To: 5}}},
			}},
		},
	}
	table.remap(map[uint16]uint16{0: 0, 1: 1, 2: 2, 4: 3, 5: 4})

	test.T(t, len(table.Lookups), 1)
	test.T(t, table.Lookups[0].Type, uint16(gsubLookupLigature))
	test.T(t, len(table.Features), 1)
	test.T(t, table.Features[0].Tag, "liga")
	test.T(t, table.Features[0].Lookups, []uint16{0})
	// the required ccmp feature is gone, the reference falls back to none
	test.T(t, table.Scripts[0].Default.Required, uint16(0xFFFF))
	test.T(t, table.Scripts[0].Default.Features, []uint16{0})

	lig := table.Lookups[0].Subtables[0].(*gsubLigature)
	test.T(t, lig.Ligatures, []ligature{{From: []uint16{1, 2}, To: 4}})
}

func TestRemapDropsAlternates(t *testing.T) {
	// missing alternates are dropped one by one, the entry goes when none are left
	st := &gsubAlternate{
		From: []uint16{1, 2},
		To:   [][]uint16{{3, 4}, {4}},
	}
	n := st.remap(map[uint16]uint16{1: 1, 2: 2, 3: 3})
	test.T(t, n.(*gsubAlternate).From, []uint16{1})
	test.T(t, n.(*gsubAlternate).To, [][]uint16{{3}})
}

func TestRemapDropsUnsupported(t *testing.T) {
	st := unsupportedSubtable{Type: 6}
	if st.remap(map[uint16]uint16{0: 0}) != nil {
		test.Fail(t, "unsupported subtables must be dropped")
	}
}

func TestSortFeatures(t *testing.T) {
	table := &layoutTable{
		Kind: gsubKind,
		Scripts: []script{{
			Tag:     "DFLT",
			Default: &langSys{Required: 0xFFFF, Features: []uint16{0, 1}},
		}},
		Features: []feature{
			{Tag: "liga", Lookups: []uint16{0}},
			{Tag: "ccmp", Lookups: []uint16{1}},
		},
	}
	table.sortFeatures()
	test.T(t, table.Features[0].Tag, "ccmp")
	test.T(t, table.Features[1].Tag, "liga")
	test.T(t, table.Scripts[0].Default.Features, []uint16{1, 0})
}

func TestVerifyCatchesDanglingGlyphs(t *testing.T) {
	table := &layoutTable{
		Kind: gsubKind,
		Lookups: []*lookup{{Type: gsubLookupSingle, Subtables: []layoutSubtable{
			&gsubSingle{From: []uint16{2}, To: []uint16{99}},
		}}},
	}
	test.Error(t, table.verify(100))
	err := table.verify(50)
	if _, ok := err.(IntegrityError); !ok {
		test.Fail(t, "expected IntegrityError, got", err)
	}
}
