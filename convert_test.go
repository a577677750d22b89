package fontgen

import (
	"testing"

	"github.com/tdewolff/test"
)

func TestChar2CharSubtables(t *testing.T) {
	mapping := map[rune]uint16{}
	chars := []CharMapping{}
	for i := 0; i < 4500; i++ {
		from, to := rune(0x4E00+2*i), rune(0x4E00+2*i+1)
		mapping[from] = uint16(1 + 2*i)
		mapping[to] = uint16(2 + 2*i)
		chars = append(chars, CharMapping{From: from, To: to})
	}
	// identity mappings produce no rule
	identity := rune(0x3007)
	mapping[identity] = 9000
	chars = append(chars, CharMapping{From: identity, To: identity})

	subtables := char2charSubtables(chars, mapping)
	test.T(t, len(subtables), 2)
	test.T(t, len(subtables[0].(*gsubSingle).From), subtableMaxEntries)
	test.T(t, len(subtables[1].(*gsubSingle).From), 500)
}

func TestWord2PseuSubtables(t *testing.T) {
	mapping := map[rune]uint16{'一': 1, '伙': 2, '儿': 3, '夥': 4}
	words := []WordMapping{
		{From: []rune("一伙儿"), To: []rune("一夥")},
		{From: []rune("一伙"), To: []rune("一夥")},
		{From: []rune("伙儿"), To: []rune("夥")},
	}
	pseudo := []uint16{100, 101, 102}

	// a new subtable starts at every word length change, keeping longer words ahead
	subtables := word2pseuSubtables(words, pseudo, mapping)
	test.T(t, len(subtables), 2)
	test.T(t, subtables[0].(*gsubLigature).Ligatures, []ligature{
		{From: []uint16{1, 2, 3}, To: 100},
	})
	test.T(t, subtables[1].(*gsubLigature).Ligatures, []ligature{
		{From: []uint16{1, 2}, To: 101},
		{From: []uint16{2, 3}, To: 102},
	})
}

func TestPseu2WordSubtables(t *testing.T) {
	mapping := map[rune]uint16{'一': 1, '夥': 4}
	words := []WordMapping{
		{From: []rune("一伙"), To: []rune("一夥")},
		{From: []rune("伙儿"), To: []rune("夥")},
	}
	subtables := pseu2wordSubtables(words, []uint16{100, 101}, mapping)
	test.T(t, len(subtables), 2) // split on target length change
	test.T(t, subtables[0].(*gsubMultiple).From, []uint16{100})
	test.T(t, subtables[0].(*gsubMultiple).To, [][]uint16{{1, 4}})
	test.T(t, subtables[1].(*gsubMultiple).From, []uint16{101})
	test.T(t, subtables[1].(*gsubMultiple).To, [][]uint16{{4}})
}

func TestRegisterFeature(t *testing.T) {
	// an empty table gets a DFLT script holding the new feature
	table := &layoutTable{Kind: gsubKind}
	table.registerFeature("liga", []uint16{0, 1})
	test.T(t, len(table.Scripts), 1)
	test.T(t, table.Scripts[0].Tag, "DFLT")
	test.T(t, table.Scripts[0].Default.Required, uint16(0xFFFF))
	test.T(t, table.Scripts[0].Default.Features, []uint16{0})
	test.T(t, table.Features, []feature{{Tag: "liga", Lookups: []uint16{0, 1}}})

	// existing scripts get the feature in every language system
	table = &layoutTable{
		Kind: gsubKind,
		Scripts: []script{{
			Tag:     "hani",
			Default: &langSys{Required: 0xFFFF, Features: []uint16{0}},
			LangSys: []langSys{{Tag: "ZHT ", Required: 0xFFFF}},
		}},
		Features: []feature{{Tag: "ccmp", Lookups: []uint16{0}}},
	}
	table.registerFeature("liga", []uint16{1})
	test.T(t, table.Scripts[0].Default.Features, []uint16{0, 1})
	test.T(t, table.Scripts[0].LangSys[0].Features, []uint16{1})
	test.T(t, len(table.Features), 2)
}

func TestAddConversionRequiresCoverage(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	tables := &ConversionTables{Chars: []CharMapping{{From: '万', To: '萬'}}}
	err = sfnt.AddConversion(tables)
	if _, ok := err.(ConfigurationError); !ok {
		test.Fail(t, "expected ConfigurationError, got", err)
	}
}

func TestAppendEmptyGlyphs(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	test.Error(t, sfnt.appendEmptyGlyphs(2))
	test.T(t, sfnt.NumGlyphs(), uint16(8))
	test.T(t, sfnt.GlyphAdvance(6), uint16(0))
	test.T(t, sfnt.GlyphAdvance(7), uint16(0))
	test.T(t, len(sfnt.Glyf.Get(6)), 0)
	test.T(t, len(sfnt.Glyf.Get(7)), 0)
	// existing outlines are untouched
	components, err := sfnt.Glyf.Components(5)
	test.Error(t, err)
	test.T(t, components, []uint16{1, 3})

	out, err := ParseSFNT(sfnt.Write(), 0)
	test.Error(t, err)
	test.T(t, out.NumGlyphs(), uint16(8))
}
