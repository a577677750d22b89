package fontgen

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/tdewolff/parse/v2"
)

// subtableMaxEntries limits the number of entries per lookup subtable, small enough
// that the 16-bit subtable offsets cannot overflow.
const subtableMaxEntries = 4000

// AddConversion builds the substitution lookups that perform the character
// conversion at shaping time and registers them under the liga feature:
//   - a ligature lookup that joins every source word into a zero-width pseudo glyph,
//   - a single substitution lookup that converts the remaining single characters,
//   - a multiple substitution lookup that expands each pseudo glyph into its target
//     word.
//
// Word mappings are matched longest first. One pseudo glyph is added per word
// mapping.
func (sfnt *SFNT) AddConversion(tables *ConversionTables) error {
	mapping := sfnt.Cmap.Mapping()
	tables.Filter(mapping)
	if len(tables.Chars) == 0 && len(tables.Words) == 0 {
		return ConfigurationError{"no conversion mapping is covered by the font"}
	}
	if MaxGlyphs < int(sfnt.Maxp.NumGlyphs)+len(tables.Words) {
		return FormatError{"glyph count overflow"}
	}

	words := append([]WordMapping{}, tables.Words...)
	sort.SliceStable(words, func(i, j int) bool { return len(words[j].From) < len(words[i].From) })

	// one zero-width pseudo glyph per word mapping
	pseudo := make([]uint16, len(words))
	for i := range pseudo {
		pseudo[i] = sfnt.Maxp.NumGlyphs + uint16(i)
	}
	if err := sfnt.appendEmptyGlyphs(len(words)); err != nil {
		return err
	}

	if sfnt.Gsub == nil {
		sfnt.Gsub = &layoutTable{Kind: gsubKind}
	}

	lookupIndices := []uint16{}
	addLookup := func(lookupType uint16, subtables []layoutSubtable) {
		if len(subtables) == 0 {
			return
		}
		lookupIndices = append(lookupIndices, uint16(len(sfnt.Gsub.Lookups)))
		sfnt.Gsub.Lookups = append(sfnt.Gsub.Lookups, &lookup{Type: lookupType, Subtables: subtables})
	}
	addLookup(gsubLookupLigature, word2pseuSubtables(words, pseudo, mapping))
	addLookup(gsubLookupSingle, char2charSubtables(tables.Chars, mapping))
	addLookup(gsubLookupMultiple, pseu2wordSubtables(words, pseudo, mapping))

	sfnt.registerFeature("liga", lookupIndices)
	return sfnt.rebuildLayout()
}

// word2pseuSubtables joins each source word into its pseudo glyph. Chunks split on
// word length so that longer words keep matching before their prefixes.
func word2pseuSubtables(words []WordMapping, pseudo []uint16, mapping map[rune]uint16) []layoutSubtable {
	subtables := []layoutSubtable{}
	var st *gsubLigature
	for i, m := range words {
		if st == nil || subtableMaxEntries <= len(st.Ligatures) ||
			len(st.Ligatures[len(st.Ligatures)-1].From) != len(m.From) {
			st = &gsubLigature{}
			subtables = append(subtables, st)
		}
		from := make([]uint16, len(m.From))
		for j, r := range m.From {
			from[j] = mapping[r]
		}
		st.Ligatures = append(st.Ligatures, ligature{From: from, To: pseudo[i]})
	}
	return subtables
}

func char2charSubtables(chars []CharMapping, mapping map[rune]uint16) []layoutSubtable {
	subtables := []layoutSubtable{}
	var st *gsubSingle
	for _, m := range chars {
		from, to := mapping[m.From], mapping[m.To]
		if from == to {
			continue
		}
		if st == nil || subtableMaxEntries <= len(st.From) {
			st = &gsubSingle{}
			subtables = append(subtables, st)
		}
		st.From = append(st.From, from)
		st.To = append(st.To, to)
	}
	return subtables
}

func pseu2wordSubtables(words []WordMapping, pseudo []uint16, mapping map[rune]uint16) []layoutSubtable {
	subtables := []layoutSubtable{}
	var st *gsubMultiple
	for i, m := range words {
		to := make([]uint16, len(m.To))
		for j, r := range m.To {
			to[j] = mapping[r]
		}
		if st == nil || subtableMaxEntries <= len(st.From) ||
			len(st.To[len(st.To)-1]) != len(to) {
			st = &gsubMultiple{}
			subtables = append(subtables, st)
		}
		st.From = append(st.From, pseudo[i])
		st.To = append(st.To, to)
	}
	return subtables
}

// registerFeature appends a feature with the given lookups and enables it in every
// language system of every script. A DFLT script is created when the table has none.
func (t *layoutTable) registerFeature(tag string, lookupIndices []uint16) {
	if len(lookupIndices) == 0 {
		return
	}
	index := uint16(len(t.Features))
	t.Features = append(t.Features, feature{Tag: tag, Lookups: lookupIndices})

	if len(t.Scripts) == 0 {
		t.Scripts = append(t.Scripts, script{
			Tag:     "DFLT",
			Default: &langSys{Required: 0xFFFF},
		})
	}
	for i := range t.Scripts {
		if t.Scripts[i].Default == nil {
			t.Scripts[i].Default = &langSys{Required: 0xFFFF}
		}
		t.Scripts[i].Default.Features = append(t.Scripts[i].Default.Features, index)
		for j := range t.Scripts[i].LangSys {
			t.Scripts[i].LangSys[j].Features = append(t.Scripts[i].LangSys[j].Features, index)
		}
	}
}

func (sfnt *SFNT) registerFeature(tag string, lookupIndices []uint16) {
	sfnt.Gsub.registerFeature(tag, lookupIndices)
}

// appendEmptyGlyphs adds count glyphs without an outline at the end of the glyph
// order, with zero advance width and a full-em advance height.
func (sfnt *SFNT) appendEmptyGlyphs(count int) error {
	if count == 0 {
		return nil
	}
	numGlyphs := int(sfnt.Maxp.NumGlyphs) + count
	if MaxGlyphs < numGlyphs {
		return FormatError{"glyph count overflow"}
	}

	if sfnt.IsTrueType {
		end, ok := sfnt.Loca.Get(sfnt.Maxp.NumGlyphs)
		if !ok {
			return ErrInvalidFontData
		}
		long := math.MaxUint16*2 < end
		w := parse.NewBinaryWriter([]byte{})
		for i := 0; i <= numGlyphs; i++ {
			offset := end
			if i <= int(sfnt.Maxp.NumGlyphs) {
				offset, _ = sfnt.Loca.Get(uint16(i))
			}
			if long {
				w.WriteUint32(offset)
			} else {
				w.WriteUint16(uint16(offset / 2))
			}
		}
		sfnt.Tables["loca"] = w.Bytes()
		sfnt.Loca = &locaTable{format: sfnt.Head.IndexToLocFormat, data: sfnt.Tables["loca"]}
		sfnt.Glyf = &glyfTable{data: sfnt.Tables["glyf"], loca: sfnt.Loca}
	}

	hmetrics := make([]hmtxLongHorMetric, numGlyphs)
	for i := 0; i < int(sfnt.Maxp.NumGlyphs); i++ {
		hmetrics[i].AdvanceWidth = sfnt.Hmtx.Advance(uint16(i))
		hmetrics[i].LeftSideBearing = sfnt.Hmtx.LeftSideBearing(uint16(i))
	}
	vmetrics := []vmtxLongVerMetric(nil)
	if sfnt.Vhea != nil && sfnt.Vmtx != nil {
		vmetrics = make([]vmtxLongVerMetric, numGlyphs)
		for i := 0; i < int(sfnt.Maxp.NumGlyphs); i++ {
			vmetrics[i].AdvanceHeight = sfnt.Vmtx.Advance(uint16(i))
			vmetrics[i].TopSideBearing = sfnt.Vmtx.TopSideBearing(uint16(i))
		}
		for i := int(sfnt.Maxp.NumGlyphs); i < numGlyphs; i++ {
			vmetrics[i].AdvanceHeight = sfnt.Head.UnitsPerEm
		}
	}

	// update maxp before rewriting the metrics
	maxp := append([]byte{}, sfnt.Tables["maxp"]...)
	binary.BigEndian.PutUint16(maxp[4:], uint16(numGlyphs))
	sfnt.Tables["maxp"] = maxp
	sfnt.Maxp.NumGlyphs = uint16(numGlyphs)

	sfnt.setHmtx(hmetrics)
	if vmetrics != nil {
		sfnt.setVmtx(vmetrics)
	}
	return nil
}
