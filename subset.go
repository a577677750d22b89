package fontgen

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/tdewolff/parse/v2"
)

// tables that reference glyphs by ID in ways that cannot be rewritten after
// renumbering; they are dropped from the output
var droppedTables = []string{
	"BASE", "CBDT", "CBLC", "DSIG", "EBDT", "EBLC", "EBSC", "GDEF", "JSTF",
	"LTSH", "MATH", "VDMX", "hdmx", "sbix",
}

// reachableGlyphs grows keep with every glyph the kept glyphs pull in: components of
// composite glyphs and substitution targets. A ligature target is reachable only when
// every one of its components is kept.
func (sfnt *SFNT) reachableGlyphs(keep map[uint16]bool) error {
	work := make([]uint16, 0, len(keep))
	for glyphID := range keep {
		work = append(work, glyphID)
	}
	add := func(glyphID uint16) {
		if !keep[glyphID] {
			keep[glyphID] = true
			work = append(work, glyphID)
		}
	}

	for {
		for 0 < len(work) {
			glyphID := work[len(work)-1]
			work = work[:len(work)-1]
			if sfnt.Glyf != nil {
				components, err := sfnt.Glyf.Components(glyphID)
				if err != nil {
					return err
				}
				for _, component := range components {
					add(component)
				}
			}
		}
		if sfnt.Gsub == nil {
			return nil
		}

		// substitution targets can pull in further substitutions, iterate to a fixpoint
		for _, l := range sfnt.Gsub.Lookups {
			for _, st := range l.Subtables {
				switch st := st.(type) {
				case *gsubSingle:
					for i := range st.From {
						if keep[st.From[i]] {
							add(st.To[i])
						}
					}
				case *gsubMultiple:
					for i := range st.From {
						if keep[st.From[i]] {
							for _, glyphID := range st.To[i] {
								add(glyphID)
							}
						}
					}
				case *gsubAlternate:
					for i := range st.From {
						if keep[st.From[i]] {
							for _, glyphID := range st.To[i] {
								add(glyphID)
							}
						}
					}
				case *gsubLigature:
					for _, lig := range st.Ligatures {
						complete := true
						for _, glyphID := range lig.From {
							if !keep[glyphID] {
								complete = false
								break
							}
						}
						if complete {
							add(lig.To)
						}
					}
				}
			}
		}
		if len(work) == 0 {
			return nil
		}
	}
}

// Subset rewrites the font in place to contain only the glyphs mapped from the given
// runes, together with every glyph they reach. Glyph 0 is always kept and glyph IDs
// are renumbered densely, preserving their order. It returns the map from old to new
// glyph IDs.
func (sfnt *SFNT) Subset(keep RuneSet) (map[uint16]uint16, error) {
	if sfnt.IsCFF {
		return nil, FormatError{"CFF outlines are not supported"}
	}

	runeMap := map[rune]uint16{}
	keepGlyphs := map[uint16]bool{0: true}
	for r, glyphID := range sfnt.Cmap.Mapping() {
		if keep[r] && glyphID != 0 {
			runeMap[r] = glyphID
			keepGlyphs[glyphID] = true
		}
	}
	if err := sfnt.reachableGlyphs(keepGlyphs); err != nil {
		return nil, err
	}

	glyphIDs := make([]uint16, 0, len(keepGlyphs))
	for glyphID := range keepGlyphs {
		if sfnt.Maxp.NumGlyphs <= glyphID {
			return nil, IntegrityError{fmt.Sprintf("font references missing glyph %d", glyphID)}
		}
		glyphIDs = append(glyphIDs, glyphID)
	}
	sort.Slice(glyphIDs, func(i, j int) bool { return glyphIDs[i] < glyphIDs[j] })

	glyphMap := make(map[uint16]uint16, len(glyphIDs))
	for i, glyphID := range glyphIDs {
		glyphMap[glyphID] = uint16(i)
	}
	for r, glyphID := range runeMap {
		runeMap[r] = glyphMap[glyphID]
	}
	if err := sfnt.rewriteTables(glyphIDs, glyphMap, runeMap); err != nil {
		return nil, err
	}
	return glyphMap, nil
}

func (sfnt *SFNT) rewriteTables(glyphIDs []uint16, glyphMap map[uint16]uint16, runeMap map[rune]uint16) error {
	numGlyphs := uint16(len(glyphIDs))

	if sfnt.IsTrueType {
		if err := sfnt.rewriteGlyf(glyphIDs, glyphMap); err != nil {
			return err
		}
	}
	sfnt.rewriteHmtx(glyphIDs)
	if sfnt.Vhea != nil && sfnt.Vmtx != nil {
		sfnt.rewriteVmtx(glyphIDs)
	}
	sfnt.rewriteCmap(runeMap)
	if sfnt.Kern != nil {
		if err := sfnt.rewriteKern(glyphMap); err != nil {
			return err
		}
	}

	if sfnt.Gsub != nil {
		sfnt.Gsub.remap(glyphMap)
		if len(sfnt.Gsub.Lookups) == 0 {
			delete(sfnt.Tables, "GSUB")
			sfnt.Gsub = nil
		}
	}
	if sfnt.Gpos != nil {
		sfnt.Gpos.remap(glyphMap)
		if len(sfnt.Gpos.Lookups) == 0 {
			delete(sfnt.Tables, "GPOS")
			sfnt.Gpos = nil
		}
	}
	if err := sfnt.rebuildLayout(); err != nil {
		return err
	}

	// maxp numGlyphs
	maxp := append([]byte{}, sfnt.Tables["maxp"]...)
	binary.BigEndian.PutUint16(maxp[4:], numGlyphs)
	sfnt.Tables["maxp"] = maxp
	sfnt.Maxp.NumGlyphs = numGlyphs

	// post version 3 drops the glyph names, which index by glyph ID
	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint32(0x00030000) // version
	w.WriteUint32(sfnt.Post.ItalicAngle)
	w.WriteInt16(sfnt.Post.UnderlinePosition)
	w.WriteInt16(sfnt.Post.UnderlineThickness)
	w.WriteUint32(sfnt.Post.IsFixedPitch)
	w.WriteUint32(sfnt.Post.MinMemType42)
	w.WriteUint32(sfnt.Post.MaxMemType42)
	w.WriteUint32(sfnt.Post.MinMemType1)
	w.WriteUint32(sfnt.Post.MaxMemType1)
	sfnt.Tables["post"] = w.Bytes()

	for _, tag := range droppedTables {
		delete(sfnt.Tables, tag)
	}
	return nil
}

// rebuildLayout serializes the structured GSUB and GPOS tables back into table data,
// verifying that no rule references a glyph beyond the glyph count.
func (sfnt *SFNT) rebuildLayout() error {
	for _, t := range []struct {
		tag   string
		table *layoutTable
	}{{"GSUB", sfnt.Gsub}, {"GPOS", sfnt.Gpos}} {
		if t.table == nil {
			continue
		}
		t.table.sortFeatures()
		if err := t.table.verify(sfnt.Maxp.NumGlyphs); err != nil {
			return err
		}
		b, err := t.table.Write()
		if err != nil {
			return err
		}
		sfnt.Tables[t.tag] = b
	}
	return nil
}

func (sfnt *SFNT) rewriteGlyf(glyphIDs []uint16, glyphMap map[uint16]uint16) error {
	numGlyphs := uint16(len(glyphIDs))
	glyfData := parse.NewBinaryWriter([]byte{})
	offsets := make([]uint32, numGlyphs+1)
	for i, glyphID := range glyphIDs {
		offsets[i] = glyfData.Len()
		b := sfnt.Glyf.Get(glyphID)
		if b == nil {
			return IntegrityError{fmt.Sprintf("missing glyph outline for glyph %d", glyphID)}
		}
		b, err := renumberComposite(b, glyphMap)
		if err != nil {
			return IntegrityError{err.Error()}
		}
		glyfData.WriteBytes(b)
		if glyfData.Len()%2 == 1 {
			// loca format 0 requires even offsets
			glyfData.WriteByte(0)
		}
	}
	offsets[numGlyphs] = glyfData.Len()

	long := math.MaxUint16*2 < glyfData.Len()
	locaData := parse.NewBinaryWriter([]byte{})
	for _, offset := range offsets {
		if long {
			locaData.WriteUint32(offset)
		} else {
			locaData.WriteUint16(uint16(offset / 2))
		}
	}
	sfnt.Tables["glyf"] = glyfData.Bytes()
	sfnt.Tables["loca"] = locaData.Bytes()

	sfnt.Head.IndexToLocFormat = 0
	if long {
		sfnt.Head.IndexToLocFormat = 1
	}
	head := append([]byte{}, sfnt.Tables["head"]...)
	binary.BigEndian.PutUint16(head[50:], uint16(sfnt.Head.IndexToLocFormat))
	sfnt.Tables["head"] = head

	sfnt.Loca = &locaTable{format: sfnt.Head.IndexToLocFormat, data: sfnt.Tables["loca"]}
	sfnt.Glyf = &glyfTable{data: sfnt.Tables["glyf"], loca: sfnt.Loca}
	return nil
}

func (sfnt *SFNT) rewriteHmtx(glyphIDs []uint16) {
	hmetrics := make([]hmtxLongHorMetric, len(glyphIDs))
	for i, glyphID := range glyphIDs {
		hmetrics[i].AdvanceWidth = sfnt.Hmtx.Advance(glyphID)
		hmetrics[i].LeftSideBearing = sfnt.Hmtx.LeftSideBearing(glyphID)
	}
	sfnt.setHmtx(hmetrics)
}

// setHmtx replaces the horizontal metrics, one longHorMetric per glyph, updating the
// hhea metric count.
func (sfnt *SFNT) setHmtx(hmetrics []hmtxLongHorMetric) {
	numGlyphs := uint16(len(hmetrics))

	// trailing glyphs with the same advance share the last longHorMetric
	numberOfHMetrics := numGlyphs
	for 1 < numberOfHMetrics && hmetrics[numberOfHMetrics-1].AdvanceWidth == hmetrics[numberOfHMetrics-2].AdvanceWidth {
		numberOfHMetrics--
	}

	w := parse.NewBinaryWriter([]byte{})
	for i := uint16(0); i < numGlyphs; i++ {
		if i < numberOfHMetrics {
			w.WriteUint16(hmetrics[i].AdvanceWidth)
		}
		w.WriteInt16(hmetrics[i].LeftSideBearing)
	}
	sfnt.Tables["hmtx"] = w.Bytes()

	hhea := append([]byte{}, sfnt.Tables["hhea"]...)
	binary.BigEndian.PutUint16(hhea[34:], numberOfHMetrics)
	sfnt.Tables["hhea"] = hhea
	sfnt.Hhea.NumberOfHMetrics = numberOfHMetrics

	lsbs := make([]int16, numGlyphs-numberOfHMetrics)
	for i := range lsbs {
		lsbs[i] = hmetrics[numberOfHMetrics+uint16(i)].LeftSideBearing
	}
	sfnt.Hmtx = &hmtxTable{HMetrics: hmetrics[:numberOfHMetrics], LeftSideBearings: lsbs}
}

func (sfnt *SFNT) rewriteVmtx(glyphIDs []uint16) {
	vmetrics := make([]vmtxLongVerMetric, len(glyphIDs))
	for i, glyphID := range glyphIDs {
		vmetrics[i].AdvanceHeight = sfnt.Vmtx.Advance(glyphID)
		vmetrics[i].TopSideBearing = sfnt.Vmtx.TopSideBearing(glyphID)
	}
	sfnt.setVmtx(vmetrics)
}

// setVmtx replaces the vertical metrics, one longVerMetric per glyph, updating the
// vhea metric count.
func (sfnt *SFNT) setVmtx(vmetrics []vmtxLongVerMetric) {
	numGlyphs := uint16(len(vmetrics))

	numberOfVMetrics := numGlyphs
	for 1 < numberOfVMetrics && vmetrics[numberOfVMetrics-1].AdvanceHeight == vmetrics[numberOfVMetrics-2].AdvanceHeight {
		numberOfVMetrics--
	}

	w := parse.NewBinaryWriter([]byte{})
	for i := uint16(0); i < numGlyphs; i++ {
		if i < numberOfVMetrics {
			w.WriteUint16(vmetrics[i].AdvanceHeight)
		}
		w.WriteInt16(vmetrics[i].TopSideBearing)
	}
	sfnt.Tables["vmtx"] = w.Bytes()

	vhea := append([]byte{}, sfnt.Tables["vhea"]...)
	binary.BigEndian.PutUint16(vhea[34:], numberOfVMetrics)
	sfnt.Tables["vhea"] = vhea
	sfnt.Vhea.NumberOfVMetrics = numberOfVMetrics

	tsbs := make([]int16, numGlyphs-numberOfVMetrics)
	for i := range tsbs {
		tsbs[i] = vmetrics[numberOfVMetrics+uint16(i)].TopSideBearing
	}
	sfnt.Vmtx = &vmtxTable{VMetrics: vmetrics[:numberOfVMetrics], TopSideBearings: tsbs}
}

func (sfnt *SFNT) rewriteCmap(runeMap map[rune]uint16) {
	sfnt.Tables["cmap"] = cmapWrite(runeMap)
	_ = sfnt.parseCmap()

	if sfnt.OS2 != nil {
		first, last := uint16(0xFFFF), uint16(0)
		for r := range runeMap {
			if 0xFFFF <= r {
				last = 0xFFFF
				continue
			}
			if uint16(r) < first {
				first = uint16(r)
			}
			if last < uint16(r) {
				last = uint16(r)
			}
		}
		os2 := append([]byte{}, sfnt.Tables["OS/2"]...)
		binary.BigEndian.PutUint16(os2[64:], first)
		binary.BigEndian.PutUint16(os2[66:], last)
		sfnt.Tables["OS/2"] = os2
		sfnt.OS2.UsFirstCharIndex = first
		sfnt.OS2.UsLastCharIndex = last
	}
}

func (sfnt *SFNT) rewriteKern(glyphMap map[uint16]uint16) error {
	subtables := []kernFormat0{}
	for _, subtable := range sfnt.Kern.Subtables {
		pairs := []kernPair{}
		for _, pair := range subtable.Pairs {
			left, okLeft := glyphMap[uint16(pair.Key>>16)]
			right, okRight := glyphMap[uint16(pair.Key&0xFFFF)]
			if okLeft && okRight {
				pairs = append(pairs, kernPair{uint32(left)<<16 | uint32(right), pair.Value})
			}
		}
		if len(pairs) == 0 {
			continue
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
		subtables = append(subtables, kernFormat0{Coverage: subtable.Coverage, Pairs: pairs})
	}
	if len(subtables) == 0 {
		delete(sfnt.Tables, "kern")
		sfnt.Kern = nil
		return nil
	}

	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(0) // version
	w.WriteUint16(uint16(len(subtables)))
	for _, subtable := range subtables {
		nPairs := len(subtable.Pairs)
		if 0xFFFF < 14+6*nPairs {
			return FormatError{"kern subtable exceeds size limit"}
		}
		entrySelector := uint16(math.Log2(float64(nPairs)))
		searchRange := uint16(1) << entrySelector * 6
		w.WriteUint16(0)                     // version
		w.WriteUint16(uint16(14 + 6*nPairs)) // length
		w.WriteUint8(0)                      // format
		w.WriteUint8(flagsToUint8(subtable.Coverage))
		w.WriteUint16(uint16(nPairs))
		w.WriteUint16(searchRange)
		w.WriteUint16(entrySelector)
		w.WriteUint16(uint16(6*nPairs) - searchRange)
		for _, pair := range subtable.Pairs {
			w.WriteUint32(pair.Key)
			w.WriteInt16(pair.Value)
		}
	}
	sfnt.Tables["kern"] = w.Bytes()
	sfnt.Kern = &kernTable{Subtables: subtables}
	return nil
}
