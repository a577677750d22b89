package fontgen

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tdewolff/parse/v2"
)

// layoutKind selects the lookup type numbering of a layout table, which differs
// between GSUB and GPOS.
type layoutKind int

const (
	gsubKind layoutKind = iota
	gposKind
)

const (
	gsubLookupSingle    = 1
	gsubLookupMultiple  = 2
	gsubLookupAlternate = 3
	gsubLookupLigature  = 4
	gsubLookupExtension = 7

	gposLookupSingle    = 1
	gposLookupPair      = 2
	gposLookupExtension = 9
)

// layoutTable is a glyph substitution (GSUB) or glyph positioning (GPOS) table in
// structured form. Lookups hold coverage-based subtables that reference glyphs by ID;
// scripts and features reference lookups and each other by index.
type layoutTable struct {
	Kind     layoutKind
	Scripts  []script
	Features []feature
	Lookups  []*lookup
}

type langSys struct {
	Tag      string // empty for the default language system
	Required uint16 // 0xFFFF if none
	Features []uint16
}

type script struct {
	Tag     string
	Default *langSys
	LangSys []langSys
}

type feature struct {
	Tag     string
	Lookups []uint16
}

type lookup struct {
	Type             uint16
	Flag             uint16
	MarkFilteringSet uint16
	Subtables        []layoutSubtable
}

// layoutSubtable is one subtable of a lookup. remap rewrites all glyph references
// through the old to new glyph ID map, dropping entries that reference removed
// glyphs; it returns nil when nothing remains. refs visits every referenced glyph ID.
type layoutSubtable interface {
	remap(glyphMap map[uint16]uint16) layoutSubtable
	refs(f func(glyphID uint16))
	encode() ([]byte, error)
}

////////////////////////////////////////////////////////////////

// gsubSingle replaces a glyph by another glyph (GSUB lookup type 1).
type gsubSingle struct {
	From []uint16
	To   []uint16
}

// gsubMultiple replaces a glyph by a sequence of glyphs (GSUB lookup type 2).
type gsubMultiple struct {
	From []uint16
	To   [][]uint16
}

// gsubAlternate offers alternate glyphs for a glyph (GSUB lookup type 3).
type gsubAlternate struct {
	From []uint16
	To   [][]uint16
}

// ligature replaces the glyph sequence From by the single glyph To.
type ligature struct {
	From []uint16
	To   uint16
}

// gsubLigature replaces glyph sequences by single glyphs (GSUB lookup type 4).
// Ligatures with the same first glyph keep their relative order, earlier ones match
// first.
type gsubLigature struct {
	Ligatures []ligature
}

// valueRecord holds the placement adjustments of a positioning rule. Device and
// variation index offsets are not carried over.
type valueRecord struct {
	Format     uint16
	XPlacement int16
	YPlacement int16
	XAdvance   int16
	YAdvance   int16
}

// gposSingle adjusts the position of single glyphs (GPOS lookup type 1).
type gposSingle struct {
	Cov    []uint16
	Values []valueRecord
}

type pairValue struct {
	Left, Right uint16
	V1, V2      valueRecord
}

// gposPairGlyphs adjusts the position of glyph pairs, by glyph (GPOS lookup type 2
// format 1).
type gposPairGlyphs struct {
	Format1, Format2 uint16
	Pairs            []pairValue
}

// gposPairClasses adjusts the position of glyph pairs, by glyph class (GPOS lookup
// type 2 format 2).
type gposPairClasses struct {
	Format1, Format2 uint16
	Cov              []uint16
	Class1, Class2   map[uint16]uint16
	Class1Count      uint16
	Class2Count      uint16
	Values           [][2]valueRecord // Class1Count * Class2Count entries
}

// unsupportedSubtable marks a lookup subtable type that cannot be rewritten
// consistently after glyph removal. It is dropped by the rewrite.
type unsupportedSubtable struct {
	Type uint16
}

////////////////////////////////////////////////////////////////

func parseCoverage(b []byte) ([]uint16, error) {
	r := parse.NewBinaryReader(b)
	if r.Len() < 4 {
		return nil, fmt.Errorf("bad coverage table")
	}
	format := r.ReadUint16()
	switch format {
	case 1:
		glyphCount := r.ReadUint16()
		if r.Len() < 2*uint32(glyphCount) {
			return nil, fmt.Errorf("bad coverage table")
		}
		glyphs := make([]uint16, glyphCount)
		for i := 0; i < int(glyphCount); i++ {
			glyphs[i] = r.ReadUint16()
		}
		return glyphs, nil
	case 2:
		rangeCount := r.ReadUint16()
		if r.Len() < 6*uint32(rangeCount) {
			return nil, fmt.Errorf("bad coverage table")
		}
		glyphs := []uint16{}
		for i := 0; i < int(rangeCount); i++ {
			start := r.ReadUint16()
			end := r.ReadUint16()
			_ = r.ReadUint16() // startCoverageIndex
			if end < start {
				return nil, fmt.Errorf("bad coverage range")
			}
			for g := uint32(start); g <= uint32(end); g++ {
				glyphs = append(glyphs, uint16(g))
			}
		}
		return glyphs, nil
	}
	return nil, fmt.Errorf("bad coverage format %d", format)
}

func writeCoverage(w *parse.BinaryWriter, glyphs []uint16) {
	// coverage glyphs must be sorted; ranges pay off when long runs exist
	ranges := 1
	for i := 1; i < len(glyphs); i++ {
		if glyphs[i] != glyphs[i-1]+1 {
			ranges++
		}
	}
	if 0 < len(glyphs) && 3*ranges < len(glyphs) {
		w.WriteUint16(2) // coverageFormat
		w.WriteUint16(uint16(ranges))
		start, index := 0, 0
		for i := 1; i <= len(glyphs); i++ {
			if i == len(glyphs) || glyphs[i] != glyphs[i-1]+1 {
				w.WriteUint16(glyphs[start]) // startGlyphID
				w.WriteUint16(glyphs[i-1])   // endGlyphID
				w.WriteUint16(uint16(index)) // startCoverageIndex
				index += i - start
				start = i
			}
		}
	} else {
		w.WriteUint16(1) // coverageFormat
		w.WriteUint16(uint16(len(glyphs)))
		for _, glyphID := range glyphs {
			w.WriteUint16(glyphID)
		}
	}
}

func parseClassDef(b []byte) (map[uint16]uint16, error) {
	r := parse.NewBinaryReader(b)
	if r.Len() < 4 {
		return nil, fmt.Errorf("bad class definition table")
	}
	classes := map[uint16]uint16{}
	format := r.ReadUint16()
	switch format {
	case 1:
		startGlyphID := r.ReadUint16()
		glyphCount := r.ReadUint16()
		if r.Len() < 2*uint32(glyphCount) {
			return nil, fmt.Errorf("bad class definition table")
		}
		for i := 0; i < int(glyphCount); i++ {
			if class := r.ReadUint16(); class != 0 {
				classes[startGlyphID+uint16(i)] = class
			}
		}
		return classes, nil
	case 2:
		rangeCount := r.ReadUint16()
		if r.Len() < 6*uint32(rangeCount) {
			return nil, fmt.Errorf("bad class definition table")
		}
		for i := 0; i < int(rangeCount); i++ {
			start := r.ReadUint16()
			end := r.ReadUint16()
			class := r.ReadUint16()
			if end < start {
				return nil, fmt.Errorf("bad class definition range")
			}
			if class != 0 {
				for g := uint32(start); g <= uint32(end); g++ {
					classes[uint16(g)] = class
				}
			}
		}
		return classes, nil
	}
	return nil, fmt.Errorf("bad class definition format %d", format)
}

func writeClassDef(w *parse.BinaryWriter, classes map[uint16]uint16) {
	glyphs := make([]uint16, 0, len(classes))
	for glyphID := range classes {
		glyphs = append(glyphs, glyphID)
	}
	sort.Slice(glyphs, func(i, j int) bool { return glyphs[i] < glyphs[j] })

	ranges := 0
	for i := 0; i < len(glyphs); i++ {
		if i == 0 || glyphs[i] != glyphs[i-1]+1 || classes[glyphs[i]] != classes[glyphs[i-1]] {
			ranges++
		}
	}
	w.WriteUint16(2) // classFormat
	w.WriteUint16(uint16(ranges))
	start := 0
	for i := 1; i <= len(glyphs); i++ {
		if i == len(glyphs) || glyphs[i] != glyphs[i-1]+1 || classes[glyphs[i]] != classes[glyphs[i-1]] {
			w.WriteUint16(glyphs[start])          // startGlyphID
			w.WriteUint16(glyphs[i-1])            // endGlyphID
			w.WriteUint16(classes[glyphs[start]]) // class
			start = i
		}
	}
}

func parseValueRecord(r *parse.BinaryReader, format uint16) valueRecord {
	v := valueRecord{Format: format & 0x000F}
	if format&0x0001 != 0 {
		v.XPlacement = r.ReadInt16()
	}
	if format&0x0002 != 0 {
		v.YPlacement = r.ReadInt16()
	}
	if format&0x0004 != 0 {
		v.XAdvance = r.ReadInt16()
	}
	if format&0x0008 != 0 {
		v.YAdvance = r.ReadInt16()
	}
	// device and variation index offsets are not carried over
	for bit := uint16(0x0010); bit <= 0x0080; bit <<= 1 {
		if format&bit != 0 {
			_ = r.ReadUint16()
		}
	}
	return v
}

func (v valueRecord) write(w *parse.BinaryWriter) {
	if v.Format&0x0001 != 0 {
		w.WriteInt16(v.XPlacement)
	}
	if v.Format&0x0002 != 0 {
		w.WriteInt16(v.YPlacement)
	}
	if v.Format&0x0004 != 0 {
		w.WriteInt16(v.XAdvance)
	}
	if v.Format&0x0008 != 0 {
		w.WriteInt16(v.YAdvance)
	}
}

////////////////////////////////////////////////////////////////

// parseLayout parses a GSUB or GPOS table into its structured form.
func parseLayout(b []byte, kind layoutKind) (*layoutTable, error) {
	r := parse.NewBinaryReader(b)
	if r.Len() < 10 {
		return nil, fmt.Errorf("bad table")
	}
	majorVersion := r.ReadUint16()
	minorVersion := r.ReadUint16()
	if majorVersion != 1 || 1 < minorVersion {
		return nil, fmt.Errorf("bad version %d.%d", majorVersion, minorVersion)
	}
	scriptListOffset := r.ReadUint16()
	featureListOffset := r.ReadUint16()
	lookupListOffset := r.ReadUint16()
	// the version 1.1 featureVariations table is not carried over

	t := &layoutTable{Kind: kind}
	if uint32(len(b)) < uint32(scriptListOffset) || uint32(len(b)) < uint32(featureListOffset) || uint32(len(b)) < uint32(lookupListOffset) {
		return nil, fmt.Errorf("bad list offsets")
	}
	if err := t.parseScriptList(b[scriptListOffset:]); err != nil {
		return nil, err
	}
	if err := t.parseFeatureList(b[featureListOffset:]); err != nil {
		return nil, err
	}
	if err := t.parseLookupList(b[lookupListOffset:]); err != nil {
		return nil, err
	}

	// indices must be in range to be rewritable
	for _, f := range t.Features {
		for _, i := range f.Lookups {
			if len(t.Lookups) <= int(i) {
				return nil, fmt.Errorf("bad lookup index %d", i)
			}
		}
	}
	for _, s := range t.Scripts {
		lss := s.LangSys
		if s.Default != nil {
			lss = append(lss[:len(lss):len(lss)], *s.Default)
		}
		for _, ls := range lss {
			if ls.Required != 0xFFFF && len(t.Features) <= int(ls.Required) {
				return nil, fmt.Errorf("bad feature index %d", ls.Required)
			}
			for _, i := range ls.Features {
				if len(t.Features) <= int(i) {
					return nil, fmt.Errorf("bad feature index %d", i)
				}
			}
		}
	}
	return t, nil
}

func parseLangSys(b []byte, tag string) (*langSys, error) {
	r := parse.NewBinaryReader(b)
	if r.Len() < 6 {
		return nil, fmt.Errorf("bad language system table")
	}
	ls := &langSys{Tag: tag}
	_ = r.ReadUint16() // lookupOrderOffset, reserved
	ls.Required = r.ReadUint16()
	featureIndexCount := r.ReadUint16()
	if r.Len() < 2*uint32(featureIndexCount) {
		return nil, fmt.Errorf("bad language system table")
	}
	ls.Features = make([]uint16, featureIndexCount)
	for i := 0; i < int(featureIndexCount); i++ {
		ls.Features[i] = r.ReadUint16()
	}
	return ls, nil
}

func (t *layoutTable) parseScriptList(b []byte) error {
	r := parse.NewBinaryReader(b)
	if r.Len() < 2 {
		return fmt.Errorf("bad script list")
	}
	scriptCount := r.ReadUint16()
	if r.Len() < 6*uint32(scriptCount) {
		return fmt.Errorf("bad script list")
	}
	for i := 0; i < int(scriptCount); i++ {
		tag := r.ReadString(4)
		offset := r.ReadUint16()
		if uint32(len(b)) < uint32(offset)+4 {
			return fmt.Errorf("bad script %s", tag)
		}

		s := script{Tag: tag}
		rs := parse.NewBinaryReader(b[offset:])
		defaultLangSysOffset := rs.ReadUint16()
		langSysCount := rs.ReadUint16()
		if rs.Len() < 6*uint32(langSysCount) {
			return fmt.Errorf("bad script %s", tag)
		}
		if defaultLangSysOffset != 0 {
			if uint32(len(b)) < uint32(offset)+uint32(defaultLangSysOffset) {
				return fmt.Errorf("bad script %s", tag)
			}
			ls, err := parseLangSys(b[offset+defaultLangSysOffset:], "")
			if err != nil {
				return err
			}
			s.Default = ls
		}
		for j := 0; j < int(langSysCount); j++ {
			lsTag := rs.ReadString(4)
			lsOffset := rs.ReadUint16()
			if uint32(len(b)) < uint32(offset)+uint32(lsOffset) {
				return fmt.Errorf("bad script %s", tag)
			}
			ls, err := parseLangSys(b[offset+lsOffset:], lsTag)
			if err != nil {
				return err
			}
			s.LangSys = append(s.LangSys, *ls)
		}
		t.Scripts = append(t.Scripts, s)
	}
	return nil
}

func (t *layoutTable) parseFeatureList(b []byte) error {
	r := parse.NewBinaryReader(b)
	if r.Len() < 2 {
		return fmt.Errorf("bad feature list")
	}
	featureCount := r.ReadUint16()
	if r.Len() < 6*uint32(featureCount) {
		return fmt.Errorf("bad feature list")
	}
	for i := 0; i < int(featureCount); i++ {
		tag := r.ReadString(4)
		offset := r.ReadUint16()
		if uint32(len(b)) < uint32(offset)+4 {
			return fmt.Errorf("bad feature %s", tag)
		}

		f := feature{Tag: tag}
		rs := parse.NewBinaryReader(b[offset:])
		_ = rs.ReadUint16() // featureParamsOffset, not carried over
		lookupIndexCount := rs.ReadUint16()
		if rs.Len() < 2*uint32(lookupIndexCount) {
			return fmt.Errorf("bad feature %s", tag)
		}
		f.Lookups = make([]uint16, lookupIndexCount)
		for j := 0; j < int(lookupIndexCount); j++ {
			f.Lookups[j] = rs.ReadUint16()
		}
		t.Features = append(t.Features, f)
	}
	return nil
}

func (t *layoutTable) parseLookupList(b []byte) error {
	r := parse.NewBinaryReader(b)
	if r.Len() < 2 {
		return fmt.Errorf("bad lookup list")
	}
	lookupCount := r.ReadUint16()
	if r.Len() < 2*uint32(lookupCount) {
		return fmt.Errorf("bad lookup list")
	}
	for i := 0; i < int(lookupCount); i++ {
		offset := r.ReadUint16()
		if uint32(len(b)) < uint32(offset)+6 {
			return fmt.Errorf("bad lookup %d", i)
		}
		l, err := t.parseLookup(b[offset:])
		if err != nil {
			return fmt.Errorf("lookup %d: %v", i, err)
		}
		t.Lookups = append(t.Lookups, l)
	}
	return nil
}

func (t *layoutTable) parseLookup(b []byte) (*lookup, error) {
	r := parse.NewBinaryReader(b)
	l := &lookup{}
	l.Type = r.ReadUint16()
	l.Flag = r.ReadUint16()
	subTableCount := r.ReadUint16()
	if r.Len() < 2*uint32(subTableCount) {
		return nil, fmt.Errorf("bad lookup table")
	}
	offsets := make([]uint16, subTableCount)
	for i := 0; i < int(subTableCount); i++ {
		offsets[i] = r.ReadUint16()
	}
	if l.Flag&0x0010 != 0 {
		if r.Len() < 2 {
			return nil, fmt.Errorf("bad lookup table")
		}
		l.MarkFilteringSet = r.ReadUint16()
	}

	extensionType := uint16(gsubLookupExtension)
	if t.Kind == gposKind {
		extensionType = gposLookupExtension
	}
	for _, offset := range offsets {
		if uint32(len(b)) < uint32(offset)+2 {
			return nil, fmt.Errorf("bad subtable offset")
		}
		sub := b[offset:]
		lookupType := l.Type
		if lookupType == extensionType {
			rs := parse.NewBinaryReader(sub)
			if rs.Len() < 8 {
				return nil, fmt.Errorf("bad extension subtable")
			}
			if format := rs.ReadUint16(); format != 1 {
				return nil, fmt.Errorf("bad extension format %d", format)
			}
			lookupType = rs.ReadUint16()
			extensionOffset := rs.ReadUint32()
			if uint32(len(sub)) < extensionOffset {
				return nil, fmt.Errorf("bad extension offset")
			}
			sub = sub[extensionOffset:]
		}

		st, err := t.parseSubtable(lookupType, sub)
		if err != nil {
			return nil, err
		}
		l.Subtables = append(l.Subtables, st)
		if _, ok := st.(unsupportedSubtable); !ok && l.Type == extensionType {
			l.Type = lookupType
		}
	}
	return l, nil
}

func (t *layoutTable) parseSubtable(lookupType uint16, b []byte) (layoutSubtable, error) {
	if t.Kind == gsubKind {
		switch lookupType {
		case gsubLookupSingle:
			return parseGsubSingle(b)
		case gsubLookupMultiple:
			return parseGsubSequence(b, false)
		case gsubLookupAlternate:
			return parseGsubSequence(b, true)
		case gsubLookupLigature:
			return parseGsubLigature(b)
		}
	} else {
		switch lookupType {
		case gposLookupSingle:
			return parseGposSingle(b)
		case gposLookupPair:
			return parseGposPair(b)
		}
	}
	return unsupportedSubtable{Type: lookupType}, nil
}

func parseGsubSingle(b []byte) (layoutSubtable, error) {
	r := parse.NewBinaryReader(b)
	if r.Len() < 6 {
		return nil, fmt.Errorf("bad single substitution subtable")
	}
	format := r.ReadUint16()
	coverageOffset := r.ReadUint16()
	if uint32(len(b)) < uint32(coverageOffset) {
		return nil, fmt.Errorf("bad single substitution subtable")
	}
	cov, err := parseCoverage(b[coverageOffset:])
	if err != nil {
		return nil, err
	}

	st := &gsubSingle{From: cov, To: make([]uint16, len(cov))}
	switch format {
	case 1:
		delta := r.ReadInt16()
		for i, glyphID := range cov {
			st.To[i] = uint16(int(glyphID) + int(delta)) // modulo 65536
		}
	case 2:
		glyphCount := r.ReadUint16()
		if int(glyphCount) != len(cov) || r.Len() < 2*uint32(glyphCount) {
			return nil, fmt.Errorf("bad single substitution subtable")
		}
		for i := 0; i < int(glyphCount); i++ {
			st.To[i] = r.ReadUint16()
		}
	default:
		return nil, fmt.Errorf("bad single substitution format %d", format)
	}
	return st, nil
}

func parseGsubSequence(b []byte, alternate bool) (layoutSubtable, error) {
	r := parse.NewBinaryReader(b)
	if r.Len() < 6 {
		return nil, fmt.Errorf("bad sequence substitution subtable")
	}
	if format := r.ReadUint16(); format != 1 {
		return nil, fmt.Errorf("bad sequence substitution format %d", format)
	}
	coverageOffset := r.ReadUint16()
	if uint32(len(b)) < uint32(coverageOffset) {
		return nil, fmt.Errorf("bad sequence substitution subtable")
	}
	cov, err := parseCoverage(b[coverageOffset:])
	if err != nil {
		return nil, err
	}

	sequenceCount := r.ReadUint16()
	if int(sequenceCount) != len(cov) || r.Len() < 2*uint32(sequenceCount) {
		return nil, fmt.Errorf("bad sequence substitution subtable")
	}
	to := make([][]uint16, sequenceCount)
	for i := 0; i < int(sequenceCount); i++ {
		offset := r.ReadUint16()
		if uint32(len(b)) < uint32(offset)+2 {
			return nil, fmt.Errorf("bad sequence substitution subtable")
		}
		rs := parse.NewBinaryReader(b[offset:])
		glyphCount := rs.ReadUint16()
		if rs.Len() < 2*uint32(glyphCount) {
			return nil, fmt.Errorf("bad sequence substitution subtable")
		}
		to[i] = make([]uint16, glyphCount)
		for j := 0; j < int(glyphCount); j++ {
			to[i][j] = rs.ReadUint16()
		}
	}
	if alternate {
		return &gsubAlternate{From: cov, To: to}, nil
	}
	return &gsubMultiple{From: cov, To: to}, nil
}

func parseGsubLigature(b []byte) (layoutSubtable, error) {
	r := parse.NewBinaryReader(b)
	if r.Len() < 6 {
		return nil, fmt.Errorf("bad ligature substitution subtable")
	}
	if format := r.ReadUint16(); format != 1 {
		return nil, fmt.Errorf("bad ligature substitution format %d", format)
	}
	coverageOffset := r.ReadUint16()
	if uint32(len(b)) < uint32(coverageOffset) {
		return nil, fmt.Errorf("bad ligature substitution subtable")
	}
	cov, err := parseCoverage(b[coverageOffset:])
	if err != nil {
		return nil, err
	}

	st := &gsubLigature{}
	ligatureSetCount := r.ReadUint16()
	if int(ligatureSetCount) != len(cov) || r.Len() < 2*uint32(ligatureSetCount) {
		return nil, fmt.Errorf("bad ligature substitution subtable")
	}
	for i := 0; i < int(ligatureSetCount); i++ {
		setOffset := r.ReadUint16()
		if uint32(len(b)) < uint32(setOffset)+2 {
			return nil, fmt.Errorf("bad ligature substitution subtable")
		}
		set := b[setOffset:]
		rs := parse.NewBinaryReader(set)
		ligatureCount := rs.ReadUint16()
		if rs.Len() < 2*uint32(ligatureCount) {
			return nil, fmt.Errorf("bad ligature substitution subtable")
		}
		for j := 0; j < int(ligatureCount); j++ {
			ligOffset := rs.ReadUint16()
			if uint32(len(set)) < uint32(ligOffset)+4 {
				return nil, fmt.Errorf("bad ligature substitution subtable")
			}
			rl := parse.NewBinaryReader(set[ligOffset:])
			lig := ligature{To: rl.ReadUint16()}
			componentCount := rl.ReadUint16()
			if componentCount == 0 || rl.Len() < 2*uint32(componentCount-1) {
				return nil, fmt.Errorf("bad ligature substitution subtable")
			}
			lig.From = make([]uint16, componentCount)
			lig.From[0] = cov[i]
			for k := 1; k < int(componentCount); k++ {
				lig.From[k] = rl.ReadUint16()
			}
			st.Ligatures = append(st.Ligatures, lig)
		}
	}
	return st, nil
}

func parseGposSingle(b []byte) (layoutSubtable, error) {
	r := parse.NewBinaryReader(b)
	if r.Len() < 8 {
		return nil, fmt.Errorf("bad single positioning subtable")
	}
	format := r.ReadUint16()
	coverageOffset := r.ReadUint16()
	if uint32(len(b)) < uint32(coverageOffset) {
		return nil, fmt.Errorf("bad single positioning subtable")
	}
	cov, err := parseCoverage(b[coverageOffset:])
	if err != nil {
		return nil, err
	}

	st := &gposSingle{Cov: cov, Values: make([]valueRecord, len(cov))}
	valueFormat := r.ReadUint16()
	switch format {
	case 1:
		v := parseValueRecord(r, valueFormat)
		for i := range st.Values {
			st.Values[i] = v
		}
	case 2:
		valueCount := r.ReadUint16()
		if int(valueCount) != len(cov) {
			return nil, fmt.Errorf("bad single positioning subtable")
		}
		for i := 0; i < int(valueCount); i++ {
			st.Values[i] = parseValueRecord(r, valueFormat)
		}
	default:
		return nil, fmt.Errorf("bad single positioning format %d", format)
	}
	return st, nil
}

func parseGposPair(b []byte) (layoutSubtable, error) {
	r := parse.NewBinaryReader(b)
	if r.Len() < 10 {
		return nil, fmt.Errorf("bad pair positioning subtable")
	}
	format := r.ReadUint16()
	coverageOffset := r.ReadUint16()
	if uint32(len(b)) < uint32(coverageOffset) {
		return nil, fmt.Errorf("bad pair positioning subtable")
	}
	cov, err := parseCoverage(b[coverageOffset:])
	if err != nil {
		return nil, err
	}
	valueFormat1 := r.ReadUint16()
	valueFormat2 := r.ReadUint16()

	switch format {
	case 1:
		st := &gposPairGlyphs{Format1: valueFormat1 & 0x000F, Format2: valueFormat2 & 0x000F}
		pairSetCount := r.ReadUint16()
		if int(pairSetCount) != len(cov) || r.Len() < 2*uint32(pairSetCount) {
			return nil, fmt.Errorf("bad pair positioning subtable")
		}
		for i := 0; i < int(pairSetCount); i++ {
			offset := r.ReadUint16()
			if uint32(len(b)) < uint32(offset)+2 {
				return nil, fmt.Errorf("bad pair positioning subtable")
			}
			rs := parse.NewBinaryReader(b[offset:])
			pairValueCount := rs.ReadUint16()
			for j := 0; j < int(pairValueCount); j++ {
				if rs.Len() < 2 {
					return nil, fmt.Errorf("bad pair positioning subtable")
				}
				pair := pairValue{Left: cov[i]}
				pair.Right = rs.ReadUint16()
				pair.V1 = parseValueRecord(rs, valueFormat1)
				pair.V2 = parseValueRecord(rs, valueFormat2)
				st.Pairs = append(st.Pairs, pair)
			}
		}
		return st, nil
	case 2:
		st := &gposPairClasses{Format1: valueFormat1 & 0x000F, Format2: valueFormat2 & 0x000F, Cov: cov}
		classDef1Offset := r.ReadUint16()
		classDef2Offset := r.ReadUint16()
		if uint32(len(b)) < uint32(classDef1Offset) || uint32(len(b)) < uint32(classDef2Offset) {
			return nil, fmt.Errorf("bad pair positioning subtable")
		}
		if st.Class1, err = parseClassDef(b[classDef1Offset:]); err != nil {
			return nil, err
		}
		if st.Class2, err = parseClassDef(b[classDef2Offset:]); err != nil {
			return nil, err
		}
		st.Class1Count = r.ReadUint16()
		st.Class2Count = r.ReadUint16()
		n := int(st.Class1Count) * int(st.Class2Count)
		st.Values = make([][2]valueRecord, n)
		for i := 0; i < n; i++ {
			st.Values[i][0] = parseValueRecord(r, valueFormat1)
			st.Values[i][1] = parseValueRecord(r, valueFormat2)
		}
		return st, nil
	}
	return nil, fmt.Errorf("bad pair positioning format %d", format)
}

////////////////////////////////////////////////////////////////

func (st *gsubSingle) refs(f func(uint16)) {
	for i := range st.From {
		f(st.From[i])
		f(st.To[i])
	}
}

func (st *gsubMultiple) refs(f func(uint16)) {
	for i := range st.From {
		f(st.From[i])
		for _, glyphID := range st.To[i] {
			f(glyphID)
		}
	}
}

func (st *gsubAlternate) refs(f func(uint16)) {
	for i := range st.From {
		f(st.From[i])
		for _, glyphID := range st.To[i] {
			f(glyphID)
		}
	}
}

func (st *gsubLigature) refs(f func(uint16)) {
	for _, lig := range st.Ligatures {
		for _, glyphID := range lig.From {
			f(glyphID)
		}
		f(lig.To)
	}
}

func (st *gposSingle) refs(f func(uint16)) {
	for _, glyphID := range st.Cov {
		f(glyphID)
	}
}

func (st *gposPairGlyphs) refs(f func(uint16)) {
	for _, pair := range st.Pairs {
		f(pair.Left)
		f(pair.Right)
	}
}

func (st *gposPairClasses) refs(f func(uint16)) {
	for _, glyphID := range st.Cov {
		f(glyphID)
	}
	for glyphID := range st.Class1 {
		f(glyphID)
	}
	for glyphID := range st.Class2 {
		f(glyphID)
	}
}

func (st unsupportedSubtable) refs(func(uint16)) {}

////////////////////////////////////////////////////////////////

type byGlyph struct {
	glyphs  []uint16
	swapper func(i, j int)
}

func sortByGlyph(glyphs []uint16, swap func(i, j int)) {
	sort.Stable(byGlyph{glyphs, swap})
}

func (a byGlyph) Len() int           { return len(a.glyphs) }
func (a byGlyph) Less(i, j int) bool { return a.glyphs[i] < a.glyphs[j] }
func (a byGlyph) Swap(i, j int) {
	a.glyphs[i], a.glyphs[j] = a.glyphs[j], a.glyphs[i]
	a.swapper(i, j)
}

func (st *gsubSingle) encode() ([]byte, error) {
	sortByGlyph(st.From, func(i, j int) { st.To[i], st.To[j] = st.To[j], st.To[i] })

	sameDelta := 0 < len(st.From)
	var delta int
	for i := range st.From {
		d := (int(st.To[i]) - int(st.From[i])) & 0xFFFF
		if i == 0 {
			delta = d
		} else if d != delta {
			sameDelta = false
			break
		}
	}

	w := parse.NewBinaryWriter([]byte{})
	if sameDelta {
		w.WriteUint16(1) // substFormat
		w.WriteUint16(6) // coverageOffset
		if 0x7FFF < delta {
			delta -= 65536
		}
		w.WriteInt16(int16(delta))
	} else {
		w.WriteUint16(2)                          // substFormat
		w.WriteUint16(uint16(6 + 2*len(st.From))) // coverageOffset
		w.WriteUint16(uint16(len(st.From)))       // glyphCount
		for _, glyphID := range st.To {
			w.WriteUint16(glyphID)
		}
	}
	writeCoverage(w, st.From)
	return w.Bytes(), nil
}

func encodeSequences(from []uint16, to [][]uint16) ([]byte, error) {
	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(1)                    // substFormat
	w.WriteUint16(0)                    // coverageOffset (set later)
	w.WriteUint16(uint16(len(from)))    // sequenceCount
	offsetsPos := w.Len()
	w.WriteBytes(make([]byte, 2*len(from))) // sequenceOffsets (set later)
	for i := range from {
		if 0xFFFF < w.Len() {
			return nil, FormatError{"substitution subtable exceeds size limit"}
		}
		binary.BigEndian.PutUint16(w.Bytes()[offsetsPos+2*uint32(i):], uint16(w.Len()))
		w.WriteUint16(uint16(len(to[i])))
		for _, glyphID := range to[i] {
			w.WriteUint16(glyphID)
		}
	}
	if 0xFFFF < w.Len() {
		return nil, FormatError{"substitution subtable exceeds size limit"}
	}
	binary.BigEndian.PutUint16(w.Bytes()[2:], uint16(w.Len())) // coverageOffset
	writeCoverage(w, from)
	return w.Bytes(), nil
}

func (st *gsubMultiple) encode() ([]byte, error) {
	sortByGlyph(st.From, func(i, j int) { st.To[i], st.To[j] = st.To[j], st.To[i] })
	return encodeSequences(st.From, st.To)
}

func (st *gsubAlternate) encode() ([]byte, error) {
	sortByGlyph(st.From, func(i, j int) { st.To[i], st.To[j] = st.To[j], st.To[i] })
	return encodeSequences(st.From, st.To)
}

func (st *gsubLigature) encode() ([]byte, error) {
	// group ligatures by first glyph, keeping their relative order within each set
	firsts := []uint16{}
	sets := map[uint16][]ligature{}
	for _, lig := range st.Ligatures {
		if _, ok := sets[lig.From[0]]; !ok {
			firsts = append(firsts, lig.From[0])
		}
		sets[lig.From[0]] = append(sets[lig.From[0]], lig)
	}
	sort.Slice(firsts, func(i, j int) bool { return firsts[i] < firsts[j] })

	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(1)                   // substFormat
	w.WriteUint16(0)                   // coverageOffset (set later)
	w.WriteUint16(uint16(len(firsts))) // ligatureSetCount
	setOffsetsPos := w.Len()
	w.WriteBytes(make([]byte, 2*len(firsts))) // ligatureSetOffsets (set later)
	for i, first := range firsts {
		setStart := w.Len()
		if 0xFFFF < setStart {
			return nil, FormatError{"ligature subtable exceeds size limit"}
		}
		binary.BigEndian.PutUint16(w.Bytes()[setOffsetsPos+2*uint32(i):], uint16(setStart))

		ligs := sets[first]
		w.WriteUint16(uint16(len(ligs))) // ligatureCount
		ligOffsetsPos := w.Len()
		w.WriteBytes(make([]byte, 2*len(ligs))) // ligatureOffsets (set later)
		for j, lig := range ligs {
			if 0xFFFF < w.Len()-setStart {
				return nil, FormatError{"ligature subtable exceeds size limit"}
			}
			binary.BigEndian.PutUint16(w.Bytes()[ligOffsetsPos+2*uint32(j):], uint16(w.Len()-setStart))
			w.WriteUint16(lig.To)                  // ligatureGlyph
			w.WriteUint16(uint16(len(lig.From)))   // componentCount
			for _, glyphID := range lig.From[1:] { // first component is the coverage glyph
				w.WriteUint16(glyphID)
			}
		}
	}
	if 0xFFFF < w.Len() {
		return nil, FormatError{"ligature subtable exceeds size limit"}
	}
	binary.BigEndian.PutUint16(w.Bytes()[2:], uint16(w.Len())) // coverageOffset
	writeCoverage(w, firsts)
	return w.Bytes(), nil
}

func (st *gposSingle) encode() ([]byte, error) {
	sortByGlyph(st.Cov, func(i, j int) { st.Values[i], st.Values[j] = st.Values[j], st.Values[i] })

	same := 0 < len(st.Values)
	for i := 1; i < len(st.Values); i++ {
		if st.Values[i] != st.Values[0] {
			same = false
			break
		}
	}
	var valueFormat uint16
	for _, v := range st.Values {
		valueFormat |= v.Format
	}

	w := parse.NewBinaryWriter([]byte{})
	if same {
		w.WriteUint16(1) // posFormat
		w.WriteUint16(0) // coverageOffset (set later)
		w.WriteUint16(valueFormat)
		v := st.Values[0]
		v.Format = valueFormat
		v.write(w)
	} else {
		w.WriteUint16(2) // posFormat
		w.WriteUint16(0) // coverageOffset (set later)
		w.WriteUint16(valueFormat)
		w.WriteUint16(uint16(len(st.Values))) // valueCount
		for _, v := range st.Values {
			v.Format = valueFormat
			v.write(w)
		}
	}
	if 0xFFFF < w.Len() {
		return nil, FormatError{"positioning subtable exceeds size limit"}
	}
	binary.BigEndian.PutUint16(w.Bytes()[2:], uint16(w.Len())) // coverageOffset
	writeCoverage(w, st.Cov)
	return w.Bytes(), nil
}

func (st *gposPairGlyphs) encode() ([]byte, error) {
	sort.SliceStable(st.Pairs, func(i, j int) bool {
		if st.Pairs[i].Left != st.Pairs[j].Left {
			return st.Pairs[i].Left < st.Pairs[j].Left
		}
		return st.Pairs[i].Right < st.Pairs[j].Right
	})
	var format1, format2 uint16
	for _, pair := range st.Pairs {
		format1 |= pair.V1.Format
		format2 |= pair.V2.Format
	}

	firsts := []uint16{}
	for i, pair := range st.Pairs {
		if i == 0 || pair.Left != st.Pairs[i-1].Left {
			firsts = append(firsts, pair.Left)
		}
	}

	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(1) // posFormat
	w.WriteUint16(0) // coverageOffset (set later)
	w.WriteUint16(format1)
	w.WriteUint16(format2)
	w.WriteUint16(uint16(len(firsts))) // pairSetCount
	offsetsPos := w.Len()
	w.WriteBytes(make([]byte, 2*len(firsts))) // pairSetOffsets (set later)

	i := 0
	for setIndex, first := range firsts {
		if 0xFFFF < w.Len() {
			return nil, FormatError{"pair positioning subtable exceeds size limit"}
		}
		binary.BigEndian.PutUint16(w.Bytes()[offsetsPos+2*uint32(setIndex):], uint16(w.Len()))
		countPos := w.Len()
		w.WriteUint16(0) // pairValueCount (set later)
		count := uint16(0)
		for ; i < len(st.Pairs) && st.Pairs[i].Left == first; i++ {
			pair := st.Pairs[i]
			w.WriteUint16(pair.Right)
			pair.V1.Format = format1
			pair.V2.Format = format2
			pair.V1.write(w)
			pair.V2.write(w)
			count++
		}
		binary.BigEndian.PutUint16(w.Bytes()[countPos:], count)
	}
	if 0xFFFF < w.Len() {
		return nil, FormatError{"pair positioning subtable exceeds size limit"}
	}
	binary.BigEndian.PutUint16(w.Bytes()[2:], uint16(w.Len())) // coverageOffset
	writeCoverage(w, firsts)
	return w.Bytes(), nil
}

func (st *gposPairClasses) encode() ([]byte, error) {
	sort.Slice(st.Cov, func(i, j int) bool { return st.Cov[i] < st.Cov[j] })

	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(2) // posFormat
	w.WriteUint16(0) // coverageOffset (set later)
	w.WriteUint16(st.Format1)
	w.WriteUint16(st.Format2)
	classDef1Pos := w.Len()
	w.WriteUint16(0) // classDef1Offset (set later)
	w.WriteUint16(0) // classDef2Offset (set later)
	w.WriteUint16(st.Class1Count)
	w.WriteUint16(st.Class2Count)
	for _, v := range st.Values {
		v1, v2 := v[0], v[1]
		v1.Format = st.Format1
		v2.Format = st.Format2
		v1.write(w)
		v2.write(w)
	}
	if 0xFFFF < w.Len() {
		return nil, FormatError{"pair positioning subtable exceeds size limit"}
	}
	binary.BigEndian.PutUint16(w.Bytes()[classDef1Pos:], uint16(w.Len()))
	writeClassDef(w, st.Class1)
	if 0xFFFF < w.Len() {
		return nil, FormatError{"pair positioning subtable exceeds size limit"}
	}
	binary.BigEndian.PutUint16(w.Bytes()[classDef1Pos+2:], uint16(w.Len()))
	writeClassDef(w, st.Class2)
	if 0xFFFF < w.Len() {
		return nil, FormatError{"pair positioning subtable exceeds size limit"}
	}
	binary.BigEndian.PutUint16(w.Bytes()[2:], uint16(w.Len())) // coverageOffset
	writeCoverage(w, st.Cov)
	return w.Bytes(), nil
}

func (st unsupportedSubtable) encode() ([]byte, error) {
	return nil, fmt.Errorf("cannot encode unsupported lookup type %d", st.Type)
}

////////////////////////////////////////////////////////////////

func writeLangSys(w *parse.BinaryWriter, ls langSys) {
	w.WriteUint16(0) // lookupOrderOffset
	w.WriteUint16(ls.Required)
	w.WriteUint16(uint16(len(ls.Features)))
	for _, index := range ls.Features {
		w.WriteUint16(index)
	}
}

func (t *layoutTable) writeScriptList() ([]byte, error) {
	scripts := append([]script{}, t.Scripts...)
	sort.SliceStable(scripts, func(i, j int) bool { return scripts[i].Tag < scripts[j].Tag })

	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(uint16(len(scripts)))
	recordsPos := w.Len()
	w.WriteBytes(make([]byte, 6*len(scripts))) // scriptRecords (set later)
	for i, s := range scripts {
		scriptStart := w.Len()
		if 0xFFFF < scriptStart {
			return nil, FormatError{"script list exceeds size limit"}
		}
		copy(w.Bytes()[recordsPos+6*uint32(i):], []byte(s.Tag))
		binary.BigEndian.PutUint16(w.Bytes()[recordsPos+6*uint32(i)+4:], uint16(scriptStart))

		langSys := append([]langSys{}, s.LangSys...)
		sort.SliceStable(langSys, func(i, j int) bool { return langSys[i].Tag < langSys[j].Tag })

		defaultPos := w.Len()
		w.WriteUint16(0) // defaultLangSysOffset (set later)
		w.WriteUint16(uint16(len(langSys)))
		lsRecordsPos := w.Len()
		w.WriteBytes(make([]byte, 6*len(langSys))) // langSysRecords (set later)
		if s.Default != nil {
			binary.BigEndian.PutUint16(w.Bytes()[defaultPos:], uint16(w.Len()-scriptStart))
			writeLangSys(w, *s.Default)
		}
		for j, ls := range langSys {
			if 0xFFFF < w.Len()-scriptStart {
				return nil, FormatError{"script list exceeds size limit"}
			}
			copy(w.Bytes()[lsRecordsPos+6*uint32(j):], []byte(ls.Tag))
			binary.BigEndian.PutUint16(w.Bytes()[lsRecordsPos+6*uint32(j)+4:], uint16(w.Len()-scriptStart))
			writeLangSys(w, ls)
		}
	}
	return w.Bytes(), nil
}

func (t *layoutTable) writeFeatureList() ([]byte, error) {
	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(uint16(len(t.Features)))
	recordsPos := w.Len()
	w.WriteBytes(make([]byte, 6*len(t.Features))) // featureRecords (set later)
	for i, f := range t.Features {
		if 0xFFFF < w.Len() {
			return nil, FormatError{"feature list exceeds size limit"}
		}
		copy(w.Bytes()[recordsPos+6*uint32(i):], []byte(f.Tag))
		binary.BigEndian.PutUint16(w.Bytes()[recordsPos+6*uint32(i)+4:], uint16(w.Len()))
		w.WriteUint16(0) // featureParamsOffset
		w.WriteUint16(uint16(len(f.Lookups)))
		for _, index := range f.Lookups {
			w.WriteUint16(index)
		}
	}
	return w.Bytes(), nil
}

func (t *layoutTable) writeLookupList() ([]byte, error) {
	blobs := make([][][]byte, len(t.Lookups))
	plain := true
	for i, l := range t.Lookups {
		blobs[i] = make([][]byte, len(l.Subtables))
		for j, st := range l.Subtables {
			b, err := st.encode()
			if err != nil {
				return nil, err
			}
			blobs[i][j] = b
		}
	}

	// a lookup's subtable offsets are 16 bits from the lookup start, and the lookup
	// offsets are 16 bits from the lookup list start; when the data doesn't fit,
	// subtables are wrapped in extension lookups whose 32-bit offsets always reach
	size := uint32(2 + 2*len(t.Lookups))
	for i, l := range t.Lookups {
		if 0xFFFF < size {
			plain = false
			break
		}
		lookupSize := uint32(6 + 2*len(l.Subtables))
		if l.Flag&0x0010 != 0 {
			lookupSize += 2
		}
		for _, b := range blobs[i] {
			if 0xFFFF < lookupSize {
				break
			}
			lookupSize += uint32(len(b))
			if lookupSize%2 == 1 {
				lookupSize++
			}
		}
		if 0xFFFF < lookupSize {
			plain = false
			break
		}
		size += lookupSize
	}
	if 0xFFFF < size {
		plain = false
	}

	extensionType := uint16(gsubLookupExtension)
	if t.Kind == gposKind {
		extensionType = gposLookupExtension
	}

	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(uint16(len(t.Lookups)))
	offsetsPos := w.Len()
	w.WriteBytes(make([]byte, 2*len(t.Lookups))) // lookupOffsets (set later)

	var extPatch []uint32 // positions of extensionOffset fields to fix up
	var extBlob [][]byte
	for i, l := range t.Lookups {
		if 0xFFFF < w.Len() {
			return nil, FormatError{"lookup list exceeds size limit"}
		}
		lookupStart := w.Len()
		binary.BigEndian.PutUint16(w.Bytes()[offsetsPos+2*uint32(i):], uint16(lookupStart))
		if plain {
			w.WriteUint16(l.Type)
		} else {
			w.WriteUint16(extensionType)
		}
		w.WriteUint16(l.Flag)
		w.WriteUint16(uint16(len(l.Subtables)))
		subOffsetsPos := w.Len()
		w.WriteBytes(make([]byte, 2*len(l.Subtables))) // subtableOffsets (set later)
		if l.Flag&0x0010 != 0 {
			w.WriteUint16(l.MarkFilteringSet)
		}
		for j, b := range blobs[i] {
			if 0xFFFF < w.Len()-lookupStart {
				return nil, FormatError{"lookup exceeds size limit"}
			}
			binary.BigEndian.PutUint16(w.Bytes()[subOffsetsPos+2*uint32(j):], uint16(w.Len()-lookupStart))
			if plain {
				w.WriteBytes(b)
			} else {
				w.WriteUint16(1)      // format
				w.WriteUint16(l.Type) // extensionLookupType
				extPatch = append(extPatch, w.Len())
				w.WriteUint32(0) // extensionOffset (set later)
				extBlob = append(extBlob, b)
			}
			if w.Len()%2 == 1 {
				w.WriteByte(0)
			}
		}
	}
	for i, pos := range extPatch {
		binary.BigEndian.PutUint32(w.Bytes()[pos:], w.Len()-(pos-4))
		w.WriteBytes(extBlob[i])
		if w.Len()%2 == 1 {
			w.WriteByte(0)
		}
	}
	return w.Bytes(), nil
}

// Write serializes the layout table as a GSUB or GPOS table.
func (t *layoutTable) Write() ([]byte, error) {
	scriptList, err := t.writeScriptList()
	if err != nil {
		return nil, err
	}
	featureList, err := t.writeFeatureList()
	if err != nil {
		return nil, err
	}
	lookupList, err := t.writeLookupList()
	if err != nil {
		return nil, err
	}

	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(1) // majorVersion
	w.WriteUint16(0) // minorVersion
	scriptListOffset := uint32(10)
	featureListOffset := scriptListOffset + uint32(len(scriptList))
	lookupListOffset := featureListOffset + uint32(len(featureList))
	if 0xFFFF < lookupListOffset {
		return nil, FormatError{"layout table exceeds size limit"}
	}
	w.WriteUint16(uint16(scriptListOffset))
	w.WriteUint16(uint16(featureListOffset))
	w.WriteUint16(uint16(lookupListOffset))
	w.WriteBytes(scriptList)
	w.WriteBytes(featureList)
	w.WriteBytes(lookupList)
	return w.Bytes(), nil
}
