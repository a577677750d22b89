package fontgen

import (
	"fmt"
	"sort"
)

// Subtable remap policies after glyph removal: a rule is dropped as soon as any glyph
// it needs is gone, a class or coverage entry is dropped individually. Devised so
// that no rewritten table can reference a removed glyph.

func (st *gsubSingle) remap(glyphMap map[uint16]uint16) layoutSubtable {
	n := &gsubSingle{}
	for i := range st.From {
		from, okFrom := glyphMap[st.From[i]]
		to, okTo := glyphMap[st.To[i]]
		if okFrom && okTo {
			n.From = append(n.From, from)
			n.To = append(n.To, to)
		}
	}
	if len(n.From) == 0 {
		return nil
	}
	return n
}

func remapSequences(from []uint16, to [][]uint16, glyphMap map[uint16]uint16) ([]uint16, [][]uint16) {
	var nFrom []uint16
	var nTo [][]uint16
Entry:
	for i := range from {
		f, ok := glyphMap[from[i]]
		if !ok {
			continue
		}
		seq := make([]uint16, len(to[i]))
		for j, glyphID := range to[i] {
			if seq[j], ok = glyphMap[glyphID]; !ok {
				continue Entry
			}
		}
		nFrom = append(nFrom, f)
		nTo = append(nTo, seq)
	}
	return nFrom, nTo
}

func (st *gsubMultiple) remap(glyphMap map[uint16]uint16) layoutSubtable {
	from, to := remapSequences(st.From, st.To, glyphMap)
	if len(from) == 0 {
		return nil
	}
	return &gsubMultiple{From: from, To: to}
}

func (st *gsubAlternate) remap(glyphMap map[uint16]uint16) layoutSubtable {
	// alternates that survive are kept individually, the entry goes when none are left
	var nFrom []uint16
	var nTo [][]uint16
	for i := range st.From {
		f, ok := glyphMap[st.From[i]]
		if !ok {
			continue
		}
		var alts []uint16
		for _, glyphID := range st.To[i] {
			if alt, ok := glyphMap[glyphID]; ok {
				alts = append(alts, alt)
			}
		}
		if len(alts) == 0 {
			continue
		}
		nFrom = append(nFrom, f)
		nTo = append(nTo, alts)
	}
	if len(nFrom) == 0 {
		return nil
	}
	return &gsubAlternate{From: nFrom, To: nTo}
}

func (st *gsubLigature) remap(glyphMap map[uint16]uint16) layoutSubtable {
	n := &gsubLigature{}
Ligature:
	for _, lig := range st.Ligatures {
		to, ok := glyphMap[lig.To]
		if !ok {
			continue
		}
		from := make([]uint16, len(lig.From))
		for i, glyphID := range lig.From {
			if from[i], ok = glyphMap[glyphID]; !ok {
				continue Ligature
			}
		}
		n.Ligatures = append(n.Ligatures, ligature{From: from, To: to})
	}
	if len(n.Ligatures) == 0 {
		return nil
	}
	return n
}

func (st *gposSingle) remap(glyphMap map[uint16]uint16) layoutSubtable {
	n := &gposSingle{}
	for i, glyphID := range st.Cov {
		if g, ok := glyphMap[glyphID]; ok {
			n.Cov = append(n.Cov, g)
			n.Values = append(n.Values, st.Values[i])
		}
	}
	if len(n.Cov) == 0 {
		return nil
	}
	return n
}

func (st *gposPairGlyphs) remap(glyphMap map[uint16]uint16) layoutSubtable {
	n := &gposPairGlyphs{Format1: st.Format1, Format2: st.Format2}
	for _, pair := range st.Pairs {
		left, okLeft := glyphMap[pair.Left]
		right, okRight := glyphMap[pair.Right]
		if okLeft && okRight {
			pair.Left, pair.Right = left, right
			n.Pairs = append(n.Pairs, pair)
		}
	}
	if len(n.Pairs) == 0 {
		return nil
	}
	return n
}

func (st *gposPairClasses) remap(glyphMap map[uint16]uint16) layoutSubtable {
	n := &gposPairClasses{
		Format1:     st.Format1,
		Format2:     st.Format2,
		Class1:      map[uint16]uint16{},
		Class2:      map[uint16]uint16{},
		Class1Count: st.Class1Count,
		Class2Count: st.Class2Count,
		Values:      st.Values,
	}
	for _, glyphID := range st.Cov {
		if g, ok := glyphMap[glyphID]; ok {
			n.Cov = append(n.Cov, g)
		}
	}
	for glyphID, class := range st.Class1 {
		if g, ok := glyphMap[glyphID]; ok {
			n.Class1[g] = class
		}
	}
	for glyphID, class := range st.Class2 {
		if g, ok := glyphMap[glyphID]; ok {
			n.Class2[g] = class
		}
	}
	if len(n.Cov) == 0 {
		return nil
	}
	return n
}

func (st unsupportedSubtable) remap(map[uint16]uint16) layoutSubtable {
	// cannot be rewritten consistently, drop it
	return nil
}

////////////////////////////////////////////////////////////////

// remap rewrites all glyph references of the layout table through glyphMap. Rules
// referencing removed glyphs are dropped, then empty subtables, lookups, and
// features, and the lookup and feature indices are compacted.
func (t *layoutTable) remap(glyphMap map[uint16]uint16) {
	lookupMap := map[uint16]uint16{}
	lookups := []*lookup{}
	for i, l := range t.Lookups {
		subtables := []layoutSubtable{}
		for _, st := range l.Subtables {
			if n := st.remap(glyphMap); n != nil {
				subtables = append(subtables, n)
			}
		}
		if len(subtables) == 0 {
			continue
		}
		l.Subtables = subtables
		lookupMap[uint16(i)] = uint16(len(lookups))
		lookups = append(lookups, l)
	}
	t.Lookups = lookups

	featureMap := map[uint16]uint16{}
	features := []feature{}
	for i, f := range t.Features {
		indices := []uint16{}
		for _, index := range f.Lookups {
			if n, ok := lookupMap[index]; ok {
				indices = append(indices, n)
			}
		}
		if len(indices) == 0 {
			continue
		}
		f.Lookups = indices
		featureMap[uint16(i)] = uint16(len(features))
		features = append(features, f)
	}
	t.Features = features
	t.compactLangSys(featureMap)
}

func (t *layoutTable) compactLangSys(featureMap map[uint16]uint16) {
	remapLangSys := func(ls *langSys) {
		if ls.Required != 0xFFFF {
			if n, ok := featureMap[ls.Required]; ok {
				ls.Required = n
			} else {
				ls.Required = 0xFFFF
			}
		}
		indices := []uint16{}
		for _, index := range ls.Features {
			if n, ok := featureMap[index]; ok {
				indices = append(indices, n)
			}
		}
		ls.Features = indices
	}
	for i := range t.Scripts {
		if t.Scripts[i].Default != nil {
			remapLangSys(t.Scripts[i].Default)
		}
		for j := range t.Scripts[i].LangSys {
			remapLangSys(&t.Scripts[i].LangSys[j])
		}
	}
}

// sortFeatures orders the feature list alphabetically by tag as the format requires,
// rewriting the indices held by the language systems.
func (t *layoutTable) sortFeatures() {
	order := make([]uint16, len(t.Features))
	for i := range order {
		order[i] = uint16(i)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return t.Features[order[i]].Tag < t.Features[order[j]].Tag
	})

	featureMap := map[uint16]uint16{}
	features := make([]feature, len(t.Features))
	for n, i := range order {
		featureMap[i] = uint16(n)
		features[n] = t.Features[i]
	}
	t.Features = features
	t.compactLangSys(featureMap)
}

// verify checks that every glyph referenced by the layout table exists. This must
// hold after every rewrite or the font would crash shaping engines.
func (t *layoutTable) verify(numGlyphs uint16) error {
	var bad []uint16
	for _, l := range t.Lookups {
		for _, st := range l.Subtables {
			st.refs(func(glyphID uint16) {
				if numGlyphs <= glyphID {
					bad = append(bad, glyphID)
				}
			})
		}
	}
	if bad != nil {
		return IntegrityError{fmt.Sprintf("layout table references missing glyph %d", bad[0])}
	}
	return nil
}
