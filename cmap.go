package fontgen

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/tdewolff/parse/v2"
)

type cmapFormat0 struct {
	GlyphIdArray [256]uint8
}

func (subtable *cmapFormat0) Get(r rune) (uint16, bool) {
	if r < 0 || 256 <= r {
		return 0, false
	}
	return uint16(subtable.GlyphIdArray[r]), true
}

func (subtable *cmapFormat0) Runes(f func(rune, uint16)) {
	for r, id := range subtable.GlyphIdArray {
		if id != 0 {
			f(rune(r), uint16(id))
		}
	}
}

type cmapFormat4 struct {
	StartCode     []uint16
	EndCode       []uint16
	IdDelta       []int16
	IdRangeOffset []uint16
	GlyphIdArray  []uint16
}

func (subtable *cmapFormat4) at(i int, r uint16) uint16 {
	if subtable.IdRangeOffset[i] == 0 {
		// is modulo 65536 with the idDelta cast and addition overflow
		return uint16(subtable.IdDelta[i]) + r
	}
	// idRangeOffset is relative to its own position in the segment array
	n := len(subtable.StartCode)
	index := int(subtable.IdRangeOffset[i]/2) + int(r-subtable.StartCode[i]) - (n - i)
	return subtable.GlyphIdArray[index] // index is always valid, checked on parse
}

func (subtable *cmapFormat4) Get(r rune) (uint16, bool) {
	if r < 0 || 65536 <= r {
		return 0, false
	}
	for i := 0; i < len(subtable.StartCode); i++ {
		if subtable.StartCode[i] <= uint16(r) && uint16(r) <= subtable.EndCode[i] {
			return subtable.at(i, uint16(r)), true
		}
	}
	return 0, false
}

func (subtable *cmapFormat4) Runes(f func(rune, uint16)) {
	for i := 0; i < len(subtable.StartCode); i++ {
		for r := uint32(subtable.StartCode[i]); r <= uint32(subtable.EndCode[i]); r++ {
			if r == 0xFFFF {
				continue // last segment maps 0xFFFF to .notdef
			}
			if id := subtable.at(i, uint16(r)); id != 0 {
				f(rune(r), id)
			}
		}
	}
}

type cmapFormat6 struct {
	FirstCode    uint16
	GlyphIdArray []uint16
}

func (subtable *cmapFormat6) Get(r rune) (uint16, bool) {
	if r < int32(subtable.FirstCode) || uint32(len(subtable.GlyphIdArray)) <= uint32(r)-uint32(subtable.FirstCode) {
		return 0, false
	}
	return subtable.GlyphIdArray[uint32(r)-uint32(subtable.FirstCode)], true
}

func (subtable *cmapFormat6) Runes(f func(rune, uint16)) {
	for i, id := range subtable.GlyphIdArray {
		if id != 0 {
			f(rune(subtable.FirstCode)+rune(i), id)
		}
	}
}

type cmapFormat12 struct {
	StartCharCode []uint32
	EndCharCode   []uint32
	StartGlyphID  []uint32
}

func (subtable *cmapFormat12) Get(r rune) (uint16, bool) {
	if r < 0 {
		return 0, false
	}
	for i := 0; i < len(subtable.StartCharCode); i++ {
		if subtable.StartCharCode[i] <= uint32(r) && uint32(r) <= subtable.EndCharCode[i] {
			return uint16((uint32(r) - subtable.StartCharCode[i]) + subtable.StartGlyphID[i]), true
		}
	}
	return 0, false
}

func (subtable *cmapFormat12) Runes(f func(rune, uint16)) {
	for i := 0; i < len(subtable.StartCharCode); i++ {
		for r := subtable.StartCharCode[i]; r <= subtable.EndCharCode[i]; r++ {
			if id := uint16((r - subtable.StartCharCode[i]) + subtable.StartGlyphID[i]); id != 0 {
				f(rune(r), id)
			}
		}
	}
}

type cmapSubtable interface {
	Get(rune) (uint16, bool)
	Runes(func(rune, uint16))
}

type cmapTable struct {
	Subtables []cmapSubtable
}

// Get returns the glyph ID for the corresponding rune. It looks for each subtable in
// the order in which they appear and returns the first match, or 0 when no match is
// found.
func (cmap *cmapTable) Get(r rune) uint16 {
	for _, subtable := range cmap.Subtables {
		if glyphID, ok := subtable.Get(r); ok && glyphID != 0 {
			return glyphID
		}
	}
	return 0
}

// Mapping returns the full rune to glyph ID mapping of the font. When several
// subtables map the same rune, the first subtable wins.
func (cmap *cmapTable) Mapping() map[rune]uint16 {
	mapping := map[rune]uint16{}
	for i := len(cmap.Subtables) - 1; 0 <= i; i-- {
		cmap.Subtables[i].Runes(func(r rune, glyphID uint16) {
			mapping[r] = glyphID
		})
	}
	return mapping
}

func (sfnt *SFNT) parseCmap() error {
	if sfnt.Maxp == nil {
		return fmt.Errorf("cmap: missing maxp table")
	}

	b, ok := sfnt.Tables["cmap"]
	if !ok {
		return fmt.Errorf("cmap: missing table")
	} else if len(b) < 4 {
		return fmt.Errorf("cmap: bad table")
	}

	sfnt.Cmap = &cmapTable{}
	r := parse.NewBinaryReader(b)
	if r.ReadUint16() != 0 {
		return fmt.Errorf("cmap: bad version")
	}
	numTables := r.ReadUint16()
	if uint32(len(b)) < 4+8*uint32(numTables) {
		return fmt.Errorf("cmap: bad table")
	}

	seen := map[uint32]bool{}
	for j := 0; j < int(numTables); j++ {
		platformID := r.ReadUint16()
		encodingID := r.ReadUint16()
		offset := r.ReadUint32()
		if uint32(len(b))-8 < offset {
			return fmt.Errorf("cmap: bad subtable %d", j)
		} else if seen[offset] {
			continue
		}
		seen[offset] = true

		rs := parse.NewBinaryReader(b[offset:])
		format := rs.ReadUint16()
		switch format {
		case 0:
			if rs.Len() < 260 {
				return fmt.Errorf("cmap: bad subtable %d", j)
			}
			_ = rs.ReadUint16() // length
			_ = rs.ReadUint16() // language

			subtable := &cmapFormat0{}
			copy(subtable.GlyphIdArray[:], rs.ReadBytes(256))
			for _, glyphID := range subtable.GlyphIdArray {
				if sfnt.Maxp.NumGlyphs <= uint16(glyphID) {
					return fmt.Errorf("cmap: bad glyphID in subtable %d", j)
				}
			}
			sfnt.Cmap.Subtables = append(sfnt.Cmap.Subtables, subtable)
		case 4:
			if rs.Len() < 12 {
				return fmt.Errorf("cmap: bad subtable %d", j)
			}
			length := uint32(rs.ReadUint16())
			if length < 14 || rs.Len()+4 < length-4 {
				return fmt.Errorf("cmap: bad subtable %d", j)
			}
			rs.SetLen(length - rs.Pos())
			_ = rs.ReadUint16() // language

			segCount := rs.ReadUint16()
			if segCount%2 != 0 || segCount == 0 {
				return fmt.Errorf("cmap: bad segCount in subtable %d", j)
			}
			segCount /= 2
			if MaxCmapSegments < segCount {
				return fmt.Errorf("cmap: too many segments in subtable %d", j)
			}
			_ = rs.ReadUint16() // searchRange
			_ = rs.ReadUint16() // entrySelector
			_ = rs.ReadUint16() // rangeShift

			subtable := &cmapFormat4{}
			if rs.Len() < 2+8*uint32(segCount) {
				return fmt.Errorf("cmap: bad subtable %d", j)
			}
			subtable.EndCode = make([]uint16, segCount)
			for i := 0; i < int(segCount); i++ {
				endCode := rs.ReadUint16()
				if 0 < i && endCode <= subtable.EndCode[i-1] {
					return fmt.Errorf("cmap: bad endCode in subtable %d", j)
				}
				subtable.EndCode[i] = endCode
			}
			_ = rs.ReadUint16() // reservedPad
			subtable.StartCode = make([]uint16, segCount)
			for i := 0; i < int(segCount); i++ {
				startCode := rs.ReadUint16()
				if subtable.EndCode[i] < startCode || 0 < i && startCode <= subtable.EndCode[i-1] {
					return fmt.Errorf("cmap: bad startCode in subtable %d", j)
				}
				subtable.StartCode[i] = startCode
			}
			if subtable.StartCode[segCount-1] != 0xFFFF || subtable.EndCode[segCount-1] != 0xFFFF {
				return fmt.Errorf("cmap: bad last startCode or endCode in subtable %d", j)
			}

			subtable.IdDelta = make([]int16, segCount)
			for i := 0; i < int(segCount-1); i++ {
				subtable.IdDelta[i] = rs.ReadInt16()
			}
			_ = rs.ReadUint16() // last value may be invalid
			subtable.IdDelta[segCount-1] = 1

			glyphIdArrayLength := rs.Len() - 2*uint32(segCount)
			if glyphIdArrayLength%2 != 0 {
				return fmt.Errorf("cmap: bad subtable %d", j)
			}
			glyphIdArrayLength /= 2

			subtable.IdRangeOffset = make([]uint16, segCount)
			for i := 0; i < int(segCount-1); i++ {
				idRangeOffset := rs.ReadUint16()
				if idRangeOffset%2 != 0 {
					return fmt.Errorf("cmap: bad idRangeOffset in subtable %d", j)
				} else if idRangeOffset != 0 {
					index := int(idRangeOffset/2) + int(subtable.EndCode[i]-subtable.StartCode[i]) - (int(segCount) - i)
					if index < 0 || glyphIdArrayLength <= uint32(index) {
						return fmt.Errorf("cmap: bad idRangeOffset in subtable %d", j)
					}
				}
				subtable.IdRangeOffset[i] = idRangeOffset
			}
			_ = rs.ReadUint16() // last value may be invalid
			subtable.IdRangeOffset[segCount-1] = 0

			subtable.GlyphIdArray = make([]uint16, glyphIdArrayLength)
			for i := 0; i < int(glyphIdArrayLength); i++ {
				glyphID := rs.ReadUint16()
				if sfnt.Maxp.NumGlyphs <= glyphID {
					return fmt.Errorf("cmap: bad glyphID in subtable %d", j)
				}
				subtable.GlyphIdArray[i] = glyphID
			}
			sfnt.Cmap.Subtables = append(sfnt.Cmap.Subtables, subtable)
		case 6:
			if rs.Len() < 8 {
				return fmt.Errorf("cmap: bad subtable %d", j)
			}
			_ = rs.ReadUint16() // length
			_ = rs.ReadUint16() // language

			subtable := &cmapFormat6{}
			subtable.FirstCode = rs.ReadUint16()
			entryCount := rs.ReadUint16()
			if rs.Len() < 2*uint32(entryCount) {
				return fmt.Errorf("cmap: bad subtable %d", j)
			}
			subtable.GlyphIdArray = make([]uint16, entryCount)
			for i := 0; i < int(entryCount); i++ {
				subtable.GlyphIdArray[i] = rs.ReadUint16()
			}
			sfnt.Cmap.Subtables = append(sfnt.Cmap.Subtables, subtable)
		case 12:
			if rs.Len() < 14 {
				return fmt.Errorf("cmap: bad subtable %d", j)
			}
			_ = rs.ReadUint16() // reserved
			_ = rs.ReadUint32() // length
			_ = rs.ReadUint32() // language
			numGroups := rs.ReadUint32()
			if MaxCmapSegments < numGroups {
				return fmt.Errorf("cmap: too many segments in subtable %d", j)
			} else if rs.Len() < 12*numGroups {
				return fmt.Errorf("cmap: bad subtable %d", j)
			}

			subtable := &cmapFormat12{}
			subtable.StartCharCode = make([]uint32, numGroups)
			subtable.EndCharCode = make([]uint32, numGroups)
			subtable.StartGlyphID = make([]uint32, numGroups)
			for i := 0; i < int(numGroups); i++ {
				startCharCode := rs.ReadUint32()
				endCharCode := rs.ReadUint32()
				startGlyphID := rs.ReadUint32()
				if endCharCode < startCharCode || 0 < i && startCharCode <= subtable.EndCharCode[i-1] {
					return fmt.Errorf("cmap: bad character code range in subtable %d", j)
				} else if uint32(sfnt.Maxp.NumGlyphs) <= endCharCode-startCharCode || uint32(sfnt.Maxp.NumGlyphs)-(endCharCode-startCharCode) <= startGlyphID {
					return fmt.Errorf("cmap: bad glyphID in subtable %d", j)
				}
				subtable.StartCharCode[i] = startCharCode
				subtable.EndCharCode[i] = endCharCode
				subtable.StartGlyphID[i] = startGlyphID
			}
			sfnt.Cmap.Subtables = append(sfnt.Cmap.Subtables, subtable)
		case 14:
			// variation selectors don't survive the rewrite
			if platformID != 0 || encodingID != 5 {
				return fmt.Errorf("cmap: bad subtable %d", j)
			}
		default:
			return fmt.Errorf("cmap: unsupported subtable format %d", format)
		}
	}
	if len(sfnt.Cmap.Subtables) == 0 {
		return fmt.Errorf("cmap: no supported subtables")
	}
	return nil
}

////////////////////////////////////////////////////////////////

func cmapWriteFormat4(w *parse.BinaryWriter, rs []rune, runeMap map[rune]uint16) {
	type segment struct {
		start, end uint16
		delta      int16
		useDelta   bool
		glyphIDs   []uint16
	}

	segments := []segment{}
	i0 := 0
	for i := 1; i <= len(rs); i++ {
		if i < len(rs) && rs[i-1]+1 == rs[i] {
			continue
		}
		// rs[i0:i] is a maximal run of consecutive runes
		glyphIDs := make([]uint16, i-i0)
		contiguous := true
		for j := i0; j < i; j++ {
			glyphIDs[j-i0] = runeMap[rs[j]]
			if i0 < j && glyphIDs[j-i0] != glyphIDs[j-i0-1]+1 {
				contiguous = false
			}
		}
		seg := segment{start: uint16(rs[i0]), end: uint16(rs[i-1]), glyphIDs: glyphIDs}
		if contiguous {
			delta := int(glyphIDs[0]) - int(rs[i0])
			if math.MaxInt16 < delta {
				delta -= 65536
			} else if delta < math.MinInt16 {
				delta += 65536
			}
			seg.delta, seg.useDelta = int16(delta), true
		}
		segments = append(segments, seg)
		i0 = i
	}
	if len(rs) == 0 || rs[len(rs)-1] != 0xFFFF {
		segments = append(segments, segment{start: 0xFFFF, end: 0xFFFF, delta: 1, useDelta: true})
	}

	start := w.Len()
	w.WriteUint16(4) // format
	w.WriteUint16(0) // length (set later)
	w.WriteUint16(0) // language

	segCount := uint16(len(segments))
	searchRange := uint16(math.Exp2(math.Floor(math.Log2(float64(segCount)))))
	entrySelector := uint16(math.Log2(float64(searchRange)))
	w.WriteUint16(segCount * 2)                 // segCountX2
	w.WriteUint16(searchRange * 2)              // searchRange
	w.WriteUint16(entrySelector)                // entrySelector
	w.WriteUint16((segCount - searchRange) * 2) // rangeShift

	for _, seg := range segments {
		w.WriteUint16(seg.end)
	}
	w.WriteUint16(0) // reservedPad
	for _, seg := range segments {
		w.WriteUint16(seg.start)
	}
	for _, seg := range segments {
		w.WriteInt16(seg.delta)
	}
	glyphIdArray := []uint16{}
	for i, seg := range segments {
		if seg.useDelta {
			w.WriteUint16(0)
		} else {
			// offset from this idRangeOffset entry to the segment's glyphIdArray slice
			offset := uint16(len(segments)-i) + uint16(len(glyphIdArray))
			w.WriteUint16(offset * 2) // times 2 since entries are 16 bit
			glyphIdArray = append(glyphIdArray, seg.glyphIDs...)
		}
	}
	for _, glyphID := range glyphIdArray {
		w.WriteUint16(glyphID)
	}
	binary.BigEndian.PutUint16(w.Bytes()[start+2:], uint16(w.Len()-start)) // set length
}

func cmapWriteFormat12(w *parse.BinaryWriter, rs []rune, runeMap map[rune]uint16) {
	start := w.Len()
	w.WriteUint16(12) // format
	w.WriteUint16(0)  // reserved
	w.WriteUint32(0)  // length (set later)
	w.WriteUint32(0)  // language
	w.WriteUint32(0)  // numGroups (set later)

	numGroups := uint32(1)
	startCharCode := uint32(rs[0])
	startGlyphID := uint32(runeMap[rs[0]])
	n := uint32(1)
	for i := 1; i < len(rs); i++ {
		r := rs[i]
		glyphID := runeMap[r]
		if r == rs[i-1] {
			continue
		} else if uint32(r) == startCharCode+n && uint32(glyphID) == startGlyphID+n {
			n++
		} else {
			w.WriteUint32(startCharCode)         // startCharCode
			w.WriteUint32(startCharCode + n - 1) // endCharCode
			w.WriteUint32(startGlyphID)          // startGlyphID
			numGroups++
			startCharCode = uint32(r)
			startGlyphID = uint32(glyphID)
			n = 1
		}
	}
	w.WriteUint32(startCharCode)         // startCharCode
	w.WriteUint32(startCharCode + n - 1) // endCharCode
	w.WriteUint32(startGlyphID)          // startGlyphID

	binary.BigEndian.PutUint32(w.Bytes()[start+4:], w.Len()-start) // set length
	binary.BigEndian.PutUint32(w.Bytes()[start+12:], numGroups)    // set numGroups
}

// cmapWrite serializes a rune to glyph ID mapping as a cmap table, using format 4
// when all runes fit in the basic plane and format 12 otherwise.
func cmapWrite(runeMap map[rune]uint16) []byte {
	rs := make([]rune, 0, len(runeMap))
	var maxRune rune
	for r := range runeMap {
		rs = append(rs, r)
		if maxRune < r {
			maxRune = r
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })

	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(0) // version
	w.WriteUint16(2) // numTables, we specify 2 encodings for the same subtable
	if len(rs) == 0 || maxRune <= 0xFFFF {
		w.WriteUint16(0)  // platformID
		w.WriteUint16(3)  // encodingID
		w.WriteUint32(20) // subtableOffset
		w.WriteUint16(3)  // platformID
		w.WriteUint16(1)  // encodingID
		w.WriteUint32(20) // subtableOffset
		cmapWriteFormat4(w, rs, runeMap)
	} else {
		w.WriteUint16(0)  // platformID
		w.WriteUint16(4)  // encodingID
		w.WriteUint32(20) // subtableOffset
		w.WriteUint16(3)  // platformID
		w.WriteUint16(10) // encodingID
		w.WriteUint32(20) // subtableOffset
		cmapWriteFormat12(w, rs, runeMap)
	}
	return w.Bytes()
}
