package fontgen

import (
	"encoding/binary"
	"fmt"

	"github.com/tdewolff/parse/v2"
)

type locaTable struct {
	format int16
	data   []byte
}

func (loca *locaTable) Get(glyphID uint16) (uint32, bool) {
	if loca.format == 0 && int(glyphID)*2 < len(loca.data) {
		return 2 * uint32(binary.BigEndian.Uint16(loca.data[int(glyphID)*2:])), true
	} else if loca.format == 1 && int(glyphID)*4 < len(loca.data) {
		return binary.BigEndian.Uint32(loca.data[int(glyphID)*4:]), true
	}
	return 0, false
}

func (sfnt *SFNT) parseLoca() error {
	if sfnt.Head == nil {
		return fmt.Errorf("loca: missing head table")
	} else if sfnt.Maxp == nil {
		return fmt.Errorf("loca: missing maxp table")
	}

	b, ok := sfnt.Tables["loca"]
	if !ok {
		return fmt.Errorf("loca: missing table")
	}

	sfnt.Loca = &locaTable{
		format: sfnt.Head.IndexToLocFormat,
		data:   b,
	}
	entrySize := 2
	if sfnt.Loca.format == 1 {
		entrySize = 4
	}
	if len(b) != entrySize*(int(sfnt.Maxp.NumGlyphs)+1) {
		return fmt.Errorf("loca: bad table")
	}
	return nil
}

////////////////////////////////////////////////////////////////

type glyfTable struct {
	data []byte
	loca *locaTable
}

// Get returns the glyph data corresponding to the passed glyphID. It returns nil if
// the glyph doesn't exist.
func (glyf *glyfTable) Get(glyphID uint16) []byte {
	start, ok1 := glyf.loca.Get(glyphID)
	end, ok2 := glyf.loca.Get(glyphID + 1)
	if !ok1 || !ok2 || end < start || uint32(len(glyf.data)) < end {
		return nil
	}
	return glyf.data[start:end]
}

// IsComposite returns true if the glyph is a composite glyph.
func (glyf *glyfTable) IsComposite(glyphID uint16) bool {
	b := glyf.Get(glyphID)
	if len(b) < 1 {
		return false
	}
	return b[0]&0x80 != 0 // sign bit is set on numberOfContours
}

// composite glyph entry flags
const (
	glyfArg1And2AreWords = 0x0001
	glyfWeHaveAScale     = 0x0008
	glyfMoreComponents   = 0x0020
	glyfWeHaveXYScale    = 0x0040
	glyfWeHave2x2        = 0x0080
)

func glyfCompositeLength(flags uint16) (uint32, bool) {
	length := uint32(4 + 2)
	if flags&glyfArg1And2AreWords != 0 {
		length += 2
	}
	if flags&glyfWeHaveAScale != 0 {
		length += 2
	} else if flags&glyfWeHaveXYScale != 0 {
		length += 4
	} else if flags&glyfWeHave2x2 != 0 {
		length += 8
	}
	return length, flags&glyfMoreComponents != 0
}

// Components returns the glyph IDs used by a composite glyph, or nil for a simple
// glyph.
func (glyf *glyfTable) Components(glyphID uint16) ([]uint16, error) {
	b := glyf.Get(glyphID)
	if b == nil {
		return nil, fmt.Errorf("glyf: bad glyphID %v", glyphID)
	} else if len(b) == 0 {
		return nil, nil
	}

	r := parse.NewBinaryReader(b)
	if r.Len() < 10 {
		return nil, fmt.Errorf("glyf: bad table for glyphID %v", glyphID)
	}
	numberOfContours := r.ReadInt16()
	_ = r.ReadBytes(8)
	if 0 <= numberOfContours {
		return nil, nil
	}

	components := []uint16{}
	for {
		if r.Len() < 4 {
			return nil, fmt.Errorf("glyf: bad table for glyphID %v", glyphID)
		}
		flags := r.ReadUint16()
		components = append(components, r.ReadUint16())

		length, more := glyfCompositeLength(flags)
		if !more {
			break
		} else if r.Len() < length-4 {
			return nil, fmt.Errorf("glyf: bad table for glyphID %v", glyphID)
		}
		_ = r.ReadBytes(length - 4)
	}
	return components, nil
}

// renumberComposite returns a copy of the glyph data with the component glyph IDs of
// a composite glyph replaced through glyphMap. Simple glyphs are returned as is.
func renumberComposite(b []byte, glyphMap map[uint16]uint16) ([]byte, error) {
	if len(b) == 0 || int16(binary.BigEndian.Uint16(b)) >= 0 {
		return b, nil
	}

	b = append([]byte{}, b...)
	offset := uint32(10)
	for {
		if uint32(len(b)) < offset+4 {
			return nil, fmt.Errorf("glyf: bad composite glyph")
		}
		flags := binary.BigEndian.Uint16(b[offset:])
		component := binary.BigEndian.Uint16(b[offset+2:])
		newComponent, ok := glyphMap[component]
		if !ok {
			return nil, fmt.Errorf("glyf: composite glyph references missing glyph %v", component)
		}
		binary.BigEndian.PutUint16(b[offset+2:], newComponent)

		length, more := glyfCompositeLength(flags)
		if !more {
			break
		}
		offset += length
	}
	return b, nil
}

func (sfnt *SFNT) parseGlyf() error {
	if sfnt.Loca == nil {
		return fmt.Errorf("glyf: missing loca table")
	}

	b, ok := sfnt.Tables["glyf"]
	if !ok {
		return fmt.Errorf("glyf: missing table")
	}
	end, _ := sfnt.Loca.Get(sfnt.Maxp.NumGlyphs)
	if uint32(len(b)) < end {
		return fmt.Errorf("glyf: bad table")
	}

	sfnt.Glyf = &glyfTable{
		data: b,
		loca: sfnt.Loca,
	}
	return nil
}
