package fontgen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/andybalholm/brotli"
	"github.com/tdewolff/parse/v2"
)

// table tags known to WOFF2, indexed by the 6-bit tag index in the table directory
var woff2TableTags = []string{
	"cmap", "head", "hhea", "hmtx",
	"maxp", "name", "OS/2", "post",
	"cvt ", "fpgm", "glyf", "loca",
	"prep", "CFF ", "VORG", "EBDT",
	"EBLC", "gasp", "hdmx", "kern",
	"LTSH", "PCLT", "VDMX", "vhea",
	"vmtx", "BASE", "GDEF", "GPOS",
	"GSUB", "EBSC", "JSTF", "MATH",
	"CBDT", "CBLC", "COLR", "CPAL",
	"SVG ", "sbix", "acnt", "avar",
	"bdat", "bloc", "bsln", "cvar",
	"fdsc", "feat", "fmtx", "fvar",
	"gvar", "hsty", "just", "lcar",
	"mort", "morx", "opbd", "prop",
	"trak", "Zapf", "Silf", "Glat",
	"Gloc", "Feat", "Sill",
}

// ParseWOFF2 decompresses a WOFF2 file and returns the contained SFNT data. Only
// fonts whose glyf and loca tables are stored untransformed are accepted; the
// WOFF2-specific glyph transform is rejected with an error, so such fonts must be
// converted to TTF first. See https://www.w3.org/TR/WOFF2/
func ParseWOFF2(b []byte) ([]byte, error) {
	if len(b) < 48 {
		return nil, ErrInvalidFontData
	}

	r := parse.NewBinaryReader(b)
	if signature := r.ReadString(4); signature != "wOF2" {
		return nil, fmt.Errorf("bad signature")
	}
	flavor := r.ReadUint32()
	if uint32ToString(flavor) == "ttcf" {
		return nil, fmt.Errorf("collections are unsupported")
	}
	length := r.ReadUint32()
	numTables := r.ReadUint16()
	reserved := r.ReadUint16()
	_ = r.ReadUint32()                    // totalSfntSize
	totalCompressedSize := r.ReadUint32() // totalCompressedSize
	_ = r.ReadBytes(24)                   // versions, metadata and private blocks
	if r.EOF() {
		return nil, ErrInvalidFontData
	} else if length != uint32(len(b)) {
		return nil, fmt.Errorf("length in header must match file size")
	} else if numTables == 0 {
		return nil, fmt.Errorf("numTables in header must not be zero")
	} else if reserved != 0 {
		return nil, fmt.Errorf("reserved in header must be zero")
	}

	type woff2Table struct {
		tag    string
		length uint32
	}
	tables := make([]woff2Table, 0, numTables)
	var uncompressedSize uint32
	for i := 0; i < int(numTables); i++ {
		flags := r.ReadByte()
		tagIndex := int(flags & 0x3F)
		transformVersion := int(flags >> 6)

		var tag string
		if tagIndex == 63 {
			tag = uint32ToString(r.ReadUint32())
		} else {
			tag = woff2TableTags[tagIndex]
		}

		origLength, err := readUintBase128(r)
		if err != nil {
			return nil, err
		}

		// transform version 3 is the null transform for glyf and loca, version 0 for
		// any other table
		if tag == "glyf" || tag == "loca" {
			if transformVersion != 3 {
				return nil, fmt.Errorf("%s: transformed table is unsupported, convert to TTF first", tag)
			}
		} else if transformVersion != 0 {
			return nil, fmt.Errorf("%s: transformed table is unsupported", tag)
		}
		if math.MaxUint32-uncompressedSize < origLength {
			return nil, ErrInvalidFontData
		}
		uncompressedSize += origLength
		tables = append(tables, woff2Table{tag: tag, length: origLength})
	}

	compData := r.ReadBytes(totalCompressedSize)
	if r.EOF() {
		return nil, ErrInvalidFontData
	}
	dataBuf := bytes.NewBuffer(make([]byte, 0, uncompressedSize))
	if _, err := io.Copy(dataBuf, brotli.NewReader(bytes.NewReader(compData))); err != nil {
		return nil, err
	}
	data := dataBuf.Bytes()
	if uint32(len(data)) != uncompressedSize {
		return nil, fmt.Errorf("sum of table lengths must match decompressed font data size")
	}

	sfntTables := make(map[string][]byte, len(tables))
	var offset uint32
	for _, table := range tables {
		if _, ok := sfntTables[table.tag]; ok {
			return nil, fmt.Errorf("%s: table defined more than once", table.tag)
		}
		sfntTables[table.tag] = data[offset : offset+table.length : offset+table.length]
		offset += table.length
	}

	// clear checkSumAdjustment so that the font checksum can be recalculated
	head, ok := sfntTables["head"]
	if !ok || len(head) < 12 {
		return nil, fmt.Errorf("head: must be present")
	}
	head = append([]byte{}, head...)
	binary.BigEndian.PutUint32(head[8:], 0)
	sfntTables["head"] = head
	delete(sfntTables, "DSIG") // signature is invalid after recompression

	tags := make([]string, 0, len(sfntTables))
	for tag := range sfntTables {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	numTables = uint16(len(tags))
	entrySelector := uint16(math.Log2(float64(numTables)))
	searchRange := uint16(1 << (entrySelector + 4))
	w := parse.NewBinaryWriter(make([]byte, 0, uncompressedSize))
	w.WriteUint32(flavor)
	w.WriteUint16(numTables)
	w.WriteUint16(searchRange)
	w.WriteUint16(entrySelector)
	w.WriteUint16(numTables<<4 - searchRange)

	sfntOffset := 12 + 16*uint32(numTables)
	for _, tag := range tags {
		table := sfntTables[tag]
		padding := (4 - uint32(len(table))&3) & 3
		w.WriteString(tag)
		w.WriteUint32(0) // checksum (set by the font checksum below)
		w.WriteUint32(sfntOffset)
		w.WriteUint32(uint32(len(table)))
		sfntOffset += uint32(len(table)) + padding
	}

	var checksumAdjustmentPos uint32
	for _, tag := range tags {
		if tag == "head" {
			checksumAdjustmentPos = w.Len() + 8
		}
		w.WriteBytes(sfntTables[tag])
		for w.Len()%4 != 0 {
			w.WriteByte(0)
		}
	}

	buf := w.Bytes()
	for i := 0; i < int(numTables); i++ {
		pos := 12 + i<<4
		tableOffset := binary.BigEndian.Uint32(buf[pos+8:])
		tableLength := binary.BigEndian.Uint32(buf[pos+12:])
		padding := (4 - tableLength&3) & 3
		binary.BigEndian.PutUint32(buf[pos+4:], calcChecksum(buf[tableOffset:tableOffset+tableLength+padding]))
	}
	binary.BigEndian.PutUint32(buf[checksumAdjustmentPos:], 0xB1B0AFBA-calcChecksum(buf))
	return buf, nil
}

func readUintBase128(r *parse.BinaryReader) (uint32, error) {
	// see https://www.w3.org/TR/WOFF2/#DataTypes
	var accum uint32
	for i := 0; i < 5; i++ {
		dataByte := r.ReadByte()
		if r.EOF() {
			return 0, ErrInvalidFontData
		}
		if i == 0 && dataByte == 0x80 {
			return 0, fmt.Errorf("readUintBase128: must not start with leading zeros")
		}
		if accum&0xFE000000 != 0 {
			return 0, fmt.Errorf("readUintBase128: overflow")
		}
		accum = accum<<7 | uint32(dataByte&0x7F)
		if dataByte&0x80 == 0 {
			return accum, nil
		}
	}
	return 0, fmt.Errorf("readUintBase128: exceeds 5 bytes")
}
