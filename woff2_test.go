package fontgen

import (
	"bytes"
	"encoding/binary"
	"sort"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/test"
)

func appendBase128(b []byte, v uint32) []byte {
	var tmp [5]byte
	n := 0
	for {
		tmp[n] = byte(v & 0x7F)
		n++
		v >>= 7
		if v == 0 {
			break
		}
	}
	for i := n - 1; 0 < i; i-- {
		b = append(b, tmp[i]|0x80)
	}
	return append(b, tmp[0])
}

// buildWOFF2 wraps the tables of an SFNT font in a WOFF2 container with null
// transforms, the only layout ParseWOFF2 accepts.
func buildWOFF2(t *testing.T, tables map[string][]byte) []byte {
	tags := make([]string, 0, len(tables))
	for tag := range tables {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	directory := []byte{}
	data := []byte{}
	for _, tag := range tags {
		tagIndex := 63
		for i, known := range woff2TableTags {
			if known == tag {
				tagIndex = i
				break
			}
		}
		flags := byte(tagIndex)
		if tag == "glyf" || tag == "loca" {
			flags |= 3 << 6 // null transform
		}
		directory = append(directory, flags)
		if tagIndex == 63 {
			directory = append(directory, tag...)
		}
		directory = appendBase128(directory, uint32(len(tables[tag])))
		data = append(data, tables[tag]...)
	}

	var compressed bytes.Buffer
	bw := brotli.NewWriter(&compressed)
	_, err := bw.Write(data)
	test.Error(t, err)
	test.Error(t, bw.Close())

	w := parse.NewBinaryWriter([]byte{})
	w.WriteString("wOF2")
	w.WriteUint32(0x00010000) // flavor
	w.WriteUint32(0)          // length (set later)
	w.WriteUint16(uint16(len(tags)))
	w.WriteUint16(0) // reserved
	w.WriteUint32(0) // totalSfntSize
	w.WriteUint32(uint32(compressed.Len()))
	w.WriteBytes(make([]byte, 24)) // versions, metadata and private blocks
	w.WriteBytes(directory)
	w.WriteBytes(compressed.Bytes())

	b := w.Bytes()
	binary.BigEndian.PutUint32(b[8:], uint32(len(b)))
	return b
}

func TestParseWOFF2(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	woff := buildWOFF2(t, sfnt.Tables)
	b, err := ToSFNT(woff)
	test.Error(t, err)

	out, err := ParseSFNT(b, 0)
	test.Error(t, err)
	test.T(t, out.NumGlyphs(), uint16(6))
	test.T(t, out.GlyphIndex('A'), uint16(1))
	test.T(t, out.Kerning(1, 2), int16(-40))
}

func TestParseWOFF2RejectsTransformed(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	woff := buildWOFF2(t, sfnt.Tables)
	// flip the glyf entry to transform version 0, the WOFF2 glyph transform
	glyfIndex := byte(10)
	for i := 48; i < len(woff); i++ {
		if woff[i]&0x3F == glyfIndex {
			woff[i] &^= 0xC0
			break
		}
	}
	if _, err := ParseWOFF2(woff); err == nil {
		test.Fail(t, "transformed glyf table must be rejected")
	}
}

func TestReadUintBase128(t *testing.T) {
	for _, c := range []struct {
		b []byte
		v uint32
	}{
		{[]byte{0x3F}, 63},
		{[]byte{0x81, 0x00}, 128},
		{[]byte{0x8F, 0xFF, 0xFF, 0xFF, 0x7F}, 0xFFFFFFFF},
	} {
		v, err := readUintBase128(parse.NewBinaryReader(c.b))
		test.Error(t, err)
		test.T(t, v, c.v)
	}

	// leading zero bytes are forbidden
	if _, err := readUintBase128(parse.NewBinaryReader([]byte{0x80, 0x01})); err == nil {
		test.Fail(t, "leading zeros must be rejected")
	}
}
