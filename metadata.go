package fontgen

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/tdewolff/parse/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// NameEntry is one entry for the name table.
type NameEntry struct {
	ID    NameID
	Value string
}

// Subfamily returns the typographic subfamily name of the font, falling back to the
// font subfamily and finally to Regular.
func (sfnt *SFNT) Subfamily() string {
	for _, id := range []NameID{NamePreferredSubfamily, NameFontSubfamily} {
		for _, record := range sfnt.Name.Get(id) {
			if s := record.String(); s != "" {
				return s
			}
		}
	}
	return "Regular"
}

// SetNames replaces the name table by the given entries, written in UTF-16 for the
// Unicode platform and the Windows platform (US English).
func (sfnt *SFNT) SetNames(entries []NameEntry) error {
	entries = append([]NameEntry{}, entries...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	encoder := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder()
	storage := parse.NewBinaryWriter([]byte{})
	offsets := make([]uint16, len(entries))
	lengths := make([]uint16, len(entries))
	for i, entry := range entries {
		v, _, err := transform.Bytes(encoder, []byte(entry.Value))
		if err != nil {
			return FormatError{"name entry cannot be encoded: " + err.Error()}
		}
		if 0xFFFF < storage.Len()+uint32(len(v)) {
			return FormatError{"name table exceeds size limit"}
		}
		offsets[i] = uint16(storage.Len())
		lengths[i] = uint16(len(v))
		storage.WriteBytes(v)
	}

	// records sort by platform, encoding, language, and name ID
	platforms := []struct {
		platform, encoding, language uint16
	}{
		{0, 4, 0},      // Unicode
		{3, 1, 0x0409}, // Windows, US English
	}
	count := len(platforms) * len(entries)
	w := parse.NewBinaryWriter([]byte{})
	w.WriteUint16(0) // version
	w.WriteUint16(uint16(count))
	w.WriteUint16(uint16(6 + 12*count)) // storageOffset
	for _, p := range platforms {
		for i, entry := range entries {
			w.WriteUint16(p.platform)
			w.WriteUint16(p.encoding)
			w.WriteUint16(p.language)
			w.WriteUint16(uint16(entry.ID))
			w.WriteUint16(lengths[i])
			w.WriteUint16(offsets[i])
		}
	}
	w.WriteBytes(storage.Bytes())
	sfnt.Tables["name"] = w.Bytes()
	return sfnt.parseName()
}

// SetFontRevision sets the head table's fontRevision to the given version, stored as
// 16.16 fixed point.
func (sfnt *SFNT) SetFontRevision(version float64) {
	revision := uint32(version*65536.0 + 0.5)
	head := append([]byte{}, sfnt.Tables["head"]...)
	binary.BigEndian.PutUint32(head[4:], revision)
	sfnt.Tables["head"] = head
	sfnt.Head.FontRevision = revision
}

type nameTemplateEntry struct {
	NameID     NameID `json:"nameID"`
	NameString string `json:"nameString"`
}

// LoadNameTemplate reads a JSON name table template and substitutes the subfamily
// style, version, and date placeholders in each entry.
func LoadNameTemplate(path, style, version, date string) ([]NameEntry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, IOError{path, err}
	}
	var template []nameTemplateEntry
	if err := json.Unmarshal(b, &template); err != nil {
		return nil, ConfigurationError{"bad name table template: " + err.Error()}
	}

	replacer := strings.NewReplacer(
		"<Typographic Subfamily Name>", style,
		"<Version>", version,
		"<Date>", date,
	)
	entries := make([]NameEntry, len(template))
	for i, entry := range template {
		entries[i] = NameEntry{ID: entry.NameID, Value: replacer.Replace(entry.NameString)}
	}
	return entries, nil
}
