package fontgen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tdewolff/test"
)

func TestSetNames(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	test.Error(t, sfnt.SetNames([]NameEntry{
		{ID: NamePreferredSubfamily, Value: "Bold"},
		{ID: NameFontFamily, Value: "Example 繁體"},
		{ID: NameVersion, Value: "Version 1.5"},
	}))

	// one Unicode and one Windows record per entry
	records := sfnt.Name.Get(NameFontFamily)
	test.T(t, len(records), 2)
	test.T(t, records[0].String(), "Example 繁體")
	test.T(t, records[1].Platform, uint16(3))
	test.T(t, records[1].Language, uint16(0x0409))
	test.T(t, records[1].String(), "Example 繁體")

	test.T(t, sfnt.Subfamily(), "Bold")

	// the rewritten table survives a full write and reparse
	out, err := ParseSFNT(sfnt.Write(), 0)
	test.Error(t, err)
	records = out.Name.Get(NameVersion)
	test.T(t, len(records), 2)
	test.T(t, records[0].String(), "Version 1.5")
}

func TestSetFontRevision(t *testing.T) {
	sfnt, err := ParseSFNT(buildTestFont(t), 0)
	test.Error(t, err)

	sfnt.SetFontRevision(1.5)
	test.T(t, sfnt.Head.FontRevision, uint32(0x00018000))

	out, err := ParseSFNT(sfnt.Write(), 0)
	test.Error(t, err)
	test.T(t, out.Head.FontRevision, uint32(0x00018000))
}

func TestLoadNameTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "names.json")
	template := `[
		{"nameID": 1, "nameString": "Example <Typographic Subfamily Name>"},
		{"nameID": 5, "nameString": "Version <Version>; <Date>"}
	]`
	test.Error(t, os.WriteFile(path, []byte(template), 0644))

	entries, err := LoadNameTemplate(path, "Bold", "1.5", "Aug 27, 2026")
	test.Error(t, err)
	test.T(t, entries, []NameEntry{
		{ID: NameFontFamily, Value: "Example Bold"},
		{ID: NameVersion, Value: "Version 1.5; Aug 27, 2026"},
	})

	test.Error(t, os.WriteFile(path, []byte("{"), 0644))
	_, err = LoadNameTemplate(path, "Bold", "1.5", "Aug 27, 2026")
	if _, ok := err.(ConfigurationError); !ok {
		test.Fail(t, "expected ConfigurationError, got", err)
	}
}
