package fontgen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tdewolff/test"
)

func TestParseCharTable(t *testing.T) {
	chars, err := ParseCharTable([]byte("万\t萬\n与\t與 与\r\n\n台\t臺\n"))
	test.Error(t, err)
	test.T(t, chars, []CharMapping{
		{From: '万', To: '萬'},
		{From: '与', To: '與'}, // first candidate wins
		{From: '台', To: '臺'},
	})

	for _, bad := range []string{"", "万萬\n", "万\t\n", "万台\t萬\n"} {
		_, err := ParseCharTable([]byte(bad))
		if _, ok := err.(ConfigurationError); !ok {
			test.Fail(t, "expected ConfigurationError, got", err)
		}
	}
}

func TestParseWordTable(t *testing.T) {
	words, err := ParseWordTable([]byte("一伙\t一夥\n干面\t乾麵 干麵\n"))
	test.Error(t, err)
	test.T(t, words, []WordMapping{
		{From: []rune("一伙"), To: []rune("一夥")},
		{From: []rune("干面"), To: []rune("乾麵")},
	})

	// single-character sources belong in the character table
	_, err = ParseWordTable([]byte("万\t萬\n"))
	if _, ok := err.(ConfigurationError); !ok {
		test.Fail(t, "expected ConfigurationError, got", err)
	}
}

func TestLoadConversionTables(t *testing.T) {
	dir := t.TempDir()
	charPath := filepath.Join(dir, "chars.txt")
	test.Error(t, os.WriteFile(charPath, []byte("万\t萬\n"), 0644))

	tables, err := LoadConversionTables(charPath, "")
	test.Error(t, err)
	test.T(t, len(tables.Chars), 1)
	test.T(t, len(tables.Words), 0)

	_, err = LoadConversionTables(filepath.Join(dir, "missing.txt"), "")
	if _, ok := err.(IOError); !ok {
		test.Fail(t, "expected IOError, got", err)
	}
}

func TestLoadHanRunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "han.txt")
	test.Error(t, os.WriteFile(path, []byte("19968\n\n33836\n"), 0644))

	runes, err := LoadHanRunes(path)
	test.Error(t, err)
	test.T(t, runes, RuneSet{0x4E00: true, 0x842C: true})

	test.Error(t, os.WriteFile(path, []byte("U+4E00\n"), 0644))
	_, err = LoadHanRunes(path)
	if _, ok := err.(ConfigurationError); !ok {
		test.Fail(t, "expected ConfigurationError, got", err)
	}
}

func TestNonHanRunes(t *testing.T) {
	runes := NonHanRunes()
	test.T(t, runes[' '], true)
	test.T(t, runes[0x3000], true) // ideographic space
	test.T(t, runes[0xFF01], true) // fullwidth exclamation mark
	test.T(t, runes[0x4E00], false)
	test.T(t, len(runes), 891)
}

func TestConversionTablesRunes(t *testing.T) {
	tables := &ConversionTables{
		Chars: []CharMapping{{From: '万', To: '萬'}},
		Words: []WordMapping{{From: []rune("一伙"), To: []rune("一夥")}},
	}
	test.T(t, tables.Runes(), RuneSet{'万': true, '萬': true, '一': true, '伙': true, '夥': true})
}

func TestConversionTablesFilter(t *testing.T) {
	tables := &ConversionTables{
		Chars: []CharMapping{
			{From: '万', To: '萬'},
			{From: '与', To: '與'},
		},
		Words: []WordMapping{
			{From: []rune("一伙"), To: []rune("一夥")},
			{From: []rune("干面"), To: []rune("乾麵")},
		},
	}
	available := map[rune]uint16{'万': 1, '萬': 2, '与': 3, '一': 4, '伙': 5, '夥': 6}
	tables.Filter(available)

	// mappings with a character the font cannot show are dropped entirely
	test.T(t, tables.Chars, []CharMapping{{From: '万', To: '萬'}})
	test.T(t, tables.Words, []WordMapping{{From: []rune("一伙"), To: []rune("一夥")}})
}

func TestConversionTablesResolve(t *testing.T) {
	tables := &ConversionTables{Chars: []CharMapping{{From: '万', To: '萬'}}}
	available := map[rune]uint16{'万': 1, '萬': 2, ' ': 3, 'A': 4, '丁': 5}

	// with an explicit Han list only its covered runes are kept, plus the non-Han set
	keep := tables.Resolve(RuneSet{'丁': true, '丂': true}, available)
	test.T(t, keep, RuneSet{'丁': true, ' ': true, 'A': true})

	// without a Han list the conversion tables define the Han set
	keep = tables.Resolve(nil, available)
	test.T(t, keep, RuneSet{'万': true, '萬': true, ' ': true, 'A': true})
}
