package fontgen

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RuneSet is a set of Unicode code points to retain in the output font.
type RuneSet map[rune]bool

// non-Han code points kept in the output font: basic Latin and Latin-1, spacing
// modifier letters, general punctuation, CJK radicals, symbols and punctuation,
// bopomofo, kanbun, vertical and compatibility forms, and the halfwidth and
// fullwidth forms
var nonHanRanges = [][2]rune{
	{0x0020, 0x00FF},
	{0x02B0, 0x02FF},
	{0x2002, 0x203B},
	{0x2E00, 0x2EFF},
	{0x3000, 0x301C},
	{0x3100, 0x312F},
	{0x3190, 0x31BF},
	{0xFE10, 0xFE1F},
	{0xFE30, 0xFE4F},
	{0xFF01, 0xFF64},
}

// NonHanRunes returns the fixed set of non-Han code points that the output font keeps
// next to the Han characters.
func NonHanRunes() RuneSet {
	runes := RuneSet{}
	for _, rng := range nonHanRanges {
		for r := rng[0]; r <= rng[1]; r++ {
			runes[r] = true
		}
	}
	return runes
}

// CharMapping substitutes a single character by another single character.
type CharMapping struct {
	From, To rune
}

// WordMapping substitutes a character sequence by another character sequence.
type WordMapping struct {
	From, To []rune
}

// ConversionTables holds the character equivalences of a conversion dictionary. Word
// mappings are ordered from longest to shortest source so that the longest match
// wins.
type ConversionTables struct {
	Chars []CharMapping
	Words []WordMapping
}

func splitMapping(line string) (string, string, bool) {
	k, v, ok := strings.Cut(line, "\t")
	if !ok || k == "" || v == "" {
		return "", "", false
	}
	// a dictionary may list several candidates, the first one is the conversion
	if i := strings.IndexByte(v, ' '); i != -1 {
		v = v[:i]
	}
	return k, v, true
}

// ParseCharTable parses tab-separated single-character mappings, one per line.
func ParseCharTable(b []byte) ([]CharMapping, error) {
	chars := []CharMapping{}
	scanner := bufio.NewScanner(strings.NewReader(string(b)))
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		k, v, ok := splitMapping(line)
		if !ok {
			return nil, ConfigurationError{fmt.Sprintf("bad character mapping on line %d", n)}
		}
		from := []rune(k)
		to := []rune(v)
		if len(from) != 1 || len(to) != 1 {
			return nil, ConfigurationError{fmt.Sprintf("bad character mapping on line %d", n)}
		}
		chars = append(chars, CharMapping{From: from[0], To: to[0]})
	}
	if len(chars) == 0 {
		return nil, ConfigurationError{"empty character mapping"}
	}
	return chars, nil
}

// ParseWordTable parses tab-separated word mappings, one per line.
func ParseWordTable(b []byte) ([]WordMapping, error) {
	words := []WordMapping{}
	scanner := bufio.NewScanner(strings.NewReader(string(b)))
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		k, v, ok := splitMapping(line)
		if !ok {
			return nil, ConfigurationError{fmt.Sprintf("bad word mapping on line %d", n)}
		}
		from := []rune(k)
		to := []rune(v)
		if len(from) < 2 {
			return nil, ConfigurationError{fmt.Sprintf("bad word mapping on line %d", n)}
		}
		words = append(words, WordMapping{From: from, To: to})
	}
	if len(words) == 0 {
		return nil, ConfigurationError{"empty word mapping"}
	}
	return words, nil
}

// LoadConversionTables reads the character and word tables of a conversion
// dictionary. The word table path may be empty when only single characters are
// converted.
func LoadConversionTables(charPath, wordPath string) (*ConversionTables, error) {
	tables := &ConversionTables{}
	b, err := os.ReadFile(charPath)
	if err != nil {
		return nil, IOError{charPath, err}
	}
	if tables.Chars, err = ParseCharTable(b); err != nil {
		return nil, err
	}
	if wordPath != "" {
		if b, err = os.ReadFile(wordPath); err != nil {
			return nil, IOError{wordPath, err}
		}
		if tables.Words, err = ParseWordTable(b); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// LoadHanRunes reads a Han code point list, one integer code point per line.
func LoadHanRunes(path string) (RuneSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, IOError{path, err}
	}
	runes := RuneSet{}
	scanner := bufio.NewScanner(strings.NewReader(string(b)))
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		codepoint, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			return nil, ConfigurationError{fmt.Sprintf("bad code point on line %d", n)}
		}
		runes[rune(codepoint)] = true
	}
	if len(runes) == 0 {
		return nil, ConfigurationError{"empty Han code point list"}
	}
	return runes, nil
}

// Runes returns every code point the conversion tables mention, on either side of a
// mapping.
func (tables *ConversionTables) Runes() RuneSet {
	runes := RuneSet{}
	for _, m := range tables.Chars {
		runes[m.From] = true
		runes[m.To] = true
	}
	for _, m := range tables.Words {
		for _, r := range m.From {
			runes[r] = true
		}
		for _, r := range m.To {
			runes[r] = true
		}
	}
	return runes
}

// Filter drops every mapping that is not fully covered by the available code points.
// A substitution can only be built when the font has a glyph for every character on
// both sides.
func (tables *ConversionTables) Filter(available map[rune]uint16) {
	chars := tables.Chars[:0]
	for _, m := range tables.Chars {
		if _, okFrom := available[m.From]; okFrom {
			if _, okTo := available[m.To]; okTo {
				chars = append(chars, m)
			}
		}
	}
	tables.Chars = chars

	words := tables.Words[:0]
Word:
	for _, m := range tables.Words {
		for _, r := range m.From {
			if _, ok := available[r]; !ok {
				continue Word
			}
		}
		for _, r := range m.To {
			if _, ok := available[r]; !ok {
				continue Word
			}
		}
		words = append(words, m)
	}
	tables.Words = words
}

// Resolve computes the set of code points to retain in the output font: the Han
// characters and the fixed non-Han ranges, limited to what the font covers. When han
// is nil the Han set is derived from the conversion tables themselves.
func (tables *ConversionTables) Resolve(han RuneSet, available map[rune]uint16) RuneSet {
	if han == nil {
		han = tables.Runes()
	}
	runes := RuneSet{}
	for r := range han {
		if _, ok := available[r]; ok {
			runes[r] = true
		}
	}
	for r := range NonHanRunes() {
		if _, ok := available[r]; ok {
			runes[r] = true
		}
	}
	return runes
}
