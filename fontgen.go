package fontgen

import (
	"os"
	"strconv"
	"time"
)

// Options configures a font generation run.
type Options struct {
	Input        string  // input font file (TTF, OTF, TTC, or WOFF2)
	Output       string  // output font file (TTF)
	Index        int     // font index for TTC input
	CharTable    string  // single-character conversion table
	WordTable    string  // word conversion table, may be empty
	HanList      string  // Han code point list, may be empty
	NameTemplate string  // name table template, may be empty
	Version      float64 // font revision, 0 keeps the original
}

// Generate reads the input font, removes the glyphs that the conversion does not
// need, builds the conversion substitution lookups, and writes the output font. On
// any error no output file is written.
func Generate(opts Options) error {
	tables, err := LoadConversionTables(opts.CharTable, opts.WordTable)
	if err != nil {
		return err
	}
	var han RuneSet
	if opts.HanList != "" {
		if han, err = LoadHanRunes(opts.HanList); err != nil {
			return err
		}
	}

	b, err := os.ReadFile(opts.Input)
	if err != nil {
		return IOError{opts.Input, err}
	}
	if b, err = ToSFNT(b); err != nil {
		return err
	}
	sfnt, err := ParseSFNT(b, opts.Index)
	if err != nil {
		return err
	}

	available := sfnt.Cmap.Mapping()
	tables.Filter(available)
	keep := tables.Resolve(han, available)
	for r := range tables.Runes() {
		keep[r] = true // already filtered to the font's coverage
	}

	if _, err = sfnt.Subset(keep); err != nil {
		return err
	}
	if err = sfnt.AddConversion(tables); err != nil {
		return err
	}

	if opts.Version != 0 {
		sfnt.SetFontRevision(opts.Version)
	}
	if opts.NameTemplate != "" {
		version := strconv.FormatFloat(opts.Version, 'g', -1, 64)
		date := time.Now().Format("Jan 2, 2006")
		entries, err := LoadNameTemplate(opts.NameTemplate, sfnt.Subfamily(), version, date)
		if err != nil {
			return err
		}
		if err = sfnt.SetNames(entries); err != nil {
			return err
		}
	}

	if err = os.WriteFile(opts.Output, sfnt.Write(), 0644); err != nil {
		return IOError{opts.Output, err}
	}
	return nil
}
