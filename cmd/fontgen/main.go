package main

import (
	"fmt"
	"os"

	"github.com/hanstyle/fontgen"
	"github.com/tdewolff/argp"
)

func main() {
	opts := fontgen.Options{Version: 1.0}

	cmd := argp.New("Generate a Simplified-to-Traditional conversion font from a TTF/TTC/WOFF2 font file")
	cmd.AddOpt(&opts.CharTable, "c", "chars", "Character conversion table (TSV).")
	cmd.AddOpt(&opts.WordTable, "w", "words", "Word conversion table (TSV), sorted longest first.")
	cmd.AddOpt(&opts.HanList, "", "han", "Han code point list, one code point per line.")
	cmd.AddOpt(&opts.NameTemplate, "n", "names", "Name table template (JSON).")
	cmd.AddOpt(&opts.Version, "", "version", "Font revision of the output font.")
	cmd.AddOpt(&opts.Index, "", "index", "Index into font collection (used with TTC).")
	cmd.AddOpt(&opts.Output, "o", "output", "Output font file (TTF).")
	cmd.AddArg(&opts.Input, "input", "Input font file.")
	cmd.Parse()

	if opts.CharTable == "" {
		fmt.Println("ERROR: character conversion table must be given")
		os.Exit(1)
	}
	if opts.Output == "" {
		fmt.Println("ERROR: output font file must be given")
		os.Exit(1)
	}

	if err := fontgen.Generate(opts); err != nil {
		fmt.Println("ERROR:", err)
		os.Exit(1)
	}
}
