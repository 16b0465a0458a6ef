// Command kbqa answers questions from a local knowledge base. It builds a
// flat-file embedding index from a directory of Markdown and text files and
// answers questions against it, refusing when the evidence is too weak.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/kbqa-go/cmd/kbqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
