// Command zhsearch crawls Chinese news sites, builds an inverted index from
// precomputed TF-IDF weights and answers ranked queries against it.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
