package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshot is an index loaded back from the artifacts of a build.
type Snapshot struct {
	Index InvertedIndex

	// The remaining fields are nil when their artifact is absent.
	DocLengths []float64
	Metadata   []DocumentMetadata
	Vocabulary []string
	Info       *IndexInfo
}

// LoadSnapshot reads the artifacts in dir. The inverted index is required;
// the other artifacts are optional but must be well formed when present.
func LoadSnapshot(dir string) (*Snapshot, error) {
	snap := new(Snapshot)

	if err := readJSON(filepath.Join(dir, InvertedIndexFile), &snap.Index); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	optional := []struct {
		name string
		dst  interface{}
	}{
		{DocLengthsFile, &snap.DocLengths},
		{MetadataFile, &snap.Metadata},
		{IndexInfoFile, &snap.Info},
	}
	for _, o := range optional {
		if err := readJSON(filepath.Join(dir, o.name), o.dst); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
	}

	vocab, err := LoadVocabulary(filepath.Join(dir, VocabularyFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap.Vocabulary = vocab

	return snap, nil
}

func readJSON(path string, dst interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	return nil
}
