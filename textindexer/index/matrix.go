package index

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
)

// Cell is a non-zero entry of a matrix row.
type Cell struct {
	Col    int
	Weight float64
}

// WeightMatrix is a document-by-term weight matrix. Row i holds the term
// weights of the i-th document.
type WeightMatrix interface {
	// Rows returns the number of documents.
	Rows() int

	// Cols returns the number of terms.
	Cols() int

	// Row returns the non-zero cells of row i ordered by column.
	Row(i int) []Cell
}

// DenseMatrix is a WeightMatrix backed by a slice of rows.
type DenseMatrix [][]float64

// Rows returns the number of documents.
func (m DenseMatrix) Rows() int { return len(m) }

// Cols returns the length of the widest row.
func (m DenseMatrix) Cols() int {
	var cols int
	for _, row := range m {
		if len(row) > cols {
			cols = len(row)
		}
	}

	return cols
}

// Row returns the non-zero cells of row i.
func (m DenseMatrix) Row(i int) []Cell {
	var cells []Cell
	for col, w := range m[i] {
		if w != 0 {
			cells = append(cells, Cell{Col: col, Weight: w})
		}
	}

	return cells
}

// SparseMatrix is a WeightMatrix that only stores non-zero cells.
type SparseMatrix struct {
	cols  int
	cells [][]Cell
}

// NewSparseMatrix returns an empty rows x cols matrix.
func NewSparseMatrix(rows, cols int) *SparseMatrix {
	return &SparseMatrix{
		cols:  cols,
		cells: make([][]Cell, rows),
	}
}

// Set stores w at (row, col). Setting a cell twice keeps the last weight.
func (m *SparseMatrix) Set(row, col int, w float64) error {
	if row < 0 || row >= len(m.cells) || col < 0 || col >= m.cols {
		return fmt.Errorf("set (%d, %d) on a %dx%d matrix: %w", row, col, len(m.cells), m.cols, ErrShapeMismatch)
	}

	cells := m.cells[row]
	at := sort.Search(len(cells), func(i int) bool { return cells[i].Col >= col })
	if at < len(cells) && cells[at].Col == col {
		cells[at].Weight = w
		return nil
	}

	cells = append(cells, Cell{})
	copy(cells[at+1:], cells[at:])
	cells[at] = Cell{Col: col, Weight: w}
	m.cells[row] = cells

	return nil
}

// Rows returns the number of documents.
func (m *SparseMatrix) Rows() int { return len(m.cells) }

// Cols returns the number of terms.
func (m *SparseMatrix) Cols() int { return m.cols }

// Row returns the stored cells of row i.
func (m *SparseMatrix) Row(i int) []Cell { return m.cells[i] }

type sparseMatrixFile struct {
	Rows  int          `json:"rows"`
	Cols  int          `json:"cols"`
	Cells [][3]float64 `json:"cells"`
}

// ReadMatrix decodes a matrix from r. Two encodings are accepted: a dense
// array of rows, or an object {"rows": n, "cols": m, "cells": [[row, col,
// weight], ...]}.
func ReadMatrix(r io.Reader) (WeightMatrix, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read matrix: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrMissingMatrix
	}

	switch raw[0] {
	case '[':
		var dense DenseMatrix
		if err := json.Unmarshal(raw, &dense); err != nil {
			return nil, fmt.Errorf("decode dense matrix: %w", err)
		}
		return dense, nil
	case '{':
		var f sparseMatrixFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode sparse matrix: %w", err)
		}
		if f.Rows < 0 || f.Cols < 0 {
			return nil, fmt.Errorf("decode sparse matrix: negative shape: %w", ErrShapeMismatch)
		}

		m := NewSparseMatrix(f.Rows, f.Cols)
		for _, cell := range f.Cells {
			row, col := cell[0], cell[1]
			if row != math.Trunc(row) || col != math.Trunc(col) {
				return nil, fmt.Errorf("decode sparse matrix: non-integral cell index (%v, %v)", row, col)
			}
			if err := m.Set(int(row), int(col), cell[2]); err != nil {
				return nil, fmt.Errorf("decode sparse matrix: %w", err)
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("decode matrix: unexpected leading %q", raw[0])
	}
}

// LoadMatrix reads a matrix file. See ReadMatrix for the accepted encodings.
func LoadMatrix(path string) (WeightMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load matrix: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ReadMatrix(f)
}

// LoadVocabulary reads a newline separated list of terms. Line n names the
// term of matrix column n, so a blank line before the last term fails with
// ErrShapeMismatch. Trailing blank lines are ignored.
func LoadVocabulary(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	defer func() { _ = f.Close() }()

	var terms []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		terms = append(terms, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}

	for len(terms) > 0 && terms[len(terms)-1] == "" {
		terms = terms[:len(terms)-1]
	}
	for i, term := range terms {
		if term == "" {
			return nil, fmt.Errorf("load vocabulary: blank term on line %d: %w", i+1, ErrShapeMismatch)
		}
	}

	return terms, nil
}

// LoadDocIDs reads a JSON array mapping matrix rows to document ids.
func LoadDocIDs(path string) ([]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load doc ids: %w", err)
	}

	var ids []int
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("load doc ids: %w", err)
	}

	return ids, nil
}
