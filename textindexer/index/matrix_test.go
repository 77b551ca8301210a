package index

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(new(matrixTestSuite))

type matrixTestSuite struct{}

func (s *matrixTestSuite) TestDenseMatrix(c *check.C) {
	m := DenseMatrix{
		{0, 0.5, 0},
		{0.25},
	}

	c.Assert(m.Rows(), check.Equals, 2)
	c.Assert(m.Cols(), check.Equals, 3)
	c.Assert(m.Row(0), check.DeepEquals, []Cell{{Col: 1, Weight: 0.5}})
	c.Assert(m.Row(1), check.DeepEquals, []Cell{{Col: 0, Weight: 0.25}})
}

func (s *matrixTestSuite) TestSparseMatrixKeepsColumnOrder(c *check.C) {
	m := NewSparseMatrix(2, 4)
	c.Assert(m.Set(0, 3, 0.3), check.IsNil)
	c.Assert(m.Set(0, 1, 0.1), check.IsNil)
	c.Assert(m.Set(0, 2, 0.2), check.IsNil)
	c.Assert(m.Set(0, 1, 0.9), check.IsNil)

	c.Assert(m.Rows(), check.Equals, 2)
	c.Assert(m.Cols(), check.Equals, 4)
	c.Assert(m.Row(0), check.DeepEquals, []Cell{{1, 0.9}, {2, 0.2}, {3, 0.3}})
	c.Assert(m.Row(1), check.HasLen, 0)

	c.Assert(errors.Is(m.Set(2, 0, 1), ErrShapeMismatch), check.Equals, true)
	c.Assert(errors.Is(m.Set(0, 4, 1), ErrShapeMismatch), check.Equals, true)
}

func (s *matrixTestSuite) TestReadMatrixEncodingsAgree(c *check.C) {
	dense, err := ReadMatrix(strings.NewReader(`[[0.5, 0], [0.1, 0.3]]`))
	c.Assert(err, check.IsNil)

	sparse, err := ReadMatrix(strings.NewReader(`{"rows": 2, "cols": 2, "cells": [[1, 1, 0.3], [0, 0, 0.5], [1, 0, 0.1]]}`))
	c.Assert(err, check.IsNil)

	vocab := []string{"apple", "banana"}
	fromDense, err := Build(dense, vocab, []int{1, 2})
	c.Assert(err, check.IsNil)
	fromSparse, err := Build(sparse, vocab, []int{1, 2})
	c.Assert(err, check.IsNil)

	c.Assert(fromDense, check.DeepEquals, fruitIndex())
	c.Assert(fromSparse, check.DeepEquals, fruitIndex())
}

func (s *matrixTestSuite) TestReadMatrixErrors(c *check.C) {
	_, err := ReadMatrix(strings.NewReader("  "))
	c.Assert(errors.Is(err, ErrMissingMatrix), check.Equals, true)

	_, err = ReadMatrix(strings.NewReader(`"matrix"`))
	c.Assert(err, check.ErrorMatches, "decode matrix: unexpected leading .*")

	_, err = ReadMatrix(strings.NewReader(`{"rows": 1, "cols": 1, "cells": [[0.5, 0, 1]]}`))
	c.Assert(err, check.ErrorMatches, ".*non-integral cell index.*")

	_, err = ReadMatrix(strings.NewReader(`{"rows": 1, "cols": 1, "cells": [[0, 5, 1]]}`))
	c.Assert(errors.Is(err, ErrShapeMismatch), check.Equals, true)
}

func (s *matrixTestSuite) TestLoadInputs(c *check.C) {
	dir := c.MkDir()

	vocabPath := filepath.Join(dir, "vocabulary.txt")
	c.Assert(os.WriteFile(vocabPath, []byte("苹果\n香蕉\n\n"), 0o644), check.IsNil)
	vocab, err := LoadVocabulary(vocabPath)
	c.Assert(err, check.IsNil)
	c.Assert(vocab, check.DeepEquals, []string{"苹果", "香蕉"})

	idsPath := filepath.Join(dir, "ids.json")
	c.Assert(os.WriteFile(idsPath, []byte("[4, 8]"), 0o644), check.IsNil)
	ids, err := LoadDocIDs(idsPath)
	c.Assert(err, check.IsNil)
	c.Assert(ids, check.DeepEquals, []int{4, 8})

	matrixPath := filepath.Join(dir, "matrix.json")
	c.Assert(os.WriteFile(matrixPath, []byte("[[1, 0]]"), 0o644), check.IsNil)
	m, err := LoadMatrix(matrixPath)
	c.Assert(err, check.IsNil)
	c.Assert(m.Rows(), check.Equals, 1)

	_, err = LoadMatrix(filepath.Join(dir, "missing.json"))
	c.Assert(err, check.ErrorMatches, "load matrix: .*")
}

func (s *matrixTestSuite) TestLoadVocabularyKeepsColumnPositions(c *check.C) {
	dir := c.MkDir()
	specs := []struct {
		content string
		want    []string
		blank   bool
	}{
		{content: "苹果\n香蕉", want: []string{"苹果", "香蕉"}},
		{content: "苹果\r\n香蕉\r\n", want: []string{"苹果", "香蕉"}},
		{content: "苹果\n香蕉\n\n \n", want: []string{"苹果", "香蕉"}},
		{content: "苹果\n\n香蕉\n", blank: true},
		{content: "\n苹果\n", blank: true},
	}

	for i, spec := range specs {
		path := filepath.Join(dir, "vocabulary.txt")
		c.Assert(os.WriteFile(path, []byte(spec.content), 0o644), check.IsNil)

		got, err := LoadVocabulary(path)
		if spec.blank {
			c.Assert(errors.Is(err, ErrShapeMismatch), check.Equals, true, check.Commentf("case %d: %v", i, err))
			continue
		}
		c.Assert(err, check.IsNil, check.Commentf("case %d", i))
		c.Assert(got, check.DeepEquals, spec.want, check.Commentf("case %d", i))
	}
}
