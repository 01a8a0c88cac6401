// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextStructureRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var w StructureWriter = NewTextWriter(&buf)
	w.WriteComment("header")
	w.WriteInt(-42)
	w.WriteDouble(math.Pi)
	w.WriteString("two words \"quoted\"")
	w.BlockBegin()
	w.WriteInts([]int{3, 1, 4})
	w.BlockBegin()
	w.WriteDoubles([]float64{0.1, -1e-300, 2.5e10})
	w.WriteDoubles(nil)
	w.BlockEnd()
	w.BlockEnd()
	require.NoError(t, w.Flush())

	assert.Contains(t, buf.String(), "\n    doubles 3 0.1 -1e-300 2.5e+10\n")

	var r StructureReader = NewTextReader(&buf)
	i, err := r.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, -42, i)
	d, err := r.ReadDouble()
	require.NoError(t, err)
	assert.Equal(t, math.Pi, d)
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "two words \"quoted\"", s)
	require.NoError(t, r.BlockBegin())
	is, err := r.ReadInts()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 4}, is)
	require.NoError(t, r.BlockBegin())
	ds, err := r.ReadDoubles()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, -1e-300, 2.5e10}, ds)
	ds, err = r.ReadDoubles()
	require.NoError(t, err)
	assert.Empty(t, ds)
	require.NoError(t, r.BlockEnd())
	require.NoError(t, r.BlockEnd())

	_, err = r.ReadInt()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestTextReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		read  func(r *TextReader) error
		want  error
		line  int
	}{
		{"wrong tag", "double 1\n", func(r *TextReader) error { _, err := r.ReadInt(); return err }, ErrSyntax, 1},
		{"bad int", "int 1.5\n", func(r *TextReader) error { _, err := r.ReadInt(); return err }, ErrSyntax, 1},
		{"bad double", "\n\ndouble x\n", func(r *TextReader) error { _, err := r.ReadDouble(); return err }, ErrSyntax, 3},
		{"unquoted string", "string pose2\n", func(r *TextReader) error { _, err := r.ReadString(); return err }, ErrSyntax, 1},
		{"missing count", "ints\n", func(r *TextReader) error { _, err := r.ReadInts(); return err }, ErrSyntax, 1},
		{"negative count", "ints -1\n", func(r *TextReader) error { _, err := r.ReadInts(); return err }, ErrSyntax, 1},
		{"count mismatch", "doubles 3 1 2\n", func(r *TextReader) error { _, err := r.ReadDoubles(); return err }, ErrTruncated, 1},
		{"bad element", "ints 2 1 b\n", func(r *TextReader) error { _, err := r.ReadInts(); return err }, ErrSyntax, 1},
		{"missing brace", "# c\nint 1\n", func(r *TextReader) error { return r.BlockBegin() }, ErrSyntax, 2},
		{"end of input", "{\n", func(r *TextReader) error {
			if err := r.BlockBegin(); err != nil {
				return err
			}
			return r.BlockEnd()
		}, ErrTruncated, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewTextReader(strings.NewReader(tt.input)))
			require.ErrorIs(t, err, tt.want)
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestTextWriterKeepsFirstError(t *testing.T) {
	w := NewTextWriter(failingWriter{})
	for i := 0; i < 10000; i++ {
		w.WriteInt(i)
	}
	assert.EqualError(t, w.Flush(), "disk full")
}
