// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Block structured text format
//
//	# comment
//	int 3
//	double 0.25
//	string "pose2"
//	doubles 3 1 0 0
//	ints 2 0 1
//	{
//	  ...nested fields...
//	}
//
// Every scalar line starts with its type tag. Blank and '#' lines are ignored.

// StructureWriter writes typed fields and nested blocks
type StructureWriter interface {
	WriteComment(s string)
	WriteInt(v int)
	WriteDouble(v float64)
	WriteString(v string)
	WriteInts(v []int)
	WriteDoubles(v []float64)
	BlockBegin()
	BlockEnd()
	Flush() error
}

// StructureReader reads what a StructureWriter wrote, in the same order
type StructureReader interface {
	ReadInt() (int, error)
	ReadDouble() (float64, error)
	ReadString() (string, error)
	ReadInts() ([]int, error)
	ReadDoubles() ([]float64, error)
	BlockBegin() error
	BlockEnd() error
}

// Field type tags
const (
	TAG_INT     = "int"
	TAG_DOUBLE  = "double"
	TAG_STRING  = "string"
	TAG_INTS    = "ints"
	TAG_DOUBLES = "doubles"
)

//-------------------------------------------------------------------
// TextWriter
//-------------------------------------------------------------------

// TextWriter is a StructureWriter producing the text format.
// The first write error is kept and returned by Flush.
type TextWriter struct {
	w      *bufio.Writer
	indent int
	err    error
}

func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: bufio.NewWriter(w)}
}

func (t *TextWriter) line(s string) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, "%s%s\n", strings.Repeat("  ", t.indent), s)
}

// Shortest representation that parses back to the same value
func formatDouble(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (t *TextWriter) WriteComment(s string) { t.line("# " + s) }
func (t *TextWriter) WriteInt(v int)        { t.line(TAG_INT + " " + strconv.Itoa(v)) }
func (t *TextWriter) WriteDouble(v float64) { t.line(TAG_DOUBLE + " " + formatDouble(v)) }
func (t *TextWriter) WriteString(v string)  { t.line(TAG_STRING + " " + strconv.Quote(v)) }

func (t *TextWriter) WriteInts(v []int) {
	f := make([]string, 0, len(v)+2)
	f = append(f, TAG_INTS, strconv.Itoa(len(v)))
	for _, x := range v {
		f = append(f, strconv.Itoa(x))
	}
	t.line(strings.Join(f, " "))
}

func (t *TextWriter) WriteDoubles(v []float64) {
	f := make([]string, 0, len(v)+2)
	f = append(f, TAG_DOUBLES, strconv.Itoa(len(v)))
	for _, x := range v {
		f = append(f, formatDouble(x))
	}
	t.line(strings.Join(f, " "))
}

func (t *TextWriter) BlockBegin() {
	t.line("{")
	t.indent++
}

func (t *TextWriter) BlockEnd() {
	t.indent--
	t.line("}")
}

func (t *TextWriter) Flush() error {
	if t.err != nil {
		return t.err
	}
	return t.w.Flush()
}

//-------------------------------------------------------------------
// TextReader
//-------------------------------------------------------------------

// TextReader is a StructureReader for the text format
type TextReader struct {
	s    *bufio.Scanner
	line int
}

func NewTextReader(r io.Reader) *TextReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &TextReader{s: s}
}

func (t *TextReader) errorf(base error, format string, a ...any) error {
	return &ParseError{Line: t.line, Err: fmt.Errorf("%w: %s", base, fmt.Sprintf(format, a...))}
}

// Next meaningful line
func (t *TextReader) next() (string, error) {
	for t.s.Scan() {
		t.line++
		l := strings.TrimSpace(t.s.Text())
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		return l, nil
	}
	if err := t.s.Err(); err != nil {
		return "", &ParseError{Line: t.line, Err: err}
	}
	return "", &ParseError{Line: t.line, Err: ErrTruncated}
}

// Next line, which must start with tag. Returns the rest of the line.
func (t *TextReader) field(tag string) (string, error) {
	l, err := t.next()
	if err != nil {
		return "", err
	}
	got, rest, _ := strings.Cut(l, " ")
	if got != tag {
		return "", t.errorf(ErrSyntax, "expected %s, got %q", tag, l)
	}
	return strings.TrimSpace(rest), nil
}

func (t *TextReader) ReadInt() (int, error) {
	rest, err := t.field(TAG_INT)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(rest)
	if err != nil {
		return 0, t.errorf(ErrSyntax, "%v", err)
	}
	return v, nil
}

func (t *TextReader) ReadDouble() (float64, error) {
	rest, err := t.field(TAG_DOUBLE)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, t.errorf(ErrSyntax, "%v", err)
	}
	return v, nil
}

func (t *TextReader) ReadString() (string, error) {
	rest, err := t.field(TAG_STRING)
	if err != nil {
		return "", err
	}
	v, err := strconv.Unquote(rest)
	if err != nil {
		return "", t.errorf(ErrSyntax, "bad string %s", rest)
	}
	return v, nil
}

// Count followed by that many values
func (t *TextReader) list(tag string) ([]string, error) {
	rest, err := t.field(tag)
	if err != nil {
		return nil, err
	}
	f := strings.Fields(rest)
	if len(f) == 0 {
		return nil, t.errorf(ErrSyntax, "missing count")
	}
	n, err := strconv.Atoi(f[0])
	if err != nil || n < 0 {
		return nil, t.errorf(ErrSyntax, "bad count %q", f[0])
	}
	if len(f)-1 != n {
		return nil, t.errorf(ErrTruncated, "%s expects %d values, got %d", tag, n, len(f)-1)
	}
	return f[1:], nil
}

func (t *TextReader) ReadInts() ([]int, error) {
	f, err := t.list(TAG_INTS)
	if err != nil {
		return nil, err
	}
	v := make([]int, len(f))
	for i := range f {
		if v[i], err = strconv.Atoi(f[i]); err != nil {
			return nil, t.errorf(ErrSyntax, "%v", err)
		}
	}
	return v, nil
}

func (t *TextReader) ReadDoubles() ([]float64, error) {
	f, err := t.list(TAG_DOUBLES)
	if err != nil {
		return nil, err
	}
	v := make([]float64, len(f))
	for i := range f {
		if v[i], err = strconv.ParseFloat(f[i], 64); err != nil {
			return nil, t.errorf(ErrSyntax, "%v", err)
		}
	}
	return v, nil
}

func (t *TextReader) BlockBegin() error { return t.expect("{") }
func (t *TextReader) BlockEnd() error   { return t.expect("}") }

func (t *TextReader) expect(tok string) error {
	l, err := t.next()
	if err != nil {
		return err
	}
	if l != tok {
		return t.errorf(ErrSyntax, "expected %q, got %q", tok, l)
	}
	return nil
}
