// Package npy encodes and decodes NumPy .npy arrays of little-endian float16
// and float32 in C order, the format the cnn_seg trainer loads with
// numpy.load.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/x448/float16"
)

// DType is a NumPy type descriptor.
type DType string

const (
	Float16 DType = "<f2"
	Float32 DType = "<f4"
)

// Size returns the element width in bytes, or 0 for unsupported types.
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32:
		return 4
	}
	return 0
}

var magic = []byte("\x93NUMPY")

// headerAlign is the alignment NumPy uses for the start of the data.
const headerAlign = 64

// maxElements bounds the element count accepted by Read.
const maxElements = 1 << 28

// ErrFormat reports a malformed or unsupported .npy stream.
var ErrFormat = errors.New("npy: invalid format")

// Array is an n-dimensional array held as float32 in memory. DType selects
// the on-disk element type; float16 values are rounded to nearest even on
// write.
type Array struct {
	DType DType
	Shape []int
	Data  []float32
}

// Len returns the product of the shape.
func (a Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Validate checks that the shape matches the data length.
func (a Array) Validate() error {
	if a.DType.Size() == 0 {
		return fmt.Errorf("npy: unsupported dtype %q", a.DType)
	}
	for _, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("npy: negative dimension in shape %v", a.Shape)
		}
	}
	if a.Len() != len(a.Data) {
		return fmt.Errorf("npy: shape %v needs %d elements, have %d", a.Shape, a.Len(), len(a.Data))
	}
	return nil
}

// header renders the version 1.0 header dictionary, padded so that the data
// starts on a 64-byte boundary.
func header(a Array) []byte {
	dims := make([]string, len(a.Shape))
	for i, d := range a.Shape {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if len(a.Shape) == 1 {
		shape += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", a.DType, shape)

	// magic(6) + version(2) + header length(2) + dict + padding + '\n'
	pre := len(magic) + 4
	total := pre + len(dict) + 1
	pad := (headerAlign - total%headerAlign) % headerAlign

	var b bytes.Buffer
	b.Write(magic)
	b.Write([]byte{1, 0})
	_ = binary.Write(&b, binary.LittleEndian, uint16(len(dict)+pad+1))
	b.WriteString(dict)
	b.WriteString(strings.Repeat(" ", pad))
	b.WriteByte('\n')
	return b.Bytes()
}

// Encode returns the complete .npy file for a.
func Encode(a Array) ([]byte, error) {
	var b bytes.Buffer
	if err := Write(&b, a); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Write serializes a to w.
func Write(w io.Writer, a Array) error {
	if err := a.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header(a)); err != nil {
		return err
	}
	var buf [4]byte
	switch a.DType {
	case Float16:
		for _, v := range a.Data {
			binary.LittleEndian.PutUint16(buf[:2], float16.Fromfloat32(v).Bits())
			if _, err := bw.Write(buf[:2]); err != nil {
				return err
			}
		}
	case Float32:
		for _, v := range a.Data {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Decode parses a complete .npy file.
func Decode(data []byte) (Array, error) {
	return Read(bytes.NewReader(data))
}

// Read parses a .npy stream of version 1.0, 2.0 or 3.0.
func Read(r io.Reader) (Array, error) {
	br := bufio.NewReader(r)
	pre := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(br, pre); err != nil {
		return Array{}, fmt.Errorf("%w: short preamble: %v", ErrFormat, err)
	}
	if !bytes.Equal(pre[:len(magic)], magic) {
		return Array{}, fmt.Errorf("%w: bad magic", ErrFormat)
	}

	var hlen int
	switch major := pre[len(magic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return Array{}, fmt.Errorf("%w: header length: %v", ErrFormat, err)
		}
		hlen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return Array{}, fmt.Errorf("%w: header length: %v", ErrFormat, err)
		}
		if n > 1<<20 {
			return Array{}, fmt.Errorf("%w: header length %d too large", ErrFormat, n)
		}
		hlen = int(n)
	default:
		return Array{}, fmt.Errorf("%w: unsupported version %d", ErrFormat, major)
	}

	hdr := make([]byte, hlen)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return Array{}, fmt.Errorf("%w: short header: %v", ErrFormat, err)
	}
	a, err := parseHeader(string(hdr))
	if err != nil {
		return Array{}, err
	}

	n := a.Len()
	if n > maxElements {
		return Array{}, fmt.Errorf("%w: %d elements exceeds limit", ErrFormat, n)
	}
	raw := make([]byte, n*a.DType.Size())
	if _, err := io.ReadFull(br, raw); err != nil {
		return Array{}, fmt.Errorf("%w: short data: %v", ErrFormat, err)
	}
	a.Data = make([]float32, n)
	switch a.DType {
	case Float16:
		for i := range a.Data {
			a.Data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
	case Float32:
		for i := range a.Data {
			a.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	}
	return a, nil
}

// parseHeader extracts dtype and shape from the Python dict literal.
func parseHeader(h string) (Array, error) {
	descr, err := dictValue(h, "descr")
	if err != nil {
		return Array{}, err
	}
	a := Array{DType: DType(strings.Trim(descr, "'\""))}
	if a.DType.Size() == 0 {
		return Array{}, fmt.Errorf("%w: unsupported dtype %s", ErrFormat, descr)
	}

	order, err := dictValue(h, "fortran_order")
	if err != nil {
		return Array{}, err
	}
	if order != "False" {
		return Array{}, fmt.Errorf("%w: fortran order is not supported", ErrFormat)
	}

	shape, err := dictValue(h, "shape")
	if err != nil {
		return Array{}, err
	}
	shape = strings.TrimSpace(shape)
	if !strings.HasPrefix(shape, "(") || !strings.HasSuffix(shape, ")") {
		return Array{}, fmt.Errorf("%w: malformed shape %s", ErrFormat, shape)
	}
	a.Shape = []int{}
	n := 1
	for _, f := range strings.Split(shape[1:len(shape)-1], ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		d, err := strconv.Atoi(f)
		if err != nil || d < 0 || d > maxElements {
			return Array{}, fmt.Errorf("%w: bad dimension %q", ErrFormat, f)
		}
		if d > 0 && n > maxElements/d {
			return Array{}, fmt.Errorf("%w: shape %s exceeds %d elements", ErrFormat, shape, maxElements)
		}
		n *= d
		a.Shape = append(a.Shape, d)
	}
	return a, nil
}

// dictValue returns the raw text of key's value in a flat Python dict. The
// value ends at the first top-level comma or closing brace.
func dictValue(h, key string) (string, error) {
	k := "'" + key + "'"
	i := strings.Index(h, k)
	if i < 0 {
		return "", fmt.Errorf("%w: header has no %s", ErrFormat, key)
	}
	rest := strings.TrimLeft(h[i+len(k):], " ")
	if !strings.HasPrefix(rest, ":") {
		return "", fmt.Errorf("%w: header key %s has no value", ErrFormat, key)
	}
	rest = strings.TrimLeft(rest[1:], " ")
	depth := 0
	for j, c := range rest {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',', '}':
			if depth == 0 {
				return strings.TrimSpace(rest[:j]), nil
			}
		}
	}
	return "", fmt.Errorf("%w: unterminated value for %s", ErrFormat, key)
}
