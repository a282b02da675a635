package sqltype

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Indicator is the length/null indicator attached to a buffer.
type Indicator int8

const (
	// IndicatorNull marks SQL NULL.
	IndicatorNull Indicator = -1
	// IndicatorEmpty marks a present, zero-length value.
	IndicatorEmpty Indicator = 0
	// IndicatorData marks a present value with at least one byte.
	IndicatorData Indicator = 1
)

func (i Indicator) String() string {
	switch i {
	case IndicatorNull:
		return "NULL"
	case IndicatorEmpty:
		return "EMPTY"
	case IndicatorData:
		return "DATA"
	default:
		return fmt.Sprintf("INDICATOR(%d)", int8(i))
	}
}

// Buffer is the storage behind one parameter slot. It has a fixed byte
// capacity derived from its descriptor, a used length and an indicator
// that keeps NULL distinct from "". A new Buffer is NULL.
type Buffer struct {
	desc      Descriptor
	data      []byte
	n         int
	indicator Indicator
}

// NewBuffer allocates a NULL buffer sized for d.
func NewBuffer(d Descriptor) *Buffer {
	return &Buffer{
		desc:      d,
		data:      make([]byte, d.Capacity()),
		indicator: IndicatorNull,
	}
}

// Descriptor returns the type the buffer was sized for.
func (b *Buffer) Descriptor() Descriptor { return b.desc }

// Capacity is the buffer size in bytes.
func (b *Buffer) Capacity() int { return len(b.data) }

// Len is the number of bytes in use; 0 when NULL or empty.
func (b *Buffer) Len() int { return b.n }

// Indicator returns the current indicator.
func (b *Buffer) Indicator() Indicator { return b.indicator }

// IsNull reports whether the buffer holds NULL.
func (b *Buffer) IsNull() bool { return b.indicator == IndicatorNull }

// Bytes returns the bytes in use. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	if b.indicator == IndicatorNull {
		return nil
	}
	return b.data[:b.n]
}

// SetNull marks the buffer NULL and clears its length.
func (b *Buffer) SetNull() {
	b.n = 0
	b.indicator = IndicatorNull
}

// Reset returns the buffer to its freshly allocated NULL state.
func (b *Buffer) Reset() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.SetNull()
}

// WriteBytes copies p into the buffer, cutting it to capacity at a UTF-8
// boundary. It reports whether bytes were dropped. An empty p stores a
// present, empty value rather than NULL.
func (b *Buffer) WriteBytes(p []byte) (truncated bool) {
	n := len(p)
	if n > len(b.data) {
		n = runeBoundary(p, len(b.data))
		truncated = true
	}
	copy(b.data, p[:n])
	b.n = n
	if n == 0 {
		b.indicator = IndicatorEmpty
	} else {
		b.indicator = IndicatorData
	}
	return truncated
}

// WriteString is WriteBytes for a string.
func (b *Buffer) WriteString(s string) (truncated bool) {
	return b.WriteBytes([]byte(s))
}

// PutInt stores v in little-endian form at the buffer's integer width.
func (b *Buffer) PutInt(v int64) error {
	if b.desc.Family() != FamilyInteger {
		return fmt.Errorf("PutInt on %s buffer", b.desc)
	}
	if err := checkIntRange(b.desc.Type, v); err != nil {
		return err
	}
	switch len(b.data) {
	case 2:
		binary.LittleEndian.PutUint16(b.data, uint16(int16(v)))
	case 4:
		binary.LittleEndian.PutUint32(b.data, uint32(int32(v)))
	case 8:
		binary.LittleEndian.PutUint64(b.data, uint64(v))
	default:
		return fmt.Errorf("integer buffer of %d bytes", len(b.data))
	}
	b.n = len(b.data)
	b.indicator = IndicatorData
	return nil
}

// Int reads the integer stored by PutInt.
func (b *Buffer) Int() (int64, error) {
	if b.desc.Family() != FamilyInteger || b.n != len(b.data) {
		return 0, fmt.Errorf("buffer of %s holds no integer", b.desc)
	}
	switch len(b.data) {
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b.data))), nil
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b.data))), nil
	case 8:
		return int64(binary.LittleEndian.Uint64(b.data)), nil
	default:
		return 0, fmt.Errorf("integer buffer of %d bytes", len(b.data))
	}
}

// Store coerces v to the buffer's type and writes it. truncated reports
// that a string value lost characters on the way in.
func (b *Buffer) Store(v Value) (truncated bool, err error) {
	cv, truncated, err := b.desc.Coerce(v)
	if err != nil {
		return false, err
	}
	switch cv.kind {
	case KindNull:
		b.SetNull()
	case KindString:
		b.WriteString(cv.str)
	case KindInt:
		if err := b.PutInt(cv.num); err != nil {
			return false, err
		}
	case KindDecimal:
		b.WriteString(cv.dec.StringFixed(int32(b.desc.Scale)))
	}
	return truncated, nil
}

// Load reads the buffer back as a Value of its declared type. A CHAR
// buffer holding fewer bytes than its capacity is padded with blanks.
func (b *Buffer) Load() (Value, error) {
	if b.indicator == IndicatorNull {
		return Null(), nil
	}
	switch b.desc.Type {
	case TypeChar:
		return Str(padRight(string(b.data[:b.n]), len(b.data))), nil
	case TypeVarChar:
		return Str(string(b.data[:b.n])), nil
	case TypeSmallInt, TypeInteger, TypeBigInt:
		v, err := b.Int()
		if err != nil {
			return Value{}, err
		}
		return Int(v), nil
	case TypeDecimal:
		v, _, err := b.desc.Coerce(Str(string(b.data[:b.n])))
		return v, err
	default:
		return Value{}, fmt.Errorf("buffer of unsupported type %s", b.desc)
	}
}

// runeBoundary returns the largest cut <= max that does not split a rune.
func runeBoundary(p []byte, max int) int {
	if max >= len(p) {
		return len(p)
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(p[cut]) {
		cut--
	}
	return cut
}

func truncateString(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	return s[:runeBoundary([]byte(s), max)], true
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	pad := make([]byte, width-len(s))
	for i := range pad {
		pad[i] = ' '
	}
	return s + string(pad)
}
