package rpc

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/skycoin/skyevent/pkg/bitstream"
)

// Param is the wire type of one call argument.
type Param interface {
	// Write packs v, or fails if v does not belong to the parameter's domain.
	Write(w *bitstream.Writer, v interface{}) error
	// Read unpacks a value in the parameter's canonical Go type.
	Read(r *bitstream.Reader) (interface{}, error)
	String() string
}

func typeError(p Param, v interface{}) error {
	return errors.Wrapf(ErrBadArgs, "%T is not a %s", v, p)
}

type boolParam struct{}

// Bool is a single flag; values are bool.
func Bool() Param { return boolParam{} }

func (boolParam) String() string { return "bool" }

func (p boolParam) Write(w *bitstream.Writer, v interface{}) error {
	b, ok := v.(bool)
	if !ok {
		return typeError(p, v)
	}
	return w.WriteBool(b)
}

func (boolParam) Read(r *bitstream.Reader) (interface{}, error) {
	return r.ReadBool()
}

type uintParam struct{ bits uint8 }

// Uint is an unsigned integer of the given width; values are uint64.
func Uint(bits uint8) Param { return uintParam{bits: bits} }

func (p uintParam) String() string { return fmt.Sprintf("uint%d", p.bits) }

func (p uintParam) Write(w *bitstream.Writer, v interface{}) error {
	u, ok := toUint(v)
	if !ok {
		return typeError(p, v)
	}
	return w.WriteUint(u, p.bits)
}

func (p uintParam) Read(r *bitstream.Reader) (interface{}, error) {
	return r.ReadUint(p.bits)
}

type intParam struct{ bits uint8 }

// Int is a two's complement integer of the given width; values are int64.
func Int(bits uint8) Param { return intParam{bits: bits} }

func (p intParam) String() string { return fmt.Sprintf("int%d", p.bits) }

func (p intParam) Write(w *bitstream.Writer, v interface{}) error {
	i, ok := toInt(v)
	if !ok {
		return typeError(p, v)
	}
	return w.WriteInt(i, p.bits)
}

func (p intParam) Read(r *bitstream.Reader) (interface{}, error) {
	return r.ReadInt(p.bits)
}

type rangedParam struct{ min, max uint32 }

// Ranged is an integer in [min, max] packed in as few bits as the range
// needs; values are uint32.
func Ranged(min, max uint32) Param { return rangedParam{min: min, max: max} }

func (p rangedParam) String() string { return fmt.Sprintf("ranged[%d,%d]", p.min, p.max) }

func (p rangedParam) Write(w *bitstream.Writer, v interface{}) error {
	u, ok := toUint(v)
	if !ok || u > uint64(^uint32(0)) {
		return typeError(p, v)
	}
	return w.WriteRanged(uint32(u), p.min, p.max)
}

func (p rangedParam) Read(r *bitstream.Reader) (interface{}, error) {
	return r.ReadRanged(p.min, p.max)
}

type floatParam struct {
	bits   uint8
	signed bool
}

// Float is a value in [0, 1] quantized to the given width; values are float32.
func Float(bits uint8) Param { return floatParam{bits: bits} }

// SignedFloat is a value in [-1, 1] quantized to the given width; values are float32.
func SignedFloat(bits uint8) Param { return floatParam{bits: bits, signed: true} }

func (p floatParam) String() string {
	if p.signed {
		return fmt.Sprintf("sfloat%d", p.bits)
	}
	return fmt.Sprintf("float%d", p.bits)
}

func (p floatParam) Write(w *bitstream.Writer, v interface{}) error {
	var f float32
	switch x := v.(type) {
	case float32:
		f = x
	case float64:
		f = float32(x)
	default:
		return typeError(p, v)
	}
	if p.signed {
		return w.WriteSignedFloat(f, p.bits)
	}
	return w.WriteFloat(f, p.bits)
}

func (p floatParam) Read(r *bitstream.Reader) (interface{}, error) {
	if p.signed {
		return r.ReadSignedFloat(p.bits)
	}
	return r.ReadFloat(p.bits)
}

type stringParam struct{ maxLen int }

// String is a string of at most maxLen bytes.
func String(maxLen int) Param { return stringParam{maxLen: maxLen} }

func (p stringParam) String() string { return fmt.Sprintf("string[%d]", p.maxLen) }

func (p stringParam) Write(w *bitstream.Writer, v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return typeError(p, v)
	}
	return w.WriteString(s, p.maxLen)
}

func (p stringParam) Read(r *bitstream.Reader) (interface{}, error) {
	return r.ReadString(p.maxLen)
}

type bytesParam struct{ maxLen int }

// Bytes is a byte slice of at most maxLen bytes.
func Bytes(maxLen int) Param { return bytesParam{maxLen: maxLen} }

func (p bytesParam) String() string { return fmt.Sprintf("bytes[%d]", p.maxLen) }

func (p bytesParam) Write(w *bitstream.Writer, v interface{}) error {
	b, ok := v.([]byte)
	if !ok {
		return typeError(p, v)
	}
	return w.WriteBytes(b, p.maxLen)
}

func (p bytesParam) Read(r *bitstream.Reader) (interface{}, error) {
	return r.ReadBytes(p.maxLen)
}

type listParam struct {
	elem   Param
	maxLen int
}

// List is up to maxLen values of elem; values are []interface{}.
func List(elem Param, maxLen int) Param { return listParam{elem: elem, maxLen: maxLen} }

func (p listParam) String() string { return fmt.Sprintf("list[%d]%s", p.maxLen, p.elem) }

func (p listParam) Write(w *bitstream.Writer, v interface{}) error {
	l, ok := v.([]interface{})
	if !ok {
		return typeError(p, v)
	}
	if len(l) > p.maxLen {
		return errors.Wrapf(ErrBadArgs, "%d elements exceed %s", len(l), p)
	}
	if err := w.WriteRanged(uint32(len(l)), 0, uint32(p.maxLen)); err != nil {
		return err
	}
	for _, e := range l {
		if err := p.elem.Write(w, e); err != nil {
			return err
		}
	}
	return nil
}

func (p listParam) Read(r *bitstream.Reader) (interface{}, error) {
	n, err := r.ReadRanged(0, uint32(p.maxLen))
	if err != nil {
		return nil, err
	}
	l := make([]interface{}, n)
	for i := range l {
		if l[i], err = p.elem.Read(r); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func toUint(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case int:
		return uint64(x), x >= 0
	default:
		return 0, false
	}
}

func toInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}
