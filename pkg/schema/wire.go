package schema

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Patch layout:
//
//	uvarint rootRefID
//	{ opSwitch uvarint refID { opField uvarint index value | opEntries uvarint n {string key, ref} } }
//
// A ref is uvarint refID (0 = nil); non-nil refs carry a byte that is 1 when
// the receiver must instantiate it, followed by uvarint typeID (0 for
// collections, whose type comes from the slot).
const (
	opSwitch  byte = 0xFF
	opField   byte = 0x01
	opEntries byte = 0x02
)

type writer struct {
	buf []byte
}

func (w *writer) byte(b byte) { w.buf = append(w.buf, b) }

func (w *writer) uvarint(u uint64) { w.buf = binary.AppendUvarint(w.buf, u) }

func (w *writer) varint(i int64) { w.buf = binary.AppendVarint(w.buf, i) }

func (w *writer) float32(f float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(f))
}

func (w *writer) float64(f float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(f))
}

func (w *writer) string(s string) {
	w.uvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) bytes() []byte { return w.buf }

func (w *writer) reset() { w.buf = w.buf[:0] }

type reader struct {
	data []byte
	pos  int
}

func (r *reader) done() bool { return r.pos >= len(r.data) }

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, r.short()
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	u, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, r.short()
	}
	r.pos += n
	return u, nil
}

func (r *reader) varint() (int64, error) {
	i, n := binary.Varint(r.data[r.pos:])
	if n <= 0 {
		return 0, r.short()
	}
	r.pos += n
	return i, nil
}

func (r *reader) float32() (float32, error) {
	if len(r.data)-r.pos < 4 {
		return 0, r.short()
	}
	f := math.Float32frombits(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return f, nil
}

func (r *reader) float64() (float64, error) {
	if len(r.data)-r.pos < 8 {
		return 0, r.short()
	}
	f := math.Float64frombits(binary.LittleEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return f, nil
}

func (r *reader) string() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if uint64(len(r.data)-r.pos) < n {
		return "", r.short()
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) short() error {
	return fmt.Errorf("%w: truncated at byte %d", ErrMalformedPatch, r.pos)
}

// writeValue encodes a primitive, primitive slice or primitive map field.
func writeValue(w *writer, v reflect.Value) error {
	switch v.Kind() {
	case reflect.String:
		w.string(v.String())
	case reflect.Bool:
		if v.Bool() {
			w.byte(1)
		} else {
			w.byte(0)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		w.varint(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		w.uvarint(v.Uint())
	case reflect.Float32:
		w.float32(float32(v.Float()))
	case reflect.Float64:
		w.float64(v.Float())
	case reflect.Slice:
		if v.IsNil() {
			w.byte(0)
			return nil
		}
		w.byte(1)
		w.uvarint(uint64(v.Len()))
		for i := 0; i < v.Len(); i++ {
			if err := writeValue(w, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		if v.IsNil() {
			w.byte(0)
			return nil
		}
		w.byte(1)
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		w.uvarint(uint64(len(keys)))
		for _, k := range keys {
			w.string(k.String())
			if err := writeValue(w, v.MapIndex(k)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: cannot encode %s", ErrKindMismatch, v.Type())
	}
	return nil
}

// readValue decodes into a settable primitive, primitive slice or primitive map.
func readValue(r *reader, v reflect.Value) error {
	switch v.Kind() {
	case reflect.String:
		s, err := r.string()
		if err != nil {
			return err
		}
		v.SetString(s)
	case reflect.Bool:
		b, err := r.byte()
		if err != nil {
			return err
		}
		v.SetBool(b != 0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := r.varint()
		if err != nil {
			return err
		}
		v.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := r.uvarint()
		if err != nil {
			return err
		}
		v.SetUint(u)
	case reflect.Float32:
		f, err := r.float32()
		if err != nil {
			return err
		}
		v.SetFloat(float64(f))
	case reflect.Float64:
		f, err := r.float64()
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Slice:
		present, err := r.byte()
		if err != nil {
			return err
		}
		if present == 0 {
			v.SetZero()
			return nil
		}
		n, err := r.uvarint()
		if err != nil {
			return err
		}
		if n > uint64(len(r.data)-r.pos) {
			return r.short()
		}
		s := reflect.MakeSlice(v.Type(), int(n), int(n))
		for i := 0; i < int(n); i++ {
			if err := readValue(r, s.Index(i)); err != nil {
				return err
			}
		}
		v.Set(s)
	case reflect.Map:
		present, err := r.byte()
		if err != nil {
			return err
		}
		if present == 0 {
			v.SetZero()
			return nil
		}
		n, err := r.uvarint()
		if err != nil {
			return err
		}
		if n > uint64(len(r.data)-r.pos) {
			return r.short()
		}
		m := reflect.MakeMapWithSize(v.Type(), int(n))
		for i := 0; i < int(n); i++ {
			k, err := r.string()
			if err != nil {
				return err
			}
			elem := reflect.New(v.Type().Elem()).Elem()
			if err := readValue(r, elem); err != nil {
				return err
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(v.Type().Key()), elem)
		}
		v.Set(m)
	default:
		return fmt.Errorf("%w: cannot decode %s", ErrKindMismatch, v.Type())
	}
	return nil
}
