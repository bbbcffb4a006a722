package protocol

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

// writer appends protobuf-wire fields. Zero scalars are omitted; decoders
// read an absent field as its zero value.
type writer struct {
	b []byte
}

func (w *writer) string(n protowire.Number, s string) {
	if s == "" {
		return
	}
	w.b = protowire.AppendTag(w.b, n, protowire.BytesType)
	w.b = protowire.AppendString(w.b, s)
}

func (w *writer) strings(n protowire.Number, ss []string) {
	for _, s := range ss {
		w.b = protowire.AppendTag(w.b, n, protowire.BytesType)
		w.b = protowire.AppendString(w.b, s)
	}
}

func (w *writer) uint(n protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	w.b = protowire.AppendTag(w.b, n, protowire.VarintType)
	w.b = protowire.AppendVarint(w.b, v)
}

func (w *writer) sint(n protowire.Number, v int64) {
	if v == 0 {
		return
	}
	w.b = protowire.AppendTag(w.b, n, protowire.VarintType)
	w.b = protowire.AppendVarint(w.b, protowire.EncodeZigZag(v))
}

func (w *writer) bool(n protowire.Number, v bool) {
	if v {
		w.uint(n, 1)
	}
}

func (w *writer) double(n protowire.Number, v float64) {
	bits := math.Float64bits(v)
	if bits == 0 {
		return
	}
	w.b = protowire.AppendTag(w.b, n, protowire.Fixed64Type)
	w.b = protowire.AppendFixed64(w.b, bits)
}

// doubles writes a packed repeated double.
func (w *writer) doubles(n protowire.Number, vs []float64) {
	if len(vs) == 0 {
		return
	}
	w.b = protowire.AppendTag(w.b, n, protowire.BytesType)
	w.b = protowire.AppendVarint(w.b, uint64(len(vs)*8))
	for _, v := range vs {
		w.b = protowire.AppendFixed64(w.b, math.Float64bits(v))
	}
}

func (w *writer) time(secField protowire.Number, t time.Time) {
	w.sint(secField, t.Unix())
	w.uint(secField+1, uint64(t.Nanosecond()))
}

// message writes a nested message. It is always emitted, so presence
// survives an empty body.
func (w *writer) message(n protowire.Number, fn func(*writer)) {
	var child writer
	fn(&child)
	w.b = protowire.AppendTag(w.b, n, protowire.BytesType)
	w.b = protowire.AppendBytes(w.b, child.b)
}

type field struct {
	typ protowire.Type
	num uint64
	raw []byte
}

// reader holds the fields of one decoded message. Accessors record the
// first wire-type mismatch in err instead of returning it, so a decoder
// reads every field and checks err once.
type reader struct {
	fields map[protowire.Number][]field
	err    error
}

func parse(b []byte) (*reader, error) {
	r := &reader{fields: make(map[protowire.Number][]field)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", graph.ErrProtocol, protowire.ParseError(n))
		}
		b = b[n:]
		var f field
		f.typ = typ
		switch typ {
		case protowire.VarintType:
			f.num, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.num, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.num = uint64(v)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		default:
			// Groups are skipped whole.
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %v", graph.ErrProtocol, num, protowire.ParseError(n))
		}
		b = b[n:]
		r.fields[num] = append(r.fields[num], f)
	}
	return r, nil
}

func (r *reader) fail(n protowire.Number, want protowire.Type, got protowire.Type) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: field %d has wire type %d, want %d", graph.ErrProtocol, n, got, want)
	}
}

// last returns the last occurrence of field n with wire type typ.
func (r *reader) last(n protowire.Number, typ protowire.Type) (field, bool) {
	fs := r.fields[n]
	if len(fs) == 0 {
		return field{}, false
	}
	f := fs[len(fs)-1]
	if f.typ != typ {
		r.fail(n, typ, f.typ)
		return field{}, false
	}
	return f, true
}

func (r *reader) string(n protowire.Number) string {
	f, _ := r.last(n, protowire.BytesType)
	return string(f.raw)
}

func (r *reader) strings(n protowire.Number) []string {
	var out []string
	for _, f := range r.fields[n] {
		if f.typ != protowire.BytesType {
			r.fail(n, protowire.BytesType, f.typ)
			return nil
		}
		out = append(out, string(f.raw))
	}
	return out
}

func (r *reader) uint(n protowire.Number) uint64 {
	f, _ := r.last(n, protowire.VarintType)
	return f.num
}

func (r *reader) int(n protowire.Number) int {
	return int(r.uint(n))
}

func (r *reader) sint(n protowire.Number) int64 {
	f, _ := r.last(n, protowire.VarintType)
	return protowire.DecodeZigZag(f.num)
}

func (r *reader) bool(n protowire.Number) bool {
	return r.uint(n) != 0
}

func (r *reader) double(n protowire.Number) float64 {
	f, _ := r.last(n, protowire.Fixed64Type)
	return math.Float64frombits(f.num)
}

// doubles reads a repeated double in packed or unpacked form.
func (r *reader) doubles(n protowire.Number) []float64 {
	var out []float64
	for _, f := range r.fields[n] {
		switch f.typ {
		case protowire.Fixed64Type:
			out = append(out, math.Float64frombits(f.num))
		case protowire.BytesType:
			b := f.raw
			if len(b)%8 != 0 {
				r.fail(n, protowire.BytesType, f.typ)
				return nil
			}
			for len(b) > 0 {
				v, m := protowire.ConsumeFixed64(b)
				out = append(out, math.Float64frombits(v))
				b = b[m:]
			}
		default:
			r.fail(n, protowire.Fixed64Type, f.typ)
			return nil
		}
	}
	return out
}

func (r *reader) time(secField protowire.Number) time.Time {
	return time.Unix(r.sint(secField), int64(r.uint(secField+1))).UTC()
}

// message returns the last occurrence of nested message n, or nil.
func (r *reader) message(n protowire.Number) *reader {
	f, ok := r.last(n, protowire.BytesType)
	if !ok {
		return nil
	}
	child, err := parse(f.raw)
	if err != nil {
		if r.err == nil {
			r.err = err
		}
		return nil
	}
	return child
}

// messages returns every occurrence of nested message n in order.
func (r *reader) messages(n protowire.Number) []*reader {
	var out []*reader
	for _, f := range r.fields[n] {
		if f.typ != protowire.BytesType {
			r.fail(n, protowire.BytesType, f.typ)
			return nil
		}
		child, err := parse(f.raw)
		if err != nil {
			if r.err == nil {
				r.err = err
			}
			return nil
		}
		out = append(out, child)
	}
	return out
}

// absorb moves a nested reader's error into r.
func (r *reader) absorb(child *reader) {
	if child != nil && child.err != nil && r.err == nil {
		r.err = child.err
	}
}
