package tlv

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		U64(1, 99),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestTypedAccessors(t *testing.T) {
	if v, err := I64(1, -12).AsI64(); err != nil || v != -12 {
		t.Fatalf("i64: %d %v", v, err)
	}
	if v, err := F64(1, math.Pi).AsF64(); err != nil || v != math.Pi {
		t.Fatalf("f64: %v %v", v, err)
	}
	if v, err := Bool(1, true).AsBool(); err != nil || !v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if _, err := U8(1, 3).AsU64(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	bad := Field{ID: 1, Type: TypeU64, Value: []byte{1}}
	if _, err := bad.AsU64(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestGetFieldsKeepsWireOrder(t *testing.T) {
	fields := []Field{U64(5, 1), U8(2, 0), U64(5, 2), U64(5, 3)}
	got := GetFields(fields, 5)
	if len(got) != 3 {
		t.Fatalf("expected 3 repeated fields, got %d", len(got))
	}
	for i, f := range got {
		v, err := f.AsU64()
		if err != nil || v != uint64(i+1) {
			t.Fatalf("field %d: %d %v", i, v, err)
		}
	}
}
