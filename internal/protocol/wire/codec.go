// Package wire encodes the typed records exchanged between ranks. Every
// decode failure wraps protocol.ErrDecode.
package wire

import (
	"fmt"

	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/protocol"
	"github.com/danmuck/syncgraph/internal/protocol/schema"
	"github.com/danmuck/syncgraph/internal/protocol/tlv"
)

func encode(messageType uint32, fields []tlv.Field) ([]byte, error) {
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	return tlv.EncodeFields(fields), nil
}

func decode(messageType uint32, payload []byte) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrDecode, err)
	}
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrDecode, err)
	}
	return fields, nil
}

func decodeErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", protocol.ErrDecode, what, err)
}

func idField(fid uint16, id dist.ID) tlv.Field {
	return tlv.U64(fid, id.Pack())
}

func getID(fields []tlv.Field, fid uint16) (dist.ID, error) {
	f, ok := tlv.GetField(fields, fid)
	if !ok {
		return dist.ID{}, fmt.Errorf("field %d missing", fid)
	}
	v, err := f.AsU64()
	if err != nil {
		return dist.ID{}, err
	}
	return dist.Unpack(v), nil
}

func getU8(fields []tlv.Field, fid uint16) (uint8, error) {
	f, ok := tlv.GetField(fields, fid)
	if !ok {
		return 0, fmt.Errorf("field %d missing", fid)
	}
	return f.AsU8()
}

func getRank(fields []tlv.Field, fid uint16) (int, error) {
	f, ok := tlv.GetField(fields, fid)
	if !ok {
		return 0, fmt.Errorf("field %d missing", fid)
	}
	v, err := f.AsU32()
	if err != nil {
		return 0, err
	}
	if v == ^uint32(0) {
		return NoOwner, nil
	}
	return int(v), nil
}

func getF64(fields []tlv.Field, fid uint16) (float64, error) {
	f, ok := tlv.GetField(fields, fid)
	if !ok {
		return 0, fmt.Errorf("field %d missing", fid)
	}
	return f.AsF64()
}

func getBytes(fields []tlv.Field, fid uint16) []byte {
	f, ok := tlv.GetField(fields, fid)
	if !ok || f.Type != tlv.TypeBytes {
		return nil
	}
	return f.Value
}

func getBool(fields []tlv.Field, fid uint16) bool {
	f, ok := tlv.GetField(fields, fid)
	if !ok {
		return false
	}
	v, err := f.AsBool()
	return err == nil && v
}
