package wire

import (
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/protocol/schema"
	"github.com/danmuck/syncgraph/internal/protocol/tlv"
)

// Batches nest encoded records as repeated bytes fields so one collective
// message can carry a whole per-rank export.

func encodeBatch[R any](records []R, enc func(R) ([]byte, error)) ([]byte, error) {
	fields := make([]tlv.Field, 0, len(records))
	for _, rec := range records {
		b, err := enc(rec)
		if err != nil {
			return nil, err
		}
		fields = append(fields, tlv.Bytes(schema.FieldRecord, b))
	}
	return encode(schema.MsgRecordBatch, fields)
}

func decodeBatch[R any](payload []byte, dec func([]byte) (R, error)) ([]R, error) {
	fields, err := decode(schema.MsgRecordBatch, payload)
	if err != nil {
		return nil, err
	}
	repeated := tlv.GetFields(fields, schema.FieldRecord)
	out := make([]R, 0, len(repeated))
	for _, f := range repeated {
		if err := tlv.MustType(f, tlv.TypeBytes); err != nil {
			return nil, decodeErr("batch record", err)
		}
		rec, err := dec(f.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func EncodeNodeRecords(records []NodeRecord) ([]byte, error) {
	return encodeBatch(records, EncodeNodeRecord)
}

func DecodeNodeRecords(payload []byte) ([]NodeRecord, error) {
	return decodeBatch(payload, DecodeNodeRecord)
}

func EncodeEdgeRecords(records []EdgeRecord) ([]byte, error) {
	return encodeBatch(records, EncodeEdgeRecord)
}

func DecodeEdgeRecords(payload []byte) ([]EdgeRecord, error) {
	return decodeBatch(payload, DecodeEdgeRecord)
}

func EncodeLocations(locs []Location) ([]byte, error) {
	return encodeBatch(locs, EncodeLocation)
}

func DecodeLocations(payload []byte) ([]Location, error) {
	return decodeBatch(payload, DecodeLocation)
}

func EncodeIDs(ids []dist.ID) ([]byte, error) {
	fields := make([]tlv.Field, 0, len(ids))
	for _, id := range ids {
		fields = append(fields, idField(schema.FieldID, id))
	}
	return encode(schema.MsgIDList, fields)
}

func DecodeIDs(payload []byte) ([]dist.ID, error) {
	fields, err := decode(schema.MsgIDList, payload)
	if err != nil {
		return nil, err
	}
	repeated := tlv.GetFields(fields, schema.FieldID)
	out := make([]dist.ID, 0, len(repeated))
	for _, f := range repeated {
		v, err := f.AsU64()
		if err != nil {
			return nil, decodeErr("id list", err)
		}
		out = append(out, dist.Unpack(v))
	}
	return out, nil
}
