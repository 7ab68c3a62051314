package wire

import (
	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/protocol/schema"
	"github.com/danmuck/syncgraph/internal/protocol/tlv"
)

// NodeRecord is an exported node: payload, weight and identity. Missing marks
// a tombstone sent by an owner that no longer holds the node.
type NodeRecord struct {
	ID      dist.ID
	Weight  float64
	Data    []byte
	Missing bool
}

// Endpoint is one end of an exported edge with the location known by the
// sender.
type Endpoint struct {
	ID       dist.ID
	Location int
}

// EdgeRecord is an exported edge.
type EdgeRecord struct {
	ID     dist.ID
	Layer  dist.LayerID
	Weight float64
	Source Endpoint
	Target Endpoint
}

// NoOwner marks a location whose node was removed.
const NoOwner = -1

// Location maps a node to its current owner rank.
type Location struct {
	ID    dist.ID
	Owner int
}

func EncodeNodeRecord(rec NodeRecord) ([]byte, error) {
	fields := []tlv.Field{
		idField(schema.FieldID, rec.ID),
		tlv.F64(schema.FieldWeight, rec.Weight),
	}
	if rec.Data != nil {
		fields = append(fields, tlv.Bytes(schema.FieldData, rec.Data))
	}
	if rec.Missing {
		fields = append(fields, tlv.Bool(schema.FieldMissing, true))
	}
	return encode(schema.MsgNodeRecord, fields)
}

func DecodeNodeRecord(payload []byte) (NodeRecord, error) {
	fields, err := decode(schema.MsgNodeRecord, payload)
	if err != nil {
		return NodeRecord{}, err
	}
	id, err := getID(fields, schema.FieldID)
	if err != nil {
		return NodeRecord{}, decodeErr("node record id", err)
	}
	weight, err := getF64(fields, schema.FieldWeight)
	if err != nil {
		return NodeRecord{}, decodeErr("node record weight", err)
	}
	return NodeRecord{
		ID:      id,
		Weight:  weight,
		Data:    getBytes(fields, schema.FieldData),
		Missing: getBool(fields, schema.FieldMissing),
	}, nil
}

func edgeFields(rec EdgeRecord) []tlv.Field {
	return []tlv.Field{
		idField(schema.FieldID, rec.ID),
		tlv.I64(schema.FieldLayer, int64(rec.Layer)),
		tlv.F64(schema.FieldWeight, rec.Weight),
		idField(schema.FieldSource, rec.Source.ID),
		tlv.U32(schema.FieldSourceLocation, uint32(rec.Source.Location)),
		idField(schema.FieldTarget, rec.Target.ID),
		tlv.U32(schema.FieldTargetLocation, uint32(rec.Target.Location)),
	}
}

func EncodeEdgeRecord(rec EdgeRecord) ([]byte, error) {
	return encode(schema.MsgEdgeRecord, edgeFields(rec))
}

func DecodeEdgeRecord(payload []byte) (EdgeRecord, error) {
	fields, err := decode(schema.MsgEdgeRecord, payload)
	if err != nil {
		return EdgeRecord{}, err
	}
	var rec EdgeRecord
	if rec.ID, err = getID(fields, schema.FieldID); err != nil {
		return EdgeRecord{}, decodeErr("edge record id", err)
	}
	layer, _ := tlv.GetField(fields, schema.FieldLayer)
	l, err := layer.AsI64()
	if err != nil {
		return EdgeRecord{}, decodeErr("edge record layer", err)
	}
	rec.Layer = dist.LayerID(l)
	if rec.Weight, err = getF64(fields, schema.FieldWeight); err != nil {
		return EdgeRecord{}, decodeErr("edge record weight", err)
	}
	if rec.Source.ID, err = getID(fields, schema.FieldSource); err != nil {
		return EdgeRecord{}, decodeErr("edge record source", err)
	}
	if rec.Source.Location, err = getRank(fields, schema.FieldSourceLocation); err != nil {
		return EdgeRecord{}, decodeErr("edge record source location", err)
	}
	if rec.Target.ID, err = getID(fields, schema.FieldTarget); err != nil {
		return EdgeRecord{}, decodeErr("edge record target", err)
	}
	if rec.Target.Location, err = getRank(fields, schema.FieldTargetLocation); err != nil {
		return EdgeRecord{}, decodeErr("edge record target location", err)
	}
	return rec, nil
}

func EncodeLocation(loc Location) ([]byte, error) {
	return encode(schema.MsgLocation, []tlv.Field{
		idField(schema.FieldID, loc.ID),
		tlv.U32(schema.FieldOwner, uint32(loc.Owner)),
	})
}

func DecodeLocation(payload []byte) (Location, error) {
	fields, err := decode(schema.MsgLocation, payload)
	if err != nil {
		return Location{}, err
	}
	id, err := getID(fields, schema.FieldID)
	if err != nil {
		return Location{}, decodeErr("location id", err)
	}
	owner, err := getRank(fields, schema.FieldOwner)
	if err != nil {
		return Location{}, decodeErr("location owner", err)
	}
	return Location{ID: id, Owner: owner}, nil
}
