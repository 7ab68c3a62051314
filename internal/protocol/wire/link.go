package wire

import (
	"fmt"

	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/protocol/schema"
	"github.com/danmuck/syncgraph/internal/protocol/tlv"
)

// LinkKind is the structural operation carried by a link request.
type LinkKind uint8

const (
	LinkEdge LinkKind = iota + 1
	UnlinkEdge
	RemoveNode
)

func (k LinkKind) String() string {
	switch k {
	case LinkEdge:
		return "LINK"
	case UnlinkEdge:
		return "UNLINK"
	case RemoveNode:
		return "REMOVE_NODE"
	default:
		return fmt.Sprintf("LinkKind(%d)", uint8(k))
	}
}

// LinkRequest carries an edge for LINK, or the edge/node id for UNLINK and
// REMOVE_NODE.
type LinkRequest struct {
	Kind   LinkKind
	Edge   EdgeRecord
	Target dist.ID
}

func EncodeLinkRequest(req LinkRequest) ([]byte, error) {
	fields := []tlv.Field{tlv.U8(schema.FieldKind, uint8(req.Kind))}
	switch req.Kind {
	case LinkEdge:
		b, err := EncodeEdgeRecord(req.Edge)
		if err != nil {
			return nil, err
		}
		fields = append(fields, tlv.Bytes(schema.FieldEdge, b))
	case UnlinkEdge, RemoveNode:
		fields = append(fields, idField(schema.FieldID, req.Target))
	default:
		return nil, fmt.Errorf("wire: unknown link kind %d", req.Kind)
	}
	return encode(schema.MsgLinkRequest, fields)
}

func DecodeLinkRequest(payload []byte) (LinkRequest, error) {
	fields, err := decode(schema.MsgLinkRequest, payload)
	if err != nil {
		return LinkRequest{}, err
	}
	kind, err := getU8(fields, schema.FieldKind)
	if err != nil {
		return LinkRequest{}, decodeErr("link request kind", err)
	}
	req := LinkRequest{Kind: LinkKind(kind)}
	switch req.Kind {
	case LinkEdge:
		f, ok := tlv.GetField(fields, schema.FieldEdge)
		if !ok {
			return LinkRequest{}, decodeErr("link request edge", fmt.Errorf("field %d missing", schema.FieldEdge))
		}
		if req.Edge, err = DecodeEdgeRecord(f.Value); err != nil {
			return LinkRequest{}, err
		}
	case UnlinkEdge, RemoveNode:
		if req.Target, err = getID(fields, schema.FieldID); err != nil {
			return LinkRequest{}, decodeErr("link request target", err)
		}
	default:
		return LinkRequest{}, decodeErr("link request kind", fmt.Errorf("unknown kind %d", kind))
	}
	return req, nil
}

// LinkBatch groups the structural notifications one rank sends another during
// a ghost-mode synchronize.
type LinkBatch struct {
	Links   []EdgeRecord
	Unlinks []dist.ID
}

func EncodeLinkBatch(b LinkBatch) ([]byte, error) {
	fields := make([]tlv.Field, 0, len(b.Links)+len(b.Unlinks))
	for _, rec := range b.Links {
		enc, err := EncodeEdgeRecord(rec)
		if err != nil {
			return nil, err
		}
		fields = append(fields, tlv.Bytes(schema.FieldEdge, enc))
	}
	for _, id := range b.Unlinks {
		fields = append(fields, idField(schema.FieldUnlink, id))
	}
	return encode(schema.MsgLinkBatch, fields)
}

func DecodeLinkBatch(payload []byte) (LinkBatch, error) {
	fields, err := decode(schema.MsgLinkBatch, payload)
	if err != nil {
		return LinkBatch{}, err
	}
	var out LinkBatch
	for _, f := range tlv.GetFields(fields, schema.FieldEdge) {
		rec, err := DecodeEdgeRecord(f.Value)
		if err != nil {
			return LinkBatch{}, err
		}
		out.Links = append(out.Links, rec)
	}
	for _, f := range tlv.GetFields(fields, schema.FieldUnlink) {
		v, err := f.AsU64()
		if err != nil {
			return LinkBatch{}, decodeErr("link batch unlink", err)
		}
		out.Unlinks = append(out.Unlinks, dist.Unpack(v))
	}
	return out, nil
}
