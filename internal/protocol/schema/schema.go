package schema

import (
	"fmt"

	"github.com/danmuck/syncgraph/internal/logging"
	"github.com/danmuck/syncgraph/internal/protocol/tlv"
)

// Message type IDs from tlv contract.
const (
	MsgMutexRequest  uint32 = 1
	MsgMutexResponse uint32 = 2
	MsgLinkRequest   uint32 = 3
	MsgNodeRecord    uint32 = 4
	MsgEdgeRecord    uint32 = 5
	MsgIDList        uint32 = 6
	MsgLocation      uint32 = 7
	MsgToken         uint32 = 8
	MsgRecordBatch   uint32 = 9
	MsgLinkBatch     uint32 = 10
)

// Field IDs from tlv contract.
const (
	FieldKind   uint16 = 1
	FieldNode   uint16 = 2
	FieldData   uint16 = 3
	FieldStatus uint16 = 4
	FieldOwner  uint16 = 5

	FieldID      uint16 = 100
	FieldWeight  uint16 = 101
	FieldMissing uint16 = 102
	FieldLayer   uint16 = 103

	FieldSource         uint16 = 200
	FieldSourceLocation uint16 = 201
	FieldTarget         uint16 = 202
	FieldTargetLocation uint16 = 203

	FieldRecord uint16 = 300
	FieldEdge   uint16 = 301
	FieldUnlink uint16 = 302

	FieldColor uint16 = 400
	FieldCount uint16 = 401
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

// Batches carry repeated fields only, so they have no requirements beyond
// being registered.
var requirements = map[uint32][]Requirement{
	MsgMutexRequest: {
		{FieldKind, tlv.TypeU8},
		{FieldNode, tlv.TypeU64},
	},
	MsgMutexResponse: {
		{FieldKind, tlv.TypeU8},
		{FieldNode, tlv.TypeU64},
		{FieldStatus, tlv.TypeU8},
		{FieldOwner, tlv.TypeU32},
	},
	MsgLinkRequest: {
		{FieldKind, tlv.TypeU8},
	},
	MsgNodeRecord: {
		{FieldID, tlv.TypeU64},
		{FieldWeight, tlv.TypeF64},
	},
	MsgEdgeRecord: {
		{FieldID, tlv.TypeU64},
		{FieldLayer, tlv.TypeI64},
		{FieldWeight, tlv.TypeF64},
		{FieldSource, tlv.TypeU64},
		{FieldSourceLocation, tlv.TypeU32},
		{FieldTarget, tlv.TypeU64},
		{FieldTargetLocation, tlv.TypeU32},
	},
	MsgIDList: {},
	MsgLocation: {
		{FieldID, tlv.TypeU64},
		{FieldOwner, tlv.TypeU32},
	},
	MsgToken: {
		{FieldColor, tlv.TypeU8},
		{FieldCount, tlv.TypeI64},
	},
	MsgRecordBatch: {},
	MsgLinkBatch:   {},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored by design.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		logging.Errf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logging.Errf(
				"schema.Validate missing field message_type=%d field_id=%d",
				messageType,
				req.ID,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logging.Errf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	logging.Tracef("schema.Validate ok message_type=%d fields=%d", messageType, len(fields))
	return nil
}
