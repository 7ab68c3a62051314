package wire

import (
	"fmt"

	"github.com/danmuck/syncgraph/internal/dist"
	"github.com/danmuck/syncgraph/internal/protocol/schema"
	"github.com/danmuck/syncgraph/internal/protocol/tlv"
)

// LockKind is the operation carried by a mutex request.
type LockKind uint8

const (
	KindRead LockKind = iota + 1
	KindAcquire
	KindLock
	KindLockShared
	KindReleaseRead
	KindReleaseAcquire
	KindUnlock
	KindUnlockShared
)

func (k LockKind) String() string {
	switch k {
	case KindRead:
		return "READ"
	case KindAcquire:
		return "ACQUIRE"
	case KindLock:
		return "LOCK"
	case KindLockShared:
		return "LOCK_SHARED"
	case KindReleaseRead:
		return "RELEASE_READ"
	case KindReleaseAcquire:
		return "RELEASE_ACQUIRE"
	case KindUnlock:
		return "UNLOCK"
	case KindUnlockShared:
		return "UNLOCK_SHARED"
	default:
		return fmt.Sprintf("LockKind(%d)", uint8(k))
	}
}

// Exclusive reports whether granting the kind requires the node to be FREE.
func (k LockKind) Exclusive() bool {
	return k == KindAcquire || k == KindLock
}

// IsRelease reports whether the kind gives a lock back.
func (k LockKind) IsRelease() bool {
	switch k {
	case KindReleaseRead, KindReleaseAcquire, KindUnlock, KindUnlockShared:
		return true
	}
	return false
}

// CarriesData reports whether a grant of the kind ships the node payload.
func (k LockKind) CarriesData() bool {
	return k == KindRead || k == KindAcquire
}

// ResponseStatus is the outcome of a mutex request at the server.
type ResponseStatus uint8

const (
	StatusGranted ResponseStatus = iota + 1
	StatusMoved
	StatusGone
)

func (s ResponseStatus) String() string {
	switch s {
	case StatusGranted:
		return "GRANTED"
	case StatusMoved:
		return "MOVED"
	case StatusGone:
		return "GONE"
	default:
		return fmt.Sprintf("ResponseStatus(%d)", uint8(s))
	}
}

// MutexRequest is sent by a client to the owner of a node. The requesting
// rank is the message source.
type MutexRequest struct {
	Kind LockKind
	Node dist.ID
	Data []byte
}

// MutexResponse answers a lock request.
type MutexResponse struct {
	Kind   LockKind
	Node   dist.ID
	Status ResponseStatus
	Owner  int
	Data   []byte
}

func EncodeMutexRequest(req MutexRequest) ([]byte, error) {
	fields := []tlv.Field{
		tlv.U8(schema.FieldKind, uint8(req.Kind)),
		idField(schema.FieldNode, req.Node),
	}
	if req.Data != nil {
		fields = append(fields, tlv.Bytes(schema.FieldData, req.Data))
	}
	return encode(schema.MsgMutexRequest, fields)
}

func DecodeMutexRequest(payload []byte) (MutexRequest, error) {
	fields, err := decode(schema.MsgMutexRequest, payload)
	if err != nil {
		return MutexRequest{}, err
	}
	kind, err := getU8(fields, schema.FieldKind)
	if err != nil {
		return MutexRequest{}, decodeErr("mutex request kind", err)
	}
	node, err := getID(fields, schema.FieldNode)
	if err != nil {
		return MutexRequest{}, decodeErr("mutex request node", err)
	}
	return MutexRequest{
		Kind: LockKind(kind),
		Node: node,
		Data: getBytes(fields, schema.FieldData),
	}, nil
}

func EncodeMutexResponse(resp MutexResponse) ([]byte, error) {
	fields := []tlv.Field{
		tlv.U8(schema.FieldKind, uint8(resp.Kind)),
		idField(schema.FieldNode, resp.Node),
		tlv.U8(schema.FieldStatus, uint8(resp.Status)),
		tlv.U32(schema.FieldOwner, uint32(resp.Owner)),
	}
	if resp.Data != nil {
		fields = append(fields, tlv.Bytes(schema.FieldData, resp.Data))
	}
	return encode(schema.MsgMutexResponse, fields)
}

func DecodeMutexResponse(payload []byte) (MutexResponse, error) {
	fields, err := decode(schema.MsgMutexResponse, payload)
	if err != nil {
		return MutexResponse{}, err
	}
	kind, err := getU8(fields, schema.FieldKind)
	if err != nil {
		return MutexResponse{}, decodeErr("mutex response kind", err)
	}
	node, err := getID(fields, schema.FieldNode)
	if err != nil {
		return MutexResponse{}, decodeErr("mutex response node", err)
	}
	status, err := getU8(fields, schema.FieldStatus)
	if err != nil {
		return MutexResponse{}, decodeErr("mutex response status", err)
	}
	owner, err := getRank(fields, schema.FieldOwner)
	if err != nil {
		return MutexResponse{}, decodeErr("mutex response owner", err)
	}
	return MutexResponse{
		Kind:   LockKind(kind),
		Node:   node,
		Status: ResponseStatus(status),
		Owner:  owner,
		Data:   getBytes(fields, schema.FieldData),
	}, nil
}
