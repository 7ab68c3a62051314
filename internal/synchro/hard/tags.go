package hard

import (
	"fmt"

	"github.com/danmuck/syncgraph/internal/comm"
	"github.com/danmuck/syncgraph/internal/protocol"
)

// Epoch separates consecutive synchronization rounds. It is folded into
// every hard-mode tag so a server only ever matches requests of its own
// round.
type Epoch uint32

const (
	EpochEven Epoch = 0x00
	EpochOdd  Epoch = 0x10
)

func (e Epoch) Next() Epoch {
	if e == EpochEven {
		return EpochOdd
	}
	return EpochEven
}

func (e Epoch) String() string {
	if e == EpochEven {
		return "EVEN"
	}
	return "ODD"
}

// Color is the termination-detection color of a rank or token.
type Color uint8

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == White {
		return "WHITE"
	}
	return "BLACK"
}

type kind uint32

const (
	kindRequest  kind = 0x1
	kindResponse kind = 0x2
	kindToken    kind = 0x3
	kindEnd      kind = 0x4
)

const tagBase comm.Tag = 0x100

func tagFor(epoch Epoch, k kind) comm.Tag {
	return tagBase | comm.Tag(epoch) | comm.Tag(k)
}

// Requests share one tag so a server sees every request of a source in send
// order; the first payload byte tells mutex and link requests apart.
const (
	requestMutex byte = 1
	requestLink  byte = 2
)

func envelope(class byte, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = class
	copy(out[1:], body)
	return out
}

func openEnvelope(payload []byte) (byte, []byte, error) {
	if len(payload) == 0 {
		return 0, nil, fmt.Errorf("%w: empty request", protocol.ErrDecode)
	}
	switch payload[0] {
	case requestMutex, requestLink:
		return payload[0], payload[1:], nil
	default:
		return 0, nil, fmt.Errorf("%w: unknown request class %d", protocol.ErrDecode, payload[0])
	}
}
