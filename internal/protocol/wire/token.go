package wire

import (
	"github.com/danmuck/syncgraph/internal/protocol/schema"
	"github.com/danmuck/syncgraph/internal/protocol/tlv"
)

// Token circulates the termination-detection ring. Count accumulates the
// per-rank balance of sent minus received round messages.
type Token struct {
	Color uint8
	Count int64
}

func EncodeToken(t Token) ([]byte, error) {
	return encode(schema.MsgToken, []tlv.Field{
		tlv.U8(schema.FieldColor, t.Color),
		tlv.I64(schema.FieldCount, t.Count),
	})
}

func DecodeToken(payload []byte) (Token, error) {
	fields, err := decode(schema.MsgToken, payload)
	if err != nil {
		return Token{}, err
	}
	color, err := getU8(fields, schema.FieldColor)
	if err != nil {
		return Token{}, decodeErr("token color", err)
	}
	f, _ := tlv.GetField(fields, schema.FieldCount)
	count, err := f.AsI64()
	if err != nil {
		return Token{}, decodeErr("token count", err)
	}
	return Token{Color: color, Count: count}, nil
}
