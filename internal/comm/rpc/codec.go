package rpc

import (
	"bytes"
	"fmt"

	"github.com/danmuck/syncgraph/internal/protocol/frame"
)

const codecName = "syncgraph-frame"

// frameCodec puts frames on gRPC streams in their native wire form, so the
// rpc transport and the tcp transport share one encoding.
type frameCodec struct {
	limits frame.Limits
}

func (c frameCodec) Name() string { return codecName }

func (c frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*frame.Frame)
	if !ok {
		return nil, fmt.Errorf("rpc: cannot marshal %T", v)
	}
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, *f, c.limits); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*frame.Frame)
	if !ok {
		return fmt.Errorf("rpc: cannot unmarshal into %T", v)
	}
	decoded, err := frame.ReadFrame(bytes.NewReader(data), c.limits)
	if err != nil {
		return err
	}
	*f = decoded
	return nil
}
