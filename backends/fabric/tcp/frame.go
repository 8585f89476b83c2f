// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

type frameKind uint8

const (
	// kindHello is the first frame sent by a rank: Src is its rank, Dst the world size it expects.
	kindHello frameKind = iota + 1

	// kindReady is sent by the hub once all ranks said hello. Channel holds the session id.
	kindReady

	// kindData is a message routed from Src to Dst.
	kindData
)

// frame is the unit sent over the hub streams.
type frame struct {
	Kind     frameKind
	Src, Dst int32
	Channel  string
	Payload  []byte
}

// frameHeader is the fixed-size part of the encoding of a frame.
type frameHeader struct {
	Kind                   uint8
	Src, Dst               int32
	ChannelLen, PayloadLen uint32
}

func (f *frame) encode() ([]byte, error) {
	var buf bytes.Buffer
	header := frameHeader{
		Kind:       uint8(f.Kind),
		Src:        f.Src,
		Dst:        f.Dst,
		ChannelLen: uint32(len(f.Channel)),
		PayloadLen: uint32(len(f.Payload)),
	}
	buf.Grow(binary.Size(header) + len(f.Channel) + len(f.Payload))
	if err := binary.Write(&buf, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "failed to encode frame header")
	}
	buf.WriteString(f.Channel)
	buf.Write(f.Payload)
	return buf.Bytes(), nil
}

func (f *frame) decode(data []byte) error {
	reader := bytes.NewReader(data)
	var header frameHeader
	if err := binary.Read(reader, binary.LittleEndian, &header); err != nil {
		return errors.Wrap(err, "failed to decode frame header")
	}
	if int64(header.ChannelLen)+int64(header.PayloadLen) != int64(reader.Len()) {
		return errors.Errorf("corrupted frame: header declares %d+%d bytes, %d available",
			header.ChannelLen, header.PayloadLen, reader.Len())
	}
	channel := make([]byte, header.ChannelLen)
	if _, err := io.ReadFull(reader, channel); err != nil {
		return errors.Wrap(err, "failed to decode frame channel")
	}
	payload := make([]byte, header.PayloadLen)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return errors.Wrap(err, "failed to decode frame payload")
	}
	*f = frame{
		Kind:    frameKind(header.Kind),
		Src:     header.Src,
		Dst:     header.Dst,
		Channel: string(channel),
		Payload: payload,
	}
	return nil
}

// frameCodec is the gRPC codec of the hub streams: frames are not protocol buffers.
type frameCodec struct{}

const codecName = "gomcrdl-frame"

// Marshal implements encoding.Codec.
func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, errors.Errorf("%s codec cannot marshal %T", codecName, v)
	}
	return f.encode()
}

// Unmarshal implements encoding.Codec.
func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*frame)
	if !ok {
		return errors.Errorf("%s codec cannot unmarshal into %T", codecName, v)
	}
	return f.decode(data)
}

// Name implements encoding.Codec.
func (frameCodec) Name() string {
	return codecName
}
