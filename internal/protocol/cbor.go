package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const (
	// DefaultMaxFrame bounds a single encoded frame.
	DefaultMaxFrame = 16 << 20
	// MaxFrameHardLimit is the largest frame ever accepted.
	MaxFrameHardLimit = 256 << 20
)

var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// CBORCodec speaks CBOR values, each prefixed by its length as a 4-byte
// big-endian integer. Byte strings cross as []byte.
type CBORCodec struct {
	r        io.Reader
	w        io.Writer
	maxFrame int
}

// NewCBORCodec creates a CBOR codec reading from r and writing to w.
func NewCBORCodec(r io.Reader, w io.Writer) *CBORCodec {
	return &CBORCodec{r: r, w: w, maxFrame: DefaultMaxFrame}
}

// SetMaxFrame changes the frame size limit, capped at MaxFrameHardLimit.
func (c *CBORCodec) SetMaxFrame(n int) {
	c.maxFrame = min(n, MaxFrameHardLimit)
}

// ReadMessage decodes and validates the next message frame. io.EOF is
// returned at a clean frame boundary.
func (c *CBORCodec) ReadMessage() (*Message, error) {
	var m Message
	if err := c.readFrame(&m); err != nil {
		return nil, err
	}
	if err := Validate(&m); err != nil {
		return &m, err
	}
	return &m, nil
}

// WriteReply encodes r as one frame.
func (c *CBORCodec) WriteReply(r *Reply) error {
	if err := ValidateReply(r); err != nil {
		return err
	}
	return c.writeFrame(r)
}

// WriteMessage encodes m as one frame. Callers use it to drive a host.
func (c *CBORCodec) WriteMessage(m *Message) error {
	if err := Validate(m); err != nil {
		return err
	}
	return c.writeFrame(m)
}

// ReadReply decodes and validates the next reply frame.
func (c *CBORCodec) ReadReply() (*Reply, error) {
	var r Reply
	if err := c.readFrame(&r); err != nil {
		return nil, err
	}
	if err := ValidateReply(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *CBORCodec) readFrame(v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(c.r, lengthBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("failed to read frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if int(length) > c.maxFrame {
		return fmt.Errorf("frame size %d exceeds max_frame limit %d", length, c.maxFrame)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(c.r, frame); err != nil {
		return fmt.Errorf("failed to read frame: %w", err)
	}
	if err := cborDecMode.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	return nil
}

func (c *CBORCodec) writeFrame(v any) error {
	frame, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(frame) > c.maxFrame {
		return fmt.Errorf("encoded frame size %d exceeds max_frame limit %d", len(frame), c.maxFrame)
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(frame)))
	if _, err := c.w.Write(lengthBuf[:]); err != nil {
		return err
	}
	_, err = c.w.Write(frame)
	return err
}
