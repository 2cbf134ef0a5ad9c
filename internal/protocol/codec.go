package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mattjoyce/owinhost/internal/envelope"
)

// ErrInvalidMessage marks a message that decoded but failed validation. The
// stream is still usable after it.
var ErrInvalidMessage = errors.New("invalid message")

// Codec reads messages and writes replies on one stream pair.
type Codec interface {
	ReadMessage() (*Message, error)
	WriteReply(*Reply) error
}

// Validate checks the required fields of m.
func Validate(m *Message) error {
	if m.Protocol != Version {
		return fmt.Errorf("%w: unsupported protocol version: %d", ErrInvalidMessage, m.Protocol)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: missing required field: id", ErrInvalidMessage)
	}
	if m.Op != OpConfigure && m.Op != OpInvoke {
		return fmt.Errorf("%w: invalid op value: %q (must be 'configure' or 'invoke')", ErrInvalidMessage, m.Op)
	}
	return nil
}

// ValidateReply checks the required fields of r.
func ValidateReply(r *Reply) error {
	if r.Status != StatusOK && r.Status != StatusError {
		return fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", r.Status)
	}
	if r.Status == StatusError && r.Error == "" {
		return fmt.Errorf("reply has status=error but no error message")
	}
	return nil
}

// JSONCodec speaks newline-delimited JSON. Numbers decode as json.Number and
// a string request body is base64 decoded, mirroring how encoding/json
// writes byte slices.
type JSONCodec struct {
	dec *json.Decoder
	enc *json.Encoder
}

// NewJSONCodec creates a JSON codec reading from r and writing to w.
func NewJSONCodec(r io.Reader, w io.Writer) *JSONCodec {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	return &JSONCodec{dec: dec, enc: json.NewEncoder(w)}
}

// ReadMessage decodes and validates the next message. io.EOF is returned
// unwrapped at end of stream.
func (c *JSONCodec) ReadMessage() (*Message, error) {
	var m Message
	if err := c.dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if err := Validate(&m); err != nil {
		return &m, err
	}
	if err := decodeBody(m.Input); err != nil {
		return &m, err
	}
	return &m, nil
}

// WriteReply encodes r as one line.
func (c *JSONCodec) WriteReply(r *Reply) error {
	if err := ValidateReply(r); err != nil {
		return err
	}
	if err := c.enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	return nil
}

// WriteMessage encodes m as one line. Callers use it to drive a host.
func (c *JSONCodec) WriteMessage(m *Message) error {
	if err := Validate(m); err != nil {
		return err
	}
	if err := c.enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return nil
}

// ReadReply decodes and validates the next reply.
func (c *JSONCodec) ReadReply() (*Reply, error) {
	var r Reply
	if err := c.dec.Decode(&r); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	if err := ValidateReply(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeBody(input map[string]any) error {
	s, ok := input[envelope.RequestBody].(string)
	if !ok {
		return nil
	}
	body, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %s is not valid base64: %v", ErrInvalidMessage, envelope.RequestBody, err)
	}
	input[envelope.RequestBody] = body
	return nil
}
