// Package protocol defines the messages exchanged with a caller over a pipe
// and the codecs that carry them: newline-delimited JSON and length-prefixed
// CBOR frames.
package protocol

// Version is the only protocol version understood.
const Version = 1

// Operations a caller may request.
const (
	OpConfigure = "configure"
	OpInvoke    = "invoke"
)

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Error kinds reported in Reply.Kind.
const (
	KindNotFound          = "not_found"
	KindModuleLoad        = "module_load"
	KindContractViolation = "contract_violation"
	KindCancelled         = "cancelled"
	KindFault             = "fault"
	KindProtocol          = "protocol"
)

// Message is a caller request.
type Message struct {
	Protocol int            `json:"protocol" cbor:"protocol"`
	ID       string         `json:"id" cbor:"id"`
	Op       string         `json:"op" cbor:"op"` // configure | invoke
	Input    map[string]any `json:"input,omitempty" cbor:"input,omitempty"`
}

// Reply answers exactly one Message. Result is the new application id for
// configure and the normalized envelope for invoke.
type Reply struct {
	ID     string `json:"id" cbor:"id"`
	Status string `json:"status" cbor:"status"` // ok | error
	Result any    `json:"result,omitempty" cbor:"result"`
	Error  string `json:"error,omitempty" cbor:"error,omitempty"`
	Kind   string `json:"kind,omitempty" cbor:"kind,omitempty"`
}

// OK builds a successful reply.
func OK(id string, result any) *Reply {
	return &Reply{ID: id, Status: StatusOK, Result: result}
}

// Failed builds an error reply.
func Failed(id, kind string, err error) *Reply {
	return &Reply{ID: id, Status: StatusError, Kind: kind, Error: err.Error()}
}
