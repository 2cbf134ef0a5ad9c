// Package envelope defines the request/response environment exchanged with
// hosted applications and the well-known keys it carries.
//
// An Env is created by the caller for a single request, mutated in place by
// the registry and by the application, and discarded once the response has
// been returned.
package envelope

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
)

// Request keys.
const (
	RequestMethod      = "owin.RequestMethod"
	RequestPath        = "owin.RequestPath"
	RequestPathBase    = "owin.RequestPathBase"
	RequestProtocol    = "owin.RequestProtocol"
	RequestQueryString = "owin.RequestQueryString"
	RequestScheme      = "owin.RequestScheme"
	RequestHeaders     = "owin.RequestHeaders"
	RequestBody        = "owin.RequestBody"
	RequestID          = "owin.RequestId"
)

// Response keys. Everything that survives a successful invocation starts
// with ResponsePrefix.
const (
	ResponsePrefix       = "owin.Response"
	ResponseStatusCode   = "owin.ResponseStatusCode"
	ResponseReasonPhrase = "owin.ResponseReasonPhrase"
	ResponseProtocol     = "owin.ResponseProtocol"
	ResponseHeaders      = "owin.ResponseHeaders"
	ResponseBody         = "owin.ResponseBody"
)

const (
	// AppIDKey carries the registry handle the request is dispatched to.
	AppIDKey = "owin-connect.owinAppId"

	// HostPrefix marks out-of-band values supplied by the calling host.
	HostPrefix = "node."
)

// Env is one in-flight request/response exchange.
type Env map[string]any

// String returns the string stored under key, or "".
func (e Env) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// AppID extracts the registry handle. Hosts encode numbers differently
// (JSON decoders produce float64 or json.Number, CBOR produces uint64), so
// every integral representation is accepted.
func (e Env) AppID() (int, bool) {
	v, ok := e[AppIDKey]
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// StatusCode returns the response status set by the application, or 200.
func (e Env) StatusCode() int {
	if code, ok := toInt(e[ResponseStatusCode]); ok && code > 0 {
		return code
	}
	return http.StatusOK
}

// ResponseHeaderMap returns the writable response headers installed for the
// current call, or nil outside an invocation.
func (e Env) ResponseHeaderMap() http.Header {
	h, _ := e[ResponseHeaders].(http.Header)
	return h
}

// ResponseWriter returns the writable response body installed for the
// current call, or nil outside an invocation.
func (e Env) ResponseWriter() io.Writer {
	w, _ := e[ResponseBody].(io.Writer)
	return w
}

// IsResponseKey reports whether key belongs to the response family.
func IsResponseKey(key string) bool {
	return strings.HasPrefix(key, ResponsePrefix)
}

// FlattenHeaders keeps the first value of every header that has one.
// Multi-value headers cannot cross the boundary in this protocol version, so
// the remaining values are dropped.
func FlattenHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}

// HeaderValues normalizes the shapes a host may use for request headers.
func HeaderValues(v any) http.Header {
	switch h := v.(type) {
	case http.Header:
		return h
	case map[string][]string:
		return http.Header(h)
	case map[string]string:
		out := make(http.Header, len(h))
		for k, val := range h {
			out[k] = []string{val}
		}
		return out
	case map[string]any:
		out := make(http.Header, len(h))
		for k, val := range h {
			switch vv := val.(type) {
			case string:
				out[k] = []string{vv}
			case []string:
				out[k] = vv
			case []any:
				for _, item := range vv {
					if s, ok := item.(string); ok {
						out[k] = append(out[k], s)
					}
				}
			}
		}
		return out
	default:
		return http.Header{}
	}
}

// toInt accepts integral values that fit in an int32, whatever their
// decoded type.
func toInt(v any) (int, bool) {
	var i int64
	switch n := v.(type) {
	case int:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		i = int64(n)
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > math.MaxInt32 {
			return 0, false
		}
		i = int64(n)
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, false
		}
		i = parsed
	default:
		return 0, false
	}
	if i < math.MinInt32 || i > math.MaxInt32 {
		return 0, false
	}
	return int(i), true
}
