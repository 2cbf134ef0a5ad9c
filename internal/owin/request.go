package owin

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/mattjoyce/owinhost/internal/envelope"
)

// Request is a read view over the request side of an envelope.
type Request struct {
	ctx context.Context
	env envelope.Env
}

// NewRequest wraps env.
func NewRequest(ctx context.Context, env envelope.Env) *Request {
	return &Request{ctx: ctx, env: env}
}

// Context returns the context the request runs under.
func (r *Request) Context() context.Context {
	return r.ctx
}

// Env returns the underlying envelope.
func (r *Request) Env() envelope.Env {
	return r.env
}

func (r *Request) Method() string {
	return r.env.String(envelope.RequestMethod)
}

func (r *Request) Path() string {
	return r.env.String(envelope.RequestPath)
}

func (r *Request) PathBase() string {
	return r.env.String(envelope.RequestPathBase)
}

func (r *Request) QueryString() string {
	return r.env.String(envelope.RequestQueryString)
}

func (r *Request) Scheme() string {
	return r.env.String(envelope.RequestScheme)
}

// Headers returns the request headers.
func (r *Request) Headers() http.Header {
	return envelope.HeaderValues(r.env[envelope.RequestHeaders])
}

// Body returns the request body stream.
func (r *Request) Body() io.Reader {
	if rd, ok := r.env[envelope.RequestBody].(io.Reader); ok {
		return rd
	}
	return bytes.NewReader(nil)
}

// Response is a write view over the response side of an envelope.
type Response struct {
	env envelope.Env
}

// NewResponse wraps env.
func NewResponse(env envelope.Env) *Response {
	return &Response{env: env}
}

// SetStatusCode sets the response status.
func (r *Response) SetStatusCode(code int) {
	r.env[envelope.ResponseStatusCode] = code
}

// SetReasonPhrase sets the response reason phrase.
func (r *Response) SetReasonPhrase(phrase string) {
	r.env[envelope.ResponseReasonPhrase] = phrase
}

// Header returns the response headers, installing them if the envelope has
// none yet.
func (r *Response) Header() http.Header {
	h := r.env.ResponseHeaderMap()
	if h == nil {
		h = http.Header{}
		r.env[envelope.ResponseHeaders] = h
	}
	return h
}

// SetContentType sets the Content-Type header.
func (r *Response) SetContentType(ct string) {
	r.Header().Set("Content-Type", ct)
}

// Write appends p to the response body.
func (r *Response) Write(p []byte) (int, error) {
	w := r.env.ResponseWriter()
	if w == nil {
		buf := new(bytes.Buffer)
		r.env[envelope.ResponseBody] = buf
		w = buf
	}
	return w.Write(p)
}

// WriteString appends s to the response body.
func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}
