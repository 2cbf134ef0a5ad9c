package registry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mattjoyce/owinhost/internal/envelope"
	"github.com/mattjoyce/owinhost/internal/log"
	"github.com/mattjoyce/owinhost/internal/task"
)

// Invoke dispatches env to the application named by its
// owin-connect.owinAppId entry and waits for it to finish.
//
// Before the call the request body becomes a readable stream and a fresh
// response body and header map are installed. After a successful call every
// key outside the owin.Response family is removed, the response body is
// replaced by its bytes and the response headers are flattened to their
// first value. A faulted application's error is returned as is; a cancelled
// one yields ErrCancelled. env is mutated in place and also returned.
func (r *Registry) Invoke(ctx context.Context, env envelope.Env) (envelope.Env, error) {
	start := time.Now()
	inv := Invocation{AppID: -1}
	if env != nil {
		inv.RequestID = env.String(envelope.RequestID)
		inv.Method = env.String(envelope.RequestMethod)
		inv.Path = env.String(envelope.RequestPath)
	}

	out, err := r.invoke(ctx, env, &inv)
	inv.Duration = time.Since(start)
	inv.Err = err
	if err == nil {
		inv.StatusCode = out.StatusCode()
	}
	r.record(inv)
	return out, err
}

func (r *Registry) invoke(ctx context.Context, env envelope.Env, inv *Invocation) (envelope.Env, error) {
	inv.Outcome = OutcomeRejected
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrContractViolation)
	}
	id, ok := env.AppID()
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an integer, got %v", ErrContractViolation, envelope.AppIDKey, env[envelope.AppIDKey])
	}
	a, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: application id %d is not registered", ErrContractViolation, id)
	}
	inv.AppID = id
	inv.AppName = a.info.Name

	body, err := requestBody(env[envelope.RequestBody])
	if err != nil {
		return nil, err
	}
	env[envelope.RequestBody] = bytes.NewReader(body)
	responseBody := &bytes.Buffer{}
	responseHeaders := http.Header{}
	env[envelope.ResponseBody] = responseBody
	env[envelope.ResponseHeaders] = responseHeaders

	if ctx == nil {
		ctx = context.Background()
	}
	res := a.handler(ctx, env).Wait()
	switch res.Status {
	case task.StatusFaulted:
		inv.Outcome = OutcomeFaulted
		log.WithApp(id).Debug("application faulted", "error", res.Err)
		return nil, res.Err
	case task.StatusCancelled:
		inv.Outcome = OutcomeCancelled
		return nil, ErrCancelled
	}
	inv.Outcome = OutcomeSucceeded

	for key := range env {
		if !envelope.IsResponseKey(key) {
			delete(env, key)
		}
	}
	env[envelope.ResponseBody] = append([]byte{}, responseBody.Bytes()...)
	env[envelope.ResponseHeaders] = envelope.FlattenHeaders(responseHeaders)
	return env, nil
}

func requestBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("%w: %s must be bytes, got %T", ErrContractViolation, envelope.RequestBody, v)
	}
}

func (r *Registry) record(inv Invocation) {
	for _, rec := range r.recorders {
		rec.RecordInvocation(inv)
	}
}
