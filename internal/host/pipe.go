// Package host serves the registry to a single caller over a message pipe.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mattjoyce/owinhost/internal/envelope"
	"github.com/mattjoyce/owinhost/internal/log"
	"github.com/mattjoyce/owinhost/internal/protocol"
	"github.com/mattjoyce/owinhost/internal/registry"
)

// Configure input keys. Every other key is passed to the application as a
// property.
const (
	InputStartup    = "startup"
	InputName       = "name"
	InputModuleFile = "moduleFile"
	InputTypeName   = "typeName"
	InputMethodName = "methodName"
)

// Registry is the part of *registry.Registry the pipe drives.
type Registry interface {
	Configure(spec registry.AppSpec) (int, error)
	ConfigureStartup(startupName string, props map[string]any) (int, error)
	Invoke(ctx context.Context, env envelope.Env) (envelope.Env, error)
}

// Pipe answers messages one at a time, in arrival order.
type Pipe struct {
	reg    Registry
	codec  protocol.Codec
	logger *slog.Logger
}

// NewPipe creates a pipe serving reg over codec.
func NewPipe(reg Registry, codec protocol.Codec) *Pipe {
	return &Pipe{reg: reg, codec: codec, logger: log.WithComponent("pipe")}
}

// Serve handles messages until the input ends, ctx is done or the stream
// breaks. End of input is a clean shutdown and returns nil.
func (p *Pipe) Serve(ctx context.Context) error {
	p.logger.Info("pipe started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m, err := p.codec.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.logger.Info("pipe closed by caller")
				return nil
			}
			if errors.Is(err, protocol.ErrInvalidMessage) && m != nil && m.ID != "" {
				p.logger.Warn("rejected message", "id", m.ID, "error", err)
				if werr := p.codec.WriteReply(protocol.Failed(m.ID, protocol.KindProtocol, err)); werr != nil {
					return fmt.Errorf("write reply: %w", werr)
				}
				continue
			}
			return fmt.Errorf("read message: %w", err)
		}

		if err := p.codec.WriteReply(p.Handle(ctx, m)); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}

// Handle executes one validated message.
func (p *Pipe) Handle(ctx context.Context, m *protocol.Message) *protocol.Reply {
	logger := p.logger.With("id", m.ID, "op", m.Op)
	switch m.Op {
	case protocol.OpConfigure:
		id, err := p.configure(m.Input)
		if err != nil {
			logger.Warn("configure failed", "error", err)
			return protocol.Failed(m.ID, Kind(err), err)
		}
		return protocol.OK(m.ID, id)
	case protocol.OpInvoke:
		out, err := p.reg.Invoke(ctx, envelope.Env(m.Input))
		if err != nil {
			logger.Debug("invoke failed", "error", err)
			return protocol.Failed(m.ID, Kind(err), err)
		}
		return protocol.OK(m.ID, map[string]any(out))
	default:
		return protocol.Failed(m.ID, protocol.KindProtocol, fmt.Errorf("unknown op %q", m.Op))
	}
}

func (p *Pipe) configure(input map[string]any) (int, error) {
	props := make(map[string]any, len(input))
	var spec registry.AppSpec
	var startup string
	hasStartup := false
	for k, v := range input {
		s, _ := v.(string)
		switch k {
		case InputStartup:
			startup, hasStartup = s, true
		case InputName:
			spec.Name = s
		case InputModuleFile:
			spec.ModuleFile = s
		case InputTypeName:
			spec.TypeName = s
		case InputMethodName:
			spec.MethodName = s
		default:
			props[k] = v
		}
	}
	if hasStartup || strings.TrimSpace(spec.ModuleFile) == "" {
		return p.reg.ConfigureStartup(startup, props)
	}
	spec.Properties = props
	return p.reg.Configure(spec)
}

// Kind classifies a registry error for the caller.
func Kind(err error) string {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return protocol.KindNotFound
	case errors.Is(err, registry.ErrModuleLoad):
		return protocol.KindModuleLoad
	case errors.Is(err, registry.ErrContractViolation):
		return protocol.KindContractViolation
	case errors.Is(err, registry.ErrCancelled):
		return protocol.KindCancelled
	default:
		return protocol.KindFault
	}
}
