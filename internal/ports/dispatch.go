package ports

import (
	"context"

	"github.com/flowlens/flowlens/internal/domain"
)

// Command is one engine command derived from an operation. TargetKey is the
// process instance key for instance-scoped commands and the definition key
// for definition-scoped ones.
type Command struct {
	Type        domain.OperationType
	TargetKey   int64
	OperationID string
	// Payload carries the command-specific body: variable name/value,
	// migration plan, modification instructions.
	Payload map[string]interface{}
}

// CommandDispatchPort submits a command to the workflow engine.
//
// A nil return means the engine accepted the command; its actual effect
// arrives later through the export stream. A domain.ErrorTypeRejection error
// is a terminal business-rule rejection carrying the engine's reason. A
// domain.ErrorTypeUnavailable error is transient and the command may be
// retried on a later tick.
type CommandDispatchPort interface {
	Dispatch(ctx context.Context, cmd Command) error
	Close() error
}

// DispatchFunc adapts a plain function to the port, mirroring http.HandlerFunc.
type DispatchFunc func(ctx context.Context, cmd Command) error

func (f DispatchFunc) Dispatch(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

func (f DispatchFunc) Close() error { return nil }
