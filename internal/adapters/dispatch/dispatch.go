// Package dispatch submits engine commands over gRPC. The gateway speaks a
// JSON content subtype, so calls go through conn.Invoke with the registered
// json codec rather than generated stubs.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/ports"
)

// Method paths on the engine gateway service.
const (
	methodCancelInstance  = "/gateway.Gateway/CancelProcessInstance"
	methodResolveIncident = "/gateway.Gateway/ResolveIncident"
	methodSetVariables    = "/gateway.Gateway/SetVariables"
	methodMigrateInstance = "/gateway.Gateway/MigrateProcessInstance"
	methodModifyInstance  = "/gateway.Gateway/ModifyProcessInstance"
	methodDeleteResource  = "/gateway.Gateway/DeleteResource"
)

type GatewayDispatcher struct {
	conn   *grpc.ClientConn
	cfg    domain.DispatchConfig
	logger *slog.Logger
}

var _ ports.CommandDispatchPort = (*GatewayDispatcher)(nil)

func New(cfg domain.DispatchConfig, logger *slog.Logger) (*GatewayDispatcher, error) {
	if cfg.GatewayAddress == "" {
		return nil, domain.NewValidationError("gateway address must not be empty", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialOpts := []grpc.DialOption{
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: 5 * time.Second,
		}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	}

	conn, err := grpc.NewClient(cfg.GatewayAddress, dialOpts...)
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to create gateway connection",
			Details: map[string]interface{}{
				"address": cfg.GatewayAddress,
				"error":   err.Error(),
			},
		}
	}

	return &GatewayDispatcher{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("component", "dispatch"),
	}, nil
}

func (d *GatewayDispatcher) Dispatch(ctx context.Context, cmd ports.Command) error {
	method, body, err := encodeCommand(cmd)
	if err != nil {
		return err
	}

	if d.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.RequestTimeout)
		defer cancel()
	}

	var reply map[string]interface{}
	if err := d.conn.Invoke(ctx, method, body, &reply); err != nil {
		return classifyStatus(err, cmd)
	}

	d.logger.Debug("command accepted",
		"method", method,
		"operation_id", cmd.OperationID,
		"target_key", cmd.TargetKey,
	)

	return nil
}

func (d *GatewayDispatcher) Close() error {
	return d.conn.Close()
}

func encodeCommand(cmd ports.Command) (string, map[string]interface{}, error) {
	switch cmd.Type {
	case domain.OperationTypeCancelProcessInstance:
		return methodCancelInstance, map[string]interface{}{
			"processInstanceKey": cmd.TargetKey,
		}, nil

	case domain.OperationTypeResolveIncident:
		return methodResolveIncident, map[string]interface{}{
			"incidentKey": cmd.Payload["incidentKey"],
		}, nil

	case domain.OperationTypeUpdateVariable, domain.OperationTypeAddVariable:
		return methodSetVariables, map[string]interface{}{
			"elementInstanceKey": cmd.Payload["scopeKey"],
			"variables": map[string]interface{}{
				fmt.Sprint(cmd.Payload["name"]): cmd.Payload["value"],
			},
			"local": true,
		}, nil

	case domain.OperationTypeMigrateProcessInstance:
		return methodMigrateInstance, map[string]interface{}{
			"processInstanceKey": cmd.TargetKey,
			"migrationPlan":      cmd.Payload["migrationPlan"],
		}, nil

	case domain.OperationTypeModifyProcessInstance:
		return methodModifyInstance, map[string]interface{}{
			"processInstanceKey": cmd.TargetKey,
			"instructions":       cmd.Payload["instructions"],
		}, nil

	case domain.OperationTypeDeleteProcessDefinition, domain.OperationTypeDeleteDecisionDefinition:
		return methodDeleteResource, map[string]interface{}{
			"resourceKey": cmd.TargetKey,
		}, nil
	}

	return "", nil, domain.NewValidationError("unsupported command type", map[string]interface{}{
		"type": string(cmd.Type),
	})
}

// classifyStatus maps gateway status codes onto the two outcomes the executor
// distinguishes. Business-rule codes become terminal rejections carrying the
// gateway's message; everything about reachability stays retriable.
func classifyStatus(err error, cmd ports.Command) error {
	st, ok := status.FromError(err)
	if !ok {
		return domain.NewUnavailableError("gateway", err)
	}

	switch st.Code() {
	case codes.FailedPrecondition, codes.InvalidArgument, codes.NotFound, codes.AlreadyExists:
		return domain.NewRejectionError(st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Canceled:
		return domain.NewUnavailableError("gateway", err)
	}

	return domain.Error{
		Type:    domain.ErrorTypeInternal,
		Message: "gateway call failed",
		Details: map[string]interface{}{
			"code":         st.Code().String(),
			"operation_id": cmd.OperationID,
			"error":        st.Message(),
		},
	}
}
