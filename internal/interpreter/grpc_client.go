package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Capability service method names. Payloads are google.protobuf.Struct in
// both directions so the service contract stays schema-light.
const (
	serviceName          = "/interviewd.capability.v1.Capability/"
	methodExtract        = serviceName + "Extract"
	methodAssessCoverage = serviceName + "AssessCoverage"
	methodInterpret      = serviceName + "Interpret"
	methodCompose        = serviceName + "Compose"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the gRPC capability client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   45 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCCapability implements Capability over gRPC.
type GRPCCapability struct {
	conn    *grpc.ClientConn
	cfg     GRPCConfig
	logger  *slog.Logger
	invoker invoker
}

type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

var _ Capability = (*GRPCCapability)(nil)

// NewGRPCCapability dials the capability service and waits until it is ready.
func NewGRPCCapability(cfg GRPCConfig, logger *slog.Logger) (*GRPCCapability, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("capability address is empty")
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("create capability client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("capability at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to extraction capability", "address", cfg.Address)
	return &GRPCCapability{conn: conn, cfg: cfg, logger: logger, invoker: conn}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GRPCCapability) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Extract implements Capability.
func (c *GRPCCapability) Extract(ctx context.Context, req ExtractRequest) (*Extraction, error) {
	var out Extraction
	if err := c.call(ctx, methodExtract, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssessCoverage implements Capability.
func (c *GRPCCapability) AssessCoverage(ctx context.Context, req CoverageRequest) (*CoverageAssessment, error) {
	var out CoverageAssessment
	if err := c.call(ctx, methodAssessCoverage, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Interpret implements Capability.
func (c *GRPCCapability) Interpret(ctx context.Context, req InterpretRequest) (*RawInterpretation, error) {
	var out RawInterpretation
	if err := c.call(ctx, methodInterpret, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compose implements Capability.
func (c *GRPCCapability) Compose(ctx context.Context, req ComposeRequest) (*Composition, error) {
	var out Composition
	if err := c.call(ctx, methodCompose, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *GRPCCapability) call(ctx context.Context, method string, req, out any) error {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	in, err := toStruct(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	reply := &structpb.Struct{}
	if err := c.invoker.Invoke(ctx, method, in, reply); err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	if err := fromStruct(reply, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, out any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
