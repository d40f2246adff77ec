// Package grpcapi exposes the calculator over gRPC. Messages are protobuf
// well-known types, so the service needs no generated code and any client
// that speaks protobuf can call it by method name.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	longrunningpb "cloud.google.com/go/longrunning/autogen/longrunningpb"

	"github.com/lemonberrylabs/calculator/pkg/expr"
	"github.com/lemonberrylabs/calculator/pkg/store"
	"github.com/lemonberrylabs/calculator/pkg/tape"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

// ServiceName is the fully qualified calculator service name.
const ServiceName = "calculator.v1.Calculator"

// ErrorDomain is the domain reported in ErrorInfo details.
const ErrorDomain = "calculator.lemonberrylabs.dev"

// ReasonTapeParseError is the ErrorInfo reason for malformed tapes.
const ReasonTapeParseError = "TapeParseError"

// MaxOperations is the number of finished operations kept for GetOperation.
const MaxOperations = 1000

// CalculatorServer is the server API for the calculator service.
type CalculatorServer interface {
	Evaluate(context.Context, *wrapperspb.StringValue) (*wrapperspb.DoubleValue, error)
	Tokenize(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	RunTape(context.Context, *wrapperspb.StringValue) (*longrunningpb.Operation, error)
}

// ServiceDesc describes the calculator service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CalculatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "Tokenize", Handler: tokenizeHandler},
		{MethodName: "RunTape", Handler: runTapeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "calculator/v1/calculator.proto",
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Evaluate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CalculatorServer).Evaluate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func tokenizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).Tokenize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Tokenize"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CalculatorServer).Tokenize(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func runTapeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).RunTape(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RunTape"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CalculatorServer).RunTape(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements the calculator and long-running operations services.
type Server struct {
	longrunningpb.UnimplementedOperationsServer

	history   store.History
	maxDigits int
	logger    *slog.Logger

	mu     sync.RWMutex
	ops    map[string]*longrunningpb.Operation
	order  []string
	grpc   *grpc.Server
	health *health.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by the request interceptor.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxDigits sets the keypad digit limit used by tapes.
func WithMaxDigits(n int) Option {
	return func(s *Server) { s.maxDigits = n }
}

// New creates a gRPC server recording evaluations to history.
func New(history store.History, opts ...Option) *Server {
	srv := &Server{
		history: history,
		logger:  slog.Default(),
		ops:     make(map[string]*longrunningpb.Operation),
	}
	for _, opt := range opts {
		opt(srv)
	}

	gs := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(srv.logger)))
	gs.RegisterService(&ServiceDesc, srv)
	longrunningpb.RegisterOperationsServer(gs, srv)

	srv.health = health.NewServer()
	srv.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, srv.health)

	srv.grpc = gs
	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.grpc.Serve(lis)
}

// GracefulStop marks the service as not serving and stops the server once
// in-flight calls finish.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// --- Calculator Service ---

func (s *Server) Evaluate(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.DoubleValue, error) {
	result, err := expr.Evaluate(req.GetValue())
	if _, rerr := s.history.Record(ctx, store.NewEntry(store.SourceGRPC, req.GetValue(), result, err)); rerr != nil {
		s.logger.Warn("failed to record evaluation", "expression", req.GetValue(), "error", rerr)
	}
	if err != nil {
		return nil, StatusError(err)
	}
	return wrapperspb.Double(result), nil
}

func (s *Server) Tokenize(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	tokens, err := expr.Tokenize(req.GetValue())
	if err != nil {
		return nil, StatusError(err)
	}

	values := make([]*structpb.Value, len(tokens))
	for i, tok := range tokens {
		values[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"type":  structpb.NewStringValue(tok.Type.String()),
			"value": structpb.NewStringValue(tok.Value),
			"pos":   structpb.NewNumberValue(float64(tok.Pos)),
		}})
	}
	return &structpb.ListValue{Values: values}, nil
}

// RunTape parses the tape YAML in req, runs it and returns a completed
// operation whose response is the report as a google.protobuf.Struct.
func (s *Server) RunTape(ctx context.Context, req *wrapperspb.StringValue) (*longrunningpb.Operation, error) {
	t, err := tape.Parse([]byte(req.GetValue()))
	if err != nil {
		return nil, withReason(codes.InvalidArgument, err.Error(), ReasonTapeParseError, nil)
	}

	report, err := tape.Run(ctx, t, tape.Options{
		History:   s.history,
		MaxDigits: s.maxDigits,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}

	body, err := structpb.NewStruct(reportToMap(report))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode report: %v", err)
	}
	op, err := doneOperation("tape-"+uuid.New().String(), body)
	if err != nil {
		return nil, err
	}
	s.storeOperation(op)
	return op, nil
}

// --- Operations Service ---

// GetOperation returns a finished RunTape operation.
func (s *Server) GetOperation(ctx context.Context, req *longrunningpb.GetOperationRequest) (*longrunningpb.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[req.GetName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "operation %q not found", req.GetName())
	}
	return op, nil
}

// ListOperations returns stored operations, oldest first.
func (s *Server) ListOperations(ctx context.Context, req *longrunningpb.ListOperationsRequest) (*longrunningpb.ListOperationsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := &longrunningpb.ListOperationsResponse{}
	for _, name := range s.order {
		resp.Operations = append(resp.Operations, s.ops[name])
	}
	return resp, nil
}

// DeleteOperation forgets a stored operation.
func (s *Server) DeleteOperation(ctx context.Context, req *longrunningpb.DeleteOperationRequest) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ops[req.GetName()]; !ok {
		return nil, status.Errorf(codes.NotFound, "operation %q not found", req.GetName())
	}
	delete(s.ops, req.GetName())
	for i, name := range s.order {
		if name == req.GetName() {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) storeOperation(op *longrunningpb.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops[op.GetName()] = op
	s.order = append(s.order, op.GetName())
	if len(s.order) > MaxOperations {
		delete(s.ops, s.order[0])
		s.order = s.order[1:]
	}
}

// doneOperation wraps a proto message in an already-completed LRO Operation.
func doneOperation(name string, msg proto.Message) (*longrunningpb.Operation, error) {
	any, err := anypb.New(msg)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to marshal operation result: %v", err)
	}
	return &longrunningpb.Operation{
		Name: "operations/" + name,
		Done: true,
		Result: &longrunningpb.Operation_Response{
			Response: any,
		},
	}, nil
}

func reportToMap(r *tape.Report) map[string]any {
	steps := make([]any, len(r.Results))
	for i, res := range r.Results {
		step := map[string]any{
			"step":   res.Step.Label(),
			"input":  res.Step.Input(),
			"passed": res.Passed(),
		}
		if res.Display != "" {
			step["display"] = res.Display
		}
		if res.Failure != "" {
			step["failure"] = res.Failure
		}
		steps[i] = step
	}
	return map[string]any{
		"tape":   r.Tape,
		"passed": r.Passed,
		"failed": r.Failed,
		"ok":     r.OK(),
		"steps":  steps,
	}
}

// --- Errors ---

// StatusError converts an evaluation error into an InvalidArgument status
// carrying an ErrorInfo whose reason is the error kind.
func StatusError(err error) error {
	var ce *types.CalcError
	if !errors.As(err, &ce) {
		return status.Error(codes.Internal, err.Error())
	}
	meta := map[string]string{}
	if ce.Pos >= 0 {
		meta["position"] = strconv.Itoa(ce.Pos)
	}
	return withReason(codes.InvalidArgument, ce.Message, types.Kind(err), meta)
}

func withReason(code codes.Code, msg, reason string, meta map[string]string) error {
	st, err := status.New(code, msg).WithDetails(&errdetails.ErrorInfo{
		Reason:   reason,
		Domain:   ErrorDomain,
		Metadata: meta,
	})
	if err != nil {
		return status.Error(code, msg)
	}
	return st.Err()
}

// ErrorInfo returns the ErrorInfo detail of a status error, if any.
func ErrorInfo(err error) *errdetails.ErrorInfo {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return info
		}
	}
	return nil
}

// FromStatus turns a calculator status error back into a *types.CalcError
// so callers can match it with errors.Is. Other errors are returned as is.
func FromStatus(err error) error {
	info := ErrorInfo(err)
	if info == nil || !types.IsKnownTag(info.GetReason()) {
		return err
	}
	pos := -1
	if p, perr := strconv.Atoi(info.GetMetadata()["position"]); perr == nil {
		pos = p
	}
	return &types.CalcError{
		Message: status.Convert(err).Message(),
		Tags:    []string{info.GetReason()},
		Pos:     pos,
	}
}

// --- Interceptors ---

// LoggingInterceptor logs every unary call with its status code and latency.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		level := slog.LevelInfo
		if err != nil && status.Code(err) != codes.InvalidArgument && status.Code(err) != codes.NotFound {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "grpc request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"latency", time.Since(start))
		return resp, err
	}
}
