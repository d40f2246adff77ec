package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	longrunningpb "cloud.google.com/go/longrunning/autogen/longrunningpb"

	"github.com/lemonberrylabs/calculator/pkg/expr"
)

// Client calls the calculator service over a gRPC connection.
type Client struct {
	conn *grpc.ClientConn
	ops  longrunningpb.OperationsClient
}

// Dial connects to a calculator server without transport security.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, ops: longrunningpb.NewOperationsClient(conn)}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Evaluate evaluates an expression remotely. Calculator errors come back as
// *types.CalcError.
func (c *Client) Evaluate(ctx context.Context, expression string, opts ...grpc.CallOption) (float64, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Evaluate", wrapperspb.String(expression), out, opts...); err != nil {
		return 0, FromStatus(err)
	}
	return out.GetValue(), nil
}

// Tokenize tokenizes an expression remotely.
func (c *Client) Tokenize(ctx context.Context, expression string, opts ...grpc.CallOption) ([]expr.Token, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Tokenize", wrapperspb.String(expression), out, opts...); err != nil {
		return nil, FromStatus(err)
	}

	tokens := make([]expr.Token, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		fields := v.GetStructValue().GetFields()
		typ, ok := expr.ParseTokenType(fields["type"].GetStringValue())
		if !ok {
			return nil, fmt.Errorf("unknown token type %q", fields["type"].GetStringValue())
		}
		tokens = append(tokens, expr.Token{
			Type:  typ,
			Value: fields["value"].GetStringValue(),
			Pos:   int(fields["pos"].GetNumberValue()),
		})
	}
	return tokens, nil
}

// RunTape runs a tape given as YAML and returns the finished operation.
func (c *Client) RunTape(ctx context.Context, source string, opts ...grpc.CallOption) (*longrunningpb.Operation, error) {
	out := new(longrunningpb.Operation)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/RunTape", wrapperspb.String(source), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Report decodes the tape report carried by a RunTape operation.
func Report(op *longrunningpb.Operation) (*structpb.Struct, error) {
	if !op.GetDone() {
		return nil, fmt.Errorf("operation %q is not done", op.GetName())
	}
	if e := op.GetError(); e != nil {
		return nil, fmt.Errorf("operation %q failed: %s", op.GetName(), e.GetMessage())
	}
	report := new(structpb.Struct)
	if err := op.GetResponse().UnmarshalTo(report); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return report, nil
}

// GetOperation fetches a stored operation by name.
func (c *Client) GetOperation(ctx context.Context, name string) (*longrunningpb.Operation, error) {
	return c.ops.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: name})
}

// Healthy reports whether the server says the calculator service is serving.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
