package api

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCClient queries a running shape server over gRPC. It offers the same
// query methods as Client.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DialGRPC connects to the gRPC service at target without transport
// security. Extra options are applied after the defaults.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &GRPCClient{conn: conn}, nil
}

// Close releases the connection.
func (c *GRPCClient) Close() error { return c.conn.Close() }

// Similar ranks the remote database against one of its shapes.
func (c *GRPCClient) Similar(ctx context.Context, id string, k int) (*QueryResponse, error) {
	return c.invoke(ctx, grpcSimilarMethod, map[string]any{"id": id, "k": k})
}

// Query sends an OBJ stream and ranks the remote database against it.
func (c *GRPCClient) Query(ctx context.Context, obj io.Reader, k int) (*QueryResponse, error) {
	raw, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, grpcQueryMethod, map[string]any{"obj": string(raw), "k": k})
}

func (c *GRPCClient) invoke(ctx context.Context, method string, fields map[string]any) (*QueryResponse, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, reply); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return decodeResponse(reply)
}
