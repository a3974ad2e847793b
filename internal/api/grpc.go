package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/shape.search/internal/catalog"
	"github.com/banshee-data/shape.search/internal/mesh"
	"github.com/banshee-data/shape.search/internal/monitoring"
	"github.com/banshee-data/shape.search/internal/retrieval"
)

// GRPCServiceName is the fully qualified name of the similarity service.
// Requests and responses are google.protobuf.Struct messages carrying the
// same fields as the JSON API.
const GRPCServiceName = "shapes.ShapeSearch"

const (
	grpcSimilarMethod = "/" + GRPCServiceName + "/Similar"
	grpcQueryMethod   = "/" + GRPCServiceName + "/Query"

	// grpcEnvelopeBytes is the message overhead allowed on top of the
	// upload limit.
	grpcEnvelopeBytes = 1 << 20
)

// shapeSearchServer is the handler type of the service.
//
// Similar takes {"id": "<category>/<filename>", "k": n}.
// Query takes {"obj": "<OBJ text>", "k": n}.
// Both answer with a QueryResponse encoded as a Struct.
type shapeSearchServer interface {
	Similar(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var shapeSearchServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*shapeSearchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Similar", Handler: similarHandler},
		{MethodName: "Query", Handler: queryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shapes.proto",
}

func similarHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(shapeSearchServer).Similar(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcSimilarMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(shapeSearchServer).Similar(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func queryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(shapeSearchServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcQueryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(shapeSearchServer).Query(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcService answers the gRPC methods from the server's engine.
type grpcService struct {
	s *Server
}

var _ shapeSearchServer = grpcService{}

func (g grpcService) Similar(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "missing 'id'")
	}
	k, err := structK(req)
	if err != nil {
		return nil, err
	}
	matches, err := g.s.engine.QueryByID(ctx, id, k)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeResponse(QueryResponse{Query: id, K: len(matches), Matches: matches})
}

func (g grpcService) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	obj := req.GetFields()["obj"].GetStringValue()
	if int64(len(obj)) > g.s.maxUpload {
		return nil, status.Errorf(codes.ResourceExhausted, "obj exceeds %d bytes", g.s.maxUpload)
	}
	k, err := structK(req)
	if err != nil {
		return nil, err
	}
	m, err := mesh.ParseOBJ(bytes.NewReader([]byte(obj)))
	if err != nil {
		return nil, grpcError(err)
	}
	matches, err := g.s.engine.QueryMesh(ctx, m, k)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeResponse(QueryResponse{Query: queryName(m), K: len(matches), Matches: matches})
}

// structK reads the optional k field. Zero means the configured default.
func structK(req *structpb.Struct) (int, error) {
	v, ok := req.GetFields()["k"]
	if !ok {
		return 0, nil
	}
	n := v.GetNumberValue()
	if n < 0 || n != float64(int(n)) {
		return 0, status.Errorf(codes.InvalidArgument, "invalid 'k' %v", n)
	}
	return int(n), nil
}

// encodeResponse converts resp to a Struct through its JSON form, so both
// transports share one field layout.
func encodeResponse(resp QueryResponse) (*structpb.Struct, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func decodeResponse(in *structpb.Struct) (*QueryResponse, error) {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, err
	}
	var out QueryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// grpcError maps errors to status codes the same way writeError maps them
// to HTTP statuses.
func grpcError(err error) error {
	var parseErr *mesh.ParseError
	switch {
	case errors.Is(err, catalog.ErrShapeNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &parseErr), errors.Is(err, mesh.ErrNoVertices):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, retrieval.ErrEmptyIndex):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

func grpcLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	monitoring.Debugf("[gRPC] %s %s %s", info.FullMethod, status.Code(err), time.Since(start).Round(time.Microsecond))
	return resp, err
}

// NewGRPCServer returns a gRPC server with the similarity service
// registered. The caller serves and stops it.
func (s *Server) NewGRPCServer() *grpc.Server {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(int(s.maxUpload)+grpcEnvelopeBytes),
		grpc.UnaryInterceptor(grpcLoggingInterceptor),
	)
	gs.RegisterService(&shapeSearchServiceDesc, grpcService{s: s})
	return gs
}

// StartGRPC serves the gRPC service on addr until ctx is cancelled, then
// stops gracefully.
func (s *Server) StartGRPC(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC is StartGRPC on an existing listener.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	gs := s.NewGRPCServer()
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting gRPC server on %s", lis.Addr())
		errc <- gs.Serve(lis)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	gs.GracefulStop()
	monitoring.Logf("gRPC server stopped")
	return nil
}
