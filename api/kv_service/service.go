// Package kvservice serves the engine over gRPC as the pagedb.KV service.
// Messages are google.protobuf.Struct so no generated code is needed.
package kvservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/sushant-115/pagedb/core/indexing/btree"
	"github.com/sushant-115/pagedb/core/indexmanager"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "pagedb.KV"

// KVServer is the server API for the pagedb.KV service.
type KVServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Set(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Size(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Inspect(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(KVServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(KVServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(KVServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes pagedb.KV for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KVServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unaryHandler("Get", KVServer.Get)},
		{MethodName: "Set", Handler: unaryHandler("Set", KVServer.Set)},
		{MethodName: "Delete", Handler: unaryHandler("Delete", KVServer.Delete)},
		{MethodName: "Size", Handler: unaryHandler("Size", KVServer.Size)},
		{MethodName: "Inspect", Handler: unaryHandler("Inspect", KVServer.Inspect)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pagedb/kv.proto",
}

func RegisterKVServer(s grpc.ServiceRegistrar, srv KVServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Service implements KVServer on top of an IndexManager.
type Service struct {
	store  indexmanager.IndexManager
	logger *zap.Logger
}

var _ KVServer = (*Service)(nil)

func NewService(store indexmanager.IndexManager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger.Named("kv_service")}
}

// Get expects {"key"} and returns {"found", "value"}.
func (s *Service) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := requireString(req, "key")
	if err != nil {
		return nil, err
	}
	value, found, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, s.toStatus("Get", err)
	}
	return newStruct(map[string]interface{}{"found": found, "value": string(value)})
}

// Set expects {"key", "value"} and returns {"ok": true}.
func (s *Service) Set(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := requireString(req, "key")
	if err != nil {
		return nil, err
	}
	value := req.GetFields()["value"].GetStringValue()
	if err := s.store.Put(ctx, key, []byte(value)); err != nil {
		return nil, s.toStatus("Set", err)
	}
	return newStruct(map[string]interface{}{"ok": true})
}

// Delete expects {"key"} and returns {"deleted"}.
func (s *Service) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := requireString(req, "key")
	if err != nil {
		return nil, err
	}
	deleted, err := s.store.Delete(ctx, key)
	if err != nil {
		return nil, s.toStatus("Delete", err)
	}
	return newStruct(map[string]interface{}{"deleted": deleted})
}

func (s *Service) Size(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return newStruct(map[string]interface{}{"size": s.store.Size(ctx)})
}

// Inspect returns the full tree snapshot with the same field names the
// debug server uses.
func (s *Service) Inspect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap, err := s.store.Inspect(ctx)
	if err != nil {
		return nil, s.toStatus("Inspect", err)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, s.toStatus("Inspect", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, s.toStatus("Inspect", err)
	}
	return newStruct(fields)
}

// toStatus maps engine errors to gRPC codes. Entries that can never fit in a
// page are the caller's fault; anything else is internal.
func (s *Service) toStatus(method string, err error) error {
	if errors.Is(err, btree.ErrEntryTooLarge) {
		s.logger.Warn("KV request rejected", zap.String("method", method), zap.Error(err))
		return status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Error("KV request failed", zap.String("method", method), zap.Error(err))
	return status.Error(codes.Internal, err.Error())
}

func requireString(req *structpb.Struct, field string) (string, error) {
	v, ok := req.GetFields()[field]
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "%s must be a string", field)
	}
	return sv.StringValue, nil
}

func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return st, nil
}

// Serve runs a gRPC server with the KV service on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, svc KVServer, logger *zap.Logger, opts ...grpc.ServerOption) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	grpcServer := grpc.NewServer(opts...)
	RegisterKVServer(grpcServer, svc)

	stop := context.AfterFunc(ctx, grpcServer.GracefulStop)
	defer stop()

	logger.Info("gRPC server starting", zap.String("address", ln.Addr().String()))
	if err := grpcServer.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	logger.Info("gRPC server stopped gracefully.")
	return nil
}
