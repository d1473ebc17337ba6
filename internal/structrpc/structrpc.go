// Package structrpc declares unary gRPC services whose requests and
// responses are google.protobuf.Struct documents.
package structrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handler serves one method. srv is the implementation registered with the
// service description.
type Handler func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// Method builds the grpc.MethodDesc for a Struct-to-Struct unary call.
func Method(service, name string, handler Handler) grpc.MethodDesc {
	fullMethod := FullMethod(service, name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return handler(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return handler(srv, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func FullMethod(service, name string) string {
	return "/" + service + "/" + name
}

// Invoke calls a Struct-to-Struct method and returns the response as a map.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, service, method string, req map[string]any) (map[string]any, error) {
	if req == nil {
		req = map[string]any{}
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, FullMethod(service, method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Response converts a plain document to a Struct.
func Response(doc map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(doc)
}

// String returns a string field of req, or "".
func String(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	if v, ok := req.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// Number returns a numeric field of req and whether it was present.
func Number(req *structpb.Struct, key string) (float64, bool) {
	if req == nil {
		return 0, false
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, false
	}
	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return 0, false
	}
	return v.GetNumberValue(), true
}
