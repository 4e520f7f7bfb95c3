package register

import (
	"context"
	"fmt"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	stamerrors "github.com/xiaonanln/stam/util/errors"
)

const (
	deviceServiceName = "stam.register.RegisterDevice"
	readMethod        = "/" + deviceServiceName + "/Read"
	writeMethod       = "/" + deviceServiceName + "/Write"
)

// DeviceServer is the server API of the register device service.
//
// Requests are protobuf Structs with the fields "bank" (string), "index" (number)
// and, for Write, "value" (decimal string, so full int64 range survives the
// float64 representation of Struct numbers).
type DeviceServer interface {
	Read(context.Context, *structpb.Struct) (*wrapperspb.Int64Value, error)
	Write(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

var deviceServiceDesc = grpc.ServiceDesc{
	ServiceName: deviceServiceName,
	HandlerType: (*DeviceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Read", Handler: readHandler},
		{MethodName: "Write", Handler: writeHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterDeviceService exposes dev on s.
func RegisterDeviceService(s grpc.ServiceRegistrar, dev Gateway) {
	s.RegisterService(&deviceServiceDesc, &deviceService{dev: dev})
}

func readHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: readMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceServer).Read(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func writeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceServer).Write(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: writeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceServer).Write(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type deviceService struct {
	dev Gateway
}

func (s *deviceService) Read(ctx context.Context, req *structpb.Struct) (*wrapperspb.Int64Value, error) {
	bank, index, err := decodeSlot(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	v, err := s.dev.Read(ctx, bank, index)
	if err != nil {
		return nil, stamerrors.ToStatus(err)
	}
	return wrapperspb.Int64(v), nil
}

func (s *deviceService) Write(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	bank, index, err := decodeSlot(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	raw := req.GetFields()["value"].GetStringValue()
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid value %q", raw)
	}
	if err := s.dev.Write(ctx, bank, index, value); err != nil {
		return nil, stamerrors.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func encodeSlot(bank string, index uint32) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"bank":  structpb.NewStringValue(bank),
		"index": structpb.NewNumberValue(float64(index)),
	}}
}

func decodeSlot(req *structpb.Struct) (string, uint32, error) {
	fields := req.GetFields()
	bank := fields["bank"].GetStringValue()
	if bank == "" {
		return "", 0, fmt.Errorf("bank is required")
	}
	idx, ok := fields["index"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return "", 0, fmt.Errorf("index is required")
	}
	n := idx.NumberValue
	if n < 0 || n != float64(uint32(n)) {
		return "", 0, fmt.Errorf("invalid index %v", n)
	}
	return bank, uint32(n), nil
}
