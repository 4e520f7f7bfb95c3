package coordination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xiaonanln/stam/events"
	stamerrors "github.com/xiaonanln/stam/util/errors"
	"github.com/xiaonanln/stam/util/logger"
	"github.com/xiaonanln/stam/util/metrics"
)

const (
	peerServiceName = "stam.coordination.Peer"
	adaptMethod     = "/" + peerServiceName + "/Adapt"

	// DefaultDisseminationTimeout bounds one Adapt call.
	DefaultDisseminationTimeout = 3 * time.Second
)

// Disseminator delivers an adaptation event to its peer.
type Disseminator interface {
	Disseminate(ctx context.Context, e AdaptationEvent) error
}

// PeerClient disseminates events over gRPC. Connections are created on first use
// and reused.
type PeerClient struct {
	addrs   map[string]string
	timeout time.Duration
	logger  *logger.Logger

	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	closed bool
}

var _ Disseminator = (*PeerClient)(nil)

// NewPeerClient creates a client that reaches peer id at addrs[id].
func NewPeerClient(self string, addrs map[string]string, timeout time.Duration) *PeerClient {
	if timeout <= 0 {
		timeout = DefaultDisseminationTimeout
	}
	cp := make(map[string]string, len(addrs))
	for id, a := range addrs {
		cp[id] = a
	}
	return &PeerClient{
		addrs:   cp,
		timeout: timeout,
		logger:  logger.NewLogger(fmt.Sprintf("PeerClient(%s)", self)),
		conns:   make(map[string]*grpc.ClientConn),
	}
}

func (c *PeerClient) conn(peer string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("peer client is closed")
	}
	if conn, ok := c.conns[peer]; ok {
		return conn, nil
	}
	addr, ok := c.addrs[peer]
	if !ok || addr == "" {
		return nil, fmt.Errorf("no address for peer %s", peer)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c.conns[peer] = conn
	c.logger.Debugf("Created connection to peer %s at %s", peer, addr)
	return conn, nil
}

// Disseminate sends e to e.Peer. Every failure is a DisseminationFailure.
func (c *PeerClient) Disseminate(ctx context.Context, e AdaptationEvent) error {
	conn, err := c.conn(e.Peer)
	if err != nil {
		return stamerrors.New(stamerrors.DisseminationFailure, "disseminate", e.Peer, err)
	}
	req, err := encodeEvent(e)
	if err != nil {
		return stamerrors.New(stamerrors.DisseminationFailure, "disseminate", e.Peer, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := conn.Invoke(ctx, adaptMethod, req, new(emptypb.Empty)); err != nil {
		return stamerrors.New(stamerrors.DisseminationFailure, "disseminate", e.Peer, err)
	}
	return nil
}

// Close closes every peer connection.
func (c *PeerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var firstErr error
	for id, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, id)
	}
	return firstErr
}

// HintHandler acts on adaptation events received from peers.
type HintHandler interface {
	HandleHint(ctx context.Context, e AdaptationEvent) error
}

// HintHandlerFunc adapts a function to HintHandler.
type HintHandlerFunc func(ctx context.Context, e AdaptationEvent) error

func (f HintHandlerFunc) HandleHint(ctx context.Context, e AdaptationEvent) error {
	return f(ctx, e)
}

// SinkHintHandler records each received hint as an event and a metric.
func SinkHintHandler(self string, sink events.Sink) HintHandler {
	return HintHandlerFunc(func(ctx context.Context, e AdaptationEvent) error {
		metrics.RecordHintReceived(self, e.Source)
		fields := e.fields()
		fields["source"] = e.Source
		return sink.Emit(ctx, events.New(self, events.KindHint, e.Source, fields))
	})
}

// PeerServer is the server API of the peer coordination service.
type PeerServer interface {
	Adapt(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: peerServiceName,
	HandlerType: (*PeerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Adapt", Handler: adaptHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func adaptHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServer).Adapt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: adaptMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerServer).Adapt(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterPeerService exposes the Adapt endpoint of controller self on s.
// Events are accepted only from controllers with a shared key in keys, addressed
// to self, on the channel derived for that direction.
func RegisterPeerService(s grpc.ServiceRegistrar, self string, keys KeyTable, handler HintHandler) {
	s.RegisterService(&peerServiceDesc, &peerService{
		self:    self,
		keys:    keys,
		handler: handler,
		logger:  logger.NewLogger(fmt.Sprintf("PeerService(%s)", self)),
	})
}

type peerService struct {
	self    string
	keys    KeyTable
	handler HintHandler
	logger  *logger.Logger
}

func (s *peerService) Adapt(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	e, err := decodeEvent(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if _, ok := s.keys.Lookup(e.Source); !ok {
		s.logger.Warnf("Rejected adaptation event from unauthenticated controller %s", e.Source)
		return nil, status.Errorf(codes.Unauthenticated, "controller %s is not authenticated", e.Source)
	}
	if e.Peer != s.self {
		return nil, status.Errorf(codes.InvalidArgument, "event addressed to %s, not %s", e.Peer, s.self)
	}
	if want := DeriveChannelID(e.Source, s.self); e.Channel != want {
		return nil, status.Errorf(codes.InvalidArgument, "unexpected channel %s for %s->%s", e.Channel, e.Source, s.self)
	}

	s.logger.Infof("Received adaptation hint from %s via %s: %s", e.Source, e.Channel, e.Hint)
	if s.handler != nil {
		if err := s.handler.HandleHint(ctx, e); err != nil {
			s.logger.Warnf("Hint handler failed for event %s: %v", e.ID, err)
		}
	}
	return &emptypb.Empty{}, nil
}
