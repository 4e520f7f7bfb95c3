package register

import (
	"context"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	stamerrors "github.com/xiaonanln/stam/util/errors"
	"github.com/xiaonanln/stam/util/metrics"
)

// DefaultCallTimeout bounds a single register RPC when the caller's context has no deadline.
const DefaultCallTimeout = 2 * time.Second

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.callTimeout = d }
}

// WithMetricsLabel sets the controller label used for register metrics.
func WithMetricsLabel(controller string) ClientOption {
	return func(c *Client) { c.label = controller }
}

// Client is a Gateway backed by a gRPC connection to the device's register service.
// Calls are serialized on the connection.
type Client struct {
	addr        string
	layout      Layout
	callTimeout time.Duration
	label       string

	mu     sync.Mutex
	conn   *grpc.ClientConn
	closed bool
}

var _ Gateway = (*Client)(nil)

// Dial creates a client for the device at addr. The connection is established lazily,
// so a device that is not up yet surfaces as DeviceUnavailable on the first call.
func Dial(addr string, layout Layout, opts ...ClientOption) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, stamerrors.New(stamerrors.DeviceUnavailable, "dial", addr, err)
	}
	c := &Client{
		addr:        addr,
		layout:      layout,
		callTimeout: DefaultCallTimeout,
		conn:        conn,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Addr returns the device address.
func (c *Client) Addr() string {
	return c.addr
}

// Layout returns the bank layout the client checks indices against.
func (c *Client) Layout() Layout {
	return c.layout
}

// Read returns bank[index] from the device.
func (c *Client) Read(ctx context.Context, bank string, index uint32) (int64, error) {
	if err := c.layout.Check("read", bank, index); err != nil {
		return 0, err
	}
	out := new(wrapperspb.Int64Value)
	if err := c.invoke(ctx, readMethod, "read", bank, index, encodeSlot(bank, index), out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// Write sets bank[index] on the device.
func (c *Client) Write(ctx context.Context, bank string, index uint32, value int64) error {
	if err := c.layout.Check("write", bank, index); err != nil {
		return err
	}
	req := encodeSlot(bank, index)
	req.Fields["value"] = structpb.NewStringValue(strconv.FormatInt(value, 10))
	return c.invoke(ctx, writeMethod, "write", bank, index, req, new(emptypb.Empty))
}

// Ping reads server_weights[0] to confirm the device answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Read(ctx, ServerWeights, 0)
	return err
}

// Close releases the connection. Subsequent calls fail with DeviceUnavailable.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method, op, bank string, index uint32, req, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		metrics.RecordRegisterOp(c.label, bank, op, "closed")
		return stamerrors.New(stamerrors.DeviceUnavailable, op, Slot(bank, index), errConnClosed(c.addr))
	}

	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	if err := c.conn.Invoke(ctx, method, req, out); err != nil {
		metrics.RecordRegisterOp(c.label, bank, op, "error")
		return stamerrors.FromStatus(err, stamerrors.DeviceUnavailable, op, Slot(bank, index))
	}
	metrics.RecordRegisterOp(c.label, bank, op, "ok")
	return nil
}
