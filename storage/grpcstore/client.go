// Package grpcstore serves and consumes storage.Store over gRPC.
package grpcstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/certledger/address"
	"xdao.co/certledger/storage"
)

// Client implements storage.Store over a Store gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client StoreClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

var (
	_ storage.Store              = (*Client)(nil)
	_ storage.Lister             = (*Client)(nil)
	_ storage.AuthorizingCreator = (*Client)(nil)
)

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cc), nil
}

// NewClient wraps an existing connection.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, client: NewStoreClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Exists(ctx context.Context, addr address.Address) (bool, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Exists(ctx, wrapperspb.String(addr.String()))
	if err != nil {
		return false, mapRPC(err)
	}
	return reply.GetValue(), nil
}

// Create always fails against a server that checks authority; use
// CreateAuthorized.
func (c *Client) Create(ctx context.Context, addr address.Address, size int, payer address.Address) (storage.Handle, error) {
	return c.create(ctx, addr, size, payer, nil)
}

// CreateAuthorized sends the signed issuance request along with the allocation.
func (c *Client) CreateAuthorized(ctx context.Context, addr address.Address, size int, payer address.Address, auth storage.Authorization) (storage.Handle, error) {
	return c.create(ctx, addr, size, payer, &auth)
}

func (c *Client) create(ctx context.Context, addr address.Address, size int, payer address.Address, auth *storage.Authorization) (storage.Handle, error) {
	if err := storage.CheckCreate(addr, size, payer); err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"address": addr.String(),
		"payer":   payer.String(),
		"size":    size,
	}
	if auth != nil {
		proof, err := json.Marshal(auth.Proof)
		if err != nil {
			return nil, err
		}
		fields["proof"] = string(proof)
		fields["message"] = base64.StdEncoding.EncodeToString(auth.Message)
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Create(ctx, in)
	if err != nil {
		return nil, mapRPC(err)
	}
	return &handle{c: c, addr: addr, size: size, reservation: reply.GetValue()}, nil
}

func (c *Client) Read(ctx context.Context, addr address.Address) ([]byte, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Read(ctx, wrapperspb.String(addr.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) List(ctx context.Context) ([]address.Address, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.List(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, mapRPC(err)
	}
	out := make([]address.Address, 0, len(reply.GetValues()))
	for _, v := range reply.GetValues() {
		a, err := address.Parse(v.GetStringValue())
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

type handle struct {
	c           *Client
	addr        address.Address
	size        int
	reservation string
	done        bool
}

func (h *handle) Address() address.Address { return h.addr }

func (h *handle) Size() int { return h.size }

func (h *handle) Write(ctx context.Context, data []byte) error {
	if h.done {
		return storage.ErrHandleClosed
	}
	if err := storage.CheckWrite(h.size, data); err != nil {
		return err
	}
	in, err := structpb.NewStruct(map[string]interface{}{
		"reservation": h.reservation,
		"data":        base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return err
	}
	ctx, cancel := h.c.ctx(ctx)
	defer cancel()
	h.done = true
	if _, err := h.c.client.Write(ctx, in); err != nil {
		return mapRPC(err)
	}
	return nil
}

func (h *handle) Discard(ctx context.Context) error {
	if h.done {
		return nil
	}
	h.done = true
	ctx, cancel := h.c.ctx(ctx)
	defer cancel()
	if _, err := h.c.client.Discard(ctx, wrapperspb.String(h.reservation)); err != nil {
		return mapRPC(err)
	}
	return nil
}
