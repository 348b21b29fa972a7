package objrpc

import (
	"context"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/octofork/radlink/objstore"
)

// Client implements objstore.Store over the ObjectStore gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client ObjectStoreClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

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
	return &Client{cc: cc, client: NewObjectStoreClient(cc)}, nil
}

// NewClient wraps an already-established connection (e.g. one package
// wire dialed for its own services, or a bufconn connection in tests)
// as an objrpc.Client, instead of dialing a new one.
func NewClient(cc *grpc.ClientConn, timeout time.Duration) *Client {
	return &Client{cc: cc, client: NewObjectStoreClient(cc), Timeout: timeout}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Conn returns the underlying gRPC connection, so other hand-rolled
// services (package wire's PeekService/PushService) can multiplex
// their own stubs over the same one-session-per-peer connection
// spec.md §5 requires, instead of each dialing separately.
func (c *Client) Conn() *grpc.ClientConn {
	if c == nil {
		return nil
	}
	return c.cc
}

var _ objstore.Store = (*Client)(nil)

func (c *Client) Put(data []byte) (objstore.ID, error) {
	if c == nil || c.client == nil {
		return cid.Undef, objstore.ErrNotFound
	}
	expected, err := objstore.ComputeID(data)
	if err != nil {
		return cid.Undef, err
	}

	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.Put(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return cid.Undef, mapRPC(err)
	}
	id, err := cid.Decode(reply.GetValue())
	if err != nil || !id.Defined() {
		return cid.Undef, objstore.ErrInvalidID
	}
	if id.String() != expected.String() {
		return cid.Undef, objstore.ErrIDMismatch
	}
	return id, nil
}

func (c *Client) Get(id objstore.ID) ([]byte, error) {
	if !id.Defined() {
		return nil, objstore.ErrInvalidID
	}
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.Get(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	b := reply.GetValue()
	got, err := objstore.ComputeID(b)
	if err != nil {
		return nil, err
	}
	if got.String() != id.String() {
		return nil, objstore.ErrIDMismatch
	}
	return b, nil
}

func (c *Client) Has(id objstore.ID) bool {
	if !id.Defined() {
		return false
	}
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.Has(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return false
	}
	return reply.GetValue()
}

// GetBundle requests a single TAR bundle (package objstore/bundle)
// containing all of ids, trading one RPC for the N individual Gets a
// naive multi-object fetch would otherwise issue.
func (c *Client) GetBundle(ids []objstore.ID) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, objstore.ErrNotFound
	}
	lines := make([]string, len(ids))
	for i, id := range ids {
		if !id.Defined() {
			return nil, objstore.ErrInvalidID
		}
		lines[i] = id.String()
	}

	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.GetBundle(ctx, wrapperspb.Bytes([]byte(strings.Join(lines, "\n"))))
	if err != nil {
		return nil, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.Timeout)
}

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return objstore.ErrNotFound
	case codes.InvalidArgument:
		return objstore.ErrInvalidID
	case codes.DataLoss:
		return objstore.ErrIDMismatch
	default:
		switch st.Message() {
		case objstore.ErrNotFound.Error():
			return objstore.ErrNotFound
		case objstore.ErrInvalidID.Error():
			return objstore.ErrInvalidID
		case objstore.ErrIDMismatch.Error():
			return objstore.ErrIDMismatch
		default:
			return err
		}
	}
}
