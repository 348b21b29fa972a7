package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/octofork/radlink/canon"
	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/replicate"
	"github.com/octofork/radlink/urn"
)

// PushServiceServer is the server API for the mutual-sync gRPC service:
// one RPC taking a canon.CBOR-encoded pushRequestWire and returning a
// canon.CBOR-encoded pushResponseWire, realizing spec.md §6's
// update-request/status-report exchange as a single framed message
// instead of a literal pkt-line stream.
type PushServiceServer interface {
	Push(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

type UnimplementedPushServiceServer struct{}

func (UnimplementedPushServiceServer) Push(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Push not implemented")
}

func RegisterPushServiceServer(s grpc.ServiceRegistrar, srv PushServiceServer) {
	s.RegisterService(&PushService_ServiceDesc, srv)
}

type PushServiceClient interface {
	Push(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type pushServiceClient struct{ cc grpc.ClientConnInterface }

func NewPushServiceClient(cc grpc.ClientConnInterface) PushServiceClient {
	return &pushServiceClient{cc: cc}
}

func (c *pushServiceClient) Push(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/radlink.wire.v1.PushService/Push", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _PushService_Push_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PushServiceServer).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/radlink.wire.v1.PushService/Push"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PushServiceServer).Push(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// PushService_ServiceDesc is the grpc.ServiceDesc for the PushService service.
var PushService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "radlink.wire.v1.PushService",
	HandlerType: (*PushServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: _PushService_Push_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "radlink/wire/push.proto",
}

// PushServer answers PushService RPCs in the receiver role described by
// spec.md §4.6's mutual-sync variant, delegating to replicate.Engine.Receive
// for the actual Validate/Commit logic and using ProjectIdentityTip to
// decide whether the pushing peer is a delegate (any identity-fork
// detection here aborts the whole request, surfaced as pushResponseWire.Err,
// per spec.md §4.6).
type PushServer struct {
	UnimplementedPushServiceServer
	Engine   *replicate.Engine
	Verifier IdentityLookup
}

// IdentityLookup resolves the current identity attestation tip a
// PushServer should verify a pushing peer's delegate status against,
// for a given urn. Kept as an interface (rather than a concrete
// dependency on how the daemon tracks "its own" project tips) since
// that bookkeeping lives outside the core per spec.md's scope note on
// external collaborators.
type IdentityLookup interface {
	ProjectIdentityTip(u urn.URN) (objstore.ID, error)
}

func (s *PushServer) Push(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	req, err := canon.DecodeCBOR[pushRequestWire](in.GetValue())
	if err != nil {
		return encodePushErr(err)
	}

	objects := make(map[objstore.ID][]byte, len(req.Objects))
	for oidStr, b := range req.Objects {
		id, err := objstore.ParseID(oidStr)
		if err != nil {
			return encodePushErr(errtax.Wrap(errtax.Malformed, "WIRE-PUSH-BAD-OID", "push update named an invalid object id", err))
		}
		objects[id] = b
	}

	identityTip, err := parseIDOrZero(req.IdentityTip)
	if err != nil {
		return encodePushErr(errtax.Wrap(errtax.Malformed, "WIRE-PUSH-BAD-TIP", "push update named an invalid identity tip", err))
	}

	u := urn.URN(req.URN)
	delegate := false
	if s.Verifier != nil {
		tip, err := s.Verifier.ProjectIdentityTip(u)
		if err == nil && tip.Defined() {
			if result, err := s.Engine.Verifier.Verify(tip); err == nil {
				for _, key := range result.Delegations {
					if key == req.Peer {
						delegate = true
						break
					}
				}
			}
		}
	}

	result, err := s.Engine.Receive(u, req.Peer, replicate.PushUpdate{
		IdentityTip:  identityTip,
		RefsManifest: req.RefsManifest,
		RefsTrailer:  req.RefsTrailer,
		Objects:      objects,
	}, delegate)
	if err != nil {
		return encodePushErr(err)
	}

	resp := pushResponseWire{Accepted: result.Accepted, Reasons: result.Reasons}
	b, err := canon.EncodeCBOR(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(b), nil
}

// encodePushErr renders a whole-request abort as pushResponseWire.Err,
// per spec.md §6's "errors attributable to the whole request use an
// ERR <msg> line" rule — never returned as a gRPC error so the caller
// always gets a decodable response.
func encodePushErr(err error) (*wrapperspb.BytesValue, error) {
	resp := pushResponseWire{Err: err.Error()}
	b, encErr := canon.EncodeCBOR(resp)
	if encErr != nil {
		return nil, status.Error(codes.Internal, encErr.Error())
	}
	return wrapperspb.Bytes(b), nil
}

// PushClient implements the Push half of replicate.Transport over the
// PushService RPC.
type PushClient struct {
	client PushServiceClient
	// LocalPeer is the multibase id of the pushing peer, carried in
	// every PushUpdate so the receiver can look up its delegate status.
	LocalPeer string
}

func NewPushClient(cc grpc.ClientConnInterface, localPeer string) *PushClient {
	return &PushClient{client: NewPushServiceClient(cc), LocalPeer: localPeer}
}

// Push implements replicate.Transport's Push method.
func (c *PushClient) Push(ctx context.Context, t replicate.Target, update replicate.PushUpdate) (replicate.PushResult, error) {
	objects := make(map[string][]byte, len(update.Objects))
	for id, b := range update.Objects {
		objects[id.String()] = b
	}
	req := pushRequestWire{
		URN:          string(t.URN),
		Peer:         c.LocalPeer,
		RefsManifest: update.RefsManifest,
		RefsTrailer:  update.RefsTrailer,
		Objects:      objects,
		IdentityTip:  idOrZero(update.IdentityTip),
	}
	b, err := canon.EncodeCBOR(req)
	if err != nil {
		return replicate.PushResult{}, err
	}

	reply, err := c.client.Push(ctx, wrapperspb.Bytes(b))
	if err != nil {
		return replicate.PushResult{}, errtax.Wrap(errtax.Transport, "WIRE-PUSH-RPC", "push rpc failed", err)
	}
	resp, err := canon.DecodeCBOR[pushResponseWire](reply.GetValue())
	if err != nil {
		return replicate.PushResult{}, err
	}
	if resp.Err != "" {
		return replicate.PushResult{}, errtax.New(errtax.Transport, "WIRE-PUSH-ERR", resp.Err)
	}
	return replicate.PushResult{Accepted: resp.Accepted, Reasons: resp.Reasons}, nil
}
