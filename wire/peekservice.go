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

// PeekServiceServer is the server API for the Peek gRPC service: one
// RPC taking a urn string and returning a canon.CBOR-encoded
// peekResponseWire.
type PeekServiceServer interface {
	Peek(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

type UnimplementedPeekServiceServer struct{}

func (UnimplementedPeekServiceServer) Peek(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Peek not implemented")
}

func RegisterPeekServiceServer(s grpc.ServiceRegistrar, srv PeekServiceServer) {
	s.RegisterService(&PeekService_ServiceDesc, srv)
}

type PeekServiceClient interface {
	Peek(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type peekServiceClient struct{ cc grpc.ClientConnInterface }

func NewPeekServiceClient(cc grpc.ClientConnInterface) PeekServiceClient {
	return &peekServiceClient{cc: cc}
}

func (c *peekServiceClient) Peek(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/radlink.wire.v1.PeekService/Peek", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _PeekService_Peek_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeekServiceServer).Peek(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/radlink.wire.v1.PeekService/Peek"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PeekServiceServer).Peek(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// PeekService_ServiceDesc is the grpc.ServiceDesc for the PeekService service.
var PeekService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "radlink.wire.v1.PeekService",
	HandlerType: (*PeekServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Peek", Handler: _PeekService_Peek_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "radlink/wire/peek.proto",
}

// PeekServer answers PeekService RPCs by reading a local RefStore/Store
// pair, grounded on replicate.Engine's own LocalRefs/Local split: the
// serving node's view of a urn's peers is exactly the same
// "namespaces/<urn>/remotes/<peer>/..." layout replicate.commit writes
// into when it replicates from someone else, plus whatever a local
// founder publishes into its own peer's subtree directly.
type PeekServer struct {
	UnimplementedPeekServiceServer
	Blobs objstore.Store
	Refs  objstore.RefStore
}

// PeekLocal builds a replicate.PeekResult from everything this node
// locally holds for u, across every peer subtree it knows about.
func (s *PeekServer) PeekLocal(u urn.URN) (replicate.PeekResult, error) {
	prefix := refPrefix(u)
	names, err := s.Refs.List(prefix)
	if err != nil {
		return replicate.PeekResult{}, errtax.Wrap(errtax.Storage, "WIRE-PEEK-LIST", "failed to list local refs", err)
	}

	peers := make(map[string]replicate.PeerAd)
	for _, name := range names {
		peer, leaf, ok := splitPeerLeaf(prefix, name)
		if !ok {
			continue
		}
		ad := peers[peer]
		switch leaf {
		case "rad/id":
			id, ok, err := s.Refs.Get(name)
			if err != nil {
				return replicate.PeekResult{}, errtax.Wrap(errtax.Storage, "WIRE-PEEK-ID", "failed to read identity tip ref", err)
			}
			if ok {
				ad.IdentityTip = id
			}
		case "rad/signed_refs":
			id, ok, err := s.Refs.Get(name)
			if err != nil {
				return replicate.PeekResult{}, errtax.Wrap(errtax.Storage, "WIRE-PEEK-REFS", "failed to read signed-refs ref", err)
			}
			if ok {
				b, err := s.Blobs.Get(id)
				if err != nil {
					return replicate.PeekResult{}, errtax.Wrap(errtax.Storage, "WIRE-PEEK-REFS-BLOB", "failed to load signed-refs blob", err)
				}
				ad.RefsManifest = b
			}
		case "rad/signed_refs.sig":
			id, ok, err := s.Refs.Get(name)
			if err != nil {
				return replicate.PeekResult{}, errtax.Wrap(errtax.Storage, "WIRE-PEEK-SIG", "failed to read signed-refs trailer ref", err)
			}
			if ok {
				b, err := s.Blobs.Get(id)
				if err != nil {
					return replicate.PeekResult{}, errtax.Wrap(errtax.Storage, "WIRE-PEEK-SIG-BLOB", "failed to load signed-refs trailer blob", err)
				}
				ad.RefsTrailer = string(b)
			}
		default:
			continue
		}
		peers[peer] = ad
	}

	return replicate.PeekResult{Peers: peers}, nil
}

// Peek implements PeekServiceServer.
func (s *PeekServer) Peek(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	result, err := s.PeekLocal(urn.URN(in.GetValue()))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	wireResp := peekResponseWire{Peers: make(map[string]peerAdWire, len(result.Peers))}
	for peer, ad := range result.Peers {
		wireResp.Peers[peer] = peerAdWire{
			IdentityTip:  idOrZero(ad.IdentityTip),
			RefsManifest: ad.RefsManifest,
			RefsTrailer:  ad.RefsTrailer,
		}
	}
	b, err := canon.EncodeCBOR(wireResp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(b), nil
}

// PeekClient implements the Peek half of replicate.Transport over the
// PeekService RPC.
type PeekClient struct {
	client PeekServiceClient
}

func NewPeekClient(cc grpc.ClientConnInterface) *PeekClient {
	return &PeekClient{client: NewPeekServiceClient(cc)}
}

// Peek implements replicate.Transport's Peek method.
func (c *PeekClient) Peek(ctx context.Context, t replicate.Target) (replicate.PeekResult, error) {
	reply, err := c.client.Peek(ctx, wrapperspb.String(string(t.URN)))
	if err != nil {
		return replicate.PeekResult{}, errtax.Wrap(errtax.Transport, "WIRE-PEEK-RPC", "peek rpc failed", err)
	}
	wireResp, err := canon.DecodeCBOR[peekResponseWire](reply.GetValue())
	if err != nil {
		return replicate.PeekResult{}, err
	}

	result := replicate.PeekResult{Peers: make(map[string]replicate.PeerAd, len(wireResp.Peers))}
	for peer, ad := range wireResp.Peers {
		tip, err := parseIDOrZero(ad.IdentityTip)
		if err != nil {
			return replicate.PeekResult{}, errtax.Wrap(errtax.Malformed, "WIRE-PEEK-BAD-TIP", "peer "+peer+" advertised an invalid identity tip", err)
		}
		result.Peers[peer] = replicate.PeerAd{
			IdentityTip:  tip,
			RefsManifest: ad.RefsManifest,
			RefsTrailer:  ad.RefsTrailer,
		}
	}
	return result, nil
}
