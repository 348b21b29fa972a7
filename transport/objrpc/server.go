package objrpc

import (
	"bytes"
	"context"
	"strings"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/bundle"
)

// Server exposes an objstore.Store over the ObjectStore gRPC service.
//
// MaxBytes, when non-zero, bounds the size of any single Get response; a
// larger object is refused with errtax.TransferTooLarge rather than being
// streamed, matching the FetchService byte-cap spec.md §5 requires.
type Server struct {
	UnimplementedObjectStoreServer
	Store    objstore.Store
	MaxBytes int
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	_ = ctx
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing object store")
	}
	b := in.GetValue()
	expected, err := objstore.ComputeID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "id computation failed")
	}
	id, err := s.Store.Put(b)
	if err != nil {
		return nil, mapErr(err)
	}
	if id.String() != expected.String() {
		return nil, status.Error(codes.DataLoss, objstore.ErrIDMismatch.Error())
	}
	return wrapperspb.String(id.String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing object store")
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, status.Error(codes.InvalidArgument, objstore.ErrInvalidID.Error())
	}
	b, err := s.Store.Get(id)
	if err != nil {
		return nil, mapErr(err)
	}
	if s.MaxBytes > 0 && len(b) > s.MaxBytes {
		return nil, status.Error(codes.ResourceExhausted, errtax.TransferTooLarge.String())
	}
	got, err := objstore.ComputeID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "id computation failed")
	}
	if got.String() != id.String() {
		return nil, status.Error(codes.DataLoss, objstore.ErrIDMismatch.Error())
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	_ = ctx
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing object store")
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, status.Error(codes.InvalidArgument, objstore.ErrInvalidID.Error())
	}
	return wrapperspb.Bool(s.Store.Has(id)), nil
}

// GetBundle decodes a newline-separated list of id strings from in and
// returns a deterministic TAR bundle (package objstore/bundle) containing
// all of them, so a caller fetching many objects at once can do it in one
// RPC instead of one Get per id.
func (s *Server) GetBundle(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing object store")
	}
	lines := strings.Split(strings.TrimSpace(string(in.GetValue())), "\n")
	ids := make([]objstore.ID, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		id, err := cid.Decode(l)
		if err != nil || !id.Defined() {
			return nil, status.Error(codes.InvalidArgument, objstore.ErrInvalidID.Error())
		}
		ids = append(ids, id)
	}

	var buf bytes.Buffer
	if err := bundle.Export(&buf, s.Store, ids, bundle.ExportOptions{}); err != nil {
		return nil, mapErr(err)
	}
	if s.MaxBytes > 0 && buf.Len() > s.MaxBytes {
		return nil, status.Error(codes.ResourceExhausted, errtax.TransferTooLarge.String())
	}
	return wrapperspb.Bytes(buf.Bytes()), nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case err == objstore.ErrNotFound:
		return status.Error(codes.NotFound, err.Error())
	case err == objstore.ErrInvalidID:
		return status.Error(codes.InvalidArgument, err.Error())
	case err == objstore.ErrIDMismatch:
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
