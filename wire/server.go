package wire

import (
	"google.golang.org/grpc"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/replicate"
)

// RegisterAll registers PeekService and PushService on s, backed by a
// shared local store/ref-store pair and replicate.Engine, so a daemon
// binary can expose the full wire surface (plus transport/objrpc's
// FetchService, registered separately) with one call.
func RegisterAll(s grpc.ServiceRegistrar, blobs objstore.Store, refs objstore.RefStore, engine *replicate.Engine, identity IdentityLookup) {
	RegisterPeekServiceServer(s, &PeekServer{Blobs: blobs, Refs: refs})
	RegisterPushServiceServer(s, &PushServer{Engine: engine, Verifier: identity})
}
