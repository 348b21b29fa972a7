// Command radlink-syncd runs the replication engine's server side: it
// serves FetchService (transport/objrpc), PeekService, and PushService
// (package wire) over one gRPC listener, backed by either a plain
// filesystem object store and ref store under -root, or, via
// -store-config, a casconfig topology (e.g. a local fsstore mirrored to
// an ipfsstore backend) plus its refs_dir.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/octofork/radlink/identity"
	"github.com/octofork/radlink/internal/daemonconfig"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/casconfig"
	"github.com/octofork/radlink/objstore/casregistry"
	"github.com/octofork/radlink/objstore/fsstore"
	"github.com/octofork/radlink/replicate"
	"github.com/octofork/radlink/tracking"
	"github.com/octofork/radlink/transport/objrpc"
	"github.com/octofork/radlink/wire"

	_ "github.com/octofork/radlink/objstore/ipfsstore"
)

func main() {
	fs := flag.NewFlagSet("radlink-syncd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file; flags below override its values")
	listen := fs.String("listen", "", "listen address")
	root := fs.String("root", "", "filesystem root for objects and refs (ignored if -store-config is set)")
	storeConfig := fs.String("store-config", "", "path to a casconfig JSON file describing a multi-backend blob+ref topology; takes precedence over -root")
	backend := fs.String("backend", "", "preferred blob backend name within -store-config's topology")
	selfPeer := fs.String("self-peer", "", "this node's own multibase peer id, for resolving its own identity tip on incoming pushes")
	maxBytes := fs.Int64("max-bytes", 0, "fetch phase byte cap; 0 means unbounded")

	_ = fs.Parse(os.Args[1:])

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := daemonconfig.Syncd{Listen: "127.0.0.1:7778"}
	if *configPath != "" {
		loaded, err := daemonconfig.LoadSyncd(*configPath)
		if err != nil {
			log.Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
		}
		cfg = *loaded
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *selfPeer != "" {
		cfg.SelfPeer = *selfPeer
	}
	if *maxBytes != 0 {
		cfg.MaxBytes = *maxBytes
	}
	var blobs objstore.Store
	var refs objstore.RefStore
	if *storeConfig != "" {
		topology, err := casconfig.LoadFile(*storeConfig)
		if err != nil {
			log.Fatal("failed to load store topology config", zap.String("path", *storeConfig), zap.Error(err))
		}
		var closeFn func() error
		blobs, refs, closeFn, err = topology.Open(casregistry.UsageDaemon, *backend)
		if err != nil {
			log.Fatal("failed to open store topology", zap.String("path", *storeConfig), zap.Error(err))
		}
		if refs == nil {
			log.Fatal("store topology config has no refs_dir, but radlink-syncd requires a ref store", zap.String("path", *storeConfig))
		}
		if closeFn != nil {
			defer closeFn()
		}
	} else {
		if cfg.Root == "" {
			log.Fatal("-root (or config root:) is required when -store-config is not set")
		}
		fsBlobs, err := fsstore.New(cfg.Root + "/objects")
		if err != nil {
			log.Fatal("failed to open object store", zap.Error(err))
		}
		fsRefs, err := fsstore.NewRefs(cfg.Root + "/refs")
		if err != nil {
			log.Fatal("failed to open ref store", zap.Error(err))
		}
		blobs, refs = fsBlobs, fsRefs
	}

	engine := &replicate.Engine{
		Local:     blobs,
		LocalRefs: refs,
		Verifier:  identity.NewVerifier(blobs),
		Tracking:  &tracking.Store{Blobs: blobs, Refs: refs},
		MaxBytes:  cfg.MaxBytes,
		Logger:    log,
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatal("failed to listen", zap.String("address", cfg.Listen), zap.Error(err))
	}
	defer lis.Close()

	s := grpc.NewServer()
	objrpc.RegisterObjectStoreServer(s, &objrpc.Server{Store: blobs, MaxBytes: int(cfg.MaxBytes)})
	wire.RegisterAll(s, blobs, refs, engine, wire.SelfIdentityLookup{Refs: refs, SelfPeer: cfg.SelfPeer})

	log.Info("radlink-syncd listening", zap.String("address", lis.Addr().String()), zap.String("root", cfg.Root))
	if err := s.Serve(lis); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
