package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/octofork/radlink/internal/daemonconfig"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/casconfig"
	"github.com/octofork/radlink/objstore/casregistry"
	"github.com/octofork/radlink/transport/objrpc"

	_ "github.com/octofork/radlink/objstore/fsstore"
	_ "github.com/octofork/radlink/objstore/ipfsstore"
)

func main() {
	fs := flag.NewFlagSet("radlink-objd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file; flags below override its values")
	listen := fs.String("listen", "", "listen address")
	backend := fs.String("backend", "", "object store backend name")
	storeConfig := fs.String("store-config", "", "path to a casconfig JSON file describing a multi-backend store topology; takes precedence over -backend")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")

	casregistry.RegisterFlags(fs, casregistry.UsageDaemon)

	_ = fs.Parse(os.Args[1:])
	if *listBackends {
		for _, b := range casregistry.List(casregistry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(os.Stdout, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(os.Stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := daemonconfig.Objd{Listen: "127.0.0.1:7777", Backend: "fsstore"}
	if *configPath != "" {
		loaded, err := daemonconfig.LoadObjd(*configPath)
		if err != nil {
			log.Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
		}
		cfg = *loaded
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *backend != "" {
		cfg.Backend = *backend
	}

	var store objstore.Store
	var closeFn func() error
	if *storeConfig != "" {
		topology, err := casconfig.LoadFile(*storeConfig)
		if err != nil {
			log.Fatal("failed to load store topology config", zap.String("path", *storeConfig), zap.Error(err))
		}
		store, _, closeFn, err = topology.Open(casregistry.UsageDaemon, *backend)
		if err != nil {
			log.Fatal("failed to open store topology", zap.String("path", *storeConfig), zap.Error(err))
		}
	} else {
		store, closeFn, err = casregistry.Open(cfg.Backend, casregistry.UsageDaemon)
		if err != nil {
			log.Fatal("failed to open object store backend", zap.String("backend", cfg.Backend), zap.Error(err))
		}
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatal("failed to listen", zap.String("address", cfg.Listen), zap.Error(err))
	}
	defer lis.Close()

	s := grpc.NewServer()
	objrpc.RegisterObjectStoreServer(s, &objrpc.Server{Store: store})

	log.Info("radlink-objd listening", zap.String("address", lis.Addr().String()), zap.String("backend", cfg.Backend))
	if err := s.Serve(lis); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
