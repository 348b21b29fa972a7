package ipfsstore

import (
	"flag"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/casregistry"
)

var flagBin string

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "ipfsstore",
		Description: "Kubo-CLI-backed object store mirror",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagBin, "ipfsstore-bin", "", "path to the ipfs binary (default: \"ipfs\")")
		},
		Open: func() (objstore.Store, func() error, error) {
			return New(Options{Bin: flagBin}), nil, nil
		},
	})
}
