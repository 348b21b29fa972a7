package fsstore

import (
	"flag"
	"fmt"

	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/casregistry"
)

var flagDir string

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "fsstore",
		Description: "Local filesystem object store (directory)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagDir, "fsstore-dir", "", "fsstore directory (for --backend=fsstore)")
		},
		Open: func() (objstore.Store, func() error, error) {
			if flagDir == "" {
				return nil, nil, fmt.Errorf("missing --fsstore-dir")
			}
			s, err := New(flagDir)
			return s, nil, err
		},
	})
}
