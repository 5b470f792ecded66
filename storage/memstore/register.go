package memstore

import (
	"flag"

	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/storeregistry"
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:          "memory",
		Description:   "In-process store (contents are lost on exit)",
		Usage:         storeregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {},
		Open: func() (storage.Store, func() error, error) {
			return New(), nil, nil
		},
		OpenConfig: func(map[string]string) (storage.Store, func() error, error) {
			return New(), nil, nil
		},
	})
}
