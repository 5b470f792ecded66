package sqlitestore

import (
	"flag"
	"fmt"

	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/storeregistry"
)

var flagPath string

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:        "sqlite",
		Description: "SQLite database file",
		Usage:       storeregistry.UsageCLI | storeregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagPath, "sqlite-path", "", "SQLite database path (for --backend=sqlite)")
		},
		Open: func() (storage.Store, func() error, error) {
			return open(flagPath)
		},
		OpenConfig: func(cfg map[string]string) (storage.Store, func() error, error) {
			return open(cfg["sqlite-path"])
		},
	})
}

func open(path string) (storage.Store, func() error, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("missing --sqlite-path")
	}
	s, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}
