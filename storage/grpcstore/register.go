package grpcstore

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/storeregistry"
)

var (
	flagTarget      string
	flagDialTimeout time.Duration
	flagTimeout     time.Duration
	flagMaxMsgBytes int
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:        "grpc",
		Description: "gRPC store client (talks to a certledgerd store service)",
		Usage:       storeregistry.UsageCLI | storeregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagTarget, "grpc-target", "", "gRPC target host:port (for --backend=grpc)")
			fs.DurationVar(&flagDialTimeout, "grpc-dial-timeout", 5*time.Second, "Dial timeout (for --backend=grpc)")
			fs.DurationVar(&flagTimeout, "grpc-timeout", 0, "Per-RPC timeout (for --backend=grpc)")
			fs.IntVar(&flagMaxMsgBytes, "grpc-max-msg-bytes", 0, "Max gRPC message size in bytes (send+recv); 0 uses grpc defaults")
		},
		Open: func() (storage.Store, func() error, error) {
			return open(flagTarget, DialOptions{Timeout: flagDialTimeout, MaxMsgBytes: flagMaxMsgBytes}, flagTimeout)
		},
		OpenConfig: func(cfg map[string]string) (storage.Store, func() error, error) {
			opts := DialOptions{Timeout: 5 * time.Second}
			var rpcTimeout time.Duration
			var err error
			if v := cfg["grpc-dial-timeout"]; v != "" {
				if opts.Timeout, err = time.ParseDuration(v); err != nil {
					return nil, nil, fmt.Errorf("grpc-dial-timeout: %w", err)
				}
			}
			if v := cfg["grpc-timeout"]; v != "" {
				if rpcTimeout, err = time.ParseDuration(v); err != nil {
					return nil, nil, fmt.Errorf("grpc-timeout: %w", err)
				}
			}
			if v := cfg["grpc-max-msg-bytes"]; v != "" {
				if opts.MaxMsgBytes, err = strconv.Atoi(v); err != nil {
					return nil, nil, fmt.Errorf("grpc-max-msg-bytes: %w", err)
				}
			}
			return open(cfg["grpc-target"], opts, rpcTimeout)
		},
	})
}

func open(target string, opts DialOptions, rpcTimeout time.Duration) (storage.Store, func() error, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, nil, fmt.Errorf("missing --grpc-target")
	}
	client, err := Dial(target, opts)
	if err != nil {
		return nil, nil, err
	}
	client.Timeout = rpcTimeout
	return client, client.Close, nil
}
