package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/danmuck/deskterm/internal/credential"
	"github.com/rs/zerolog"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore builds the credential store selected by cfg. The closer releases
// the backing database when there is one.
func openStore(cfg clientConfig, logger zerolog.Logger) (*credential.Store, io.Closer, error) {
	opts := []credential.Option{credential.WithLogger(logger)}
	if cfg.SealKey != "" {
		sealer, err := credential.NewFernetSealer(cfg.SealKey)
		if err != nil {
			return nil, nil, fmt.Errorf("seal key: %w", err)
		}
		opts = append(opts, credential.WithSealer(sealer))
	}

	switch cfg.Store {
	case storeMemory:
		return credential.NewStore(credential.NewMemoryKV(), opts...), nopCloser{}, nil
	case storeSQLite:
		path := cfg.StorePath
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(dir, "deskterm", "credentials.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, err
		}
		kv, err := credential.OpenSQLiteKV(path)
		if err != nil {
			return nil, nil, err
		}
		return credential.NewStore(kv, opts...), kv, nil
	default:
		path := cfg.StorePath
		if path == "" {
			p, err := credential.DefaultFilePath()
			if err != nil {
				return nil, nil, err
			}
			path = p
		}
		return credential.NewStore(credential.NewFileKV(path), opts...), nopCloser{}, nil
	}
}
