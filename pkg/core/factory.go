package core

import (
	"context"

	"github.com/oceanbase/conceptgraph-go/pkg/logger"
	"github.com/oceanbase/conceptgraph-go/pkg/storage"
	"github.com/oceanbase/conceptgraph-go/pkg/storage/remote"
)

// OpenAdapter builds the adapter selected by cfg.Mode: an in-process Client
// for "local" or a remote.Client for "remote". Callers only see the
// storage.Adapter interface.
func OpenAdapter(ctx context.Context, cfg *Config, opts ...ClientOption) (storage.Adapter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Mode != ModeRemote {
		client, err := NewClient(ctx, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	log := o.log
	if log == nil {
		l, err := logger.New(cfg.LogMode)
		if err != nil {
			return nil, NewOpError("OpenAdapter", err)
		}
		log = l
	}
	client, err := remote.New(cfg.Remote, remote.WithLogger(log.With("component", "remote")))
	if err != nil {
		return nil, NewOpError("OpenAdapter", err)
	}
	return client, nil
}
