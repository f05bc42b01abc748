package filestore

import (
	"context"
	"fmt"
)

// New builds the configured Store backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Mode {
	case ModeLocal, "":
		root := cfg.LocalRoot
		if root == "" {
			root = "./data/blobs"
		}
		return NewLocalStore(root)
	case ModeGCS, ModeGCSEmulator:
		return NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("filestore: unsupported mode %q", cfg.Mode)
	}
}
