// Package filestore provides content-addressed blob storage for batch input,
// output, and error files, behind a single interface with a local-disk
// backend (dev/test) and a GCS backend (production).
package filestore

import (
	"context"
	"io"
)

// Store is the content-addressed blob contract. Every method is keyed by
// the opaque file id the Store (internal/store) assigns at creation time;
// filestore itself never generates ids.
type Store interface {
	// Put writes the full contents of r under id, returning the byte count
	// written. Overwriting an existing id is permitted (used by the worker
	// to append output/error bytes across chunk checkpoints via Append).
	Put(ctx context.Context, id string, r io.Reader) (int64, error)

	// Append writes b to the end of the object named id, creating it if
	// absent. Used by the worker to flush output/error buffers after each
	// chunk without re-uploading everything written so far.
	Append(ctx context.Context, id string, b []byte) error

	// Get opens the full object for reading.
	Get(ctx context.Context, id string) (io.ReadCloser, error)

	// OpenRange opens length bytes starting at offset; length<=0 means "to EOF".
	OpenRange(ctx context.Context, id string, offset, length int64) (io.ReadCloser, error)

	// Size returns the current byte length of id, or an error if absent.
	Size(ctx context.Context, id string) (int64, error)

	Delete(ctx context.Context, id string) error
}

// Mode selects a Store backend.
type Mode string

const (
	ModeLocal       Mode = "local"
	ModeGCS         Mode = "gcs"
	ModeGCSEmulator Mode = "gcs_emulator"
)

type Config struct {
	Mode         Mode
	LocalRoot    string
	GCSBucket    string
	EmulatorHost string
}
