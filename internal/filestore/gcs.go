package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore stores every file as one object in a single bucket, keyed by id.
// It mirrors the project's existing bucket-service emulator/real-mode split,
// collapsed from two named buckets (avatar/material) to the one this system
// needs (batch files).
type GCSStore struct {
	client       *storage.Client
	bucket       string
	emulatorMode bool
	emulatorHost string
}

func NewGCSStore(ctx context.Context, cfg Config) (*GCSStore, error) {
	if strings.TrimSpace(cfg.GCSBucket) == "" {
		return nil, fmt.Errorf("filestore: gcs bucket name required")
	}

	var client *storage.Client
	var err error
	emulator := cfg.Mode == ModeGCSEmulator
	if emulator {
		host := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		if host == "" {
			return nil, fmt.Errorf("filestore: gcs_emulator mode requires EmulatorHost")
		}
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
		client, err = storage.NewClient(ctx, option.WithoutAuthentication())
	} else {
		client, err = storage.NewClient(ctx, clientOptionsFromEnv()...)
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: create storage client: %w", err)
	}

	return &GCSStore{
		client:       client,
		bucket:       cfg.GCSBucket,
		emulatorMode: emulator,
		emulatorHost: strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"),
	}, nil
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func (s *GCSStore) Put(ctx context.Context, id string, r io.Reader) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	w := s.client.Bucket(s.bucket).Object(id).NewWriter(ctx2)
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("filestore: write %s: %w", id, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("filestore: close writer %s: %w", id, err)
	}
	return n, nil
}

// Append reads the existing object (if any) and rewrites it with b appended,
// since GCS objects are immutable once finalized. Acceptable here because
// flushes happen once per chunk, not per record.
func (s *GCSStore) Append(ctx context.Context, id string, b []byte) error {
	var existing bytes.Buffer
	if rc, err := s.Get(ctx, id); err == nil {
		_, _ = io.Copy(&existing, rc)
		_ = rc.Close()
	} else if !isNotExist(err) {
		return err
	}
	existing.Write(b)
	_, err := s.Put(ctx, id, &existing)
	return err
}

func (s *GCSStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if s.emulatorMode {
		return s.emulatorGet(ctx, id, 0, 0)
	}
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := s.client.Bucket(s.bucket).Object(id).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnClose{ReadCloser: r, cancel: cancel}, nil
}

func (s *GCSStore) OpenRange(ctx context.Context, id string, offset, length int64) (io.ReadCloser, error) {
	if s.emulatorMode {
		return s.emulatorGet(ctx, id, offset, length)
	}
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := s.client.Bucket(s.bucket).Object(id).NewRangeReader(ctx2, offset, length)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnClose{ReadCloser: r, cancel: cancel}, nil
}

func (s *GCSStore) Size(ctx context.Context, id string) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := s.client.Bucket(s.bucket).Object(id).Attrs(ctx2)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (s *GCSStore) Delete(ctx context.Context, id string) error {
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := s.client.Bucket(s.bucket).Object(id).Delete(ctx2)
	if isNotExist(err) {
		return nil
	}
	return err
}

func (s *GCSStore) emulatorGet(ctx context.Context, id string, offset, length int64) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", s.emulatorHost, url.PathEscape(s.bucket), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx2, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	if offset > 0 || length > 0 {
		if length > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("filestore: emulator get %s: status=%d body=%s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func isNotExist(err error) bool {
	return err == storage.ErrObjectNotExist
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}
