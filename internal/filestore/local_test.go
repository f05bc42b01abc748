package filestore

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
)

func newLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return s
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	n, err := s.Put(ctx, "obj-1", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 11 {
		t.Fatalf("n = %d, want 11", n)
	}

	rc, err := s.Get(ctx, "obj-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(b) != "hello world" {
		t.Fatalf("content = %q", b)
	}
}

func TestAppendCreatesThenExtends(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "obj-1", []byte("line one\n")); err != nil {
		t.Fatalf("Append #1: %v", err)
	}
	if err := s.Append(ctx, "obj-1", []byte("line two\n")); err != nil {
		t.Fatalf("Append #2: %v", err)
	}

	rc, err := s.Get(ctx, "obj-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "line one\nline two\n" {
		t.Fatalf("content = %q", b)
	}
}

func TestOpenRangeRespectsOffsetAndLength(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "obj-1", strings.NewReader("0123456789")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := s.OpenRange(ctx, "obj-1", 2, 3)
	if err != nil {
		t.Fatalf("OpenRange: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "234" {
		t.Fatalf("content = %q, want %q", b, "234")
	}
}

func TestOpenRangeWithZeroLengthReadsToEOF(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "obj-1", strings.NewReader("0123456789")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := s.OpenRange(ctx, "obj-1", 5, 0)
	if err != nil {
		t.Fatalf("OpenRange: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "56789" {
		t.Fatalf("content = %q, want %q", b, "56789")
	}
}

func TestSizeReflectsWrittenBytes(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "obj-1", strings.NewReader("abcde")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	n, err := s.Size(ctx, "obj-1")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != 5 {
		t.Fatalf("Size = %d, want 5", n)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "obj-1", strings.NewReader("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "obj-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "obj-1"); err != nil {
		t.Fatalf("second Delete should be a no-op, got: %v", err)
	}
	if _, err := s.Get(ctx, "obj-1"); !os.IsNotExist(err) {
		t.Fatalf("expected the object to be gone, err = %v", err)
	}
}

func TestPathStripsDirectoryComponents(t *testing.T) {
	s := newLocalStore(t)
	if got := s.path("../../etc/passwd"); strings.Contains(got, "..") {
		t.Fatalf("path() leaked a traversal component: %q", got)
	}
}
