package wakebus

import (
	"context"
	"testing"
)

func TestNoopBusIsSafeToUseUnconfigured(t *testing.T) {
	var b Bus = NoopBus{}
	if err := b.Wake(context.Background()); err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if err := b.Listen(context.Background(), func() {}); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewRejectsBlankAddr(t *testing.T) {
	if _, err := New(nil, "", "channel"); err == nil {
		t.Fatalf("expected an error for a blank redis addr")
	}
}
