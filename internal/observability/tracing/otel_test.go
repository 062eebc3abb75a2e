package tracing

import (
	"context"
	"testing"
)

func TestInitWithoutEndpointIsDisabled(t *testing.T) {
	p, err := Init(context.Background(), DefaultConfig("sismed-api"))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Enabled() {
		t.Fatal("expected tracing to be disabled without an endpoint")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
