package observability

import (
	"context"
	"io"
	"testing"
)

func TestInitThenShutdownDoesNotError(t *testing.T) {
	shutdown, err := Init(io.Discard)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}
