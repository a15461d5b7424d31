package tracing

import (
	"context"
	"testing"
)

func TestNewProviderDisabledIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Enabled() {
		t.Fatal("expected disabled provider")
	}
	tr := p.Tracer("test")
	_, span := tr.Start(context.Background(), "op")
	span.End() // must not panic on the noop tracer
}

func TestNewProviderStdoutEnabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: "stdout"}, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if !p.Enabled() {
		t.Fatal("expected enabled provider")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNewProviderUnsupportedExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}
