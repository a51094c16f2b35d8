package analysis

import (
	"context"
	"errors"
	"testing"
)

func TestStaticSource(t *testing.T) {
	src := StaticSource{Text: "YES. confidence: 90%"}
	got, err := src.Analyze(context.Background(), Request{Question: "q"})
	if err != nil || got != src.Text {
		t.Fatalf("unexpected result %q %v", got, err)
	}

	if _, err := (StaticSource{}).Analyze(context.Background(), Request{}); !errors.Is(err, ErrNoAnalysis) {
		t.Fatalf("expected ErrNoAnalysis, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Analyze(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestSourceFunc(t *testing.T) {
	var src Source = SourceFunc(func(_ context.Context, req Request) (string, error) {
		return "market " + req.MarketID, nil
	})
	got, err := src.Analyze(context.Background(), Request{MarketID: "7"})
	if err != nil || got != "market 7" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
}
