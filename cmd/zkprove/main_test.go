package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"AIJudge-Chain/internal/proofs"
)

func TestEvidenceCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "evidence.bin")
	var stdout bytes.Buffer
	err := run(context.Background(), []string{"evidence", "--content", "BTC closed at 101k", "--salt", "0123456789abcdef", "--output", out}, &stdout)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := proofs.Commit([]byte("BTC closed at 101k"), []byte("0123456789abcdef"))
	if !strings.Contains(stdout.String(), want.Commitment.Hex()) {
		t.Fatalf("commitment missing from output:\n%s", stdout.String())
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(raw, want.PublicValues()) {
		t.Fatalf("unexpected public values file")
	}
}

func TestAnalysisCommand(t *testing.T) {
	var stdout bytes.Buffer
	err := run(context.Background(), []string{"ai-analysis", "--evidence", "e", "--ai-output", "YES. Confidence: 85%"}, &stdout)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"outcome:        YES", "confidence:     8500", proofs.Hash([]byte("e")).Hex()} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, stdout.String())
		}
	}

	stdout.Reset()
	err = run(context.Background(), []string{"ai-analysis", "--strict", "--evidence", "e", "--ai-output", "YES. Confidence: 85%"}, &stdout)
	if err != nil {
		t.Fatalf("run strict: %v", err)
	}
	if !strings.Contains(stdout.String(), "confidence:     5000") {
		t.Fatalf("strict policy should fall back to default confidence:\n%s", stdout.String())
	}
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		nil,
		{"unknown"},
		{"evidence", "--content", "x"},
		{"ai-analysis", "--evidence", "x"},
		{"evidence", "--bogus"},
	}
	for _, args := range cases {
		if err := run(context.Background(), args, &bytes.Buffer{}); !errors.Is(err, errUsage) {
			t.Fatalf("args %v: expected usage error, got %v", args, err)
		}
	}
}

func TestEmptyValuesAreAccepted(t *testing.T) {
	var stdout bytes.Buffer
	if err := run(context.Background(), []string{"evidence", "--content", "", "--salt", ""}, &stdout); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "valid_length:  true") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}
