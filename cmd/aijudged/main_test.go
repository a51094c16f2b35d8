package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"AIJudge-Chain/internal/auth"
	"AIJudge-Chain/internal/config"
	"AIJudge-Chain/internal/observability/alerting"
	"AIJudge-Chain/internal/proofs"
)

func TestBuildAnalyzer(t *testing.T) {
	capitalised := []byte("YES. Confidence: 80%")

	def := buildAnalyzer(config.JudgeConfig{})
	if got := def.Analyze(capitalised); got.Confidence != 8000 {
		t.Fatalf("default analyzer should read capitalised marker, got %d", got.Confidence)
	}

	strict := buildAnalyzer(config.JudgeConfig{StrictMarkers: true})
	if got := strict.Analyze(capitalised); got.Confidence != proofs.DefaultConfidence {
		t.Fatalf("strict analyzer should ignore capitalised marker, got %d", got.Confidence)
	}

	structured := buildAnalyzer(config.JudgeConfig{Structured: true})
	got := structured.Analyze([]byte(`{"outcome":"no","confidence":30}`))
	if got.Outcome != proofs.OutcomeNo || got.Confidence != 3000 {
		t.Fatalf("unexpected structured result: %+v", got)
	}
}

func TestBuildDispatcher(t *testing.T) {
	d := buildDispatcher(config.AlertingConfig{})
	if channels := d.Channels(); len(channels) != 1 || channels[0] != alerting.ChannelLog {
		t.Fatalf("unexpected channels: %v", channels)
	}
	d = buildDispatcher(config.AlertingConfig{WebhookURL: "http://127.0.0.1:9/hook", WebhookTimeoutSeconds: 1})
	if channels := d.Channels(); len(channels) != 2 {
		t.Fatalf("expected log and webhook channels, got %v", channels)
	}
}

func TestBuildMemoryBackends(t *testing.T) {
	cfg := config.Default(t.TempDir())
	ctx := context.Background()

	repo, err := buildAttestationRepository(ctx, cfg)
	if err != nil || repo == nil {
		t.Fatalf("memory repository: %v", err)
	}
	store, err := buildTaskStore(ctx, cfg)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	defer store.Close()
	queue, err := buildTaskQueue(ctx, cfg)
	if err != nil {
		t.Fatalf("memory queue: %v", err)
	}
	defer queue.Close()

	cfg.TaskQueue.Driver = "nats"
	if _, err := buildTaskQueue(ctx, cfg); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestIssueToken(t *testing.T) {
	cfg := auth.Config{
		Mode: auth.ModeJWT,
		JWT:  auth.JWTConfig{Secret: strings.Repeat("k", 32), Issuer: "aijudged"},
	}
	var out bytes.Buffer
	if err := issueToken(cfg, []string{"--subject", "oracle", "--perms", "attestations:submit,attestations:read", "--ttl", "10m"}, &out); err != nil {
		t.Fatalf("issue token: %v", err)
	}
	token := strings.TrimSpace(out.String())

	svc, err := auth.NewService(cfg)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	subject, err := svc.AuthenticateRequest("Bearer " + token)
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if subject.Name != "oracle" || subject.Authorize(auth.PermissionSubmit) != nil {
		t.Fatalf("unexpected subject: %+v", subject)
	}

	if err := issueToken(cfg, nil, &out); err == nil {
		t.Fatalf("expected error without subject")
	}
	if err := issueToken(auth.Config{Mode: auth.ModeDisabled}, []string{"--subject", "x"}, &out); err == nil {
		t.Fatalf("expected error when jwt mode is off")
	}
}
