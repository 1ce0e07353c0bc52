package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type entrypointTestConfig struct {
	Addr string `env:"CONCOURSE_ENTRYPOINT_TEST_ADDR" envDefault:":9999"`
}

func TestParseConfigRequiresTarget(t *testing.T) {
	if err := ParseConfig[entrypointTestConfig](nil); err == nil {
		t.Fatal("expected error for nil config target")
	}
}

func TestParseConfigLoadsEnvDefaults(t *testing.T) {
	var cfg entrypointTestConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
}

func TestParseArgsRequiresFlagSet(t *testing.T) {
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected error for nil flag set")
	}
}

func TestParseConfigFromArgsAppliesFlagOverrides(t *testing.T) {
	var cfg entrypointTestConfig
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	if err := ParseConfigFromArgs(&cfg, fs, []string{"-addr", ":1234"}); err != nil {
		t.Fatalf("parse config from args: %v", err)
	}
	if cfg.Addr != ":1234" {
		t.Fatalf("expected flag addr, got %q", cfg.Addr)
	}
}

func TestRunWithTelemetryRequiresService(t *testing.T) {
	err := RunWithTelemetry(context.Background(), " ", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestRunWithTelemetryRequiresRun(t *testing.T) {
	if err := RunWithTelemetry(context.Background(), ServiceSession, nil); err == nil {
		t.Fatal("expected error for nil run function")
	}
}

func TestRunWithTelemetryPropagatesRunError(t *testing.T) {
	t.Setenv("CONCOURSE_OTEL_ENDPOINT", "")
	wantErr := errors.New("run failed")
	err := RunWithTelemetry(context.Background(), ServiceSession, func(context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected run error, got %v", err)
	}
}
