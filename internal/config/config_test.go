package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("RVM_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StackPrefix != "rvm-provisioned" {
		t.Fatalf("unexpected stack prefix: %q", cfg.StackPrefix)
	}
	if cfg.WorkflowRole != "RvmWorkflowRole" {
		t.Fatalf("unexpected workflow role: %q", cfg.WorkflowRole)
	}
	if len(cfg.Capabilities) != 1 || cfg.Capabilities[0] != "CAPABILITY_NAMED_IAM" {
		t.Fatalf("unexpected capabilities: %v", cfg.Capabilities)
	}
	if cfg.AccountConcurrency != 1 {
		t.Fatalf("unexpected account concurrency: %d", cfg.AccountConcurrency)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"RVM_DELETE_WAIT_TIMEOUT": "30minutes",
		"RVM_ACCOUNT_CONCURRENCY": "four",
		"SHUTDOWN_TIMEOUT":        "soon",
		"RVM_RUN_RETENTION":       "1 month",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("AWS_REGION", "eu-west-1")
			t.Setenv("RVM_CONFIG_FILE", "")
			t.Setenv(key, value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected load error for %s=%q", key, value)
			}
		})
	}
}

func TestLoadRequiresRegion(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("RVM_CONFIG_FILE", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when region is unset")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")

	path := filepath.Join(t.TempDir(), "rvm.yaml")
	content := []byte("stack_prefix: custom-prefix\naccount_concurrency: 4\ndelete_wait_timeout: 5m\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("RVM_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StackPrefix != "custom-prefix" {
		t.Fatalf("expected file overlay to win, got prefix %q", cfg.StackPrefix)
	}
	if cfg.AccountConcurrency != 4 {
		t.Fatalf("expected concurrency 4, got %d", cfg.AccountConcurrency)
	}
	if cfg.DeleteWaitTimeout != 5*time.Minute {
		t.Fatalf("expected 5m delete wait, got %s", cfg.DeleteWaitTimeout)
	}
	if cfg.Region != "eu-west-1" {
		t.Fatalf("expected env region preserved, got %q", cfg.Region)
	}
}
