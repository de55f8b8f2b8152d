package app

import (
	"bytes"
	"strings"
	"testing"
)

// TestRun_ServeCommand_FailsWithoutDatabase はserveコマンドがDB接続を試みることを検証する。
func TestRun_ServeCommand_FailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil || !strings.Contains(err.Error(), "database") {
		t.Errorf("Run(serve) error = %v, want database connection error", err)
	}
}

func TestRun_WorkerCommand_FailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"worker"})
	if err == nil || !strings.Contains(err.Error(), "database") {
		t.Errorf("Run(worker) error = %v, want database connection error", err)
	}
}

func TestRun_MigrateUnknownAction(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate", "sideways"})
	if err == nil || !strings.Contains(err.Error(), "sideways") {
		t.Errorf("Run(migrate sideways) error = %v, want unknown action error", err)
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GOOGLE_CLIENT_ID", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Error("expected initialization error")
	}
}

func TestRun_WatchRequiresSessionToken(t *testing.T) {
	t.Setenv("LINKSHELF_SESSION_TOKEN", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"watch"})
	if err == nil || !strings.Contains(err.Error(), "LINKSHELF_SESSION_TOKEN") {
		t.Errorf("Run(watch) error = %v, want missing token error", err)
	}
}

func TestRun_HealthcheckFailsWhenServerDown(t *testing.T) {
	t.Setenv("SERVER_PORT", "1")

	if err := Run(&bytes.Buffer{}, []string{"healthcheck"}); err == nil {
		t.Error("expected health check error when nothing listens")
	}
}
