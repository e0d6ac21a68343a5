package testutil

import (
	"context"
	"os"
	"path/filepath"

	"github.com/andrebq/authopenid/env"
	"github.com/andrebq/authopenid/internal/config"
)

type (
	TestLog interface {
		Fatal(...interface{})
		Log(...interface{})
	}
)

// SessionSecret signs the session cookies issued in tests.
const SessionSecret = "0123456789abcdef0123456789abcdef"

// TestConfig is config.Default with the base url used by tests.
func TestConfig() config.Config {
	cfg := config.Default()
	cfg.Server.BaseURL = "http://example.net/trac"
	cfg.Server.InsecureCookie = true
	cfg.Server.SessionSecret = SessionSecret
	return cfg
}

// AcquireEnvironment opens a fresh environment in a temporary directory.
// Participants are not called, register them and call Create as needed.
func AcquireEnvironment(ctx context.Context, t TestLog, name string, cfg config.Config) (*env.Environment, func()) {
	dir, err := os.MkdirTemp("", "authopenid-tests")
	if err != nil {
		t.Fatal(err)
	}
	e, err := env.Open(ctx, filepath.Join(dir, name), cfg, true)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return e, func() {
		err := e.Close()
		if err != nil {
			t.Log("unable to close environment", err)
		}
		err = os.RemoveAll(dir)
		if err != nil {
			t.Log("unable to cleanup temp dir", dir)
		}
	}
}

// AcquireTempDir returns an empty directory removed by the cleanup function.
func AcquireTempDir(t TestLog) (string, func()) {
	dir, err := os.MkdirTemp("", "authopenid-tests")
	if err != nil {
		t.Fatal(err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			t.Log("unable to cleanup temp dir", dir)
		}
	}
}
