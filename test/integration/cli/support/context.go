package support

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastStderr   string
	LastError    error
	LastExitCode int

	// Test environment
	TempDir string
	oldHome string

	// Server state
	HTTPServer         *httptest.Server
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a scenario context with its own temporary
// directory, which also serves as $HOME so no user configuration leaks in.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "stereowls-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	ctx := &TestContext{
		TempDir:         tempDir,
		oldHome:         os.Getenv("HOME"),
		LastHTTPHeaders: map[string]string{},
	}
	if err := os.Setenv("HOME", tempDir); err != nil {
		return nil, fmt.Errorf("failed to set HOME: %w", err)
	}
	return ctx, nil
}

// Path resolves a scenario file name inside the temporary directory.
func (testCtx *TestContext) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.TempDir, name)
}

// expand replaces {tmp} with the scenario directory.
func (testCtx *TestContext) expand(s string) string {
	return strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
}

// Cleanup stops the server and removes the temporary directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if err := os.Setenv("HOME", testCtx.oldHome); err != nil {
		errs = append(errs, fmt.Errorf("failed to restore HOME: %w", err))
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	return errors.Join(errs...)
}
