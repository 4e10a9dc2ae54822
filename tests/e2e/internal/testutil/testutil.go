package testutil

// Shared test utilities for e2e tests.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// RecordedRequest captures details of an HTTP request received by the mock server
type RecordedRequest struct {
	Method     string
	Path       string
	RawQuery   string
	Headers    http.Header
	ReceivedAt time.Time
}

type mockServerHandler struct {
	mu       sync.Mutex
	requests []RecordedRequest
	handler  http.HandlerFunc
}

func (m *mockServerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	})
	m.mu.Unlock()

	m.handler(w, r)
}

// StartMockServer creates a new HTTP test server with request recording
func StartMockServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, func() []RecordedRequest) {
	t.Helper()
	mh := &mockServerHandler{handler: handler}
	server := httptest.NewServer(mh)
	t.Cleanup(server.Close)
	get := func() []RecordedRequest {
		mh.mu.Lock()
		defer mh.mu.Unlock()
		return append([]RecordedRequest{}, mh.requests...)
	}
	return server, get
}

// RunCLI executes the flake-checker binary with args, capturing stdout/stderr,
// with a timeout. Ambient BK_* variables are scrubbed so the host environment
// cannot leak into a test; overrides from env are applied on top. Safe to call
// from parallel tests.
func RunCLI(t *testing.T, args []string, env []string, timeout time.Duration) (stdout, stderr string, exitErr error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	envMap := make(map[string]string, len(os.Environ())+1)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			if strings.HasPrefix(k, "BK_") {
				continue
			}
			envMap[k] = v
		}
	}
	for _, e := range env {
		if k, v, ok := strings.Cut(e, "="); ok {
			envMap[k] = v
		}
	}
	envSlice := make([]string, 0, len(envMap))
	for k, v := range envMap {
		envSlice = append(envSlice, k+"="+v)
	}

	var outBuf, errBuf bytes.Buffer
	err := executeCLI(ctx, args, envSlice, &outBuf, &errBuf)

	if ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("command timed out after %v", timeout)
	}

	return outBuf.String(), errBuf.String(), err
}

// --- Binary execution integration ---

var (
	binaryResolved string
	binaryBuildErr error
	buildOnce      sync.Once
)

func buildBinary(moduleDir, outputPath string) error {
	cmd := exec.Command("go", "build", "-o", outputPath, "./cmd/flake-checker")
	cmd.Dir = moduleDir
	cmd.Env = os.Environ()
	return cmd.Run()
}

// findModuleRoot searches upwards for the directory containing go.mod
func findModuleRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for dir := wd; dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}
	return "", fmt.Errorf("module root not found from %s", wd)
}

// resolveBinary returns the path to the flake-checker binary, building it once
// if necessary.
func resolveBinary() (string, error) {
	if binPath := os.Getenv("FLAKE_CHECKER_BINARY"); binPath != "" {
		return binPath, nil
	}

	buildOnce.Do(func() {
		tmpDir, err := os.MkdirTemp("", "flake-checker-e2e-")
		if err != nil {
			binaryBuildErr = err
			return
		}
		tmpBin := filepath.Join(tmpDir, "flake-checker")
		if runtime.GOOS == "windows" {
			tmpBin += ".exe"
		}
		moduleDir, err := findModuleRoot()
		if err != nil {
			binaryBuildErr = err
			return
		}
		if err := buildBinary(moduleDir, tmpBin); err != nil {
			binaryBuildErr = err
			return
		}
		binaryResolved = tmpBin
	})

	if binaryBuildErr != nil {
		return "", fmt.Errorf("failed to build flake-checker test binary: %w", binaryBuildErr)
	}
	return binaryResolved, nil
}

// executeCLI runs the CLI as a separate process, writing output to the
// provided writers. It uses no global state so it is safe to call concurrently.
func executeCLI(ctx context.Context, args []string, env []string, stdout, stderr io.Writer) error {
	binPath, err := resolveBinary()
	if err != nil {
		return err
	}

	// #nosec G204 -- binPath is the test binary path, intentionally variable for testing
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// JSON helpers
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ExitCode extracts the process exit code from a RunCLI error, -1 if unknown.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
