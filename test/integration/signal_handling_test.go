package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestServeGracefulShutdown(t *testing.T) {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available, skipping integration test")
	}

	// Build the binary for testing
	binary := filepath.Join(t.TempDir(), "mcp-kubernetes-chat-test")
	buildCmd := exec.Command("go", "build", "-o", binary, ".")
	buildCmd.Dir = "../../" // Go back to project root
	if out, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	t.Run("SIGTERM handling", func(t *testing.T) {
		testSignalHandling(t, binary, syscall.SIGTERM)
	})

	t.Run("SIGINT handling", func(t *testing.T) {
		testSignalHandling(t, binary, syscall.SIGINT)
	})
}

func testSignalHandling(t *testing.T, binary string, signal syscall.Signal) {
	home := t.TempDir()

	// Sessions connect their transports on creation only, so serve starts
	// without a reachable tool server or model.
	cmd := exec.Command(binary, "serve", "--addr", "127.0.0.1:0")
	cmd.Dir = home
	cmd.Env = append(os.Environ(),
		"HOME="+home,
		"OPENAI_API_KEY=test",
		"KUBECONFIG=/dev/null",
	)

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	// Give the server a moment to start up
	time.Sleep(300 * time.Millisecond)

	if err := cmd.Process.Signal(signal); err != nil {
		t.Fatalf("Failed to send %s signal: %v", signal, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Server exited with error after %s: %v", signal, err)
		}
		t.Logf("Server gracefully handled %s signal", signal)
	case <-time.After(5 * time.Second):
		if err := cmd.Process.Kill(); err != nil {
			t.Logf("Failed to force kill process: %v", err)
		}
		t.Fatalf("Server did not exit within 5 seconds after %s signal", signal)
	}
}
