// Package tunnel exposes the local session on a public URL by driving a
// cloudflared quick tunnel subprocess.
package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"sync"
	"time"
)

// DefaultTimeout bounds how long Start waits for the public URL.
const DefaultTimeout = 30 * time.Second

var publicURLRe = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

// Tunnel publishes a local port and reports its public URL.
type Tunnel interface {
	// Start launches the tunnel for the given local port and returns the
	// public URL once it is live.
	Start(ctx context.Context, port int) (string, error)
	// Stop tears the tunnel down. Safe to call without a prior Start.
	Stop()
}

// Cloudflared runs a cloudflared quick tunnel.
type Cloudflared struct {
	// Binary is the cloudflared executable. Defaults to "cloudflared".
	Binary string
	// Timeout bounds the wait for the public URL. Defaults to
	// DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// Start launches cloudflared and scans its output for the assigned
// trycloudflare URL.
func (c *Cloudflared) Start(ctx context.Context, port int) (string, error) {
	binary := c.Binary
	if binary == "" {
		binary = "cloudflared"
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := exec.LookPath(binary); err != nil {
		return "", fmt.Errorf("%s not found: %w", binary, err)
	}

	cmd := exec.Command(binary, "tunnel", "--url", fmt.Sprintf("http://localhost:%d", port))
	// cloudflared writes the assigned URL to stderr.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", binary, err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()

	urls := make(chan string, 2)
	go scanForURL(stderr, urls)
	go scanForURL(stdout, urls)

	select {
	case url := <-urls:
		logger.Info("tunnel established", "url", url)
		return url, nil
	case <-time.After(timeout):
		c.Stop()
		return "", fmt.Errorf("no tunnel URL within %s", timeout)
	case <-ctx.Done():
		c.Stop()
		return "", ctx.Err()
	}
}

func scanForURL(r io.Reader, urls chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if url := publicURLRe.FindString(scanner.Text()); url != "" {
			select {
			case urls <- url:
			default:
			}
			return
		}
	}
}

// Stop kills the subprocess if it is running.
func (c *Cloudflared) Stop() {
	c.mu.Lock()
	cmd := c.cmd
	c.cmd = nil
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
}
