package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestURLPattern(t *testing.T) {
	line := "2024-01-01T00:00:00Z INF |  https://brave-otter-demo.trycloudflare.com  |"
	got := publicURLRe.FindString(line)
	if got != "https://brave-otter-demo.trycloudflare.com" {
		t.Fatalf("url = %q", got)
	}
	if publicURLRe.FindString("no url here") != "" {
		t.Fatal("matched a line without a URL")
	}
}

func TestStartMissingBinary(t *testing.T) {
	c := &Cloudflared{Binary: "definitely-not-installed-12345"}
	if _, err := c.Start(context.Background(), 8080); err == nil {
		t.Fatal("expected an error for a missing binary")
	}
}

// fakeTunnelScript stands in for cloudflared: prints a URL to stderr and
// sleeps so Stop has something to kill.
func fakeTunnelScript(t *testing.T, output string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "cloudflared")
	script := "#!/bin/sh\necho '" + output + "' >&2\nsleep 60\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStartParsesURL(t *testing.T) {
	bin := fakeTunnelScript(t, "INF |  https://test-fake-url.trycloudflare.com  |")
	c := &Cloudflared{Binary: bin, Timeout: 5 * time.Second}
	defer c.Stop()

	url, err := c.Start(context.Background(), 48632)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(url, ".trycloudflare.com") {
		t.Fatalf("url = %q", url)
	}
}

func TestStartTimesOutWithoutURL(t *testing.T) {
	bin := fakeTunnelScript(t, "no url in this output")
	c := &Cloudflared{Binary: bin, Timeout: 200 * time.Millisecond}

	start := time.Now()
	if _, err := c.Start(context.Background(), 48632); err == nil {
		t.Fatal("expected a timeout error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout took far too long")
	}
}

func TestStopWithoutStart(t *testing.T) {
	(&Cloudflared{}).Stop()
}
