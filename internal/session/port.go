package session

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// reclaimPort kills whatever still holds the port, usually a previous run
// that crashed without releasing it. Best effort; the caller retries the
// bind afterwards.
func reclaimPort(port int, logger *slog.Logger) error {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		// lsof exits nonzero when nothing holds the port.
		return nil
	}
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		logger.Warn("killing process holding port", "pid", pid, "port", port)
		if err := exec.Command("kill", "-9", strconv.Itoa(pid)).Run(); err != nil {
			return fmt.Errorf("kill pid %d: %w", pid, err)
		}
	}
	// Give the kernel a moment to release the socket.
	time.Sleep(100 * time.Millisecond)
	return nil
}
