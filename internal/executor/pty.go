package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"stepgate/backend/pkg/models"
)

// drainTimeout bounds how long output is collected after the shell exits;
// a background child holding the terminal open would otherwise block forever.
const drainTimeout = 2 * time.Second

// PTYExecutor runs commands through a shell attached to a pseudo-terminal so
// programs behave as they would in an interactive session. The terminal
// merges stdout and stderr, so results carry all output in Stdout.
type PTYExecutor struct {
	shell     string
	workDir   string
	maxOutput int
}

// NewPTYExecutor creates a PTYExecutor. When workDir is set every session
// gets its own subdirectory; maxOutput caps the retained output (the tail is
// kept).
func NewPTYExecutor(shell, workDir string, maxOutput int) *PTYExecutor {
	if shell == "" {
		shell = "/bin/sh"
	}
	if maxOutput <= 0 {
		maxOutput = 1 << 20
	}
	return &PTYExecutor{shell: shell, workDir: workDir, maxOutput: maxOutput}
}

// Execute implements Executor.
func (e *PTYExecutor) Execute(ctx context.Context, sessionID, command string) (*models.ExecutionResult, error) {
	dir, err := e.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=dumb", "STEPGATE_SESSION_ID="+sessionID)

	start := time.Now()
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}
	defer ptmx.Close()

	output := &tailBuffer{limit: e.maxOutput}
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, _ = io.Copy(output, ptmx)
	}()

	waitErr := cmd.Wait()
	select {
	case <-copied:
	case <-time.After(drainTimeout):
		ptmx.Close()
		<-copied
	}

	result := &models.ExecutionResult{
		Command:       command,
		ExitCode:      -1,
		Stdout:        strings.ReplaceAll(output.String(), "\r\n", "\n"),
		ExecutionTime: time.Since(start).Seconds(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("command interrupted: %w", ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, fmt.Errorf("command failed: %w", waitErr)
		}
	}
	return result, nil
}

func (e *PTYExecutor) sessionDir(sessionID string) (string, error) {
	if e.workDir == "" {
		return "", nil
	}
	dir := filepath.Join(e.workDir, sanitizeSession(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session dir: %w", err)
	}
	return dir, nil
}

func sanitizeSession(sessionID string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, sessionID)
	if strings.Trim(cleaned, ".") == "" {
		return "default"
	}
	return cleaned
}

// tailBuffer is a thread-safe buffer that keeps only the last limit bytes.
type tailBuffer struct {
	mu     sync.Mutex
	buffer []byte
	limit  int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer = append(b.buffer, p...)
	if len(b.buffer) > b.limit {
		b.buffer = b.buffer[len(b.buffer)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buffer)
}
