package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/voxcut/voxcut/internal/observability"
)

// stderrTailLines bounds how much subprocess stderr is kept for error
// reporting.
const stderrTailLines = 40

// runner executes external tools and streams their output line by line.
// All adapters in this package share one runner so cancellation, logging
// and error reporting behave the same for yt-dlp, ffmpeg and whisper.
type runner struct {
	logger *slog.Logger
}

func newRunner(logger *slog.Logger) *runner {
	return &runner{logger: observability.WithComponent(logger, "media")}
}

// runResult carries the captured output of a finished subprocess.
type runResult struct {
	Stdout     string
	StderrTail string
}

// run starts the binary and blocks until it exits or ctx is cancelled.
// onLine, when non-nil, receives each stdout and stderr line as it is
// produced; ordering between the two streams is not guaranteed. On a
// non-zero exit the returned error includes the stderr tail.
func (r *runner) run(ctx context.Context, bin string, args []string, onLine func(string)) (*runResult, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	r.logger.Debug("running command", "bin", bin, "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		outBuf bytes.Buffer
		tail   []string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			mu.Lock()
			outBuf.WriteString(line)
			outBuf.WriteByte('\n')
			mu.Unlock()
			if onLine != nil {
				onLine(line)
			}
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			mu.Lock()
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
			mu.Unlock()
			if onLine != nil {
				onLine(line)
			}
		}
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	mu.Lock()
	res := &runResult{
		Stdout:     outBuf.String(),
		StderrTail: strings.Join(tail, "\n"),
	}
	mu.Unlock()

	if waitErr != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%s: %w: %s", bin, waitErr, res.StderrTail)
	}
	return res, nil
}
