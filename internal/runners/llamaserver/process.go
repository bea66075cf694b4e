package llamaserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// process is one spawned llama-server.
type process struct {
	cmd     *exec.Cmd
	baseURL string
	pid     int
	done    chan struct{}

	mu      sync.Mutex
	waitErr error
	tail    []string
}

const stderrTailLines = 20

// spawn starts llama-server for modelPath and waits until it answers the
// health probe, exits, or cfg.ReadyTimeout passes.
func spawn(ctx context.Context, cfg Config, bin, modelPath string, c *client, log zerolog.Logger) (*process, error) {
	port, err := pickPort(cfg.Host, cfg.PortStart, cfg.PortEnd)
	if err != nil {
		return nil, err
	}
	args := []string{
		"-m", modelPath,
		"--host", cfg.Host,
		"--port", strconv.Itoa(port),
	}
	if cfg.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(cfg.CtxSize))
	}
	if cfg.NGL > 0 {
		args = append(args, "-ngl", strconv.Itoa(cfg.NGL))
	}
	if cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(cfg.Threads))
	}
	args = append(args, cfg.ExtraArgs...)

	cmd := exec.Command(bin, args...)
	cmd.Dir = filepath.Dir(modelPath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	p := &process{
		cmd:     cmd,
		baseURL: fmt.Sprintf("http://%s", net.JoinHostPort(cfg.Host, strconv.Itoa(port))),
		pid:     cmd.Process.Pid,
		done:    make(chan struct{}),
	}
	log.Info().Str("model_path", modelPath).Int("pid", p.pid).Int("port", port).Msg("spawn_start")

	var drained sync.WaitGroup
	drained.Add(2)
	go func() { defer drained.Done(); drain(stdout, nil) }()
	go func() { defer drained.Done(); drain(stderr, p.keepTail) }()
	go func() {
		drained.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()

	rctx, cancel := context.WithTimeout(ctx, cfg.ReadyTimeout)
	defer cancel()
	for {
		select {
		case <-p.done:
			log.Warn().Int("pid", p.pid).Str("stderr", p.stderrTail()).Msg("spawn_exit")
			return nil, fmt.Errorf("llama-server exited before ready: %v; stderr tail: %s", p.exitErr(), p.stderrTail())
		case <-rctx.Done():
			p.stop(2 * time.Second)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Int("pid", p.pid).Msg("spawn_timeout")
			return nil, fmt.Errorf("llama-server not ready in %s: %s", cfg.ReadyTimeout, p.baseURL)
		default:
		}
		hctx, hcancel := context.WithTimeout(rctx, time.Second)
		ok := c.healthy(hctx, p.baseURL)
		hcancel()
		if ok {
			log.Info().Int("pid", p.pid).Str("url", p.baseURL).Msg("spawn_ready")
			return p, nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-p.done:
		case <-rctx.Done():
		}
	}
}

func (p *process) keepTail(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tail = append(p.tail, line)
	if len(p.tail) > stderrTailLines {
		p.tail = p.tail[len(p.tail)-stderrTailLines:]
	}
}

func (p *process) stderrTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.tail, "\n")
}

func (p *process) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waitErr == nil {
		return errors.New("exit status 0")
	}
	return p.waitErr
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// stop sends SIGTERM and kills the process if it is still running after
// grace.
func (p *process) stop(grace time.Duration) {
	if p.exited() {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func drain(r io.Reader, line func(string)) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for s.Scan() {
		if line != nil {
			line(s.Text())
		}
	}
}

// pickPort returns a free port from [start, end], or any free port when no
// range is configured.
func pickPort(host string, start, end int) (int, error) {
	if start <= 0 || end < start {
		l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return 0, err
		}
		defer l.Close()
		return l.Addr().(*net.TCPAddr).Port, nil
	}
	for port := start; port <= end; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}
