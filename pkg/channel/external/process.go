package external

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// process is one launched server child.
type process struct {
	cmd    *exec.Cmd
	port   int
	addr   string
	logger zerolog.Logger

	// exited is closed once the child has been reaped; err is written before.
	exited chan struct{}
	err    error
}

// spawn starts the server child on port and forwards its output into logger.
func spawn(cfg Config, port int, logger zerolog.Logger) (*process, error) {
	addr := cfg.Host + ":" + strconv.Itoa(port)
	args := []string{
		"serve",
		"--address", addr,
		"--database", ":memory:",
		"--auth",
		"--user", cfg.User,
		"--password", cfg.Password,
		"--log-level", cfg.LogLevel,
	}

	cmd := exec.Command(cfg.Executable, args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Executable, err)
	}

	p := &process{
		cmd:    cmd,
		port:   port,
		addr:   addr,
		logger: logger.With().Int("pid", cmd.Process.Pid).Int("port", port).Logger(),
		exited: make(chan struct{}),
	}

	var forwarders sync.WaitGroup
	forwarders.Add(2)
	go p.forward(&forwarders, stdout, "stdout")
	go p.forward(&forwarders, stderr, "stderr")

	go func() {
		// Wait closes the pipes, so every line must be read first.
		forwarders.Wait()
		p.err = cmd.Wait()
		close(p.exited)
	}()

	p.logger.Debug().Str("executable", cfg.Executable).Msg("Server process started")
	return p, nil
}

func (p *process) forward(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		forwardLine(p.logger, stream, scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug().Err(err).Str("stream", stream).Msg("Server output scanner stopped")
	}
}

// childRecord is the part of a child zerolog record needed to re-emit it.
type childRecord struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// forwardLine re-emits one line of child output. JSON records keep their level
// and message and carry the full record under "child"; anything else is
// logged at info.
func forwardLine(logger zerolog.Logger, stream string, line []byte) {
	var rec childRecord
	if len(line) == 0 || line[0] != '{' || json.Unmarshal(line, &rec) != nil {
		logger.Info().Str("stream", stream).Msg(string(line))
		return
	}

	level, err := zerolog.ParseLevel(rec.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger.WithLevel(level).
		Str("stream", stream).
		RawJSON("child", line).
		Msg(rec.Message)
}

// exitError describes why the child is gone.
func (p *process) exitError() error {
	if p.err != nil {
		return fmt.Errorf("server process exited: %w", p.err)
	}
	return fmt.Errorf("server process exited")
}

// terminate sends SIGTERM and escalates to SIGKILL after grace. It returns once
// the child has been reaped.
func (p *process) terminate(grace time.Duration) {
	select {
	case <-p.exited:
		return
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.cmd.Process.Kill()
		<-p.exited
		return
	}

	select {
	case <-p.exited:
	case <-time.After(grace):
		p.logger.Warn().Dur("grace", grace).Msg("Server ignored SIGTERM, killing")
		p.cmd.Process.Kill()
		<-p.exited
	}
}
