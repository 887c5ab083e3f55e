// Package external runs queries against a Flight SQL server child process.
// The channel relaunches the child on unexpected exit, so its instance never
// sees a fault from this backend.
package external

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/status"

	"github.com/TFMV/quire/pkg/channel"
	"github.com/TFMV/quire/pkg/engine"
	pkgerrors "github.com/TFMV/quire/pkg/errors"
	"github.com/TFMV/quire/pkg/infrastructure/metrics"
	"github.com/TFMV/quire/pkg/models"
)

// Config configures the server child.
type Config struct {
	// Executable is launched as `<Executable> serve ...`.
	Executable string
	// Env is appended to the parent's environment.
	Env []string

	Host     string
	PortMin  int
	PortMax  int
	User     string
	Password string
	LogLevel string

	// MaxRestarts bounds consecutive relaunches without reaching readiness.
	MaxRestarts    int
	RestartBackoff time.Duration
	ShutdownGrace  time.Duration
	PollInterval   time.Duration
}

func (c *Config) setDefaults() {
	if c.Executable == "" {
		c.Executable = "quire"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.PortMin <= 0 {
		c.PortMin = 20000
	}
	if c.PortMax <= 0 {
		c.PortMax = 29999
	}
	if c.User == "" {
		c.User = "root"
	}
	if c.Password == "" {
		c.Password = "root"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = 500 * time.Millisecond
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
}

// launch is one attempt at running the child. Callers wait on ready; replaced
// is closed once a newer launch, or the final give-up, takes its place.
type launch struct {
	ready    *channel.Readiness
	replaced chan struct{}

	proc   *process
	client *flightClient
}

func newLaunch() *launch {
	return &launch{
		ready:    channel.NewReadiness(),
		replaced: make(chan struct{}),
	}
}

// Channel talks Flight SQL to a supervised server child.
type Channel struct {
	cfg     Config
	logger  zerolog.Logger
	metrics metrics.Collector

	ready  *channel.Readiness
	faults chan error

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup

	mu          sync.Mutex
	current     *launch
	terminated  bool
	unavailable error
}

var (
	_ channel.Channel      = (*Channel)(nil)
	_ channel.Availability = (*Channel)(nil)
)

// New creates an unstarted external channel.
func New(cfg Config, collector metrics.Collector, logger zerolog.Logger) *Channel {
	cfg.setDefaults()
	return &Channel{
		cfg:     cfg,
		logger:  logger.With().Str("component", "external").Logger(),
		metrics: metrics.OrNoOp(collector),
		ready:   channel.NewReadiness(),
		faults:  make(chan error),
		stop:    make(chan struct{}),
		current: newLaunch(),
	}
}

// NewFactory returns a channel.Factory producing external channels.
func NewFactory(cfg Config, collector metrics.Collector, logger zerolog.Logger) channel.Factory {
	return func() channel.Channel {
		return New(cfg, collector, logger)
	}
}

// Start launches the supervisor, which spawns the first child.
func (c *Channel) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.supervise()
	})
	return nil
}

func (c *Channel) Ready() *channel.Readiness { return c.ready }

// Unavailable returns why the channel gave up on the server, or nil.
func (c *Channel) Unavailable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unavailable
}

// Faults never fires: the child is relaunched instead.
func (c *Channel) Faults() <-chan error { return c.faults }

func (c *Channel) Kind() string { return channel.BackendExternal }

// RunSQL waits for the current launch and sends the preamble and text one
// statement at a time. Transport and query errors become Error outcomes.
func (c *Channel) RunSQL(ctx context.Context, text string) (models.Outcome, error) {
	for {
		l, err := c.currentLaunch()
		if err != nil {
			if pkgerrors.GetCode(err) == pkgerrors.CodeTerminated {
				return models.Outcome{}, err
			}
			return models.NewError(pkgerrors.GetMessage(err), err), nil
		}

		if err := l.ready.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return models.Outcome{}, ctx.Err()
			}
			// This launch died before it was ready; follow its successor.
			select {
			case <-l.replaced:
				continue
			case <-c.stop:
				return models.Outcome{}, pkgerrors.ErrTerminated
			case <-ctx.Done():
				return models.Outcome{}, ctx.Err()
			}
		}

		return c.run(ctx, l.client, text)
	}
}

// run executes on a detached context; ctx only bounds the wait.
func (c *Channel) run(ctx context.Context, client *flightClient, text string) (models.Outcome, error) {
	done := make(chan models.Outcome, 1)
	go func() {
		done <- c.execute(context.WithoutCancel(ctx), client, text)
	}()

	select {
	case out := <-done:
		return out, nil
	case <-c.stop:
		return models.Outcome{}, pkgerrors.ErrTerminated
	case <-ctx.Done():
		return models.Outcome{}, ctx.Err()
	}
}

func (c *Channel) execute(ctx context.Context, client *flightClient, text string) models.Outcome {
	stmts := engine.SplitStatements(engine.Preamble + "\n" + text)
	results := make([]models.ResultSet, 0, len(stmts))

	for _, stmt := range stmts {
		rs, err := client.execute(ctx, stmt)
		if err != nil {
			return models.NewError(status.Convert(err).Message(), err)
		}
		results = append(results, rs)
	}
	return models.NewResult(results)
}

func (c *Channel) currentLaunch() (*launch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.terminated:
		return nil, pkgerrors.ErrTerminated
	case c.unavailable != nil:
		return nil, c.unavailable
	default:
		return c.current, nil
	}
}

// setCurrent publishes l and releases callers parked on the previous launch.
func (c *Channel) setCurrent(l *launch) {
	c.mu.Lock()
	prev := c.current
	c.current = l
	c.mu.Unlock()

	if prev != l {
		close(prev.replaced)
	}
}

// Terminate stops self-heal, stops the child and returns once the supervisor
// has exited.
func (c *Channel) Terminate() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.terminated = true
		l := c.current
		c.mu.Unlock()

		close(c.stop)
		c.ready.Reject(pkgerrors.ErrTerminated)
		l.ready.Reject(pkgerrors.ErrTerminated)

		// Claim Start so a late call cannot spawn a child.
		c.startOnce.Do(func() {})
		c.wg.Wait()

		c.logger.Debug().Msg("External channel terminated")
	})
}

func (c *Channel) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// supervise runs launches until Terminate or until MaxRestarts consecutive
// launches failed.
func (c *Channel) supervise() {
	defer c.wg.Done()

	c.mu.Lock()
	l := c.current
	c.mu.Unlock()

	failures := 0
	for {
		wasReady, err := c.runLaunch(l)
		if c.stopping() {
			return
		}

		if wasReady {
			failures = 0
		}
		failures++

		if failures > c.cfg.MaxRestarts {
			c.giveUp(err, failures-1)
			return
		}

		c.metrics.IncrementCounter(metrics.ServerRestartsTotal)
		backoff := c.cfg.RestartBackoff * time.Duration(failures)
		c.logger.Warn().
			Err(err).
			Int("attempt", failures).
			Int("max_restarts", c.cfg.MaxRestarts).
			Dur("backoff", backoff).
			Msg("Server exited unexpectedly, relaunching")

		next := newLaunch()
		c.setCurrent(next)

		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}
		l = next
	}
}

// runLaunch spawns a child for l, brings it to readiness and blocks until it
// exits or the channel stops.
func (c *Channel) runLaunch(l *launch) (wasReady bool, err error) {
	port, err := pickPort(c.cfg.Host, c.cfg.PortMin, c.cfg.PortMax)
	if err != nil {
		l.ready.Reject(err)
		return false, err
	}

	proc, err := spawn(c.cfg, port, c.logger)
	if err != nil {
		l.ready.Reject(err)
		return false, err
	}
	defer proc.terminate(c.cfg.ShutdownGrace)

	c.mu.Lock()
	l.proc = proc
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-proc.exited:
		case <-c.stop:
		case <-ctx.Done():
		}
		cancel()
	}()

	client, err := connect(ctx, proc.addr, c.cfg.User, c.cfg.Password, c.cfg.PollInterval)
	if err != nil {
		select {
		case <-proc.exited:
			err = proc.exitError()
		default:
		}
		l.ready.Reject(err)
		return false, err
	}
	defer client.Close()

	c.mu.Lock()
	l.client = client
	c.mu.Unlock()

	if !l.ready.Resolve() {
		// Terminated while connecting.
		return false, pkgerrors.ErrTerminated
	}
	c.ready.Resolve()
	c.logger.Info().Str("address", proc.addr).Msg("Server ready")

	select {
	case <-proc.exited:
		return true, proc.exitError()
	case <-c.stop:
		return true, nil
	}
}

func (c *Channel) giveUp(cause error, restarts int) {
	unavailable := pkgerrors.Wrapf(cause, pkgerrors.CodeUnavailable, "server unavailable after %d restarts", restarts)
	if unavailable == nil {
		unavailable = pkgerrors.New(pkgerrors.CodeUnavailable, fmt.Sprintf("server unavailable after %d restarts", restarts))
	}

	c.mu.Lock()
	c.unavailable = unavailable
	l := c.current
	c.mu.Unlock()

	c.ready.Reject(unavailable)
	l.ready.Reject(unavailable)
	close(l.replaced)

	c.logger.Error().Err(cause).Int("restarts", restarts).Msg("Giving up on server")
}
