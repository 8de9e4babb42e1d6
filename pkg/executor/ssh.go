package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/andrej220/rolectl/internal/lg"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
)

var ErrClosed = errors.New("executor closed")

type dialFunc func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)

// SSHExecutor runs commands over SSH with one cached connection per host.
// Connecting and opening a session are retried with backoff behind a
// per-host circuit breaker; a command that started is never retried.
type SSHExecutor struct {
	cfg    SSHConfig
	logger lg.Logger
	dial   dialFunc

	mu       sync.Mutex
	clients  map[string]*ResilientSSHClient
	breakers map[string]*gobreaker.CircuitBreaker
	closed   bool
}

func NewSSHExecutor(cfg SSHConfig, logger lg.Logger) *SSHExecutor {
	if logger == nil {
		logger = lg.Discard
	}
	if cfg.KnownHosts == "" {
		logger.Warn("ssh host key checking disabled, set known_hosts to verify hosts", lg.String("user", cfg.User))
	}
	return &SSHExecutor{
		cfg:      cfg,
		logger:   logger,
		dial:     ssh.Dial,
		clients:  make(map[string]*ResilientSSHClient),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (e *SSHExecutor) Run(ctx context.Context, host, command string) (res Result, err error) {
	res = Result{Host: host, Command: command}
	started := time.Now()
	defer func() { res.Duration = time.Since(started) }()

	resConf := NewResilienceConfig(e.cfg, "ssh-"+host)
	b := backoff.WithContext(resConf.BackoffSettings(), ctx)
	sess, err := backoff.RetryWithData[*ssh.Session](func() (*ssh.Session, error) {
		s, err := e.openSession(host)
		if errors.Is(err, ErrClosed) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			e.logger.Debug("ssh session failed, retrying", lg.String("host", host), lg.Err(err))
		}
		return s, err
	}, b)
	if err != nil {
		res.ExitStatus = -1
		return res, fmt.Errorf("ssh %s: %w", host, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		res.ExitStatus = -1
		return res, ctx.Err()
	case err = <-done:
	}

	res.Stdout = scanLines(&stdout)
	res.Stderr = scanLines(&stderr)

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitStatus = exitErr.ExitStatus()
	default:
		res.ExitStatus = -1
		e.dropClient(host)
		return res, fmt.Errorf("ssh %s: run: %w", host, err)
	}
	return res, nil
}

func (e *SSHExecutor) openSession(host string) (*ssh.Session, error) {
	client, err := e.client(host)
	if err != nil {
		return nil, err
	}
	res, err := client.Breaker.Execute(func() (any, error) {
		return client.SSHClient.NewSession()
	})
	if err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			e.dropClient(host)
		}
		return nil, fmt.Errorf("new session: %w", err)
	}
	return res.(*ssh.Session), nil
}

// client returns the cached connection for host, dialing through the
// host's breaker when there is none.
func (e *SSHExecutor) client(host string) (*ResilientSSHClient, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := e.clients[host]; ok {
		e.mu.Unlock()
		return c, nil
	}
	breaker, ok := e.breakers[host]
	if !ok {
		breaker = gobreaker.NewCircuitBreaker(NewResilienceConfig(e.cfg, "ssh-"+host).CircuitBreakerSettings)
		e.breakers[host] = breaker
	}
	e.mu.Unlock()

	clientCfg, err := clientConfig(e.cfg)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	addr := hostAddr(host, e.cfg.Port)
	res, err := breaker.Execute(func() (any, error) {
		return e.dial("tcp", addr, clientCfg)
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &ResilientSSHClient{Host: host, SSHClient: res.(*ssh.Client), Breaker: breaker}
	e.logger.Debug("ssh connected", lg.String("host", host), lg.String("addr", addr))

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		_ = c.Close()
		return nil, ErrClosed
	}
	if existing, ok := e.clients[host]; ok {
		_ = c.Close()
		return existing, nil
	}
	e.clients[host] = c
	return c, nil
}

func (e *SSHExecutor) dropClient(host string) {
	e.mu.Lock()
	c, ok := e.clients[host]
	delete(e.clients, host)
	e.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

// BreakerState reports the breaker state for host.
func (e *SSHExecutor) BreakerState(host string) gobreaker.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.breakers[host]; ok {
		return b.State()
	}
	return gobreaker.StateClosed
}

// Close closes every cached connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	clients := e.clients
	e.clients = make(map[string]*ResilientSSHClient)
	e.closed = true
	e.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func scanLines(r io.Reader) []string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	return lines
}
