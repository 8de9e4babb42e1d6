package executor

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how every host is reached.
type SSHConfig struct {
	User       string
	Port       int
	KeyPath    string
	Password   string
	KnownHosts string // empty disables host key checking
	Timeout    time.Duration

	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsed          time.Duration
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

type ResilienceConfig struct {
	BackoffSettings        func() backoff.BackOff
	CircuitBreakerSettings gobreaker.Settings
}

func NewResilienceConfig(cfg SSHConfig, name string) *ResilienceConfig {
	return &ResilienceConfig{
		BackoffSettings: func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     cfg.InitialInterval,
				MaxInterval:         cfg.MaxInterval,
				MaxElapsedTime:      cfg.MaxElapsed,
				Multiplier:          1.5,
				RandomizationFactor: 0.5,
				Stop:                backoff.Stop,
				Clock:               backoff.SystemClock,
			}
		},
		CircuitBreakerSettings: gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
		},
	}
}

// ResilientSSHClient is one SSH connection guarded by a circuit breaker.
type ResilientSSHClient struct {
	Host      string
	SSHClient *ssh.Client
	Breaker   *gobreaker.CircuitBreaker
}

func (c *ResilientSSHClient) Close() error {
	if c.SSHClient == nil {
		return nil
	}
	return c.SSHClient.Close()
}

func clientConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		m, err := publicKeyAuth(cfg.KeyPath)
		if err != nil {
			return nil, err
		}
		auth = append(auth, m)
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh: no key_path or password configured")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("ssh: known_hosts %s: %w", cfg.KnownHosts, err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}, nil
}

func hostAddr(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}
