// Package retry wraps connection establishment with capped exponential
// backoff. Retrying is a caller decision in this system; nothing below the
// manager retries on its own, so this is the one place retry policy lives.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/lmorandi/gateway_desk/internal/gateway"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

type Client struct {
	mgr    *gateway.Manager
	logger *log.Logger
	config Config
}

func NewClient(mgr *gateway.Manager, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		mgr:    mgr,
		logger: logger,
		config: cfg,
	}
}

// ConnectWithRetry attempts the gateway connection, backing off between
// transient failures. Refused and timed-out connects are transient (the
// gateway restarts daily); anything else fails immediately.
func (c *Client) ConnectWithRetry(ctx context.Context, host string, port, clientID int, connectTimeout time.Duration) error {
	connCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-connCtx.Done():
			return fmt.Errorf("connect timed out after %v: %w", c.config.Timeout, connCtx.Err())
		default:
		}

		if ctx.Err() != nil {
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		c.logger.Printf("Connect attempt %d/%d to %s:%d", attempt+1, c.config.MaxRetries+1, host, port)

		err := c.mgr.Connect(connCtx, host, port, clientID, connectTimeout)
		if err == nil {
			c.logger.Printf("Connected on attempt %d", attempt+1)
			return nil
		}

		lastErr = err
		c.logger.Printf("Connect attempt %d failed: %v", attempt+1, err)

		if c.isTransientError(err) && attempt < c.config.MaxRetries {
			c.logger.Printf("Transient error detected, retrying in %v", backoff)
			select {
			case <-time.After(backoff):
				backoff = c.calculateNextBackoff(backoff)
			case <-connCtx.Done():
				return fmt.Errorf("connect timed out during backoff: %w", connCtx.Err())
			case <-ctx.Done():
				return fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
			}
		} else {
			break
		}
	}

	return fmt.Errorf("failed to connect after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			jitter := time.Duration(jitterVal.Int64())
			backoff += jitter
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gateway.ErrConnectionTimeout) || errors.Is(err, gateway.ErrConnectionRefused) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
