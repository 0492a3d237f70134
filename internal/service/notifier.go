package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// LedgerNotifier reports a completed transfer to the external ledger. The
// caller bounds the call through ctx.
type LedgerNotifier interface {
	Notify(ctx context.Context, senderHash, receiverHash string, amount int64) error
}

// ParticipantHash is the identity sent to the external ledger in place of the
// raw seller or buyer id.
func ParticipantHash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

type LedgerClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type LedgerTransaction struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Amount   int64  `json:"amount"`
}

type LedgerClientOption func(*ledgerClientConfig)

type ledgerClientConfig struct {
	timeout             time.Duration
	consecutiveFailures uint32
	openTimeout         time.Duration
}

// WithRequestTimeout caps a single HTTP round trip regardless of ctx.
func WithRequestTimeout(d time.Duration) LedgerClientOption {
	return func(c *ledgerClientConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker sets how many consecutive failures open the circuit and how long
// it stays open before a probe request is let through.
func WithBreaker(consecutiveFailures uint32, openTimeout time.Duration) LedgerClientOption {
	return func(c *ledgerClientConfig) {
		if consecutiveFailures > 0 {
			c.consecutiveFailures = consecutiveFailures
		}
		if openTimeout > 0 {
			c.openTimeout = openTimeout
		}
	}
}

func NewLedgerClient(baseURL string, opts ...LedgerClientOption) *LedgerClient {
	cfg := ledgerClientConfig{
		timeout:             10 * time.Second,
		consecutiveFailures: 5,
		openTimeout:         30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "external-ledger",
		MaxRequests: 1,
		Timeout:     cfg.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.consecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("ledger circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &LedgerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: cfg.timeout},
		breaker: breaker,
	}
}

func (c *LedgerClient) Notify(ctx context.Context, senderHash, receiverHash string, amount int64) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.addTransaction(ctx, LedgerTransaction{
			Sender:   senderHash,
			Receiver: receiverHash,
			Amount:   amount,
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("external ledger unavailable: %w", err)
		}
		return err
	}
	return nil
}

func (c *LedgerClient) addTransaction(ctx context.Context, tx LedgerTransaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}

	url := fmt.Sprintf("%s/add_transaction", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status: %d, body: %s", resp.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
