// Package auth retrieves signing-key material from the trust-issuing service
// at startup and turns it into the token validation policy used by protected
// routes.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle of a Bootstrap. Ready and FatalFailure are terminal.
type State int

const (
	StateUninitialized State = iota
	StateFetchingKeys
	StateReady
	StateFatalFailure
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFetchingKeys:
		return "fetching_keys"
	case StateReady:
		return "ready"
	case StateFatalFailure:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

var (
	ErrTrustMaterialUnavailable = errors.New("trust material unavailable")
	ErrAlreadyBootstrapped      = errors.New("auth bootstrap already ran")
)

// maxKeyResponseBytes bounds the issuer response body
const maxKeyResponseBytes = 64 << 10

// TrustMaterial is the payload returned by the issuer's key endpoint
type TrustMaterial struct {
	Issuer string `json:"issuer"`
	Secret string `json:"secret"`
}

// Options configures the policy built from the fetched material
type Options struct {
	KeysURL          string
	Timeout          time.Duration
	ValidateAudience bool
	Audience         string
}

// Bootstrap fetches trust material exactly once
type Bootstrap struct {
	client *http.Client
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

// NewBootstrap creates a Bootstrap. A nil client gets a default one bounded by
// opts.Timeout.
func NewBootstrap(client *http.Client, opts Options, logger *zap.Logger) *Bootstrap {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Bootstrap{client: client, opts: opts, logger: logger}
}

// State returns the current lifecycle state
func (b *Bootstrap) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Run performs the single synchronous key fetch and returns the immutable
// validation policy. Any failure leaves the bootstrap in StateFatalFailure;
// callers must not serve traffic in that case.
func (b *Bootstrap) Run(ctx context.Context) (*Policy, error) {
	b.mu.Lock()
	if b.state != StateUninitialized {
		b.mu.Unlock()
		return nil, ErrAlreadyBootstrapped
	}
	b.state = StateFetchingKeys
	b.mu.Unlock()

	b.logger.Info("Fetching trust material", zap.String("url", b.opts.KeysURL))

	material, err := b.fetch(ctx)
	if err != nil {
		b.setState(StateFatalFailure)
		b.logger.Error("Failed to fetch trust material", zap.String("url", b.opts.KeysURL), zap.Error(err))
		return nil, err
	}

	policy := NewPolicy(material, b.opts.ValidateAudience, b.opts.Audience)
	b.setState(StateReady)

	b.logger.Info("Trust material loaded",
		zap.String("issuer", material.Issuer),
		zap.Bool("validate_audience", b.opts.ValidateAudience),
	)
	return policy, nil
}

func (b *Bootstrap) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bootstrap) fetch(ctx context.Context) (TrustMaterial, error) {
	var material TrustMaterial

	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.opts.KeysURL, nil)
	if err != nil {
		return material, fmt.Errorf("%w: invalid keys url: %v", ErrTrustMaterialUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return material, fmt.Errorf("%w: %v", ErrTrustMaterialUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return material, fmt.Errorf("%w: issuer responded %d", ErrTrustMaterialUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeyResponseBytes)).Decode(&material); err != nil {
		return material, fmt.Errorf("%w: decode response: %v", ErrTrustMaterialUnavailable, err)
	}

	if material.Issuer == "" {
		return material, fmt.Errorf("%w: issuer missing", ErrTrustMaterialUnavailable)
	}
	if material.Secret == "" {
		return material, fmt.Errorf("%w: secret missing", ErrTrustMaterialUnavailable)
	}

	return material, nil
}
