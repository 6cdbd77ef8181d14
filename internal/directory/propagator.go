package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/brizzai/auth-fabric/internal/config"
	"github.com/brizzai/auth-fabric/internal/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// InjectionPath is the receiver endpoint on every downstream service.
const InjectionPath = "/services/user-injection"

// ServiceSecretHeader authenticates service-to-service propagation calls.
// It carries a shared static secret, not a user token.
const ServiceSecretHeader = "X-Service-Secret"

const maxErrorSnippet = 256

// TargetResult is one downstream service's outcome within a fan-out.
type TargetResult struct {
	Service string `json:"service"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// injectionRequest is the wire body for both operations.
type injectionRequest struct {
	Action    string  `json:"action"`
	UserData  *Record `json:"userData,omitempty"`
	UserEmail string  `json:"userEmail,omitempty"`
}

// Propagator fans user-directory changes out to the configured downstream
// services. Dispatch is best-effort and independent per target: one target's
// failure never cancels, retries or rolls back the others, and the aggregate
// never fails because a target did.
type Propagator struct {
	targets       []config.PropagationTarget
	serviceSecret string
	client        *http.Client
}

// PropagatorParams defines the propagator's dependencies.
type PropagatorParams struct {
	fx.In

	Config *config.Config
}

// NewPropagator creates a Propagator from config.
func NewPropagator(params PropagatorParams) *Propagator {
	return &Propagator{
		targets:       params.Config.Propagation.Targets,
		serviceSecret: params.Config.Auth.ServiceSecret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewPropagatorForTargets creates a Propagator outside the fx graph.
func NewPropagatorForTargets(targets []config.PropagationTarget, serviceSecret string, client *http.Client) *Propagator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Propagator{targets: targets, serviceSecret: serviceSecret, client: client}
}

// Inject dispatches an upsert of record to every target concurrently and
// returns the per-target results in target order.
func (p *Propagator) Inject(ctx context.Context, record Record) []TargetResult {
	rec := record
	return p.fanOut(ctx, injectionRequest{Action: "inject", UserData: &rec})
}

// Remove dispatches a removal keyed by email to every target concurrently.
// The authority's own state is cleaned up by the caller before the fan-out;
// see the authority handler.
func (p *Propagator) Remove(ctx context.Context, email string) []TargetResult {
	return p.fanOut(ctx, injectionRequest{Action: "remove", UserEmail: email})
}

func (p *Propagator) fanOut(ctx context.Context, body injectionRequest) []TargetResult {
	results := make([]TargetResult, len(p.targets))

	var wg sync.WaitGroup
	for i, target := range p.targets {
		wg.Add(1)
		go func(i int, target config.PropagationTarget) {
			defer wg.Done()
			results[i] = p.dispatch(ctx, target, body)
		}(i, target)
	}
	wg.Wait()

	return results
}

// dispatch performs one target's call. Every failure mode is converted into
// a recorded, logged result; nothing propagates to siblings or the caller.
func (p *Propagator) dispatch(ctx context.Context, target config.PropagationTarget, body injectionRequest) TargetResult {
	result := TargetResult{Service: target.Name}

	err := p.post(ctx, target, body)
	if err != nil {
		result.Error = err.Error()
		logger.Warn("Directory propagation target unreachable",
			zap.String("target", target.Name),
			zap.String("url", target.URL),
			zap.String("action", body.Action),
			zap.Error(err),
		)
		return result
	}

	result.Success = true
	logger.Debug("Directory propagation delivered",
		zap.String("target", target.Name),
		zap.String("action", body.Action),
	)
	return result
}

func (p *Propagator) post(ctx context.Context, target config.PropagationTarget, body injectionRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode propagation body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL+InjectionPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build propagation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ServiceSecretHeader, p.serviceSecret)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("propagation request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
		return fmt.Errorf("propagation returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	return nil
}
