// Package gateway brokers execution of registered tools on behalf of
// authenticated tenants.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nexbridge/snowgate/internal/metering"
	"github.com/nexbridge/snowgate/internal/store"
	"github.com/nexbridge/snowgate/internal/tools"
	"github.com/nexbridge/snowgate/internal/vault"
	"github.com/nexbridge/snowgate/pkg/models"
)

// ErrExecutionTimeout marks a handler that exceeded the hard wall-clock
// limit. Safe for the caller to retry with backoff.
var ErrExecutionTimeout = errors.New("tool execution timed out")

// categoryUnknown is recorded for calls that never resolved a registered
// tool. Categories are otherwise always taken from the tool definition.
const categoryUnknown = "unknown"

// ExecuteRequest is one inbound tool call. Customer has already been
// resolved and status-checked by the auth layer.
type ExecuteRequest struct {
	Customer      *models.Customer
	InstanceID    string
	ClientVersion string
	Origin        string
	Tool          string
	Arguments     map[string]any
	Credentials   map[string]any // optional inline override of the stored credential
}

// ExecuteResult is a successful tool execution.
type ExecuteResult struct {
	Tool       string    `json:"tool"`
	Result     any       `json:"result"`
	DurationMs int64     `json:"durationMs"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToolInfo is the client-visible slice of a Definition: schema and
// description, never handler internals.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Gateway wires the tool registry, credential vault, and usage metering
// together behind a hard execution timeout.
type Gateway struct {
	registry *tools.Registry
	vault    *vault.Vault
	store    store.Store
	meter    *metering.Recorder
	timeout  time.Duration
}

// New creates a Gateway.
func New(registry *tools.Registry, v *vault.Vault, s store.Store, meter *metering.Recorder, timeout time.Duration) *Gateway {
	return &Gateway{
		registry: registry,
		vault:    v,
		store:    s,
		meter:    meter,
		timeout:  timeout,
	}
}

// ListTools returns the registry minus handler internals.
func (g *Gateway) ListTools() []ToolInfo {
	defs := g.registry.List()
	out := make([]ToolInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			Category:    d.Category,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

// Execute runs one tool call end to end: instance sighting, tool resolution,
// credential fetch, timed handler execution, and usage recording. Every
// outcome, success or failure, produces a usage entry.
func (g *Gateway) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	start := time.Now()

	g.trackInstance(req)

	def, err := g.registry.Lookup(req.Tool)
	if err != nil {
		g.record(req, categoryUnknown, start, err)
		return nil, err
	}

	cred, err := g.resolveCredential(ctx, req, def)
	if err != nil {
		g.record(req, def.Category, start, err)
		return nil, err
	}

	result, err := g.run(ctx, def, tools.Request{
		Customer:   req.Customer,
		Credential: cred,
		Arguments:  req.Arguments,
	})
	g.record(req, def.Category, start, err)
	if err != nil {
		return nil, err
	}

	return &ExecuteResult{
		Tool:       req.Tool,
		Result:     result,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// trackInstance upserts the client sighting. Best-effort and asynchronous:
// tracking is observability, never a reason to fail the call.
func (g *Gateway) trackInstance(req ExecuteRequest) {
	if req.InstanceID == "" {
		return
	}

	inst := &models.CustomerInstance{
		ID:         uuid.New(),
		CustomerID: req.Customer.ID,
		InstanceID: req.InstanceID,
		Version:    req.ClientVersion,
		Origin:     req.Origin,
		LastSeenAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.UpsertCustomerInstance(ctx, inst); err != nil {
			slog.Warn("failed to track customer instance",
				"customer_id", req.Customer.ID, "instance_id", req.InstanceID, "error", err)
		}
	}()
}

// resolveCredential supplies the handler's credential: the inline override
// when provided, the vault otherwise. Tools without a service need neither.
func (g *Gateway) resolveCredential(ctx context.Context, req ExecuteRequest, def tools.Definition) (*models.OAuthCredential, error) {
	if def.Service == "" {
		return nil, nil
	}

	if len(req.Credentials) > 0 {
		return credentialFromOverride(req.Customer.ID, def.Service, req.Credentials)
	}

	return g.vault.GetValidCredential(ctx, req.Customer.ID, def.Service)
}

func credentialFromOverride(customerID uuid.UUID, service string, override map[string]any) (*models.OAuthCredential, error) {
	accessToken, _ := override["access_token"].(string)
	if accessToken == "" {
		accessToken, _ = override["token"].(string)
	}
	if accessToken == "" {
		return nil, fmt.Errorf("inline credentials missing access_token")
	}

	baseURL, _ := override["base_url"].(string)
	credType, _ := override["credential_type"].(string)
	if credType == "" {
		credType = models.CredentialAPIToken
	}
	identity, _ := override["identity"].(string)

	return &models.OAuthCredential{
		CustomerID:     customerID,
		Service:        service,
		CredentialType: credType,
		Status:         models.CredentialStatusActive,
		AccessToken:    accessToken,
		BaseURL:        baseURL,
		Identity:       identity,
		Enabled:        true,
	}, nil
}

// run races the handler against the execution timeout. Cancellation is
// best-effort: the handler's context is cancelled, and a result arriving
// after the deadline is discarded via the buffered channel.
func (g *Gateway) run(ctx context.Context, def tools.Definition, treq tools.Request) (any, error) {
	execCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in tool handler", "tool", def.Name, "panic", r)
				done <- outcome{err: fmt.Errorf("tool %s panicked", def.Name)}
			}
		}()
		result, err := def.Handler(execCtx, treq)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrExecutionTimeout
		}
		return nil, execCtx.Err()
	}
}

// record emits the usage entry for one outcome. The full error is logged
// server-side; the entry itself keeps a single-line message.
func (g *Gateway) record(req ExecuteRequest, category string, start time.Time, execErr error) {
	entry := &models.UsageLogEntry{
		CustomerID:    req.Customer.ID,
		InstanceID:    req.InstanceID,
		ToolName:      req.Tool,
		Category:      category,
		Success:       execErr == nil,
		DurationMs:    time.Since(start).Milliseconds(),
		RequestParams: RedactJSON(req.Arguments),
		Origin:        req.Origin,
	}
	if execErr != nil {
		msg := execErr.Error()
		entry.ErrorMessage = &msg
		slog.Error("tool execution failed",
			"customer_id", req.Customer.ID, "tool", req.Tool,
			"duration_ms", entry.DurationMs, "error", execErr)
	}
	g.meter.Record(entry)
}
