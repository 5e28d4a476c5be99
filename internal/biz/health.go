package biz

import (
	"context"
	"time"

	"CloudRelay/internal/data"
	"CloudRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// OperationHealthCheck is the operation name health probes are tracked under.
const OperationHealthCheck = "health_check"

// unhealthyStreak is the failure streak after which a connection counts as unhealthy
// even when its last error is recoverable.
const unhealthyStreak = 5

// ProbeResult is the outcome of one ping against a provider.
type ProbeResult struct {
	Err     error
	Kind    model.ErrorKind
	Latency time.Duration
	Data    map[string]interface{}
}

// Failed reports whether the probe failed.
func (p *ProbeResult) Failed() bool {
	return p != nil && p.Err != nil
}

// BuildHealthStatus derives a connection snapshot from the stored credential and the latest probe.
// It is a pure function: the same inputs always give the same snapshot.
func BuildHealthStatus(principalID int64, provider model.Provider, cred *data.Credential, probe *ProbeResult, consecutive int64, now time.Time) model.HealthStatus {
	status := model.HealthStatus{
		Provider:            provider,
		PrincipalID:         principalID,
		ConsecutiveFailures: consecutive,
		CheckedAt:           now,
	}

	if !cred.IsConnected() {
		status.Status = model.StateDisconnected
		status.RequiresReconnection = true
		return status
	}

	status.TokenExpiresAt = cred.ExpiresAt
	status.LastSuccessfulOperation = cred.LastSuccessAt
	status.LastErrorKind = cred.LastErrorKind
	status.LastErrorMessage = cred.LastErrorMessage

	if probe != nil {
		status.ProviderSpecificData = map[string]interface{}{
			"latency_ms": probe.Latency.Milliseconds(),
		}
		for k, v := range probe.Data {
			status.ProviderSpecificData[k] = v
		}
	}

	switch {
	case probe.Failed():
		status.LastErrorKind = probe.Kind
		status.LastErrorMessage = probe.Err.Error()
		status.RequiresReconnection = probe.Kind == model.ErrorKindInvalidCredentials ||
			probe.Kind == model.ErrorKindInsufficientPermissions
		if probe.Kind.IsRecoverable() && consecutive < unhealthyStreak {
			status.Status = model.StateDegraded
		} else {
			status.Status = model.StateUnhealthy
		}
	case probe != nil:
		checked := now
		status.LastSuccessfulOperation = &checked
		status.LastErrorKind = ""
		status.LastErrorMessage = ""
		status.ConsecutiveFailures = 0
		status.Status = model.StateHealthy
	case cred.Status == data.CredentialError:
		status.Status = model.StateUnhealthy
		status.RequiresReconnection = cred.LastErrorKind.RequiresUserIntervention()
	case !cred.ValidFor(now, 0):
		// expired and not probed yet
		status.Status = model.StateDegraded
		if status.LastErrorKind == "" {
			status.LastErrorKind = model.ErrorKindTokenExpired
		}
	default:
		status.Status = model.StateHealthy
	}

	return status
}

// HealthChecker probes connections through the registered provider adapters.
type HealthChecker struct {
	creds      CredentialRepo
	registry   *ProviderRegistry
	classifier *ErrorClassifier
	tracker    *ErrorTracker
	logger     *log.Helper
	now        func() time.Time
}

// NewHealthChecker creates a health checker.
func NewHealthChecker(creds CredentialRepo, registry *ProviderRegistry, classifier *ErrorClassifier, tracker *ErrorTracker, logger log.Logger) *HealthChecker {
	return &HealthChecker{
		creds:      creds,
		registry:   registry,
		classifier: classifier,
		tracker:    tracker,
		logger:     log.NewHelper(logger),
		now:        time.Now,
	}
}

// ValidateConnectionHealth pings the provider with the principal's credential and returns a
// fresh snapshot. A missing credential is reported as a disconnected status, not an error.
func (h *HealthChecker) ValidateConnectionHealth(ctx context.Context, principalID int64, provider model.Provider) (*model.HealthStatus, error) {
	cred, err := h.creds.GetCredential(ctx, principalID, provider)
	if err != nil {
		if data.IsCredentialNotFound(err) {
			status := BuildHealthStatus(principalID, provider, nil, nil, 0, h.now())
			return &status, nil
		}
		return nil, err
	}
	if !cred.IsConnected() {
		status := BuildHealthStatus(principalID, provider, cred, nil, 0, h.now())
		return &status, nil
	}

	probe := h.probe(ctx, provider, cred)

	var consecutive int64
	if probe.Failed() {
		res, err := h.tracker.TrackFailure(ctx, &Failure{
			PrincipalID: principalID,
			Provider:    provider,
			Kind:        probe.Kind,
			Operation:   OperationHealthCheck,
			Message:     probe.Err.Error(),
		})
		if err != nil {
			h.logger.Warnw("msg", "failed to track health check failure", "provider", provider, "principal_id", principalID, "error", err)
		} else {
			consecutive = res.Consecutive
		}
	} else if err := h.tracker.TrackSuccess(ctx, principalID, provider, OperationHealthCheck); err != nil {
		h.logger.Warnw("msg", "failed to reset health check streak", "provider", provider, "principal_id", principalID, "error", err)
	}

	status := BuildHealthStatus(principalID, provider, cred, probe, consecutive, h.now())
	h.logger.Debugw("msg", "connection health checked",
		"provider", provider,
		"principal_id", principalID,
		"status", status.Status,
		"error_kind", status.LastErrorKind)
	return &status, nil
}

// PerformLiveAPITest makes one lightweight call to confirm the provider answers.
func (h *HealthChecker) PerformLiveAPITest(ctx context.Context, principalID int64, provider model.Provider) (*model.LiveTestResult, error) {
	cred, err := h.creds.GetCredential(ctx, principalID, provider)
	if err != nil {
		if data.IsCredentialNotFound(err) {
			return &model.LiveTestResult{
				Message:   "no credential stored for provider",
				ErrorKind: model.ErrorKindInvalidCredentials,
			}, nil
		}
		return nil, err
	}

	probe := h.probe(ctx, provider, cred)
	if probe.Failed() {
		return &model.LiveTestResult{
			Message:   probe.Err.Error(),
			ErrorKind: probe.Kind,
		}, nil
	}

	return &model.LiveTestResult{Successful: true, Message: "provider reachable"}, nil
}

func (h *HealthChecker) probe(ctx context.Context, provider model.Provider, cred *data.Credential) *ProbeResult {
	client, err := h.registry.Client(provider)
	if err != nil {
		return &ProbeResult{Err: err, Kind: h.classifier.Classify(provider, err)}
	}

	start := h.now()
	err = client.Ping(ctx, cred)
	probe := &ProbeResult{Latency: h.now().Sub(start)}
	if err != nil {
		probe.Err = err
		probe.Kind = h.classifier.Classify(provider, err)
	}
	return probe
}
