package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/ForgeFlow/internal/adapter/otel"
	"github.com/Strob0t/ForgeFlow/internal/adapter/ws"
	"github.com/Strob0t/ForgeFlow/internal/config"
	"github.com/Strob0t/ForgeFlow/internal/domain"
	"github.com/Strob0t/ForgeFlow/internal/domain/credential"
	"github.com/Strob0t/ForgeFlow/internal/port/broadcast"
	"github.com/Strob0t/ForgeFlow/internal/port/database"
	"github.com/Strob0t/ForgeFlow/internal/port/messagequeue"
	"github.com/Strob0t/ForgeFlow/internal/resilience"
)

// RetryFunc re-issues the logical operation that was rate limited, under
// the given profile. Best effort: execution resumes without losing
// already-produced partial output, not exactly-once.
type RetryFunc func(ctx context.Context, source, taskID, profileID string) error

// FailoverService maintains credential profiles and swaps the active one
// when the upstream provider rate-limits a request mid-operation.
type FailoverService struct {
	store    database.Store
	queue    messagequeue.Queue
	hub      broadcast.Broadcaster
	metrics  *otel.Metrics
	breaker  *resilience.Breaker
	cfg      config.Failover
	tokenKey []byte
	retry    RetryFunc
	now      func() time.Time

	mu    sync.Mutex
	swaps []credential.Swap
}

// NewFailoverService creates a FailoverService. The default retry
// re-dispatches the task to the agent runner under the new profile.
func NewFailoverService(
	store database.Store,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	breaker *resilience.Breaker,
	cfg config.Failover,
) *FailoverService {
	s := &FailoverService{
		store:    store,
		queue:    queue,
		hub:      hub,
		metrics:  metrics,
		breaker:  breaker,
		cfg:      cfg,
		tokenKey: credential.DeriveKey(cfg.TokenSecret),
		now:      time.Now,
	}
	s.retry = s.defaultRetry
	return s
}

// SetRetryFunc overrides how a rate-limited operation is re-issued.
func (s *FailoverService) SetRetryFunc(fn RetryFunc) {
	s.retry = fn
}

// Profiles lists all credential profiles. Tokens never leave the store.
func (s *FailoverService) Profiles(ctx context.Context) ([]credential.Profile, error) {
	return s.store.ListProfiles(ctx)
}

// AddProfile registers a new authenticated profile. The provider token is
// encrypted at rest with a key derived from the configured secret.
func (s *FailoverService) AddProfile(ctx context.Context, name, token string, isDefault bool) (*credential.Profile, error) {
	if name == "" {
		return nil, domain.NewValidationError("name", "must not be empty")
	}
	if token == "" {
		return nil, domain.NewValidationError("token", "must not be empty")
	}

	encrypted, err := credential.EncryptToken([]byte(token), s.tokenKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt profile token: %w", err)
	}

	now := s.now()
	p := &credential.Profile{
		ID:              uuid.NewString(),
		Name:            name,
		IsDefault:       isDefault,
		IsAuthenticated: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateProfile(ctx, p, encrypted); err != nil {
		return nil, &domain.PersistenceError{Op: "create profile", Err: err}
	}

	slog.Info("credential profile added", "profile_id", p.ID, "name", name, "default", isDefault)
	return p, nil
}

// ActivateProfile makes the given profile the single active one.
func (s *FailoverService) ActivateProfile(ctx context.Context, profileID string) error {
	if _, err := s.store.GetProfile(ctx, profileID); err != nil {
		return err
	}
	if err := s.store.SetActiveProfile(ctx, profileID); err != nil {
		return &domain.PersistenceError{Op: "activate profile", Err: err}
	}
	return nil
}

// PendingRateLimits lists throttle events awaiting resolution.
func (s *FailoverService) PendingRateLimits(ctx context.Context) ([]credential.RateLimitEvent, error) {
	return s.store.ListPendingRateLimits(ctx)
}

// Swaps returns the profile swaps recorded since startup, newest last.
func (s *FailoverService) Swaps() []credential.Swap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]credential.Swap, len(s.swaps))
	copy(out, s.swaps)
	return out
}

// HandleRateLimitMessage is the queue handler for provider.ratelimit.
func (s *FailoverService) HandleRateLimitMessage(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.RateLimitPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode rate limit payload: %w", err)
	}
	if p.Source == "" || p.ProfileID == "" {
		return domain.NewValidationError("payload", "source and profile_id are required")
	}

	ev := &credential.RateLimitEvent{
		ID:         uuid.NewString(),
		Source:     p.Source,
		TaskID:     p.TaskID,
		ProfileID:  p.ProfileID,
		LimitType:  credential.LimitType(p.LimitType),
		DetectedAt: s.now(),
	}
	if p.ResetTimeUnix > 0 {
		t := time.Unix(p.ResetTimeUnix, 0)
		ev.ResetTime = &t
	}

	kind := credential.SwapReactive
	if p.Proactive {
		kind = credential.SwapProactive
	}
	return s.handleRateLimit(ctx, ev, p.SuggestedProfileID, kind)
}

// HandleUsageMessage is the queue handler for provider.usage. Agents
// report per-profile quota consumption here so alternate selection
// compares real remaining budgets instead of stored defaults.
func (s *FailoverService) HandleUsageMessage(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.UsagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode usage payload: %w", err)
	}
	if p.ProfileID == "" {
		return domain.NewValidationError("payload", "profile_id is required")
	}

	profile, err := s.store.GetProfile(ctx, p.ProfileID)
	if err != nil {
		return err
	}

	quota := credential.Quota{Used: p.Used, Limit: p.Limit}
	if p.ResetTimeUnix > 0 {
		t := time.Unix(p.ResetTimeUnix, 0)
		quota.ResetAt = &t
	}
	if err := s.store.UpdateProfileQuota(ctx, p.ProfileID, quota); err != nil {
		return &domain.PersistenceError{Op: "update profile quota", Err: err}
	}
	slog.Debug("profile quota updated",
		"profile_id", p.ProfileID, "used", p.Used, "limit", p.Limit)

	// An exhausted active profile triggers a proactive swap before the
	// provider starts rejecting requests.
	if !profile.IsActive || quota.Remaining() > 0 {
		return nil
	}
	ev := &credential.RateLimitEvent{
		ID:         uuid.NewString(),
		Source:     "usage",
		ProfileID:  p.ProfileID,
		LimitType:  credential.LimitTypeQuota,
		ResetTime:  quota.ResetAt,
		DetectedAt: s.now(),
	}
	return s.handleRateLimit(ctx, ev, "", credential.SwapProactive)
}

// handleRateLimit records the event and, when auto-switch is on and an
// alternate exists, swaps the active profile and re-issues the operation.
// Otherwise the event stays pending for the caller to resolve.
func (s *FailoverService) handleRateLimit(ctx context.Context, ev *credential.RateLimitEvent, suggestedID string, kind credential.SwapKind) error {
	if err := s.store.CreatePendingRateLimit(ctx, ev); err != nil {
		return &domain.PersistenceError{Op: "record rate limit", Err: err}
	}
	slog.Warn("provider rate limit detected",
		"source", ev.Source, "task_id", ev.TaskID, "profile_id", ev.ProfileID, "type", ev.LimitType)

	if !s.cfg.AutoSwitch {
		return nil
	}

	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return err
	}
	alt := credential.SelectAlternate(profiles, ev.ProfileID, suggestedID)
	if alt == nil {
		slog.Warn("no alternate profile for failover; event left pending",
			"source", ev.Source, "profile_id", ev.ProfileID)
		return nil
	}

	if err := s.swapTo(ctx, ev.ProfileID, alt.ID, kind, ev.Source, ev.TaskID); err != nil {
		return err
	}

	if err := s.breaker.Execute(func() error {
		return s.retry(ctx, ev.Source, ev.TaskID, alt.ID)
	}); err != nil {
		slog.Error("retry under alternate profile", "profile_id", alt.ID, "error", err)
		return nil // event stays pending, retryWithProfile can resolve it
	}

	if err := s.store.ResolveRateLimit(ctx, ev.Source, ev.TaskID); err != nil {
		return &domain.PersistenceError{Op: "resolve rate limit", Err: err}
	}
	return nil
}

// RetryRequest identifies the operation to retry and the profile to use.
type RetryRequest struct {
	Source    string `json:"source"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	ProfileID string `json:"profile_id"`
}

// RetryWithProfile activates the given profile and retries the pending
// operation. Success clears the pending rate-limit state for the
// task/source pair.
func (s *FailoverService) RetryWithProfile(ctx context.Context, req RetryRequest) error {
	if req.ProfileID == "" {
		return domain.NewValidationError("profile_id", "must not be empty")
	}
	if req.Source == "" {
		return domain.NewValidationError("source", "must not be empty")
	}

	p, err := s.store.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return err
	}
	if !p.IsAuthenticated {
		return domain.NewValidationError("profile_id", "profile is not authenticated")
	}

	active := activeProfileID(ctx, s.store)
	if err := s.store.SetActiveProfile(ctx, p.ID); err != nil {
		return &domain.PersistenceError{Op: "activate profile", Err: err}
	}
	if active != "" && active != p.ID {
		s.recordSwap(ctx, credential.Swap{
			FromProfileID: active,
			ToProfileID:   p.ID,
			Kind:          credential.SwapReactive,
			Source:        req.Source,
			TaskID:        req.TaskID,
			SwappedAt:     s.now(),
		})
	}

	if err := s.breaker.Execute(func() error {
		return s.retry(ctx, req.Source, req.TaskID, p.ID)
	}); err != nil {
		return fmt.Errorf("retry with profile %s: %w", p.ID, err)
	}

	if err := s.store.ResolveRateLimit(ctx, req.Source, req.TaskID); err != nil {
		return &domain.PersistenceError{Op: "resolve rate limit", Err: err}
	}

	slog.Info("operation retried under profile", "profile_id", p.ID, "source", req.Source, "task_id", req.TaskID)
	return nil
}

func (s *FailoverService) swapTo(ctx context.Context, fromID, toID string, kind credential.SwapKind, source, taskID string) error {
	if err := s.store.SetActiveProfile(ctx, toID); err != nil {
		return &domain.PersistenceError{Op: "activate profile", Err: err}
	}
	s.recordSwap(ctx, credential.Swap{
		FromProfileID: fromID,
		ToProfileID:   toID,
		Kind:          kind,
		Source:        source,
		TaskID:        taskID,
		SwappedAt:     s.now(),
	})
	slog.Info("credential profile swapped",
		"from", fromID, "to", toID, "kind", kind, "source", source, "task_id", taskID)
	return nil
}

func (s *FailoverService) recordSwap(ctx context.Context, swap credential.Swap) {
	s.mu.Lock()
	s.swaps = append(s.swaps, swap)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FailoverSwaps.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(swap.Kind)),
		))
	}
	s.hub.BroadcastEvent(ctx, ws.EventFailoverSwap, ws.FailoverSwapEvent{
		FromProfileID: swap.FromProfileID,
		ToProfileID:   swap.ToProfileID,
		Kind:          string(swap.Kind),
		TaskID:        swap.TaskID,
	})
}

// defaultRetry re-dispatches the task start message under the new
// profile. Sourceless events have nothing to re-issue here; the agent
// side resumes on its own once the profile flips.
func (s *FailoverService) defaultRetry(ctx context.Context, source, taskID, profileID string) error {
	if taskID == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{
		"task_id":    taskID,
		"profile_id": profileID,
		"source":     source,
	})
	if err != nil {
		return err
	}
	return s.queue.Publish(ctx, messagequeue.SubjectTaskStart, data)
}

// activeProfileID returns the currently active profile's ID, empty when
// none is marked active.
func activeProfileID(ctx context.Context, store database.Store) string {
	profiles, err := store.ListProfiles(ctx)
	if err != nil {
		return ""
	}
	for _, p := range profiles {
		if p.IsActive {
			return p.ID
		}
	}
	return ""
}
