package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Config configures a Tracker.
type Config struct {
	// DefaultDailyLimit is applied to services seen for the first time (default 2000)
	DefaultDailyLimit int64

	// Memo defaults to a LocalMemo
	Memo UsageMemo

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

// Tracker enforces daily quotas on top of a Store.
//
// Read paths (GetAPIConfig, GetCurrentUsage, CheckLimit, Status) never fail:
// store errors are logged and answered with defaults or zero. TrackAPICall
// only returns a *LimitError. Operator paths return wrapped errors.
type Tracker struct {
	store        Store
	memo         UsageMemo
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *Metrics
	defaultLimit int64
	configs      singleflight.Group
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, cfg Config) *Tracker {
	if cfg.DefaultDailyLimit <= 0 {
		cfg.DefaultDailyLimit = DefaultDailyLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Memo == nil {
		cfg.Memo = NewLocalMemo(DefaultMemoTTL, cfg.Clock)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tracker{
		store:        store,
		memo:         cfg.Memo,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		defaultLimit: cfg.DefaultDailyLimit,
	}
}

// Today returns the current usage date.
func (t *Tracker) Today() string {
	return DateOf(t.clock.Now())
}

func (t *Tracker) defaults(service string) ServiceConfig {
	return ServiceConfig{Service: service, DailyLimit: t.defaultLimit, Enabled: true}
}

// GetAPIConfig returns the configuration of service, creating it with the
// defaults on first access. If the store fails, the defaults are returned
// and nothing is created.
func (t *Tracker) GetAPIConfig(ctx context.Context, service string) ServiceConfig {
	// Callers waiting on the shared lookup must not fail because the first one went away.
	sharedCtx := context.WithoutCancel(ctx)
	v, _, _ := t.configs.Do(service, func() (any, error) {
		cfg, ok, err := t.store.GetConfig(sharedCtx, service)
		if err != nil {
			t.logger.Error("failed to read quota config, using defaults", "service", service, "error", err)
			t.metrics.failed("get_config")
			return t.defaults(service), nil
		}
		if ok {
			return cfg, nil
		}

		cfg, err = t.store.CreateConfigIfAbsent(sharedCtx, t.defaults(service))
		if err != nil {
			t.logger.Error("failed to create quota config, using defaults", "service", service, "error", err)
			t.metrics.failed("create_config")
			return t.defaults(service), nil
		}
		t.logger.Info("created quota config", "service", service, "daily_limit", cfg.DailyLimit)
		return cfg, nil
	})
	return v.(ServiceConfig)
}

// GetCurrentUsage returns the counter of one endpoint and user on date
// (today when empty), 0 when absent or unreadable.
func (t *Tracker) GetCurrentUsage(ctx context.Context, service, endpoint, date, userID string) int64 {
	if date == "" {
		date = t.Today()
	}
	key := NewUsageKey(service, endpoint, date, userID)
	if n, ok := t.memo.Get(ctx, key); ok {
		return n
	}

	n, err := t.store.GetUsage(ctx, key)
	if err != nil {
		t.logger.Error("failed to read quota usage", "service", service, "endpoint", endpoint, "error", err)
		t.metrics.failed("get_usage")
		return 0
	}
	t.memo.Set(ctx, key, n)
	return n
}

// Status is a snapshot of one caller's quota for today.
type Status struct {
	Service    string `json:"service"`
	Endpoint   string `json:"endpoint"`
	UserID     string `json:"user_id"`
	Date       string `json:"date"`
	Usage      int64  `json:"usage"`
	DailyLimit int64  `json:"daily_limit"`
	Enabled    bool   `json:"enabled"`
	Remaining  int64  `json:"remaining"`
}

// Allowed reports whether another call may be made.
func (s Status) Allowed() bool {
	return s.Enabled && s.Usage < s.DailyLimit
}

// LimitError returns the error describing why the call is refused, or nil.
func (s Status) LimitError() *LimitError {
	if !s.Enabled {
		return &LimitError{Service: s.Service, Endpoint: s.Endpoint, DailyLimit: s.DailyLimit, Disabled: true}
	}
	if s.Usage >= s.DailyLimit {
		return &LimitError{Service: s.Service, Endpoint: s.Endpoint, CurrentUsage: s.Usage, DailyLimit: s.DailyLimit}
	}
	return nil
}

// Status reports today's quota of call.
func (t *Tracker) Status(ctx context.Context, call Call) Status {
	cfg := t.GetAPIConfig(ctx, call.Service)
	key := NewUsageKey(call.Service, call.Endpoint, t.Today(), call.UserID)
	usage := t.GetCurrentUsage(ctx, key.Service, key.Endpoint, key.Date, key.UserID)

	return Status{
		Service:    key.Service,
		Endpoint:   key.Endpoint,
		UserID:     key.UserID,
		Date:       key.Date,
		Usage:      usage,
		DailyLimit: cfg.DailyLimit,
		Enabled:    cfg.Enabled,
		Remaining:  max(cfg.DailyLimit-usage, 0),
	}
}

// CheckLimit reports whether call is within today's quota. It does not count the call.
func (t *Tracker) CheckLimit(ctx context.Context, call Call) bool {
	return t.Status(ctx, call).Allowed()
}

// TrackAPICall records one call. Enablement and usage are re-read from the
// store, bypassing the memo; a disabled or exhausted service yields a
// *LimitError and the counter is left unchanged. Store failures are logged
// and swallowed.
func (t *Tracker) TrackAPICall(ctx context.Context, call Call) error {
	cfg := t.GetAPIConfig(ctx, call.Service)
	key := NewUsageKey(call.Service, call.Endpoint, t.Today(), call.UserID)

	if !cfg.Enabled {
		t.metrics.rejected(key.Service, key.Endpoint, ReasonDisabled)
		t.logger.Warn("quota refused call to disabled service", "service", key.Service, "endpoint", key.Endpoint)
		return &LimitError{Service: key.Service, Endpoint: key.Endpoint, DailyLimit: cfg.DailyLimit, Disabled: true}
	}

	usage, err := t.store.GetUsage(ctx, key)
	if err != nil {
		// the call already happened; record it without re-validation
		t.logger.Error("failed to re-read quota usage", "service", key.Service, "endpoint", key.Endpoint, "error", err)
		t.metrics.failed("get_usage")
	} else if usage >= cfg.DailyLimit {
		t.metrics.rejected(key.Service, key.Endpoint, ReasonLimit)
		t.logger.Warn("daily quota exceeded",
			"service", key.Service, "endpoint", key.Endpoint, "user_id", key.UserID,
			"usage", usage, "daily_limit", cfg.DailyLimit)
		t.memo.Set(ctx, key, usage)
		return &LimitError{Service: key.Service, Endpoint: key.Endpoint, CurrentUsage: usage, DailyLimit: cfg.DailyLimit}
	}

	n, err := t.store.IncrementUsage(ctx, key)
	if err != nil {
		t.logger.Error("failed to record API call", "service", key.Service, "endpoint", key.Endpoint, "error", err)
		t.metrics.failed("increment")
		return nil
	}
	t.memo.Set(ctx, key, n)
	t.metrics.called(key.Service, key.Endpoint)
	t.logger.Debug("API call recorded", "service", key.Service, "endpoint", key.Endpoint, "user_id", key.UserID, "usage", n)
	return nil
}

// UpdateConfig merges update into the stored (or default) configuration of
// service and saves it.
func (t *Tracker) UpdateConfig(ctx context.Context, service string, update ConfigUpdate) (ServiceConfig, error) {
	if service == "" {
		return ServiceConfig{}, fmt.Errorf("service is required")
	}
	if update.DailyLimit != nil && *update.DailyLimit <= 0 {
		return ServiceConfig{}, fmt.Errorf("daily limit must be positive, got %d", *update.DailyLimit)
	}

	cfg, ok, err := t.store.GetConfig(ctx, service)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("failed to read quota config: %w", err)
	}
	if !ok {
		cfg = t.defaults(service)
	}
	if update.DailyLimit != nil {
		cfg.DailyLimit = *update.DailyLimit
	}
	if update.Enabled != nil {
		cfg.Enabled = *update.Enabled
	}

	if err := t.store.SaveConfig(ctx, cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("failed to save quota config: %w", err)
	}
	t.memo.Evict(ctx, service, t.Today())

	t.logger.Info("quota config updated", "service", service, "daily_limit", cfg.DailyLimit, "enabled", cfg.Enabled)
	return cfg, nil
}

// ResetDailyUsage deletes every counter of service on date (today when empty)
// and returns how many were removed.
func (t *Tracker) ResetDailyUsage(ctx context.Context, service, date string) (int64, error) {
	if date == "" {
		date = t.Today()
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return 0, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}

	n, err := t.store.DeleteUsage(ctx, service, date)
	if err != nil {
		return 0, fmt.Errorf("failed to reset quota usage: %w", err)
	}
	t.memo.Evict(ctx, service, date)

	t.logger.Info("quota usage reset", "service", service, "date", date, "counters", n)
	return n, nil
}

// CleanupOldRecords deletes counters dated more than olderThanDays days ago
// (DefaultRetentionDays when olderThanDays <= 0).
func (t *Tracker) CleanupOldRecords(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = DefaultRetentionDays
	}
	cutoff := DateOf(t.clock.Now().AddDate(0, 0, -olderThanDays))

	n, err := t.store.DeleteUsageBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up quota usage: %w", err)
	}
	t.memo.EvictBefore(ctx, cutoff)

	if n > 0 {
		t.logger.Info("cleaned up old quota usage", "before", cutoff, "counters", n)
	}
	return n, nil
}
