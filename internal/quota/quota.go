// Package quota counts calls to metered external APIs per service, endpoint,
// UTC day and user, and refuses calls once a service's daily limit is reached.
package quota

import (
	"context"
	"strings"
	"time"
)

const (
	// DefaultDailyLimit applies to services without a stored configuration.
	DefaultDailyLimit int64 = 2000

	// GlobalUserID is the user id recorded for calls not attributed to a user.
	GlobalUserID = "global"

	// DateLayout is the format of usage dates (UTC calendar days).
	DateLayout = "2006-01-02"

	// DefaultRetentionDays is used by CleanupOldRecords when no age is given.
	DefaultRetentionDays = 30
)

// ServiceConfig is the quota policy of one service.
type ServiceConfig struct {
	Service    string `json:"service" bson:"_id"`
	DailyLimit int64  `json:"daily_limit" bson:"daily_limit"`
	Enabled    bool   `json:"enabled" bson:"enabled"`
}

// ConfigUpdate carries the fields to change in UpdateConfig. Nil fields keep
// their current value.
type ConfigUpdate struct {
	DailyLimit *int64
	Enabled    *bool
}

// Call identifies one external API call.
type Call struct {
	Service  string
	Endpoint string

	// UserID defaults to GlobalUserID
	UserID string
}

// UsageKey identifies one usage counter.
type UsageKey struct {
	Service  string
	Endpoint string
	Date     string
	UserID   string
}

// NewUsageKey builds a counter key, mapping an empty user id to GlobalUserID.
func NewUsageKey(service, endpoint, date, userID string) UsageKey {
	if userID == "" {
		userID = GlobalUserID
	}
	return UsageKey{Service: service, Endpoint: endpoint, Date: date, UserID: userID}
}

// String renders the key for memo lookups.
func (k UsageKey) String() string {
	return strings.Join([]string{k.Service, k.Endpoint, k.Date, k.UserID}, "\x1f")
}

// DateOf returns the usage date of t.
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Store persists quota configuration and usage counters.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetConfig returns the stored configuration of service, if any.
	GetConfig(ctx context.Context, service string) (ServiceConfig, bool, error)

	// CreateConfigIfAbsent inserts cfg unless a configuration already exists
	// and returns whichever configuration is stored afterwards.
	CreateConfigIfAbsent(ctx context.Context, cfg ServiceConfig) (ServiceConfig, error)

	// SaveConfig inserts or replaces the configuration of cfg.Service.
	SaveConfig(ctx context.Context, cfg ServiceConfig) error

	// GetUsage returns the counter value, 0 when the counter does not exist.
	GetUsage(ctx context.Context, key UsageKey) (int64, error)

	// IncrementUsage adds one to the counter, creating it at 1, and returns
	// the new value. It must be a single atomic operation.
	IncrementUsage(ctx context.Context, key UsageKey) (int64, error)

	// DeleteUsage removes every counter of service on date.
	DeleteUsage(ctx context.Context, service, date string) (int64, error)

	// DeleteUsageBefore removes every counter dated strictly before date.
	DeleteUsageBefore(ctx context.Context, date string) (int64, error)

	Close() error
}
