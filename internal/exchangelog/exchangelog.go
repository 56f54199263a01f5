// Package exchangelog keeps an append-only record of chat-completion requests
// and their responses, one directory per itinerary. The log is for audit and
// debugging; nothing reads it back to answer a request.
package exchangelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
)

const (
	// Subdir is the directory under the cache root that holds the log.
	Subdir = "chatgpt"

	// TimestampLayout formats the correlation id returned by SaveRequest.
	TimestampLayout = "2006-01-02T15:04:05.000Z"

	requestPrefix  = "request_"
	responsePrefix = "response_"
	fileSuffix     = ".json"

	// maxTimestampBumps bounds the search for a free request name when
	// several requests share a millisecond.
	maxTimestampBumps = 1000
)

var itineraryPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Message is one chat message of a request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// RequestOptions are the optional sampling parameters of a request.
type RequestOptions struct {
	MaxTokens   *int
	Temperature *float64
}

type requestRecord struct {
	ItineraryID string    `json:"itineraryId"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Timestamp   string    `json:"timestamp"`
	MaxTokens   *int      `json:"maxTokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type responseRecord struct {
	ItineraryID       string          `json:"itineraryId"`
	RequestTimestamp  string          `json:"requestTimestamp"`
	ResponseTimestamp string          `json:"responseTimestamp"`
	Response          json.RawMessage `json:"response"`
	Usage             json.RawMessage `json:"usage,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Config configures a Log.
type Config struct {
	// BaseDir is the cache root; records go to <BaseDir>/chatgpt (default ./.cache)
	BaseDir string

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Log writes exchange records. Writes never fail the caller: errors are logged.
type Log struct {
	dir    string
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates a Log. Directories are created on first write.
func New(cfg Config) *Log {
	if cfg.BaseDir == "" {
		cfg.BaseDir = "./.cache"
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Log{
		dir:    filepath.Join(cfg.BaseDir, Subdir),
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
}

// Dir returns the directory holding every itinerary's records.
func (l *Log) Dir() string {
	return l.dir
}

// FileStamp converts a correlation id into the form used in file names.
func FileStamp(timestamp string) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(timestamp)
}

// RequestFileName returns the name of the request record for timestamp.
func RequestFileName(timestamp string) string {
	return requestPrefix + FileStamp(timestamp) + fileSuffix
}

// ResponseFileName returns the name of the response record for timestamp.
func ResponseFileName(timestamp string) string {
	return responsePrefix + FileStamp(timestamp) + fileSuffix
}

func validItinerary(id string) bool {
	return itineraryPattern.MatchString(id)
}

// SaveRequest records an outgoing request and returns its timestamp, which
// correlates the response written later by SaveResponse. The timestamp is
// returned even when the record could not be written.
func (l *Log) SaveRequest(_ context.Context, itineraryID string, messages []Message, model string, opts RequestOptions) string {
	now := l.clock.Now().UTC()
	ts := now.Format(TimestampLayout)

	if !validItinerary(itineraryID) {
		l.logger.Warn("invalid itinerary id, request not logged", "itinerary_id", itineraryID)
		return ts
	}

	dir := filepath.Join(l.dir, itineraryID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.logger.Warn("failed to create exchange log directory", "itinerary_id", itineraryID, "error", err)
		return ts
	}

	for i := 0; i < maxTimestampBumps; i++ {
		ts = now.Add(time.Duration(i) * time.Millisecond).Format(TimestampLayout)

		b, err := json.MarshalIndent(requestRecord{
			ItineraryID: itineraryID,
			Model:       model,
			Messages:    messages,
			Timestamp:   ts,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		}, "", "  ")
		if err != nil {
			l.logger.Warn("failed to encode exchange request", "itinerary_id", itineraryID, "error", err)
			return ts
		}

		err = writeNew(filepath.Join(dir, RequestFileName(ts)), b)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			l.logger.Warn("failed to write exchange request", "itinerary_id", itineraryID, "error", err)
		}
		return ts
	}

	l.logger.Warn("no free exchange request name", "itinerary_id", itineraryID, "timestamp", ts)
	return ts
}

// SaveResponse records the outcome of the request identified by
// requestTimestamp. On success response is stored together with its "usage"
// field; when callErr is set the record carries the error and a null response.
func (l *Log) SaveResponse(_ context.Context, itineraryID, requestTimestamp string, response any, callErr error) {
	if !validItinerary(itineraryID) {
		l.logger.Warn("invalid itinerary id, response not logged", "itinerary_id", itineraryID)
		return
	}

	rec := responseRecord{
		ItineraryID:       itineraryID,
		RequestTimestamp:  requestTimestamp,
		ResponseTimestamp: l.clock.Now().UTC().Format(TimestampLayout),
	}

	if callErr != nil {
		rec.Error = callErr.Error()
	} else {
		payload, err := json.Marshal(response)
		if err != nil {
			l.logger.Warn("failed to encode exchange response", "itinerary_id", itineraryID, "error", err)
			rec.Error = fmt.Sprintf("unserializable response: %v", err)
		} else {
			rec.Response = payload
			if usage := gjson.GetBytes(payload, "usage"); usage.IsObject() {
				rec.Usage = json.RawMessage(usage.Raw)
			}
		}
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		l.logger.Warn("failed to encode exchange response", "itinerary_id", itineraryID, "error", err)
		return
	}

	dir := filepath.Join(l.dir, itineraryID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.logger.Warn("failed to create exchange log directory", "itinerary_id", itineraryID, "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, ResponseFileName(requestTimestamp)), b, 0o644); err != nil {
		l.logger.Warn("failed to write exchange response", "itinerary_id", itineraryID, "error", err)
	}
}

// writeNew creates path exclusively and writes data to it.
func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
