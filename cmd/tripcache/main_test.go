package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripcache/internal/cachekey"
)

// testEnv points every command at a fresh cache directory and SQLite file.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CACHE_BASE_DIR", dir)
	t.Setenv("CACHE_BACKEND", "file")
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "quota.db"))
	t.Setenv("QUOTA_MEMO_BACKEND", "local")
	t.Setenv("QUOTA_DEFAULT_DAILY_LIMIT", "2000")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--env-file", filepath.Join(dir, "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestKey_OrderIndependent(t *testing.T) {
	dir := t.TempDir()

	a, err := runCLI(t, dir, "key", `{"place_id":"abc","fields":["name","rating"]}`)
	require.NoError(t, err)
	b, err := runCLI(t, dir, "key", `{"fields":["name","rating"],"place_id":"abc"}`)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.True(t, cachekey.Valid(strings.TrimSpace(a)))
}

func TestKey_Parts(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "key", "--parts", "abc", "800")
	require.NoError(t, err)
	assert.Equal(t, cachekey.DeriveParts("abc", "800"), strings.TrimSpace(out))
}

func TestKey_InvalidJSON(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "key", `{"broken"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestCachePresets(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "cache", "presets")
	require.NoError(t, err)
	assert.Contains(t, out, "name: development")
	assert.Contains(t, out, "name: production-conservative")

	out, err = runCLI(t, dir, "cache", "presets", "production", "--env")
	require.NoError(t, err)
	assert.Equal(t, "CACHE_IMAGES_TTL_HOURS=8760\nCACHE_PLACES_TTL_HOURS=8760\nCACHE_SEARCHES_TTL_HOURS=8760\n", out)

	_, err = runCLI(t, dir, "cache", "presets", "nope")
	require.Error(t, err)
}

func TestCacheTTL(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("CACHE_SEARCHES_TTL_HOURS", "6")

	out, err := runCLI(t, dir, "cache", "ttl")
	require.NoError(t, err)
	assert.Contains(t, out, "(6 hours)")
	assert.Contains(t, out, "(1 year)")
}

func TestCacheStatsAndClear(t *testing.T) {
	dir := testEnv(t)

	out, err := runCLI(t, dir, "cache", "stats")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"total", "0", "0"}, strings.Fields(lines[4]))

	out, err = runCLI(t, dir, "cache", "clear-expired")
	require.NoError(t, err)
	assert.Equal(t, "Removed 0 expired entries.\n", out)
}

func TestQuota_SetThenStatus(t *testing.T) {
	dir := testEnv(t)

	out, err := runCLI(t, dir, "quota", "set", "places_api", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "places_api: daily limit 5, enabled true\n", out)

	out, err = runCLI(t, dir, "quota", "status", "places_api", "details")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	fields := strings.Fields(lines[1])
	require.Len(t, fields, 8)
	assert.Equal(t, []string{"places_api", "details", "global"}, fields[:3])
	assert.Equal(t, []string{"0", "5", "5", "true"}, fields[4:])

	out, err = runCLI(t, dir, "quota", "set", "places_api", "--disable")
	require.NoError(t, err)
	assert.Equal(t, "places_api: daily limit 5, enabled false\n", out)
}

func TestQuota_SetValidation(t *testing.T) {
	dir := testEnv(t)

	_, err := runCLI(t, dir, "quota", "set", "places_api")
	require.Error(t, err)

	_, err = runCLI(t, dir, "quota", "set", "places_api", "--limit", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily limit must be positive")

	_, err = runCLI(t, dir, "quota", "set", "places_api", "--enable", "--disable")
	require.Error(t, err)
}

func TestQuota_ResetAndCleanup(t *testing.T) {
	dir := testEnv(t)

	out, err := runCLI(t, dir, "quota", "reset", "places_api")
	require.NoError(t, err)
	assert.Equal(t, "Reset 0 counters.\n", out)

	_, err = runCLI(t, dir, "quota", "reset", "places_api", "--date", "yesterday")
	require.Error(t, err)

	out, err = runCLI(t, dir, "quota", "cleanup", "--days", "7")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 0 counters.\n", out)
}

func TestExchanges(t *testing.T) {
	dir := testEnv(t)

	out, err := runCLI(t, dir, "exchanges", "stats")
	require.NoError(t, err)
	var all struct {
		Itineraries []json.RawMessage `json:"itineraries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	assert.Empty(t, all.Itineraries)

	_, err = runCLI(t, dir, "exchanges", "stats", "../etc")
	require.Error(t, err)

	out, err = runCLI(t, dir, "exchanges", "cleanup")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 0 files.\n", out)
}

func TestInvalidConfig(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("CACHE_BACKEND", "memcached")

	_, err := runCLI(t, dir, "cache", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
