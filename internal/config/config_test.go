package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ncaaf_v5/feedcache/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		SportsDataAPIKey:    "test-key",
		SportsDataBaseURL:   "https://api.sportsdata.io/v3/cfb",
		SportsDataTimeout:   10 * time.Second,
		TemplateVars:        map[string]string{"season": "2025", "week": "8"},
		RateLimitWindow:     60 * time.Second,
		CacheTTLScores:      120,
		CacheTTLOdds:        300,
		CacheTTLProps:       300,
		CacheTTLPredictions: 600,
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SPORTSDATA_API_KEY", "abc")
	t.Setenv("TEMPLATE_VARS", "season:2024,week:12")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.SportsDataAPIKey)
	assert.Equal(t, 10*time.Second, cfg.SportsDataTimeout)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 8080, cfg.IngestionPort)
	assert.Equal(t, map[string]string{"season": "2024", "week": "12"}, cfg.TemplateVars)
	assert.False(t, cfg.EnableSnapshotStore)
	assert.False(t, cfg.EnableRedisMirror)
	assert.Equal(t, "feedcache:", cfg.RedisKeyPrefix)
}

func TestValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	cfg.SportsDataAPIKey = ""
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.EnableSnapshotStore = true
	assert.Error(t, cfg.Validate(), "snapshot store needs a database password")
	cfg.DatabasePassword = "secret"
	assert.NoError(t, cfg.Validate())

	cfg = testConfig()
	cfg.RateLimitWindow = 0
	assert.Error(t, cfg.Validate())
}

func TestDefaultSources(t *testing.T) {
	cfg := testConfig()

	sources := DefaultSources(cfg)
	require.Len(t, sources, 3)

	byID := make(map[string]source.Descriptor)
	for _, d := range sources {
		require.NoError(t, d.Validate(), d.ID)
		require.NoError(t, d.Target.CheckPlaceholders(cfg.TemplateVars), d.ID)
		byID[d.ID] = d
	}

	odds := byID["odds"]
	assert.Equal(t, &source.RateLimit{Max: 1, Window: 60 * time.Second}, odds.RateLimit)
	assert.Equal(t, "G1002", odds.Target.Query["groups"])
	assert.Equal(t, "test-key", odds.Target.Headers["Ocp-Apim-Subscription-Key"])

	props := byID["props"]
	assert.Equal(t, &source.ActiveWindow{Start: 18, End: 23.5}, props.Window)
	assert.Equal(t, "America/New_York", props.Timezone)

	cfg.PredictionsBaseURL = "http://predictions:8082"
	sources = DefaultSources(cfg)
	require.Len(t, sources, 4)
	assert.Equal(t, "predictions", sources[3].ID)
	assert.JSONEq(t, `{"predictions":[],"status":"pending"}`, string(sources[3].Fallback))
}

const catalogTOML = `
[[source]]
id = "odds"
description = "Sharp odds"
path = "odds/json/GameOddsByWeek/{season}/{week}"
schedule = "*/2 * * * *"
ttl = "5m"

[source.query]
groups = "G1002"

[source.rate_limit]
max = 1

[[source]]
id = "props"
base_url = "https://props.example.com"
path = "v2/props/{date}"
interval = "45s"
timezone = "America/New_York"
cache_key = "props:evening"
request_timeout = "3s"
api_key_env = "PROPS_API_KEY"
api_key_header = "X-Api-Key"
fallback = '{"props":[]}'

[source.window]
start = 18.0
end = 23.5

[source.rate_limit]
max = 10
window = "30s"
`

func TestParseSources(t *testing.T) {
	t.Setenv("PROPS_API_KEY", "props-secret")
	cfg := testConfig()

	sources, err := ParseSources(cfg, []byte(catalogTOML))
	require.NoError(t, err)
	require.Len(t, sources, 2)

	odds := sources[0]
	assert.Equal(t, "odds", odds.ID)
	assert.Equal(t, "odds", odds.CacheKey)
	assert.Equal(t, cfg.SportsDataBaseURL, odds.Target.BaseURL)
	assert.Equal(t, "test-key", odds.Target.Headers["Ocp-Apim-Subscription-Key"])
	assert.Equal(t, 5*time.Minute, odds.TTL)
	assert.Equal(t, cfg.SportsDataTimeout, odds.RequestTimeout)
	assert.Equal(t, &source.RateLimit{Max: 1, Window: 60 * time.Second}, odds.RateLimit)

	props := sources[1]
	assert.Equal(t, "props:evening", props.CacheKey)
	assert.Equal(t, "https://props.example.com", props.Target.BaseURL)
	assert.Equal(t, "props-secret", props.Target.Headers["X-Api-Key"])
	assert.Equal(t, 45*time.Second, props.Interval)
	assert.Equal(t, 3*time.Second, props.RequestTimeout)
	assert.Equal(t, &source.ActiveWindow{Start: 18, End: 23.5}, props.Window)
	assert.Equal(t, &source.RateLimit{Max: 10, Window: 30 * time.Second}, props.RateLimit)
	assert.JSONEq(t, `{"props":[]}`, string(props.Fallback))

	for _, d := range sources {
		assert.NoError(t, d.Validate(), d.ID)
	}
}

func TestParseSources_Errors(t *testing.T) {
	cfg := testConfig()

	_, err := ParseSources(cfg, []byte(`not = [valid`))
	assert.Error(t, err)

	_, err = ParseSources(cfg, []byte(`title = "empty"`))
	assert.Error(t, err)

	_, err = ParseSources(cfg, []byte("[[source]]\nid = \"x\"\npath = \"p\"\nschedule = \"@every 1m\"\nttl = \"soon\"\n"))
	assert.ErrorContains(t, err, "invalid ttl")

	_, err = ParseSources(cfg, []byte("[[source]]\nid = \"x\"\npath = \"p\"\nschedule = \"@every 1m\"\napi_key_env = \"FEEDCACHE_UNSET_KEY\"\n"))
	assert.ErrorContains(t, err, "FEEDCACHE_UNSET_KEY")
}

func TestLoadSources_File(t *testing.T) {
	t.Setenv("PROPS_API_KEY", "props-secret")
	path := filepath.Join(t.TempDir(), "sources.toml")
	require.NoError(t, os.WriteFile(path, []byte(catalogTOML), 0o600))

	cfg := testConfig()
	cfg.SourcesFile = path
	sources, err := cfg.LoadSources()
	require.NoError(t, err)
	assert.Len(t, sources, 2)

	cfg.SourcesFile = ""
	sources, err = cfg.LoadSources()
	require.NoError(t, err)
	assert.Len(t, sources, 3)
}
