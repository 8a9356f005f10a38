package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"ncaaf_v5/feedcache/internal/source"

	"github.com/pelletier/go-toml/v2"
)

// SportsbookGroup represents sportsbook group IDs
type SportsbookGroup string

const (
	GroupConsensus     SportsbookGroup = "G1000"
	GroupMajorUS       SportsbookGroup = "G1001"
	GroupSharp         SportsbookGroup = "G1002"
	GroupInternational SportsbookGroup = "G1003"
)

// sportsDataKeyHeader carries the SportsDataIO subscription key.
const sportsDataKeyHeader = "Ocp-Apim-Subscription-Key"

// catalogFile is the TOML layout of SOURCES_FILE.
type catalogFile struct {
	Sources []sourceEntry `toml:"source"`
}

type sourceEntry struct {
	ID          string `toml:"id"`
	Description string `toml:"description"`

	// BaseURL defaults to SPORTSDATA_BASE_URL with the SportsDataIO key.
	BaseURL string            `toml:"base_url"`
	Path    string            `toml:"path"`
	Query   map[string]string `toml:"query"`
	Headers map[string]string `toml:"headers"`

	// APIKeyEnv names an environment variable sent in APIKeyHeader.
	APIKeyEnv    string `toml:"api_key_env"`
	APIKeyHeader string `toml:"api_key_header"`

	Schedule string `toml:"schedule"`
	Interval string `toml:"interval"`
	Timezone string `toml:"timezone"`

	Window    *windowEntry    `toml:"window"`
	RateLimit *rateLimitEntry `toml:"rate_limit"`

	CacheKey       string `toml:"cache_key"`
	TTL            string `toml:"ttl"`
	RequestTimeout string `toml:"request_timeout"`
	Fallback       string `toml:"fallback"`
}

type windowEntry struct {
	Start float64 `toml:"start"`
	End   float64 `toml:"end"`
}

type rateLimitEntry struct {
	Max    int    `toml:"max"`
	Window string `toml:"window"`
}

// LoadSources returns the source catalog: SOURCES_FILE when set, the
// built-in defaults otherwise.
func (c *Config) LoadSources() ([]source.Descriptor, error) {
	if c.SourcesFile == "" {
		return DefaultSources(c), nil
	}

	data, err := os.ReadFile(c.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseSources(c, data)
}

// ParseSources decodes a TOML catalog of [[source]] tables.
func ParseSources(c *Config, data []byte) ([]source.Descriptor, error) {
	var file catalogFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, fmt.Errorf("sources file declares no [[source]] tables")
	}

	out := make([]source.Descriptor, 0, len(file.Sources))
	for i, e := range file.Sources {
		d, err := e.descriptor(c)
		if err != nil {
			return nil, fmt.Errorf("source #%d (%s): %w", i+1, e.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (e sourceEntry) descriptor(c *Config) (source.Descriptor, error) {
	d := source.Descriptor{
		ID:          e.ID,
		Description: e.Description,
		Schedule:    e.Schedule,
		Timezone:    e.Timezone,
		CacheKey:    e.CacheKey,
		Target: source.Target{
			BaseURL: e.BaseURL,
			Path:    e.Path,
			Query:   e.Query,
			Headers: make(map[string]string, len(e.Headers)+1),
		},
	}
	if d.CacheKey == "" {
		d.CacheKey = e.ID
	}
	for k, v := range e.Headers {
		d.Target.Headers[k] = v
	}

	switch {
	case e.APIKeyEnv != "":
		key := os.Getenv(e.APIKeyEnv)
		if key == "" {
			return d, fmt.Errorf("environment variable %s is empty", e.APIKeyEnv)
		}
		header := e.APIKeyHeader
		if header == "" {
			header = sportsDataKeyHeader
		}
		d.Target.Headers[header] = key
	case d.Target.BaseURL == "":
		d.Target.BaseURL = c.SportsDataBaseURL
		d.Target.Headers[sportsDataKeyHeader] = c.SportsDataAPIKey
	}

	var err error
	if d.Interval, err = parseDuration("interval", e.Interval); err != nil {
		return d, err
	}
	if d.TTL, err = parseDuration("ttl", e.TTL); err != nil {
		return d, err
	}
	if d.RequestTimeout, err = parseDuration("request_timeout", e.RequestTimeout); err != nil {
		return d, err
	}
	if d.RequestTimeout == 0 {
		d.RequestTimeout = c.SportsDataTimeout
	}

	if e.Window != nil {
		d.Window = &source.ActiveWindow{Start: e.Window.Start, End: e.Window.End}
	}
	if e.RateLimit != nil {
		window, err := parseDuration("rate_limit.window", e.RateLimit.Window)
		if err != nil {
			return d, err
		}
		if window == 0 {
			window = c.RateLimitWindow
		}
		d.RateLimit = &source.RateLimit{Max: e.RateLimit.Max, Window: window}
	}

	if e.Fallback != "" {
		d.Fallback = json.RawMessage(e.Fallback)
	}

	return d, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return d, nil
}

// DefaultSources is the built-in catalog: live scores, sharp-book odds,
// evening player props and, when PREDICTIONS_BASE_URL is set, model
// predictions.
func DefaultSources(c *Config) []source.Descriptor {
	sportsData := func(path string, query map[string]string) source.Target {
		return source.Target{
			BaseURL: c.SportsDataBaseURL,
			Path:    path,
			Query:   query,
			Headers: map[string]string{sportsDataKeyHeader: c.SportsDataAPIKey},
		}
	}

	sources := []source.Descriptor{
		{
			ID:             "scores",
			Description:    "Live scores for today's games",
			Target:         sportsData("scores/json/GamesByDate/{date}", nil),
			Schedule:       "*/1 * * * *",
			Timezone:       "America/New_York",
			CacheKey:       "scores",
			TTL:            seconds(c.CacheTTLScores),
			RequestTimeout: c.SportsDataTimeout,
		},
		{
			ID:          "odds",
			Description: "Sharp book game odds (Pinnacle + Circa)",
			Target: sportsData("odds/json/GameOddsByWeek/{season}/{week}", map[string]string{
				"groups": string(GroupSharp),
			}),
			Schedule:       "*/2 * * * *",
			RateLimit:      &source.RateLimit{Max: 1, Window: c.RateLimitWindow},
			CacheKey:       "odds",
			TTL:            seconds(c.CacheTTLOdds),
			RequestTimeout: c.SportsDataTimeout,
		},
		{
			ID:             "props",
			Description:    "Player prop markets during the evening slate",
			Target:         sportsData("odds/json/BettingPlayerPropsByDate/{date}", nil),
			Schedule:       "*/5 * * * *",
			Timezone:       "America/New_York",
			Window:         &source.ActiveWindow{Start: 18, End: 23.5},
			RateLimit:      &source.RateLimit{Max: 10, Window: c.RateLimitWindow},
			CacheKey:       "props",
			TTL:            seconds(c.CacheTTLProps),
			RequestTimeout: c.SportsDataTimeout,
		},
	}

	if c.PredictionsBaseURL != "" {
		sources = append(sources, source.Descriptor{
			ID:          "predictions",
			Description: "Model predictions for today's slate",
			Target: source.Target{
				BaseURL: c.PredictionsBaseURL,
				Path:    "api/v1/predictions",
				Query:   map[string]string{"date": "{today}"},
			},
			Schedule:       "*/10 * * * *",
			Timezone:       "America/New_York",
			CacheKey:       "predictions",
			TTL:            seconds(c.CacheTTLPredictions),
			RequestTimeout: c.SportsDataTimeout,
			Fallback:       json.RawMessage(`{"predictions":[],"status":"pending"}`),
		})
	}

	return sources
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
