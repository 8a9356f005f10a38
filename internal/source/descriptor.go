package source

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultRateWindow is the rolling window a RateLimit is measured against
	// when none is given.
	DefaultRateWindow = 60 * time.Second

	DefaultRequestTimeout = 10 * time.Second
	DefaultTTL            = 5 * time.Minute
)

// Descriptor is the static declaration of one upstream source.
// It must not be modified after it has been registered with a scheduler.
type Descriptor struct {
	ID          string
	Description string
	Target      Target

	// Schedule is a cron expression ("*/2 * * * *", "0 30 * * * *", "@every 45s").
	// When empty, Interval drives a constant-delay tick instead.
	Schedule string
	Interval time.Duration

	// Timezone is an IANA zone name used for both the schedule and the
	// active window. Empty means process-local time.
	Timezone string

	Window    *ActiveWindow
	RateLimit *RateLimit

	CacheKey       string
	TTL            time.Duration
	RequestTimeout time.Duration

	// Fallback is served by the read API while the key has never been populated.
	Fallback json.RawMessage

	loc *time.Location
}

// Target is the network target of a source: base URL plus a path template.
type Target struct {
	BaseURL string
	Path    string
	Query   map[string]string
	Headers map[string]string
}

// ActiveWindow restricts polling to [Start, End] in fractional hours of day.
// 23.5 means 23:30. Start > End wraps around midnight.
type ActiveWindow struct {
	Start float64
	End   float64
}

// RateLimit is a request budget per rolling window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Validate checks the descriptor and fills defaults. It is called once at
// registration; every error it returns is a configuration mistake.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("source id is required")
	}
	if d.CacheKey == "" {
		return fmt.Errorf("source %s: cache key is required", d.ID)
	}

	if d.Target.BaseURL == "" {
		return fmt.Errorf("source %s: base url is required", d.ID)
	}
	u, err := url.Parse(d.Target.BaseURL)
	if err != nil {
		return fmt.Errorf("source %s: invalid base url: %w", d.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source %s: base url must be http or https, got %q", d.ID, u.Scheme)
	}

	if d.Schedule == "" && d.Interval <= 0 {
		return fmt.Errorf("source %s: either schedule or interval is required", d.ID)
	}
	if d.Schedule != "" && d.Interval > 0 {
		return fmt.Errorf("source %s: schedule and interval are mutually exclusive", d.ID)
	}

	d.loc = time.Local
	if d.Timezone != "" {
		loc, err := time.LoadLocation(d.Timezone)
		if err != nil {
			return fmt.Errorf("source %s: invalid timezone %q: %w", d.ID, d.Timezone, err)
		}
		d.loc = loc
	}

	if w := d.Window; w != nil {
		if w.Start < 0 || w.Start > 24 || w.End < 0 || w.End > 24 {
			return fmt.Errorf("source %s: active window [%g, %g] outside 0-24", d.ID, w.Start, w.End)
		}
	}

	if rl := d.RateLimit; rl != nil {
		if rl.Max <= 0 {
			return fmt.Errorf("source %s: rate limit must be positive, got %d", d.ID, rl.Max)
		}
		if rl.Window <= 0 {
			rl.Window = DefaultRateWindow
		}
	}

	if d.TTL <= 0 {
		d.TTL = DefaultTTL
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = DefaultRequestTimeout
	}

	if len(d.Fallback) > 0 && !json.Valid(d.Fallback) {
		return fmt.Errorf("source %s: fallback is not valid JSON", d.ID)
	}

	return nil
}

// Clone returns a copy of d that shares no pointers or maps with it.
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.Window != nil {
		w := *d.Window
		c.Window = &w
	}
	if d.RateLimit != nil {
		rl := *d.RateLimit
		c.RateLimit = &rl
	}
	c.Target.Query = cloneMap(d.Target.Query)
	c.Target.Headers = cloneMap(d.Target.Headers)
	if d.Fallback != nil {
		c.Fallback = append(json.RawMessage(nil), d.Fallback...)
	}
	return c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Location returns the zone the schedule and window are evaluated in.
func (d *Descriptor) Location() *time.Location {
	if d.loc != nil {
		return d.loc
	}
	if d.Timezone != "" {
		if loc, err := time.LoadLocation(d.Timezone); err == nil {
			return loc
		}
	}
	return time.Local
}

// Limit returns the request budget, 0 when the source is unlimited.
func (d *Descriptor) Limit() (int, time.Duration) {
	if d.RateLimit == nil {
		return 0, 0
	}
	return d.RateLimit.Max, d.RateLimit.Window
}

// Placeholders lists the distinct {names} used in the path template and query values.
func (t Target) Placeholders() []string {
	seen := make(map[string]struct{})
	collect := func(s string) {
		for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	collect(t.Path)
	for _, v := range t.Query {
		collect(v)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// URL expands the target template. {date} and {today} are derived from now
// (already converted to the source location); everything else comes from vars.
func (t Target) URL(now time.Time, vars map[string]string) (string, error) {
	resolve := func(s string) (string, error) {
		var missing string
		out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
			name := m[1 : len(m)-1]
			switch name {
			case "date":
				return strings.ToUpper(now.Format("2006-Jan-02"))
			case "today":
				return now.Format("2006-01-02")
			}
			if v, ok := vars[name]; ok {
				return v
			}
			missing = name
			return m
		})
		if missing != "" {
			return "", fmt.Errorf("unresolved placeholder {%s}", missing)
		}
		return out, nil
	}

	path, err := resolve(t.Path)
	if err != nil {
		return "", err
	}

	raw := strings.TrimRight(t.BaseURL, "/")
	if path != "" {
		raw += "/" + strings.TrimLeft(path, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse target url: %w", err)
	}

	if len(t.Query) > 0 {
		q := u.Query()
		for key, value := range t.Query {
			v, err := resolve(value)
			if err != nil {
				return "", err
			}
			q.Set(key, v)
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// CheckPlaceholders reports the first placeholder that neither the built-in
// date variables nor vars can resolve.
func (t Target) CheckPlaceholders(vars map[string]string) error {
	for _, name := range t.Placeholders() {
		if name == "date" || name == "today" {
			continue
		}
		if _, ok := vars[name]; !ok {
			return fmt.Errorf("unresolved placeholder {%s}", name)
		}
	}
	return nil
}
