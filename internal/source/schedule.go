package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind tags the two shapes a parsed schedule can take.
type ScheduleKind int

const (
	// KindEvery fires at a constant delay ("@every 30s" or a fixed Interval).
	KindEvery ScheduleKind = iota
	// KindCalendar fires on field-based cron expressions.
	KindCalendar
)

func (k ScheduleKind) String() string {
	if k == KindCalendar {
		return "calendar"
	}
	return "every"
}

// parser accepts 5-field expressions, an optional leading seconds field,
// and descriptors such as @hourly or @every.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a parsed schedule expression. It implements cron.Schedule.
type Schedule struct {
	Kind  ScheduleKind
	Every time.Duration
	Expr  string

	sched cron.Schedule
}

// ParseSchedule parses the descriptor's schedule once. Calendar expressions
// are evaluated in the descriptor's timezone.
func ParseSchedule(d *Descriptor) (Schedule, error) {
	if d.Schedule == "" {
		if d.Interval <= 0 {
			return Schedule{}, fmt.Errorf("source %s: no schedule or interval", d.ID)
		}
		every := cron.Every(d.Interval)
		return Schedule{Kind: KindEvery, Every: every.Delay, Expr: "@every " + every.Delay.String(), sched: every}, nil
	}

	expr := strings.TrimSpace(d.Schedule)
	spec := expr
	if d.Timezone != "" && !strings.HasPrefix(expr, "TZ=") && !strings.HasPrefix(expr, "CRON_TZ=") {
		spec = "CRON_TZ=" + d.Timezone + " " + expr
	}

	sched, err := parser.Parse(spec)
	if err != nil {
		return Schedule{}, fmt.Errorf("source %s: invalid schedule %q: %w", d.ID, expr, err)
	}

	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		return Schedule{Kind: KindEvery, Every: every.Delay, Expr: expr, sched: every}, nil
	}
	return Schedule{Kind: KindCalendar, Expr: expr, sched: sched}, nil
}

// Next returns the next activation time strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	if s.sched == nil {
		return time.Time{}
	}
	return s.sched.Next(t)
}

func (s Schedule) String() string {
	return s.Expr
}
