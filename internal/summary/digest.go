package summary

import (
	"fmt"
	"strings"
	"time"
)

// Digest is the result of one summary. Exactly one of the kind-specific
// fields is set; Text is a short speakable rendering of it.
type Digest struct {
	Kind     Kind           `json:"kind"`
	Text     string         `json:"text"`
	Daily    *DailyDigest   `json:"daily,omitempty"`
	Tasks    *TaskDigest    `json:"tasks,omitempty"`
	Meetings *MeetingDigest `json:"meetings,omitempty"`
	Deals    *DealDigest    `json:"deals,omitempty"`
}

type EventLine struct {
	Title string    `json:"title"`
	Start time.Time `json:"startTime"`
	When  string    `json:"when"`
}

type DailyDigest struct {
	OpenTasks     int         `json:"openTasks"`
	TopTasks      []string    `json:"topTasks"`
	HighPriority  int         `json:"highPriority"`
	TodayEvents   []EventLine `json:"todayEvents"`
	ActiveDeals   int         `json:"activeDeals"`
	PipelineValue float64     `json:"pipelineValue"`
}

type ByPriority struct {
	High   []string `json:"high"`
	Medium []string `json:"medium"`
	Low    []string `json:"low"`
}

type TaskDigest struct {
	Open       int        `json:"open"`
	ByPriority ByPriority `json:"byPriority"`
	Overdue    int        `json:"overdue"`
}

type MeetingDigest struct {
	Upcoming int         `json:"upcoming"`
	Today    []EventLine `json:"today"`
	ThisWeek int         `json:"thisWeek"`
	Next     []EventLine `json:"next"`
}

type StageTotal struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Value float64 `json:"value"`
}

type DealLine struct {
	Name  string  `json:"name"`
	Stage string  `json:"stage"`
	Value float64 `json:"value"`
}

type DealDigest struct {
	ByStage    []StageTotal `json:"byStage"`
	Top        []DealLine   `json:"top"`
	TotalValue float64      `json:"totalValue"`
}

func (d DailyDigest) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have %s", plural(d.OpenTasks, "open task", "open tasks"))
	if d.HighPriority > 0 {
		fmt.Fprintf(&b, ", %d high priority", d.HighPriority)
	}
	b.WriteString(".")
	if len(d.TopTasks) > 0 {
		fmt.Fprintf(&b, " Top of the list: %s.", strings.Join(d.TopTasks, ", "))
	}
	switch len(d.TodayEvents) {
	case 0:
		b.WriteString(" No meetings today.")
	default:
		titles := make([]string, 0, len(d.TodayEvents))
		for _, ev := range d.TodayEvents {
			titles = append(titles, ev.Title)
		}
		fmt.Fprintf(&b, " Today: %s.", strings.Join(titles, ", "))
	}
	if d.ActiveDeals > 0 {
		fmt.Fprintf(&b, " %s worth %s in the pipeline.", plural(d.ActiveDeals, "active deal", "active deals"), money(d.PipelineValue))
	}
	return b.String()
}

func (d TaskDigest) text() string {
	if d.Open == 0 {
		return "You have no open tasks."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %s.", plural(d.Open, "open task", "open tasks"))
	if n := len(d.ByPriority.High); n > 0 {
		fmt.Fprintf(&b, " High priority: %s.", strings.Join(d.ByPriority.High, ", "))
	}
	if n := len(d.ByPriority.Medium); n > 0 {
		fmt.Fprintf(&b, " %d medium.", n)
	}
	if n := len(d.ByPriority.Low); n > 0 {
		fmt.Fprintf(&b, " %d low.", n)
	}
	if d.Overdue > 0 {
		fmt.Fprintf(&b, " %s overdue.", plural(d.Overdue, "task is", "tasks are"))
	}
	return b.String()
}

func (d MeetingDigest) text() string {
	if d.Upcoming == 0 {
		return "You have no upcoming meetings."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %s, %d today and %d in the next 7 days.",
		plural(d.Upcoming, "upcoming meeting", "upcoming meetings"), len(d.Today), d.ThisWeek)
	if len(d.Next) > 0 {
		next := d.Next[0]
		fmt.Fprintf(&b, " Next up: %s on %s.", next.Title, next.When)
	}
	return b.String()
}

func (d DealDigest) text() string {
	if len(d.ByStage) == 0 {
		return "You have no active deals."
	}
	stages := make([]string, 0, len(d.ByStage))
	for _, s := range d.ByStage {
		stages = append(stages, fmt.Sprintf("%d in %s", s.Count, s.Stage))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your pipeline is worth %s: %s.", money(d.TotalValue), strings.Join(stages, ", "))
	if len(d.Top) > 0 {
		fmt.Fprintf(&b, " Largest is %s at %s.", d.Top[0].Name, money(d.Top[0].Value))
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

func money(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("$%d", int64(v))
	}
	return fmt.Sprintf("$%.2f", v)
}
