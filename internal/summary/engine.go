// Package summary reduces a user's tasks, meetings and deals into short
// digests. Every summary is one bounded read per entity kind; users with more
// records than the caps see a partial picture.
package summary

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/records"
)

type Kind string

const (
	KindDaily    Kind = "daily"
	KindTasks    Kind = "tasks"
	KindMeetings Kind = "meetings"
	KindDeals    Kind = "deals"
)

func ParseKind(raw string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindDaily, KindTasks, KindMeetings, KindDeals:
		return k, true
	case "day", "today", "overview", "":
		return KindDaily, true
	case "task", "todo", "todos":
		return KindTasks, true
	case "meeting", "events", "calendar", "schedule":
		return KindMeetings, true
	case "deal", "pipeline", "sales":
		return KindDeals, true
	}
	return "", false
}

const (
	TaskLimit  = 50
	EventLimit = 50
	DealLimit  = 20

	topTaskCount     = 5
	nextMeetingCount = 5
	topDealCount     = 3
)

// Source is the read side of the records collaborator.
type Source interface {
	ListTasks(ctx context.Context, userID string, statuses []records.TaskStatus, limit int) ([]records.Task, error)
	ListEvents(ctx context.Context, userID string, f records.EventFilter) ([]records.Event, error)
	ListDeals(ctx context.Context, userID string, status records.DealStatus, limit int) ([]records.Deal, error)
}

type Engine struct {
	source Source
	now    func() time.Time
}

func NewEngine(source Source) *Engine {
	return &Engine{source: source, now: time.Now}
}

// WithClock replaces the time source. Day boundaries follow the location of
// the returned time.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Summarize builds the digest for one kind.
func (e *Engine) Summarize(ctx context.Context, userID string, kind Kind) (Digest, error) {
	now := e.now()
	switch kind {
	case KindDaily:
		return e.daily(ctx, userID, now)
	case KindTasks:
		tasks, err := e.openTasks(ctx, userID)
		if err != nil {
			return Digest{}, err
		}
		d := reduceTasks(tasks, now)
		return Digest{Kind: kind, Text: d.text(), Tasks: &d}, nil
	case KindMeetings:
		events, err := e.source.ListEvents(ctx, userID, records.EventFilter{
			Status: records.EventScheduled,
			From:   now,
			Limit:  EventLimit,
		})
		if err != nil {
			return Digest{}, err
		}
		d := reduceMeetings(events, now)
		return Digest{Kind: kind, Text: d.text(), Meetings: &d}, nil
	case KindDeals:
		deals, err := e.source.ListDeals(ctx, userID, records.DealActive, DealLimit)
		if err != nil {
			return Digest{}, err
		}
		d := reduceDeals(deals)
		return Digest{Kind: kind, Text: d.text(), Deals: &d}, nil
	}
	return Digest{}, apperr.Validation(fmt.Sprintf("unknown summary type %q", kind))
}

func (e *Engine) openTasks(ctx context.Context, userID string) ([]records.Task, error) {
	return e.source.ListTasks(ctx, userID, []records.TaskStatus{records.TaskPending, records.TaskInProgress}, TaskLimit)
}

func (e *Engine) daily(ctx context.Context, userID string, now time.Time) (Digest, error) {
	dayStart := startOfDay(now)

	var (
		tasks  []records.Task
		events []records.Event
		deals  []records.Deal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = e.openTasks(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = e.source.ListEvents(gctx, userID, records.EventFilter{
			Status: records.EventScheduled,
			From:   dayStart,
			Limit:  EventLimit,
		})
		return err
	})
	g.Go(func() error {
		var err error
		deals, err = e.source.ListDeals(gctx, userID, records.DealActive, DealLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return Digest{}, err
	}

	d := reduceDaily(tasks, events, deals, now)
	return Digest{Kind: KindDaily, Text: d.text(), Daily: &d}, nil
}

func reduceDaily(tasks []records.Task, events []records.Event, deals []records.Deal, now time.Time) DailyDigest {
	d := DailyDigest{OpenTasks: len(tasks)}
	for i, t := range tasks {
		if i < topTaskCount {
			d.TopTasks = append(d.TopTasks, t.Title)
		}
		if t.Priority == records.PriorityHigh {
			d.HighPriority++
		}
	}

	sorted := sortByStart(events)
	for _, ev := range sorted {
		if sameDay(ev.Start.In(now.Location()), now) {
			d.TodayEvents = append(d.TodayEvents, lineFor(ev, now.Location()))
		}
	}

	for _, deal := range deals {
		d.ActiveDeals++
		d.PipelineValue += deal.Value
	}
	return d
}

func reduceTasks(tasks []records.Task, now time.Time) TaskDigest {
	d := TaskDigest{
		Open: len(tasks),
		ByPriority: ByPriority{
			High:   []string{},
			Medium: []string{},
			Low:    []string{},
		},
	}
	for _, t := range tasks {
		switch t.Priority {
		case records.PriorityHigh:
			d.ByPriority.High = append(d.ByPriority.High, t.Title)
		case records.PriorityLow:
			d.ByPriority.Low = append(d.ByPriority.Low, t.Title)
		default:
			d.ByPriority.Medium = append(d.ByPriority.Medium, t.Title)
		}
		if t.Overdue(now) {
			d.Overdue++
		}
	}
	return d
}

func reduceMeetings(events []records.Event, now time.Time) MeetingDigest {
	weekEnd := now.AddDate(0, 0, 7)
	d := MeetingDigest{}
	for _, ev := range sortByStart(events) {
		if ev.Start.Before(now) {
			continue
		}
		d.Upcoming++
		if sameDay(ev.Start.In(now.Location()), now) {
			d.Today = append(d.Today, lineFor(ev, now.Location()))
		}
		if ev.Start.Before(weekEnd) {
			d.ThisWeek++
		}
		if len(d.Next) < nextMeetingCount {
			d.Next = append(d.Next, lineFor(ev, now.Location()))
		}
	}
	return d
}

func reduceDeals(deals []records.Deal) DealDigest {
	d := DealDigest{}
	index := map[string]int{}
	for _, deal := range deals {
		stage := deal.Stage
		if stage == "" {
			stage = "unassigned"
		}
		i, ok := index[stage]
		if !ok {
			i = len(d.ByStage)
			index[stage] = i
			d.ByStage = append(d.ByStage, StageTotal{Stage: stage})
		}
		d.ByStage[i].Count++
		d.ByStage[i].Value += deal.Value
		d.TotalValue += deal.Value
	}

	top := append([]records.Deal(nil), deals...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].Value > top[j].Value })
	for i := 0; i < len(top) && i < topDealCount; i++ {
		d.Top = append(d.Top, DealLine{Name: top[i].Name, Stage: top[i].Stage, Value: top[i].Value})
	}
	return d
}

func sortByStart(events []records.Event) []records.Event {
	out := append([]records.Event(nil), events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func lineFor(ev records.Event, loc *time.Location) EventLine {
	start := ev.Start.In(loc)
	return EventLine{
		Title: ev.Title,
		Start: ev.Start,
		When:  start.Format("Mon Jan 2 at 3:04 PM"),
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
