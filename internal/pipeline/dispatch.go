package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/tempo/internal/action"
	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/datetime"
	"github.com/ent0n29/tempo/internal/match"
	"github.com/ent0n29/tempo/internal/records"
	"github.com/ent0n29/tempo/internal/summary"
)

const whenLayout = "Mon Jan 2 at 3:04 PM"

var openStatuses = []records.TaskStatus{records.TaskPending, records.TaskInProgress}

func (p *Processor) dispatch(ctx context.Context, userID string, a action.Action, now time.Time) (ActionResult, error) {
	switch a := a.(type) {
	case action.CreateTask:
		return p.createTask(ctx, userID, a, now)
	case action.UpdateTask:
		return p.updateTask(ctx, userID, a, now)
	case action.CreateEvent:
		return p.createEvent(ctx, userID, a, now)
	case action.UpdateEvent:
		return p.updateEvent(ctx, userID, a, now)
	case action.CancelEvent:
		return p.cancelEvent(ctx, userID, a)
	case action.Summarize:
		return p.summarize(ctx, userID, a)
	}
	return ActionResult{}, apperr.Validation(fmt.Sprintf("unsupported action %q", a.Kind()))
}

func (p *Processor) createTask(ctx context.Context, userID string, a action.CreateTask, now time.Time) (ActionResult, error) {
	task := records.Task{
		Title:       a.Title,
		Description: a.Description,
		Priority:    records.ParsePriority(a.Priority),
	}
	if a.DueDate != "" || a.DueTime != "" {
		due := datetime.Parse(a.DueDate, a.DueTime, now)
		task.DueDate = &due
	}
	created, err := p.records.CreateTask(ctx, userID, task)
	if err != nil {
		return ActionResult{}, err
	}

	msg := fmt.Sprintf("Added %q to your tasks.", created.Title)
	if created.DueDate != nil {
		msg = fmt.Sprintf("Added %q to your tasks, due %s.", created.Title, created.DueDate.In(now.Location()).Format(whenLayout))
	}
	return ActionResult{Type: string(a.Kind()), Success: true, Message: msg, EntityID: created.ID}, nil
}

func (p *Processor) updateTask(ctx context.Context, userID string, a action.UpdateTask, now time.Time) (ActionResult, error) {
	candidates, err := p.records.ListTasks(ctx, userID, openStatuses, match.CandidateLimit)
	if err != nil {
		return ActionResult{}, err
	}
	task, ok := match.Find(candidates, a.Target)
	if !ok {
		return ActionResult{}, apperr.NotFound(fmt.Sprintf("I couldn't find a task matching %q.", a.Target))
	}

	var patch records.TaskPatch
	patch.Title = a.Title
	patch.Description = a.Description
	if a.Status != nil {
		status, ok := records.ParseTaskStatus(*a.Status)
		if !ok {
			return ActionResult{}, apperr.Validation(fmt.Sprintf("%q is not a task status I know.", *a.Status))
		}
		patch.Status = &status
	}
	if a.Priority != nil {
		priority := records.ParsePriority(*a.Priority)
		patch.Priority = &priority
	}
	if a.DueDate != nil || a.DueTime != nil {
		base := now
		if task.DueDate != nil {
			base = task.DueDate.In(now.Location())
		}
		due := datetime.Parse(deref(a.DueDate), deref(a.DueTime), base)
		patch.DueDate = &due
	}
	if patch.Empty() {
		return ActionResult{}, apperr.Validation(fmt.Sprintf("I wasn't sure what to change on %q.", task.Title))
	}

	updated, err := p.records.UpdateTask(ctx, userID, task.ID, patch)
	if err != nil {
		return ActionResult{}, err
	}
	msg := fmt.Sprintf("Updated %q.", updated.Title)
	if patch.Status != nil && *patch.Status == records.TaskCompleted {
		msg = fmt.Sprintf("Marked %q as completed.", updated.Title)
	}
	return ActionResult{Type: string(a.Kind()), Success: true, Message: msg, EntityID: updated.ID}, nil
}

func (p *Processor) createEvent(ctx context.Context, userID string, a action.CreateEvent, now time.Time) (ActionResult, error) {
	start := datetime.Parse(a.Date, a.Time, now)
	duration := records.DefaultEventDuration
	if a.DurationMinutes > 0 {
		duration = time.Duration(a.DurationMinutes) * time.Minute
	}
	created, err := p.records.CreateEvent(ctx, userID, records.Event{
		Title:       a.Title,
		Description: a.Description,
		Location:    a.Location,
		Start:       start,
		End:         start.Add(duration),
		Attendees:   a.Attendees,
	})
	if err != nil {
		return ActionResult{}, err
	}
	if p.calendar != nil {
		p.calendar.Created(ctx, userID, created)
	}
	msg := fmt.Sprintf("Scheduled %q for %s.", created.Title, created.Start.In(now.Location()).Format(whenLayout))
	return ActionResult{Type: string(a.Kind()), Success: true, Message: msg, EntityID: created.ID}, nil
}

func (p *Processor) findEvent(ctx context.Context, userID, target string) (records.Event, error) {
	candidates, err := p.records.ListEvents(ctx, userID, records.EventFilter{
		Status: records.EventScheduled,
		Limit:  match.CandidateLimit,
	})
	if err != nil {
		return records.Event{}, err
	}
	ev, ok := match.Find(candidates, target)
	if !ok {
		return records.Event{}, apperr.NotFound(fmt.Sprintf("I couldn't find a meeting matching %q.", target))
	}
	return ev, nil
}

func (p *Processor) updateEvent(ctx context.Context, userID string, a action.UpdateEvent, now time.Time) (ActionResult, error) {
	ev, err := p.findEvent(ctx, userID, a.Target)
	if err != nil {
		return ActionResult{}, err
	}

	patch := records.EventPatch{
		Title:       a.Title,
		Description: a.Description,
		Location:    a.Location,
	}
	if a.DurationMinutes != nil && *a.DurationMinutes <= 0 {
		return ActionResult{}, apperr.Validation("a meeting needs a positive duration.")
	}
	switch {
	case a.Reschedules():
		start := datetime.Parse(deref(a.Date), deref(a.Time), ev.Start.In(now.Location()))
		_, end := datetime.Reschedule(ev.Start, ev.End, start)
		if a.DurationMinutes != nil {
			end = start.Add(time.Duration(*a.DurationMinutes) * time.Minute)
		}
		patch.Start, patch.End = &start, &end
	case a.DurationMinutes != nil:
		end := ev.Start.Add(time.Duration(*a.DurationMinutes) * time.Minute)
		patch.End = &end
	}
	if patch.Empty() {
		return ActionResult{}, apperr.Validation(fmt.Sprintf("I wasn't sure what to change on %q.", ev.Title))
	}

	updated, err := p.records.UpdateEvent(ctx, userID, ev.ID, patch)
	if err != nil {
		return ActionResult{}, err
	}
	if p.calendar != nil {
		p.calendar.Updated(ctx, userID, updated)
	}

	msg := fmt.Sprintf("Updated %q.", updated.Title)
	if patch.Start != nil {
		msg = fmt.Sprintf("Moved %q to %s.", updated.Title, updated.Start.In(now.Location()).Format(whenLayout))
	}
	return ActionResult{Type: string(a.Kind()), Success: true, Message: msg, EntityID: updated.ID}, nil
}

func (p *Processor) cancelEvent(ctx context.Context, userID string, a action.CancelEvent) (ActionResult, error) {
	ev, err := p.findEvent(ctx, userID, a.Target)
	if err != nil {
		return ActionResult{}, err
	}
	cancelled := records.EventCancelled
	updated, err := p.records.UpdateEvent(ctx, userID, ev.ID, records.EventPatch{Status: &cancelled})
	if err != nil {
		return ActionResult{}, err
	}
	if p.calendar != nil {
		p.calendar.Cancelled(ctx, userID, updated)
	}
	return ActionResult{
		Type:     string(a.Kind()),
		Success:  true,
		Message:  fmt.Sprintf("Cancelled %q.", updated.Title),
		EntityID: updated.ID,
	}, nil
}

func (p *Processor) summarize(ctx context.Context, userID string, a action.Summarize) (ActionResult, error) {
	kind, ok := summary.ParseKind(a.Type)
	if !ok {
		return ActionResult{}, apperr.Validation(fmt.Sprintf("I can't summarize %q yet.", a.Type))
	}
	digest, err := p.summaries.Summarize(ctx, userID, kind)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Type: string(a.Kind()), Success: true, Message: strings.TrimSpace(digest.Text)}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
