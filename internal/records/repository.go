package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/docstore"
)

const (
	tasksCollection   = "tasks"
	eventsCollection  = "events"
	dealsCollection   = "deals"
	profileCollection = "profile"
	agentProfileID    = "agent"

	// countLimit bounds the fetch behind CountPending and CountUpcoming.
	countLimit = 50
)

// Repository reads and writes user records through the document store.
type Repository struct {
	store    docstore.Store
	fallback Identity
	now      func() time.Time
}

func NewRepository(store docstore.Store, fallback Identity) *Repository {
	return &Repository{
		store:    store,
		fallback: fallback,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

func (r *Repository) CreateTask(ctx context.Context, userID string, task Task) (Task, error) {
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		return Task{}, apperr.Validation("a title is required to create a task")
	}
	now := r.now()
	task.ID = uuid.NewString()
	if task.Status == "" {
		task.Status = TaskPending
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := r.store.Set(ctx, docstore.UserCollection(userID, tasksCollection), task.ID, task); err != nil {
		return Task{}, apperr.Storage("create task", err)
	}
	return task, nil
}

func (r *Repository) GetTask(ctx context.Context, userID, id string) (Task, error) {
	var task Task
	if err := r.store.Get(ctx, docstore.UserCollection(userID, tasksCollection), id, &task); err != nil {
		return Task{}, wrapLookup("task", err)
	}
	return task, nil
}

// UpdateTask writes only the fields present in patch.
func (r *Repository) UpdateTask(ctx context.Context, userID, id string, patch TaskPatch) (Task, error) {
	fields := map[string]any{"updatedAt": r.now()}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return Task{}, apperr.Validation("a task title cannot be empty")
		}
		fields["title"] = title
	}
	if patch.Description != nil {
		fields["description"] = *patch.Description
	}
	if patch.Status != nil {
		fields["status"] = *patch.Status
	}
	if patch.Priority != nil {
		fields["priority"] = *patch.Priority
	}
	if patch.DueDate != nil {
		fields["dueDate"] = patch.DueDate.UTC()
	}

	col := docstore.UserCollection(userID, tasksCollection)
	if err := r.store.Update(ctx, col, id, fields); err != nil {
		return Task{}, wrapLookup("task", err)
	}
	return r.GetTask(ctx, userID, id)
}

// ListTasks returns up to limit tasks in creation order. An empty statuses
// slice matches every status.
func (r *Repository) ListTasks(ctx context.Context, userID string, statuses []TaskStatus, limit int) ([]Task, error) {
	q := docstore.Query{Limit: limit}
	if len(statuses) > 0 {
		q.Filters = append(q.Filters, docstore.Where("status", docstore.OpIn, statusStrings(statuses)))
	}
	docs, err := r.store.List(ctx, docstore.UserCollection(userID, tasksCollection), q)
	if err != nil {
		return nil, apperr.Storage("list tasks", err)
	}
	return decodeAll[Task](docs)
}

func (r *Repository) CountPending(ctx context.Context, userID string) (int, error) {
	tasks, err := r.ListTasks(ctx, userID, []TaskStatus{TaskPending, TaskInProgress}, countLimit)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

func (r *Repository) CreateEvent(ctx context.Context, userID string, event Event) (Event, error) {
	event.Title = strings.TrimSpace(event.Title)
	if event.Title == "" {
		return Event{}, apperr.Validation("a title is required to schedule a meeting")
	}
	if event.Start.IsZero() {
		return Event{}, apperr.Validation("a start time is required to schedule a meeting")
	}
	if event.End.IsZero() {
		event.End = event.Start.Add(DefaultEventDuration)
	}
	if event.End.Before(event.Start) {
		return Event{}, apperr.Validation("a meeting cannot end before it starts")
	}
	now := r.now()
	event.ID = uuid.NewString()
	event.Start = event.Start.UTC()
	event.End = event.End.UTC()
	if event.Status == "" {
		event.Status = EventScheduled
	}
	event.CreatedAt = now
	event.UpdatedAt = now

	if err := r.store.Set(ctx, docstore.UserCollection(userID, eventsCollection), event.ID, event); err != nil {
		return Event{}, apperr.Storage("create event", err)
	}
	return event, nil
}

func (r *Repository) GetEvent(ctx context.Context, userID, id string) (Event, error) {
	var event Event
	if err := r.store.Get(ctx, docstore.UserCollection(userID, eventsCollection), id, &event); err != nil {
		return Event{}, wrapLookup("event", err)
	}
	return event, nil
}

func (r *Repository) UpdateEvent(ctx context.Context, userID, id string, patch EventPatch) (Event, error) {
	fields := map[string]any{"updatedAt": r.now()}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return Event{}, apperr.Validation("a meeting title cannot be empty")
		}
		fields["title"] = title
	}
	if patch.Description != nil {
		fields["description"] = *patch.Description
	}
	if patch.Location != nil {
		fields["location"] = *patch.Location
	}
	if patch.Start != nil {
		fields["startTime"] = patch.Start.UTC()
	}
	if patch.End != nil {
		fields["endTime"] = patch.End.UTC()
	}
	if patch.Start != nil && patch.End != nil && patch.End.Before(*patch.Start) {
		return Event{}, apperr.Validation("a meeting cannot end before it starts")
	}
	if patch.Status != nil {
		fields["status"] = *patch.Status
	}
	if patch.ExternalID != nil {
		fields["externalId"] = *patch.ExternalID
	}

	if err := r.store.Update(ctx, docstore.UserCollection(userID, eventsCollection), id, fields); err != nil {
		return Event{}, wrapLookup("event", err)
	}
	return r.GetEvent(ctx, userID, id)
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Status EventStatus
	From   time.Time
	Limit  int
}

func (r *Repository) ListEvents(ctx context.Context, userID string, f EventFilter) ([]Event, error) {
	q := docstore.Query{Limit: f.Limit}
	if f.Status != "" {
		q.Filters = append(q.Filters, docstore.Where("status", docstore.OpEq, string(f.Status)))
	}
	if !f.From.IsZero() {
		q.Filters = append(q.Filters, docstore.Where("startTime", docstore.OpGte, f.From))
	}
	docs, err := r.store.List(ctx, docstore.UserCollection(userID, eventsCollection), q)
	if err != nil {
		return nil, apperr.Storage("list events", err)
	}
	return decodeAll[Event](docs)
}

func (r *Repository) CountUpcoming(ctx context.Context, userID string) (int, error) {
	events, err := r.ListEvents(ctx, userID, EventFilter{Status: EventScheduled, From: r.now(), Limit: countLimit})
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func (r *Repository) CreateDeal(ctx context.Context, userID string, deal Deal) (Deal, error) {
	deal.Name = strings.TrimSpace(deal.Name)
	if deal.Name == "" {
		return Deal{}, apperr.Validation("a name is required to create a deal")
	}
	deal.ID = uuid.NewString()
	if deal.Stage == "" {
		deal.Stage = "lead"
	}
	if deal.Status == "" {
		deal.Status = DealActive
	}
	deal.CreatedAt = r.now()
	if err := r.store.Set(ctx, docstore.UserCollection(userID, dealsCollection), deal.ID, deal); err != nil {
		return Deal{}, apperr.Storage("create deal", err)
	}
	return deal, nil
}

func (r *Repository) ListDeals(ctx context.Context, userID string, status DealStatus, limit int) ([]Deal, error) {
	q := docstore.Query{Limit: limit}
	if status != "" {
		q.Filters = append(q.Filters, docstore.Where("status", docstore.OpEq, string(status)))
	}
	docs, err := r.store.List(ctx, docstore.UserCollection(userID, dealsCollection), q)
	if err != nil {
		return nil, apperr.Storage("list deals", err)
	}
	return decodeAll[Deal](docs)
}

// AgentIdentity returns the user's configured agent name and avatar, or the
// fallback identity when the user never set one.
func (r *Repository) AgentIdentity(ctx context.Context, userID string) (Identity, error) {
	var id Identity
	err := r.store.Get(ctx, docstore.UserCollection(userID, profileCollection), agentProfileID, &id)
	if errors.Is(err, docstore.ErrNotFound) {
		return r.fallback, nil
	}
	if err != nil {
		return Identity{}, apperr.Storage("load agent identity", err)
	}
	if strings.TrimSpace(id.Name) == "" {
		id.Name = r.fallback.Name
	}
	return id, nil
}

func (r *Repository) SetAgentIdentity(ctx context.Context, userID string, id Identity) error {
	if strings.TrimSpace(id.Name) == "" {
		return apperr.Validation("an agent name is required")
	}
	if err := r.store.Set(ctx, docstore.UserCollection(userID, profileCollection), agentProfileID, id); err != nil {
		return apperr.Storage("save agent identity", err)
	}
	return nil
}

// FallbackIdentity is the identity used when no per-user identity is stored.
func (r *Repository) FallbackIdentity() Identity { return r.fallback }

func wrapLookup(entity string, err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return apperr.NotFound(fmt.Sprintf("that %s no longer exists", entity))
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Storage("load "+entity, err)
}

func decodeAll[T any](docs []docstore.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.Decode(&v); err != nil {
			return nil, apperr.Storage("decode records", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func statusStrings(statuses []TaskStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
