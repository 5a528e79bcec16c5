// Package action defines the closed set of actions intent classification can
// produce and parses them from completion output.
package action

type Kind string

const (
	KindCreateTask  Kind = "create_task"
	KindUpdateTask  Kind = "update_task"
	KindCreateEvent Kind = "create_event"
	KindUpdateEvent Kind = "update_event"
	KindCancelEvent Kind = "cancel_event"
	KindSummarize   Kind = "summarize"
	KindGeneralChat Kind = "general_chat"
)

// Action is one of the variant types below. The unexported method keeps the
// set closed.
type Action interface {
	Kind() Kind
	isAction()
}

type CreateTask struct {
	Title       string
	Description string
	Priority    string
	DueDate     string
	DueTime     string
}

// UpdateTask finds its target by fuzzy title match. Nil fields are left
// unchanged.
type UpdateTask struct {
	Target      string
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	DueDate     *string
	DueTime     *string
}

type CreateEvent struct {
	Title           string
	Description     string
	Location        string
	Date            string
	Time            string
	DurationMinutes int
	Attendees       []string
}

type UpdateEvent struct {
	Target          string
	Title           *string
	Description     *string
	Location        *string
	Date            *string
	Time            *string
	DurationMinutes *int
}

type CancelEvent struct {
	Target string
}

type Summarize struct {
	Type string
}

type GeneralChat struct{}

func (CreateTask) Kind() Kind  { return KindCreateTask }
func (UpdateTask) Kind() Kind  { return KindUpdateTask }
func (CreateEvent) Kind() Kind { return KindCreateEvent }
func (UpdateEvent) Kind() Kind { return KindUpdateEvent }
func (CancelEvent) Kind() Kind { return KindCancelEvent }
func (Summarize) Kind() Kind   { return KindSummarize }
func (GeneralChat) Kind() Kind { return KindGeneralChat }

func (CreateTask) isAction()  {}
func (UpdateTask) isAction()  {}
func (CreateEvent) isAction() {}
func (UpdateEvent) isAction() {}
func (CancelEvent) isAction() {}
func (Summarize) isAction()   {}
func (GeneralChat) isAction() {}

// Reschedules reports whether the update moves the event in time.
func (u UpdateEvent) Reschedules() bool {
	return u.Date != nil || u.Time != nil
}
