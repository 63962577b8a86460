package offlineworker

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

var (
	ErrUnknownEvent     = errors.New("no handler for event")
	ErrAlreadyResponded = errors.New("event already has a response")
	ErrShuttingDown     = errors.New("worker is shutting down")
)

type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
	EventSync              EventKind = "sync"
	EventMessage           EventKind = "message"
)

// Handler reacts to one kind of event.
type Handler func(ctx context.Context, e *Event) error

// Event is a single occurrence delivered to the worker.
// Only the fields relevant to its kind are set.
type Event struct {
	Kind EventKind
	// Request is the intercepted request of a fetch event.
	Request *http.Request
	// Data is the push payload or the raw control message.
	Data []byte
	// Tag names the sync hook of a sync event.
	Tag string
	// NotificationID is the clicked notification.
	NotificationID string

	ctx      context.Context
	worker   *Worker
	wg       sync.WaitGroup
	mutex    sync.Mutex
	errs     []error
	response *http.Response
}

func NewEvent(kind EventKind) *Event {
	return &Event{Kind: kind}
}

// WaitUntil extends the event with background work.
// The work outlives the context the event was dispatched with
// but not the worker: Shutdown waits for it.
func (e *Event) WaitUntil(fn func(ctx context.Context) error) {
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)

	if e.worker != nil && !e.worker.track() {
		e.mutex.Lock()
		e.errs = append(e.errs, ErrShuttingDown)
		e.mutex.Unlock()
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.worker != nil {
			defer e.worker.extensions.Done()
		}
		if err := fn(ctx); err != nil {
			e.mutex.Lock()
			e.errs = append(e.errs, err)
			e.mutex.Unlock()
		}
	}()
}

// Wait blocks until every extension has finished and returns their errors.
func (e *Event) Wait() error {
	e.wg.Wait()
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return errors.Join(e.errs...)
}

// RespondWith answers a fetch event. Only the first response counts.
func (e *Event) RespondWith(res *http.Response) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.response != nil {
		return ErrAlreadyResponded
	}
	e.response = res
	return nil
}

// Response is nil if no handler answered the event.
func (e *Event) Response() *http.Response {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.response
}
