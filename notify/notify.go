// Package notify shows push notifications and opens windows on click.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("notification not found")

const (
	DefaultTitle = "AI Media Assistant"
	DefaultBody  = "New notification"
	DefaultIcon  = "/static/img/dfd.png"
)

var DefaultVibrate = []int{200, 100, 200}

type Data struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

type Notification struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	Icon    string    `json:"icon"`
	Badge   string    `json:"badge"`
	Vibrate []int     `json:"vibrate"`
	Data    Data      `json:"data"`
	Shown   time.Time `json:"shown"`
}

// Options are the presentation defaults for push notifications.
type Options struct {
	Title   string `yaml:"title"`
	Icon    string `yaml:"icon"`
	Badge   string `yaml:"badge"`
	Vibrate []int  `yaml:"vibrate"`
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = DefaultTitle
	}
	if o.Icon == "" {
		o.Icon = DefaultIcon
	}
	if o.Badge == "" {
		o.Badge = DefaultIcon
	}
	if o.Vibrate == nil {
		o.Vibrate = DefaultVibrate
	}
	return o
}

// FromPush builds the notification for a push payload.
// The payload text becomes the body; an empty payload gets the default body.
func FromPush(payload []byte, opts Options, now time.Time) Notification {
	opts = opts.withDefaults()
	body := string(payload)
	if len(payload) == 0 {
		body = DefaultBody
	}
	vibrate := make([]int, len(opts.Vibrate))
	copy(vibrate, opts.Vibrate)
	return Notification{
		ID:      uuid.NewString(),
		Title:   opts.Title,
		Body:    body,
		Icon:    opts.Icon,
		Badge:   opts.Badge,
		Vibrate: vibrate,
		Data: Data{
			DateOfArrival: now.UnixMilli(),
			PrimaryKey:    1,
		},
	}
}

type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, id string) (Notification, error)
}

type Opener interface {
	OpenWindow(ctx context.Context, path string) error
}

// Registry keeps the notifications currently shown and the windows that were opened.
// It is the host-side stand-in for the platform's notification tray.
type Registry struct {
	mutex  sync.Mutex
	shown  map[string]Notification
	order  []string
	opened []string
	log    zerolog.Logger
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Registry{
		shown:  make(map[string]Notification),
		opened: make([]string, 0),
		log:    l.With().Str("component", "notify").Logger(),
	}
}

func (r *Registry) Show(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Shown.IsZero() {
		n.Shown = time.Now()
	}
	r.mutex.Lock()
	if _, ok := r.shown[n.ID]; !ok {
		r.order = append(r.order, n.ID)
	}
	r.shown[n.ID] = n
	r.mutex.Unlock()
	r.log.Info().Str("id", n.ID).Str("title", n.Title).Str("body", n.Body).Msg("Showing notification")
	return nil
}

func (r *Registry) Close(ctx context.Context, id string) (Notification, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	n, ok := r.shown[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	delete(r.shown, id)
	for i, shownID := range r.order {
		if shownID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Debug().Str("id", id).Msg("Closed notification")
	return n, nil
}

// List returns the shown notifications in the order they were shown.
func (r *Registry) List() []Notification {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	list := make([]Notification, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, r.shown[id])
	}
	return list
}

func (r *Registry) OpenWindow(ctx context.Context, path string) error {
	r.mutex.Lock()
	r.opened = append(r.opened, path)
	r.mutex.Unlock()
	r.log.Info().Str("path", path).Msg("Opening window")
	return nil
}

func (r *Registry) Opened() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	opened := make([]string, len(r.opened))
	copy(opened, r.opened)
	return opened
}
