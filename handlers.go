package offlineworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/offline-worker/lifecycle"
	"github.com/always-cache/offline-worker/notify"
)

var ErrBadMessage = errors.New("malformed control message")

const MessageSkipWaiting = "SKIP_WAITING"

// Message is a control message posted by a page.
type Message struct {
	Type string `json:"type"`
}

func (w *Worker) handleInstall(ctx context.Context, e *Event) error {
	w.log.Info().Msg("Installing")
	e.WaitUntil(w.lifecycle.Install)
	return nil
}

func (w *Worker) handleActivate(ctx context.Context, e *Event) error {
	w.log.Info().Msg("Activating")
	e.WaitUntil(w.lifecycle.Activate)
	return nil
}

// handleFetch leaves the event unanswered for requests the worker does not
// intercept, which sends them to the network untouched.
func (w *Worker) handleFetch(ctx context.Context, e *Event) error {
	if w.lifecycle.State() != lifecycle.Active {
		return nil
	}
	class := w.classifier.Classify(e.Request.URL)
	s, ok := w.strategies[class]
	if !ok {
		return nil
	}
	w.log.Trace().Str("url", e.Request.URL.String()).Stringer("class", class).Msg("Intercepting request")
	return e.RespondWith(s.Resolve(ctx, e, e.Request))
}

func (w *Worker) handlePush(ctx context.Context, e *Event) error {
	n := notify.FromPush(e.Data, w.notifyOpts, time.Now())
	e.WaitUntil(func(ctx context.Context) error {
		return w.notifier.Show(ctx, n)
	})
	return nil
}

func (w *Worker) handleNotificationClick(ctx context.Context, e *Event) error {
	if _, err := w.notifier.Close(ctx, e.NotificationID); err != nil {
		return err
	}
	e.WaitUntil(func(ctx context.Context) error {
		return w.opener.OpenWindow(ctx, w.rootPath)
	})
	return nil
}

func (w *Worker) handleSync(ctx context.Context, e *Event) error {
	w.mutex.RLock()
	hook, ok := w.syncHooks[e.Tag]
	w.mutex.RUnlock()
	if !ok {
		w.log.Debug().Str("tag", e.Tag).Msg("No sync hook for tag")
		return nil
	}
	logger := w.log.With().Str("tag", e.Tag).Logger()
	e.WaitUntil(func(ctx context.Context) error {
		return hook(logger.WithContext(ctx))
	})
	return nil
}

// handleMessage ignores well-formed messages of unknown type.
func (w *Worker) handleMessage(ctx context.Context, e *Event) error {
	var msg Message
	if err := json.Unmarshal(e.Data, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	switch msg.Type {
	case MessageSkipWaiting:
		w.lifecycle.SkipWaiting()
	default:
		w.log.Debug().Str("type", msg.Type).Msg("Ignoring message")
	}
	return nil
}

// syncDownloads is where failed downloads would be retried. It does nothing yet.
func syncDownloads(ctx context.Context) error {
	zerolog.Ctx(ctx).Debug().Msg("Syncing downloads")
	return nil
}
