package offlineworker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/offline-worker/metrics"
	"github.com/always-cache/offline-worker/notify"
	"github.com/always-cache/offline-worker/pkg/network"
)

const maxControlBody = 64 << 10

// ServeHTTP implements the http.Handler interface.
// Absolute-form requests for other hosts are proxy requests and skip the control routes.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.URL.IsAbs() && !w.classifier.SameOrigin(r.URL) {
		w.serveFetch(rw, r)
		return
	}
	w.router.ServeHTTP(rw, r)
}

func (w *Worker) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(w.log))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(metrics.PromReqMiddleware)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		io.WriteString(rw, "ok")
	})
	r.Route("/.worker", func(r chi.Router) {
		r.Post("/message", w.postMessage)
		r.Post("/push", w.postPush)
		r.Post("/sync/{tag}", w.postSync)
		r.Post("/notifications/{id}/click", w.postNotificationClick)
		r.Get("/notifications", w.getNotifications)
		r.Get("/caches", w.getCaches)
		r.Get("/state", w.getState)
	})
	r.HandleFunc("/*", w.serveFetch)
	return r
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	level := zerolog.InfoLevel
	switch {
	case status >= 500:
		level = zerolog.ErrorLevel
	case status >= 400:
		level = zerolog.WarnLevel
	}
	hlog.FromRequest(r).WithLevel(level).
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("Request")
}

// serveFetch turns the request into a fetch event and sends whatever the event
// responded with. Unanswered events go to the network untouched.
func (w *Worker) serveFetch(rw http.ResponseWriter, r *http.Request) {
	defer w.recover(rw, r)

	e := NewEvent(EventFetch)
	e.Request = r
	if err := w.Dispatch(r.Context(), e); err != nil {
		w.log.Error().Err(err).Str("url", r.URL.String()).Msg("Fetch handler failed")
	}
	if res := e.Response(); res != nil {
		if err := send(rw, res); err != nil {
			w.log.Error().Err(err).Msg("Could not write response body to client")
		}
		return
	}
	metrics.FetchServed(w.classifier.Classify(r.URL).String(), metrics.SourcePassThru)
	w.passThrough(rw, r)
}

// recover recovers from panics and sends the request to the escape hatch.
func (w *Worker) recover(rw http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		w.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in fetch handler")
		w.passThrough(rw, r)
	}
}

// passThrough just proxies the request to the network.
// An in-process network writes to the client directly.
func (w *Worker) passThrough(rw http.ResponseWriter, r *http.Request) {
	if s, ok := w.network.(network.Streamer); ok {
		status, elapsed := s.Stream(rw, r)
		w.log.Debug().Int("status", status).Dur("elapsed", elapsed).Str("url", r.URL.String()).Msg("Passed through")
		return
	}
	res, err := w.network.Fetch(r.Context(), r)
	if err != nil {
		w.log.Error().Err(err).Str("url", r.URL.String()).Msg("Error connecting to network")
		http.Error(rw, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	if err := send(rw, res); err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

func send(rw http.ResponseWriter, res *http.Response) error {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(rw.Header(), res.Header)
	rw.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return nil
	}
	_, err := io.Copy(rw, res.Body)
	return err
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Error().Err(err).Msg("Could not encode response")
	}
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxControlBody))
}

func (w *Worker) postMessage(rw http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	e := NewEvent(EventMessage)
	e.Data = body
	if err := w.dispatchAndWait(r.Context(), e); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}

func (w *Worker) postPush(rw http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	e := NewEvent(EventPush)
	e.Data = body
	if err := w.dispatchAndWait(r.Context(), e); err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}

func (w *Worker) postSync(rw http.ResponseWriter, r *http.Request) {
	e := NewEvent(EventSync)
	e.Tag = chi.URLParam(r, "tag")
	if err := w.dispatchAndWait(r.Context(), e); err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}

func (w *Worker) postNotificationClick(rw http.ResponseWriter, r *http.Request) {
	e := NewEvent(EventNotificationClick)
	e.NotificationID = chi.URLParam(r, "id")
	err := w.dispatchAndWait(r.Context(), e)
	switch {
	case errors.Is(err, notify.ErrNotFound):
		writeError(rw, http.StatusNotFound, err)
	case err != nil:
		writeError(rw, http.StatusInternalServerError, err)
	default:
		rw.WriteHeader(http.StatusNoContent)
	}
}

type lister interface {
	List() []notify.Notification
}

func (w *Worker) getNotifications(rw http.ResponseWriter, r *http.Request) {
	l, ok := w.notifier.(lister)
	if !ok {
		writeError(rw, http.StatusNotImplemented, errors.New("notifier cannot list notifications"))
		return
	}
	writeJSON(rw, http.StatusOK, l.List())
}

type cacheInfo struct {
	Name    string   `json:"name"`
	Live    bool     `json:"live"`
	Entries []string `json:"entries"`
}

func (w *Worker) getCaches(rw http.ResponseWriter, r *http.Request) {
	names, err := w.storage.Names(r.Context())
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	infos := make([]cacheInfo, 0, len(names))
	for _, name := range names {
		reqs, err := w.storage.Cache(name).Keys(r.Context())
		if err != nil {
			writeError(rw, http.StatusInternalServerError, err)
			return
		}
		entries := make([]string, 0, len(reqs))
		for _, req := range reqs {
			entries = append(entries, req.URL.String())
		}
		infos = append(infos, cacheInfo{
			Name:    name,
			Live:    w.generation.IsLive(name),
			Entries: entries,
		})
	}
	writeJSON(rw, http.StatusOK, infos)
}

type stateInfo struct {
	State        string `json:"state"`
	AppID        string `json:"appId"`
	Version      string `json:"version"`
	StaticCache  string `json:"staticCache"`
	DynamicCache string `json:"dynamicCache"`
}

func (w *Worker) getState(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, stateInfo{
		State:        w.lifecycle.State().String(),
		AppID:        w.generation.AppID,
		Version:      w.generation.Version,
		StaticCache:  w.generation.StaticName(),
		DynamicCache: w.generation.DynamicName(),
	})
}
