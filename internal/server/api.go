package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"github.com/sjawhar/rehearsal/internal/audio"
	"github.com/sjawhar/rehearsal/internal/devicecheck"
	"github.com/sjawhar/rehearsal/internal/media"
	"github.com/sjawhar/rehearsal/internal/practice"
	"github.com/sjawhar/rehearsal/internal/speech"
	"github.com/sjawhar/rehearsal/internal/storage"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type DeviceCheck interface {
	State() devicecheck.State
	Handle(ctx context.Context, in devicecheck.Input) error
}

type Practice interface {
	Snapshot() practice.Snapshot
	SelectStage(ctx context.Context, stageType string) error
	LoadQuestions(ctx context.Context) error
	Start(ctx context.Context) error
	SetDraft(text string) error
	Submit(ctx context.Context) error
	Narrate(ctx context.Context) error
	StopNarration()
	StartAnswerCapture(ctx context.Context) error
	StopAnswerCapture()
	PlayAnswer(ctx context.Context, index int) error
	StopPlayback()
	Restart(ctx context.Context) error
	Exit()
}

type History interface {
	ListPracticeSessions(ctx context.Context, date string, limit int) ([]storage.SessionSummary, error)
	GetPracticeSession(ctx context.Context, id string) (practice.Record, error)
	PracticeDates(ctx context.Context) ([]string, error)
}

type Narration interface {
	Settings() speech.NarrationSettings
	SetSettings(s speech.NarrationSettings) speech.NarrationSettings
	Voices(ctx context.Context) ([]speech.Voice, error)
	Speaking() bool
	Progress() int
}

type ClipResolver interface {
	Resolve(h audio.Handle) (audio.Clip, bool)
}

func (r *routes) registerAPI() {
	r.handle("GET /api/status", r.status)
	r.handle("GET /api/stages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, practice.Stages())
	})

	r.handle("GET /api/device-check", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.deps.DeviceCheck.State())
	})
	r.handle("POST /api/device-check/{event}", r.deviceCheckEvent)

	r.registerPractice()

	if r.deps.Narration != nil {
		r.handle("GET /api/narration", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, r.narrationState())
		})
		r.handle("PUT /api/narration", r.updateNarration)
		r.handle("GET /api/voices", func(w http.ResponseWriter, req *http.Request) {
			voices, err := r.deps.Narration.Voices(req.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, voices)
		})
	}

	if r.deps.Clips != nil {
		r.handle("GET /api/clips/{handle}", r.serveClip)
	}

	if r.deps.History != nil {
		r.handle("GET /api/sessions", r.listSessions)
		r.handle("GET /api/sessions/{id}", r.getSession)
		r.handle("GET /api/dates", func(w http.ResponseWriter, req *http.Request) {
			dates, err := r.deps.History.PracticeDates(req.Context())
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
				return
			}
			writeJSON(w, http.StatusOK, dates)
		})
	}
}

func (r *routes) status(w http.ResponseWriter, _ *http.Request) {
	var warnings []string
	if r.deps.Warnings != nil {
		warnings = r.deps.Warnings()
	}
	if warnings == nil {
		warnings = []string{}
	}
	payload := map[string]any{"warnings": warnings}
	if r.deps.Arbiter != nil {
		payload["audio"] = r.deps.Arbiter.Current()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *routes) deviceCheckEvent(w http.ResponseWriter, req *http.Request) {
	var in devicecheck.Input
	if err := decodeOptional(req, &in); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode input: %v", err))
		return
	}
	in.Event = devicecheck.Event(req.PathValue("event"))

	if err := r.deps.DeviceCheck.Handle(actionContext(req), in); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.deps.DeviceCheck.State())
}

func (r *routes) registerPractice() {
	p := r.deps.Practice

	r.handle("GET /api/practice", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, p.Snapshot())
	})
	r.handle("POST /api/practice/stage", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Stage string `json:"stage"`
		}
		if err := decodeOptional(req, &body); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode stage: %v", err))
			return
		}
		r.practiceAction(w, p.SelectStage(actionContext(req), body.Stage))
	})
	r.handle("PUT /api/practice/draft", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeOptional(req, &body); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode draft: %v", err))
			return
		}
		r.practiceAction(w, p.SetDraft(body.Text))
	})
	r.handle("POST /api/practice/answers/{index}/play", func(w http.ResponseWriter, req *http.Request) {
		index, err := strconv.Atoi(req.PathValue("index"))
		if err != nil || index < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid answer index")
			return
		}
		r.practiceAction(w, p.PlayAnswer(actionContext(req), index))
	})

	actions := map[string]func(context.Context) error{
		"load":    p.LoadQuestions,
		"start":   p.Start,
		"submit":  p.Submit,
		"narrate": p.Narrate,
		"record":  p.StartAnswerCapture,
		"restart": p.Restart,
		"narrate/stop": func(context.Context) error {
			p.StopNarration()
			return nil
		},
		"record/stop": func(context.Context) error {
			p.StopAnswerCapture()
			return nil
		},
		"playback/stop": func(context.Context) error {
			p.StopPlayback()
			return nil
		},
		"exit": func(context.Context) error {
			p.Exit()
			return nil
		},
	}
	for name, action := range actions {
		r.handle("POST /api/practice/"+name, func(w http.ResponseWriter, req *http.Request) {
			r.practiceAction(w, action(actionContext(req)))
		})
	}
}

func (r *routes) practiceAction(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Practice.Snapshot())
}

func (r *routes) narrationState() map[string]any {
	n := r.deps.Narration
	return map[string]any{
		"settings": n.Settings(),
		"speaking": n.Speaking(),
		"progress": n.Progress(),
	}
}

func (r *routes) updateNarration(w http.ResponseWriter, req *http.Request) {
	settings := r.deps.Narration.Settings()
	if err := json.NewDecoder(req.Body).Decode(&settings); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode narration settings: %v", err))
		return
	}
	r.deps.Narration.SetSettings(settings)
	writeJSON(w, http.StatusOK, r.narrationState())
}

func (r *routes) serveClip(w http.ResponseWriter, req *http.Request) {
	clip, ok := r.deps.Clips.Resolve(audio.Handle(req.PathValue("handle")))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "clip not found")
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", clip.MIMEType)
	http.ServeContent(w, req, clip.ID, clip.CreatedAt, bytes.NewReader(clip.Bytes))
}

func (r *routes) listSessions(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sessions, err := r.deps.History.ListPracticeSessions(req.Context(), query.Get("date"), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (r *routes) getSession(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if !validSessionID(id) {
		writeJSONError(w, http.StatusForbidden, "invalid session id")
		return
	}

	record, err := r.deps.History.GetPracticeSession(req.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sql.ErrNoRows) {
			status = http.StatusNotFound
		}
		writeJSONError(w, status, fmt.Sprintf("get session: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// actionContext detaches from the request: playback, capture and evaluation
// started by an action keep running after the response is written.
func actionContext(req *http.Request) context.Context {
	return context.WithoutCancel(req.Context())
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(req *http.Request, v any) error {
	if req.Body == nil {
		return nil
	}
	err := json.NewDecoder(req.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, devicecheck.ErrInvalidTransition),
		errors.Is(err, devicecheck.ErrSpeakerUnresolved),
		errors.Is(err, practice.ErrWrongStep):
		return http.StatusConflict
	case errors.Is(err, practice.ErrEmptyAnswer), errors.Is(err, practice.ErrNoStage):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrNoClip), errors.Is(err, practice.ErrNoQuestions):
		return http.StatusNotFound
	case errors.Is(err, media.ErrUnsupported):
		return http.StatusNotImplemented
	case media.Classify(err) != media.CategoryUnknown, errors.Is(err, devicecheck.ErrNoDevices):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
