package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/domain"
)

// DefaultPollInterval is how often a feed re-reads contest progress.
const DefaultPollInterval = time.Second

// Engine is the part of the engine the progress feed drives.
type Engine interface {
	RoomProgress(ctx context.Context, roomID string) (app.RoomSnapshot, error)
	RoomQuestions(ctx context.Context, roomID string) ([]app.ContestQuestionView, error)
	SubmitRoomAnswer(ctx context.Context, p app.RoomAnswerParams) (app.ContestAnswerResult, error)
	FinalizeRoomParticipant(ctx context.Context, roomID, studentID string) (app.ParticipantResult, error)
	ComputeRoomResult(ctx context.Context, roomID string) (app.ContestResult, error)

	GroupSimulacroProgress(ctx context.Context, simulacroID string) (app.SimulacroSnapshot, error)
	GroupSimulacroQuestions(ctx context.Context, simulacroID string) ([]app.ContestQuestionView, error)
	SubmitGroupSimulacroAnswer(ctx context.Context, p app.SimulacroAnswerParams) (app.ContestAnswerResult, error)
	FinalizeGroupSimulacroParticipant(ctx context.Context, simulacroID, studentID string) (app.ParticipantResult, error)
	GroupSimulacroResult(ctx context.Context, simulacroID string) (app.ContestResult, error)
}

// Presence tracks open sockets per contest.
type Presence interface {
	Touch(ctx context.Context, contestID, studentID string) error
	Leave(ctx context.Context, contestID, studentID string) error
	Online(ctx context.Context, contestID string) ([]string, error)
}

type WSHandler struct {
	engine   Engine
	presence Presence
	interval time.Duration
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler builds the feed handler. presence may be nil.
func NewWSHandler(engine Engine, presence Presence, interval time.Duration, log *slog.Logger) *WSHandler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		engine:   engine,
		presence: presence,
		interval: interval,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID     string `json:"questionId"`
	OptionID       string `json:"optionId"`
	ElapsedSeconds int    `json:"elapsedSeconds"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Kind: domain.KindOf(err).String(), Message: err.Error()}}
}

// feed binds one contest and one student to the engine calls a socket needs.
type feed struct {
	contestID string
	studentID string
	progress  func(ctx context.Context) (any, domain.ContestState, error)
	questions func(ctx context.Context) ([]app.ContestQuestionView, error)
	answer    func(ctx context.Context, p answerPayload) (app.ContestAnswerResult, error)
	finalize  func(ctx context.Context) (app.ParticipantResult, error)
	result    func(ctx context.Context) (app.ContestResult, error)
}

// ServeRoom streams a room's progress and accepts the student's answers.
func (h *WSHandler) ServeRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	studentID := r.URL.Query().Get("studentId")
	h.serve(w, r, feed{
		contestID: roomID,
		studentID: studentID,
		progress: func(ctx context.Context) (any, domain.ContestState, error) {
			snap, err := h.engine.RoomProgress(ctx, roomID)
			return snap, snap.Room.State, err
		},
		questions: func(ctx context.Context) ([]app.ContestQuestionView, error) {
			return h.engine.RoomQuestions(ctx, roomID)
		},
		answer: func(ctx context.Context, p answerPayload) (app.ContestAnswerResult, error) {
			return h.engine.SubmitRoomAnswer(ctx, app.RoomAnswerParams{
				RoomID: roomID, StudentID: studentID,
				QuestionID: p.QuestionID, OptionID: p.OptionID, ElapsedSeconds: p.ElapsedSeconds,
			})
		},
		finalize: func(ctx context.Context) (app.ParticipantResult, error) {
			return h.engine.FinalizeRoomParticipant(ctx, roomID, studentID)
		},
		result: func(ctx context.Context) (app.ContestResult, error) {
			return h.engine.ComputeRoomResult(ctx, roomID)
		},
	})
}

// ServeSimulacro streams a group simulacro's live ranking and accepts answers.
func (h *WSHandler) ServeSimulacro(w http.ResponseWriter, r *http.Request) {
	simulacroID := chi.URLParam(r, "simulacroID")
	studentID := r.URL.Query().Get("studentId")
	h.serve(w, r, feed{
		contestID: simulacroID,
		studentID: studentID,
		progress: func(ctx context.Context) (any, domain.ContestState, error) {
			snap, err := h.engine.GroupSimulacroProgress(ctx, simulacroID)
			return snap, snap.Simulacro.State, err
		},
		questions: func(ctx context.Context) ([]app.ContestQuestionView, error) {
			return h.engine.GroupSimulacroQuestions(ctx, simulacroID)
		},
		answer: func(ctx context.Context, p answerPayload) (app.ContestAnswerResult, error) {
			return h.engine.SubmitGroupSimulacroAnswer(ctx, app.SimulacroAnswerParams{
				SimulacroID: simulacroID, StudentID: studentID,
				QuestionID: p.QuestionID, OptionID: p.OptionID, ElapsedSeconds: p.ElapsedSeconds,
			})
		},
		finalize: func(ctx context.Context) (app.ParticipantResult, error) {
			return h.engine.FinalizeGroupSimulacroParticipant(ctx, simulacroID, studentID)
		},
		result: func(ctx context.Context) (app.ContestResult, error) {
			return h.engine.GroupSimulacroResult(ctx, simulacroID)
		},
	})
}

func (h *WSHandler) serve(w http.ResponseWriter, r *http.Request, f feed) {
	if f.studentID == "" {
		http.Error(w, "missing studentId", http.StatusBadRequest)
		return
	}
	if _, _, err := f.progress(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	log := h.log.With("contest", f.contestID, "student", f.studentID)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer h.leave(f)

	send := make(chan outboundMessage, 16)
	writerDone := make(chan struct{})
	pollerDone := make(chan struct{})

	// single writer; gorilla connections allow one concurrent writer
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("ws write failed", "err", err)
				cancel()
				return
			}
		}
	}()

	push := func(msg outboundMessage) {
		select {
		case send <- msg:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(pollerDone)
		h.poll(ctx, f, push, log)
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "questions":
			qs, err := f.questions(ctx)
			if err != nil {
				push(errorMessage(err))
				continue
			}
			push(outboundMessage{Type: "questions", Payload: qs})
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage{Type: "error", Payload: errorPayload{Kind: domain.KindValidation.String(), Message: "invalid answer payload"}})
				continue
			}
			res, err := f.answer(ctx, payload)
			if err != nil {
				push(errorMessage(err))
				continue
			}
			push(outboundMessage{Type: "answerResult", Payload: res})
		case "finalize":
			res, err := f.finalize(ctx)
			if err != nil {
				push(errorMessage(err))
				continue
			}
			push(outboundMessage{Type: "finalized", Payload: res})
		default:
			push(outboundMessage{Type: "error", Payload: errorPayload{Kind: domain.KindValidation.String(), Message: "unsupported message type"}})
		}
	}

	cancel()
	<-pollerDone
	close(send)
	<-writerDone
}

// poll pushes a progress message whenever the snapshot changes and the ranked
// result once the contest is over.
func (h *WSHandler) poll(ctx context.Context, f feed, push func(outboundMessage), log *slog.Logger) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last []byte
	resultSent := false
	for {
		h.touch(ctx, f, log)
		snap, state, err := f.progress(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				log.Warn("progress poll failed", "err", err)
			}
		default:
			raw, err := json.Marshal(snap)
			if err == nil && !bytes.Equal(raw, last) {
				last = raw
				push(outboundMessage{Type: "progress", Payload: json.RawMessage(raw)})
			}
			if state == domain.StateFinished && !resultSent {
				if res, err := f.result(ctx); err == nil {
					resultSent = true
					push(outboundMessage{Type: "result", Payload: res})
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *WSHandler) touch(ctx context.Context, f feed, log *slog.Logger) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Touch(ctx, f.contestID, f.studentID); err != nil && ctx.Err() == nil {
		log.Debug("presence touch failed", "err", err)
	}
}

func (h *WSHandler) leave(f feed) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.presence.Leave(ctx, f.contestID, f.studentID)
}
