package handler

import (
	"context"
	"sort"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
	"github.com/noah-isme/lms-progress-api/internal/service"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/response"
)

const liveWriteTimeout = 5 * time.Second

type liveAttemptService interface {
	Session(ctx context.Context, principal models.Principal, sessionID string) (*models.QuizSession, error)
	Submit(ctx context.Context, principal models.Principal, quizID string, req dto.SubmitAttemptRequest) (*dto.AttemptResult, error)
}

type quizDefinitionSource interface {
	Definition(ctx context.Context, quizID string) (models.Quiz, error)
}

// LiveSessionHandler runs a quiz session over a WebSocket: the server pushes a countdown tick
// every second and submits the recorded answers itself when the deadline passes.
type LiveSessionHandler struct {
	attempts       liveAttemptService
	quizzes        quizDefinitionSource
	metrics        *service.MetricsService
	originPatterns []string
	tickInterval   time.Duration
	logger         *zap.Logger
}

// NewLiveSessionHandler constructs LiveSessionHandler. originPatterns restricts cross-origin
// upgrades; an empty list accepts any origin.
func NewLiveSessionHandler(attempts liveAttemptService, quizzes quizDefinitionSource, metrics *service.MetricsService, originPatterns []string, logger *zap.Logger) *LiveSessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveSessionHandler{
		attempts:       attempts,
		quizzes:        quizzes,
		metrics:        metrics,
		originPatterns: originPatterns,
		tickInterval:   time.Second,
		logger:         logger,
	}
}

// Serve godoc
// @Summary Live quiz session
// @Description Upgrades to a WebSocket. Client messages: {"type":"answer","question_id","value"} and {"type":"submit"}. Server events: state, tick, submitted, error.
// @Tags Quiz Attempts
// @Param sessionId path string true "Session ID"
// @Param access_token query string false "Access token for browsers that cannot set headers"
// @Success 101
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /quiz-sessions/{sessionId}/live [get]
func (h *LiveSessionHandler) Serve(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	session, err := h.attempts.Session(ctx, principal, c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	switch session.Status {
	case models.QuizSessionSubmitted:
		response.Error(c, appErrors.Clone(appErrors.ErrAlreadySubmitted, ""))
		return
	case models.QuizSessionExpired:
		response.Error(c, appErrors.Clone(appErrors.ErrTimeLimitExceeded, ""))
		return
	}
	quiz, err := h.quizzes.Definition(ctx, session.QuizID)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: len(h.originPatterns) == 0,
	})
	if err != nil {
		h.logger.Warn("live session upgrade failed", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	live := service.NewLiveSession(func(ctx context.Context, answers map[string]string) (*dto.AttemptResult, error) {
		return h.attempts.Submit(ctx, principal, session.QuizID, dto.SubmitAttemptRequest{
			SessionID:          session.ID,
			ClientSubmissionID: "session:" + session.ID,
			Answers:            answerInputs(answers),
		})
	}, h.metrics)
	if err := live.Start(quiz, session.ExpiresAt); err != nil {
		_ = h.send(ctx, conn, errorEvent(err))
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if closing := h.run(ctx, cancel, conn, live); closing != nil {
		conn.Close(closing.code, closing.reason)
	}
}

// liveClose is the close frame sent when the server ends a live session.
type liveClose struct {
	code   websocket.StatusCode
	reason string
}

// autoSubmitFailed closes the socket after the deadline submission was rejected; the
// session cannot be auto-submitted again.
func autoSubmitFailed(err error) *liveClose {
	if appErrors.FromError(err).Status >= 500 {
		return &liveClose{code: websocket.StatusInternalError, reason: "auto-submit failed"}
	}
	return &liveClose{code: websocket.StatusPolicyViolation, reason: "auto-submit rejected"}
}

// run pumps client messages and countdown ticks until the server ends the session, returning
// the close frame to send, or until the connection goes away (nil). cancel stops the loop
// when the reader fails; the caller cancels ctx only after the close frame is sent.
func (h *LiveSessionHandler) run(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, live *service.LiveSession) *liveClose {
	messages := make(chan dto.LiveClientMessage)
	go func() {
		defer cancel()
		for {
			var msg dto.LiveClientMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			select {
			case messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := h.send(ctx, conn, stateEvent(live)); err != nil {
		return nil
	}

	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	for {
		var (
			event   dto.LiveServerEvent
			closing *liveClose
		)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			remaining, result, err := live.Tick(ctx)
			switch {
			case err != nil:
				h.logger.Warn("live session auto-submit failed", zap.Error(err))
				event = errorEvent(err)
				closing = autoSubmitFailed(err)
			case result != nil:
				event = dto.LiveServerEvent{Type: dto.LiveEventSubmitted, State: string(live.State()), Result: result}
				closing = &liveClose{code: websocket.StatusNormalClosure, reason: "submitted"}
			default:
				if _, limited := live.Remaining(); !limited {
					continue
				}
				event = dto.LiveServerEvent{Type: dto.LiveEventTick, RemainingSeconds: &remaining}
			}
		case msg := <-messages:
			switch msg.Type {
			case dto.LiveMessageAnswer:
				if err := live.RecordAnswer(msg.QuestionID, msg.Value); err != nil {
					event = errorEvent(err)
				} else {
					event = stateEvent(live)
				}
			case dto.LiveMessageSubmit:
				result, err := live.Submit(ctx)
				if err != nil {
					event = errorEvent(err)
				} else {
					event = dto.LiveServerEvent{Type: dto.LiveEventSubmitted, State: string(live.State()), Result: result}
					closing = &liveClose{code: websocket.StatusNormalClosure, reason: "submitted"}
				}
			default:
				event = errorEvent(appErrors.Clone(appErrors.ErrValidation, "unknown message type"))
			}
		}

		if err := h.send(ctx, conn, event); err != nil {
			return nil
		}
		if closing != nil {
			return closing
		}
	}
}

func (h *LiveSessionHandler) send(ctx context.Context, conn *websocket.Conn, event dto.LiveServerEvent) error {
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}

func stateEvent(live *service.LiveSession) dto.LiveServerEvent {
	event := dto.LiveServerEvent{Type: dto.LiveEventState, State: string(live.State())}
	if remaining, limited := live.Remaining(); limited {
		event.RemainingSeconds = &remaining
	}
	return event
}

func errorEvent(err error) dto.LiveServerEvent {
	appErr := appErrors.FromError(err)
	return dto.LiveServerEvent{Type: dto.LiveEventError, ErrorCode: appErr.Code, Message: appErr.Message}
}

func answerInputs(answers map[string]string) []dto.AnswerInput {
	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	inputs := make([]dto.AnswerInput, 0, len(ids))
	for _, id := range ids {
		inputs = append(inputs, dto.AnswerInput{QuestionID: id, Value: answers[id]})
	}
	return inputs
}
