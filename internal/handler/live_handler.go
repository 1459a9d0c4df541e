package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-ledger-api/internal/ledger"
	"github.com/noah-isme/trainer-ledger-api/internal/models"
	"github.com/noah-isme/trainer-ledger-api/internal/realtime"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
	"github.com/noah-isme/trainer-ledger-api/pkg/response"
)

const defaultHeartbeat = 25 * time.Second

type liveHub interface {
	Subscribe(ctx context.Context, topic realtime.Topic, fn func(realtime.Snapshot)) (func(), error)
	Done() <-chan struct{}
}

type dashboardComposer interface {
	FromStudents(students []models.Student) models.DashboardSummary
}

type liveEvent struct {
	name string
	data interface{}
}

type livePayload struct {
	Sequence uint64      `json:"sequence"`
	At       time.Time   `json:"at"`
	Data     interface{} `json:"data"`
}

type liveError struct {
	Sequence uint64 `json:"sequence"`
	Message  string `json:"message"`
}

// LiveHandler streams topic snapshots as Server-Sent Events.
type LiveHandler struct {
	hub       liveHub
	dashboard dashboardComposer
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewLiveHandler constructs the handler. A zero heartbeat uses the default interval.
func NewLiveHandler(hub liveHub, dashboard dashboardComposer, logger *zap.Logger, heartbeat time.Duration) *LiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &LiveHandler{hub: hub, dashboard: dashboard, logger: logger, heartbeat: heartbeat}
}

// Dashboard godoc
// @Summary Live dashboard stream
// @Description Emits a "dashboard" event with stats and attention list on every student change.
// @Tags Live
// @Produce text/event-stream
// @Router /live/dashboard [get]
func (h *LiveHandler) Dashboard(c *gin.Context) {
	h.stream(c, realtime.StudentsTopic(), func(s realtime.Snapshot) liveEvent {
		return liveEvent{name: "dashboard", data: h.dashboard.FromStudents(s.Students)}
	})
}

// Student godoc
// @Summary Live stream of one student
// @Tags Live
// @Produce text/event-stream
// @Param id path string true "Student ID"
// @Param feed query string false "student, history or measurements"
// @Router /live/students/{id} [get]
func (h *LiveHandler) Student(c *gin.Context) {
	id := c.Param("id")
	switch c.DefaultQuery("feed", string(realtime.KindStudent)) {
	case string(realtime.KindStudent):
		h.stream(c, realtime.StudentTopic(id), func(s realtime.Snapshot) liveEvent {
			if s.Student == nil {
				return liveEvent{name: "deleted", data: gin.H{"id": id}}
			}
			return liveEvent{name: "student", data: ledger.Detail(*s.Student)}
		})
	case string(realtime.KindHistory):
		h.stream(c, realtime.HistoryTopic(id), func(s realtime.Snapshot) liveEvent {
			return liveEvent{name: "history", data: s.History}
		})
	case string(realtime.KindMeasurements):
		h.stream(c, realtime.MeasurementsTopic(id), func(s realtime.Snapshot) liveEvent {
			return liveEvent{name: "measurements", data: models.MeasurementHistory{
				Entries: s.Measurements,
				Trend:   ledger.MeasurementTrend(s.Measurements),
			}}
		})
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "feed must be student, history or measurements"))
	}
}

func (h *LiveHandler) stream(c *gin.Context, topic realtime.Topic, render func(realtime.Snapshot) liveEvent) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan liveEvent)
	unsubscribe, err := h.hub.Subscribe(ctx, topic, func(s realtime.Snapshot) {
		var ev liveEvent
		if s.Err != nil {
			ev = liveEvent{name: "error", data: liveError{Sequence: s.Sequence, Message: "failed to load live data"}}
		} else {
			ev = render(s)
			ev.data = livePayload{Sequence: s.Sequence, At: s.At, Data: ev.data}
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		response.Error(c, appErrors.Wrap(err, "UNAVAILABLE", http.StatusServiceUnavailable, "live updates unavailable"))
		return
	}
	defer unsubscribe()

	h.logger.Debug("live stream opened", zap.String("topic", topic.String()))
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.hub.Done():
			return false
		case ev := <-events:
			c.SSEvent(ev.name, ev.data)
			return true
		case <-ticker.C:
			c.SSEvent("heartbeat", time.Now().UTC().Unix())
			return true
		}
	})
	h.logger.Debug("live stream closed", zap.String("topic", topic.String()))
}
