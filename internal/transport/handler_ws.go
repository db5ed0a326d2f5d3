package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/pitabwire/casewizard/internal/observability"
	"github.com/pitabwire/casewizard/internal/wizard"
	"github.com/pitabwire/casewizard/model"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsNotifyBuffer = 64
)

// ClientMessage is a command received over the session WebSocket.
type ClientMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is a response or notification sent over the session
// WebSocket. RequestID echoes the ClientMessage ID it answers; pushed
// notifications carry none.
type ServerMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type wsEdit struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type wsGoTo struct {
	Step string `json:"step"`
}

// webSocket upgrades the connection and runs the session message loop until
// the client disconnects or the session is closed.
func (h *handlers) webSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	log := observability.RequestLogger(r.Context(), h.logger).With(zap.String("session_id", s.ID()))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	notes, unsubscribe := s.Subscribe(wsNotifyBuffer)
	defer unsubscribe()

	h.send(ctx, conn, ServerMessage{Type: wizard.NotifyView, Data: s.View()})

	go func() {
		defer cancel()
		for n := range notes {
			if err := h.send(ctx, conn, ServerMessage{Type: n.Type, Data: n.Data}); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}()

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		h.dispatch(ctx, conn, s, msg)
	}
}

func (h *handlers) dispatch(ctx context.Context, conn *websocket.Conn, s *wizard.Session, msg ClientMessage) {
	var (
		v   model.WizardView
		err error
	)
	switch msg.Type {
	case "ping":
		h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		return
	case "view":
		v = s.View()
	case "edit":
		var d wsEdit
		if err = decodeData(msg.Data, &d); err == nil {
			v, err = s.Edit(ctx, d.Key, d.Value)
		}
	case "notes":
		var d notesRequest
		if err = decodeData(msg.Data, &d); err == nil {
			v, err = s.EditNotes(ctx, d.Notes)
		}
	case "next":
		v, err = s.Next(ctx)
	case "prev":
		v, err = s.Prev(ctx)
	case "goto":
		var d wsGoTo
		if err = decodeData(msg.Data, &d); err == nil {
			v, err = s.GoToStep(ctx, d.Step)
		}
	case "validate":
		v, err = s.Validate(ctx)
	case "bind":
		var d bindRequest
		if err = decodeData(msg.Data, &d); err == nil {
			v, err = s.BindProcedure(ctx, d.Code)
		}
	case "submit":
		v, err = s.Submit(ctx)
	case "reload":
		v, err = s.Reload(ctx)
	case "dismiss":
		var d dismissRequest
		if err = decodeData(msg.Data, &d); err == nil {
			v = s.DismissBanner(d.Kind)
		}
	default:
		err = model.NewBadRequestError("unknown message type: " + msg.Type)
	}

	if err != nil {
		ee := *model.AsEnvelope(err)
		if ee.Code == model.ErrInternalError {
			ee = *model.NewInternalError()
		}
		h.send(ctx, conn, ServerMessage{Type: "error", RequestID: msg.ID, Data: ee})
		return
	}
	h.send(ctx, conn, ServerMessage{Type: wizard.NotifyView, RequestID: msg.ID, Data: v})
}

func (h *handlers) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return model.NewBadRequestError("data is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return model.NewBadRequestError("invalid data")
	}
	return nil
}
