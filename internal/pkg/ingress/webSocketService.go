package ingress

import (
	"net/http"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/broadcast"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WsConn is interface for websocket handling in ingress service
type WsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	WriteJSON(v interface{}) error
}

// Broadcaster attaches viewers to live sessions
type Broadcaster interface {
	Subscribe(sessionID string) (*broadcast.Subscription, error)
	Unsubscribe(s *broadcast.Subscription)
}

// WSHandler serves one viewer websocket connection
type WSHandler interface {
	HandleConnection(WsConn) error
}

// Viewers pumps session events from the hub to websocket viewers.
// The first client message selects the session to follow.
type Viewers struct {
	hub     Broadcaster
	timeOut time.Duration
}

// NewViewers creates viewer connection handler
func NewViewers(hub Broadcaster) *Viewers {
	return &Viewers{hub: hub, timeOut: time.Minute * 30} // max time limit for a viewer - if longer so sorry
}

// HandleConnection loops until the viewer leaves, the session retires
// or the viewer is dropped for not keeping up
func (v *Viewers) HandleConnection(conn WsConn) error {
	defer conn.Close()
	readCh := make(chan string)
	go func() {
		defer close(readCh)
		defer goapp.Log.Debug().Msg("read routine ended")
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				goapp.Log.Debug().Err(err).Msg("viewer read failed")
				return
			}
			msg := strings.TrimSpace(string(message))
			if msg != "" {
				readCh <- msg
			}
		}
	}()

	var id string
	select {
	case <-time.After(v.timeOut):
		goapp.Log.Debug().Msg("conn timeouted")
		return nil
	case msg, ok := <-readCh:
		if !ok {
			return nil
		}
		id = msg
	}
	goapp.Log.Info().Str("ID", goapp.Sanitize(id)).Msg("viewer subscribing")

	sub, err := v.hub.Subscribe(id)
	if err != nil {
		_ = conn.WriteJSON(api.ViewerEvent{Type: api.EventTypeDisconnected, SessionID: id,
			Reason: "unknown session"})
		return nil
	}
	defer v.hub.Unsubscribe(sub)

	ta := time.After(v.timeOut)
	for {
		select {
		case <-ta:
			goapp.Log.Debug().Msg("conn timeouted")
			return nil
		case _, ok := <-readCh:
			if !ok {
				goapp.Log.Debug().Msg("viewer left")
				return nil
			}
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Dropped() {
					goapp.Log.Warn().Str("ID", id).Msg("viewer dropped")
					_ = conn.WriteJSON(api.ViewerEvent{Type: api.EventTypeDisconnected, SessionID: id,
						Reason: "not keeping up"})
				}
				return nil
			}
			if err := conn.WriteJSON(ev); err != nil {
				goapp.Log.Debug().Err(err).Msg("viewer write failed")
				return nil
			}
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

func subscribeHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		return data.WSHandler.HandleConnection(ws)
	}
}
