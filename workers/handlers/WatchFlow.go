package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// same policy as the CORS headers
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchFlow pushes every published view of the flow over a websocket until
// the flow closes or the client goes away.
func (a *API) WatchFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := a.flows.Get(chi.URLParam(r, "id"))
	if err != nil {
		responseFlowError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("module", "http").Warnf("websocket upgrade failed: %s", err.Error())
		return
	}
	defer conn.Close()
	logger := log.WithFields(log.Fields{"module": "http", "flow": flow.ID()})
	logger.Debug("websocket opened")

	views, cancel := flow.Subscribe()
	defer cancel()

	// the read side only handles control frames and notices the client leaving
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warnf("websocket read: %s", err.Error())
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case v := <-views:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(&APIFlowResponse{Status: flowStatus(v), Flow: v}); err != nil {
				logger.Debugf("websocket write: %s", err.Error())
				return
			}
			if v.Closed {
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "flow closed"), time.Now().Add(writeWait))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			logger.Debug("websocket closed by client")
			return
		case <-r.Context().Done():
			return
		}
	}
}
