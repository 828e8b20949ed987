package websocket

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"loyaltykit/core"
	"loyaltykit/realtime"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Options tunes the streaming handler.
type Options struct {
	Buffer         int
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Handler upgrades to WebSocket and streams hub events. A ?user= query limits
// the stream to one user.
func Handler(hub *realtime.Hub) http.Handler { return HandlerWithOptions(hub, Options{}) }

func HandlerWithOptions(hub *realtime.Hub, opts Options) http.Handler {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		var user core.UserID
		if q := r.URL.Query().Get("user"); q != "" {
			if user, err = core.NormalizeUserID(core.UserID(q)); err != nil {
				return
			}
		}
		id, ch := hub.SubscribeUser(user, opts.Buffer)
		defer hub.Unsubscribe(id)

		// reader goroutine handles pongs and notices the client going away
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
