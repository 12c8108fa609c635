package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fadeout/internal/constants"
	"fadeout/internal/metrics"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// ServeEvents upgrades the request to a websocket and writes every event of
// sub as a JSON text frame until the client goes away, the
// subscription is closed or the request context ends. It takes ownership of
// sub and closes it on return.
func ServeEvents(w http.ResponseWriter, r *http.Request, sub *Subscription, logger *logrus.Logger) {
	defer sub.Close()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("Failed to accept websocket connection")
		return
	}
	defer func() { _ = conn.CloseNow() }()

	metrics.IncrementCounter("realtime_streams_opened_total", nil, "Websocket streams opened")

	// Client frames are ignored; CloseRead reports when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	if err := pump(ctx, conn, sub.Events()); err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) || errors.Is(err, context.Canceled) {
			logger.Debug("Websocket stream closed by client")
			return
		}
		logger.WithError(err).Warn("Websocket stream ended with error")
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "stream closed")
}

func pump(ctx context.Context, conn *websocket.Conn, events <-chan Event) error {
	writeTimeout := time.Duration(constants.DefaultWebsocketWriteSec) * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, evt)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
