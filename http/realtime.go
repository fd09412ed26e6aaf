package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// DefaultLiveStatsInterval is how often the live stream pushes a snapshot
// when no interval is configured.
const DefaultLiveStatsInterval = time.Second

// HandleLiveStats upgrades the connection to a websocket and pushes a stats
// snapshot every interval until the client goes away or ctx is canceled.
func HandleLiveStats(ctx context.Context, provider StatsProvider, interval time.Duration) http.Handler {
	if interval <= 0 {
		interval = DefaultLiveStatsInterval
	}

	return websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			logs.WithTag("remote_addr", conn.Request().RemoteAddr).
				Info("live stats stream opened")

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				if err := sendStats(conn, provider); err != nil {
					logs.WithTag("remote_addr", conn.Request().RemoteAddr).
						Debug("live stats stream closed")
					return
				}

				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		},
	}
}

func sendStats(conn *websocket.Conn, provider StatsProvider) error {
	body, err := json.Marshal(snapshotStats(provider))
	if err != nil {
		return errors.New("encoding stats snapshot failed").Wrap(err)
	}
	if err := websocket.Message.Send(conn, body); err != nil {
		return errors.New("sending stats snapshot failed").Wrap(err)
	}
	return nil
}
