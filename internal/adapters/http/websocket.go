package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/groundsync/internal/pkg/metrics"
)

// wsSnapshot is pushed to clients whenever a survey's locations change.
type wsSnapshot struct {
	Type     string     `json:"type"` // "snapshot" | "error"
	SurveyID string     `json:"survey_id"`
	Data     []*loiView `json:"data,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// LOIWebSocketHandler streams a survey's locations to the client: one
// snapshot on connect and another after every local change, whether it came
// from a field edit or a merged remote event.
func LOIWebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		surveyID := c.Params("id")
		log := slog.Default().With("component", "ws", "survey", surveyID, "remote", c.RemoteAddr().String())
		log.Info("ws client connected")

		parent := context.Background()
		if uc, ok := c.Locals("user_ctx").(context.Context); ok {
			parent = uc
		}
		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		var mu sync.Mutex
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		updates, err := deps.LOIs.Watch(ctx, surveyID)
		if err != nil {
			_ = writeJSON(wsSnapshot{Type: "error", SurveyID: surveyID, Error: err.Error()})
			return
		}

		var wg sync.WaitGroup
		wg.Add(2)

		// Push snapshots
		go func() {
			defer wg.Done()
			defer cancel()
			for lois := range updates {
				msg := wsSnapshot{Type: "snapshot", SurveyID: surveyID, Data: make([]*loiView, 0, len(lois))}
				for i := range lois {
					v, err := toLOIView(&lois[i])
					if err != nil {
						log.Warn("skipping unencodable location", "loi", lois[i].ID, "error", err)
						continue
					}
					msg.Data = append(msg.Data, v)
				}
				if err := writeJSON(msg); err != nil {
					return
				}
			}
		}()

		// Keep-alive ping
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						cancel()
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		// The client only sends control frames; reading detects the close.
		go func() {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		wg.Wait()
		log.Info("ws client disconnected")
	}
}
