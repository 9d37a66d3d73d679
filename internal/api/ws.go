package api

import (
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// transcriptWS streams live transcript lines as JSON text frames until the
// client goes away or the engine closes.
func (h *Handler) transcriptWS(w http.ResponseWriter, r *http.Request) {
	sub := h.engine.SubscribeTranscript(queryInt(r, "buffer", 0))
	defer sub.Close()

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer c.CloseNow()

	// the client never sends; CloseRead notices when it disconnects
	ctx := c.CloseRead(r.Context())
	for {
		line, ok := sub.Next(ctx)
		if !ok {
			if ctx.Err() == nil {
				c.Close(websocket.StatusGoingAway, "transcript closed")
			}
			return
		}
		if err := wsjson.Write(ctx, c, line); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}
