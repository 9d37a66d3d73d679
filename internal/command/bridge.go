package command

import (
	"context"
	"time"

	"github.com/nidhogg/alice/internal/gateway"
	"go.uber.org/zap"
)

// GatewayHandler routes inbound chat messages: slash commands are answered
// in the channel they came from and everything else goes to fallback.
func GatewayHandler(reg *Registry, gw *gateway.Gateway, fallback gateway.MessageHandler, logger *zap.Logger) gateway.MessageHandler {
	return func(msg *gateway.InboundMessage) {
		if !IsCommand(msg.Content) {
			if fallback != nil {
				fallback(msg)
			}
			return
		}

		// adapters call handlers from their read loops; a /turn may take minutes
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			defer cancel()

			cc := &Context{
				Platform:  msg.Platform,
				ChannelID: msg.ChannelID,
				UserID:    msg.UserID,
				UserName:  msg.UserName,
			}
			res, err := reg.Dispatch(ctx, msg.Content, cc)
			content := ""
			if err != nil {
				content = "Error: " + err.Error()
			} else if res != nil {
				content = res.Content
			}
			if content == "" {
				return
			}
			err = gw.Send(ctx, &gateway.OutboundMessage{
				Platform:  msg.Platform,
				ChannelID: msg.ChannelID,
				Content:   content,
			})
			if err != nil {
				logger.Warn("command reply failed",
					zap.String("platform", msg.Platform), zap.Error(err))
			}
		}()
	}
}
