package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackAdapter relays the transcript to one Slack channel over Socket Mode.
type SlackAdapter struct {
	channelID string
	client    *slack.Client
	socket    *socketmode.Client
	handler   MessageHandler
	personas  map[string]*AgentPersona // resident -> persona
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken, channelID string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)

	return &SlackAdapter{
		channelID: channelID,
		client:    client,
		socket:    socket,
		personas:  make(map[string]*AgentPersona),
		logger:    logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetPersona registers a resident's display persona.
func (a *SlackAdapter) SetPersona(resident string, persona *AgentPersona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[resident] = persona
}

// Connect starts the Socket Mode event loop; it stops with ctx.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("slack socket mode error", zap.Error(err))
		}
	}()
	a.logger.Info("slack adapter connected via socket mode", zap.String("channel", a.channelID))
	return nil
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	a.socket.Ack(*evt.Request)

	if eventsAPI.Type != slackevents.CallbackEvent {
		return
	}
	if inner, ok := eventsAPI.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		// bot messages would echo the relay back into the world
		if inner.BotID != "" {
			return
		}
		a.handleSlackMessage(inner)
	}
}

func (a *SlackAdapter) handleSlackMessage(ev *slackevents.MessageEvent) {
	if a.handler == nil {
		return
	}
	if a.channelID != "" && ev.Channel != a.channelID {
		return
	}
	a.handler(&InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   ev.Text,
		Timestamp: time.Now(),
	})
}

// Send posts a message with the speaker's persona, if one is registered.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	channel := msg.ChannelID
	if channel == "" {
		channel = a.channelID
	}
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
	}
	opts = append(opts, a.personaOpts(msg.Speaker)...)

	if _, _, err := a.client.PostMessageContext(ctx, channel, opts...); err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", channel), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (a *SlackAdapter) personaOpts(resident string) []slack.MsgOption {
	if resident == "" {
		return nil
	}
	a.mu.RLock()
	p, ok := a.personas[resident]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	opts := []slack.MsgOption{
		slack.MsgOptionUsername(p.Name),
	}
	if p.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(p.IconURL))
	} else if p.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(p.Emoji))
	}
	return opts
}

// Close is a no-op; the socket context cancellation handles shutdown.
func (a *SlackAdapter) Close() error {
	return nil
}
