package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter relays the transcript to one Discord channel and reads
// messages posted there.
type DiscordAdapter struct {
	token       string
	channelID   string
	session     *discordgo.Session
	handler     MessageHandler
	personas    map[string]*AgentPersona // resident -> persona
	webhook     string                   // optional webhook URL for persona messages
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter bound to channelID.
func NewDiscordAdapter(token, channelID string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:     token,
		channelID: channelID,
		personas:  make(map[string]*AgentPersona),
		logger:    logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetPersona registers a resident's display persona.
func (a *DiscordAdapter) SetPersona(resident string, persona *AgentPersona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[resident] = persona
}

// SetWebhook enables persona-styled messages through a channel webhook.
func (a *DiscordAdapter) SetWebhook(webhookURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.webhook = webhookURL
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setError(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	a.session = session

	a.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	a.session.AddHandler(a.onMessageCreate)

	if err := a.session.Open(); err != nil {
		a.setError(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	a.logger.Info("discord adapter connected",
		zap.String("user", a.session.State.User.Username),
		zap.String("channel", a.channelID))
	return nil
}

func (a *DiscordAdapter) setError(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = msg
	a.connected = false
}

// onMessageCreate forwards messages from the relay channel.
func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if a.channelID != "" && m.ChannelID != a.channelID {
		return
	}
	if a.handler == nil {
		return
	}
	a.handler(&InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	})
}

// Send posts a message to the relay channel. With a webhook and a persona
// for the speaker it shows the resident's name and avatar.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	if a.session == nil {
		return fmt.Errorf("discord send: not connected")
	}
	channel := msg.ChannelID
	if channel == "" {
		channel = a.channelID
	}

	a.mu.RLock()
	webhookURL := a.webhook
	persona, hasPersona := a.personas[msg.Speaker]
	a.mu.RUnlock()

	if webhookURL != "" && hasPersona {
		return a.sendViaWebhook(webhookURL, persona, msg.Content)
	}

	if _, err := a.session.ChannelMessageSend(channel, msg.Content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (a *DiscordAdapter) sendViaWebhook(webhookURL string, persona *AgentPersona, content string) error {
	webhook, err := a.session.WebhookWithToken(webhookURL, "")
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}

	params := &discordgo.WebhookParams{
		Content:  content,
		Username: persona.Name,
	}
	if persona.IconURL != "" {
		params.AvatarURL = persona.IconURL
	}

	if _, err := a.session.WebhookExecute(webhook.ID, webhook.Token, false, params); err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = fmt.Sprintf("bot=%s, channel=%s", a.session.State.User.Username, a.channelID)
	}
	return s
}
