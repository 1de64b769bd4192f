package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/mwork/chat-governor/internal/domain/admission"
	"github.com/mwork/chat-governor/internal/domain/removal"
	"github.com/mwork/chat-governor/internal/pkg/logger"
)

const eventTimeout = 30 * time.Second

// Gate receives chat lifecycle events
type Gate interface {
	OnChatObserved(ctx context.Context, chatID int64) error
	OnChatCreated(ctx context.Context, chat admission.Chat) error
	OnInviteReceived(ctx context.Context, chatID, inviterID int64) error
	OnKicked(ctx context.Context, chatID, kickedUserID int64)
	IsEvicting(chatID int64) bool
}

// Recorder receives message activity
type Recorder interface {
	Record(chatID int64, symbols, messages int64)
}

// Bot maps Discord guilds to governed chats. It also implements
// removal.Transport on the same session.
type Bot struct {
	session *discordgo.Session
	gate    Gate
	acc     Recorder
	log     zerolog.Logger

	mu     sync.Mutex
	known  map[int64]struct{}
	selfID int64
}

// NewBot creates a bot session. Call Bind before Start.
func NewBot(token string) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	return &Bot{
		session: s,
		known:   make(map[int64]struct{}),
		log:     logger.Component("discord"),
	}, nil
}

// Bind wires the event consumers and registers gateway handlers
func (b *Bot) Bind(gate Gate, acc Recorder) {
	b.gate = gate
	b.acc = acc

	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { b.onReady(r) })
	b.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) { b.onGuildCreate(g) })
	b.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) { b.onGuildDelete(g) })
	b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { b.onMessageCreate(m) })
}

// Start opens the Discord gateway connection
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	b.log.Info().Msg("Discord bot connected")
	return nil
}

// Stop closes the Discord gateway connection
func (b *Bot) Stop() {
	if err := b.session.Close(); err != nil {
		b.log.Warn().Err(err).Msg("Discord session close failed")
		return
	}
	b.log.Info().Msg("Discord bot disconnected")
}

func (b *Bot) onReady(r *discordgo.Ready) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.User != nil {
		b.selfID, _ = parseID(r.User.ID)
	}
	for _, g := range r.Guilds {
		if id, ok := parseID(g.ID); ok {
			b.known[id] = struct{}{}
		}
	}

	b.log.Info().Int("guilds", len(r.Guilds)).Msg("Discord session ready")
}

func (b *Bot) onGuildCreate(g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable {
		return
	}
	chatID, ok := parseID(g.ID)
	if !ok {
		b.log.Warn().Str("guild_id", g.ID).Msg("Dropping guild create with invalid id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if !b.remember(chatID) {
		if err := b.gate.OnChatObserved(ctx, chatID); err != nil {
			b.log.Error().Err(err).Int64("chat_id", chatID).Msg("Observed chat check failed")
		}
		return
	}

	// A guild not present at Ready is a new join
	if err := b.gate.OnInviteReceived(ctx, chatID, 0); err != nil {
		b.forget(chatID)
		if !errors.Is(err, admission.ErrChatBanned) {
			b.log.Error().Err(err).Int64("chat_id", chatID).Msg("Invite check failed")
		}
		return
	}

	ownerID, _ := parseID(g.OwnerID)
	err := b.gate.OnChatCreated(ctx, admission.Chat{
		ID:          chatID,
		MemberCount: g.MemberCount,
		CreatorID:   ownerID,
	})
	switch {
	case err == nil:
	case errors.Is(err, admission.ErrChatTooSmall):
		b.forget(chatID)
	default:
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("New chat check failed")
	}
}

func (b *Bot) onGuildDelete(g *discordgo.GuildDelete) {
	if g.Guild == nil || g.Unavailable {
		// Outage, not a removal
		return
	}
	chatID, ok := parseID(g.ID)
	if !ok {
		return
	}
	b.forget(chatID)

	b.mu.Lock()
	selfID := b.selfID
	b.mu.Unlock()

	b.gate.OnKicked(context.Background(), chatID, selfID)
}

func (b *Bot) onMessageCreate(m *discordgo.MessageCreate) {
	if m.Message == nil || m.GuildID == "" || m.Author == nil || m.Author.Bot {
		return
	}
	chatID, ok := parseID(m.GuildID)
	if !ok || b.gate.IsEvicting(chatID) {
		return
	}
	b.acc.Record(chatID, int64(utf8.RuneCountInString(m.Content)), 1)
}

// remember marks a guild as joined and reports whether it was new
func (b *Bot) remember(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.known[chatID]; ok {
		return false
	}
	b.known[chatID] = struct{}{}
	return true
}

func (b *Bot) forget(chatID int64) {
	b.mu.Lock()
	delete(b.known, chatID)
	b.mu.Unlock()
}

// SendNotice posts to the guild's system channel, or its first text channel
func (b *Bot) SendNotice(ctx context.Context, chatID int64, text string) error {
	guildID := strconv.FormatInt(chatID, 10)

	channelID, err := b.noticeChannel(ctx, guildID)
	if err != nil {
		return err
	}
	if _, err := b.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send notice to %s: %w", guildID, err)
	}
	return nil
}

func (b *Bot) noticeChannel(ctx context.Context, guildID string) (string, error) {
	if g, err := b.session.State.Guild(guildID); err == nil && g.SystemChannelID != "" {
		return g.SystemChannelID, nil
	}

	channels, err := b.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("list channels of %s: %w", guildID, err)
	}
	if id := firstTextChannel(channels); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no text channel in guild %s", guildID)
}

// LeaveChat leaves the guild
func (b *Bot) LeaveChat(ctx context.Context, chatID int64) error {
	guildID := strconv.FormatInt(chatID, 10)
	if err := b.session.GuildLeave(guildID, discordgo.WithContext(ctx)); err != nil {
		if isAlreadyGone(err) {
			return fmt.Errorf("leave guild %s: %w", guildID, removal.ErrAlreadyGone)
		}
		return fmt.Errorf("leave guild %s: %w", guildID, err)
	}
	return nil
}

func parseID(snowflake string) (int64, bool) {
	id, err := strconv.ParseInt(snowflake, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func firstTextChannel(channels []*discordgo.Channel) string {
	for _, c := range channels {
		if c != nil && c.Type == discordgo.ChannelTypeGuildText {
			return c.ID
		}
	}
	return ""
}

func isAlreadyGone(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownGuild {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
