package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/splitbot/internal/commands"
	"github.com/susu3304/splitbot/internal/conversation"
	"github.com/susu3304/splitbot/internal/media"
)

const (
	msgNoImage        = "That message has no image attached."
	msgReading        = "Reading the receipt..."
	msgDone           = "Done."
	msgImageTooLarge  = "That file is too large. Please send a smaller photo of the receipt."
	msgDownloadFailed = "I couldn't download that attachment. Please try again."
)

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.self.Store(event.User.ID)
	b.log.Info("connected", zap.String("user", event.User.Username))

	// Register commands for all guilds
	for _, guild := range event.Guilds {
		if err := b.registerGuildCommands(guild.ID); err != nil {
			b.log.Warn("failed to register commands", zap.String("guild", guild.ID), zap.Error(err))
		}
	}
}

func (b *Bot) onGuildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	b.log.Info("guild available, ensuring commands", zap.String("guild", event.ID), zap.String("name", event.Name))
	if err := b.registerGuildCommands(event.ID); err != nil {
		b.log.Warn("failed to register commands", zap.String("guild", event.ID), zap.Error(err))
	}
}

func (b *Bot) registerGuildCommands(guildID string) error {
	// Delete existing commands and register new ones
	_, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, guildID, commands.GetCommands())
	if err != nil {
		return err
	}
	b.log.Debug("registered application commands", zap.String("guild", guildID))
	return nil
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot messages
	if m.Author == nil || m.Author.Bot {
		return
	}
	b.handleMessage(m.Message)
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleApplicationCommand(i.Interaction)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(i.Interaction)
	}
}

// handleMessage turns a chat message into an event. In guild channels the
// bot only listens when mentioned or when the author is mid-conversation.
func (b *Bot) handleMessage(msg *discordgo.Message) {
	id := commands.SessionKey(msg.ChannelID, msg.Author.ID)
	mentioned := b.mentioned(msg)
	if msg.GuildID != "" && !mentioned && !b.active(id) {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.eventTimeout)
	defer cancel()

	if len(msg.Attachments) > 0 {
		b.deliverAttachment(ctx, id, msg.Attachments[0])
		return
	}

	text := b.stripMention(msg.Content)
	if text == "" && !mentioned {
		return
	}
	b.dispatch(ctx, id, conversation.TextCommand{Text: text})
}

func (b *Bot) handleComponent(i *discordgo.Interaction) {
	userID := interactionUser(i)
	if userID == "" {
		return
	}
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		b.log.Warn("failed to acknowledge button", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.eventTimeout)
	defer cancel()
	id := commands.SessionKey(i.ChannelID, userID)
	b.dispatch(ctx, id, conversation.ButtonPressed{Token: i.MessageComponentData().CustomID})
}

func (b *Bot) handleApplicationCommand(i *discordgo.Interaction) {
	userID := interactionUser(i)
	if userID == "" {
		return
	}
	data := i.ApplicationCommandData()
	id := commands.SessionKey(i.ChannelID, userID)

	ctx, cancel := context.WithTimeout(b.ctx, b.eventTimeout)
	defer cancel()

	if data.Name == commands.SplitReceipt {
		b.handleSplitReceipt(ctx, i, id, data)
		return
	}

	text, ok := commands.TextFor(data.Name)
	if !ok {
		return
	}
	out := b.resolve(ctx, id, conversation.TextCommand{Text: text})

	// The first message answers the interaction, the rest go to the channel.
	var sends []*discordgo.MessageSend
	for _, msg := range out {
		sends = append(sends, toMessageSends(msg)...)
	}
	first := &discordgo.MessageSend{Content: msgDone}
	if len(sends) > 0 {
		first, sends = sends[0], sends[1:]
	}
	b.respond(i, first)
	for _, send := range sends {
		if err := b.sendWithRetry(b.ctx, i.ChannelID, send); err != nil {
			b.log.Error("failed to send message", zap.String("session", id), zap.Error(err))
			return
		}
	}
}

func (b *Bot) handleSplitReceipt(ctx context.Context, i *discordgo.Interaction, id string, data discordgo.ApplicationCommandInteractionData) {
	var attachment *discordgo.MessageAttachment
	if data.Resolved != nil {
		for _, msg := range data.Resolved.Messages {
			if len(msg.Attachments) > 0 {
				attachment = msg.Attachments[0]
				break
			}
		}
	}
	if attachment == nil {
		b.respond(i, &discordgo.MessageSend{Content: msgNoImage})
		return
	}
	b.respond(i, &discordgo.MessageSend{Content: msgReading})
	b.deliverAttachment(ctx, id, attachment)
}

func (b *Bot) deliverAttachment(ctx context.Context, id string, a *discordgo.MessageAttachment) {
	var (
		data     []byte
		mimeType string
		err      error
	)
	if int64(a.Size) > b.media.MaxBytes {
		err = fmt.Errorf("%w: attachment is %d bytes", media.ErrTooLarge, a.Size)
	} else {
		data, mimeType, err = b.media.Fetch(ctx, a.URL, a.ContentType)
	}
	if err != nil {
		b.log.Warn("failed to fetch attachment", zap.String("session", id), zap.Error(err))
		content := msgDownloadFailed
		if errors.Is(err, media.ErrTooLarge) {
			content = msgImageTooLarge
		}
		b.deliverOutbound(b.ctx, []conversation.Outbound{{SessionID: id, Content: content}})
		return
	}
	b.dispatch(ctx, id, conversation.ImageReceived{Data: data, MimeType: mimeType})
}

// dispatch sends replies outside the event deadline so a slow event still
// gets its answer.
func (b *Bot) dispatch(ctx context.Context, id string, ev conversation.Event) {
	b.deliverOutbound(b.ctx, b.resolve(ctx, id, ev))
}

func (b *Bot) resolve(ctx context.Context, id string, ev conversation.Event) []conversation.Outbound {
	out, err := b.conv.Deliver(ctx, id, ev)
	switch {
	case errors.Is(err, conversation.ErrSessionExpired):
		return []conversation.Outbound{conversation.ExpiredNotice(id)}
	case err != nil:
		b.log.Warn("event not handled", zap.String("session", id), zap.Error(err))
		return nil
	}
	return out
}

func (b *Bot) respond(i *discordgo.Interaction, msg *discordgo.MessageSend) {
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    msg.Content,
			Components: msg.Components,
		},
	})
	if err != nil {
		b.log.Warn("failed to respond to interaction", zap.Error(err))
	}
}

func (b *Bot) active(id string) bool {
	if b.reg == nil {
		return false
	}
	snap, ok := b.reg.Get(id)
	return ok && snap.State != conversation.Idle && !snap.State.Terminal()
}

func (b *Bot) selfID() string {
	id, _ := b.self.Load().(string)
	return id
}

func (b *Bot) mentioned(msg *discordgo.Message) bool {
	self := b.selfID()
	if self == "" {
		return false
	}
	for _, u := range msg.Mentions {
		if u != nil && u.ID == self {
			return true
		}
	}
	return false
}

func (b *Bot) stripMention(content string) string {
	if self := b.selfID(); self != "" {
		content = strings.NewReplacer("<@"+self+">", "", "<@!"+self+">", "").Replace(content)
	}
	return strings.TrimSpace(content)
}

func interactionUser(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
