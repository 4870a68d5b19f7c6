package bot

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/splitbot/internal/commands"
	"github.com/susu3304/splitbot/internal/conversation"
)

const buttonsPerRow = 5

// deliverOutbound sends messages in order and stops at the first failure so
// later messages never arrive ahead of a lost one.
func (b *Bot) deliverOutbound(ctx context.Context, out []conversation.Outbound) {
	for _, msg := range out {
		channelID, _, ok := commands.ParseSessionKey(msg.SessionID)
		if !ok {
			b.log.Debug("skipping message for another transport", zap.String("session", msg.SessionID))
			continue
		}
		for _, send := range toMessageSends(msg) {
			if err := b.sendWithRetry(ctx, channelID, send); err != nil {
				b.log.Error("failed to send message", zap.String("session", msg.SessionID), zap.Error(err))
				return
			}
		}
	}
}

// toMessageSends splits long content across messages. Buttons go on the
// last one.
func toMessageSends(msg conversation.Outbound) []*discordgo.MessageSend {
	chunks := commands.Chunk(msg.Content, commands.MessageLimit)
	sends := make([]*discordgo.MessageSend, len(chunks))
	for i, c := range chunks {
		sends[i] = &discordgo.MessageSend{Content: c}
	}
	sends[len(sends)-1].Components = components(msg.Options)
	return sends
}

func components(opts []conversation.Option) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(opts); start += buttonsPerRow {
		end := min(start+buttonsPerRow, len(opts))
		var buttons []discordgo.MessageComponent
		for i, o := range opts[start:end] {
			buttons = append(buttons, button(o, start+i == 0))
		}
		rows = append(rows, discordgo.ActionsRow{Components: buttons})
	}
	return rows
}

func button(o conversation.Option, primary bool) discordgo.Button {
	if o.URL != "" {
		return discordgo.Button{Label: o.Label, Style: discordgo.LinkButton, URL: o.URL}
	}
	style := discordgo.SecondaryButton
	if primary {
		style = discordgo.PrimaryButton
	}
	return discordgo.Button{Label: o.Label, Style: style, CustomID: o.Token}
}

func (b *Bot) sendWithRetry(ctx context.Context, channelID string, data *discordgo.MessageSend) error {
	const attemptTimeout = 12 * time.Second
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sendCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		_, err := b.api.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(sendCtx))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) || attempt == maxAttempts {
			return err
		}
		b.sleep(time.Duration(300+rand.Intn(500)) * time.Millisecond)
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode >= http.StatusInternalServerError
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
