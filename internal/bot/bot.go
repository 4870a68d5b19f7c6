package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/splitbot/internal/conversation"
	"github.com/susu3304/splitbot/internal/media"
)

const (
	defaultEventTimeout  = 3 * time.Minute
	defaultFetchTimeout  = 20 * time.Second
	defaultMaxImageBytes = 10 << 20
)

// Conversation is the part of the state machine the bot drives.
type Conversation interface {
	Deliver(ctx context.Context, id string, ev conversation.Event) ([]conversation.Outbound, error)
}

// Sessions answers whether a user already has a conversation going.
type Sessions interface {
	Get(id string) (conversation.Snapshot, bool)
}

// discordAPI is the subset of *discordgo.Session the handlers use.
type discordAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

type Options struct {
	Conversation  Conversation
	Sessions      Sessions
	Logger        *zap.Logger
	HTTPClient    *http.Client
	EventTimeout  time.Duration
	MaxImageBytes int64
}

type Bot struct {
	session *discordgo.Session
	api     discordAPI
	conv    Conversation
	reg     Sessions
	media   media.Fetcher
	log     *zap.Logger

	self         atomic.Value // bot user id
	eventTimeout time.Duration
	sleep        func(time.Duration)

	ctx    context.Context
	cancel context.CancelFunc
}

func New(token string, opts Options) (*Bot, error) {
	if opts.Conversation == nil {
		return nil, errors.New("bot: conversation is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := newBot(session, opts)
	bot.session = session

	// Register event handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onGuildCreate)
	session.AddHandler(bot.onMessageCreate)
	session.AddHandler(bot.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent

	return bot, nil
}

func newBot(api discordAPI, opts Options) *Bot {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	timeout := opts.EventTimeout
	if timeout <= 0 {
		timeout = defaultEventTimeout
	}
	maxBytes := opts.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		api:          api,
		conv:         opts.Conversation,
		reg:          opts.Sessions,
		media:        media.Fetcher{Client: client, MaxBytes: maxBytes},
		log:          logger.Named("discord"),
		eventTimeout: timeout,
		sleep:        time.Sleep,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.log.Info("Discord bot is running")
	return nil
}

// Stop cancels in-flight event handling and closes the gateway.
func (b *Bot) Stop() error {
	b.cancel()
	return b.session.Close()
}

// Notify sends an unsolicited message, such as an expiry notice. Messages
// for sessions that did not start on Discord are ignored.
func (b *Bot) Notify(ctx context.Context, msg conversation.Outbound) {
	b.deliverOutbound(ctx, []conversation.Outbound{msg})
}
