// Package conversation drives a chat session from receipt photo to payment
// links.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/susu3304/splitbot/internal/db"
	"github.com/susu3304/splitbot/internal/extract"
	"github.com/susu3304/splitbot/internal/paylink"
	"github.com/susu3304/splitbot/internal/pricefeed"
	"github.com/susu3304/splitbot/internal/receipt"
	"github.com/susu3304/splitbot/internal/split"
)

// ErrSessionExpired is returned for events that reach a session after it
// expired.
var ErrSessionExpired = errors.New("session expired")

// Ledger stores the payment requests of a completed split.
type Ledger interface {
	RecordPaymentRequests(ctx context.Context, reqs []db.PaymentRequest) error
}

// SnapshotStore persists sessions between restarts.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, id string) (Snapshot, bool, error)
	Delete(ctx context.Context, id string) error
}

type Config struct {
	Extractor  extract.Extractor
	Prices     pricefeed.Feed
	Calculator split.Calculator
	Encoder    paylink.Encoder
	ChainID    int64
	Asset      string

	// SessionTimeout is the inactivity window after which ExpireIdle
	// drops a session. Zero disables idle expiry.
	SessionTimeout time.Duration

	// Optional.
	Ledger Ledger
	Store  SnapshotStore
	Logger *zap.Logger
	Now    func() time.Time
}

type Machine struct {
	reg       *Registry
	extractor extract.Extractor
	prices    pricefeed.Feed
	calc      split.Calculator
	encoder   paylink.Encoder
	chainID   int64
	asset     string
	timeout   time.Duration
	ledger    Ledger
	store     SnapshotStore
	log       *zap.Logger
	now       func() time.Time
}

func New(reg *Registry, cfg Config) *Machine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	asset := cfg.Asset
	if asset == "" {
		asset = "ETH"
	}
	return &Machine{
		reg:       reg,
		extractor: cfg.Extractor,
		prices:    cfg.Prices,
		calc:      cfg.Calculator,
		encoder:   cfg.Encoder,
		chainID:   cfg.ChainID,
		asset:     asset,
		timeout:   cfg.SessionTimeout,
		ledger:    cfg.Ledger,
		store:     cfg.Store,
		log:       log,
		now:       now,
	}
}

// Registry returns the registry the machine owns sessions in.
func (m *Machine) Registry() *Registry { return m.reg }

// ExpiredNotice is the message transports show for ErrSessionExpired.
func ExpiredNotice(sessionID string) Outbound {
	return Outbound{SessionID: sessionID, Content: msgExpired, Options: restartOption()}
}

// Deliver applies one event to the session behind id and returns the
// messages to send, in order. Events for one session are serialized.
// Every failure other than expiry or cancellation is reported as a message.
func (m *Machine) Deliver(ctx context.Context, id string, ev Event) ([]Outbound, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Timeouts never create sessions.
	_, isTimeout := ev.(Timeout)
	for {
		s := m.session(ctx, id, !isTimeout)
		if s == nil {
			return nil, nil
		}

		s.mu.Lock()
		if s.state == Expired {
			s.mu.Unlock()
			return nil, ErrSessionExpired
		}
		if !m.reg.current(s) {
			// Restarted or completed while we waited; use the
			// registered session instead.
			s.mu.Unlock()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}

		outs, err := m.handle(ctx, s, ev)
		m.persist(ctx, s)
		s.mu.Unlock()
		return outs, err
	}
}

// Current returns the snapshot of the live session for id, resuming a
// stored snapshot when the registry has none. It never creates a session.
func (m *Machine) Current(ctx context.Context, id string) (Snapshot, bool) {
	s := m.session(ctx, id, false)
	if s == nil {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// session finds the live session for id, resuming a stored snapshot on a
// miss. Without a snapshot it creates a new session only when create is set.
func (m *Machine) session(ctx context.Context, id string, create bool) *Session {
	if s := m.reg.lookup(id); s != nil {
		return s
	}
	if m.store != nil {
		snap, ok, err := m.store.Load(ctx, id)
		if err != nil {
			m.log.Warn("failed to load session snapshot", zap.String("session", id), zap.Error(err))
		} else if ok && snap.ID == id && snap.usable(m.now(), m.timeout) {
			s := m.reg.insertIfAbsent(restore(snap, m.reg.nextGeneration()))
			m.log.Info("session resumed", zap.String("session", id), zap.String("state", string(snap.State)))
			return s
		}
	}
	if !create {
		return nil
	}
	return m.reg.getOrCreate(id, m.now())
}

// handle runs with s.mu held. It may release the lock around remote calls.
func (m *Machine) handle(ctx context.Context, s *Session, ev Event) ([]Outbound, error) {
	switch e := ev.(type) {
	case Timeout:
		return m.expire(ctx, s), nil
	case TextCommand:
		if outs, ok := m.command(ctx, s, e.Text); ok {
			return outs, nil
		}
	case ButtonPressed:
		if e.Token == TokenRestart {
			return m.restart(ctx, s), nil
		}
	}

	s.lastActivity = m.now()
	if s.busy && !isButton(ev) {
		return m.reply(s, msgBusy), nil
	}

	if s.state == Idle {
		m.transition(s, AwaitingImage)
		if _, ok := ev.(ImageReceived); !ok {
			return m.reply(s, msgWelcome), nil
		}
	}

	switch s.state {
	case AwaitingImage:
		return m.onAwaitingImage(ctx, s, ev)
	case AwaitingConfirmation:
		return m.onAwaitingConfirmation(s, ev), nil
	case AwaitingSplitMethod:
		return m.onAwaitingSplitMethod(s, ev), nil
	case AwaitingParticipantInfo:
		return m.onAwaitingParticipantInfo(ctx, s, ev)
	default:
		return nil, ErrSessionExpired
	}
}

// cancelled reports a caller cancel. A passed deadline is not one: the
// user still gets told to try again.
func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func isButton(ev Event) bool {
	_, ok := ev.(ButtonPressed)
	return ok
}

// command handles slash commands. ok is false for ordinary text.
func (m *Machine) command(ctx context.Context, s *Session, text string) ([]Outbound, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return nil, false
	}
	cmd := strings.ToLower(fields[0])
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}

	switch cmd {
	case CommandStart, CommandRestart:
		return m.restart(ctx, s), true
	case CommandStatus:
		s.lastActivity = m.now()
		return []Outbound{{SessionID: s.id, Content: statusText(s), Options: s.prompt().Options}}, true
	case CommandHelp:
		s.lastActivity = m.now()
		return m.reply(s, msgHelp), true
	}
	return nil, false
}

// restart retires s and registers a fresh session under the same id.
func (m *Machine) restart(ctx context.Context, s *Session) []Outbound {
	m.transition(s, Idle)
	s.pending = nil
	s.participantCount = 0
	s.wallets = nil

	fresh := newSession(s.id, m.reg.nextGeneration(), m.now())
	fresh.state = AwaitingImage
	snap := fresh.snapshot()
	m.reg.replace(fresh)
	m.log.Info("session restarted",
		zap.String("session", fresh.id),
		zap.String("state", string(fresh.state)),
		zap.Uint64("generation", fresh.generation))

	if m.store != nil {
		if err := m.store.Save(ctx, snap); err != nil {
			m.log.Warn("failed to save session snapshot", zap.String("session", s.id), zap.Error(err))
		}
	}
	return []Outbound{{SessionID: s.id, Content: msgWelcome}}
}

func (m *Machine) onAwaitingImage(ctx context.Context, s *Session, ev Event) ([]Outbound, error) {
	switch e := ev.(type) {
	case ImageReceived:
		return m.extractReceipt(ctx, s, e)
	case ButtonPressed:
		return m.stale(s), nil
	default:
		return m.reply(s, msgNeedImage), nil
	}
}

// extractReceipt releases s.mu for the remote call and applies the result
// only if the session has not moved on in the meantime.
func (m *Machine) extractReceipt(ctx context.Context, s *Session, img ImageReceived) ([]Outbound, error) {
	gen := s.generation
	s.busy = true
	s.mu.Unlock()

	raw, err := m.extractor.Extract(ctx, img.Data, img.MimeType)

	s.mu.Lock()
	s.busy = false
	if !m.resumable(s, gen, AwaitingImage) {
		m.log.Info("discarding stale extraction result", zap.String("session", s.id), zap.Uint64("generation", gen))
		return nil, nil
	}
	s.lastActivity = m.now()

	if err != nil {
		if cancelled(ctx) {
			return nil, ctx.Err()
		}
		if _, ok := extract.KindOf(err); !ok && errors.Is(err, context.DeadlineExceeded) {
			err = &extract.Failure{Kind: extract.KindTransient, Err: err}
		}
		m.log.Warn("receipt extraction failed", zap.String("session", s.id), zap.Error(err))
		return m.reply(s, extractionFailureText(err)), nil
	}

	rec, err := receipt.Validate(raw)
	if err != nil {
		m.log.Info("extracted receipt is not usable", zap.String("session", s.id), zap.Error(err))
		return m.reply(s, extractionFailureText(err)), nil
	}

	s.pending = &rec
	m.transition(s, AwaitingConfirmation)
	return []Outbound{s.prompt()}, nil
}

func (m *Machine) onAwaitingConfirmation(s *Session, ev Event) []Outbound {
	switch e := ev.(type) {
	case ButtonPressed:
		switch e.Token {
		case TokenReceiptYes:
			m.transition(s, AwaitingSplitMethod)
			return []Outbound{s.prompt()}
		case TokenReceiptNo:
			s.pending = nil
			m.transition(s, AwaitingImage)
			return m.reply(s, msgReupload)
		}
		return m.stale(s)
	case ImageReceived:
		return []Outbound{{SessionID: s.id, Content: msgConfirmFirst, Options: confirmOptions()}}
	default:
		return []Outbound{s.prompt()}
	}
}

func (m *Machine) onAwaitingSplitMethod(s *Session, ev Event) []Outbound {
	e, ok := ev.(ButtonPressed)
	if !ok {
		return []Outbound{s.prompt()}
	}
	switch e.Token {
	case TokenSplitEven:
		m.transition(s, AwaitingParticipantInfo)
		return []Outbound{s.prompt()}
	case TokenSplitCustom:
		return []Outbound{{SessionID: s.id, Content: msgCustomUnsupported, Options: splitOptions()}}
	}
	return m.stale(s)
}

func (m *Machine) onAwaitingParticipantInfo(ctx context.Context, s *Session, ev Event) ([]Outbound, error) {
	switch e := ev.(type) {
	case TextCommand:
		return m.completeSplit(ctx, s, e.Text)
	case ButtonPressed:
		return m.stale(s), nil
	default:
		return []Outbound{s.prompt()}, nil
	}
}

// completeSplit prices the receipt and builds every payment link. Nothing
// is delivered unless all links succeed.
func (m *Machine) completeSplit(ctx context.Context, s *Session, text string) ([]Outbound, error) {
	info, err := parseParticipants(text, m.calc.MaxCount())
	if err != nil {
		return m.reply(s, "Sorry, "+err.Error()+".\n\n"+msgParticipantInfo), nil
	}
	s.participantCount = info.count
	s.wallets = info.wallets

	rec := *s.pending
	gen := s.generation
	s.busy = true
	s.mu.Unlock()

	quote, err := m.prices.GetQuote(ctx, rec.Currency)

	s.mu.Lock()
	s.busy = false
	if !m.resumable(s, gen, AwaitingParticipantInfo) {
		m.log.Info("discarding stale price quote", zap.String("session", s.id), zap.Uint64("generation", gen))
		return nil, nil
	}
	s.lastActivity = m.now()

	if err != nil {
		if cancelled(ctx) {
			return nil, ctx.Err()
		}
		m.log.Warn("price lookup failed", zap.String("session", s.id), zap.String("currency", rec.Currency), zap.Error(err))
		return m.reply(s, msgPriceUnavailable), nil
	}

	shares, err := m.calc.EvenSplit(rec, info.count, quote)
	if err != nil {
		m.log.Warn("split failed", zap.String("session", s.id), zap.Error(err))
		return m.reply(s, splitFailureText(err, m.calc.MaxCount())), nil
	}
	links := make([]string, len(shares))
	for i := range shares {
		uri, err := m.encoder.Encode(info.wallets[i], shares[i].Crypto, m.chainID)
		if err != nil {
			m.log.Warn("encoding payment link failed", zap.String("session", s.id), zap.Int("participant", i), zap.Error(err))
			return m.reply(s, splitFailureText(err, m.calc.MaxCount())), nil
		}
		link, err := paylink.MetaMaskLink(uri)
		if err != nil {
			return nil, fmt.Errorf("build wallet link: %w", err)
		}
		shares[i].PaymentURI = uri
		links[i] = link
	}

	outs := m.linkMessages(s.id, rec, quote, shares, links)
	m.record(ctx, s.id, rec, quote, info, shares)
	m.transition(s, Completed)
	m.teardown(ctx, s)
	return outs, nil
}

func (m *Machine) linkMessages(id string, rec receipt.Record, quote pricefeed.Quote, shares []split.Share, links []string) []Outbound {
	scale := rec.Scale()
	head := fmt.Sprintf("%s\n%s: %s %s split %d ways at %s %s/%s.",
		msgLinksReady, orNA(rec.Merchant), rec.Total.StringFixed(scale), rec.Currency,
		len(shares), quote.Rate.String(), quote.Currency, m.asset)

	outs := []Outbound{{SessionID: id, Content: head}}
	for i, sh := range shares {
		outs = append(outs, Outbound{
			SessionID: id,
			Content: fmt.Sprintf("Person %d of %d pays %s %s (%s %s)\n%s",
				i+1, len(shares), sh.Fiat.StringFixed(scale), rec.Currency, sh.Crypto.String(), m.asset, sh.PaymentURI),
			Options: []Option{{Label: "Pay with MetaMask", URL: links[i]}},
		})
	}
	return outs
}

// record writes the ledger rows of a completed split. Failures are logged;
// the links have already been computed and are still delivered.
func (m *Machine) record(ctx context.Context, id string, rec receipt.Record, quote pricefeed.Quote, info participantInfo, shares []split.Share) {
	if m.ledger == nil {
		return
	}
	batch := uuid.New()
	reqs := make([]db.PaymentRequest, len(shares))
	for i, sh := range shares {
		reqs[i] = db.PaymentRequest{
			BatchID:          batch,
			SessionID:        id,
			ParticipantIndex: sh.Index,
			ParticipantCount: len(shares),
			Merchant:         rec.Merchant,
			FiatAmount:       sh.Fiat,
			Currency:         rec.Currency,
			CryptoAmount:     sh.Crypto,
			Asset:            m.asset,
			Rate:             quote.Rate,
			QuotedAt:         quote.AsOf,
			ChainID:          m.chainID,
			Address:          info.wallets[i],
			URI:              sh.PaymentURI,
		}
	}
	if err := m.ledger.RecordPaymentRequests(ctx, reqs); err != nil {
		m.log.Error("failed to record payment requests", zap.String("session", id), zap.Error(err))
		return
	}
	m.log.Info("payment requests recorded", zap.String("session", id), zap.String("batch", batch.String()), zap.Int("count", len(reqs)))
}

// ExpireIdle expires every session inactive for longer than the session
// timeout and returns a notice for each. Busy sessions are skipped.
func (m *Machine) ExpireIdle(ctx context.Context, now time.Time) []Outbound {
	if m.timeout <= 0 {
		return nil
	}
	var outs []Outbound
	for _, s := range m.reg.all() {
		s.mu.Lock()
		if !s.busy && !s.state.Terminal() && now.Sub(s.lastActivity) >= m.timeout && m.reg.current(s) {
			outs = append(outs, m.expire(ctx, s)...)
		}
		s.mu.Unlock()
	}
	return outs
}

// expire moves s to Expired and releases it. Called with s.mu held.
func (m *Machine) expire(ctx context.Context, s *Session) []Outbound {
	if s.state.Terminal() {
		return nil
	}
	m.transition(s, Expired)
	s.pending = nil
	s.wallets = nil
	m.teardown(ctx, s)
	return []Outbound{ExpiredNotice(s.id)}
}

func (m *Machine) teardown(ctx context.Context, s *Session) {
	m.reg.remove(s)
	if m.store == nil {
		return
	}
	if err := m.store.Delete(ctx, s.id); err != nil {
		m.log.Warn("failed to delete session snapshot", zap.String("session", s.id), zap.Error(err))
	}
}

func (m *Machine) transition(s *Session, to State) {
	from := s.state
	s.state = to
	s.generation = m.reg.nextGeneration()
	m.log.Info("session transition",
		zap.String("session", s.id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Uint64("generation", s.generation))
}

// resumable reports whether a result started at generation gen in state st
// may still be applied to s.
func (m *Machine) resumable(s *Session, gen uint64, st State) bool {
	return m.reg.current(s) && s.generation == gen && s.state == st
}

func (m *Machine) persist(ctx context.Context, s *Session) {
	if m.store == nil || s.state.Terminal() || !m.reg.current(s) {
		return
	}
	if err := m.store.Save(ctx, s.snapshot()); err != nil {
		m.log.Warn("failed to save session snapshot", zap.String("session", s.id), zap.Error(err))
	}
}

func (m *Machine) reply(s *Session, content string) []Outbound {
	return []Outbound{{SessionID: s.id, Content: content}}
}

func (m *Machine) stale(s *Session) []Outbound {
	p := s.prompt()
	return []Outbound{{SessionID: s.id, Content: msgStaleOption + "\n\n" + p.Content, Options: p.Options}}
}

func splitFailureText(err error, maxParticipants int) string {
	switch {
	case errors.Is(err, split.ErrInvalidParticipantCount):
		return fmt.Sprintf("The number of people must be between 1 and %d. No links were created.", maxParticipants)
	case errors.Is(err, split.ErrCurrencyMismatch):
		return "The exchange rate I got is for a different currency than the receipt, so no links were created. Please try again."
	case errors.Is(err, split.ErrInvalidQuote):
		return "The exchange rate I got looks wrong, so no links were created. Please try again."
	case errors.Is(err, paylink.ErrInvalidAmount):
		return "At least one share is too small to request, so no links were created."
	case errors.Is(err, paylink.ErrInvalidAddress):
		return "One of the wallet addresses is not valid, so no links were created. Please check them and send them again."
	default:
		return "Something went wrong while creating the payment links, so none were created. Please try again."
	}
}
