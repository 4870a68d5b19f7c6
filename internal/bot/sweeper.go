package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/susu3304/splitbot/internal/conversation"
)

// Expirer expires sessions that have been inactive too long.
type Expirer interface {
	ExpireIdle(ctx context.Context, now time.Time) []conversation.Outbound
}

// Sweeper periodically expires idle sessions and passes the notices on.
type Sweeper struct {
	conv     Expirer
	notify   func(context.Context, conversation.Outbound)
	log      *zap.Logger
	now      func() time.Time
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
	ticker   *time.Ticker
}

func NewSweeper(conv Expirer, interval time.Duration, notify func(context.Context, conversation.Outbound), logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		conv:     conv,
		notify:   notify,
		log:      logger.Named("sweeper"),
		now:      time.Now,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *Sweeper) Start() {
	if w == nil {
		return
	}
	w.ticker = time.NewTicker(w.interval)
	go w.loop()
}

// Stop ends the loop and waits for an in-progress sweep.
func (w *Sweeper) Stop() {
	if w == nil || w.ticker == nil {
		return
	}
	close(w.stopChan)
	w.ticker.Stop()
	<-w.done
}

func (w *Sweeper) loop() {
	defer close(w.done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		select {
		case <-w.ticker.C:
			w.tick(ctx)
		case <-w.stopChan:
			return
		}
	}
}

func (w *Sweeper) tick(ctx context.Context) int {
	notices := w.conv.ExpireIdle(ctx, w.now())
	for _, msg := range notices {
		w.log.Info("session expired", zap.String("session", msg.SessionID))
		if w.notify != nil {
			w.notify(ctx, msg)
		}
	}
	return len(notices)
}
