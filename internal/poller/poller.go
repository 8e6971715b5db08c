package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "cart-service-consumer"

	readErrorBackoff     = time.Second
	defaultDeleteBackoff = 100 * time.Millisecond
	maxDeleteBackoff     = 5 * time.Second
)

// CartDeleter drops an owner's cart once their checkout has completed.
type CartDeleter interface {
	DeleteCart(ctx context.Context, ownerID string) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type checkoutCompleted struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

// Poller consumes completed checkouts and deletes the matching carts.
// A message is committed only after its cart is gone. Later offsets are never
// committed past a message whose delete has not succeeded, so a crash
// redelivers it.
type Poller struct {
	carts  CartDeleter
	reader messageReader
	logger *zap.Logger
	// deleteBackoff grows linearly per failed delete, capped at maxDeleteBackoff.
	deleteBackoff time.Duration
}

func NewPoller(carts CartDeleter, logger *zap.Logger, topic, groupID string, brokers ...string) *Poller {
	if topic == "" {
		topic = DefaultTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{carts: carts, reader: reader, logger: logger, deleteBackoff: defaultDeleteBackoff}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.handleNext(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("checkout poller error", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorBackoff):
			}
		}
	}
}

func (p *Poller) Close() error {
	return p.reader.Close()
}

// handleNext processes one message. Malformed messages are logged and
// committed so they do not block the partition.
func (p *Poller) handleNext(ctx context.Context) error {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		return err
	}

	var payload checkoutCompleted
	if errUnmarshal := json.Unmarshal(m.Value, &payload); errUnmarshal != nil {
		p.logger.Error("skipping unparseable checkout message",
			zap.Int64("offset", m.Offset), zap.Error(errUnmarshal))
		return p.reader.CommitMessages(ctx, m)
	}
	if strings.TrimSpace(payload.UserID) == "" {
		p.logger.Error("skipping checkout message without user_id",
			zap.Int64("offset", m.Offset), zap.String("checkout_id", payload.CheckoutID))
		return p.reader.CommitMessages(ctx, m)
	}

	// blocks the partition until the delete lands; fetching past an
	// uncommitted message would let a later commit skip it
	if err := p.deleteWithRetry(ctx, payload.UserID); err != nil {
		return fmt.Errorf("failed to delete cart for %s: %w", payload.UserID, err)
	}

	p.logger.Info("cart deleted after checkout",
		zap.String("owner_id", payload.UserID),
		zap.String("checkout_id", payload.CheckoutID))
	return p.reader.CommitMessages(ctx, m)
}

// deleteWithRetry keeps trying until the delete succeeds or ctx is done.
func (p *Poller) deleteWithRetry(ctx context.Context, ownerID string) error {
	backoff := p.deleteBackoff
	if backoff <= 0 {
		backoff = defaultDeleteBackoff
	}

	for attempt := 1; ; attempt++ {
		err := p.carts.DeleteCart(ctx, ownerID)
		if err == nil {
			return nil
		}
		wait := time.Duration(attempt) * backoff
		if wait > maxDeleteBackoff {
			wait = maxDeleteBackoff
		}
		p.logger.Warn("cart delete failed, retrying",
			zap.String("owner_id", ownerID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-t.C:
		}
	}
}
