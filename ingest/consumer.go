package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"listing-tracker/models"
	"listing-tracker/services"
	"listing-tracker/storage"
	"listing-tracker/utils"
)

// Consumer listens on the observation queue and feeds reconciliation
// sessions. Sessions for different sellers may interleave on the
// queue; each is tracked by its session_id until its session_end
// arrives. Completed sessions trigger the seller report and the CSV
// artifact.
type Consumer struct {
	url      string
	queue    string
	rec      *services.Reconciler
	store    storage.ListingStore
	insights *services.InsightService
	exporter *storage.CSVExporter
	logger   *utils.Logger
	retry    *utils.RetryConfig

	sessions map[string]*services.Session
}

// NewConsumer wires a Consumer; retry governs broker dialing.
func NewConsumer(url, queue string, rec *services.Reconciler, store storage.ListingStore,
	insights *services.InsightService, exporter *storage.CSVExporter,
	logger *utils.Logger, retry *utils.RetryConfig) *Consumer {
	return &Consumer{
		url:      url,
		queue:    queue,
		rec:      rec,
		store:    store,
		insights: insights,
		exporter: exporter,
		logger:   logger,
		retry:    retry,
		sessions: make(map[string]*services.Session),
	}
}

// Run consumes until the context is cancelled, reconnecting when the
// broker connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		var conn *amqp.Connection
		err := c.retry.Do(ctx, "amqp dial", func() error {
			var dialErr error
			conn, dialErr = amqp.Dial(c.url)
			return dialErr
		})
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("[ingest] consume loop ended: %v — reconnecting", err)
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.Warn("[ingest] set QoS failed: %v", err)
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.logger.Error("[ingest] handle message failed: %v", err)
				_ = d.Nack(false, false) // reject, do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var ev Envelope
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if ev.SessionID == "" {
		return errors.New("envelope without session_id")
	}

	switch ev.Type {
	case TypeSessionStart:
		return c.startSession(ctx, &ev)
	case TypeObservation:
		return c.observe(ctx, &ev)
	case TypeSessionEnd:
		return c.endSession(ctx, &ev)
	default:
		return fmt.Errorf("unknown envelope type %q", ev.Type)
	}
}

func (c *Consumer) startSession(ctx context.Context, ev *Envelope) error {
	if old, exists := c.sessions[ev.SessionID]; exists {
		c.logger.Warn("[ingest] session %s restarted — aborting previous pass for %s",
			ev.SessionID, old.SellerID())
		old.Abort()
	}
	sess, err := c.rec.Begin(ctx, ev.SellerID, ev.ShopURL)
	if err != nil {
		return err
	}
	c.sessions[ev.SessionID] = sess
	return nil
}

func (c *Consumer) observe(ctx context.Context, ev *Envelope) error {
	sess, exists := c.sessions[ev.SessionID]
	if !exists {
		return fmt.Errorf("observation for unknown session %s", ev.SessionID)
	}

	obs := &models.Observation{
		ItemID:       ev.ItemID,
		SellerID:     ev.SellerID,
		Title:        ev.Title,
		OEMReference: ev.OEMReference,
		RawPrice:     ev.RawPrice,
		URL:          ev.URL,
	}
	if err := sess.Observe(ctx, obs); err != nil {
		// The session is dead; drop it so the rest of its stream is
		// rejected instead of feeding a pass that will never close.
		delete(c.sessions, ev.SessionID)
		return err
	}
	return nil
}

func (c *Consumer) endSession(ctx context.Context, ev *Envelope) error {
	sess, exists := c.sessions[ev.SessionID]
	if !exists {
		return fmt.Errorf("session_end for unknown session %s", ev.SessionID)
	}
	delete(c.sessions, ev.SessionID)

	if ev.Aborted {
		sess.Abort()
		c.logger.Warn("[ingest] session %s aborted by crawler — partial sync kept, no termination",
			ev.SessionID)
		return nil
	}
	if ev.FilterApplied == nil {
		sess.Abort()
		return fmt.Errorf("session %s: %w", ev.SessionID, services.ErrMissingFilterSignal)
	}

	summary, err := sess.Close(ctx, *ev.FilterApplied)
	if err != nil {
		return err
	}
	c.finishSeller(ctx, summary.SellerID)
	return nil
}

// finishSeller prints the KPI report and writes the CSV artifact for a
// seller whose pass just completed. Read-side failures are logged, not
// fatal — the reconciled state is already committed.
func (c *Consumer) finishSeller(ctx context.Context, sellerID string) {
	seller, err := c.store.Seller(ctx, sellerID)
	if err != nil {
		c.logger.Error("[ingest] fetch seller %s: %v", sellerID, err)
		return
	}
	report, err := c.insights.Report(ctx, seller)
	if err != nil {
		c.logger.Error("[ingest] report for %s: %v", sellerID, err)
		return
	}
	c.insights.Print(report)

	listings, err := c.store.ListingsBySeller(ctx, sellerID)
	if err != nil {
		c.logger.Error("[ingest] listings for %s: %v", sellerID, err)
		return
	}
	path, err := c.exporter.ExportSeller(sellerID, listings)
	if err != nil {
		c.logger.Error("[ingest] export for %s: %v", sellerID, err)
		return
	}
	c.logger.Info("[ingest] export written: %s", path)
}
