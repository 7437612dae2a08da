package services

import (
	"context"
	"fmt"
	"time"

	"frais/internal/amqp"
	"frais/internal/core"
	"frais/internal/log"
	"frais/internal/metrics"
	"frais/internal/storage"
)

// EventPublisher receives lifecycle events after commit. *amqp.Client
// implements it.
type EventPublisher interface {
	PublishSheetEvent(ctx context.Context, ev *amqp.SheetEvent) error
}

type Option func(*deps)

// WithClock replaces time.Now; the current month and date checks follow it.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

// WithPublisher enables lifecycle events. Without it events are dropped.
func WithPublisher(p EventPublisher) Option {
	return func(d *deps) { d.events = p }
}

func WithLogger(l *log.Logger) Option {
	return func(d *deps) { d.logger = l }
}

type deps struct {
	repo   *storage.SQLiteRepository
	events EventPublisher
	now    func() time.Time
	logger *log.Logger
}

func newDeps(repo *storage.SQLiteRepository, component string, opts []Option) deps {
	d := deps{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(&d)
	}
	if d.logger == nil {
		d.logger = log.Default(component)
	} else {
		d.logger = d.logger.WithComponent(component)
	}
	return d
}

func (d *deps) currentMonth() core.MonthKey {
	return core.MonthKeyOf(d.now())
}

func (d *deps) publish(ctx context.Context, ev *amqp.SheetEvent) {
	if d.events == nil {
		d.logger.DebugContext(ctx, "No event publisher, skipping sheet event", log.FieldEventType, ev.Type)
		return
	}
	err := d.events.PublishSheetEvent(ctx, ev)
	metrics.EventPublished(ev.Type, err)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish sheet event",
			log.FieldEventType, ev.Type,
			log.FieldVisitorID, ev.VisitorID,
			log.FieldMonth, ev.Month,
			log.FieldError, err)
	}
}

func (d *deps) event(eventType string, s *core.Sheet) *amqp.SheetEvent {
	return amqp.NewSheetEvent(eventType, s.VisitorID, s.Month, s.State, d.now())
}

// loadSheet reads a sheet inside a transaction; a missing sheet is ErrNotFound.
func loadSheet(ctx context.Context, q *storage.Queries, visitorID string, month core.MonthKey) (*core.Sheet, error) {
	s, err := q.GetSheet(ctx, visitorID, month)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("sheet %s/%s: %w", visitorID, month, core.ErrNotFound)
	}
	return s, nil
}

func stateConflict(s *core.Sheet, action string) error {
	return fmt.Errorf("%w: sheet %s/%s is %s, cannot %s", core.ErrConflict, s.VisitorID, s.Month, s.State, action)
}

// transition moves one sheet to state to inside its own transaction. apply,
// when set, performs the write; otherwise only the state and date change.
func (d *deps) transition(ctx context.Context, visitorID string, month core.MonthKey, to core.SheetState,
	apply func(q *storage.Queries, s *core.Sheet) error) (updated *core.Sheet, from core.SheetState, err error) {
	err = d.repo.InTx(ctx, func(q *storage.Queries) error {
		s, err := loadSheet(ctx, q, visitorID, month)
		if err != nil {
			return err
		}
		if !s.State.CanTransitionTo(to) {
			return stateConflict(s, "move to "+string(to))
		}
		from = s.State
		if apply != nil {
			if err := apply(q, s); err != nil {
				return err
			}
		} else if err := q.SetSheetState(ctx, visitorID, month, to, d.now()); err != nil {
			return err
		}
		updated, err = q.GetSheet(ctx, visitorID, month)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	metrics.SheetTransition(string(from), string(to))
	fields := log.NewFields().WithSheet(visitorID, string(month)).WithTransition(string(from), string(to))
	d.logger.InfoContext(ctx, "Sheet state changed", fields.ToSlice()...)
	return updated, from, nil
}

// summary assembles a sheet with both line sets. A missing sheet yields nil.
func (d *deps) summary(ctx context.Context, visitorID string, month core.MonthKey) (*core.MonthSummary, error) {
	var out *core.MonthSummary
	err := d.repo.InTx(ctx, func(q *storage.Queries) error {
		s, err := q.GetSheet(ctx, visitorID, month)
		if err != nil || s == nil {
			return err
		}
		flat, err := q.ListFlatRateLines(ctx, visitorID, month)
		if err != nil {
			return err
		}
		free, err := q.ListFreeFormLines(ctx, visitorID, month)
		if err != nil {
			return err
		}
		out = &core.MonthSummary{
			Sheet:        s,
			FlatRate:     flat,
			FreeForm:     free,
			PendingTotal: core.ComputeTotal(flat, free),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("month summary: %w", err)
	}
	return out, nil
}

func (d *deps) setReceiptCount(ctx context.Context, visitorID string, month core.MonthKey, count int) error {
	if err := core.ValidateReceiptCount(count); err != nil {
		metrics.ValidationFailure(log.OpReceipts)
		return err
	}
	return d.repo.InTx(ctx, func(q *storage.Queries) error {
		s, err := loadSheet(ctx, q, visitorID, month)
		if err != nil {
			return err
		}
		if !s.State.UnderReview() {
			return stateConflict(s, "change receipt count")
		}
		return q.SetReceiptCount(ctx, visitorID, month, count, d.now())
	})
}
