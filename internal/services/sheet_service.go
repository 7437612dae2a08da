package services

import (
	"context"
	"fmt"
	"sort"

	"frais/internal/amqp"
	"frais/internal/core"
	"frais/internal/log"
	"frais/internal/metrics"
	"frais/internal/storage"
)

// SheetService implements what a visitor does with their own sheets. Writes
// always target the sheet of the current month.
type SheetService struct {
	deps
}

func NewSheetService(repo *storage.SQLiteRepository, opts ...Option) *SheetService {
	return &SheetService{deps: newDeps(repo, log.ComponentLifecycle, opts)}
}

// OpenMonth creates the current month's sheet on first use. The visitor's
// most recent earlier sheet is closed if still open, and one zero-quantity
// flat-rate line is seeded per catalog type. created is false when the sheet
// already existed; nothing is changed in that case.
func (s *SheetService) OpenMonth(ctx context.Context, visitorID string) (sheet *core.Sheet, created bool, err error) {
	month := s.currentMonth()
	var closed *core.Sheet

	err = s.repo.InTx(ctx, func(q *storage.Queries) error {
		v, err := q.GetVisitor(ctx, visitorID)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("visitor %s: %w", visitorID, core.ErrNotFound)
		}

		exists, err := q.SheetExists(ctx, visitorID, month)
		if err != nil {
			return err
		}
		if exists {
			sheet, err = q.GetSheet(ctx, visitorID, month)
			return err
		}

		latest, ok, err := q.LatestMonth(ctx, visitorID)
		if err != nil {
			return err
		}
		if ok && latest.Before(month) {
			prev, err := loadSheet(ctx, q, visitorID, latest)
			if err != nil {
				return err
			}
			if prev.State == core.StateCreated {
				if err := q.SetSheetState(ctx, visitorID, latest, core.StateClosed, s.now()); err != nil {
					return err
				}
				prev.State = core.StateClosed
				closed = prev
			}
		}

		if err := q.InsertSheet(ctx, visitorID, month, s.now()); err != nil {
			return err
		}
		types, err := q.ListFlatRateTypes(ctx)
		if err != nil {
			return err
		}
		for _, t := range types {
			if err := q.InsertFlatRateLine(ctx, visitorID, month, t.ID); err != nil {
				return err
			}
		}
		created = true
		sheet, err = q.GetSheet(ctx, visitorID, month)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("open month %s: %w", month, err)
	}
	if !created {
		return sheet, false, nil
	}

	if closed != nil {
		metrics.SheetTransition(string(core.StateCreated), string(core.StateClosed))
		s.publish(ctx, s.event(amqp.EventSheetClosed, closed))
	}
	metrics.SheetTransition("", string(core.StateCreated))
	s.logger.InfoContext(ctx, "Sheet opened",
		log.FieldVisitorID, visitorID,
		log.FieldMonth, month,
		"closed_previous", closed != nil)
	s.publish(ctx, s.event(amqp.EventSheetOpened, sheet))
	return sheet, true, nil
}

// editableSheet loads the current sheet and requires it to accept entries.
func (s *SheetService) editableSheet(ctx context.Context, q *storage.Queries, visitorID string, month core.MonthKey) error {
	sheet, err := loadSheet(ctx, q, visitorID, month)
	if err != nil {
		return err
	}
	if !sheet.State.Editable() {
		return stateConflict(sheet, "edit")
	}
	return nil
}

// UpdateFlatRateQuantities replaces the quantities named in raw. Every entry
// must be a known type with a non-negative integer, otherwise nothing changes.
func (s *SheetService) UpdateFlatRateQuantities(ctx context.Context, visitorID string, raw map[string]string) error {
	month := s.currentMonth()
	err := s.repo.InTx(ctx, func(q *storage.Queries) error {
		if err := s.editableSheet(ctx, q, visitorID, month); err != nil {
			return err
		}
		catalog, err := q.ListFlatRateTypes(ctx)
		if err != nil {
			return err
		}
		quantities, err := core.ValidateQuantities(raw, catalog)
		if err != nil {
			metrics.ValidationFailure(log.OpUpdateFlat)
			return err
		}

		ids := make([]string, 0, len(quantities))
		for id := range quantities {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := q.UpdateFlatRateQuantity(ctx, visitorID, month, id, quantities[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update flat rate quantities: %w", err)
	}
	return nil
}

// AddFreeFormLine validates every field before touching the database and
// reports all problems at once.
func (s *SheetService) AddFreeFormLine(ctx context.Context, visitorID string, in core.FreeFormInput) (*core.FreeFormLine, error) {
	draft, err := in.Validate(s.now())
	if err != nil {
		metrics.ValidationFailure(log.OpAddLine)
		return nil, err
	}

	month := s.currentMonth()
	var line *core.FreeFormLine
	err = s.repo.InTx(ctx, func(q *storage.Queries) error {
		if err := s.editableSheet(ctx, q, visitorID, month); err != nil {
			return err
		}
		id, err := q.InsertFreeFormLine(ctx, visitorID, month, draft)
		if err != nil {
			return err
		}
		line, err = q.GetFreeFormLine(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add free form line: %w", err)
	}

	s.logger.InfoContext(ctx, "Free-form line added",
		log.FieldVisitorID, visitorID,
		log.FieldMonth, month,
		log.FieldLineID, line.ID,
		log.FieldAmount, line.Amount.String())
	return line, nil
}

// ownedLine loads a line of visitorID whose sheet still accepts entries.
// Lines of other visitors read as not found.
func (s *SheetService) ownedLine(ctx context.Context, q *storage.Queries, visitorID string, id int64) (*core.FreeFormLine, error) {
	line, err := q.GetFreeFormLine(ctx, id)
	if err != nil {
		return nil, err
	}
	if line == nil || line.VisitorID != visitorID {
		return nil, fmt.Errorf("free form line %d: %w", id, core.ErrNotFound)
	}
	sheet, err := q.GetSheet(ctx, visitorID, line.Month)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return nil, fmt.Errorf("%w: free form line %d has no open sheet for %s", core.ErrConflict, id, line.Month)
	}
	if !sheet.State.Editable() {
		return nil, stateConflict(sheet, "edit")
	}
	return line, nil
}

// ModifyFreeFormLine rewrites date, label and amount of one line. Refused
// lines are frozen.
func (s *SheetService) ModifyFreeFormLine(ctx context.Context, visitorID string, id int64, in core.FreeFormInput) (*core.FreeFormLine, error) {
	draft, err := in.Validate(s.now())
	if err != nil {
		metrics.ValidationFailure(log.OpModifyLine)
		return nil, err
	}

	var line *core.FreeFormLine
	err = s.repo.InTx(ctx, func(q *storage.Queries) error {
		current, err := s.ownedLine(ctx, q, visitorID, id)
		if err != nil {
			return err
		}
		if current.Status == core.LineRefused {
			return fmt.Errorf("%w: free form line %d was refused", core.ErrConflict, id)
		}
		if err := q.UpdateFreeFormLine(ctx, id, draft); err != nil {
			return err
		}
		line, err = q.GetFreeFormLine(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("modify free form line: %w", err)
	}
	return line, nil
}

func (s *SheetService) DeleteFreeFormLine(ctx context.Context, visitorID string, id int64) error {
	err := s.repo.InTx(ctx, func(q *storage.Queries) error {
		current, err := s.ownedLine(ctx, q, visitorID, id)
		if err != nil {
			return err
		}
		if current.Status == core.LineRefused {
			return fmt.Errorf("%w: free form line %d was refused", core.ErrConflict, id)
		}
		return q.DeleteFreeFormLine(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete free form line: %w", err)
	}
	s.logger.InfoContext(ctx, "Free-form line deleted", log.FieldVisitorID, visitorID, log.FieldLineID, id)
	return nil
}

// SetReceiptCount records how many receipts the visitor sent for the current month.
func (s *SheetService) SetReceiptCount(ctx context.Context, visitorID string, count int) error {
	if err := s.setReceiptCount(ctx, visitorID, s.currentMonth(), count); err != nil {
		return fmt.Errorf("set receipt count: %w", err)
	}
	return nil
}

// CurrentMonth is the month key writes are applied to.
func (s *SheetService) CurrentMonth() core.MonthKey {
	return s.currentMonth()
}

// MonthSummary returns nil when the visitor has no sheet for month.
func (s *SheetService) MonthSummary(ctx context.Context, visitorID string, month core.MonthKey) (*core.MonthSummary, error) {
	return s.summary(ctx, visitorID, month)
}

func (s *SheetService) ListAvailableMonths(ctx context.Context, visitorID string) ([]core.AvailableMonth, error) {
	return s.repo.ListAvailableMonths(ctx, visitorID)
}

func (s *SheetService) ListFlatRateTypes(ctx context.Context) ([]core.FlatRateType, error) {
	return s.repo.ListFlatRateTypes(ctx)
}

func (s *SheetService) GetReceiptCount(ctx context.Context, visitorID string, month core.MonthKey) (int, bool, error) {
	return s.repo.GetReceiptCount(ctx, visitorID, month)
}

func (s *SheetService) Close() error {
	if s.repo == nil {
		return nil
	}
	return s.repo.Close()
}
