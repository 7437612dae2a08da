package services

import (
	"context"
	"errors"
	"fmt"

	"frais/internal/amqp"
	"frais/internal/core"
	"frais/internal/log"
	"frais/internal/metrics"
	"frais/internal/storage"
)

// AccountingService implements the accountant side: reviewing closed sheets,
// validating and reimbursing them.
type AccountingService struct {
	deps
}

func NewAccountingService(repo *storage.SQLiteRepository, opts ...Option) *AccountingService {
	return &AccountingService{deps: newDeps(repo, log.ComponentLifecycle, opts)}
}

// Validate freezes the sheet total as its validated amount. Refused lines
// are left out; deferred lines already belong to another month.
func (s *AccountingService) Validate(ctx context.Context, visitorID string, month core.MonthKey) (*core.Sheet, error) {
	sheet, _, err := s.transition(ctx, visitorID, month, core.StateValidated, func(q *storage.Queries, _ *core.Sheet) error {
		flat, err := q.SumFlatRate(ctx, visitorID, month)
		if err != nil {
			return err
		}
		free, err := q.SumFreeForm(ctx, visitorID, month)
		if err != nil {
			return err
		}
		return q.ValidateSheet(ctx, visitorID, month, flat.Add(free), s.now())
	})
	if err != nil {
		return nil, fmt.Errorf("validate sheet: %w", err)
	}

	ev := s.event(amqp.EventSheetValidated, sheet)
	amount := sheet.ValidatedAmount
	ev.Amount = &amount
	s.publish(ctx, ev)
	return sheet, nil
}

// Reimburse marks a validated sheet as paid.
func (s *AccountingService) Reimburse(ctx context.Context, visitorID string, month core.MonthKey) (*core.Sheet, error) {
	sheet, _, err := s.transition(ctx, visitorID, month, core.StateReimbursed, nil)
	if err != nil {
		return nil, fmt.Errorf("reimburse sheet: %w", err)
	}

	ev := s.event(amqp.EventSheetReimbursed, sheet)
	amount := sheet.ValidatedAmount
	ev.Amount = &amount
	s.publish(ctx, ev)
	return sheet, nil
}

// ReimburseMonth reimburses every validated sheet of month, one transaction
// per sheet. Failures do not stop the batch; they are joined in the result.
func (s *AccountingService) ReimburseMonth(ctx context.Context, month core.MonthKey) (int, error) {
	sheets, err := s.repo.ListSheetsInStateForMonth(ctx, core.StateValidated, month)
	if err != nil {
		return 0, fmt.Errorf("reimburse month %s: %w", month, err)
	}

	var errs []error
	done := 0
	for _, sh := range sheets {
		if _, err := s.Reimburse(ctx, sh.VisitorID, month); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// CloseMonth closes every open sheet of a past month.
func (s *AccountingService) CloseMonth(ctx context.Context, month core.MonthKey) (int, error) {
	current := s.currentMonth()
	if !month.Before(current) {
		return 0, fmt.Errorf("%w: month %s is not over yet", core.ErrConflict, month)
	}
	sheets, err := s.repo.ListSheetsInStateForMonth(ctx, core.StateCreated, month)
	if err != nil {
		return 0, fmt.Errorf("close month %s: %w", month, err)
	}
	return s.closeAll(ctx, sheets)
}

// CloseStaleSheets closes every sheet still open for a month before the
// current one.
func (s *AccountingService) CloseStaleSheets(ctx context.Context) (int, error) {
	sheets, err := s.repo.ListSheetsInStateBefore(ctx, core.StateCreated, s.currentMonth())
	if err != nil {
		return 0, fmt.Errorf("close stale sheets: %w", err)
	}
	return s.closeAll(ctx, sheets)
}

func (s *AccountingService) closeAll(ctx context.Context, sheets []core.Sheet) (int, error) {
	var errs []error
	done := 0
	for _, sh := range sheets {
		closed, _, err := s.transition(ctx, sh.VisitorID, sh.Month, core.StateClosed, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.publish(ctx, s.event(amqp.EventSheetClosed, closed))
		done++
	}
	return done, errors.Join(errs...)
}

// reviewLine loads a free-form line of the given sheet while the sheet is
// still under review.
func reviewLine(ctx context.Context, q *storage.Queries, visitorID string, month core.MonthKey, id int64) (*core.Sheet, *core.FreeFormLine, error) {
	sheet, err := loadSheet(ctx, q, visitorID, month)
	if err != nil {
		return nil, nil, err
	}
	if !sheet.State.UnderReview() {
		return nil, nil, stateConflict(sheet, "review lines")
	}
	line, err := q.GetFreeFormLine(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if line == nil || line.VisitorID != visitorID || line.Month != month {
		return nil, nil, fmt.Errorf("free form line %d of %s/%s: %w", id, visitorID, month, core.ErrNotFound)
	}
	return sheet, line, nil
}

// RefuseFreeFormLine excludes a line from the sheet total and prefixes its
// label. Refusing an already refused line changes nothing.
func (s *AccountingService) RefuseFreeFormLine(ctx context.Context, visitorID string, month core.MonthKey, id int64) (*core.FreeFormLine, error) {
	var (
		line    *core.FreeFormLine
		state   core.SheetState
		changed bool
	)
	err := s.repo.InTx(ctx, func(q *storage.Queries) error {
		sheet, current, err := reviewLine(ctx, q, visitorID, month, id)
		if err != nil {
			return err
		}
		state = sheet.State
		if current.Status == core.LineRefused {
			line = current
			return nil
		}
		if err := q.RefuseFreeFormLine(ctx, id, core.RefusedLabel(current.Label)); err != nil {
			return err
		}
		changed = true
		line, err = q.GetFreeFormLine(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("refuse free form line: %w", err)
	}
	if !changed {
		return line, nil
	}

	metrics.LineDecision("refused")
	s.logger.InfoContext(ctx, "Free-form line refused",
		log.FieldVisitorID, visitorID,
		log.FieldMonth, month,
		log.FieldLineID, id)
	ev := amqp.NewSheetEvent(amqp.EventLineRefused, visitorID, month, state, s.now())
	ev.LineID = id
	s.publish(ctx, ev)
	return line, nil
}

// DeferFreeFormLine moves a line to the following month. The target sheet is
// not created here; the line shows up once the visitor opens that month.
func (s *AccountingService) DeferFreeFormLine(ctx context.Context, visitorID string, month core.MonthKey, id int64) (core.MonthKey, error) {
	target := month.Next()
	var state core.SheetState
	err := s.repo.InTx(ctx, func(q *storage.Queries) error {
		sheet, line, err := reviewLine(ctx, q, visitorID, month, id)
		if err != nil {
			return err
		}
		state = sheet.State
		if line.Status == core.LineRefused {
			return fmt.Errorf("%w: free form line %d was refused", core.ErrConflict, id)
		}
		return q.MoveFreeFormLine(ctx, id, target)
	})
	if err != nil {
		return "", fmt.Errorf("defer free form line: %w", err)
	}

	metrics.LineDecision("deferred")
	s.logger.InfoContext(ctx, "Free-form line deferred",
		log.FieldVisitorID, visitorID,
		log.FieldMonth, month,
		log.FieldLineID, id,
		"target_month", target)
	ev := amqp.NewSheetEvent(amqp.EventLineDeferred, visitorID, month, state, s.now())
	ev.LineID = id
	ev.TargetMonth = target
	s.publish(ctx, ev)
	return target, nil
}

// SetReceiptCount corrects the receipt count of a sheet under review.
func (s *AccountingService) SetReceiptCount(ctx context.Context, visitorID string, month core.MonthKey, count int) error {
	if err := s.setReceiptCount(ctx, visitorID, month, count); err != nil {
		return fmt.Errorf("set receipt count: %w", err)
	}
	return nil
}

func (s *AccountingService) MonthSummary(ctx context.Context, visitorID string, month core.MonthKey) (*core.MonthSummary, error) {
	return s.summary(ctx, visitorID, month)
}

// ListValidatedMonths lists months holding at least one validated sheet,
// most recent first.
func (s *AccountingService) ListValidatedMonths(ctx context.Context) ([]core.AvailableMonth, error) {
	return s.repo.ListMonthsInState(ctx, core.StateValidated)
}

func (s *AccountingService) ListVisitors(ctx context.Context) ([]core.Visitor, error) {
	return s.repo.ListVisitors(ctx)
}

func (s *AccountingService) ListSheetsByState(ctx context.Context, state core.SheetState) ([]core.Sheet, error) {
	if !state.IsValid() {
		ve := &core.ValidationError{}
		ve.Add("unknown sheet state %q", state)
		return nil, ve
	}
	return s.repo.ListSheetsByState(ctx, state)
}

// ListAvailableMonths lists the months of one visitor, for the review screen.
func (s *AccountingService) ListAvailableMonths(ctx context.Context, visitorID string) ([]core.AvailableMonth, error) {
	return s.repo.ListAvailableMonths(ctx, visitorID)
}
