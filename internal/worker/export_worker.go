package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"frais/internal/amqp"
	"frais/internal/core"
	"frais/internal/log"
	"frais/internal/metrics"
	"frais/internal/sheets"
	"frais/internal/storage"
)

// ExportWorker copies reimbursed sheets to the accounting ledger and records
// the export on the sheet so each one is written once.
type ExportWorker struct {
	storage   *storage.SQLiteRepository
	ledger    sheets.Ledger
	batchSize int
	now       func() time.Time
	logger    *log.Logger
}

func NewExportWorker(storage *storage.SQLiteRepository, ledger sheets.Ledger, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ExportWorker{
		storage:   storage,
		ledger:    ledger,
		batchSize: batchSize,
		now:       time.Now,
		logger:    log.Default(log.ComponentLedger),
	}
}

// HandleEvent is the AMQP handler. Only sheet.reimbursed triggers an export;
// other lifecycle events are acknowledged and ignored.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev *amqp.SheetEvent) error {
	if ev.Type != amqp.EventSheetReimbursed {
		w.logger.DebugContext(ctx, "Ignoring sheet event",
			log.FieldEventType, ev.Type,
			log.FieldVisitorID, ev.VisitorID,
			log.FieldMonth, ev.Month)
		return nil
	}

	w.logger.InfoContext(ctx, "Processing reimbursement event",
		"event_id", ev.ID,
		log.FieldVisitorID, ev.VisitorID,
		log.FieldMonth, ev.Month)

	sheet, err := w.storage.GetSheet(ctx, ev.VisitorID, ev.Month)
	if err != nil {
		return fmt.Errorf("get sheet from storage: %w", err)
	}
	if sheet == nil {
		w.logger.WarnContext(ctx, "Reimbursed sheet not found, dropping event",
			log.FieldVisitorID, ev.VisitorID,
			log.FieldMonth, ev.Month)
		return nil
	}
	return w.export(ctx, sheet)
}

// ProcessPending exports reimbursed sheets that were never exported. It
// recovers from lost messages and worker downtime.
func (w *ExportWorker) ProcessPending(ctx context.Context) (int, error) {
	pending, err := w.storage.ListUnexportedReimbursed(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unexported sheets: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	w.logger.InfoContext(ctx, "Processing pending exports", "count", len(pending))

	var errs []error
	done := 0
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := w.export(ctx, &pending[i]); err != nil {
			fields := log.NewFields().
				WithSheet(pending[i].VisitorID, string(pending[i].Month)).
				WithOperation(log.OpExport).
				WithErrorType(log.ErrorTypeNetwork).
				WithError(err)
			w.logger.ErrorContext(ctx, "Failed to export sheet", fields.ToSlice()...)
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

func (w *ExportWorker) export(ctx context.Context, sheet *core.Sheet) error {
	if sheet.State != core.StateReimbursed {
		w.logger.WarnContext(ctx, "Sheet is not reimbursed, skipping export",
			log.FieldVisitorID, sheet.VisitorID,
			log.FieldMonth, sheet.Month,
			log.FieldToState, sheet.State)
		return nil
	}
	if sheet.ExportedAt != nil {
		w.logger.DebugContext(ctx, "Sheet already exported",
			log.FieldVisitorID, sheet.VisitorID,
			log.FieldMonth, sheet.Month)
		return nil
	}

	present, err := w.ledger.HasReimbursement(ctx, sheet.VisitorID, sheet.Month)
	if err != nil {
		metrics.LedgerExport(err)
		return fmt.Errorf("check ledger: %w", err)
	}

	ref := "existing"
	if !present {
		entry, err := w.entry(ctx, sheet)
		if err != nil {
			return err
		}
		ref, err = w.ledger.AppendReimbursement(ctx, entry)
		metrics.LedgerExport(err)
		if err != nil {
			return fmt.Errorf("append to ledger: %w", err)
		}
	}

	if err := w.storage.MarkExported(ctx, sheet.VisitorID, sheet.Month, w.now()); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Exported concurrently by the poller or another consumer.
			return nil
		}
		return fmt.Errorf("mark sheet exported: %w", err)
	}

	w.logger.InfoContext(ctx, "Sheet exported to ledger",
		log.FieldVisitorID, sheet.VisitorID,
		log.FieldMonth, sheet.Month,
		log.FieldAmount, sheet.ValidatedAmount.String(),
		log.FieldLedgerRef, ref)
	return nil
}

func (w *ExportWorker) entry(ctx context.Context, sheet *core.Sheet) (sheets.LedgerEntry, error) {
	v, err := w.storage.GetVisitor(ctx, sheet.VisitorID)
	if err != nil {
		return sheets.LedgerEntry{}, fmt.Errorf("get visitor: %w", err)
	}
	name := sheet.VisitorID
	if v != nil {
		name = strings.TrimSpace(v.FirstName + " " + v.Name)
	}
	return sheets.LedgerEntry{
		Month:        sheet.Month,
		VisitorID:    sheet.VisitorID,
		VisitorName:  name,
		Amount:       sheet.ValidatedAmount,
		ReceiptCount: sheet.ReceiptCount,
		ReimbursedAt: sheet.ModifiedAt,
	}, nil
}
