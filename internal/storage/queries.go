package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"frais/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds every SQL statement of the application. The same value runs on
// the connection pool or, through WithTx, inside a transaction.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const timestampLayout = time.RFC3339Nano

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// expectRow turns an UPDATE or DELETE that matched nothing into ErrNotFound.
func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", classify(err))
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return nil
}

// ---- visitors and accountants ----

const createVisitor = `INSERT INTO visitor (id, login, password_hash, name, first_name) VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateVisitor(ctx context.Context, v core.Visitor) error {
	if _, err := q.db.ExecContext(ctx, createVisitor, v.ID, v.Login, v.PasswordHash, v.Name, v.FirstName); err != nil {
		return fmt.Errorf("insert visitor %s: %w", v.Login, classify(err))
	}
	return nil
}

const createAccountant = `INSERT INTO accountant (id, login, password_hash, name, first_name) VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateAccountant(ctx context.Context, a core.Accountant) error {
	if _, err := q.db.ExecContext(ctx, createAccountant, a.ID, a.Login, a.PasswordHash, a.Name, a.FirstName); err != nil {
		return fmt.Errorf("insert accountant %s: %w", a.Login, classify(err))
	}
	return nil
}

const visitorColumns = `id, login, password_hash, name, first_name`

func scanVisitor(row interface{ Scan(...any) error }) (*core.Visitor, error) {
	var v core.Visitor
	if err := row.Scan(&v.ID, &v.Login, &v.PasswordHash, &v.Name, &v.FirstName); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVisitor returns nil when the visitor does not exist.
func (q *Queries) GetVisitor(ctx context.Context, id string) (*core.Visitor, error) {
	v, err := scanVisitor(q.db.QueryRowContext(ctx, `SELECT `+visitorColumns+` FROM visitor WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get visitor %s: %w", id, classify(err))
	}
	return v, nil
}

// GetVisitorByLogin returns nil when no visitor has that login.
func (q *Queries) GetVisitorByLogin(ctx context.Context, login string) (*core.Visitor, error) {
	v, err := scanVisitor(q.db.QueryRowContext(ctx, `SELECT `+visitorColumns+` FROM visitor WHERE login = ?`, login))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get visitor by login: %w", classify(err))
	}
	return v, nil
}

func (q *Queries) ListVisitors(ctx context.Context) ([]core.Visitor, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+visitorColumns+` FROM visitor ORDER BY name, first_name, id`)
	if err != nil {
		return nil, fmt.Errorf("list visitors: %w", classify(err))
	}
	defer rows.Close()

	var visitors []core.Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visitor: %w", err)
		}
		visitors = append(visitors, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list visitors: %w", classify(err))
	}
	return visitors, nil
}

func (q *Queries) GetAccountant(ctx context.Context, id string) (*core.Accountant, error) {
	var a core.Accountant
	err := q.db.QueryRowContext(ctx, `SELECT id, login, password_hash, name, first_name FROM accountant WHERE id = ?`, id).
		Scan(&a.ID, &a.Login, &a.PasswordHash, &a.Name, &a.FirstName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get accountant %s: %w", id, classify(err))
	}
	return &a, nil
}

func (q *Queries) GetAccountantByLogin(ctx context.Context, login string) (*core.Accountant, error) {
	var a core.Accountant
	err := q.db.QueryRowContext(ctx, `SELECT id, login, password_hash, name, first_name FROM accountant WHERE login = ?`, login).
		Scan(&a.ID, &a.Login, &a.PasswordHash, &a.Name, &a.FirstName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get accountant by login: %w", classify(err))
	}
	return &a, nil
}

// ---- catalog ----

func (q *Queries) ListFlatRateTypes(ctx context.Context) ([]core.FlatRateType, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, label, unit_amount_cents FROM flat_rate_type ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list flat rate types: %w", classify(err))
	}
	defer rows.Close()

	var types []core.FlatRateType
	for rows.Next() {
		var t core.FlatRateType
		if err := rows.Scan(&t.ID, &t.Label, &t.UnitAmount.Cents); err != nil {
			return nil, fmt.Errorf("scan flat rate type: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list flat rate types: %w", classify(err))
	}
	return types, nil
}

// ---- sheets ----

const sheetSelect = `SELECT s.visitor_id, s.month, s.state_id, st.label, s.modified_at,
       s.receipt_count, s.validated_amount_cents, s.exported_at
  FROM expense_sheet s
  JOIN state st ON st.id = s.state_id`

func scanSheet(row interface{ Scan(...any) error }) (*core.Sheet, error) {
	var (
		s          core.Sheet
		month      string
		state      string
		modifiedAt string
		exportedAt sql.NullString
	)
	if err := row.Scan(&s.VisitorID, &month, &state, &s.StateLabel, &modifiedAt,
		&s.ReceiptCount, &s.ValidatedAmount.Cents, &exportedAt); err != nil {
		return nil, err
	}
	s.Month = core.MonthKey(month)
	s.State = core.SheetState(state)

	t, err := parseTimestamp(modifiedAt)
	if err != nil {
		return nil, err
	}
	s.ModifiedAt = t

	if exportedAt.Valid {
		t, err := parseTimestamp(exportedAt.String)
		if err != nil {
			return nil, err
		}
		s.ExportedAt = &t
	}
	return &s, nil
}

func (q *Queries) listSheets(ctx context.Context, what, query string, args ...any) ([]core.Sheet, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, classify(err))
	}
	defer rows.Close()

	var sheets []core.Sheet
	for rows.Next() {
		s, err := scanSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		sheets = append(sheets, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", what, classify(err))
	}
	return sheets, nil
}

// GetSheet returns the sheet joined with its state label, or nil when absent.
func (q *Queries) GetSheet(ctx context.Context, visitorID string, month core.MonthKey) (*core.Sheet, error) {
	s, err := scanSheet(q.db.QueryRowContext(ctx, sheetSelect+` WHERE s.visitor_id = ? AND s.month = ?`, visitorID, string(month)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sheet %s/%s: %w", visitorID, month, classify(err))
	}
	return s, nil
}

func (q *Queries) SheetExists(ctx context.Context, visitorID string, month core.MonthKey) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM expense_sheet WHERE visitor_id = ? AND month = ?`,
		visitorID, string(month)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count sheets: %w", classify(err))
	}
	return n > 0, nil
}

// LatestMonth returns the most recent month with a sheet for the visitor.
// ok is false when the visitor has no sheet at all.
func (q *Queries) LatestMonth(ctx context.Context, visitorID string) (month core.MonthKey, ok bool, err error) {
	var m sql.NullString
	if err := q.db.QueryRowContext(ctx, `SELECT MAX(month) FROM expense_sheet WHERE visitor_id = ?`, visitorID).Scan(&m); err != nil {
		return "", false, fmt.Errorf("latest month: %w", classify(err))
	}
	if !m.Valid {
		return "", false, nil
	}
	return core.MonthKey(m.String), true, nil
}

const insertSheet = `INSERT INTO expense_sheet (visitor_id, month, state_id, modified_at, receipt_count, validated_amount_cents)
VALUES (?, ?, ?, ?, 0, 0)`

func (q *Queries) InsertSheet(ctx context.Context, visitorID string, month core.MonthKey, now time.Time) error {
	if _, err := q.db.ExecContext(ctx, insertSheet, visitorID, string(month), string(core.StateCreated), formatTimestamp(now)); err != nil {
		return fmt.Errorf("insert sheet %s/%s: %w", visitorID, month, classify(err))
	}
	return nil
}

func (q *Queries) SetSheetState(ctx context.Context, visitorID string, month core.MonthKey, state core.SheetState, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE expense_sheet SET state_id = ?, modified_at = ? WHERE visitor_id = ? AND month = ?`,
		string(state), formatTimestamp(now), visitorID, string(month))
	if err != nil {
		return fmt.Errorf("update sheet state: %w", classify(err))
	}
	return expectRow(res, fmt.Sprintf("sheet %s/%s", visitorID, month))
}

// ValidateSheet stores the validated amount together with the VA state.
func (q *Queries) ValidateSheet(ctx context.Context, visitorID string, month core.MonthKey, amount core.Money, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE expense_sheet SET state_id = ?, validated_amount_cents = ?, modified_at = ? WHERE visitor_id = ? AND month = ?`,
		string(core.StateValidated), amount.Cents, formatTimestamp(now), visitorID, string(month))
	if err != nil {
		return fmt.Errorf("validate sheet: %w", classify(err))
	}
	return expectRow(res, fmt.Sprintf("sheet %s/%s", visitorID, month))
}

func (q *Queries) SetReceiptCount(ctx context.Context, visitorID string, month core.MonthKey, count int, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE expense_sheet SET receipt_count = ?, modified_at = ? WHERE visitor_id = ? AND month = ?`,
		count, formatTimestamp(now), visitorID, string(month))
	if err != nil {
		return fmt.Errorf("update receipt count: %w", classify(err))
	}
	return expectRow(res, fmt.Sprintf("sheet %s/%s", visitorID, month))
}

// GetReceiptCount reports ok=false when the sheet does not exist.
func (q *Queries) GetReceiptCount(ctx context.Context, visitorID string, month core.MonthKey) (count int, ok bool, err error) {
	err = q.db.QueryRowContext(ctx, `SELECT receipt_count FROM expense_sheet WHERE visitor_id = ? AND month = ?`,
		visitorID, string(month)).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get receipt count: %w", classify(err))
	}
	return count, true, nil
}

func (q *Queries) listMonths(ctx context.Context, what, query string, args ...any) ([]core.AvailableMonth, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, classify(err))
	}
	defer rows.Close()

	var months []core.AvailableMonth
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan month: %w", err)
		}
		key := core.MonthKey(m)
		months = append(months, core.AvailableMonth{Month: key, Year: key.Year(), MonthNumber: key.MonthNumber()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", what, classify(err))
	}
	return months, nil
}

// ListAvailableMonths lists the visitor's months, newest first.
func (q *Queries) ListAvailableMonths(ctx context.Context, visitorID string) ([]core.AvailableMonth, error) {
	return q.listMonths(ctx, "list available months",
		`SELECT month FROM expense_sheet WHERE visitor_id = ? ORDER BY month DESC`, visitorID)
}

// ListMonthsInState lists distinct months having at least one sheet in state, newest first.
func (q *Queries) ListMonthsInState(ctx context.Context, state core.SheetState) ([]core.AvailableMonth, error) {
	return q.listMonths(ctx, "list months in state",
		`SELECT DISTINCT month FROM expense_sheet WHERE state_id = ? ORDER BY month DESC`, string(state))
}

func (q *Queries) ListSheetsByState(ctx context.Context, state core.SheetState) ([]core.Sheet, error) {
	return q.listSheets(ctx, "list sheets by state",
		sheetSelect+` WHERE s.state_id = ? ORDER BY s.month DESC, s.visitor_id`, string(state))
}

func (q *Queries) ListSheetsInStateForMonth(ctx context.Context, state core.SheetState, month core.MonthKey) ([]core.Sheet, error) {
	return q.listSheets(ctx, "list sheets for month",
		sheetSelect+` WHERE s.state_id = ? AND s.month = ? ORDER BY s.visitor_id`, string(state), string(month))
}

// ListSheetsInStateBefore lists sheets in state whose month is strictly before month.
func (q *Queries) ListSheetsInStateBefore(ctx context.Context, state core.SheetState, month core.MonthKey) ([]core.Sheet, error) {
	return q.listSheets(ctx, "list stale sheets",
		sheetSelect+` WHERE s.state_id = ? AND s.month < ? ORDER BY s.month, s.visitor_id`, string(state), string(month))
}

// ListUnexportedReimbursed returns reimbursed sheets not yet written to the ledger, oldest first.
func (q *Queries) ListUnexportedReimbursed(ctx context.Context, limit int) ([]core.Sheet, error) {
	return q.listSheets(ctx, "list unexported sheets",
		sheetSelect+` WHERE s.state_id = ? AND s.exported_at IS NULL ORDER BY s.modified_at, s.visitor_id LIMIT ?`,
		string(core.StateReimbursed), limit)
}

func (q *Queries) MarkExported(ctx context.Context, visitorID string, month core.MonthKey, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE expense_sheet SET exported_at = ? WHERE visitor_id = ? AND month = ? AND exported_at IS NULL`,
		formatTimestamp(now), visitorID, string(month))
	if err != nil {
		return fmt.Errorf("mark sheet exported: %w", classify(err))
	}
	return expectRow(res, fmt.Sprintf("unexported sheet %s/%s", visitorID, month))
}

// ---- flat-rate lines ----

func (q *Queries) InsertFlatRateLine(ctx context.Context, visitorID string, month core.MonthKey, typeID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO flat_rate_line (visitor_id, month, flat_rate_type_id, quantity) VALUES (?, ?, ?, 0)`,
		visitorID, string(month), typeID)
	if err != nil {
		return fmt.Errorf("insert flat rate line %s: %w", typeID, classify(err))
	}
	return nil
}

func (q *Queries) UpdateFlatRateQuantity(ctx context.Context, visitorID string, month core.MonthKey, typeID string, quantity int) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE flat_rate_line SET quantity = ? WHERE visitor_id = ? AND month = ? AND flat_rate_type_id = ?`,
		quantity, visitorID, string(month), typeID)
	if err != nil {
		return fmt.Errorf("update flat rate quantity: %w", classify(err))
	}
	return expectRow(res, fmt.Sprintf("flat rate line %s/%s/%s", visitorID, month, typeID))
}

func (q *Queries) ListFlatRateLines(ctx context.Context, visitorID string, month core.MonthKey) ([]core.FlatRateLine, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT l.flat_rate_type_id, t.label, l.quantity, t.unit_amount_cents
  FROM flat_rate_line l
  JOIN flat_rate_type t ON t.id = l.flat_rate_type_id
 WHERE l.visitor_id = ? AND l.month = ?
 ORDER BY l.flat_rate_type_id`, visitorID, string(month))
	if err != nil {
		return nil, fmt.Errorf("list flat rate lines: %w", classify(err))
	}
	defer rows.Close()

	var lines []core.FlatRateLine
	for rows.Next() {
		var l core.FlatRateLine
		if err := rows.Scan(&l.TypeID, &l.Label, &l.Quantity, &l.UnitAmount.Cents); err != nil {
			return nil, fmt.Errorf("scan flat rate line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list flat rate lines: %w", classify(err))
	}
	return lines, nil
}

// SumFlatRate is Σ quantity × unit amount for the sheet; 0 when it has no lines.
func (q *Queries) SumFlatRate(ctx context.Context, visitorID string, month core.MonthKey) (core.Money, error) {
	var cents int64
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(l.quantity * t.unit_amount_cents), 0)
  FROM flat_rate_line l
  JOIN flat_rate_type t ON t.id = l.flat_rate_type_id
 WHERE l.visitor_id = ? AND l.month = ?`, visitorID, string(month)).Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum flat rate lines: %w", classify(err))
	}
	return core.Money{Cents: cents}, nil
}

// ---- free-form lines ----

const freeFormColumns = `id, visitor_id, month, label, expense_date, amount_cents, status`

func scanFreeFormLine(row interface{ Scan(...any) error }) (*core.FreeFormLine, error) {
	var (
		l      core.FreeFormLine
		month  string
		date   string
		status string
	)
	if err := row.Scan(&l.ID, &l.VisitorID, &month, &l.Label, &date, &l.Amount.Cents, &status); err != nil {
		return nil, err
	}
	display, err := core.ToDisplayDate(date)
	if err != nil {
		return nil, fmt.Errorf("free form line %d: %w", l.ID, err)
	}
	l.Month = core.MonthKey(month)
	l.Date = display
	l.Status = core.LineStatus(status)
	return &l, nil
}

func (q *Queries) InsertFreeFormLine(ctx context.Context, visitorID string, month core.MonthKey, d core.FreeFormDraft) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO free_form_line (visitor_id, month, label, expense_date, amount_cents, status) VALUES (?, ?, ?, ?, ?, ?)`,
		visitorID, string(month), d.Label, d.Date, d.Amount.Cents, string(core.LineNormal))
	if err != nil {
		return 0, fmt.Errorf("insert free form line: %w", classify(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", classify(err))
	}
	return id, nil
}

// GetFreeFormLine returns nil when the line does not exist.
func (q *Queries) GetFreeFormLine(ctx context.Context, id int64) (*core.FreeFormLine, error) {
	l, err := scanFreeFormLine(q.db.QueryRowContext(ctx, `SELECT `+freeFormColumns+` FROM free_form_line WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get free form line %d: %w", id, classify(err))
	}
	return l, nil
}

func (q *Queries) ListFreeFormLines(ctx context.Context, visitorID string, month core.MonthKey) ([]core.FreeFormLine, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+freeFormColumns+` FROM free_form_line
 WHERE visitor_id = ? AND month = ?
 ORDER BY expense_date, id`, visitorID, string(month))
	if err != nil {
		return nil, fmt.Errorf("list free form lines: %w", classify(err))
	}
	defer rows.Close()

	var lines []core.FreeFormLine
	for rows.Next() {
		l, err := scanFreeFormLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan free form line: %w", err)
		}
		lines = append(lines, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list free form lines: %w", classify(err))
	}
	return lines, nil
}

func (q *Queries) UpdateFreeFormLine(ctx context.Context, id int64, d core.FreeFormDraft) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE free_form_line SET label = ?, expense_date = ?, amount_cents = ? WHERE id = ?`,
		d.Label, d.Date, d.Amount.Cents, id)
	if err != nil {
		return fmt.Errorf("update free form line %d: %w", id, classify(err))
	}
	return expectRow(res, fmt.Sprintf("free form line %d", id))
}

func (q *Queries) DeleteFreeFormLine(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM free_form_line WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete free form line %d: %w", id, classify(err))
	}
	return expectRow(res, fmt.Sprintf("free form line %d", id))
}

// RefuseFreeFormLine stores the rewritten label with the REFUSED status.
func (q *Queries) RefuseFreeFormLine(ctx context.Context, id int64, label string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE free_form_line SET label = ?, status = ? WHERE id = ?`,
		label, string(core.LineRefused), id)
	if err != nil {
		return fmt.Errorf("refuse free form line %d: %w", id, classify(err))
	}
	return expectRow(res, fmt.Sprintf("free form line %d", id))
}

// MoveFreeFormLine reassigns the line to month and marks it DEFERRED.
func (q *Queries) MoveFreeFormLine(ctx context.Context, id int64, month core.MonthKey) error {
	res, err := q.db.ExecContext(ctx, `UPDATE free_form_line SET month = ?, status = ? WHERE id = ?`,
		string(month), string(core.LineDeferred), id)
	if err != nil {
		return fmt.Errorf("defer free form line %d: %w", id, classify(err))
	}
	return expectRow(res, fmt.Sprintf("free form line %d", id))
}

// SumFreeForm totals the sheet's non-refused free-form lines; 0 when none.
func (q *Queries) SumFreeForm(ctx context.Context, visitorID string, month core.MonthKey) (core.Money, error) {
	var cents int64
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_cents), 0) FROM free_form_line
 WHERE visitor_id = ? AND month = ? AND status <> ?`, visitorID, string(month), string(core.LineRefused)).Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum free form lines: %w", classify(err))
	}
	return core.Money{Cents: cents}, nil
}
