package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moonkaicuzui/stock-portfolio-genius/internal/models"
)

// ErrInsufficientShares is returned when a sell asks for more shares than the
// holding has.
var ErrInsufficientShares = errors.New("store: insufficient shares")

// HoldingUpdate carries the metadata fields a PUT may change. Nil fields are
// left untouched.
type HoldingUpdate struct {
	Sector      *string
	TargetPrice *float64
	StopLoss    *float64
	Notes       *string
}

// TransactionFilter narrows ListTransactions. Zero values mean "no filter";
// Limit defaults to 100.
type TransactionFilter struct {
	Ticker string
	Type   models.TransactionType
	Limit  int
	Offset int
}

type Store interface {
	ListHoldings(ctx context.Context) ([]models.Holding, error)
	GetHolding(ctx context.Context, ticker string) (models.Holding, error)
	CreateHolding(ctx context.Context, h models.Holding) (models.Holding, error)
	UpdateHolding(ctx context.Context, ticker string, update HoldingUpdate) (models.Holding, error)
	DeleteHolding(ctx context.Context, ticker string) error

	ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)
	ApplyTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	ReverseTransaction(ctx context.Context, id int64) error

	RecordPrice(ctx context.Context, p models.PricePoint) error
	PriceHistory(ctx context.Context, ticker string, days int) ([]models.PricePoint, error)
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const holdingColumns = `id, ticker, quantity, avg_cost, sector, target_price, stop_loss, notes, created_at, updated_at`

func scanHolding(row interface{ Scan(...any) error }) (models.Holding, error) {
	var h models.Holding
	var targetPrice, stopLoss sql.NullFloat64
	err := row.Scan(&h.ID, &h.Ticker, &h.Quantity, &h.AvgCost, &h.Sector,
		&targetPrice, &stopLoss, &h.Notes, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return models.Holding{}, err
	}
	if targetPrice.Valid {
		v := targetPrice.Float64
		h.TargetPrice = &v
	}
	if stopLoss.Valid {
		v := stopLoss.Float64
		h.StopLoss = &v
	}
	return h, nil
}

func (s *SQLiteStore) ListHoldings(ctx context.Context) ([]models.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+holdingColumns+`
		FROM holdings WHERE quantity > 0 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	holdings := make([]models.Holding, 0)
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holdings: %w", err)
	}
	return holdings, nil
}

func (s *SQLiteStore) GetHolding(ctx context.Context, ticker string) (models.Holding, error) {
	ticker = normalizeTicker(ticker)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+holdingColumns+`
		FROM holdings WHERE ticker = ?`, ticker)
	h, err := scanHolding(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Holding{}, sql.ErrNoRows
		}
		return models.Holding{}, fmt.Errorf("get holding %s: %w", ticker, err)
	}
	return h, nil
}

func (s *SQLiteStore) CreateHolding(ctx context.Context, h models.Holding) (models.Holding, error) {
	h.Ticker = normalizeTicker(h.Ticker)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO holdings(ticker, quantity, avg_cost, sector, target_price, stop_loss, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.Ticker, h.Quantity, h.AvgCost, h.Sector, h.TargetPrice, h.StopLoss, h.Notes)
	if err != nil {
		return models.Holding{}, fmt.Errorf("insert holding: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Holding{}, fmt.Errorf("holding last insert id: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+holdingColumns+`
		FROM holdings WHERE id = ?`, id)
	out, err := scanHolding(row)
	if err != nil {
		return models.Holding{}, fmt.Errorf("fetch inserted holding: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateHolding(ctx context.Context, ticker string, update HoldingUpdate) (models.Holding, error) {
	ticker = normalizeTicker(ticker)

	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if update.Sector != nil {
		sets = append(sets, "sector = ?")
		args = append(args, *update.Sector)
	}
	if update.TargetPrice != nil {
		sets = append(sets, "target_price = ?")
		args = append(args, *update.TargetPrice)
	}
	if update.StopLoss != nil {
		sets = append(sets, "stop_loss = ?")
		args = append(args, *update.StopLoss)
	}
	if update.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *update.Notes)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UTC())
		args = append(args, ticker)

		res, err := s.db.ExecContext(ctx,
			`UPDATE holdings SET `+strings.Join(sets, ", ")+` WHERE ticker = ?`, args...)
		if err != nil {
			return models.Holding{}, fmt.Errorf("update holding %s: %w", ticker, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return models.Holding{}, fmt.Errorf("holding rows affected: %w", err)
		}
		if rows == 0 {
			return models.Holding{}, sql.ErrNoRows
		}
	}

	return s.GetHolding(ctx, ticker)
}

// DeleteHolding removes a holding and all of its transactions.
func (s *SQLiteStore) DeleteHolding(ctx context.Context, ticker string) error {
	ticker = normalizeTicker(ticker)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete holding: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE ticker = ?`, ticker)
	if err != nil {
		return fmt.Errorf("delete holding: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("holding rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE ticker = ?`, ticker); err != nil {
		return fmt.Errorf("delete holding transactions: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	query := `
		SELECT id, type, ticker, quantity, price, total_amount, fees, tx_date, notes, created_at
		FROM transactions`
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filter.Ticker != "" {
		where = append(where, "ticker = ?")
		args = append(args, normalizeTicker(filter.Ticker))
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY tx_date DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]models.Transaction, 0)
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.Ticker, &t.Quantity, &t.Price,
			&t.TotalAmount, &t.Fees, &t.Date, &t.Notes, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return transactions, nil
}

// ApplyTransaction records a buy or sell and updates the matching holding in
// the same database transaction. Buys merge into the holding with a
// weighted-average cost, creating it when absent; sells reduce the share
// count and fail with ErrInsufficientShares when the position is too small.
func (s *SQLiteStore) ApplyTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	t.Ticker = normalizeTicker(t.Ticker)
	t.TotalAmount = t.Quantity * t.Price

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var quantity, avgCost float64
	err = tx.QueryRowContext(ctx,
		`SELECT quantity, avg_cost FROM holdings WHERE ticker = ?`, t.Ticker).
		Scan(&quantity, &avgCost)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("load holding %s: %w", t.Ticker, err)
	}

	now := time.Now().UTC()
	switch t.Type {
	case models.TransactionBuy:
		if exists {
			newQuantity := quantity + t.Quantity
			newAvgCost := (quantity*avgCost + t.TotalAmount) / newQuantity
			if _, err := tx.ExecContext(ctx, `
				UPDATE holdings SET quantity = ?, avg_cost = ?, updated_at = ?
				WHERE ticker = ?`, newQuantity, newAvgCost, now, t.Ticker); err != nil {
				return models.Transaction{}, fmt.Errorf("merge buy into holding: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO holdings(ticker, quantity, avg_cost)
				VALUES (?, ?, ?)`, t.Ticker, t.Quantity, t.Price); err != nil {
				return models.Transaction{}, fmt.Errorf("create holding from buy: %w", err)
			}
		}
	case models.TransactionSell:
		if !exists || quantity < t.Quantity {
			available := 0.0
			if exists {
				available = quantity
			}
			return models.Transaction{}, fmt.Errorf("%w: available %g, requested %g",
				ErrInsufficientShares, available, t.Quantity)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE holdings SET quantity = ?, updated_at = ?
			WHERE ticker = ?`, quantity-t.Quantity, now, t.Ticker); err != nil {
			return models.Transaction{}, fmt.Errorf("apply sell to holding: %w", err)
		}
	default:
		return models.Transaction{}, fmt.Errorf("unknown transaction type %q", t.Type)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions(type, ticker, quantity, price, total_amount, fees, tx_date, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Type, t.Ticker, t.Quantity, t.Price, t.TotalAmount, t.Fees, t.Date, t.Notes)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("transaction last insert id: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, type, ticker, quantity, price, total_amount, fees, tx_date, notes, created_at
		FROM transactions WHERE id = ?`, id)
	var out models.Transaction
	if err := row.Scan(&out.ID, &out.Type, &out.Ticker, &out.Quantity, &out.Price,
		&out.TotalAmount, &out.Fees, &out.Date, &out.Notes, &out.CreatedAt); err != nil {
		return models.Transaction{}, fmt.Errorf("fetch inserted transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Transaction{}, fmt.Errorf("commit transaction: %w", err)
	}
	return out, nil
}

// ReverseTransaction deletes a transaction and undoes its effect on the
// holding: a reversed buy gives back the shares (clamped at zero), a reversed
// sell restores them. Average cost is left as-is; a precise reversal would
// need the full lot history.
func (s *SQLiteStore) ReverseTransaction(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reverse transaction: %w", err)
	}
	defer tx.Rollback()

	var t models.Transaction
	err = tx.QueryRowContext(ctx, `
		SELECT id, type, ticker, quantity FROM transactions WHERE id = ?`, id).
		Scan(&t.ID, &t.Type, &t.Ticker, &t.Quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("load transaction %d: %w", id, err)
	}

	var quantity float64
	err = tx.QueryRowContext(ctx,
		`SELECT quantity FROM holdings WHERE ticker = ?`, t.Ticker).Scan(&quantity)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load holding %s: %w", t.Ticker, err)
	}

	if err == nil {
		newQuantity := quantity
		switch t.Type {
		case models.TransactionBuy:
			newQuantity = quantity - t.Quantity
			if newQuantity < 0 {
				newQuantity = 0
			}
		case models.TransactionSell:
			newQuantity = quantity + t.Quantity
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE holdings SET quantity = ?, updated_at = ?
			WHERE ticker = ?`, newQuantity, time.Now().UTC(), t.Ticker); err != nil {
			return fmt.Errorf("reverse holding update: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) RecordPrice(ctx context.Context, p models.PricePoint) error {
	collectedAt := p.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_history(ticker, price, previous_close, volume, collected_at)
		VALUES (?, ?, ?, ?, ?)`,
		normalizeTicker(p.Ticker), p.Price, p.PreviousClose, p.Volume, collectedAt)
	if err != nil {
		return fmt.Errorf("record price: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PriceHistory(ctx context.Context, ticker string, days int) ([]models.PricePoint, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, price, previous_close, volume, collected_at
		FROM price_history
		WHERE ticker = ? AND collected_at >= ?
		ORDER BY collected_at ASC`, normalizeTicker(ticker), since)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	points := make([]models.PricePoint, 0)
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.ID, &p.Ticker, &p.Price, &p.PreviousClose, &p.Volume, &p.CollectedAt); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history: %w", err)
	}
	return points, nil
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
