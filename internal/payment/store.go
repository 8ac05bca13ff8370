package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Store interface {
	GetByID(ctx context.Context, id int64) (*Payment, error)
	UpdateOutcome(ctx context.Context, p *Payment) error
}

type store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return &store{db: db}
}

func (s *store) GetByID(ctx context.Context, id int64) (*Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, backend, amount, amount_paid, currency, status, paid_on, created_at, updated_at
		FROM payments WHERE id = $1
	`, id)

	var p Payment
	var paidOn sql.NullTime
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Backend, &p.Amount, &p.AmountPaid,
		&p.Currency, &p.Status, &paidOn, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch payment %d: %w", id, err)
	}
	if paidOn.Valid {
		p.PaidOn = &paidOn.Time
	}
	return &p, nil
}

func (s *store) UpdateOutcome(ctx context.Context, p *Payment) error {
	var paidOn sql.NullTime
	if p.PaidOn != nil {
		paidOn = sql.NullTime{Time: *p.PaidOn, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, amount_paid = $2, paid_on = $3, updated_at = NOW()
		WHERE id = $4
	`, p.Status, p.AmountPaid, paidOn, p.ID)
	if err != nil {
		return fmt.Errorf("update payment %d: %w", p.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment %d: %w", p.ID, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
