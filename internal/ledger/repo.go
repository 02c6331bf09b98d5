package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// Create nulis entry baru dengan status INITIATED. Unique violation di
// transaction_id dipetakan ke ErrDuplicateID biar caller bisa regenerate.
func (r *Repo) Create(ctx context.Context, tx *Transaction) error {
	meta, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if tx.Currency == "" {
		tx.Currency = "INR"
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO transactions(transaction_id, merchant_transaction_id, user_id,
		                         amount, currency, status, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		tx.TransactionID, tx.MerchantTransactionID, tx.UserID,
		tx.Amount, tx.Currency, StatusInitiated, meta)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return err
	}
	tx.Status = StatusInitiated
	return nil
}

func (r *Repo) FindByID(ctx context.Context, txID string) (*Transaction, error) {
	var (
		t    Transaction
		meta []byte
	)
	err := r.DB.QueryRow(ctx, `
		SELECT transaction_id, merchant_transaction_id, user_id, amount, currency,
		       status, COALESCE(gateway_response,'null'), metadata, created_at, updated_at
		FROM transactions WHERE transaction_id=$1`, txID).
		Scan(&t.TransactionID, &t.MerchantTransactionID, &t.UserID, &t.Amount, &t.Currency,
			&t.Status, &t.GatewayResponse, &meta, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &t.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &t, nil
}

// UpdateStatus persist status baru + payload gateway verbatim. Status di luar
// enum ditolak keras (ErrInvalidStatus), jangan diam-diam dikoersi.
func (r *Repo) UpdateStatus(ctx context.Context, txID string, status Status, gatewayPayload []byte) (*Transaction, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	var ct pgconn.CommandTag
	var err error
	if gatewayPayload != nil {
		ct, err = r.DB.Exec(ctx, `
			UPDATE transactions SET status=$2, gateway_response=$3, updated_at=now()
			WHERE transaction_id=$1`, txID, status, gatewayPayload)
	} else {
		ct, err = r.DB.Exec(ctx, `
			UPDATE transactions SET status=$2, updated_at=now()
			WHERE transaction_id=$1`, txID, status)
	}
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.FindByID(ctx, txID)
}

// ListByUser: histori transaksi user, terbaru duluan.
func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Transaction, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT transaction_id, merchant_transaction_id, user_id, amount, currency,
		       status, COALESCE(gateway_response,'null'), metadata, created_at, updated_at
		FROM transactions WHERE user_id=$1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			t    Transaction
			meta []byte
		)
		if err := rows.Scan(&t.TransactionID, &t.MerchantTransactionID, &t.UserID, &t.Amount, &t.Currency,
			&t.Status, &t.GatewayResponse, &meta, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
