package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("channel not found")

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) FindByID(ctx context.Context, id string) (*Channel, error) {
	var c Channel
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, custom_url, category, price, subscriber_count,
		       status, seller, COALESCE(buyer,''), COALESCE(payment_id,''),
		       COALESCE(avatar_url,''), created_at, updated_at
		FROM channels WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.CustomURL, &c.Category, &c.Price, &c.SubscriberCount,
			&c.Status, &c.Seller, &c.Buyer, &c.PaymentID,
			&c.AvatarURL, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkSold: transisi sold secara atomik & idempoten. Channel yang sudah Sold
// tidak disentuh lagi (guard di WHERE), jadi aman dipanggil berulang dan
// dua settlement konkuren tidak bisa sama-sama "menjual" channel yang sama.
// Return = jumlah row yang benar-benar berubah.
func (r *Repo) MarkSold(ctx context.Context, ids []string, buyer, paymentID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE channels
		SET status=$2, buyer=$3, payment_id=$4, updated_at=now()
		WHERE id = ANY($1) AND status <> $2`,
		ids, StatusSold, buyer, paymentID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *Repo) List(ctx context.Context, status Status, limit int) ([]Channel, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT id, name, custom_url, category, price, subscriber_count,
		       status, seller, COALESCE(buyer,''), COALESCE(payment_id,''),
		       COALESCE(avatar_url,''), created_at, updated_at
		FROM channels`
	args := []any{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.CustomURL, &c.Category, &c.Price, &c.SubscriberCount,
			&c.Status, &c.Seller, &c.Buyer, &c.PaymentID,
			&c.AvatarURL, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
