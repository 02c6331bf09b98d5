package cart

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ariefcatur/channel-market.git/internal/channels"
)

var (
	ErrItemNotFound = errors.New("cart item not found")
	ErrChannelSold  = errors.New("channel already sold")
)

type Repo struct {
	DB  *pgxpool.Pool
	Log *zap.Logger
}

// Add: upsert per (user, channel). Channel yang hilang atau sudah Sold
// ditolak di sini sebagai pre-check saja; cek finalnya tetap di settlement.
func (r *Repo) Add(ctx context.Context, userID, channelID string, qty int) error {
	if qty < 1 {
		qty = 1
	}

	var status channels.Status
	err := r.DB.QueryRow(ctx, `SELECT status FROM channels WHERE id=$1`, channelID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return channels.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == channels.StatusSold {
		return ErrChannelSold
	}

	_, err = r.DB.Exec(ctx, `
		INSERT INTO cart_items(user_id, channel_id, quantity)
		VALUES ($1,$2,$3)
		ON CONFLICT (user_id, channel_id) DO UPDATE SET quantity = cart_items.quantity + $3`,
		userID, channelID, qty)
	return err
}

func (r *Repo) UpdateQuantity(ctx context.Context, userID, channelID string, qty int) error {
	if qty < 1 {
		return errors.New("quantity must be at least 1")
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE cart_items SET quantity=$3 WHERE user_id=$1 AND channel_id=$2`,
		userID, channelID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *Repo) Remove(ctx context.Context, userID, channelID string) error {
	ct, err := r.DB.Exec(ctx, `
		DELETE FROM cart_items WHERE user_id=$1 AND channel_id=$2`, userID, channelID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *Repo) Clear(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, userID)
	return err
}

// Get me-render cart user dengan join ke channels. Item yang channel-nya
// hilang atau sudah Sold di-prune secara lazy di sini, best-effort:
// gagal prune cuma di-log, response tetap jalan.
func (r *Repo) Get(ctx context.Context, userID string) ([]View, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT ci.channel_id, ci.quantity,
		       c.id, c.name, COALESCE(c.avatar_url,''), c.category, c.price, c.status
		FROM cart_items ci
		LEFT JOIN channels c ON c.id = ci.channel_id
		WHERE ci.user_id=$1
		ORDER BY ci.added_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []View
	var stale []string
	for rows.Next() {
		var (
			channelID string
			qty       int
			id        *string
			name      *string
			avatar    *string
			category  *string
			price     *float64
			status    *string
		)
		if err := rows.Scan(&channelID, &qty, &id, &name, &avatar, &category, &price, &status); err != nil {
			return nil, err
		}
		if id == nil || channels.Status(*status) == channels.StatusSold {
			stale = append(stale, channelID)
			continue
		}
		views = append(views, View{
			ChannelID: *id,
			Name:      *name,
			AvatarURL: *avatar,
			Category:  *category,
			Price:     *price,
			Quantity:  qty,
			Status:    *status,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(stale) > 0 {
		if _, err := r.DB.Exec(ctx, `
			DELETE FROM cart_items WHERE user_id=$1 AND channel_id = ANY($2)`,
			userID, stale); err != nil && r.Log != nil {
			r.Log.Warn("cart_prune_failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return views, nil
}

// Snapshot membekukan isi cart untuk checkout. Tidak memodifikasi cart:
// clear tetap panggilan eksplisit terpisah setelah client konfirmasi settle.
func (r *Repo) Snapshot(ctx context.Context, userID string) ([]SnapshotItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT c.id, c.name, c.price, ci.quantity
		FROM cart_items ci
		JOIN channels c ON c.id = ci.channel_id
		WHERE ci.user_id=$1
		ORDER BY ci.added_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotItem
	for rows.Next() {
		var it SnapshotItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Price, &it.Quantity); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
