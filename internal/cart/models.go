package cart

// Item adalah satu baris cart milik user.
type Item struct {
	ChannelID string `json:"channel_id"`
	Quantity  int    `json:"quantity"`
}

// View: item cart yang sudah di-join dengan data channel, untuk response GET /cart.
type View struct {
	ChannelID string  `json:"id"`
	Name      string  `json:"name"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Category  string  `json:"category"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Status    string  `json:"status"`
}

// SnapshotItem adalah potret line item saat checkout; dibekukan ke metadata
// transaksi dan jadi satu-satunya sumber kebenaran untuk markSold.
type SnapshotItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}
