package channels

import "time"

type Status string

const (
	StatusUnsold    Status = "Unsold"
	StatusAvailable Status = "Available"
	StatusSold      Status = "Sold"
)

// Channel adalah unit inventory: satu listing akun yang dijual.
// Field marketplace lain (deskripsi, statistik, gambar) diurus flow listing,
// core settlement cuma butuh subset ini.
type Channel struct {
	ID              string
	Name            string
	CustomURL       string
	Category        string
	Price           float64
	SubscriberCount int64
	Status          Status
	Seller          string
	Buyer           string // email pembeli, diisi saat Sold
	PaymentID       string // transaction id yang menjual channel ini
	AvatarURL       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (c *Channel) Sold() bool { return c.Status == StatusSold }
