// Package phonepe implements the merchant side of the PhonePe pay-page API:
// signed initiation requests and status polling with a bounded retry.
package phonepe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/channel-market.git/internal/config"
	"github.com/ariefcatur/channel-market.git/internal/ledger"
)

const (
	payPath       = "/pg/v1/pay"
	statusPathFmt = "/pg/v1/status/%s/%s"

	statusRetries = 3
	statusDelay   = 2 * time.Second

	// timeout client-side; gateway tidak spesifikasikan, ambil konservatif
	requestTimeout = 15 * time.Second
)

// ErrTransport: gagal di jaringan/timeout, bukan keputusan gateway.
// Retryable; status transaksi yang tersimpan tidak boleh berubah karena ini.
var ErrTransport = errors.New("phonepe: transport error")

type Client struct {
	cfg   config.GatewayConfig
	http  *http.Client
	log   *zap.Logger
	sleep func(time.Duration) // injectable untuk test tanpa delay beneran
}

func NewClient(cfg config.GatewayConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: requestTimeout},
		log:   log,
		sleep: time.Sleep,
	}
}

// payRequest: wire format PhonePe. Urutan field menentukan byte JSON, dan
// byte JSON menentukan signature. Jangan diubah-ubah.
type payRequest struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber,omitempty"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

// InitiateResponse: body mentah disimpan untuk audit, field umum di-decode
// sekadar untuk logging/response API.
type InitiateResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Raw     []byte          `json:"-"`
}

// StatusResult adalah view bertipe di atas payload status gateway.
// Business logic cukup lihat Status; Raw diteruskan ke ledger apa adanya.
type StatusResult struct {
	Code   string
	Status ledger.Status
	Raw    []byte
}

// PaiseAmount konversi rupee float ke paise (unit terkecil) fixed-point.
// Jangan pernah kirim float mentah ke gateway.
func PaiseAmount(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// SignPayload: base64(JSON) + path + saltKey di-SHA256, suffix ###saltIndex.
// Gateway menghitung ulang hash yang sama, jadi konstruksi ini harus
// bit-reproducible.
func (c *Client) SignPayload(payload []byte) (encoded, signature string) {
	encoded = base64.StdEncoding.EncodeToString(payload)
	sum := sha256.Sum256([]byte(encoded + payPath + c.cfg.SaltKey))
	signature = hex.EncodeToString(sum[:]) + "###" + c.cfg.SaltIndex
	return encoded, signature
}

func (c *Client) signStatusPath(transactionID string) string {
	path := fmt.Sprintf(statusPathFmt, c.cfg.MerchantID, transactionID)
	sum := sha256.Sum256([]byte(path + c.cfg.SaltKey))
	return hex.EncodeToString(sum[:]) + "###" + c.cfg.SaltIndex
}

// Initiate kirim request pembayaran. Error transport dibungkus ErrTransport;
// response non-2xx dianggap penolakan gateway dan dikembalikan bersama body.
func (c *Client) Initiate(ctx context.Context, transactionID string, amount float64, userID, mobileNumber string) (*InitiateResponse, error) {
	req := payRequest{
		MerchantID:            c.cfg.MerchantID,
		MerchantTransactionID: transactionID,
		MerchantUserID:        userID,
		Amount:                PaiseAmount(amount),
		RedirectURL:           fmt.Sprintf("%s/confirmation/%s", c.cfg.RedirectURL, transactionID),
		RedirectMode:          "REDIRECT_URL",
		CallbackURL:           c.cfg.CallbackURL,
		MobileNumber:          mobileNumber,
		PaymentInstrument:     paymentInstrument{Type: "PAY_PAGE"},
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal pay request: %w", err)
	}
	encoded, signature := c.SignPayload(payload)

	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+payPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-VERIFY", signature)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	out := &InitiateResponse{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("phonepe: decode initiate response: %w", err)
	}
	out.Raw = raw

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.Success {
		c.log.Warn("phonepe_initiate_rejected",
			zap.String("transaction_id", transactionID),
			zap.Int("http_status", resp.StatusCode),
			zap.String("code", out.Code))
		return out, fmt.Errorf("phonepe: initiate rejected: %s", out.Code)
	}
	return out, nil
}

type statusResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// QueryStatus poll status transaksi. Retry hanya untuk kegagalan transport
// atau response non-2xx (maks 3 attempt, jeda tetap 2s); kode status gateway
// cuma di-map dari body 2xx. PENDING itu hasil sah, bukan alasan retry:
// re-poll urusan caller.
func (c *Client) QueryStatus(ctx context.Context, transactionID string) (*StatusResult, error) {
	url := c.cfg.Host + fmt.Sprintf(statusPathFmt, c.cfg.MerchantID, transactionID)
	xVerify := c.signStatusPath(transactionID)

	var lastErr error
	for attempt := 1; attempt <= statusRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-VERIFY", xVerify)
		httpReq.Header.Set("X-MERCHANT-ID", c.cfg.MerchantID)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = err
			c.log.Warn("phonepe_status_attempt_failed",
				zap.String("transaction_id", transactionID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if attempt < statusRetries {
				c.sleep(statusDelay)
			}
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			if attempt < statusRetries {
				c.sleep(statusDelay)
			}
			continue
		}

		// non-2xx (gateway 5xx, proxy 502) = kegagalan transient, bukan
		// keputusan pembayaran. Jangan sampai body error-nya ke-map jadi
		// FAILED terminal.
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("http %d", resp.StatusCode)
			c.log.Warn("phonepe_status_attempt_failed",
				zap.String("transaction_id", transactionID),
				zap.Int("attempt", attempt),
				zap.Int("http_status", resp.StatusCode))
			if attempt < statusRetries {
				c.sleep(statusDelay)
			}
			continue
		}

		var sr statusResponse
		if err := json.Unmarshal(raw, &sr); err != nil {
			return nil, fmt.Errorf("phonepe: decode status response: %w", err)
		}
		return &StatusResult{
			Code:   sr.Code,
			Status: MapStatus(sr.Code),
			Raw:    raw,
		}, nil
	}
	return nil, fmt.Errorf("%w: %d attempts: %v", ErrTransport, statusRetries, lastErr)
}

// MapStatus memetakan vocabulary gateway ke status internal.
// Kode yang tidak dikenal → FAILED (fail-closed).
func MapStatus(code string) ledger.Status {
	switch code {
	case "PAYMENT_SUCCESS":
		return ledger.StatusSuccess
	case "PAYMENT_PENDING":
		return ledger.StatusPending
	case "PAYMENT_DECLINED", "PAYMENT_ERROR":
		return ledger.StatusFailed
	default:
		return ledger.StatusFailed
	}
}
