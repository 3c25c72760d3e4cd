package internal

import "time"

type Link struct {
	ID            int64      `json:"id"`
	OwnerID       int64      `json:"owner_id"`
	TargetURL     string     `json:"target_url"`
	ShortCode     string     `json:"short_code"`
	ClickCount    int64      `json:"click_count"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
	IsActive      bool       `json:"is_active"`
	QR            *QRAsset   `json:"qr,omitempty"`
	LastClickedAt *time.Time `json:"last_clicked_at"`
}

// Redirectable reports whether the link may be followed at the given time.
// Inactive and expired links are suppressed independently.
func (l *Link) Redirectable(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	return true
}

// QRAsset references a generated QR image. Path and GeneratedAt are always
// set together; a link without an asset has a nil QRAsset.
type QRAsset struct {
	Path        string    `json:"path"`
	GeneratedAt time.Time `json:"generated_at"`
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
