// internal/model/push.go
package model

// Push message types sent to subscribers.
const (
	PushConnecting   = "connecting"
	PushQRReady      = "qr_ready"
	PushConnected    = "connected"
	PushDisconnected = "disconnected"
	PushBlocked      = "blocked"
	PushError        = "error"
	PushProgress     = "progress"
	PushStatus       = "status"
)

// PushMessage is the server→client frame on a session or campaign channel.
type PushMessage struct {
	Type             string            `json:"type"`
	SessionID        string            `json:"sessionId,omitempty"`
	QRCode           string            `json:"qrCode,omitempty"`
	PhoneNumber      string            `json:"phoneNumber,omitempty"`
	Message          string            `json:"message,omitempty"`
	CanRetry         *bool             `json:"canRetry,omitempty"`
	RemainingMinutes int               `json:"remainingMinutes,omitempty"`
	Status           string            `json:"status,omitempty"`
	CampaignID       int               `json:"campaignId,omitempty"`
	Counters         *CampaignCounters `json:"counters,omitempty"`
}

// ClientMessage is the client→server frame on a session channel.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	OwnerID   string `json:"ownerId"`
}
