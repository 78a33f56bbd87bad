package license

import (
	"time"
)

// Status is the lifecycle state of a license
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
)

// ParseStatus converts a string to a Status
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusActive, StatusExpired, StatusSuspended:
		return Status(s), true
	default:
		return "", false
	}
}

// Role is the role of a licensee account
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Product is a licensed piece of software
type Product struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Version   string    `json:"version" db:"version"`
	Price     float64   `json:"price" db:"price"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// User is the licensee a license is issued to
type User struct {
	ID          string    `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Company     string    `json:"company,omitempty" db:"company"`
	Role        Role      `json:"role" db:"role"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// License is the aggregate that owns the activation counter and hardware binding.
// Mutations go through the methods in license.go.
type License struct {
	ID                 string     `json:"id" db:"id"`
	Key                string     `json:"license_key" db:"license_key"`
	ProductID          string     `json:"product_id" db:"product_id"`
	UserID             string     `json:"user_id" db:"user_id"`
	Status             Status     `json:"status" db:"status"`
	ExpiresAt          *time.Time `json:"expires_at" db:"expires_at"`
	MaxActivations     int        `json:"max_activations" db:"max_activations"`
	CurrentActivations int        `json:"current_activations" db:"current_activations"`
	BoundHWID          string     `json:"bound_hwid,omitempty" db:"bound_hwid"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// Record is a license joined with its product and licensee
type Record struct {
	License
	Product Product
	User    User
}

// Activation binds one hardware id to a license and consumes one seat while active
type Activation struct {
	ID            string     `json:"id" db:"id"`
	LicenseID     string     `json:"license_id" db:"license_id"`
	HWID          string     `json:"hwid" db:"hwid"`
	IPAddress     string     `json:"ip_address" db:"ip_address"`
	UserAgent     string     `json:"user_agent" db:"user_agent"`
	MachineName   string     `json:"machine_name,omitempty" db:"machine_name"`
	ActivatedAt   time.Time  `json:"activated_at" db:"activated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at" db:"deactivated_at"`
	IsActive      bool       `json:"is_active" db:"is_active"`
}

// EventType names an audit event
type EventType string

const (
	EventLicenseCreated       EventType = "license_created"
	EventLicenseValidated     EventType = "license_validated"
	EventLicenseActivated     EventType = "license_activated"
	EventLicenseDeactivated   EventType = "license_deactivated"
	EventLicenseHeartbeat     EventType = "license_heartbeat"
	EventLicenseStatusChanged EventType = "license_status_changed"
)

// AnalyticsEvent is an append-only audit record
type AnalyticsEvent struct {
	ID        string                 `json:"id" db:"id"`
	Type      EventType              `json:"event_type" db:"event_type"`
	LicenseID string                 `json:"license_id,omitempty" db:"license_id"`
	UserID    string                 `json:"user_id,omitempty" db:"user_id"`
	Metadata  map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// Reason is a stable identifier for a negative validation or activation outcome
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotFound         Reason = "not_found"
	ReasonExpired          Reason = "expired"
	ReasonHardwareMismatch Reason = "hardware_mismatch"
	ReasonLimitReached     Reason = "limit_reached"
)

// StatusReason builds the reason reported for a license that is not active
func StatusReason(s Status) Reason {
	return Reason("status:" + string(s))
}

// ProductInfo is the product part of a license snapshot
type ProductInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// UserInfo is the licensee part of a license snapshot
type UserInfo struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
}

// Snapshot is the read-only view of a license returned to clients
type Snapshot struct {
	ID                 string      `json:"id"`
	LicenseKey         string      `json:"license_key"`
	Status             Status      `json:"status"`
	ExpiresAt          *time.Time  `json:"expires_at"`
	MaxActivations     int         `json:"max_activations"`
	CurrentActivations int         `json:"current_activations"`
	Product            ProductInfo `json:"product"`
	User               UserInfo    `json:"user"`
}

// SnapshotOf builds the client view of a record
func SnapshotOf(rec *Record) Snapshot {
	return Snapshot{
		ID:                 rec.ID,
		LicenseKey:         rec.Key,
		Status:             rec.Status,
		ExpiresAt:          rec.ExpiresAt,
		MaxActivations:     rec.MaxActivations,
		CurrentActivations: rec.CurrentActivations,
		Product: ProductInfo{
			ID:      rec.Product.ID,
			Name:    rec.Product.Name,
			Version: rec.Product.Version,
		},
		User: UserInfo{
			Name:    rec.User.DisplayName,
			Company: rec.User.Company,
		},
	}
}
