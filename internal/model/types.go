package model

import (
	"errors"
	"time"
)

// Sentinel errors shared across the store and service layers.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict: transition not permitted")
	ErrForbidden = errors.New("forbidden")
)

// ServiceStatus is the residency-level service toggle.
type ServiceStatus string

const (
	ServiceOn  ServiceStatus = "ON"
	ServiceOff ServiceStatus = "OFF"
)

// Role identifies the kind of principal behind a session.
type Role string

const (
	RoleResident Role = "resident"
	RoleGuard    Role = "guard"
	RoleAdmin    Role = "admin"
)

// Residency is the tenant boundary. Every other entity lives under one.
type Residency struct {
	ID            string
	Name          string
	ServiceStatus ServiceStatus
	AdminUsername string
	AdminFCMToken string
	CreatedAt     time.Time
}

// Block is reference data resolved when matching a request to its residents.
type Block struct {
	ID          string
	ResidencyID string
	Name        string
}

// Flat belongs to a block within a residency.
type Flat struct {
	ID          string
	ResidencyID string
	BlockID     string
	Number      string
	Floor       string
}

// Resident is a principal that may approve or reject visitor requests.
// Legacy bulk-imported residents carry only BlockLabel/FlatNumber and no
// FlatID; both lookup paths must stay supported.
type Resident struct {
	ID          string
	ResidencyID string
	Username    string
	DisplayName string
	Phone       string
	Active      bool
	FlatID      string
	BlockLabel  string
	FlatNumber  string
	// FCMToken is the legacy single-value field; FCMTokens is the canonical
	// multi-value field all new registrations write to.
	FCMToken  string
	FCMTokens []string
	CreatedAt time.Time
}

// Guard is a principal that admits and exits approved visitors.
type Guard struct {
	ID          string
	ResidencyID string
	Username    string
	DisplayName string
	Phone       string
	Active      bool
	FCMToken    string
	FCMTokens   []string
	CreatedAt   time.Time
}

// VisitorRequest tracks one visitor's entry request and its approval
// lifecycle. The request store is the single source of truth for Status.
type VisitorRequest struct {
	ID            string
	ResidencyID   string
	VisitorName   string
	VisitorPhone  string
	Purpose       string
	VehicleNumber string
	FlatID        string
	Status        Status
	// ApprovalToken is minted once at creation and never changes; decisions
	// arriving over the public link must present it verbatim.
	ApprovalToken string
	// NotificationSent is the durable idempotency marker for the first push.
	// Once true it is never reset.
	NotificationSent bool
	ActionBy         string
	ApprovedBy       string
	ApprovedAt       *time.Time
	RejectedBy       string
	RejectedAt       *time.Time
	EnteredAt        *time.Time
	ExitedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
