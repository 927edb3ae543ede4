package model

import "time"

// Branch is a compiled-in tenant of the backend.
type Branch struct {
	ID             string
	DisplayName    string
	DisplayNameAlt string
	City           string
	IconRef        string
	ColorRef       string
	OriginURL      string
}

// SelectedBranchRecord is the persisted snapshot of the current branch.
// OriginURL may lag behind the registry; see branch.Selection.Reconcile.
type SelectedBranchRecord struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"displayName"`
	DisplayNameAlt string    `json:"displayNameAlt,omitempty"`
	City           string    `json:"city,omitempty"`
	OriginURL      string    `json:"originUrl"`
	SelectedAt     time.Time `json:"selectedAtIso"`
}

type Role struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	DisplayName string  `json:"displayName"`
	Priority    int     `json:"priority"`
	Color       *string `json:"color,omitempty"`
	Icon        *string `json:"icon,omitempty"`
}

type UserProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Roles       []Role `json:"roles"`
	PrimaryRole Role   `json:"primaryRole"`
}

type Session struct {
	Token     string
	User      UserProfile
	ExpiresAt time.Time
}

func (s Session) ExpiresAtMillis() int64 {
	return s.ExpiresAt.UnixMilli()
}

// Account is a dev backend login identity.
type Account struct {
	Email        string
	PasswordHash []byte
	Profile      UserProfile
	CreatedAt    int64
}
