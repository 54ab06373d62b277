package models

import "time"

const (
	CredentialTable = "gear_credentials"
	InviteTable     = "gear_invites"
)

// Credential is one registered passkey. CredentialID and PublicKey are raw
// bytes as the authenticator produced them.
type Credential struct {
	ID              uint     `gorm:"primaryKey" json:"id"`
	UserID          string   `gorm:"size:64;index;not null" json:"userId"`
	CredentialID    []byte   `gorm:"uniqueIndex;not null" json:"credentialId"`
	PublicKey       []byte   `gorm:"not null" json:"-"`
	AttestationType string   `gorm:"size:64" json:"attestationType"`
	AAGUID          []byte   `gorm:"type:bytea" json:"aaguid"`
	SignCount       uint32   `json:"signCount"`
	CloneWarning    bool     `json:"cloneWarning"`
	BackupEligible  bool     `json:"backupEligible"`
	BackupState     bool     `json:"backupState"`
	Transports      []string `gorm:"type:jsonb;serializer:json" json:"transports"`

	LastUsedAt *time.Time `gorm:"index" json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (Credential) TableName() string { return CredentialTable }

// Invite lets an admin-created user register their first passkey. The token
// is single use.
type Invite struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    string     `gorm:"size:64;index;not null" json:"userId"`
	Token     string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"index;not null" json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedBy string     `gorm:"size:64" json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (Invite) TableName() string { return InviteTable }

func (i Invite) Usable(now time.Time) bool {
	return i.UsedAt == nil && now.Before(i.ExpiresAt)
}
