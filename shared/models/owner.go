package models

import (
	"time"

	"github.com/google/uuid"
)

// OwnerSettings - настройки аккаунта владельца (родителя).
type OwnerSettings struct {
	OwnerID         uuid.UUID    `json:"ownerId" db:"owner_id"`
	Email           *string      `json:"email,omitempty" db:"email"`
	ApprovalMode    ApprovalMode `json:"approvalMode" db:"approval_mode"`
	Tier            string       `json:"tier" db:"tier"`
	ChildName       *string      `json:"childName,omitempty" db:"child_name"`
	ChildAppearance *string      `json:"childAppearance,omitempty" db:"child_appearance"`
	UpdatedAt       time.Time    `json:"updatedAt" db:"updated_at"`
}

// DefaultOwnerSettings используется, пока владелец ничего не настроил.
func DefaultOwnerSettings(ownerID uuid.UUID) *OwnerSettings {
	return &OwnerSettings{
		OwnerID:      ownerID,
		ApprovalMode: ApprovalModeAuto,
		Tier:         "free",
	}
}

// DeviceTokenInfo содержит информацию о токене устройства.
type DeviceTokenInfo struct {
	Token    string `json:"token" db:"token"`       // Сам токен (FCM, APNS)
	Platform string `json:"platform" db:"platform"` // Платформа ('android', 'ios')
}

const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)
