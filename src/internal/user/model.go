package user

import (
	"time"
)

// User is the durable identity record. Presence fields are written only on
// online/offline transitions.
type User struct {
	ID             string     `json:"id" bson:"_id" gorm:"primaryKey;type:varchar(64)"`
	CognitoSub     string     `json:"cognitoSub" bson:"cognito_sub" gorm:"uniqueIndex;type:varchar(128);not null"`
	FirstName      string     `json:"firstName" bson:"first_name"`
	LastName       string     `json:"lastName" bson:"last_name"`
	Email          string     `json:"email" bson:"email"`
	IsOnline       bool       `json:"isOnline" bson:"is_online"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty" bson:"last_activity_at,omitempty"`
	LastSeenAt     *time.Time `json:"lastSeenAt,omitempty" bson:"last_seen_at,omitempty"`
	CreatedAt      time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" bson:"updated_at"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty" bson:"deleted_at,omitempty" gorm:"index"`
}

func (User) TableName() string { return "users" }

// Membership links a user to a tenant (dealership).
type Membership struct {
	TenantID  string    `json:"tenantId" bson:"tenant_id" gorm:"primaryKey;type:varchar(64)"`
	UserID    string    `json:"userId" bson:"user_id" gorm:"primaryKey;type:varchar(64)"`
	Role      string    `json:"role" bson:"role"`
	IsActive  bool      `json:"isActive" bson:"is_active" gorm:"index"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

func (Membership) TableName() string { return "tenant_memberships" }

// Role constants
const (
	RoleOwner       = "owner"
	RoleManager     = "manager"
	RoleSalesperson = "salesperson"
)

// IsActive checks if user is not soft-deleted
func (u *User) IsActive() bool {
	return u.DeletedAt == nil
}
