package models

import (
	"time"

	"gorm.io/gorm"
)

// Roles a user can hold. A fresh account starts as RoleUnset and may move
// exactly once to one of the terminal roles; there is no reassignment path.
const (
	RoleUnset          = "unset"
	RoleUser           = "user"
	RoleCommunityOwner = "community_owner"
)

type User struct {
	gorm.Model
	FullName      string    `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email         string    `gorm:"column:email;size:255;uniqueIndex;not null" json:"email"`
	PasswordHash  string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role          string    `gorm:"column:role;size:50;not null;default:unset" json:"role"`
	Phone         string    `gorm:"column:phone;size:20" json:"phone"`
	EmailVerified bool      `gorm:"column:email_verified;default:false" json:"email_verified"`
	OtpCode       string    `gorm:"column:otp_code;size:10" json:"-"`
	OtpExpiry     time.Time `gorm:"column:otp_expiry" json:"-"`

	Refresh               string    `gorm:"column:refresh_token;size:255" json:"-"`
	RefreshTokenExpiredAt time.Time `gorm:"column:refresh_token_expired_at" json:"-"`

	Community *Community `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"community,omitempty"`
}

// ValidRole reports whether role is one of the assignable terminal roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleCommunityOwner
}

// CanAssignRole enforces the one-way role transition: only an unset role may
// be written, and only to a terminal role.
func (u *User) CanAssignRole(role string) bool {
	if u.Role != "" && u.Role != RoleUnset {
		return false
	}
	return ValidRole(role)
}
