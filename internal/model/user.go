package model

import "time"

type Role string

const (
	RoleDoctor    Role = "doctor"
	RoleSecretary Role = "secretary"
	RolePatient   Role = "patient"
)

// IsStaff reports whether the role belongs to clinic personnel.
func (r Role) IsStaff() bool {
	return r == RoleDoctor || r == RoleSecretary
}

type User struct {
	ID         string     `json:"id"`
	FullName   string     `json:"full_name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	Role       Role       `json:"role"`
	AvatarURL  string     `json:"avatar_url"`
	LMPDate    *time.Time `json:"lmp_date,omitempty"` // last menstrual period, patients only
	IsOnline   bool       `json:"is_online"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
	DisabledAt *time.Time `json:"-"`
}

type UserPublic struct {
	ID         string     `json:"id"`
	FullName   string     `json:"full_name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	Role       Role       `json:"role"`
	AvatarURL  string     `json:"avatar_url"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		FullName:   u.FullName,
		Email:      u.Email,
		Phone:      u.Phone,
		Role:       u.Role,
		AvatarURL:  u.AvatarURL,
		IsOnline:   u.IsOnline,
		LastSeenAt: u.LastSeenAt,
		DisabledAt: u.DisabledAt,
	}
}

// GestationalWeek returns the pregnancy week derived from the LMP date
// (1-based, capped at 42). Zero if no LMP date is recorded or it is in the future.
func (u *User) GestationalWeek(now time.Time) int {
	if u.LMPDate == nil || now.Before(*u.LMPDate) {
		return 0
	}
	week := int(now.Sub(*u.LMPDate).Hours()/(24*7)) + 1
	if week > 42 {
		week = 42
	}
	return week
}
