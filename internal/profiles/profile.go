package profiles

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
)

// FallbackName is shown when neither a display name nor an email is known.
const FallbackName = "User"

// Profile is the public identity of a user.
type Profile struct {
	UserID      string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity is what the auth provider tells us about a user at login.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
}

// ProfileRecord is the row backing a profile.
type ProfileRecord struct {
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName     string `gorm:"column:display_name;size:320;not null"`
	Email           string `gorm:"column:email;size:320;index"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName exposes the table backing user profiles.
func (ProfileRecord) TableName() string {
	return "user_profiles"
}

func (r ProfileRecord) toProfile() (Profile, error) {
	if strings.TrimSpace(r.UserID) == "" {
		return Profile{}, apperr.Malformed("profiles.record.missing_user_id", "profile row without user id")
	}
	name := strings.TrimSpace(r.DisplayName)
	if name == "" {
		name = ResolveDisplayName("", r.Email)
	}
	return Profile{
		UserID:      r.UserID,
		DisplayName: name,
		Email:       r.Email,
		CreatedAt:   time.UnixMilli(r.CreatedAtMillis).UTC(),
		UpdatedAt:   time.UnixMilli(r.UpdatedAtMillis).UTC(),
	}, nil
}

// ResolveDisplayName picks the display name, then the email local part, then FallbackName.
func ResolveDisplayName(displayName, email string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	email = strings.TrimSpace(email)
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	if email != "" && !strings.Contains(email, "@") {
		return email
	}
	return FallbackName
}

// NormalizeEmail lower-cases and trims an address so exact matching ignores case.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
