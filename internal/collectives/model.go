package collectives

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is a member's capability level inside a collective.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleAuthor Role = "author"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRole indicates a role outside the closed set.
	ErrInvalidRole = errors.New("collectives: invalid role")
	// ErrInvalidIdentifier indicates an empty or oversized identifier.
	ErrInvalidIdentifier = errors.New("collectives: invalid identifier")
)

// ParseRole validates raw input against the closed role set.
func ParseRole(rawInput string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(rawInput)))
	if role.Rank() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, rawInput)
	}
	return role, nil
}

// Rank orders roles by capability; unknown roles rank zero.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleAuthor:
		return 1
	default:
		return 0
	}
}

// CanPost reports whether the role may share posts into its collective.
func (r Role) CanPost() bool {
	return r.Rank() > 0
}

// Collective is a named community with role-based membership.
type Collective struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Slug      string    `gorm:"column:slug;size:190;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;size:320;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Collective) TableName() string {
	return "collectives"
}

// Membership binds a member to a collective with exactly one role.
type Membership struct {
	GroupID    string    `gorm:"column:group_id;primaryKey;size:190;not null"`
	MemberID   string    `gorm:"column:member_id;primaryKey;size:190;not null;index"`
	MemberType string    `gorm:"column:member_type;size:32;not null;default:'user'"`
	Role       string    `gorm:"column:role;size:32;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "collective_members"
}

// NormalizeGroupIDs trims, drops empty values and removes duplicates while keeping
// first-seen order. Each dropped value produces a warning.
func NormalizeGroupIDs(groupIDs []string) ([]string, []string) {
	seen := make(map[string]struct{}, len(groupIDs))
	normalized := make([]string, 0, len(groupIDs))
	var warnings []string
	for _, raw := range groupIDs {
		groupID := strings.TrimSpace(raw)
		if groupID == "" {
			warnings = append(warnings, "empty collective id ignored")
			continue
		}
		if _, ok := seen[groupID]; ok {
			warnings = append(warnings, fmt.Sprintf("duplicate collective id %s ignored", groupID))
			continue
		}
		seen[groupID] = struct{}{}
		normalized = append(normalized, groupID)
	}
	return normalized, warnings
}
