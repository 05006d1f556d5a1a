package collectives

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("collectives: database handle is required")

// Directory writes collectives and memberships.
type Directory struct {
	db *gorm.DB
}

// NewDirectory constructs a Directory over db.
func NewDirectory(db *gorm.DB) (*Directory, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Directory{db: db}, nil
}

// CreateCollective inserts a collective. The owner becomes a member with the owner role.
func (d *Directory) CreateCollective(ctx context.Context, collective Collective) error {
	if err := validateIdentifier(collective.ID); err != nil {
		return err
	}
	if err := validateIdentifier(collective.OwnerID); err != nil {
		return err
	}
	if strings.TrimSpace(collective.Slug) == "" {
		return fmt.Errorf("%w: empty slug", ErrInvalidIdentifier)
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&collective).Error; err != nil {
			return err
		}
		return upsertMembership(tx, Membership{
			GroupID:    collective.ID,
			MemberID:   collective.OwnerID,
			MemberType: "user",
			Role:       string(RoleOwner),
		})
	})
}

// SetRole grants role to member, replacing any role the member already held in the collective.
func (d *Directory) SetRole(ctx context.Context, groupID, memberID string, role Role) error {
	if err := validateIdentifier(groupID); err != nil {
		return err
	}
	if err := validateIdentifier(memberID); err != nil {
		return err
	}
	if role.Rank() == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return upsertMembership(d.db.WithContext(ctx), Membership{
		GroupID:    groupID,
		MemberID:   memberID,
		MemberType: "user",
		Role:       string(role),
	})
}

// RemoveMember deletes the membership row for (groupID, memberID).
func (d *Directory) RemoveMember(ctx context.Context, groupID, memberID string) error {
	return d.db.WithContext(ctx).
		Where("group_id = ? AND member_id = ?", groupID, memberID).
		Delete(&Membership{}).Error
}

func upsertMembership(db *gorm.DB, membership Membership) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}, {Name: "member_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "member_type", "updated_at"}),
	}).Create(&membership).Error
}

func validateIdentifier(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidIdentifier, maxIdentifierLength)
	}
	return nil
}
