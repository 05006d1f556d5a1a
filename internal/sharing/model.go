package sharing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	"gorm.io/datatypes"
)

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	PostStatusPublished PostStatus = "published"
	PostStatusDraft     PostStatus = "draft"
	// PostStatusRemoved is terminal; removed posts are excluded from every mutation.
	PostStatusRemoved PostStatus = "removed"
)

// AssociationStatus is the visibility of a post inside one collective.
type AssociationStatus string

const (
	AssociationStatusPublished AssociationStatus = "published"
	AssociationStatusDraft     AssociationStatus = "draft"
)

// IntentStatus tracks a two-phase write in the compensating log.
type IntentStatus string

const (
	IntentStatusPending    IntentStatus = "pending"
	IntentStatusCompleted  IntentStatus = "completed"
	IntentStatusFailed     IntentStatus = "failed"
	IntentStatusReconciled IntentStatus = "reconciled"
)

const maxIdentifierLength = 190

var (
	// ErrPostNotFound indicates the post does not exist.
	ErrPostNotFound = errors.New("sharing: post not found")
	// ErrPostRemoved indicates the post was soft-removed.
	ErrPostRemoved = errors.New("sharing: post removed")
	// ErrInvalidAssociationStatus indicates a status outside published/draft.
	ErrInvalidAssociationStatus = errors.New("sharing: invalid association status")
)

// Post is the shareable entity. PrimaryGroupID is the legacy single-collective attachment;
// the association table is authoritative once the backfill migration has run.
type Post struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null"`
	AuthorID         string     `gorm:"column:author_id;size:190;not null;index"`
	PrimaryGroupID   *string    `gorm:"column:primary_group_id;size:190"`
	Status           PostStatus `gorm:"column:status;size:16;not null;default:'published'"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null;default:0"`
	UpdatedAtSeconds int64      `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// Association links a post to a collective it has been shared into.
type Association struct {
	PostID           string            `gorm:"column:post_id;primaryKey;size:190;not null;index:idx_post_collectives_order,priority:1"`
	GroupID          string            `gorm:"column:group_id;primaryKey;size:190;not null;index"`
	SharedBy         string            `gorm:"column:shared_by;size:190;not null"`
	Status           AssociationStatus `gorm:"column:status;size:16;not null;default:'published'"`
	Metadata         datatypes.JSON    `gorm:"column:metadata"`
	DisplayOrder     int               `gorm:"column:display_order;not null;default:0;index:idx_post_collectives_order,priority:2"`
	CreatedAtSeconds int64             `gorm:"column:created_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Association) TableName() string {
	return "post_collectives"
}

// PendingAssociation is an addition captured in an intent so it can be replayed.
type PendingAssociation struct {
	GroupID      string            `json:"group_id"`
	Status       AssociationStatus `json:"status"`
	Metadata     json.RawMessage   `json:"metadata,omitempty"`
	DisplayOrder int               `json:"display_order"`
}

// Intent is the compensating log entry written before a two-phase association write.
type Intent struct {
	IntentID         string                                  `gorm:"column:intent_id;primaryKey;size:64;not null"`
	PostID           string                                  `gorm:"column:post_id;size:190;not null;index:idx_intents_post_status,priority:1"`
	ActorID          string                                  `gorm:"column:actor_id;size:190;not null"`
	Status           IntentStatus                            `gorm:"column:status;size:16;not null;index:idx_intents_post_status,priority:2"`
	Additions        datatypes.JSONSlice[PendingAssociation] `gorm:"column:additions"`
	Removals         datatypes.JSONSlice[string]             `gorm:"column:removals"`
	CreatedAtSeconds int64                                   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64                                   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Intent) TableName() string {
	return "association_intents"
}

// GroupSettings carries the per-collective attributes applied to new associations.
type GroupSettings struct {
	Status       AssociationStatus
	Metadata     map[string]any
	DisplayOrder *int
}

// Settings configures new associations. PerGroup overrides Default field by field.
type Settings struct {
	Default  GroupSettings
	PerGroup map[string]GroupSettings
}

// resolve returns the effective settings for groupID; position is the fallback display order.
func (s Settings) resolve(groupID string, position int) (PendingAssociation, error) {
	effective := s.Default
	if override, ok := s.PerGroup[groupID]; ok {
		if override.Status != "" {
			effective.Status = override.Status
		}
		if override.Metadata != nil {
			effective.Metadata = override.Metadata
		}
		if override.DisplayOrder != nil {
			effective.DisplayOrder = override.DisplayOrder
		}
	}

	status := effective.Status
	if status == "" {
		status = AssociationStatusPublished
	}
	if status != AssociationStatusPublished && status != AssociationStatusDraft {
		return PendingAssociation{}, fmt.Errorf("%w: %q", ErrInvalidAssociationStatus, status)
	}
	pending := PendingAssociation{GroupID: groupID, Status: status, DisplayOrder: position}
	if effective.DisplayOrder != nil {
		pending.DisplayOrder = *effective.DisplayOrder
	}
	if len(effective.Metadata) > 0 {
		encoded, err := json.Marshal(effective.Metadata)
		if err != nil {
			return PendingAssociation{}, err
		}
		pending.Metadata = encoded
	}
	return pending, nil
}

// GroupError reports a collective that could not be validated or written.
type GroupError struct {
	GroupID   string
	GroupName string
	Kind      retry.Kind
	Error     string
}

func validateIdentifier(label, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return retry.New(retry.KindValidation, label, label+" is required")
	}
	if len(trimmed) > maxIdentifierLength {
		return retry.New(retry.KindValidation, label, fmt.Sprintf("%s exceeds %d characters", label, maxIdentifierLength))
	}
	return nil
}
