package sharing

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opLoadPost           = "sharing.store.load_post"
	opListAssociations   = "sharing.store.list_associations"
	opDeleteAssociations = "sharing.store.delete_associations"
	opInsertAssociations = "sharing.store.insert_associations"
	opBeginIntent        = "sharing.store.begin_intent"
	opFinishIntent       = "sharing.store.finish_intent"
	opPendingIntents     = "sharing.store.pending_intents"
	fieldPostID          = "post_id"
	fieldGroupID         = "group_id"
	queryPostID          = fieldPostID + " = ?"
	queryPostGroupIn     = fieldPostID + " = ? AND " + fieldGroupID + " IN ?"
	queryPostStatus      = fieldPostID + " = ? AND status = ?"
	orderDisplay         = "display_order ASC, group_id ASC"
	orderCreated         = "created_at_s ASC, intent_id ASC"
)

// Store is the remote association store. Every error it returns is a *retry.Error.
type Store interface {
	LoadPost(ctx context.Context, postID string) (Post, error)
	ListAssociations(ctx context.Context, postID string) ([]Association, error)
	DeleteAssociations(ctx context.Context, postID string, groupIDs []string) (int64, error)
	InsertAssociations(ctx context.Context, rows []Association) (int64, error)
	BeginIntent(ctx context.Context, intent Intent) error
	FinishIntent(ctx context.Context, intentID string, status IntentStatus, updatedAtSeconds int64) error
	PendingIntents(ctx context.Context, postID string) ([]Intent, error)
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) LoadPost(ctx context.Context, postID string) (Post, error) {
	var post Post
	err := s.db.WithContext(ctx).Where("id = ?", postID).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, retry.Wrap(retry.KindValidation, opLoadPost, ErrPostNotFound)
	}
	if err != nil {
		return Post{}, retry.FromStore(opLoadPost, err)
	}
	return post, nil
}

func (s *GormStore) ListAssociations(ctx context.Context, postID string) ([]Association, error) {
	var rows []Association
	if err := s.db.WithContext(ctx).
		Where(queryPostID, postID).
		Order(orderDisplay).
		Find(&rows).Error; err != nil {
		return nil, retry.FromStore(opListAssociations, err)
	}
	return rows, nil
}

func (s *GormStore) DeleteAssociations(ctx context.Context, postID string, groupIDs []string) (int64, error) {
	if len(groupIDs) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Where(queryPostGroupIn, postID, groupIDs).
		Delete(&Association{})
	if result.Error != nil {
		return 0, retry.FromStore(opDeleteAssociations, result.Error)
	}
	return result.RowsAffected, nil
}

// InsertAssociations inserts rows, ignoring rows whose (post_id, group_id) already exists.
// It returns the number of rows actually created.
func (s *GormStore) InsertAssociations(ctx context.Context, rows []Association) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: fieldPostID}, {Name: fieldGroupID}},
			DoNothing: true,
		}).
		Create(&rows)
	if result.Error != nil {
		return 0, retry.FromStore(opInsertAssociations, result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) BeginIntent(ctx context.Context, intent Intent) error {
	if err := s.db.WithContext(ctx).Create(&intent).Error; err != nil {
		return retry.FromStore(opBeginIntent, err)
	}
	return nil
}

func (s *GormStore) FinishIntent(ctx context.Context, intentID string, status IntentStatus, updatedAtSeconds int64) error {
	err := s.db.WithContext(ctx).
		Model(&Intent{}).
		Where("intent_id = ?", intentID).
		Updates(map[string]any{"status": status, "updated_at_s": updatedAtSeconds}).Error
	if err != nil {
		return retry.FromStore(opFinishIntent, err)
	}
	return nil
}

func (s *GormStore) PendingIntents(ctx context.Context, postID string) ([]Intent, error) {
	var intents []Intent
	if err := s.db.WithContext(ctx).
		Where(queryPostStatus, postID, IntentStatusPending).
		Order(orderCreated).
		Find(&intents).Error; err != nil {
		return nil, retry.FromStore(opPendingIntents, err)
	}
	return intents, nil
}
