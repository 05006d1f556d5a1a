package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/crosspost/internal/sharing"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	migrationNormalizeMemberRoles    = "2026-10-11_normalize_member_roles"
	migrationBackfillLegacyPrimaries = "2026-10-18_backfill_legacy_primary_groups"

	backfillBatchSize = 200
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeMemberRoles, apply: normalizeMemberRoles},
		{name: migrationBackfillLegacyPrimaries, apply: backfillLegacyPrimaryGroups},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeMemberRoles lower-cases roles written by importers that did not go through ParseRole.
func normalizeMemberRoles(db *gorm.DB) error {
	return db.Exec("UPDATE collective_members SET role = lower(trim(role)) WHERE role <> lower(trim(role))").Error
}

type legacyPrimaryRow struct {
	PostID           string `gorm:"column:id"`
	AuthorID         string `gorm:"column:author_id"`
	PrimaryGroupID   string `gorm:"column:primary_group_id"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s"`
}

// backfillLegacyPrimaryGroups copies every post's primary_group_id into post_collectives.
// Rows that already exist are kept, so the join table wins whenever both disagree.
// Collectives that no longer exist are skipped.
func backfillLegacyPrimaryGroups(db *gorm.DB) error {
	var rows []legacyPrimaryRow
	err := db.Table("posts AS p").
		Select("p.id, p.author_id, p.primary_group_id, p.created_at_s").
		Joins("JOIN collectives AS c ON c.id = p.primary_group_id").
		Where("p.primary_group_id IS NOT NULL AND p.primary_group_id <> '' AND p.status <> ?", sharing.PostStatusRemoved).
		Order("p.id").
		Scan(&rows).Error
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	associations := make([]sharing.Association, 0, len(rows))
	for _, row := range rows {
		associations = append(associations, sharing.Association{
			PostID:           row.PostID,
			GroupID:          row.PrimaryGroupID,
			SharedBy:         row.AuthorID,
			Status:           sharing.AssociationStatusPublished,
			CreatedAtSeconds: row.CreatedAtSeconds,
		})
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}, {Name: "group_id"}},
		DoNothing: true,
	}).CreateInBatches(&associations, backfillBatchSize).Error
}
