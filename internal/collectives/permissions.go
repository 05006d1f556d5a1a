package collectives

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/crosspost/internal/audit"
	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opValidatePermissions = "collectives.validate_permissions"

// PermissionError describes why one collective (or the request as a whole) failed validation.
type PermissionError struct {
	Type      retry.Kind
	GroupID   string
	GroupName string
	Message   string
}

// AuthorizedGroup is a requested collective the actor may post into.
type AuthorizedGroup struct {
	GroupID   string
	GroupName string
	Role      Role
}

// ValidationResult is all-or-nothing: Valid is true only when Errors is empty.
type ValidationResult struct {
	Valid      bool
	Errors     []PermissionError
	Warnings   []string
	Authorized []AuthorizedGroup
}

// GroupNames maps every collective id seen during validation to its display name.
func (r ValidationResult) GroupNames() map[string]string {
	names := make(map[string]string, len(r.Authorized)+len(r.Errors))
	for _, group := range r.Authorized {
		if group.GroupName != "" {
			names[group.GroupID] = group.GroupName
		}
	}
	for _, failure := range r.Errors {
		if failure.GroupID != "" && failure.GroupName != "" {
			names[failure.GroupID] = failure.GroupName
		}
	}
	return names
}

// OracleConfig describes the dependencies of the permission oracle.
type OracleConfig struct {
	Database *gorm.DB
	Recorder *audit.Recorder
	Logger   *zap.Logger
}

// Oracle decides which collectives an actor may post into.
type Oracle struct {
	db       *gorm.DB
	recorder *audit.Recorder
	logger   *zap.Logger
}

// NewOracle constructs an Oracle.
func NewOracle(cfg OracleConfig) (*Oracle, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{db: cfg.Database, recorder: cfg.Recorder, logger: logger}, nil
}

type membershipRow struct {
	GroupID   string  `gorm:"column:group_id"`
	GroupName string  `gorm:"column:group_name"`
	Role      *string `gorm:"column:role"`
}

// Validate checks that actorID holds a posting-capable role in every requested collective.
// Store failures are returned as database-kind errors and never as permission failures.
func (o *Oracle) Validate(ctx context.Context, actorID string, groupIDs []string) (ValidationResult, error) {
	actorID = strings.TrimSpace(actorID)
	requested, warnings := NormalizeGroupIDs(groupIDs)
	result := ValidationResult{Warnings: warnings}

	if actorID == "" {
		result.Errors = append(result.Errors, PermissionError{Type: retry.KindValidation, Message: "actor id is required"})
	}
	if len(requested) == 0 {
		result.Errors = append(result.Errors, PermissionError{Type: retry.KindValidation, Message: "at least one collective is required"})
	}
	if len(result.Errors) > 0 {
		o.audit(ctx, actorID, requested, result)
		return result, nil
	}

	var rows []membershipRow
	err := o.db.WithContext(ctx).
		Table("collectives AS c").
		Select("c.id AS group_id, c.name AS group_name, m.role AS role").
		Joins("LEFT JOIN collective_members AS m ON m.group_id = c.id AND m.member_id = ?", actorID).
		Where("c.id IN ?", requested).
		Scan(&rows).Error
	if err != nil {
		tagged := retry.Wrap(retry.KindDatabase, opValidatePermissions, err)
		o.logger.Error("membership lookup failed",
			zap.String("operation", opValidatePermissions),
			zap.String("actor_id", actorID),
			zap.Error(err))
		o.recorder.LogOperation(ctx, audit.Record{
			Operation: string(retry.OperationValidatePermissions),
			GroupIDs:  requested,
			ActorID:   actorID,
			Success:   false,
			Err:       tagged,
		})
		return ValidationResult{}, tagged
	}

	byGroup := make(map[string]membershipRow, len(rows))
	for _, row := range rows {
		byGroup[row.GroupID] = row
	}
	for _, groupID := range requested {
		row, known := byGroup[groupID]
		var role Role
		var roleErr error
		if known && row.Role != nil {
			role, roleErr = ParseRole(*row.Role)
		}
		switch {
		case !known || row.Role == nil:
			result.Errors = append(result.Errors, PermissionError{
				Type:      retry.KindPermission,
				GroupID:   groupID,
				GroupName: row.GroupName,
				Message:   fmt.Sprintf("not a member of collective %s", displayName(groupID, row.GroupName)),
			})
		case roleErr != nil || !role.CanPost():
			result.Errors = append(result.Errors, PermissionError{
				Type:      retry.KindPermission,
				GroupID:   groupID,
				GroupName: row.GroupName,
				Message:   fmt.Sprintf("insufficient role %q in collective %s", *row.Role, displayName(groupID, row.GroupName)),
			})
		default:
			result.Authorized = append(result.Authorized, AuthorizedGroup{
				GroupID:   groupID,
				GroupName: row.GroupName,
				Role:      role,
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	o.audit(ctx, actorID, requested, result)
	return result, nil
}

func (o *Oracle) audit(ctx context.Context, actorID string, groupIDs []string, result ValidationResult) {
	record := audit.Record{
		Operation: string(retry.OperationValidatePermissions),
		GroupIDs:  groupIDs,
		ActorID:   actorID,
		Success:   result.Valid,
		Metadata:  map[string]any{"error_count": len(result.Errors)},
	}
	if len(result.Errors) > 0 {
		first := result.Errors[0]
		record.Err = retry.New(first.Type, opValidatePermissions, first.Message)
	}
	o.recorder.LogOperation(ctx, record)
}

func displayName(groupID, groupName string) string {
	if groupName == "" {
		return groupID
	}
	return fmt.Sprintf("%q", groupName)
}
