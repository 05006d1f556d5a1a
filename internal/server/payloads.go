package server

import (
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/crosspost/internal/audit"
	"github.com/MarcoPoloResearchLab/crosspost/internal/collectives"
	"github.com/MarcoPoloResearchLab/crosspost/internal/sharing"
)

type permissionsRequestPayload struct {
	GroupIDs []string `json:"group_ids"`
}

type associationsRequestPayload struct {
	GroupIDs []string        `json:"group_ids"`
	Settings settingsPayload `json:"settings"`
}

type groupSettingsPayload struct {
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	DisplayOrder *int           `json:"display_order"`
}

type settingsPayload struct {
	Default  groupSettingsPayload            `json:"default"`
	PerGroup map[string]groupSettingsPayload `json:"per_group"`
}

func (p groupSettingsPayload) toGroupSettings() sharing.GroupSettings {
	return sharing.GroupSettings{
		Status:       sharing.AssociationStatus(p.Status),
		Metadata:     p.Metadata,
		DisplayOrder: p.DisplayOrder,
	}
}

func (p settingsPayload) toSettings() sharing.Settings {
	settings := sharing.Settings{Default: p.Default.toGroupSettings()}
	if len(p.PerGroup) > 0 {
		settings.PerGroup = make(map[string]sharing.GroupSettings, len(p.PerGroup))
		for groupID, override := range p.PerGroup {
			settings.PerGroup[groupID] = override.toGroupSettings()
		}
	}
	return settings
}

type permissionErrorPayload struct {
	Type      string `json:"type"`
	GroupID   string `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
	Message   string `json:"message"`
}

type validationPayload struct {
	Valid    bool                     `json:"valid"`
	Errors   []permissionErrorPayload `json:"errors"`
	Warnings []string                 `json:"warnings,omitempty"`
}

func newValidationPayload(result collectives.ValidationResult) validationPayload {
	payload := validationPayload{
		Valid:    result.Valid,
		Errors:   make([]permissionErrorPayload, 0, len(result.Errors)),
		Warnings: result.Warnings,
	}
	for _, failure := range result.Errors {
		payload.Errors = append(payload.Errors, permissionErrorPayload{
			Type:      string(failure.Type),
			GroupID:   failure.GroupID,
			GroupName: failure.GroupName,
			Message:   failure.Message,
		})
	}
	return payload
}

type associationPayload struct {
	PostID           string          `json:"post_id"`
	GroupID          string          `json:"group_id"`
	SharedBy         string          `json:"shared_by"`
	Status           string          `json:"status"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	DisplayOrder     int             `json:"display_order"`
	CreatedAtSeconds int64           `json:"created_at_s"`
}

func newAssociationPayloads(rows []sharing.Association) []associationPayload {
	out := make([]associationPayload, 0, len(rows))
	for _, row := range rows {
		payload := associationPayload{
			PostID:           row.PostID,
			GroupID:          row.GroupID,
			SharedBy:         row.SharedBy,
			Status:           string(row.Status),
			DisplayOrder:     row.DisplayOrder,
			CreatedAtSeconds: row.CreatedAtSeconds,
		}
		if len(row.Metadata) > 0 {
			payload.Metadata = json.RawMessage(row.Metadata)
		}
		out = append(out, payload)
	}
	return out
}

type groupErrorPayload struct {
	GroupID   string `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
	Type      string `json:"type"`
	Error     string `json:"error"`
}

func newGroupErrorPayloads(failures []sharing.GroupError) []groupErrorPayload {
	out := make([]groupErrorPayload, 0, len(failures))
	for _, failure := range failures {
		out = append(out, groupErrorPayload{
			GroupID:   failure.GroupID,
			GroupName: failure.GroupName,
			Type:      string(failure.Kind),
			Error:     failure.Error,
		})
	}
	return out
}

type resultPayload struct {
	Success      bool                 `json:"success"`
	State        string               `json:"state"`
	PostID       string               `json:"post_id"`
	Associations []associationPayload `json:"associations"`
	ToAdd        []string             `json:"to_add"`
	ToRemove     []string             `json:"to_remove"`
	Errors       []groupErrorPayload  `json:"errors"`
	Warnings     []string             `json:"warnings,omitempty"`
}

func newResultPayload(result sharing.Result) resultPayload {
	return resultPayload{
		Success:      result.Success,
		State:        string(result.State),
		PostID:       result.PostID,
		Associations: newAssociationPayloads(result.Associations),
		ToAdd:        nonNil(result.Delta.ToAdd),
		ToRemove:     nonNil(result.Delta.ToRemove),
		Errors:       newGroupErrorPayloads(result.Errors),
		Warnings:     result.Warnings,
	}
}

type listPayload struct {
	PostID       string               `json:"post_id"`
	Associations []associationPayload `json:"associations"`
}

type removePayload struct {
	Success bool                `json:"success"`
	Removed []string            `json:"removed"`
	Errors  []groupErrorPayload `json:"errors"`
}

type healthErrorPayload struct {
	Operation string    `json:"operation"`
	PostID    string    `json:"post_id,omitempty"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type metricsPayload struct {
	TotalOperations      int            `json:"total_operations"`
	SuccessfulOperations int            `json:"successful_operations"`
	FailedOperations     int            `json:"failed_operations"`
	SuccessRate          float64        `json:"success_rate"`
	AverageDurationMs    int64          `json:"average_duration_ms"`
	SlowOperations       int            `json:"slow_operations"`
	TotalEntries         int            `json:"total_entries"`
	ErrorEntries         int            `json:"error_entries"`
	ErrorsByKind         map[string]int `json:"errors_by_kind"`
}

type healthPayload struct {
	Status  string               `json:"status"`
	Metrics metricsPayload       `json:"metrics"`
	Issues  []string             `json:"issues"`
	Errors  []healthErrorPayload `json:"recent_errors"`
}

func newHealthPayload(report audit.HealthReport) healthPayload {
	byKind := make(map[string]int, len(report.Metrics.ErrorsByKind))
	for kind, count := range report.Metrics.ErrorsByKind {
		byKind[string(kind)] = count
	}
	payload := healthPayload{
		Status: string(report.Status),
		Metrics: metricsPayload{
			TotalOperations:      report.Metrics.TotalOperations,
			SuccessfulOperations: report.Metrics.SuccessfulOperations,
			FailedOperations:     report.Metrics.FailedOperations,
			SuccessRate:          report.Metrics.SuccessRate,
			AverageDurationMs:    report.Metrics.AverageDuration.Milliseconds(),
			SlowOperations:       report.Metrics.SlowOperations,
			TotalEntries:         report.Metrics.TotalEntries,
			ErrorEntries:         report.Metrics.ErrorEntries,
			ErrorsByKind:         byKind,
		},
		Issues: nonNil(report.Issues),
		Errors: make([]healthErrorPayload, 0, len(report.Errors)),
	}
	for _, entry := range report.Errors {
		payload.Errors = append(payload.Errors, healthErrorPayload{
			Operation: entry.Operation,
			PostID:    entry.PostID,
			Kind:      string(entry.ErrorKind),
			Error:     entry.Error,
			Timestamp: entry.Timestamp,
		})
	}
	return payload
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
