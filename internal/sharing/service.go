package sharing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/crosspost/internal/audit"
	"github.com/MarcoPoloResearchLab/crosspost/internal/collectives"
	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	opServiceNew          = "sharing.service.new"
	opValidatePermissions = "sharing.validate_permissions"
	opCreateAssociations  = "sharing.create_associations"
	opUpdateAssociations  = "sharing.update_associations"
	opGetAssociations     = "sharing.get_associations"
	opRemoveFromGroups    = "sharing.remove_from_groups"

	reasonMissingStore       = "missing_store"
	reasonMissingPermissions = "missing_permissions"
	reasonInvalidPostID      = "invalid_post_id"
	reasonPermissionLookup   = "permission_lookup_failed"
	reasonPostLookup         = "post_lookup_failed"
	reasonQueryFailed        = "query_failed"
	reasonIntentFailed       = "intent_record_failed"
	reasonIDGeneration       = "id_generation_failed"
	reasonReconcileFailed    = "reconcile_failed"
	reasonCanceled           = "canceled"

	auditValidatePermissions = "validate_permissions"
	auditCreateAssociations  = "create_associations"
	auditUpdateAssociations  = "update_associations"
	auditGetAssociations     = "get_associations"
	auditRemoveFromGroups    = "remove_from_groups"
	auditReconcile           = "reconcile_associations"
)

// State is a step of the association state machine.
type State string

const (
	StateIdle            State = "idle"
	StateValidating      State = "validating"
	StateRejected        State = "rejected"
	StateDiffing         State = "diffing"
	StateWriting         State = "writing"
	StateCommitted       State = "committed"
	StatePartiallyFailed State = "partially_failed"
)

// Result is returned by CreateAssociations and UpdateAssociations. When Success is false the
// Errors list names every collective that was not brought to its desired state; collectives
// not listed were written. Associations is the set read back after the write.
type Result struct {
	Success      bool
	State        State
	PostID       string
	Associations []Association
	Delta        Delta
	Errors       []GroupError
	Warnings     []string
}

// RemoveResult is returned by RemoveFromGroups.
type RemoveResult struct {
	Success bool
	Removed []string
	Errors  []GroupError
}

// PermissionValidator is the permission oracle as seen by the service.
type PermissionValidator interface {
	Validate(ctx context.Context, actorID string, groupIDs []string) (collectives.ValidationResult, error)
}

// ServiceConfig describes the dependencies of the association service.
type ServiceConfig struct {
	Store       Store
	Permissions PermissionValidator
	Recorder    *audit.Recorder
	Executor    *retry.Executor
	Clock       func() time.Time
	IDProvider  IDProvider
	Logger      *zap.Logger
}

// Service keeps a post's collective associations in line with a desired set.
type Service struct {
	store       Store
	permissions PermissionValidator
	recorder    *audit.Recorder
	executor    *retry.Executor
	writer      *Writer
	clock       func() time.Time
	idProvider  IDProvider
	logger      *zap.Logger
	locks       *postLocks
	flights     singleflight.Group
}

// NewService constructs the association service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingStore, errMissingStore)
	}
	if cfg.Permissions == nil {
		return nil, newServiceError(opServiceNew, reasonMissingPermissions, errMissingPermissions)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = audit.NewRecorder(audit.RecorderConfig{Clock: clock, Logger: logger})
	}
	executor := cfg.Executor
	if executor == nil {
		executor = retry.NewExecutor(retry.ExecutorConfig{Policy: retry.DefaultPolicy(), Logger: logger})
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}

	return &Service{
		store:       cfg.Store,
		permissions: cfg.Permissions,
		recorder:    recorder,
		executor:    executor,
		writer:      newWriter(cfg.Store, executor, clock, logger),
		clock:       clock,
		idProvider:  idProvider,
		logger:      logger,
		locks:       newPostLocks(),
	}, nil
}

// ValidatePermissions reports whether actorID may post into every collective in groupIDs.
// Only store failures produce an error; permission and input failures are in the result.
func (s *Service) ValidatePermissions(ctx context.Context, actorID string, groupIDs []string) (collectives.ValidationResult, error) {
	return audit.Track(s.recorder, auditValidatePermissions, actorID, func() (collectives.ValidationResult, error) {
		return s.validate(ctx, actorID, groupIDs)
	})
}

// CreateAssociations shares a post into groupIDs. Every desired collective is validated and
// existing associations outside groupIDs are kept.
func (s *Service) CreateAssociations(ctx context.Context, postID, actorID string, groupIDs []string, settings Settings) (Result, error) {
	return s.mutate(ctx, mutation{mode: modeCreate, postID: postID, actorID: actorID, groupIDs: groupIDs, settings: settings})
}

// UpdateAssociations brings a post's collectives to exactly desiredGroupIDs. Only collectives
// being added are validated; an empty desired set removes the post from every collective.
func (s *Service) UpdateAssociations(ctx context.Context, postID, actorID string, desiredGroupIDs []string, settings Settings) (Result, error) {
	return s.mutate(ctx, mutation{mode: modeUpdate, postID: postID, actorID: actorID, groupIDs: desiredGroupIDs, settings: settings})
}

// GetAssociations returns the post's associations ordered by display order. Pending intents
// left behind by an interrupted write are replayed first.
func (s *Service) GetAssociations(ctx context.Context, postID string) ([]Association, error) {
	return audit.Track(s.recorder, auditGetAssociations, "", func() ([]Association, error) {
		if err := validateIdentifier("post id", postID); err != nil {
			return nil, newServiceError(opGetAssociations, reasonInvalidPostID, err)
		}
		if err := s.reconcilePost(ctx, postID); err != nil {
			s.logger.Warn("intent reconciliation failed", zap.String(fieldPostID, postID), zap.Error(err))
		}
		rows, err := s.listAssociations(ctx, "", postID)
		if err != nil {
			s.logError(opGetAssociations, reasonQueryFailed, err, zap.String(fieldPostID, postID))
			return nil, newServiceError(opGetAssociations, reasonQueryFailed, err)
		}
		return rows, nil
	})
}

// RemoveFromGroups detaches a post from groupIDs without touching its other associations.
// Actors other than the post's author must be able to post into every collective in groupIDs.
func (s *Service) RemoveFromGroups(ctx context.Context, postID, actorID string, groupIDs []string) (RemoveResult, error) {
	return audit.TrackOutcome(s.recorder, auditRemoveFromGroups, actorID, func() (RemoveResult, error) {
		requested, _ := collectives.NormalizeGroupIDs(groupIDs)
		record := audit.Record{Operation: auditRemoveFromGroups, PostID: postID, GroupIDs: requested, ActorID: actorID}

		reject := func(failures ...GroupError) (RemoveResult, error) {
			record.Err = retry.New(failures[0].Kind, opRemoveFromGroups, failures[0].Error)
			s.recorder.LogOperation(ctx, record)
			return RemoveResult{Errors: failures}, nil
		}
		abort := func(reason string, err error) (RemoveResult, error) {
			record.Err = err
			s.recorder.LogOperation(ctx, record)
			s.logError(opRemoveFromGroups, reason, err, zap.String(fieldPostID, postID))
			return RemoveResult{}, newServiceError(opRemoveFromGroups, reason, err)
		}
		if err := validateIdentifier("post id", postID); err != nil {
			return reject(inputError(err))
		}
		if err := validateIdentifier("actor id", actorID); err != nil {
			return reject(inputError(err))
		}
		if len(requested) == 0 {
			return reject(GroupError{Kind: retry.KindValidation, Error: "at least one collective is required"})
		}

		unlock := s.locks.lock(postID)
		defer unlock()

		post, err := s.loadPost(ctx, actorID, postID)
		if err != nil {
			if retry.Classify(err) == retry.KindValidation {
				return reject(inputError(err))
			}
			return abort(reasonPostLookup, err)
		}
		if post.Status == PostStatusRemoved {
			return reject(inputError(retry.Wrap(retry.KindValidation, opRemoveFromGroups, ErrPostRemoved)))
		}
		if post.AuthorID != actorID {
			validation, err := s.validate(ctx, actorID, requested)
			if err != nil {
				return abort(reasonPermissionLookup, err)
			}
			if !validation.Valid {
				return reject(permissionErrors(validation.Errors)...)
			}
		}
		if err := s.reconcile(ctx, actorID, post); err != nil {
			return abort(reasonReconcileFailed, err)
		}

		intent, err := s.beginIntent(ctx, postID, actorID, nil, requested)
		if err != nil {
			return abort(reasonIntentFailed, err)
		}
		write := s.writer.Apply(ctx, WriteRequest{PostID: postID, ActorID: actorID, Removals: requested})
		s.finishIntent(ctx, intent, write)

		result := RemoveResult{Success: len(write.Errors) == 0, Removed: write.Removed, Errors: write.Errors}
		record.Success = result.Success
		if !result.Success {
			record.Err = retry.New(write.Errors[0].Kind, opRemoveFromGroups, write.Errors[0].Error)
		}
		s.recorder.LogOperation(ctx, record)
		return result, nil
	}, func(result RemoveResult) bool { return result.Success })
}

// Health summarizes the recorder's metrics.
func (s *Service) Health() audit.HealthReport {
	return s.recorder.Health()
}

type mutationMode string

const (
	modeCreate mutationMode = "create"
	modeUpdate mutationMode = "update"
)

type mutation struct {
	mode     mutationMode
	postID   string
	actorID  string
	groupIDs []string
	settings Settings
}

func (m mutation) operation() string {
	if m.mode == modeCreate {
		return opCreateAssociations
	}
	return opUpdateAssociations
}

func (m mutation) auditName() string {
	if m.mode == modeCreate {
		return auditCreateAssociations
	}
	return auditUpdateAssociations
}

type flightKey struct {
	Mode     mutationMode `json:"mode"`
	PostID   string       `json:"post_id"`
	ActorID  string       `json:"actor_id"`
	GroupIDs []string     `json:"group_ids"`
	Settings Settings     `json:"settings"`
}

// key identifies identical requests; ok is false when the request cannot be encoded.
func (m mutation) key() (string, bool) {
	groupIDs, _ := collectives.NormalizeGroupIDs(m.groupIDs)
	sort.Strings(groupIDs)
	encoded, err := json.Marshal(flightKey{
		Mode:     m.mode,
		PostID:   m.postID,
		ActorID:  m.actorID,
		GroupIDs: groupIDs,
		Settings: m.settings,
	})
	if err != nil {
		return "", false
	}
	return string(encoded), true
}

// mutate serializes mutations per post and coalesces identical concurrent requests. A shared
// flight runs detached from any one caller's cancellation; each caller stops waiting when its
// own ctx is done.
func (s *Service) mutate(ctx context.Context, m mutation) (Result, error) {
	return audit.TrackOutcome(s.recorder, m.auditName(), m.actorID, func() (Result, error) {
		run := func(ctx context.Context) (Result, error) {
			unlock := s.locks.lock(m.postID)
			defer unlock()
			return s.runMutation(ctx, m)
		}
		key, ok := m.key()
		if !ok {
			return run(ctx)
		}
		flight := s.flights.DoChan(key, func() (any, error) {
			return run(context.WithoutCancel(ctx))
		})
		select {
		case outcome := <-flight:
			result, _ := outcome.Val.(Result)
			return result, outcome.Err
		case <-ctx.Done():
			return Result{}, newServiceError(m.operation(), reasonCanceled, ctx.Err())
		}
	}, func(result Result) bool { return result.Success })
}

func (s *Service) runMutation(ctx context.Context, m mutation) (Result, error) {
	result := Result{PostID: m.postID, State: StateValidating}

	if err := validateIdentifier("post id", m.postID); err != nil {
		return s.reject(ctx, m, result, []GroupError{inputError(err)}), nil
	}
	if err := validateIdentifier("actor id", m.actorID); err != nil {
		return s.reject(ctx, m, result, []GroupError{inputError(err)}), nil
	}
	desired, warnings := collectives.NormalizeGroupIDs(m.groupIDs)
	result.Warnings = warnings

	post, err := s.loadPost(ctx, m.actorID, m.postID)
	if err != nil {
		if retry.Classify(err) == retry.KindValidation {
			return s.reject(ctx, m, result, []GroupError{inputError(err)}), nil
		}
		return Result{}, s.fail(ctx, m, reasonPostLookup, err)
	}
	if post.Status == PostStatusRemoved {
		removed := retry.Wrap(retry.KindValidation, m.operation(), ErrPostRemoved)
		return s.reject(ctx, m, result, []GroupError{inputError(removed)}), nil
	}
	if err := s.reconcile(ctx, m.actorID, post); err != nil {
		return Result{}, s.fail(ctx, m, reasonReconcileFailed, err)
	}

	existing, err := s.listAssociations(ctx, m.actorID, m.postID)
	if err != nil {
		return Result{}, s.fail(ctx, m, reasonQueryFailed, err)
	}

	result.State = StateDiffing
	delta := Diff(groupIDsOf(existing), desired)
	if m.mode == modeCreate {
		delta.ToRemove = nil
	}
	result.Delta = delta

	positions := make(map[string]int, len(desired))
	for index, groupID := range desired {
		positions[groupID] = index
	}
	additions := make([]PendingAssociation, 0, len(delta.ToAdd))
	for _, groupID := range delta.ToAdd {
		pending, err := m.settings.resolve(groupID, positions[groupID])
		if err != nil {
			return s.reject(ctx, m, result, []GroupError{{GroupID: groupID, Kind: retry.KindValidation, Error: err.Error()}}), nil
		}
		additions = append(additions, pending)
	}

	// Existing associations are only re-validated on creation. Non-authors must be able to
	// post into every collective they touch.
	toValidate := delta.ToAdd
	if m.mode == modeCreate {
		toValidate = desired
	}
	if post.AuthorID != m.actorID {
		toValidate = mergeGroupIDs(toValidate, delta.ToRemove)
		if len(toValidate) == 0 {
			return s.reject(ctx, m, result, []GroupError{notAuthorError(m.postID)}), nil
		}
	}
	var groupNames map[string]string
	if m.mode == modeCreate || len(toValidate) > 0 {
		result.State = StateValidating
		validation, err := s.validate(ctx, m.actorID, toValidate)
		if err != nil {
			return Result{}, s.fail(ctx, m, reasonPermissionLookup, err)
		}
		result.Warnings = append(result.Warnings, validation.Warnings...)
		if !validation.Valid {
			return s.reject(ctx, m, result, permissionErrors(validation.Errors)), nil
		}
		groupNames = validation.GroupNames()
	}

	if delta.Empty() {
		result.State = StateCommitted
		result.Success = true
		result.Associations = existing
		s.auditOutcome(ctx, m, desired, result)
		return result, nil
	}

	result.State = StateWriting
	intent, err := s.beginIntent(ctx, m.postID, m.actorID, additions, delta.ToRemove)
	if err != nil {
		return Result{}, s.fail(ctx, m, reasonIntentFailed, err)
	}
	write := s.writer.Apply(ctx, WriteRequest{
		PostID:     m.postID,
		ActorID:    m.actorID,
		Removals:   delta.ToRemove,
		Additions:  additions,
		GroupNames: groupNames,
	})
	s.finishIntent(ctx, intent, write)

	final, err := s.listAssociations(ctx, m.actorID, m.postID)
	if err != nil {
		s.logError(m.operation(), reasonQueryFailed, err, zap.String(fieldPostID, m.postID))
		result.Warnings = append(result.Warnings, fmt.Sprintf("association set could not be reloaded: %v", err))
	} else {
		result.Associations = final
	}

	result.Errors = write.Errors
	result.Success = len(write.Errors) == 0
	if result.Success {
		result.State = StateCommitted
	} else {
		result.State = StatePartiallyFailed
	}
	s.auditOutcome(ctx, m, desired, result)
	return result, nil
}

func (s *Service) reject(ctx context.Context, m mutation, result Result, failures []GroupError) Result {
	result.State = StateRejected
	result.Success = false
	result.Errors = failures
	desired, _ := collectives.NormalizeGroupIDs(m.groupIDs)
	s.auditOutcome(ctx, m, desired, result)
	return result
}

// fail records an infrastructure failure that prevented the state machine from finishing.
func (s *Service) fail(ctx context.Context, m mutation, reason string, cause error) error {
	desired, _ := collectives.NormalizeGroupIDs(m.groupIDs)
	s.logError(m.operation(), reason, cause,
		zap.String(fieldPostID, m.postID),
		zap.String("actor_id", m.actorID))
	s.recorder.LogOperation(ctx, audit.Record{
		Operation: m.auditName(),
		PostID:    m.postID,
		GroupIDs:  desired,
		ActorID:   m.actorID,
		Success:   false,
		Err:       cause,
	})
	return newServiceError(m.operation(), reason, cause)
}

func (s *Service) auditOutcome(ctx context.Context, m mutation, desired []string, result Result) {
	record := audit.Record{
		Operation: m.auditName(),
		PostID:    m.postID,
		GroupIDs:  desired,
		ActorID:   m.actorID,
		Success:   result.Success,
		Metadata: map[string]any{
			"state":   string(result.State),
			"added":   result.Delta.ToAdd,
			"removed": result.Delta.ToRemove,
		},
	}
	if len(result.Errors) > 0 {
		first := result.Errors[0]
		record.Err = retry.New(first.Kind, m.operation(), first.Error)
	}
	s.recorder.LogOperation(ctx, record)
}

func (s *Service) validate(ctx context.Context, actorID string, groupIDs []string) (collectives.ValidationResult, error) {
	var result collectives.ValidationResult
	err := s.executor.Execute(ctx, retry.OperationValidatePermissions, actorID, func(ctx context.Context) error {
		validation, err := s.permissions.Validate(ctx, actorID, groupIDs)
		if err != nil {
			return err
		}
		result = validation
		return nil
	})
	if err != nil {
		s.logError(opValidatePermissions, reasonPermissionLookup, err, zap.String("actor_id", actorID))
		return collectives.ValidationResult{}, newServiceError(opValidatePermissions, reasonPermissionLookup, err)
	}
	return result, nil
}

func (s *Service) loadPost(ctx context.Context, actorID, postID string) (Post, error) {
	var post Post
	err := s.executor.Execute(ctx, retry.OperationLoadPost, actorID, func(ctx context.Context) error {
		loaded, err := s.store.LoadPost(ctx, postID)
		if err != nil {
			return err
		}
		post = loaded
		return nil
	})
	return post, err
}

func (s *Service) listAssociations(ctx context.Context, actorID, postID string) ([]Association, error) {
	var rows []Association
	err := s.executor.Execute(ctx, retry.OperationListAssociations, actorID, func(ctx context.Context) error {
		loaded, err := s.store.ListAssociations(ctx, postID)
		if err != nil {
			return err
		}
		rows = loaded
		return nil
	})
	return rows, err
}

func (s *Service) beginIntent(ctx context.Context, postID, actorID string, additions []PendingAssociation, removals []string) (Intent, error) {
	intentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opServiceNew, reasonIDGeneration, err, zap.String(fieldPostID, postID))
		return Intent{}, retry.Wrap(retry.KindDatabase, reasonIDGeneration, err)
	}
	now := s.clock().UTC().Unix()
	intent := Intent{
		IntentID:         intentID,
		PostID:           postID,
		ActorID:          actorID,
		Status:           IntentStatusPending,
		Additions:        additions,
		Removals:         removals,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	err = s.executor.Execute(ctx, retry.OperationRecordIntent, actorID, func(ctx context.Context) error {
		return s.store.BeginIntent(ctx, intent)
	})
	if err != nil {
		return Intent{}, err
	}
	return intent, nil
}

func (s *Service) finishIntent(ctx context.Context, intent Intent, write WriteResult) {
	status := IntentStatusCompleted
	if len(write.Errors) > 0 {
		status = IntentStatusFailed
	}
	s.markIntent(ctx, intent, status)
}

func (s *Service) markIntent(ctx context.Context, intent Intent, status IntentStatus) {
	err := s.executor.Execute(ctx, retry.OperationRecordIntent, intent.ActorID, func(ctx context.Context) error {
		return s.store.FinishIntent(ctx, intent.IntentID, status, s.clock().UTC().Unix())
	})
	if err != nil {
		s.logger.Warn("intent status update failed",
			zap.String("intent_id", intent.IntentID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// reconcilePost replays pending intents for GetAssociations.
func (s *Service) reconcilePost(ctx context.Context, postID string) error {
	pending, err := s.pendingIntents(ctx, "", postID)
	if err != nil || len(pending) == 0 {
		return err
	}

	unlock := s.locks.lock(postID)
	defer unlock()

	post, err := s.loadPost(ctx, "", postID)
	if err != nil {
		return err
	}
	return s.reconcile(ctx, "", post)
}

// reconcile replays intents left pending by an interrupted write, oldest first, so later
// reads and diffs start from a state that includes them. The caller holds the post lock,
// so none of them belongs to a mutation still running in this process. Every replayed intent
// leaves the pending state; an error means an intent could not be examined and is still pending.
func (s *Service) reconcile(ctx context.Context, actorID string, post Post) error {
	pending, err := s.pendingIntents(ctx, actorID, post.ID)
	if err != nil {
		return err
	}
	for _, intent := range pending {
		if err := s.replayIntent(ctx, post, intent); err != nil {
			return err
		}
	}
	return nil
}

// replayIntent re-applies one intent. Additions are re-validated for the intent's actor and
// dropped when the post was removed since; a replay that drops or fails anything marks the
// intent failed.
func (s *Service) replayIntent(ctx context.Context, post Post, intent Intent) error {
	additions := []PendingAssociation(intent.Additions)
	var failures []GroupError
	var groupNames map[string]string

	if post.Status == PostStatusRemoved && len(additions) > 0 {
		failures = append(failures, inputError(retry.Wrap(retry.KindValidation, auditReconcile, ErrPostRemoved)))
		additions = nil
	}
	if len(additions) > 0 {
		groupIDs := make([]string, 0, len(additions))
		for _, pending := range additions {
			groupIDs = append(groupIDs, pending.GroupID)
		}
		validation, err := s.validate(ctx, intent.ActorID, groupIDs)
		if err != nil {
			return err
		}
		if !validation.Valid {
			failures = append(failures, permissionErrors(validation.Errors)...)
			additions = permittedAdditions(additions, validation.Errors)
		}
		groupNames = validation.GroupNames()
	}

	write := s.writer.Apply(ctx, WriteRequest{
		PostID:     intent.PostID,
		ActorID:    intent.ActorID,
		Removals:   []string(intent.Removals),
		Additions:  additions,
		GroupNames: groupNames,
	})
	failures = append(failures, write.Errors...)

	status := IntentStatusReconciled
	record := audit.Record{
		Operation: auditReconcile,
		PostID:    intent.PostID,
		GroupIDs:  intentGroupIDs(intent),
		ActorID:   intent.ActorID,
		Success:   len(failures) == 0,
		Metadata:  map[string]any{"intent_id": intent.IntentID},
	}
	if len(failures) > 0 {
		status = IntentStatusFailed
		record.Err = retry.New(failures[0].Kind, auditReconcile, failures[0].Error)
	}
	s.markIntent(ctx, intent, status)
	s.recorder.LogOperation(ctx, record)
	return nil
}

func (s *Service) pendingIntents(ctx context.Context, actorID, postID string) ([]Intent, error) {
	var pending []Intent
	err := s.executor.Execute(ctx, retry.OperationReconcileIntent, actorID, func(ctx context.Context) error {
		loaded, err := s.store.PendingIntents(ctx, postID)
		if err != nil {
			return err
		}
		pending = loaded
		return nil
	})
	return pending, err
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("sharing service error", attrs...)
}

func groupIDsOf(rows []Association) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.GroupID)
	}
	return out
}

func intentGroupIDs(intent Intent) []string {
	out := make([]string, 0, len(intent.Additions)+len(intent.Removals))
	for _, pending := range intent.Additions {
		out = append(out, pending.GroupID)
	}
	return append(out, intent.Removals...)
}

// permittedAdditions drops additions named by a permission failure. A failure without a
// collective id denies them all.
func permittedAdditions(additions []PendingAssociation, failures []collectives.PermissionError) []PendingAssociation {
	denied := make(map[string]struct{}, len(failures))
	for _, failure := range failures {
		if failure.GroupID == "" {
			return nil
		}
		denied[failure.GroupID] = struct{}{}
	}
	out := make([]PendingAssociation, 0, len(additions))
	for _, pending := range additions {
		if _, ok := denied[pending.GroupID]; !ok {
			out = append(out, pending)
		}
	}
	return out
}

// mergeGroupIDs returns first followed by the ids of second not already present.
func mergeGroupIDs(first, second []string) []string {
	seen := make(map[string]struct{}, len(first)+len(second))
	out := make([]string, 0, len(first)+len(second))
	for _, groupID := range append(append([]string(nil), first...), second...) {
		if _, ok := seen[groupID]; ok {
			continue
		}
		seen[groupID] = struct{}{}
		out = append(out, groupID)
	}
	return out
}

func notAuthorError(postID string) GroupError {
	return GroupError{Kind: retry.KindPermission, Error: fmt.Sprintf("actor is not the author of post %s", postID)}
}

func permissionErrors(failures []collectives.PermissionError) []GroupError {
	out := make([]GroupError, 0, len(failures))
	for _, failure := range failures {
		out = append(out, GroupError{
			GroupID:   failure.GroupID,
			GroupName: failure.GroupName,
			Kind:      failure.Type,
			Error:     failure.Message,
		})
	}
	return out
}

func inputError(err error) GroupError {
	var tagged *retry.Error
	if errors.As(err, &tagged) {
		return GroupError{Kind: tagged.Kind, Error: tagged.Message}
	}
	return GroupError{Kind: retry.Classify(err), Error: err.Error()}
}
