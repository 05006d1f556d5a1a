package sharing

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// WriteRequest is a delta to apply for one post.
type WriteRequest struct {
	PostID     string
	ActorID    string
	Removals   []string
	Additions  []PendingAssociation
	GroupNames map[string]string
}

// WriteResult reports which collectives were written and which failed.
type WriteResult struct {
	Removed  []string
	Added    []string
	Inserted int64
	Errors   []GroupError
}

// Writer applies removals and additions as two independent batches. The pair is not atomic:
// a failure of one batch does not undo the other.
type Writer struct {
	store    Store
	executor *retry.Executor
	clock    func() time.Time
	logger   *zap.Logger
}

func newWriter(store Store, executor *retry.Executor, clock func() time.Time, logger *zap.Logger) *Writer {
	return &Writer{store: store, executor: executor, clock: clock, logger: logger}
}

// Apply removes then inserts. Each batch runs under the retry executor and failures are
// reported per collective.
func (w *Writer) Apply(ctx context.Context, request WriteRequest) WriteResult {
	result := WriteResult{}

	if len(request.Removals) > 0 {
		err := w.executor.Execute(ctx, retry.OperationDeleteAssociations, request.ActorID, func(ctx context.Context) error {
			_, err := w.store.DeleteAssociations(ctx, request.PostID, request.Removals)
			return err
		})
		if err != nil {
			w.logger.Error("association removal failed",
				zap.String(fieldPostID, request.PostID),
				zap.Strings("group_ids", request.Removals),
				zap.Error(err))
			result.Errors = append(result.Errors, groupErrors(request.Removals, request.GroupNames, err)...)
		} else {
			result.Removed = append(result.Removed, request.Removals...)
		}
	}

	if len(request.Additions) > 0 {
		createdAt := w.clock().UTC().Unix()
		rows := make([]Association, 0, len(request.Additions))
		groupIDs := make([]string, 0, len(request.Additions))
		for _, pending := range request.Additions {
			rows = append(rows, associationFromPending(request.PostID, request.ActorID, pending, createdAt))
			groupIDs = append(groupIDs, pending.GroupID)
		}
		var inserted int64
		err := w.executor.Execute(ctx, retry.OperationInsertAssociations, request.ActorID, func(ctx context.Context) error {
			count, err := w.store.InsertAssociations(ctx, rows)
			inserted = count
			return err
		})
		if err != nil {
			w.logger.Error("association insert failed",
				zap.String(fieldPostID, request.PostID),
				zap.Strings("group_ids", groupIDs),
				zap.Error(err))
			result.Errors = append(result.Errors, groupErrors(groupIDs, request.GroupNames, err)...)
		} else {
			result.Added = groupIDs
			result.Inserted = inserted
		}
	}

	return result
}

func associationFromPending(postID, actorID string, pending PendingAssociation, createdAtSeconds int64) Association {
	row := Association{
		PostID:           postID,
		GroupID:          pending.GroupID,
		SharedBy:         actorID,
		Status:           pending.Status,
		DisplayOrder:     pending.DisplayOrder,
		CreatedAtSeconds: createdAtSeconds,
	}
	if row.Status == "" {
		row.Status = AssociationStatusPublished
	}
	if len(pending.Metadata) > 0 {
		row.Metadata = datatypes.JSON(pending.Metadata)
	}
	return row
}

func groupErrors(groupIDs []string, names map[string]string, err error) []GroupError {
	kind := retry.Classify(err)
	message := err.Error()
	var tagged *retry.Error
	if errors.As(err, &tagged) && tagged.Message != "" {
		message = tagged.Message
	}
	out := make([]GroupError, 0, len(groupIDs))
	for _, groupID := range groupIDs {
		out = append(out, GroupError{
			GroupID:   groupID,
			GroupName: names[groupID],
			Kind:      kind,
			Error:     message,
		})
	}
	return out
}
