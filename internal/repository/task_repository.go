// Package repository is the task document store: create, point lookup,
// cursor-paginated listing, and the one conditional-update primitive the
// lifecycle handlers use to drive every state transition.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ndopj/tesp-api-go/internal/functional"
	"github.com/ndopj/tesp-api-go/internal/task"
)

// ListOptions controls pagination and filtering for List.
type ListOptions struct {
	PageSize   int                      // 0 means unbounded.
	PageToken  functional.Option[uuid.UUID] // return ids strictly greater than this.
	NamePrefix string                   // "" means no name filter.
}

// Mutation is applied to a task already matched by Update's filter, inside
// the same transaction that will persist it.
type Mutation func(*task.Task)

// TaskRepository is the sole interface the rest of the service uses to
// touch task documents. Every method scrubs underlying storage errors into
// ErrDataLayer before returning.
type TaskRepository interface {
	// Create inserts t, assigning it an id and creation time if unset, and
	// returns the assigned id.
	Create(ctx context.Context, t *task.Task) (uuid.UUID, error)

	// Get returns the task matching id, or None if it does not exist.
	Get(ctx context.Context, id uuid.UUID) (functional.Option[task.Task], error)

	// List returns up to opts.PageSize tasks with id > opts.PageToken (when
	// given) and name matching the ^opts.NamePrefix prefix (when given), in
	// ascending id order, plus the next page token: the id of the last
	// returned task, or None if the page was empty.
	List(ctx context.Context, opts ListOptions) ([]task.Task, functional.Option[uuid.UUID], error)

	// Update atomically finds the task with the given id and expected state,
	// applies mutate to it, persists the result, and returns the post-update
	// document. Returns None, with no error, if no task matched id and
	// expectedState — the caller (a lifecycle handler) treats that as
	// "another actor already moved this task on" and aborts silently.
	Update(ctx context.Context, id uuid.UUID, expectedState task.State, mutate Mutation) (functional.Option[task.Task], error)

	// Cancel unconditionally sets state = CANCELED on id, regardless of the
	// task's current state. Returns None if id does not exist.
	Cancel(ctx context.Context, id uuid.UUID) (functional.Option[uuid.UUID], error)

	// UpdateUnconditional applies mutate to the task matching id with no
	// expected-state assertion, so the write succeeds regardless of the
	// task's current state. Used by the error classifier, which must be
	// able to record a terminal error even when its own view of the task's
	// state may be stale. Returns None if id does not exist.
	UpdateUnconditional(ctx context.Context, id uuid.UUID, mutate Mutation) (functional.Option[task.Task], error)
}

type gormTaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository returns a TaskRepository backed by db.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &gormTaskRepository{db: db}
}

func (r *gormTaskRepository) Create(ctx context.Context, t *task.Task) (uuid.UUID, error) {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return uuid.Nil, fmt.Errorf("%w: create: %w", ErrDataLayer, err)
	}
	return t.ID, nil
}

func (r *gormTaskRepository) Get(ctx context.Context, id uuid.UUID) (functional.Option[task.Task], error) {
	var t task.Task
	err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return functional.None[task.Task](), nil
		}
		return functional.None[task.Task](), fmt.Errorf("%w: get: %w", ErrDataLayer, err)
	}
	return functional.Some(t), nil
}

func (r *gormTaskRepository) List(ctx context.Context, opts ListOptions) ([]task.Task, functional.Option[uuid.UUID], error) {
	q := r.db.WithContext(ctx).Model(&task.Task{}).Order("id ASC")

	if after, ok := opts.PageToken.Get(); ok {
		q = q.Where("id > ?", after)
	}
	if opts.NamePrefix != "" {
		q = q.Where("name LIKE ? ESCAPE '\\'", escapeLikePrefix(opts.NamePrefix)+"%")
	}
	if opts.PageSize > 0 {
		q = q.Limit(opts.PageSize)
	}

	var tasks []task.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, functional.None[uuid.UUID](), fmt.Errorf("%w: list: %w", ErrDataLayer, err)
	}

	if len(tasks) == 0 {
		return tasks, functional.None[uuid.UUID](), nil
	}
	return tasks, functional.Some(tasks[len(tasks)-1].ID), nil
}

func (r *gormTaskRepository) Update(ctx context.Context, id uuid.UUID, expectedState task.State, mutate Mutation) (functional.Option[task.Task], error) {
	var result task.Task
	found := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t task.Task
		err := tx.First(&t, "id = ? AND state = ?", id, expectedState).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		mutate(&t)

		if err := tx.Save(&t).Error; err != nil {
			return err
		}
		result = t
		found = true
		return nil
	})
	if err != nil {
		return functional.None[task.Task](), fmt.Errorf("%w: update: %w", ErrDataLayer, err)
	}
	if !found {
		return functional.None[task.Task](), nil
	}
	return functional.Some(result), nil
}

func (r *gormTaskRepository) UpdateUnconditional(ctx context.Context, id uuid.UUID, mutate Mutation) (functional.Option[task.Task], error) {
	var result task.Task
	found := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t task.Task
		err := tx.First(&t, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		mutate(&t)

		if err := tx.Save(&t).Error; err != nil {
			return err
		}
		result = t
		found = true
		return nil
	})
	if err != nil {
		return functional.None[task.Task](), fmt.Errorf("%w: update unconditional: %w", ErrDataLayer, err)
	}
	if !found {
		return functional.None[task.Task](), nil
	}
	return functional.Some(result), nil
}

func (r *gormTaskRepository) Cancel(ctx context.Context, id uuid.UUID) (functional.Option[uuid.UUID], error) {
	result := r.db.WithContext(ctx).
		Model(&task.Task{}).
		Where("id = ?", id).
		Update("state", task.StateCanceled)
	if result.Error != nil {
		return functional.None[uuid.UUID](), fmt.Errorf("%w: cancel: %w", ErrDataLayer, result.Error)
	}
	if result.RowsAffected == 0 {
		return functional.None[uuid.UUID](), nil
	}
	return functional.Some(id), nil
}

// escapeLikePrefix escapes SQL LIKE metacharacters in a literal prefix so
// that a name containing '%' or '_' is matched literally rather than as a
// wildcard.
func escapeLikePrefix(prefix string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(prefix)
}
