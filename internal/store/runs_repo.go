package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"autopinner/internal/core"
)

// RecordRun stores the audit row of an execution sequence and prunes rows
// beyond the retention limit for that task.
func (s *Store) RecordRun(ctx context.Context, run core.RunRecord) error {
	row := &TaskRun{
		ID:             run.ID,
		TaskName:       run.Task,
		Success:        run.Success,
		Attempts:       run.Attempts,
		StartedAt:      run.StartedAt.UTC(),
		EndedAt:        run.EndedAt.UTC(),
		RuntimeSeconds: run.EndedAt.Sub(run.StartedAt).Seconds(),
		Error:          run.Error,
	}
	if row.ID == "" {
		row.ID = core.NewID()
	}
	if err := s.InsertTaskRun(ctx, row); err != nil {
		return err
	}
	if _, err := s.PruneTaskRuns(ctx, run.Task, s.opts.RunRetention); err != nil {
		s.logger.Warn("prune task runs", "task", run.Task, "err", err)
	}
	return nil
}

func (s *Store) InsertTaskRun(ctx context.Context, run *TaskRun) error {
	err := s.Session(ctx, func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
	if err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}
	return nil
}

func (s *Store) GetTaskRun(ctx context.Context, id string) (*TaskRun, error) {
	var run TaskRun
	err := s.Session(ctx, func(tx *gorm.DB) error {
		return tx.Where("id = ?", id).First(&run).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task run: %w", err)
	}
	return &run, nil
}

// ListTaskRuns returns the newest runs of a task first.
func (s *Store) ListTaskRuns(ctx context.Context, taskName string, limit, offset int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []TaskRun
	err := s.Session(ctx, func(tx *gorm.DB) error {
		return tx.Where("task_name = ?", taskName).
			Order("started_at DESC").
			Limit(limit).
			Offset(offset).
			Find(&runs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list task runs: %w", err)
	}
	return runs, nil
}

// PruneTaskRuns deletes all but the newest keep runs of a task.
func (s *Store) PruneTaskRuns(ctx context.Context, taskName string, keep int) (int64, error) {
	var deleted int64
	err := s.Session(ctx, func(tx *gorm.DB) error {
		newest := tx.Session(&gorm.Session{NewDB: true}).
			Model(&TaskRun{}).
			Select("id").
			Where("task_name = ?", taskName).
			Order("started_at DESC").
			Limit(keep)
		res := tx.Where("task_name = ? AND id NOT IN (?)", taskName, newest).Delete(&TaskRun{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("prune task runs: %w", err)
	}
	return deleted, nil
}
