package jobqueue

import (
	"context"
	"fmt"
	"time"
)

// UpdateTitleHeartbeat stamps last_heartbeat for a title actively being
// ripped or matched, so ReclaimStaleTitles can distinguish a slow worker
// from a dead one.
func (s *Store) UpdateTitleHeartbeat(ctx context.Context, titleID int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE disc_titles SET last_heartbeat = ?, updated_at = ? WHERE id = ?`, now, now, titleID)
	if err != nil {
		return fmt.Errorf("jobqueue: update heartbeat for title %d: %w", titleID, err)
	}
	return nil
}

// reclaimTargets maps a processing TitleState to the state it rolls back to
// when its heartbeat has gone stale, so resumable work survives a crash.
var reclaimTargets = map[TitleState]TitleState{
	TitleRipping:  TitlePending,
	TitleMatching: TitlePending,
}

// ReclaimStaleTitles rolls back titles stuck in a processing state whose
// last_heartbeat is older than cutoff, so the Job Orchestrator can retry
// them after a crashed worker. It returns the number of rows reclaimed.
func (s *Store) ReclaimStaleTitles(ctx context.Context, cutoff time.Time) (int, error) {
	reclaimed := 0
	for from, to := range reclaimTargets {
		res, err := s.db.ExecContext(ctx, `
			UPDATE disc_titles
			SET state = ?, review_reason = ?, updated_at = ?
			WHERE state = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
			string(to), "reclaimed after stale heartbeat",
			time.Now().UTC().Format(time.RFC3339Nano),
			string(from), cutoff.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return reclaimed, fmt.Errorf("jobqueue: reclaim stale %s titles: %w", from, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return reclaimed, fmt.Errorf("jobqueue: count reclaimed %s titles: %w", from, err)
		}
		reclaimed += int(n)
	}
	return reclaimed, nil
}

// RetryFailed resets the named titles from TitleFailed back to TitlePending
// so the orchestrator re-attempts them, clearing the prior error context.
func (s *Store) RetryFailed(ctx context.Context, titleIDs ...int64) error {
	if len(titleIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("jobqueue: begin retry: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE disc_titles SET state = ?, review_reason = NULL, updated_at = ?
		WHERE id = ? AND state = ?`)
	if err != nil {
		return fmt.Errorf("jobqueue: prepare retry: %w", err)
	}
	defer stmt.Close()

	for _, id := range titleIDs {
		if _, err := stmt.ExecContext(ctx, string(TitlePending), now, id, string(TitleFailed)); err != nil {
			return fmt.Errorf("jobqueue: retry title %d: %w", id, err)
		}
	}
	return tx.Commit()
}
