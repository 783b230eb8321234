package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ingestorchestrator/internal/config"
)

// Store is the Persistence Interface: the only component permitted to touch
// the database directly.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) and opens the SQLite database named by
// cfg.Paths.DatabasePath, bringing its schema up to date.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	path := cfg.Paths.DatabasePath

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("jobqueue: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA synchronous = NORMAL`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("jobqueue: %s: %w", pragma, err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path the Store was opened against.
func (s *Store) Path() string {
	return s.path
}

// CreateJob inserts a new job row in JobIdle and returns its assigned ID.
func (s *Store) CreateJob(ctx context.Context, job Job) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if job.State == "" {
		job.State = JobIdle
	}
	if job.SubtitleStatus == "" {
		job.SubtitleStatus = SubtitleNone
	}
	if job.ContentType == "" {
		job.ContentType = ContentUnknown
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO disc_jobs (
			drive_id, volume_label, content_type, detected_title, detected_season,
			disc_number, staging_dir, state, overall_percent, current_title_index,
			total_titles, transfer_speed, eta_seconds, final_path, error_message,
			subtitle_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.DriveID, nullableString(job.VolumeLabel), string(job.ContentType),
		nullableString(job.DetectedTitle), nullableInt(job.DetectedSeason),
		job.DiscNumber, job.StagingDir, string(job.State), job.OverallPercent,
		job.CurrentTitleIndex, job.TotalTitles, nullableString(job.TransferSpeed),
		job.ETASeconds, nullableString(job.FinalPath), nullableString(job.ErrorMessage),
		string(job.SubtitleStatus), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("jobqueue: create job: %w", err)
	}
	return res.LastInsertId()
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id int64) (Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+` FROM disc_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ActiveJobForDrive returns the non-terminal job currently bound to a drive,
// if any.
func (s *Store) ActiveJobForDrive(ctx context.Context, driveID string) (Job, bool, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+`
		FROM disc_jobs WHERE drive_id = ? AND state NOT IN (?, ?)
		ORDER BY id DESC LIMIT 1`, driveID, string(JobCompleted), string(JobFailed))
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

// ListJobs returns jobs ordered by most recently updated, optionally
// filtered to the given states (all states if none given).
func (s *Store) ListJobs(ctx context.Context, states ...JobState) ([]Job, error) {
	query := jobSelectColumns + ` FROM disc_jobs`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, st := range states {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE state IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY julianday(updated_at) DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob persists the full row for job.ID.
func (s *Store) UpdateJob(ctx context.Context, job Job) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		UPDATE disc_jobs SET
			drive_id = ?, volume_label = ?, content_type = ?, detected_title = ?,
			detected_season = ?, disc_number = ?, staging_dir = ?, state = ?,
			overall_percent = ?, current_title_index = ?, total_titles = ?,
			transfer_speed = ?, eta_seconds = ?, final_path = ?, error_message = ?,
			subtitle_status = ?, updated_at = ?
		WHERE id = ?`,
		job.DriveID, nullableString(job.VolumeLabel), string(job.ContentType),
		nullableString(job.DetectedTitle), nullableInt(job.DetectedSeason),
		job.DiscNumber, job.StagingDir, string(job.State), job.OverallPercent,
		job.CurrentTitleIndex, job.TotalTitles, nullableString(job.TransferSpeed),
		job.ETASeconds, nullableString(job.FinalPath), nullableString(job.ErrorMessage),
		string(job.SubtitleStatus), now, job.ID,
	)
	if err != nil {
		return fmt.Errorf("jobqueue: update job %d: %w", job.ID, err)
	}
	return nil
}

// DeleteJob removes a job and its titles.
func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("jobqueue: begin delete job %d: %w", id, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM disc_titles WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("jobqueue: delete titles for job %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM disc_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("jobqueue: delete job %d: %w", id, err)
	}
	return tx.Commit()
}

const jobSelectColumns = `SELECT
	id, drive_id, volume_label, content_type, detected_title, detected_season,
	disc_number, staging_dir, state, overall_percent, current_title_index,
	total_titles, transfer_speed, eta_seconds, final_path, error_message,
	subtitle_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job                                                                 Job
		contentType, subtitleStatus, state                                 string
		volumeLabel, detectedTitle, transferSpeed, finalPath, errorMessage  sql.NullString
		detectedSeason                                                     sql.NullInt64
		createdAt, updatedAt                                                string
	)
	err := row.Scan(
		&job.ID, &job.DriveID, &volumeLabel, &contentType, &detectedTitle, &detectedSeason,
		&job.DiscNumber, &job.StagingDir, &state, &job.OverallPercent, &job.CurrentTitleIndex,
		&job.TotalTitles, &transferSpeed, &job.ETASeconds, &finalPath, &errorMessage,
		&subtitleStatus, &createdAt, &updatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	job.VolumeLabel = volumeLabel.String
	job.ContentType = ContentType(contentType)
	job.DetectedTitle = detectedTitle.String
	if detectedSeason.Valid {
		v := int(detectedSeason.Int64)
		job.DetectedSeason = &v
	}
	job.State = JobState(state)
	job.TransferSpeed = transferSpeed.String
	job.FinalPath = finalPath.String
	job.ErrorMessage = errorMessage.String
	job.SubtitleStatus = SubtitleStatus(subtitleStatus)
	job.CreatedAt = parseTimeString(createdAt)
	job.UpdatedAt = parseTimeString(updatedAt)
	return job, nil
}

// CreateTitle inserts a new title row and returns its assigned ID.
func (s *Store) CreateTitle(ctx context.Context, title Title) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if title.State == "" {
		title.State = TitlePending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO disc_titles (
			job_id, title_index, duration_seconds, expected_bytes, chapter_count,
			resolution, is_selected, is_extra, state, matched_episode, confidence,
			match_details_json, edition, output_filename, organized_to,
			conflict_round, review_reason, last_heartbeat, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		title.JobID, title.TitleIndex, title.DurationSeconds, title.ExpectedBytes,
		title.ChapterCount, nullableString(title.Resolution), boolToInt(title.IsSelected),
		boolToInt(title.IsExtra), string(title.State), nullableString(title.MatchedEpisode),
		title.Confidence, nullableString(title.MatchDetailsJSON), nullableString(title.Edition),
		nullableString(title.OutputFilename), nullableString(title.OrganizedTo),
		title.ConflictRound, nullableString(title.ReviewReason), nullableTime(title.LastHeartbeat),
		now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("jobqueue: create title: %w", err)
	}
	return res.LastInsertId()
}

// GetTitle fetches a title by ID.
func (s *Store) GetTitle(ctx context.Context, id int64) (Title, error) {
	row := s.db.QueryRowContext(ctx, titleSelectColumns+` FROM disc_titles WHERE id = ?`, id)
	return scanTitle(row)
}

// TitlesForJob returns every title belonging to job, ordered by title index.
func (s *Store) TitlesForJob(ctx context.Context, jobID int64) ([]Title, error) {
	rows, err := s.db.QueryContext(ctx,
		titleSelectColumns+` FROM disc_titles WHERE job_id = ? ORDER BY title_index ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: list titles for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var titles []Title
	for rows.Next() {
		title, err := scanTitle(rows)
		if err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// TitlesByState returns titles in the given state across all jobs, oldest
// first, used by the Match Worker Pool and Conflict Resolver to pull work.
func (s *Store) TitlesByState(ctx context.Context, state TitleState) ([]Title, error) {
	rows, err := s.db.QueryContext(ctx,
		titleSelectColumns+` FROM disc_titles WHERE state = ? ORDER BY julianday(created_at) ASC, id ASC`, string(state))
	if err != nil {
		return nil, fmt.Errorf("jobqueue: list titles by state %s: %w", state, err)
	}
	defer rows.Close()

	var titles []Title
	for rows.Next() {
		title, err := scanTitle(rows)
		if err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// UpdateTitle persists the full row for title.ID.
func (s *Store) UpdateTitle(ctx context.Context, title Title) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		UPDATE disc_titles SET
			title_index = ?, duration_seconds = ?, expected_bytes = ?, chapter_count = ?,
			resolution = ?, is_selected = ?, is_extra = ?, state = ?, matched_episode = ?,
			confidence = ?, match_details_json = ?, edition = ?, output_filename = ?,
			organized_to = ?, conflict_round = ?, review_reason = ?, last_heartbeat = ?,
			updated_at = ?
		WHERE id = ?`,
		title.TitleIndex, title.DurationSeconds, title.ExpectedBytes, title.ChapterCount,
		nullableString(title.Resolution), boolToInt(title.IsSelected), boolToInt(title.IsExtra),
		string(title.State), nullableString(title.MatchedEpisode), title.Confidence,
		nullableString(title.MatchDetailsJSON), nullableString(title.Edition),
		nullableString(title.OutputFilename), nullableString(title.OrganizedTo),
		title.ConflictRound, nullableString(title.ReviewReason), nullableTime(title.LastHeartbeat),
		now, title.ID,
	)
	if err != nil {
		return fmt.Errorf("jobqueue: update title %d: %w", title.ID, err)
	}
	return nil
}

const titleSelectColumns = `SELECT
	id, job_id, title_index, duration_seconds, expected_bytes, chapter_count,
	resolution, is_selected, is_extra, state, matched_episode, confidence,
	match_details_json, edition, output_filename, organized_to,
	conflict_round, review_reason, last_heartbeat, created_at, updated_at`

func scanTitle(row rowScanner) (Title, error) {
	var (
		title                                                                  Title
		state                                                                  string
		resolution, matchedEpisode, matchDetails, edition, outputFilename      sql.NullString
		organizedTo, reviewReason                                              sql.NullString
		isSelected, isExtra                                                    int
		lastHeartbeat                                                          sql.NullString
		createdAt, updatedAt                                                   string
	)
	err := row.Scan(
		&title.ID, &title.JobID, &title.TitleIndex, &title.DurationSeconds, &title.ExpectedBytes,
		&title.ChapterCount, &resolution, &isSelected, &isExtra, &state, &matchedEpisode,
		&title.Confidence, &matchDetails, &edition, &outputFilename, &organizedTo,
		&title.ConflictRound, &reviewReason, &lastHeartbeat, &createdAt, &updatedAt,
	)
	if err != nil {
		return Title{}, err
	}
	title.Resolution = resolution.String
	title.IsSelected = isSelected != 0
	title.IsExtra = isExtra != 0
	title.State = TitleState(state)
	title.MatchedEpisode = matchedEpisode.String
	title.MatchDetailsJSON = matchDetails.String
	title.Edition = edition.String
	title.OutputFilename = outputFilename.String
	title.OrganizedTo = organizedTo.String
	title.ReviewReason = reviewReason.String
	if lastHeartbeat.Valid {
		t := parseTimeString(lastHeartbeat.String)
		title.LastHeartbeat = &t
	}
	title.CreatedAt = parseTimeString(createdAt)
	title.UpdatedAt = parseTimeString(updatedAt)
	return title, nil
}

// GetAppConfig returns the raw JSON blob of the singleton app_config row,
// and false if it has never been set.
func (s *Store) GetAppConfig(ctx context.Context) (string, bool, error) {
	var configJSON string
	err := s.db.QueryRowContext(ctx, `SELECT config_json FROM app_config WHERE id = 1`).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("jobqueue: read app_config: %w", err)
	}
	return configJSON, true, nil
}

// SetAppConfig upserts the singleton app_config row. It survives schema
// migrations because it is plain JSON, not a typed column per field.
func (s *Store) SetAppConfig(ctx context.Context, configJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_config (id, config_json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET config_json = excluded.config_json, updated_at = excluded.updated_at`,
		configJSON, now)
	if err != nil {
		return fmt.Errorf("jobqueue: write app_config: %w", err)
	}
	return nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseTimeString(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
