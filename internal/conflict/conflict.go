// Package conflict implements the Conflict Resolver: once every title of a
// TV job has reached a terminal match state, it deduplicates episode
// claims across titles, hands surviving matches to the Organizer, and
// settles the job's final state.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"ingestorchestrator/internal/jobqueue"
	"ingestorchestrator/internal/statemachine"
)

const maxRounds = 3

// Organizer places a resolved title into the library and reports where.
type Organizer interface {
	Place(ctx context.Context, title jobqueue.Title) (organizedTo string, err error)
}

// matchDetails mirrors the JSON blob the Match Worker Pool persists onto
// Title.MatchDetailsJSON.
type matchDetails struct {
	Score          float64    `json:"score"`
	VoteCount      int        `json:"vote_count"`
	FileCoverage   float64    `json:"file_coverage"`
	RunnerUps      []runnerUp `json:"runner_ups"`
	ScoreGap       float64    `json:"score_gap,omitempty"`
	ConflictReason string     `json:"conflict_reason,omitempty"`
	Error          string     `json:"error,omitempty"`
	Message        string     `json:"message,omitempty"`
}

type runnerUp struct {
	Episode string  `json:"Episode"`
	Score   float64 `json:"Score"`
}

// Resolver runs episode-claim deduplication for one job at a time.
type Resolver struct {
	store     *jobqueue.Store
	machine   *statemachine.Machine
	organizer Organizer
	logger    *slog.Logger
}

// New builds a Resolver.
func New(store *jobqueue.Store, machine *statemachine.Machine, organizer Organizer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{store: store, machine: machine, organizer: organizer, logger: logger}
}

// Resolve deduplicates episode claims for jobID: up to three rounds of
// claim deduplication, then organizer placement for every surviving
// matched title, then a final job-state transition.
func (r *Resolver) Resolve(ctx context.Context, jobID int64) error {
	titles, err := r.store.TitlesForJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("conflict: load titles: %w", err)
	}

	for round := 0; round < maxRounds; round++ {
		reassigned, err := r.runRound(ctx, titles)
		if err != nil {
			return err
		}
		if !reassigned {
			break
		}
		titles, err = r.store.TitlesForJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("conflict: reload titles: %w", err)
		}
	}

	if err := r.placeAll(ctx, titles, jobID); err != nil {
		return err
	}

	return r.finalizeJob(ctx, jobID)
}

// runRound resolves every conflict group once and reports whether any
// title was reassigned to a different episode.
func (r *Resolver) runRound(ctx context.Context, titles []jobqueue.Title) (bool, error) {
	groups := groupByEpisode(titles)
	claims := claimedEpisodes(titles)

	anyReassigned := false
	for episode, group := range groups {
		if len(group) <= 1 {
			continue
		}
		ranked := rankGroup(group)
		winner := ranked[0]
		claims[episode] = winner

		for _, loser := range ranked[1:] {
			reassigned, err := r.reassignLoser(ctx, loser, claims)
			if err != nil {
				return false, err
			}
			if reassigned {
				anyReassigned = true
			}
		}
	}
	return anyReassigned, nil
}

// scoredTitle pairs a title with its parsed match details for ranking.
type scoredTitle struct {
	title   jobqueue.Title
	details matchDetails
}

func groupByEpisode(titles []jobqueue.Title) map[string][]scoredTitle {
	groups := make(map[string][]scoredTitle)
	for _, t := range titles {
		if t.State != jobqueue.TitleMatched || t.MatchedEpisode == "" {
			continue
		}
		groups[t.MatchedEpisode] = append(groups[t.MatchedEpisode], scoredTitle{title: t, details: parseDetails(t.MatchDetailsJSON)})
	}
	return groups
}

// claimedEpisodes maps episode -> current claimant, used to check whether a
// runner-up episode is free or already held during reassignment.
func claimedEpisodes(titles []jobqueue.Title) map[string]scoredTitle {
	claims := make(map[string]scoredTitle)
	for _, t := range titles {
		if t.State == jobqueue.TitleMatched && t.MatchedEpisode != "" {
			claims[t.MatchedEpisode] = scoredTitle{title: t, details: parseDetails(t.MatchDetailsJSON)}
		}
	}
	return claims
}

func parseDetails(raw string) matchDetails {
	var d matchDetails
	if raw == "" {
		return d
	}
	_ = json.Unmarshal([]byte(raw), &d)
	return d
}

// rankGroup orders a conflict group by (vote_count desc, score desc,
// file_coverage desc); ranked[0] is the winner.
func rankGroup(group []scoredTitle) []scoredTitle {
	ranked := make([]scoredTitle, len(group))
	copy(ranked, group)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].details, ranked[j].details
		if a.VoteCount != b.VoteCount {
			return a.VoteCount > b.VoteCount
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.FileCoverage > b.FileCoverage
	})
	return ranked
}

// reassignLoser attempts to move loser to its best viable runner-up episode,
// claims is mutated in place to reflect the new
// assignment so later losers in the same round see it.
func (r *Resolver) reassignLoser(ctx context.Context, loser scoredTitle, claims map[string]scoredTitle) (bool, error) {
	for _, ru := range loser.details.RunnerUps {
		claimant, held := claims[ru.Episode]
		switch {
		case !held:
			return true, r.applyReassignment(ctx, loser, ru, claims)
		case ru.Score > claimant.details.Score:
			return true, r.applyReassignment(ctx, loser, ru, claims)
		default:
			continue
		}
	}

	return false, r.markNoViableRunnerUp(ctx, loser.title)
}

func (r *Resolver) applyReassignment(ctx context.Context, loser scoredTitle, ru runnerUp, claims map[string]scoredTitle) error {
	title := loser.title
	title.MatchedEpisode = ru.Episode
	title.Confidence = ru.Score
	loser.details.Score = ru.Score
	raw, err := json.Marshal(loser.details)
	if err != nil {
		return fmt.Errorf("conflict: marshal reassigned details: %w", err)
	}
	title.MatchDetailsJSON = string(raw)
	if err := r.store.UpdateTitle(ctx, title); err != nil {
		return fmt.Errorf("conflict: persist reassignment: %w", err)
	}
	claims[ru.Episode] = scoredTitle{title: title, details: loser.details}
	return nil
}

func (r *Resolver) markNoViableRunnerUp(ctx context.Context, title jobqueue.Title) error {
	details := parseDetails(title.MatchDetailsJSON)
	details.ConflictReason = "no viable runner-up episode"
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("conflict: marshal conflict reason: %w", err)
	}
	title.MatchDetailsJSON = string(raw)
	if err := r.store.UpdateTitle(ctx, title); err != nil {
		return fmt.Errorf("conflict: persist conflict reason: %w", err)
	}
	_, err = r.machine.TransitionTitle(ctx, title.ID, jobqueue.TitleReview)
	return err
}

// placeAll hands every surviving matched title to the Organizer.
func (r *Resolver) placeAll(ctx context.Context, titles []jobqueue.Title, jobID int64) error {
	fresh, err := r.store.TitlesForJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("conflict: reload titles before placement: %w", err)
	}

	for _, t := range fresh {
		if t.State != jobqueue.TitleMatched {
			continue
		}
		organizedTo, err := r.organizer.Place(ctx, t)
		if err != nil {
			r.logger.Warn("organizer placement failed", "title_id", t.ID, "error", err)
			if _, txErr := r.machine.TransitionTitle(ctx, t.ID, jobqueue.TitleReview); txErr != nil {
				return txErr
			}
			continue
		}
		t.OrganizedTo = organizedTo
		if err := r.store.UpdateTitle(ctx, t); err != nil {
			return fmt.Errorf("conflict: persist organized_to: %w", err)
		}
		if _, err := r.machine.TransitionTitle(ctx, t.ID, jobqueue.TitleCompleted); err != nil {
			return err
		}
	}
	return nil
}

// finalizeJob determines and applies the job's final state.
func (r *Resolver) finalizeJob(ctx context.Context, jobID int64) error {
	titles, err := r.store.TitlesForJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("conflict: load titles for finalization: %w", err)
	}

	hasReview, hasCompleted := false, false
	for _, t := range titles {
		switch t.State {
		case jobqueue.TitleReview:
			hasReview = true
		case jobqueue.TitleCompleted:
			hasCompleted = true
		}
	}

	var target jobqueue.JobState
	switch {
	case hasReview:
		target = jobqueue.JobReviewNeeded
	case hasCompleted:
		target = jobqueue.JobCompleted
	default:
		target = jobqueue.JobFailed
	}

	if target == jobqueue.JobCompleted {
		if err := r.setFinalPath(ctx, jobID, titles); err != nil {
			return err
		}
	}

	if target == jobqueue.JobFailed {
		return r.machine.FailJob(ctx, jobID, fmt.Errorf("conflict: no title reached a usable terminal state"))
	}
	_, err = r.machine.TransitionJob(ctx, jobID, target)
	return err
}

func (r *Resolver) setFinalPath(ctx context.Context, jobID int64, titles []jobqueue.Title) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("conflict: load job for final path: %w", err)
	}
	for _, t := range titles {
		if t.State == jobqueue.TitleCompleted && t.OrganizedTo != "" {
			job.FinalPath = t.OrganizedTo
			break
		}
	}
	return r.store.UpdateJob(ctx, job)
}
