// Package classify implements the disc-classification heuristic the Job
// Orchestrator treats as an external collaborator: sorting a disc's titles
// into movie or TV content, clustering episode-length titles, and parsing a
// series name and season out of the volume label. It is pure, stateless
// policy over durations and strings — no external binaries, no network.
package classify

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/jobqueue"
	"ingestorchestrator/internal/orchestrator"
)

// Policy holds the duration thresholds that drive classification.
// Zero/invalid fields fall back to DefaultPolicy's values, mirroring the
// normalize-on-load pattern used elsewhere for tunable heuristics.
type Policy struct {
	MovieMinDurationSeconds    int
	TVMinDurationSeconds       int
	TVMaxDurationSeconds       int
	TVDurationVarianceSeconds  int
	TVMinClusterSize           int
	MovieDominanceThreshold    float64
	DurationFilterToleranceSec int
}

// DefaultPolicy returns the classifier's built-in thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MovieMinDurationSeconds:    4800,
		TVMinDurationSeconds:       1080,
		TVMaxDurationSeconds:       4200,
		TVDurationVarianceSeconds:  120,
		TVMinClusterSize:           3,
		MovieDominanceThreshold:    0.6,
		DurationFilterToleranceSec: 300,
	}
}

// PolicyFromConfig builds a Policy from a loaded Config's Classify group.
func PolicyFromConfig(cfg *config.Config) Policy {
	if cfg == nil {
		return DefaultPolicy()
	}
	return Policy{
		MovieMinDurationSeconds:    cfg.Classify.MovieMinDurationSeconds,
		TVMinDurationSeconds:       cfg.Classify.TVMinDurationSeconds,
		TVMaxDurationSeconds:       cfg.Classify.TVMaxDurationSeconds,
		TVDurationVarianceSeconds:  cfg.Classify.TVDurationVarianceSeconds,
		TVMinClusterSize:           cfg.Classify.TVMinClusterSize,
		MovieDominanceThreshold:    cfg.Classify.MovieDominanceThreshold,
		DurationFilterToleranceSec: cfg.Classify.DurationFilterToleranceSec,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MovieMinDurationSeconds <= 0 {
		p.MovieMinDurationSeconds = d.MovieMinDurationSeconds
	}
	if p.TVMinDurationSeconds <= 0 {
		p.TVMinDurationSeconds = d.TVMinDurationSeconds
	}
	if p.TVMaxDurationSeconds <= 0 {
		p.TVMaxDurationSeconds = d.TVMaxDurationSeconds
	}
	if p.TVDurationVarianceSeconds <= 0 {
		p.TVDurationVarianceSeconds = d.TVDurationVarianceSeconds
	}
	if p.TVMinClusterSize <= 0 {
		p.TVMinClusterSize = d.TVMinClusterSize
	}
	if p.MovieDominanceThreshold <= 0 || p.MovieDominanceThreshold > 1 {
		p.MovieDominanceThreshold = d.MovieDominanceThreshold
	}
	if p.DurationFilterToleranceSec <= 0 {
		p.DurationFilterToleranceSec = d.DurationFilterToleranceSec
	}
	return p
}

// Classifier implements orchestrator.Classifier.
type Classifier struct {
	policy Policy
}

// New builds a Classifier from policy, applying defaults to unset fields.
func New(policy Policy) *Classifier {
	return &Classifier{policy: policy.normalized()}
}

// Classify sorts a disc's titles into movie or TV content and, for TV,
// extracts a series name and season from the volume label.
func (c *Classifier) Classify(ctx context.Context, volumeLabel string, titles []orchestrator.DiscTitle) (orchestrator.Classification, error) {
	if len(titles) == 0 {
		return orchestrator.Classification{ContentType: jobqueue.ContentUnknown, NeedsReview: true}, nil
	}

	cluster := c.episodeCluster(titles)
	movieCandidates := c.movieCandidates(titles)

	if len(cluster) >= c.policy.TVMinClusterSize {
		series, season := parseSeriesAndSeason(volumeLabel)
		return orchestrator.Classification{
			ContentType: jobqueue.ContentTV,
			SeriesName:  series,
			Season:      season,
		}, nil
	}

	if len(movieCandidates) == 1 {
		return orchestrator.Classification{
			ContentType: jobqueue.ContentMovie,
			SeriesName:  parseMovieName(volumeLabel),
		}, nil
	}

	if len(movieCandidates) > 1 {
		dominant := dominantByDuration(titles, movieCandidates, c.policy.MovieDominanceThreshold)
		if dominant >= 0 {
			return orchestrator.Classification{
				ContentType: jobqueue.ContentMovie,
				SeriesName:  parseMovieName(volumeLabel),
			}, nil
		}
		return orchestrator.Classification{
			ContentType:          jobqueue.ContentMovie,
			SeriesName:           parseMovieName(volumeLabel),
			NeedsReview:          true,
			AmbiguousMovieTitles: movieCandidates,
		}, nil
	}

	return orchestrator.Classification{ContentType: jobqueue.ContentUnknown, NeedsReview: true}, nil
}

// episodeCluster returns the indices of titles whose duration falls in the
// TV episode range and within TVDurationVarianceSeconds of the cluster's
// median, excluding Play All concatenations.
func (c *Classifier) episodeCluster(titles []orchestrator.DiscTitle) []int {
	var candidates []orchestrator.DiscTitle
	var indices []int
	for i, t := range titles {
		if t.IsPlayAll {
			continue
		}
		if t.DurationSeconds >= c.policy.TVMinDurationSeconds && t.DurationSeconds <= c.policy.TVMaxDurationSeconds {
			candidates = append(candidates, t)
			indices = append(indices, i)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	durations := make([]int, len(candidates))
	for i, t := range candidates {
		durations[i] = t.DurationSeconds
	}
	sort.Ints(durations)
	median := durations[len(durations)/2]

	var cluster []int
	for i, t := range candidates {
		if abs(t.DurationSeconds-median) <= c.policy.TVDurationVarianceSeconds {
			cluster = append(cluster, indices[i])
		}
	}
	return cluster
}

// movieCandidates returns the indices of titles at or above feature length.
func (c *Classifier) movieCandidates(titles []orchestrator.DiscTitle) []int {
	var out []int
	for i, t := range titles {
		if t.IsPlayAll {
			continue
		}
		if t.DurationSeconds >= c.policy.MovieMinDurationSeconds {
			out = append(out, i)
		}
	}
	return out
}

// dominantByDuration returns the index of a candidate whose duration share
// of the summed candidate durations meets threshold, or -1 if none does.
func dominantByDuration(titles []orchestrator.DiscTitle, candidates []int, threshold float64) int {
	total := 0
	for _, idx := range candidates {
		total += titles[idx].DurationSeconds
	}
	if total == 0 {
		return -1
	}
	for _, idx := range candidates {
		if float64(titles[idx].DurationSeconds)/float64(total) >= threshold {
			return idx
		}
	}
	return -1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

var (
	seriesSeasonPattern = regexp.MustCompile(`(?i)^(.*?)[_\s.-]+s(?:eason)?[_\s.-]?(\d{1,2})`)
	nonWordRun          = regexp.MustCompile(`[_.]+`)
)

// parseSeriesAndSeason extracts a series name and season number from a
// volume label such as "BREAKING_BAD_S02_D1" or "The.Office.Season.3".
func parseSeriesAndSeason(volumeLabel string) (series string, season int) {
	m := seriesSeasonPattern.FindStringSubmatch(volumeLabel)
	if m == nil {
		return cleanVolumeLabel(volumeLabel), 0
	}
	season, _ = strconv.Atoi(m[2])
	return cleanVolumeLabel(m[1]), season
}

// parseMovieName strips a trailing disc suffix ("disc", "disk" or "d"
// followed by digits) from a movie volume label.
func parseMovieName(volumeLabel string) string {
	trimmed := regexp.MustCompile(`(?i)[_\s.-]+(disc|disk|d)\d+$`).ReplaceAllString(volumeLabel, "")
	return cleanVolumeLabel(trimmed)
}

func cleanVolumeLabel(label string) string {
	spaced := nonWordRun.ReplaceAllString(label, " ")
	spaced = strings.TrimSpace(spaced)
	if spaced == "" {
		return "Unknown"
	}
	return spaced
}
