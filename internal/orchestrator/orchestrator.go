// Package orchestrator implements the Job Orchestrator: the
// top-level per-job coordinator that composes the Drive Sentinel, Rip
// Driver, Subtitle Coordinator, Match Worker Pool, and Conflict Resolver
// into the full disc-to-library pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ingestorchestrator/internal/apperr"
	"ingestorchestrator/internal/conflict"
	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/events"
	"ingestorchestrator/internal/jobqueue"
	"ingestorchestrator/internal/matchpool"
	"ingestorchestrator/internal/ripdriver"
	"ingestorchestrator/internal/sentinel"
	"ingestorchestrator/internal/statemachine"
	"ingestorchestrator/internal/subtitlegate"
)

// DiscTitle is one track the external disc scanner reports during
// identification, before it becomes a persisted Title.
type DiscTitle struct {
	Index           int
	DurationSeconds int
	ExpectedBytes   int64
	ChapterCount    int
	Resolution      string
	IsPlayAll       bool
}

// DiscScanner lists a disc's titles (external collaborator).
type DiscScanner interface {
	ListTitles(ctx context.Context, devicePath string) ([]DiscTitle, error)
}

// Classification is the external content-type classifier's verdict.
type Classification struct {
	ContentType          jobqueue.ContentType
	SeriesName           string
	Season               int
	NeedsReview          bool
	AmbiguousMovieTitles []int // disc title indices, when more than one feature-length title is found
}

// Classifier classifies a disc's content type from its titles and volume
// label (external collaborator).
type Classifier interface {
	Classify(ctx context.Context, volumeLabel string, titles []DiscTitle) (Classification, error)
}

// Ejector requests disc ejection (external collaborator).
type Ejector interface {
	Eject(ctx context.Context, devicePath string) error
}

// MovieOrganizer places a completed movie title into the library.
type MovieOrganizer interface {
	PlaceMovie(ctx context.Context, job jobqueue.Job, title jobqueue.Title) (organizedTo string, err error)
}

// jobRun tracks an actively processing job so CancelJob can reach it.
type jobRun struct {
	cancel context.CancelFunc
	driver *ripdriver.Driver
}

// Orchestrator coordinates one job at a time per drive, end to end.
type Orchestrator struct {
	cfg       *config.Config
	store     *jobqueue.Store
	machine   *statemachine.Machine
	bus       *events.Bus
	logger    *slog.Logger
	subtitles *subtitlegate.Coordinator
	matchPool *matchpool.Pool
	resolver  *conflict.Resolver

	scanner    DiscScanner
	classifier Classifier
	ejector    Ejector
	movieOrg   MovieOrganizer

	ripBinary    string
	fsPollPeriod time.Duration

	runCtx context.Context

	mu     sync.Mutex
	active map[int64]*jobRun // keyed by job ID
}

// New builds an Orchestrator. Call Start before wiring it to a Sentinel.
func New(cfg *config.Config, store *jobqueue.Store, machine *statemachine.Machine, bus *events.Bus,
	subtitles *subtitlegate.Coordinator, matchPool *matchpool.Pool, resolver *conflict.Resolver,
	scanner DiscScanner, classifier Classifier, ejector Ejector, movieOrg MovieOrganizer,
	logger *slog.Logger) *Orchestrator {

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		cfg:          cfg,
		store:        store,
		machine:      machine,
		bus:          bus,
		logger:       logger,
		subtitles:    subtitles,
		matchPool:    matchPool,
		resolver:     resolver,
		scanner:      scanner,
		classifier:   classifier,
		ejector:      ejector,
		movieOrg:     movieOrg,
		ripBinary:    cfg.RipDriver.MakeMKVPath,
		fsPollPeriod: time.Duration(cfg.RipDriver.FSCompletionInterval * float64(time.Second)),
		active:       make(map[int64]*jobRun),
	}
}

// Start records the context job goroutines are spawned from. The
// Orchestrator does no background work of its own; Sentinel.Run drives it.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runCtx = ctx
}

// HandleDriveEvent is the Sentinel's handler callback.
// It must not block, so insertion spawns the job pipeline in a goroutine.
func (o *Orchestrator) HandleDriveEvent(ev sentinel.DriveEvent) {
	if ev.Action != sentinel.ActionInserted {
		return
	}
	ctx := o.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go o.onInserted(ctx, ev)
}

func (o *Orchestrator) onInserted(ctx context.Context, ev sentinel.DriveEvent) {
	existing, found, err := o.store.ActiveJobForDrive(ctx, ev.DriveID)
	if err != nil {
		o.logger.Error("check active job for drive failed", "drive_id", ev.DriveID, "error", err)
		return
	}
	if found {
		o.logger.Warn("drive insertion ignored, job already active", "drive_id", ev.DriveID, "job_id", existing.ID)
		return
	}

	jobID, err := o.store.CreateJob(ctx, jobqueue.Job{
		DriveID:     ev.DriveID,
		VolumeLabel: ev.VolumeLabel,
		ContentType: jobqueue.ContentUnknown,
		State:       jobqueue.JobIdle,
	})
	if err != nil {
		o.logger.Error("create job failed", "drive_id", ev.DriveID, "error", err)
		return
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		o.logger.Error("reload new job failed", "job_id", jobID, "error", err)
		return
	}
	job.StagingDir = filepath.Join(o.cfg.Paths.StagingDir,
		fmt.Sprintf("job_%s_%d", time.Now().UTC().Format("20060102T150405"), jobID))
	if err := o.store.UpdateJob(ctx, job); err != nil {
		o.logger.Error("persist staging dir failed", "job_id", jobID, "error", err)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.active[jobID] = &jobRun{cancel: cancel}
	o.mu.Unlock()

	o.runJob(jobCtx, jobID, ev.DriveID)
}

func (o *Orchestrator) runJob(ctx context.Context, jobID int64, devicePath string) {
	defer o.forget(jobID)

	if _, err := o.machine.TransitionJob(ctx, jobID, jobqueue.JobIdentifying); err != nil {
		o.logger.Error("transition to identifying failed", "job_id", jobID, "error", err)
		return
	}

	sortedTitles, ambiguousMovie, err := o.identify(ctx, jobID, devicePath)
	if err != nil {
		o.logger.Error("identify failed", "job_id", jobID, "error", err)
		_ = o.machine.FailJob(ctx, jobID, err)
		return
	}
	if sortedTitles == nil {
		return // identify routed the job straight to review_needed (classifier flagged it, nothing to rip yet)
	}

	if _, err := o.machine.TransitionJob(ctx, jobID, jobqueue.JobRipping); err != nil {
		o.logger.Error("transition to ripping failed", "job_id", jobID, "error", err)
		return
	}

	o.rip(ctx, jobID, devicePath, sortedTitles)

	if o.ejector != nil {
		if err := o.ejector.Eject(ctx, devicePath); err != nil {
			o.logger.Warn("eject failed", "job_id", jobID, "device", devicePath, "error", err)
		}
	}

	if ambiguousMovie {
		// All candidate features are ripped, then the user picks one;
		// ApplyReview deletes the rest's files and finalizes.
		if _, err := o.machine.TransitionJob(ctx, jobID, jobqueue.JobReviewNeeded); err != nil {
			o.logger.Error("transition to review_needed for ambiguous movie failed", "job_id", jobID, "error", err)
		}
		return
	}

	o.CheckJobCompletion(ctx, jobID)
}

func (o *Orchestrator) forget(jobID int64) {
	o.mu.Lock()
	delete(o.active, jobID)
	o.mu.Unlock()
}

// StartJob begins ripping a job the API layer has addressed directly,
// rather than one spawned from a drive-insertion event. Only idle and
// review_needed jobs (an operator retrying a flagged disc) may be started
// this way; the job's DriveID is reused as the device path.
func (o *Orchestrator) StartJob(ctx context.Context, jobID int64) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("orchestrator: load job %d: %w", jobID, err)
	}
	if job.State != jobqueue.JobIdle && job.State != jobqueue.JobReviewNeeded {
		return apperr.Wrap(apperr.ErrValidation, "orchestrator", "start_job",
			fmt.Sprintf("job %d is in state %q, must be idle or review_needed", jobID, job.State), nil,
			apperr.WithCode("invalid_state"))
	}

	o.mu.Lock()
	if _, active := o.active[jobID]; active {
		o.mu.Unlock()
		return apperr.Wrap(apperr.ErrValidation, "orchestrator", "start_job",
			fmt.Sprintf("job %d is already running", jobID), nil,
			apperr.WithCode("invalid_state"))
	}
	runCtx := o.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	jobCtx, cancel := context.WithCancel(runCtx)
	o.active[jobID] = &jobRun{cancel: cancel}
	o.mu.Unlock()

	go o.runJob(jobCtx, jobID, job.DriveID)
	return nil
}

// identify scans and classifies the disc. It returns the disc's titles sorted
// by index (nil if the job was routed straight to review_needed without
// anything to rip) and whether this is the movie-ambiguous branch, in which
// every candidate feature still gets ripped before review.
func (o *Orchestrator) identify(ctx context.Context, jobID int64, devicePath string) ([]DiscTitle, bool, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}

	titles, err := o.scanner.ListTitles(ctx, devicePath)
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: list titles: %w", err)
	}

	classification, err := o.classifier.Classify(ctx, job.VolumeLabel, titles)
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: classify: %w", err)
	}

	job.ContentType = classification.ContentType
	job.DetectedTitle = classification.SeriesName
	if classification.Season > 0 {
		season := classification.Season
		job.DetectedSeason = &season
	}
	job.TotalTitles = len(titles)
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return nil, false, err
	}

	ambiguousMovie := classification.ContentType == jobqueue.ContentMovie && len(classification.AmbiguousMovieTitles) > 1
	ambiguous := make(map[int]struct{}, len(classification.AmbiguousMovieTitles))
	for _, idx := range classification.AmbiguousMovieTitles {
		ambiguous[idx] = struct{}{}
	}

	for _, t := range titles {
		selected := !t.IsPlayAll
		if ambiguousMovie {
			_, selected = ambiguous[t.Index]
		}
		if _, err := o.store.CreateTitle(ctx, jobqueue.Title{
			JobID:           jobID,
			TitleIndex:      t.Index,
			DurationSeconds: t.DurationSeconds,
			ExpectedBytes:   t.ExpectedBytes,
			ChapterCount:    t.ChapterCount,
			Resolution:      t.Resolution,
			IsSelected:      selected,
			State:           jobqueue.TitlePending,
		}); err != nil {
			return nil, false, fmt.Errorf("orchestrator: create title %d: %w", t.Index, err)
		}
	}

	if classification.NeedsReview {
		if _, err := o.machine.TransitionJob(ctx, jobID, jobqueue.JobReviewNeeded); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	if classification.ContentType == jobqueue.ContentTV {
		o.subtitles.Start(ctx, jobID, classification.SeriesName, classification.Season)
	}

	return titles, ambiguousMovie, nil
}

// rip drives the Rip Driver through the title-complete callback
// and the backfill pass.
func (o *Orchestrator) rip(ctx context.Context, jobID int64, devicePath string, sortedTitles []DiscTitle) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		o.logger.Error("load job for rip failed", "job_id", jobID, "error", err)
		return
	}

	persistedTitles, err := o.store.TitlesForJob(ctx, jobID)
	if err != nil {
		o.logger.Error("load titles for rip failed", "job_id", jobID, "error", err)
		return
	}
	selectedIndices := make([]int, 0, len(persistedTitles))
	for _, t := range persistedTitles {
		if t.IsSelected {
			selectedIndices = append(selectedIndices, t.TitleIndex)
			if _, err := o.machine.TransitionTitle(ctx, t.ID, jobqueue.TitleRipping); err != nil {
				o.logger.Warn("transition title to ripping failed", "title_id", t.ID, "error", err)
			}
		}
	}

	driver := ripdriver.New(o.ripBinary, o.fsPollPeriod, o.logger)
	o.mu.Lock()
	if run, ok := o.active[jobID]; ok {
		run.driver = driver
	}
	o.mu.Unlock()

	eventCh := make(chan ripdriver.Event, 32)
	seenFiles := make(map[string]struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.consumeRipEvents(ctx, jobID, sortedTitles, eventCh, seenFiles)
	}()

	result := driver.Rip(ctx, devicePath, job.StagingDir, selectedIndices, eventCh)
	close(eventCh)
	wg.Wait()

	if !result.Success {
		o.logger.Warn("rip driver reported failure", "job_id", jobID, "error", result.ErrorMessage)
	}

	o.backfill(ctx, jobID, job.StagingDir, result.ProducedFiles, seenFiles, sortedTitles)
}

func (o *Orchestrator) consumeRipEvents(ctx context.Context, jobID int64, sortedTitles []DiscTitle, eventCh <-chan ripdriver.Event, seenFiles map[string]struct{}) {
	var completedBytes int64
	start := time.Now()

	for ev := range eventCh {
		switch ev.Kind {
		case ripdriver.EventProgress:
			o.publishRipProgress(jobID, ev, start, completedBytes)
		case ripdriver.EventTitleComplete:
			seenFiles[ev.CompletedFile] = struct{}{}
			o.OnTitleRipped(ctx, jobID, ev.CompletedIndex, ev.CompletedFile, sortedTitles)
		}
	}
}

func (o *Orchestrator) publishRipProgress(jobID int64, ev ripdriver.Event, start time.Time, completedBytes int64) {
	job, err := o.store.GetJob(context.Background(), jobID)
	if err != nil {
		return
	}
	job.OverallPercent = ev.Percent
	job.CurrentTitleIndex = ev.CurrentTitle
	elapsed := time.Since(start).Seconds()
	if elapsed > 0 {
		job.TransferSpeed = fmt.Sprintf("%.1f%%/min", ev.Percent/elapsed*60)
	}
	_ = o.store.UpdateJob(context.Background(), job)
	if o.bus != nil {
		o.bus.Publish(events.Event{
			Type:  events.TypeJobUpdate,
			JobID: jobID,
			Fields: map[string]any{
				"percent":       ev.Percent,
				"current_title": ev.CurrentTitle,
				"total_titles":  ev.TotalTitles,
			},
		})
	}
}

// OnTitleRipped maps a produced file to a
// Title by parsed index (falling back to sequential order), records the
// output filename, and either dispatches matching (TV) or leaves the title
// to await finalization (movie).
func (o *Orchestrator) OnTitleRipped(ctx context.Context, jobID int64, ripIndex int, path string, sortedTitles []DiscTitle) {
	titles, err := o.store.TitlesForJob(ctx, jobID)
	if err != nil {
		o.logger.Error("load titles for rip callback failed", "job_id", jobID, "error", err)
		return
	}

	target, ok := findRippedTitle(titles, ripIndex)
	if !ok {
		o.logger.Warn("no title found for ripped index, dropping callback", "job_id", jobID, "rip_index", ripIndex)
		return
	}

	target.OutputFilename = path
	if err := o.store.UpdateTitle(ctx, target); err != nil {
		o.logger.Error("persist output filename failed", "title_id", target.ID, "error", err)
		return
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}

	if job.ContentType != jobqueue.ContentTV {
		// Movies skip episode matching entirely: a ripped movie title is
		// already a finished match from the Conflict Resolver's point of
		// view, so it can reach a MatchTerminal() state directly.
		if _, err := o.machine.TransitionTitle(ctx, target.ID, jobqueue.TitleMatched); err != nil {
			o.logger.Error("transition movie title to matched failed", "title_id", target.ID, "error", err)
		}
		return
	}

	if _, err := o.machine.TransitionTitle(ctx, target.ID, jobqueue.TitleMatching); err != nil {
		o.logger.Error("transition title to matching failed", "title_id", target.ID, "error", err)
		return
	}

	season := 0
	if job.DetectedSeason != nil {
		season = *job.DetectedSeason
	}
	o.matchPool.Submit(ctx, matchpool.Task{
		JobID:        jobID,
		TitleID:      target.ID,
		FilePath:     target.OutputFilename,
		SeriesName:   job.DetectedTitle,
		Season:       season,
		ExpectedSize: target.ExpectedBytes,
	})
}

func findRippedTitle(titles []jobqueue.Title, ripIndex int) (jobqueue.Title, bool) {
	for _, t := range titles {
		if t.TitleIndex == ripIndex && t.OutputFilename == "" {
			return t, true
		}
	}
	// Sequential fallback: first selected, not-yet-ripped title in index order.
	for _, t := range titles {
		if t.IsSelected && t.OutputFilename == "" && t.State == jobqueue.TitleRipping {
			return t, true
		}
	}
	return jobqueue.Title{}, false
}

// backfill maps any produced file the Rip Driver's own callbacks never
// reported (buffered output, timing races) to its title via a late
// OnTitleRipped call.
func (o *Orchestrator) backfill(ctx context.Context, jobID int64, stagingDir string, producedFiles []string, seenFiles map[string]struct{}, sortedTitles []DiscTitle) {
	for _, path := range producedFiles {
		if _, seen := seenFiles[path]; seen {
			continue
		}
		o.logger.Info("backfilling unreported ripped file", "job_id", jobID, "path", path)
		o.OnTitleRipped(ctx, jobID, -1, path, sortedTitles)
	}
}

// CheckJobCompletion checks whether a job is ready for
// finalization once every title has reached a terminal state. It triggers
// finalization (TV → Conflict Resolver, movie → Organizer) when ready.
func (o *Orchestrator) CheckJobCompletion(ctx context.Context, jobID int64) {
	titles, err := o.store.TitlesForJob(ctx, jobID)
	if err != nil {
		o.logger.Error("load titles for completion check failed", "job_id", jobID, "error", err)
		return
	}
	if len(titles) == 0 {
		return
	}
	for _, t := range titles {
		if !t.MatchTerminal() {
			return
		}
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	if job.Terminal() || job.State == jobqueue.JobReviewNeeded {
		return
	}

	if _, err := o.machine.TransitionJob(ctx, jobID, jobqueue.JobOrganizing); err != nil {
		o.logger.Error("transition to organizing failed", "job_id", jobID, "error", err)
		return
	}

	if job.ContentType == jobqueue.ContentTV {
		if err := o.resolver.Resolve(ctx, jobID); err != nil {
			o.logger.Error("conflict resolution failed", "job_id", jobID, "error", err)
			_ = o.machine.FailJob(ctx, jobID, err)
		}
		return
	}

	o.finalizeMovie(ctx, jobID, titles)
}

// finalizeMovie handles the non-ambiguous movie path: a single
// selected title is organized directly (the ambiguous multi-feature branch
// is resolved earlier, via ApplyReview).
func (o *Orchestrator) finalizeMovie(ctx context.Context, jobID int64, titles []jobqueue.Title) {
	var chosen *jobqueue.Title
	for i := range titles {
		if titles[i].IsSelected && !titles[i].IsExtra {
			chosen = &titles[i]
			break
		}
	}
	if chosen == nil {
		_ = o.machine.FailJob(ctx, jobID, fmt.Errorf("orchestrator: no selected movie title to organize"))
		return
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}

	organizedTo, err := o.movieOrg.PlaceMovie(ctx, job, *chosen)
	if err != nil {
		o.logger.Warn("movie organizer failed", "job_id", jobID, "error", err)
		if _, txErr := o.machine.TransitionTitle(ctx, chosen.ID, jobqueue.TitleReview); txErr != nil {
			o.logger.Error("transition movie title to review failed", "title_id", chosen.ID, "error", txErr)
		}
		_, _ = o.machine.TransitionJob(ctx, jobID, jobqueue.JobReviewNeeded)
		return
	}

	chosen.OrganizedTo = organizedTo
	if err := o.store.UpdateTitle(ctx, *chosen); err != nil {
		o.logger.Error("persist movie organized_to failed", "title_id", chosen.ID, "error", err)
		return
	}
	if _, err := o.machine.TransitionTitle(ctx, chosen.ID, jobqueue.TitleCompleted); err != nil {
		o.logger.Error("transition movie title to completed failed", "title_id", chosen.ID, "error", err)
		return
	}

	job.FinalPath = organizedTo
	if err := o.store.UpdateJob(ctx, job); err != nil {
		o.logger.Error("persist job final path failed", "job_id", jobID, "error", err)
		return
	}
	if _, err := o.machine.TransitionJob(ctx, jobID, jobqueue.JobCompleted); err != nil {
		o.logger.Error("transition job to completed failed", "job_id", jobID, "error", err)
	}
}

// ApplyReview records the user's manual choice
// for a review_needed job, deletes competing rips (for the movie-ambiguous
// branch), and advances the job toward finalization.
func (o *Orchestrator) ApplyReview(ctx context.Context, jobID, titleID int64, episodeCode, edition string) error {
	titles, err := o.store.TitlesForJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("orchestrator: load titles for review: %w", err)
	}

	var chosen *jobqueue.Title
	for i := range titles {
		if titles[i].ID == titleID {
			chosen = &titles[i]
			break
		}
	}
	if chosen == nil {
		return fmt.Errorf("orchestrator: title %d not found in job %d", titleID, jobID)
	}

	if episodeCode != "" {
		chosen.MatchedEpisode = episodeCode
	}
	if edition != "" {
		chosen.Edition = edition
	}
	chosen.IsSelected = true
	if err := o.store.UpdateTitle(ctx, *chosen); err != nil {
		return fmt.Errorf("orchestrator: persist review choice: %w", err)
	}
	if _, err := o.machine.TransitionTitle(ctx, chosen.ID, jobqueue.TitleMatched); err != nil {
		return fmt.Errorf("orchestrator: transition reviewed title: %w", err)
	}

	for _, t := range titles {
		if t.ID == chosen.ID || !t.IsSelected {
			continue
		}
		if t.OutputFilename != "" {
			if err := os.Remove(t.OutputFilename); err != nil && !os.IsNotExist(err) {
				o.logger.Warn("delete competing rip file failed", "title_id", t.ID, "path", t.OutputFilename, "error", err)
			}
		}
		t.IsSelected = false
		if err := o.store.UpdateTitle(ctx, t); err != nil {
			o.logger.Warn("deselect competing rip failed", "title_id", t.ID, "error", err)
			continue
		}
		if _, err := o.machine.FailTitle(ctx, t.ID, fmt.Errorf("orchestrator: superseded by review choice %d", chosen.ID)); err != nil {
			o.logger.Warn("fail competing rip failed", "title_id", t.ID, "error", err)
		}
	}

	if _, err := o.machine.TransitionJob(ctx, jobID, jobqueue.JobOrganizing); err != nil {
		return fmt.Errorf("orchestrator: transition job to organizing: %w", err)
	}

	o.CheckJobCompletion(ctx, jobID)
	return nil
}

// CancelJob cancels the Rip Driver if active and transitions the job to
// failed. In-flight match tasks were submitted with the job's own
// cancellable context, so cancelling it here unblocks their subtitle
// wait, file-ready poll, and semaphore acquisition the same way.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID int64) error {
	o.mu.Lock()
	run, ok := o.active[jobID]
	o.mu.Unlock()
	if ok {
		if run.driver != nil {
			run.driver.Cancel()
		}
		run.cancel()
	}
	return o.machine.FailJob(ctx, jobID, fmt.Errorf("orchestrator: job cancelled"))
}
