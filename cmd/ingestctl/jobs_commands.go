package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ingestorchestrator/internal/api"
	"ingestorchestrator/internal/ctlproto"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage ingestion jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsStartCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsProcessMatchedCommand(ctx))
	jobsCmd.AddCommand(newJobsDeleteCommand(ctx))
	jobsCmd.AddCommand(newJobsReviewCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ctlproto.Client) error {
				resp, err := client.JobList()
				if err != nil {
					return err
				}

				if ctx.JSONMode() {
					jobs := resp.Jobs
					if jobs == nil {
						jobs = []api.JobDTO{}
					}
					return writeJSON(cmd, jobs)
				}

				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded")
					return nil
				}

				table := renderTable(
					[]string{"ID", "Volume", "Type", "State", "Progress", "Title"},
					buildJobListRows(resp.Jobs),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job and its titles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ctlproto.Client) error {
				jobResp, err := client.JobGet(id)
				if err != nil {
					return err
				}
				titleResp, err := client.TitleList(id)
				if err != nil {
					return err
				}

				if ctx.JSONMode() {
					titles := titleResp.Titles
					if titles == nil {
						titles = []api.TitleDTO{}
					}
					return writeJSON(cmd, struct {
						Job    api.JobDTO     `json:"job"`
						Titles []api.TitleDTO `json:"titles"`
					}{Job: jobResp.Job, Titles: titles})
				}

				printJobDetails(cmd, jobResp.Job)
				fmt.Fprintln(cmd.OutOrStdout())
				if len(titleResp.Titles) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No titles recorded")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Idx", "State", "Duration", "Matched Episode", "Confidence", "Edition"},
					buildTitleRows(titleResp.Titles),
					[]columnAlignment{alignRight, alignRight, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newJobsStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start ripping a job from idle or review_needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ctlproto.Client) error {
				if err := client.JobStart(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d started\n", id)
				return nil
			})
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an in-flight job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ctlproto.Client) error {
				if err := client.JobCancel(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d canceled\n", id)
				return nil
			})
		},
	}
}

func newJobsProcessMatchedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process-matched <id>",
		Short: "Run the conflict resolver's placement pass for a matched job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ctlproto.Client) error {
				if err := client.JobProcessMatched(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d queued for placement\n", id)
				return nil
			})
		},
	}
}

func newJobsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a terminal job and its titles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ctlproto.Client) error {
				if err := client.JobDelete(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d deleted\n", id)
				return nil
			})
		},
	}
}

func newJobsReviewCommand(ctx *commandContext) *cobra.Command {
	var episodeCode string
	var edition string

	cmd := &cobra.Command{
		Use:   "review <job-id> <title-id>",
		Short: "Apply an operator's review decision to one title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			titleID, err := parseJobID(args[1])
			if err != nil {
				return fmt.Errorf("invalid title id %q", args[1])
			}
			if strings.TrimSpace(episodeCode) == "" && strings.TrimSpace(edition) == "" {
				return fmt.Errorf("specify at least one of --episode or --edition")
			}
			return ctx.withClient(func(client *ctlproto.Client) error {
				req := ctlproto.JobReviewRequest{
					JobID:       jobID,
					TitleID:     titleID,
					EpisodeCode: episodeCode,
					Edition:     edition,
				}
				if err := client.JobReview(req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Title %d on job %d reviewed\n", titleID, jobID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&episodeCode, "episode", "", "Episode code to assign (e.g. S01E04)")
	cmd.Flags().StringVar(&edition, "edition", "", "Edition label to assign (e.g. extended)")
	return cmd
}

func parseJobID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func buildJobListRows(jobs []api.JobDTO) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		title := strings.TrimSpace(job.DetectedTitle)
		if title == "" {
			title = job.VolumeLabel
		}
		progress := fmt.Sprintf("%.0f%%", job.OverallPercent)
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			job.VolumeLabel,
			job.ContentType,
			formatStateLabel(job.State),
			progress,
			title,
		})
	}
	return rows
}

func buildTitleRows(titles []api.TitleDTO) [][]string {
	rows := make([][]string, 0, len(titles))
	for _, title := range titles {
		matched := title.MatchedEpisode
		confidence := ""
		if title.Confidence > 0 {
			confidence = fmt.Sprintf("%.2f", title.Confidence)
		}
		rows = append(rows, []string{
			strconv.FormatInt(title.ID, 10),
			strconv.Itoa(title.TitleIndex),
			formatStateLabel(title.State),
			formatDuration(title.DurationSeconds),
			matched,
			confidence,
			title.Edition,
		})
	}
	return rows
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
}

func printJobDetails(cmd *cobra.Command, job api.JobDTO) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %d\n", job.ID)
	fmt.Fprintf(out, "  Drive:        %s\n", job.DriveID)
	fmt.Fprintf(out, "  Volume label: %s\n", job.VolumeLabel)
	fmt.Fprintf(out, "  Content type: %s\n", job.ContentType)
	if job.DetectedTitle != "" {
		fmt.Fprintf(out, "  Detected:     %s\n", job.DetectedTitle)
	}
	fmt.Fprintf(out, "  State:        %s\n", formatStateLabel(job.State))
	fmt.Fprintf(out, "  Progress:     %.0f%% (title %d of %d)\n", job.OverallPercent, job.CurrentTitleIndex, job.TotalTitles)
	if job.TransferSpeed != "" {
		fmt.Fprintf(out, "  Transfer:     %s\n", job.TransferSpeed)
	}
	if job.FinalPath != "" {
		fmt.Fprintf(out, "  Final path:   %s\n", job.FinalPath)
	}
	if job.SubtitleStatus != "" {
		fmt.Fprintf(out, "  Subtitles:    %s\n", job.SubtitleStatus)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:        %s\n", job.ErrorMessage)
	}
}
