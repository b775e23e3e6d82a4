package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/phaseline/phaseline/internal/schedule"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newMilestoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "milestone",
		Short: "Milestone management commands",
	}

	cmd.AddCommand(newMilestoneAddCmd())
	cmd.AddCommand(newMilestoneUpdateCmd())
	cmd.AddCommand(newMilestoneCompleteCmd())
	cmd.AddCommand(newMilestonePauseCmd())
	cmd.AddCommand(newMilestoneResumeCmd())
	cmd.AddCommand(newMilestoneDeleteCmd())
	cmd.AddCommand(newMilestoneHistoryCmd())
	cmd.AddCommand(newMilestoneBulkCmd())
	return cmd
}

func schedulerFromConfig(configPath string) (*schedule.Scheduler, *gorm.DB, error) {
	cfg, gormDB, err := openDB(configPath)
	if err != nil {
		return nil, nil, err
	}
	s := schedule.New(gormDB, schedule.Options{
		PauseFrom:       cfg.Scheduling.PauseFrom,
		CompactOnDelete: cfg.Scheduling.CompactOnDelete,
	})
	return s, gormDB, nil
}

func newMilestoneAddCmd() *cobra.Command {
	var (
		configPath  string
		timelineID  uint
		name        string
		description string
		order       int
		duration    int
		start       string
		hidden      bool
		details     string
		actorID     int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a milestone to a timeline",
		Long:  "Inserts a milestone at the given order, shifting later milestones down.",
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			s, _, err := schedulerFromConfig(configPath)
			if err != nil {
				return err
			}
			res, err := s.Create(schedule.Actor{ID: actorID}, timelineID, schedule.CreateInput{
				Name:        name,
				Description: description,
				SortOrder:   order,
				Duration:    duration,
				StartDate:   startDate,
				Hidden:      hidden,
				Details:     details,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created milestone %d (%s) at order %d\n", res.Created.ID, res.Created.Name, res.Created.SortOrder)
			if len(res.Shifted) > 0 {
				fmt.Fprintf(out, "Shifted %d later milestone(s) down by one.\n", len(res.Shifted))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	cmd.Flags().UintVar(&timelineID, "timeline", 0, "timeline ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "milestone name (required)")
	cmd.Flags().StringVar(&description, "description", "", "detailed description")
	cmd.Flags().IntVar(&order, "order", 1, "position in the timeline, starting at 1")
	cmd.Flags().IntVar(&duration, "duration", 1, "duration in days")
	cmd.Flags().StringVar(&start, "start", "", "scheduled start date, YYYY-MM-DD (required)")
	cmd.Flags().BoolVar(&hidden, "hidden", false, "exclude from schedule room")
	cmd.Flags().StringVar(&details, "details", "", "JSON details document")
	cmd.Flags().IntVar(&actorID, "actor", 0, "acting user ID")
	cmd.MarkFlagRequired("timeline")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("start")
	return cmd
}

func newMilestoneUpdateCmd() *cobra.Command {
	var (
		configPath string
		name       string
		order      int
		duration   int
		start      string
		actual     string
		completion string
		details    string
		comment    string
		actorID    int
		admin      bool
	)

	cmd := &cobra.Command{
		Use:   "update <milestone-id>",
		Short: "Update a milestone",
		Long: "Applies a partial edit. Changing duration, actual start, or completion " +
			"date reschedules every later milestone and the timeline end date follows.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}

			in := schedule.UpdateInput{Comment: comment, Details: details}
			if cmd.Flags().Changed("name") {
				in.Name = &name
			}
			if cmd.Flags().Changed("order") {
				in.SortOrder = &order
			}
			if cmd.Flags().Changed("duration") {
				in.Duration = &duration
			}
			if cmd.Flags().Changed("start") {
				d, err := parseDateFlag("start", start)
				if err != nil {
					return err
				}
				in.StartDate = &d
			}
			if cmd.Flags().Changed("actual-start") {
				d, err := parseDateFlag("actual-start", actual)
				if err != nil {
					return err
				}
				in.ActualStartDate = &d
			}
			if cmd.Flags().Changed("completion") {
				d, err := parseDateFlag("completion", completion)
				if err != nil {
					return err
				}
				in.CompletionDate = &d
			}

			s, _, err := schedulerFromConfig(configPath)
			if err != nil {
				return err
			}
			res, err := s.Update(schedule.Actor{ID: actorID, CanEditLockedDates: admin}, id, in)
			if err != nil {
				return err
			}
			printUpdateResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().IntVar(&order, "order", 0, "new position in the timeline")
	cmd.Flags().IntVar(&duration, "duration", 0, "new duration in days")
	cmd.Flags().StringVar(&start, "start", "", "new scheduled start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&actual, "actual-start", "", "actual start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&completion, "completion", "", "completion date, YYYY-MM-DD")
	cmd.Flags().StringVar(&details, "details", "", "JSON details patch, deep-merged into the stored document")
	cmd.Flags().StringVar(&comment, "comment", "", "comment recorded in status history")
	cmd.Flags().IntVar(&actorID, "actor", 0, "acting user ID")
	cmd.Flags().BoolVar(&admin, "admin", false, "allow edits to already-set actual start and completion dates")
	return cmd
}

func newMilestoneCompleteCmd() *cobra.Command {
	var (
		configPath string
		completion string
		comment    string
		actorID    int
	)

	cmd := &cobra.Command{
		Use:   "complete <milestone-id>",
		Short: "Mark a milestone completed",
		Long: "Completes the milestone, recomputes its duration from the completion " +
			"date, and cascades the new dates through later milestones.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}

			status := schedule.StatusCompleted
			in := schedule.UpdateInput{Status: &status, Comment: comment}
			if cmd.Flags().Changed("completion") {
				d, err := parseDateFlag("completion", completion)
				if err != nil {
					return err
				}
				in.CompletionDate = &d
			}

			s, _, err := schedulerFromConfig(configPath)
			if err != nil {
				return err
			}
			res, err := s.Update(schedule.Actor{ID: actorID}, id, in)
			if err != nil {
				return err
			}
			printUpdateResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	cmd.Flags().StringVar(&completion, "completion", "", "completion date, YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&comment, "comment", "", "comment recorded in status history")
	cmd.Flags().IntVar(&actorID, "actor", 0, "acting user ID")
	return cmd
}

func newMilestonePauseCmd() *cobra.Command {
	var (
		configPath string
		comment    string
		actorID    int
	)

	cmd := &cobra.Command{
		Use:   "pause <milestone-id>",
		Short: "Pause a milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			s, _, err := schedulerFromConfig(configPath)
			if err != nil {
				return err
			}
			status := schedule.StatusPaused
			res, err := s.Update(schedule.Actor{ID: actorID}, id, schedule.UpdateInput{
				Status:  &status,
				Comment: comment,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Milestone %d paused.\n", res.Target.Updated.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	cmd.Flags().StringVar(&comment, "comment", "", "reason for the pause (required)")
	cmd.Flags().IntVar(&actorID, "actor", 0, "acting user ID")
	cmd.MarkFlagRequired("comment")
	return cmd
}

func newMilestoneResumeCmd() *cobra.Command {
	var (
		configPath string
		comment    string
		actorID    int
	)

	cmd := &cobra.Command{
		Use:   "resume <milestone-id>",
		Short: "Resume a paused milestone",
		Long:  "Returns the milestone to the status it held before the pause.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			s, _, err := schedulerFromConfig(configPath)
			if err != nil {
				return err
			}
			status := schedule.StatusResume
			res, err := s.Update(schedule.Actor{ID: actorID}, id, schedule.UpdateInput{
				Status:  &status,
				Comment: comment,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Milestone %d resumed as %s.\n",
				res.Target.Updated.ID, res.Target.Updated.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	cmd.Flags().StringVar(&comment, "comment", "", "comment recorded in status history")
	cmd.Flags().IntVar(&actorID, "actor", 0, "acting user ID")
	return cmd
}

func newMilestoneDeleteCmd() *cobra.Command {
	var (
		configPath string
		actorID    int
	)

	cmd := &cobra.Command{
		Use:   "delete <milestone-id>",
		Short: "Delete a milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			s, _, err := schedulerFromConfig(configPath)
			if err != nil {
				return err
			}
			compacted, err := s.Delete(schedule.Actor{ID: actorID}, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Deleted milestone %d.\n", id)
			if len(compacted) > 0 {
				fmt.Fprintf(out, "Renumbered %d later milestone(s).\n", len(compacted))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	cmd.Flags().IntVar(&actorID, "actor", 0, "acting user ID")
	return cmd
}

func newMilestoneHistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history <milestone-id>",
		Short: "Show a milestone's status history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			_, gormDB, err := openDB(configPath)
			if err != nil {
				return err
			}
			entries, err := schedule.History(gormDB, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No history.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tSTATUS\tBY\tCOMMENT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					e.CreatedAt.Format(time.DateTime), e.Status, e.CreatedBy, e.Comment)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	return cmd
}

// bulkFileItem is the JSON shape of one milestone in a bulk file. Dates use
// YYYY-MM-DD.
type bulkFileItem struct {
	ID              uint    `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Order           int     `json:"order"`
	Duration        int     `json:"duration"`
	StartDate       string  `json:"startDate"`
	ActualStartDate *string `json:"actualStartDate"`
	CompletionDate  *string `json:"completionDate"`
	Status          string  `json:"status"`
	Hidden          bool    `json:"hidden"`
	Details         string  `json:"details"`
}

func newMilestoneBulkCmd() *cobra.Command {
	var (
		configPath string
		timelineID uint
		file       string
		actorID    int
		admin      bool
	)

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Replace a timeline's milestones from a JSON file",
		Long: "Reads the full desired milestone list from a JSON file and applies " +
			"it in one transaction. Items without an id are created, existing " +
			"milestones missing from the file are deleted, the rest are diffed " +
			"and updated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readBulkFile(file)
			if err != nil {
				return err
			}
			s, _, err := schedulerFromConfig(configPath)
			if err != nil {
				return err
			}
			coord := schedule.NewCoordinator(s)
			res, err := coord.Apply(schedule.Actor{ID: actorID, CanEditLockedDates: admin}, timelineID, items)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Applied: %d created, %d updated, %d deleted.\n",
				len(res.Result.Created), len(res.Result.Updated), len(res.Result.Deleted))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tID\tNAME\tSTATUS\tSTART\tEND")
			for _, m := range res.Milestones {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
					m.SortOrder, m.ID, m.Name, m.Status,
					m.StartDate.Format(time.DateOnly), m.EndDate.Format(time.DateOnly))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	cmd.Flags().UintVar(&timelineID, "timeline", 0, "timeline ID (required)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the desired milestone list (required)")
	cmd.Flags().IntVar(&actorID, "actor", 0, "acting user ID")
	cmd.Flags().BoolVar(&admin, "admin", false, "allow edits to already-set actual start and completion dates")
	cmd.MarkFlagRequired("timeline")
	cmd.MarkFlagRequired("file")
	return cmd
}

func readBulkFile(path string) ([]schedule.BulkItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bulk file: %w", err)
	}
	var fileItems []bulkFileItem
	if err := json.Unmarshal(raw, &fileItems); err != nil {
		return nil, fmt.Errorf("parse bulk file %s: %w", path, err)
	}

	items := make([]schedule.BulkItem, 0, len(fileItems))
	for i, fi := range fileItems {
		start, err := parseDateFlag(fmt.Sprintf("items[%d].startDate", i), fi.StartDate)
		if err != nil {
			return nil, err
		}
		item := schedule.BulkItem{
			ID:          fi.ID,
			Name:        fi.Name,
			Description: fi.Description,
			SortOrder:   fi.Order,
			Duration:    fi.Duration,
			StartDate:   start,
			Status:      fi.Status,
			Hidden:      fi.Hidden,
			Details:     fi.Details,
		}
		if fi.ActualStartDate != nil {
			d, err := parseDateFlag(fmt.Sprintf("items[%d].actualStartDate", i), *fi.ActualStartDate)
			if err != nil {
				return nil, err
			}
			item.ActualStartDate = &d
		}
		if fi.CompletionDate != nil {
			d, err := parseDateFlag(fmt.Sprintf("items[%d].completionDate", i), *fi.CompletionDate)
			if err != nil {
				return nil, err
			}
			item.CompletionDate = &d
		}
		items = append(items, item)
	}
	return items, nil
}

func printUpdateResult(cmd *cobra.Command, res *schedule.UpdateResult) {
	out := cmd.OutOrStdout()
	m := res.Target.Updated
	if !res.Mutated {
		fmt.Fprintf(out, "Milestone %d unchanged.\n", m.ID)
		return
	}
	fmt.Fprintf(out, "Milestone %d (%s) updated: status %s, %s to %s.\n",
		m.ID, m.Name, m.Status,
		m.StartDate.Format(time.DateOnly), m.EndDate.Format(time.DateOnly))
	if len(res.Others) > 0 {
		fmt.Fprintf(out, "Rescheduled %d other milestone(s).\n", len(res.Others))
	}
	if res.Timeline != nil && res.Timeline.Updated.EndDate != nil {
		fmt.Fprintf(out, "Timeline end date is now %s.\n",
			res.Timeline.Updated.EndDate.Format(time.DateOnly))
	}
}
