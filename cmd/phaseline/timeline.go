package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/phaseline/phaseline/internal/schedule"
	"github.com/phaseline/phaseline/internal/timeline"
	"github.com/spf13/cobra"
)

func newTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Timeline management commands",
	}

	cmd.AddCommand(newTimelineCreateCmd())
	cmd.AddCommand(newTimelineListCmd())
	cmd.AddCommand(newTimelineShowCmd())
	return cmd
}

func newTimelineCreateCmd() *cobra.Command {
	var (
		configPath  string
		name        string
		description string
		start       string
		reference   string
		referenceID uint
		actorID     int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new timeline",
		Long:  "Creates a timeline bound to a project, phase, or product.",
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			return runTimelineCreate(cmd, configPath, actorID, timeline.CreateOpts{
				Name:        name,
				Description: description,
				StartDate:   startDate,
				Reference:   reference,
				ReferenceID: referenceID,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	cmd.Flags().StringVar(&name, "name", "", "timeline name (required)")
	cmd.Flags().StringVar(&description, "description", "", "detailed description")
	cmd.Flags().StringVar(&start, "start", "", "start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&reference, "reference", "project", "reference kind (project, phase, product)")
	cmd.Flags().UintVar(&referenceID, "reference-id", 0, "referenced entity ID (required)")
	cmd.Flags().IntVar(&actorID, "actor", 0, "acting user ID")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("reference-id")
	return cmd
}

func runTimelineCreate(cmd *cobra.Command, configPath string, actorID int, opts timeline.CreateOpts) error {
	_, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}

	tl, err := timeline.Create(gormDB, schedule.Actor{ID: actorID}, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created timeline %d (%s)\n", tl.ID, tl.Name)
	fmt.Fprintf(out, "Start: %s\n", tl.StartDate.Format(time.DateOnly))
	return nil
}

func newTimelineListCmd() *cobra.Command {
	var (
		configPath  string
		reference   string
		referenceID uint
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List timelines of a reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTimelineList(cmd, configPath, reference, referenceID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	cmd.Flags().StringVar(&reference, "reference", "project", "reference kind (project, phase, product)")
	cmd.Flags().UintVar(&referenceID, "reference-id", 0, "referenced entity ID (required)")
	cmd.MarkFlagRequired("reference-id")
	return cmd
}

func runTimelineList(cmd *cobra.Command, configPath, reference string, referenceID uint) error {
	_, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}

	timelines, err := timeline.List(gormDB, reference, referenceID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(timelines) == 0 {
		fmt.Fprintln(out, "No timelines found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTART\tEND")
	for _, tl := range timelines {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			tl.ID, tl.Name, tl.StartDate.Format(time.DateOnly), formatEnd(tl.EndDate))
	}
	return w.Flush()
}

func newTimelineShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <timeline-id>",
		Short: "Show a timeline and its ordered milestones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			return runTimelineShow(cmd, configPath, id)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "phaseline.yaml", "path to Phaseline config file")
	return cmd
}

func runTimelineShow(cmd *cobra.Command, configPath string, id uint) error {
	_, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}

	tl, err := timeline.Get(gormDB, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Timeline %d: %s\n", tl.ID, tl.Name)
	fmt.Fprintf(out, "Reference: %s %d\n", tl.Reference, tl.ReferenceID)
	fmt.Fprintf(out, "Start: %s  End: %s\n", tl.StartDate.Format(time.DateOnly), formatEnd(tl.EndDate))
	if tl.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", tl.Description)
	}

	if len(tl.Milestones) == 0 {
		fmt.Fprintln(out, "\nNo milestones.")
		return nil
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tID\tNAME\tSTATUS\tSTART\tEND\tDAYS")
	for _, m := range tl.Milestones {
		name := m.Name
		if m.Hidden {
			name += " (hidden)"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%d\n",
			m.SortOrder, m.ID, name, m.Status,
			m.StartDate.Format(time.DateOnly), m.EndDate.Format(time.DateOnly), m.Duration)
	}
	return w.Flush()
}
