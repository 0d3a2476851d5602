package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sectionmgr/internal/allocation"
	"sectionmgr/internal/canvas"
	"sectionmgr/internal/config"
	"sectionmgr/internal/execute"
	"sectionmgr/internal/reconcile"
	"sectionmgr/internal/template"
)

var (
	// Global flags
	verbose    bool
	configPath string
	baseURL    string
	apiToken   string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sectionmgr",
	Short: "sectionmgr - course section reconciliation and allocation",
	Long: `sectionmgr plans, creates, and reconciles course sections against a
remote course system.

The workflow is analyze -> template -> edit -> validate -> execute. Sections
created by the tool carry an ownership tag; everything else in the course is
treated as read-only. Every execution is grouped under a session id that can
be rolled back.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if baseURL != "" {
			cfg.Canvas.BaseURL = baseURL
		}
		if apiToken != "" {
			cfg.Canvas.APIToken = apiToken
		}

		zcfg := zap.NewProductionConfig()
		if cfg.Logging.Format == "text" {
			zcfg = zap.NewDevelopmentConfig()
		}
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else if lvl, perr := zapcore.ParseLevel(cfg.Logging.Level); perr == nil {
			zcfg.Level = zap.NewAtomicLevelAt(lvl)
		}
		if cfg.Logging.File != "" {
			zcfg.OutputPaths = []string{cfg.Logging.File}
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// newClient builds the remote client, failing fast on incomplete config.
func newClient() (*canvas.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return canvas.NewClient(canvas.Config{
		BaseURL:  cfg.Canvas.BaseURL,
		APIToken: cfg.Canvas.APIToken,
		Timeout:  cfg.GetTimeout(),
	}, logger), nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, bounded by
// the global timeout.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() { stop(); cancel() }
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Printf("  ! %s\n", w)
	}
}

// analyzeCmd inspects a course and recommends an allocation strategy.
var analyzeCmd = &cobra.Command{
	Use:   "analyze [course-id]",
	Short: "Analyze a course and recommend a section allocation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		state, err := reconcile.FetchState(ctx, client, args[0])
		if err != nil {
			return err
		}

		planner := allocation.NewPlanner()
		planner.TargetRatio = cfg.Allocation.TargetRatio
		planner.MaxRatio = cfg.Allocation.MaxRatio

		rec := planner.Recommend(state.Students, state.Facilitators, state.Sections)

		fmt.Printf("Course: %s (%s)\n", state.Course.Name, state.Course.CourseCode)
		fmt.Printf("Students: %d total, %d unassigned\n", rec.Students.Total, rec.Students.Unassigned)
		fmt.Printf("Facilitators: %d total, %d available\n", rec.Facilitators.Total, rec.Facilitators.Available)
		fmt.Printf("Strategy: %s (%d section(s) recommended)\n", rec.Strategy, rec.SuggestedSections)
		fmt.Printf("  %s\n", rec.Reason)
		for _, w := range rec.Warnings {
			fmt.Printf("  [%s] %s\n", w.Severity, w.Message)
		}
		return nil
	},
}

var (
	planApply        bool
	planCount        int
	planName         string
	planDistribution string
)

// planCmd builds an allocation plan and optionally applies it.
var planCmd = &cobra.Command{
	Use:   "plan [course-id]",
	Short: "Build an allocation plan for unassigned students",
	Long: `Builds a full allocation plan: section names, facilitator assignment, and
a student distribution. Prints the plan by default; --apply creates the
sections and enrollments in the remote course.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		state, err := reconcile.FetchState(ctx, client, args[0])
		if err != nil {
			return err
		}

		planner := allocation.NewPlanner()
		planner.TargetRatio = cfg.Allocation.TargetRatio
		planner.MaxRatio = cfg.Allocation.MaxRatio

		plan, err := buildPlan(planner, state, planCount, planName, planDistribution)
		if err != nil {
			return err
		}

		validation := planner.ValidatePlan(plan, cfg.Allocation.MaxRatio)
		for _, e := range validation.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		for _, w := range validation.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		if !validation.Valid {
			return fmt.Errorf("plan failed validation")
		}

		if !planApply {
			return printJSON(plan)
		}

		user, err := client.GetCurrentUser(ctx)
		if err != nil {
			return err
		}
		runner := execute.NewRunner(client, logger)
		report := runner.RunPlan(ctx, args[0], user.ID, plan)
		return printJSON(report)
	},
}

var templateOut string

// templateCmd renders the current course state as an editable table.
var templateCmd = &cobra.Command{
	Use:   "template [course-id]",
	Short: "Generate the editable section template for a course",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		tpl, err := template.NewBuilder(client).Build(ctx, args[0])
		if err != nil {
			return err
		}

		out := templateOut
		if out == "" {
			out = tpl.Filename
		}
		if err := os.WriteFile(out, []byte(tpl.Content), 0644); err != nil {
			return fmt.Errorf("failed to write template: %w", err)
		}

		s := tpl.Summary
		fmt.Printf("Wrote %s\n", out)
		fmt.Printf("  %d existing section(s), %d tool-created, %d unassigned student(s), %d facilitator(s) available\n",
			s.ExistingSections, s.ToolCreatedSections, s.UnassignedStudents, s.AvailableFacilitators)
		return nil
	},
}

var deletionMode bool

// validateCmd reconciles an edited template against live state.
var validateCmd = &cobra.Command{
	Use:   "validate [course-id] [file]",
	Short: "Validate an edited template against live course state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		rows, state, result, err := reconcileFile(ctx, client, args[0], args[1])
		if err != nil {
			return err
		}

		fmt.Printf("%d row(s): %d valid, %d with errors, %d with warnings\n",
			result.TotalRows, result.ValidRows, result.ErrorRows, result.WarningRows)
		for _, e := range result.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		printWarnings(result.Warnings)

		if result.Valid {
			batch, err := execute.BuildBatch(rows, result, state, execute.Options{DeletionMode: deletionMode})
			if err == nil {
				fmt.Println("Planned operations:")
				if perr := printJSON(execute.Summarize(batch)); perr != nil {
					return perr
				}
			} else if !isConfirmationRequired(err) {
				return err
			}
		}

		if len(result.DeletionWarnings) > 0 {
			fmt.Printf("Sections missing from the upload (deleted only with --deletion-mode --confirm):\n")
			for _, c := range result.DeletionWarnings {
				fmt.Printf("  %s (%s): %d enrolled student(s)\n", c.Name, c.SectionID, c.StudentCount)
			}
		}
		if !result.Valid {
			return fmt.Errorf("validation failed with %d error(s)", result.ErrorRows)
		}
		return nil
	},
}

var confirmDeletions bool

// executeCmd applies an edited template.
var executeCmd = &cobra.Command{
	Use:   "execute [course-id] [file]",
	Short: "Validate and apply an edited template",
	Long: `Re-validates the uploaded template against live state and, when clean,
applies it: new sections are created and enrolled first, deletions run last.

Omitted tool-created sections are only deleted when both --deletion-mode and
--confirm are set; the confirmation covers exactly the candidate set the
validation reported.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		rows, state, result, err := reconcileFile(ctx, client, args[0], args[1])
		if err != nil {
			return err
		}
		if !result.Valid {
			for _, e := range result.Errors {
				fmt.Printf("  error: %s\n", e)
			}
			return fmt.Errorf("upload failed validation with %d error(s)", result.ErrorRows)
		}
		printWarnings(result.Warnings)

		opts := execute.Options{
			DeletionMode:      deletionMode,
			DeletionConfirmed: confirmDeletions,
		}
		if confirmDeletions {
			// Confirmation binds to the candidate set of this validation pass.
			opts.ConfirmedCandidates = result.DeletionWarnings
		}
		batch, err := execute.BuildBatch(rows, result, state, opts)
		if err != nil {
			return err
		}

		user, err := client.GetCurrentUser(ctx)
		if err != nil {
			return err
		}
		runner := execute.NewRunner(client, logger)
		report := runner.Run(ctx, args[0], user.ID, batch)
		if err := printJSON(report); err != nil {
			return err
		}
		if len(report.Errors) > 0 {
			return fmt.Errorf("completed with %d failed operation(s)", len(report.Errors))
		}
		return nil
	},
}

// rollbackCmd removes every section created under one session.
var rollbackCmd = &cobra.Command{
	Use:   "rollback [course-id] [session-id]",
	Short: "Delete all sections created by one execution session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		runner := execute.NewRunner(client, logger)
		report, err := runner.Rollback(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
		if len(report.Errors) > 0 {
			return fmt.Errorf("rollback completed with %d failed operation(s)", len(report.Errors))
		}
		return nil
	},
}

// sessionsCmd lists execution sessions that still have live sections.
var sessionsCmd = &cobra.Command{
	Use:   "sessions [course-id]",
	Short: "List execution sessions with live sections in a course",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		sections, err := client.GetSections(ctx, args[0])
		if err != nil {
			return err
		}
		sessions := execute.Sessions(sections)
		if len(sessions) == 0 {
			fmt.Println("No tool-created sections found.")
			return nil
		}
		for sid, secs := range sessions {
			names := make([]string, len(secs))
			for i, s := range secs {
				names[i] = s.Name
			}
			fmt.Printf("%s: %d section(s): %s\n", sid, len(secs), strings.Join(names, ", "))
		}
		return nil
	},
}

// buildPlan allocates the unassigned pool. The section count defaults to
// the planner's recommendation and the name stem to the course code.
func buildPlan(planner *allocation.Planner, state reconcile.State, count int, base, dist string) (*allocation.Plan, error) {
	unassigned := allocation.UnassignedStudents(state.Students, state.Sections)
	available := allocation.AvailableFacilitators(state.Facilitators, state.Sections)

	if count == 0 {
		count = planner.Recommend(state.Students, state.Facilitators, state.Sections).SuggestedSections
	}
	if base == "" {
		base = state.Course.CourseCode
	}

	sc := allocation.DefaultNameTemplates(base)
	sc.Count = count
	return planner.CreatePlan(unassigned, available, sc, allocation.Distribution(dist))
}

// reconcileFile parses an uploaded template and reconciles it against live
// course state.
func reconcileFile(ctx context.Context, client canvas.CourseClient, courseID, path string) ([]reconcile.Row, reconcile.State, *reconcile.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reconcile.State{}, nil, fmt.Errorf("failed to read upload: %w", err)
	}
	rows, err := reconcile.Parse(data)
	if err != nil {
		return nil, reconcile.State{}, nil, err
	}
	state, err := reconcile.FetchState(ctx, client, courseID)
	if err != nil {
		return nil, reconcile.State{}, nil, err
	}
	return rows, state, reconcile.Reconcile(rows, state), nil
}

func isConfirmationRequired(err error) bool {
	var confirm *execute.ConfirmationRequiredError
	return errors.As(err, &confirm)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sectionmgr.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Remote course system base URL (or set CANVAS_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "API token (or set CANVAS_API_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	planCmd.Flags().BoolVar(&planApply, "apply", false, "Create the planned sections in the remote course")
	planCmd.Flags().IntVar(&planCount, "sections", 0, "Number of sections (default: recommended count)")
	planCmd.Flags().StringVar(&planName, "name", "", "Base section name (default: course code)")
	planCmd.Flags().StringVar(&planDistribution, "distribution", string(allocation.DistributionAlphabetical),
		"Student distribution: alphabetical, random, balanced")

	templateCmd.Flags().StringVarP(&templateOut, "output", "o", "", "Output file (default: generated name)")

	validateCmd.Flags().BoolVar(&deletionMode, "deletion-mode", false, "Treat omitted tool-created sections as deletion candidates")
	executeCmd.Flags().BoolVar(&deletionMode, "deletion-mode", false, "Treat omitted tool-created sections as deletion candidates")
	executeCmd.Flags().BoolVar(&confirmDeletions, "confirm", false, "Confirm deletion of the reported candidate set")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
