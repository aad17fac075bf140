package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"patchsync/internal/config"
	"patchsync/internal/errors"
	"patchsync/internal/git"
	"patchsync/internal/journal"
	"patchsync/internal/logging"
	"patchsync/internal/patches"
	"patchsync/internal/specfile"
	syncer "patchsync/internal/sync"
	"patchsync/internal/watch"
)

var rootCmd = &cobra.Command{
	Use:   "patchsync",
	Short: "Sync a packaging spec's patch set with its -patches branch",
	Long: `Patchsync regenerates the Patch/%patch directives of an RPM packaging
spec from the commits of the sibling <branch>-patches branch: commits after
the spec's patches_base are exported with format-patch, filtered, renumbered
into the spec, and folded into a single commit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context())
	},
}

// app bundles everything a command needs, built once per invocation.
type app struct {
	cfg     *config.Config
	root    string
	runner  *git.ExecRunner
	logger  *logging.Logger
	journal *journal.Store
	syncer  *syncer.Syncer
}

func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
}

func newApp(ctx context.Context, withJournal bool) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	if !git.IsRepository(cwd) {
		return nil, errors.Precondition("Not inside a git repository. Aborting", nil)
	}

	probe, err := git.NewExecRunner(cwd, nil)
	if err != nil {
		return nil, err
	}
	root, err := probe.Root(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	runner, err := git.NewExecRunner(root, logger.Logger)
	if err != nil {
		return nil, err
	}
	locator := specfile.NewToolLocator(root, cfg.SpecTools, logger.Logger)
	filter := patches.NewFilterDiff(cfg.FilterTool)

	var jnl *journal.Store
	if withJournal {
		jnl, err = journal.Open(filepath.Join(root, cfg.JournalPath))
		if err != nil {
			return nil, err
		}
	}

	return &app{
		cfg:     cfg,
		root:    root,
		runner:  runner,
		logger:  logger,
		journal: jnl,
		syncer:  syncer.New(cfg, root, runner, locator, filter, jnl, logger),
	}, nil
}

func runSync(ctx context.Context) error {
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.syncer.Run(ctx)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func printResult(res *syncer.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	if len(res.Exported) == 0 {
		fmt.Printf("%s no commits to export past %s; spec patch block emptied\n",
			yellow("!"), res.Base.Ref)
	} else {
		fmt.Printf("Updated %s from %s:\n", filepath.Base(res.SpecPath), res.PatchesBranch)
		for _, p := range res.Exported {
			fmt.Printf("\t%s %s\n", green("+"), p)
		}
	}
	for _, p := range res.Removed {
		fmt.Printf("\t%s %s\n", color.RedString("-"), p)
	}
	fmt.Printf("Run %s recorded.\n", shortID(res.RunID))
}

func init() {
	var syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Regenerate patches and spec directives, then amend the commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context())
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show what a sync would export, without touching the tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.syncer.Status(cmd.Context())
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan).SprintFunc()
			fmt.Printf("Spec:    %s\n", st.SpecPath)
			fmt.Printf("Base:    %s (%s, skip %d)\n", st.Base.Ref, shortID(st.BaseCommit), st.Base.Skip)
			fmt.Printf("Patches: %s\n", st.PatchesBranch)
			if len(st.Existing) > 0 {
				fmt.Printf("\nCurrent patches in spec:\n")
				for _, p := range st.Existing {
					fmt.Printf("\t%s\n", p)
				}
			}
			if st.StartCommit == "" {
				color.Yellow("\nNothing to export: ancestry path is empty or fully skipped")
				return nil
			}
			fmt.Printf("\nWould export from %s:\n", cyan(shortID(st.StartCommit)))
			for _, c := range st.Pending {
				fmt.Printf("\t%s %s\n", cyan(shortID(c.ID)), c.Subject)
			}
			return nil
		},
	}

	var journalCmd = &cobra.Command{
		Use:   "journal",
		Short: "Inspect recorded sync runs",
	}

	var listRunsCmd = &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.journal.List()
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%s  %s  %-6s  %d patches  [%s]\n",
					r.ID[:8],
					r.StartedAt.Format(time.RFC3339),
					r.Outcome,
					len(r.Exported),
					r.PatchesBranch,
				)
			}
			return nil
		},
	}

	var showRunCmd = &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show one run, or dump an archived patch with --patch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patchName, _ := cmd.Flags().GetString("patch")

			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := findRun(a.journal, args[0])
			if err != nil {
				return err
			}

			if patchName != "" {
				content, err := a.journal.Patch(run.ID, patchName)
				if err != nil {
					return err
				}
				os.Stdout.Write(content)
				return nil
			}

			fmt.Printf("Run:      %s\n", run.ID)
			fmt.Printf("Started:  %s\n", run.StartedAt.Format(time.RFC3339))
			fmt.Printf("Outcome:  %s\n", run.Outcome)
			fmt.Printf("Branch:   %s (patches from %s)\n", run.Branch, run.PatchesBranch)
			fmt.Printf("Base:     %s (skip %d)\n", run.BaseRef, run.Skip)
			if run.StartCommit != "" {
				fmt.Printf("Start:    %s\n", run.StartCommit)
			}
			if run.Error != "" {
				fmt.Printf("Error:    %s\n", run.Error)
			}
			if len(run.Exported) > 0 {
				fmt.Println("Exported:")
				for _, p := range run.Exported {
					fmt.Printf("\t%s\n", p)
				}
			}
			if len(run.Archived) > 0 {
				fmt.Println("Archived (use --patch <name> to dump):")
				for _, p := range run.Archived {
					fmt.Printf("\t%s\n", p)
				}
			}
			return nil
		},
	}
	showRunCmd.Flags().StringP("patch", "p", "", "Archived patch file to dump")

	var watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Re-sync whenever the patches branch ref moves",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			branch := a.cfg.Branch
			if branch == "" {
				branch, err = a.runner.CurrentBranch(ctx)
				if err != nil {
					return err
				}
			}
			patchesBranch := a.cfg.PatchesBranchFor(branch)

			w := watch.New(filepath.Join(a.root, ".git"), patchesBranch, func(ctx context.Context) error {
				res, err := a.syncer.Run(ctx)
				if err != nil {
					return err
				}
				printResult(res)
				return nil
			}, a.logger.Logger)

			return w.Run(ctx)
		},
	}

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(watchCmd)

	journalCmd.AddCommand(listRunsCmd)
	journalCmd.AddCommand(showRunCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// findRun accepts a full run ID or an unambiguous prefix.
func findRun(jnl *journal.Store, id string) (*journal.Run, error) {
	run, err := jnl.Get(id)
	if err == nil {
		return run, nil
	}

	runs, err := jnl.List()
	if err != nil {
		return nil, err
	}
	var match *journal.Run
	for _, r := range runs {
		if len(id) > 0 && len(r.ID) >= len(id) && r.ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("run ID %s is ambiguous", id)
			}
			match = r
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no run %s", id)
	}
	return match, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errors.ExitCode(err))
	}
}
