package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/captaindev404/prd-tools-sub010/internal/config"
	"github.com/captaindev404/prd-tools-sub010/internal/dashboard"
	"github.com/captaindev404/prd-tools-sub010/internal/db"
	"github.com/captaindev404/prd-tools-sub010/internal/domain"
	"github.com/captaindev404/prd-tools-sub010/internal/engine"
	"github.com/captaindev404/prd-tools-sub010/internal/migrate"
	"github.com/captaindev404/prd-tools-sub010/internal/repo"
	"github.com/captaindev404/prd-tools-sub010/internal/resolve"
	"github.com/captaindev404/prd-tools-sub010/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "taskctl",
	Short: "Task coordination CLI",
	Long: `taskctl tracks work items, their dependency graph and the workers
claiming them, in a single shared SQLite store.

Items carry a stable internal id plus a short sequential one (T-12); every
command accepts either, or a unique prefix of the internal id. Workers are
addressed the same way (W-3) or by name. Dependencies are enforced at
completion: an item cannot complete while anything it depends on is open.
Every mutation lands in the audit log.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("worker", "", "acting worker (name, W-n or id prefix)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("worker", rootCmd.PersistentFlags().Lookup("worker"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(updateStatusCmd())
	rootCmd.AddCommand(dependsCmd())
	rootCmd.AddCommand(readyCmd())
	rootCmd.AddCommand(acCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(batchUpdateCmd())
	rootCmd.AddCommand(batchAssignCmd())
	rootCmd.AddCommand(epicsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the workspace store",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("Initialized %s (schema v%d)\n", db.Path(workspace), v)
			return nil
		},
	}
}

func createCmd() *cobra.Command {
	var opts engine.CreateItemOptions
	var parent string
	var dependsOn []string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Title = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Actor = resolveActor(ctx, e)
				if parent != "" {
					ref, err := resolveItem(ctx, e, parent)
					if err != nil {
						return err
					}
					opts.ParentID = ref.ID
				}
				opts.DependsOn = opts.DependsOn[:0]
				for _, token := range dependsOn {
					ref, err := resolveItem(ctx, e, token)
					if err != nil {
						return err
					}
					opts.DependsOn = append(opts.DependsOn, ref.ID)
				}
				t, err := e.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Created %s: %s\n", t.Ref(), t.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high, critical)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent item")
	cmd.Flags().StringVar(&opts.Epic, "epic", "", "epic label")
	cmd.Flags().IntVar(&opts.EstimatedMinutes, "estimate", 0, "estimated minutes")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "items this one depends on")
	return cmd
}

func listCmd() *cobra.Command {
	var status, epic, priority, assignee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				filters := repo.ItemFilters{Status: status, Epic: epic, Priority: priority}
				if assignee != "" {
					ref, err := resolveWorker(ctx, e, assignee)
					if err != nil {
						return err
					}
					filters.WorkerID = ref.ID
				}
				items, err := e.Repo.ListItems(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printItemTable(ctx, e, items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&epic, "epic", "", "filter by epic")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assigned worker")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item>",
		Short: "Show one work item with dependencies and criteria",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				t, err := e.Repo.GetItem(ctx, ref.ID)
				if err != nil {
					return err
				}
				deps, err := e.Graph.ListDependencies(ctx, t.ID)
				if err != nil {
					return err
				}
				criteria, err := e.Repo.ListCriteria(ctx, t.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"item":         t,
						"dependencies": deps,
						"criteria":     criteria,
					})
				}
				fmt.Printf("%s  %s\n", t.Ref(), t.Title)
				fmt.Printf("  id:       %s\n", t.ID)
				fmt.Printf("  status:   %s\n", t.Status)
				fmt.Printf("  priority: %s\n", t.Priority)
				if t.Epic != "" {
					fmt.Printf("  epic:     %s\n", t.Epic)
				}
				if t.Description != "" {
					fmt.Printf("  desc:     %s\n", t.Description)
				}
				if t.AssignedWorkerID != nil {
					fmt.Printf("  assignee: %s\n", displayItemOrID(ctx, e, domain.KindWorker, *t.AssignedWorkerID))
				}
				if t.CompletedAt != nil {
					fmt.Printf("  done at:  %s\n", *t.CompletedAt)
				}
				if len(deps.DependsOn) > 0 {
					fmt.Printf("  depends on: %s\n", joinRefs(ctx, e, deps.DependsOn))
				}
				if len(deps.Blocks) > 0 {
					fmt.Printf("  blocks:     %s\n", joinRefs(ctx, e, deps.Blocks))
				}
				if len(criteria) > 0 {
					fmt.Println("  acceptance criteria:")
					for _, c := range criteria {
						mark := " "
						if c.Completed {
							mark = "x"
						}
						fmt.Printf("    [%s] %d. %s\n", mark, c.Position, c.Text)
					}
				}
				return nil
			})
		},
	}
}

func updateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-status <item> <status>",
		Short: "Apply one status transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				t, err := e.UpdateStatus(ctx, ref.ID, args[1], resolveActor(ctx, e))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s -> %s\n", t.Ref(), t.Status)
				return nil
			})
		},
	}
}

func dependsCmd() *cobra.Command {
	dep := &cobra.Command{Use: "depends", Short: "Manage dependency edges"}
	dep.AddCommand(&cobra.Command{
		Use:   "add <item> <depends-on>",
		Short: "Add a depends-on edge (rejected if it would form a cycle)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				dependsOn, err := resolveItem(ctx, e, args[1])
				if err != nil {
					return err
				}
				if err := e.AddDependency(ctx, item.ID, dependsOn.ID, resolveActor(ctx, e)); err != nil {
					return err
				}
				fmt.Printf("%s now depends on %s\n", item.Ref(), dependsOn.Ref())
				return nil
			})
		},
	})
	dep.AddCommand(&cobra.Command{
		Use:   "remove <item> <depends-on>",
		Short: "Remove a depends-on edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				dependsOn, err := resolveItem(ctx, e, args[1])
				if err != nil {
					return err
				}
				if err := e.RemoveDependency(ctx, item.ID, dependsOn.ID, resolveActor(ctx, e)); err != nil {
					return err
				}
				fmt.Printf("%s no longer depends on %s\n", item.Ref(), dependsOn.Ref())
				return nil
			})
		},
	})
	dep.AddCommand(&cobra.Command{
		Use:   "list <item>",
		Short: "List an item's depends-on and blocks sets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				deps, err := e.Graph.ListDependencies(ctx, ref.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(deps)
				}
				fmt.Printf("%s depends on: %s\n", ref.Ref(), joinRefs(ctx, e, deps.DependsOn))
				fmt.Printf("%s blocks:     %s\n", ref.Ref(), joinRefs(ctx, e, deps.Blocks))
				return nil
			})
		},
	})
	return dep
}

func readyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "List items whose dependencies are all satisfied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Graph.Ready(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printItemTable(ctx, e, items)
				return nil
			})
		},
	}
}

func acCmd() *cobra.Command {
	ac := &cobra.Command{Use: "ac", Short: "Manage acceptance criteria"}
	ac.AddCommand(&cobra.Command{
		Use:   "add <item> <text>",
		Short: "Append a criterion to an item's checklist",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				c, err := e.AddCriterion(ctx, ref.ID, strings.Join(args[1:], " "), resolveActor(ctx, e))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("%s AC %d: %s\n", ref.Ref(), c.Position, c.Text)
				return nil
			})
		},
	})
	ac.AddCommand(&cobra.Command{
		Use:   "list <item>",
		Short: "List an item's checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				criteria, err := e.Repo.ListCriteria(ctx, ref.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(criteria)
				}
				done, total, err := e.Repo.CriteriaProgress(ctx, ref.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d/%d complete\n", ref.Ref(), done, total)
				for _, c := range criteria {
					mark := " "
					if c.Completed {
						mark = "x"
					}
					fmt.Printf("  [%s] %d. %s\n", mark, c.Position, c.Text)
				}
				return nil
			})
		},
	})
	ac.AddCommand(acSetCmd("check", "Mark a criterion complete", true))
	ac.AddCommand(acSetCmd("uncheck", "Clear a criterion", false))
	return ac
}

func acSetCmd(verb, short string, completed bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <item> <position>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var position int
			if _, err := fmt.Sscanf(args[1], "%d", &position); err != nil {
				return fmt.Errorf("position must be a number: %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				actor := resolveActor(ctx, e)
				var c domain.AcceptanceCriterion
				if completed {
					c, err = e.CheckCriterion(ctx, ref.ID, position, actor)
				} else {
					c, err = e.UncheckCriterion(ctx, ref.ID, position, actor)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				mark := " "
				if c.Completed {
					mark = "x"
				}
				fmt.Printf("%s [%s] %d. %s\n", ref.Ref(), mark, c.Position, c.Text)
				return nil
			})
		},
	}
}

func assignCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "assign <item> <worker>",
		Short: "Assign a worker to an item without starting it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				worker, err := resolveWorker(ctx, e, args[1])
				if err != nil {
					return err
				}
				t, err := e.Assign(ctx, item.ID, worker.ID, force)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s assigned to %s\n", t.Ref(), worker.Name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reassign even if assigned to another worker")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <item>",
		Short: "Claim an item and start working on it",
		Long: `Sync atomically moves the item to in_progress assigned to the acting
worker, and marks the worker as working on it. An item already claimed by
someone else is rejected. Set the worker with --worker or taskctl.yml.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				worker, err := requireWorker(ctx, e)
				if err != nil {
					return err
				}
				item, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				t, err := e.Sync(ctx, worker.ID, item.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s in progress, claimed by %s\n", t.Ref(), worker.Name)
				return nil
			})
		},
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <item>",
		Short: "Complete an item (fails while dependencies are open)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				t, err := e.Complete(ctx, item.ID, resolveActor(ctx, e))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s completed\n", t.Ref())
				return nil
			})
		},
	}
}

func cancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <item>",
		Short: "Cancel an item from any non-terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := resolveItem(ctx, e, args[0])
				if err != nil {
					return err
				}
				t, err := e.Cancel(ctx, item.ID, reason, resolveActor(ctx, e))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s cancelled\n", t.Ref())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason (recorded in the audit log)")
	return cmd
}

func batchUpdateCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "batch-update <item>...",
		Short: "Apply one status to many items, all-or-nothing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--status required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := resolveItemIDs(ctx, e, args)
				if err != nil {
					return err
				}
				updated, err := e.BatchUpdateStatus(ctx, ids, status, resolveActor(ctx, e))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(updated)
				}
				for _, t := range updated {
					fmt.Printf("%s -> %s\n", t.Ref(), t.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	return cmd
}

func batchAssignCmd() *cobra.Command {
	var workerToken string
	var force bool
	cmd := &cobra.Command{
		Use:   "batch-assign <item>...",
		Short: "Assign one worker to many items, all-or-nothing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				token := workerToken
				if token == "" {
					token = actingWorkerToken()
				}
				if token == "" {
					return fmt.Errorf("a worker is required (--to, --worker or taskctl.yml)")
				}
				worker, err := resolveWorker(ctx, e, token)
				if err != nil {
					return err
				}
				ids, err := resolveItemIDs(ctx, e, args)
				if err != nil {
					return err
				}
				updated, err := e.BatchAssign(ctx, ids, worker.ID, force)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(updated)
				}
				for _, t := range updated {
					fmt.Printf("%s assigned to %s\n", t.Ref(), worker.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerToken, "to", "", "target worker (defaults to the acting worker)")
	cmd.Flags().BoolVar(&force, "force", false, "reassign items assigned to other workers")
	return cmd
}

func epicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "epics",
		Short: "Per-epic progress summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				epics, err := e.Repo.EpicSummaries(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(epics)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Epic", "Total", "Completed", "In Progress", "Pending"})
				for _, s := range epics {
					tw.AppendRow(table.Row{s.Epic, s.Total, s.Completed, s.InProgress, s.Pending})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Aggregate item and worker counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Items: %d (%d ready)\n", s.Total, s.ReadyCount)
				for _, st := range domain.ItemStatuses() {
					if c := s.ByStatus[st]; c > 0 {
						fmt.Printf("  %s: %d\n", st, c)
					}
				}
				fmt.Println("Priorities:")
				for p, c := range s.ByPriority {
					fmt.Printf("  %s: %d\n", p, c)
				}
				fmt.Println("Workers:")
				for st, c := range s.WorkerCounts {
					fmt.Printf("  %s: %d\n", st, c)
				}
				return nil
			})
		},
	}
}

func workerCmd() *cobra.Command {
	w := &cobra.Command{Use: "worker", Short: "Manage workers"}
	w.AddCommand(&cobra.Command{
		Use:   "register <name>",
		Short: "Register a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				worker, err := e.RegisterWorker(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(worker)
				}
				fmt.Printf("Registered %s as %s\n", worker.Name, worker.Ref())
				return nil
			})
		},
	})
	w.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				workers, err := e.Repo.ListWorkers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(workers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Current Item"})
				for _, worker := range workers {
					current := ""
					if worker.CurrentItemID != nil {
						current = displayItemOrID(ctx, e, domain.KindItem, *worker.CurrentItemID)
					}
					tw.AppendRow(table.Row{worker.Ref(), worker.Name, worker.Status, current})
				}
				tw.Render()
				return nil
			})
		},
	})
	w.AddCommand(&cobra.Command{
		Use:   "set-status <worker> <status>",
		Short: "Set a worker idle, blocked or offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref, err := resolveWorker(ctx, e, args[0])
				if err != nil {
					return err
				}
				worker, err := e.SetWorkerStatus(ctx, ref.ID, args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(worker)
				}
				fmt.Printf("%s (%s) is now %s\n", worker.Name, worker.Ref(), worker.Status)
				return nil
			})
		},
	})
	return w
}

func auditCmd() *cobra.Command {
	var n int
	var itemToken string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var entries []domain.AuditEntry
				var err error
				if itemToken != "" {
					ref, rerr := resolveItem(ctx, e, itemToken)
					if rerr != nil {
						return rerr
					}
					entries, err = e.Repo.AuditForItem(ctx, ref.ID)
				} else {
					entries, err = e.Repo.LatestAudit(ctx, n)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Action", "Item", "Worker", "Details"})
				for _, entry := range entries {
					item, worker := "", ""
					if entry.ItemID != nil {
						item = displayItemOrID(ctx, e, domain.KindItem, *entry.ItemID)
					}
					if entry.WorkerID != nil {
						worker = displayItemOrID(ctx, e, domain.KindWorker, *entry.WorkerID)
					}
					tw.AppendRow(table.Row{entry.TS, entry.Action, item, worker, entry.Details})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&itemToken, "item", "", "show the trail for one item, oldest first")
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Live terminal dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return dashboard.Run(e, time.Duration(cfg.Dashboard.RefreshSeconds)*time.Second)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only aggregates API",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			secret := os.Getenv("TASKCTL_TOKEN_SECRET")
			if secret == "" {
				secret = cfg.Server.TokenSecret
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				handler := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{TokenSecret: secret},
				})
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving task API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from taskctl.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn))
}

func resolver(e engine.Engine) resolve.Resolver {
	return resolve.Resolver{Repo: e.Repo}
}

func resolveItem(ctx context.Context, e engine.Engine, token string) (domain.EntityRef, error) {
	return resolver(e).Resolve(ctx, domain.KindItem, token)
}

func resolveWorker(ctx context.Context, e engine.Engine, token string) (domain.EntityRef, error) {
	return resolver(e).Resolve(ctx, domain.KindWorker, token)
}

func resolveItemIDs(ctx context.Context, e engine.Engine, tokens []string) ([]string, error) {
	ids := make([]string, 0, len(tokens))
	for _, token := range tokens {
		ref, err := resolveItem(ctx, e, token)
		if err != nil {
			return nil, err
		}
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// actingWorkerToken returns the acting worker from --worker / TASKCTL_WORKER,
// falling back to the workspace config.
func actingWorkerToken() string {
	if token := viper.GetString("worker"); token != "" {
		return token
	}
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return ""
	}
	return cfg.Worker
}

// resolveActor maps the acting worker to its internal id for the audit log.
// Mutations that do not require a worker proceed with an empty actor.
func resolveActor(ctx context.Context, e engine.Engine) string {
	token := actingWorkerToken()
	if token == "" {
		return ""
	}
	ref, err := resolveWorker(ctx, e, token)
	if err != nil {
		return ""
	}
	return ref.ID
}

func requireWorker(ctx context.Context, e engine.Engine) (domain.EntityRef, error) {
	token := actingWorkerToken()
	if token == "" {
		return domain.EntityRef{}, fmt.Errorf("a worker is required (--worker, TASKCTL_WORKER or taskctl.yml)")
	}
	return resolveWorker(ctx, e, token)
}

// displayItemOrID renders an internal id as its short display form, falling
// back to the raw id if the entity is gone.
func displayItemOrID(ctx context.Context, e engine.Engine, kind domain.EntityKind, id string) string {
	switch kind {
	case domain.KindItem:
		if t, err := e.Repo.GetItem(ctx, id); err == nil {
			return t.Ref()
		}
	case domain.KindWorker:
		if w, err := e.Repo.GetWorker(ctx, id); err == nil {
			return w.Name
		}
	}
	return id
}

func joinRefs(ctx context.Context, e engine.Engine, ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	refs := make([]string, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, displayItemOrID(ctx, e, domain.KindItem, id))
	}
	return strings.Join(refs, ", ")
}

func printItemTable(ctx context.Context, e engine.Engine, items []domain.WorkItem) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Status", "Priority", "Epic", "Assignee", "Title"})
	for _, t := range items {
		assignee := ""
		if t.AssignedWorkerID != nil {
			assignee = displayItemOrID(ctx, e, domain.KindWorker, *t.AssignedWorkerID)
		}
		tw.AppendRow(table.Row{t.Ref(), t.Status, t.Priority, t.Epic, assignee, t.Title})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
