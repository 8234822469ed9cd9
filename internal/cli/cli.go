package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/pharmadesk/internal/app"
	"github.com/Additional-Code/pharmadesk/internal/migration"
	"github.com/Additional-Code/pharmadesk/internal/seeder"
)

const shutdownTimeoutFlag = "shutdown-timeout"

// NewRootCommand builds the root pharmadesk CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pharmadesk",
		Short:         "Pharmacy delivery order desk",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Duration(shutdownTimeoutFlag, 10*time.Second, "Grace period for stopping the application")

	root.AddCommand(
		newStartCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newWorkerCmd(),
	)
	return root
}

// Execute runs the pharmadesk CLI until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Serve the order API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, app.Module)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Consume order events until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, app.Worker)
		},
	})
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the storage schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(ctx context.Context, mig *migration.Migrator) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				return printVersion(ctx, cmd, mig, "migrations applied")
			})
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			return withMigrator(cmd, func(ctx context.Context, mig *migration.Migrator) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				return printVersion(ctx, cmd, mig, "migrations rolled back")
			})
		},
	}
	down.Flags().Int("steps", 1, "Number of migration steps to roll back")
	down.Flags().Bool("all", false, "Roll back every applied migration")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(ctx context.Context, mig *migration.Migrator) error {
				return printVersion(ctx, cmd, mig, "schema")
			})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load dashboard accounts and sample orders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			usersOnly, _ := cmd.Flags().GetBool("users-only")
			var seed *seeder.Seeder
			opts := fx.Options(app.Core, seeder.Module, fx.Populate(&seed))
			return runOnce(cmd, opts, func(ctx context.Context) error {
				run := seed.All
				if usersOnly {
					run = seed.Users
				}
				if err := run(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "seed data applied")
				return nil
			})
		},
	}
	cmd.Flags().Bool("users-only", false, "Seed dashboard accounts only")
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(context.Context, *migration.Migrator) error) error {
	var mig *migration.Migrator
	opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
	return runOnce(cmd, opts, func(ctx context.Context) error {
		return fn(ctx, mig)
	})
}

func printVersion(ctx context.Context, cmd *cobra.Command, mig *migration.Migrator, label string) error {
	version, err := mig.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (version %d)\n", label, version)
	return nil
}

// serve starts the application and blocks until the command context is
// cancelled.
func serve(cmd *cobra.Command, opts fx.Option) error {
	application := fx.New(opts)
	if err := application.Start(cmd.Context()); err != nil {
		return err
	}
	<-cmd.Context().Done()
	return stopApp(cmd, application)
}

// runOnce starts a quiet application, runs fn against it and stops it.
func runOnce(cmd *cobra.Command, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(cmd.Context()); err != nil {
		return err
	}
	runErr := fn(cmd.Context())
	if err := stopApp(cmd, application); runErr == nil {
		runErr = err
	}
	return runErr
}

func stopApp(cmd *cobra.Command, application *fx.App) error {
	timeout, err := cmd.Flags().GetDuration(shutdownTimeoutFlag)
	if err != nil || timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return application.Stop(ctx)
}
