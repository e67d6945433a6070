package main

import (
	"context"
	"fmt"
	"os/signal"
	"path"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/willibrandon/tenantmove/internal/archive"
	"github.com/willibrandon/tenantmove/internal/config"
	"github.com/willibrandon/tenantmove/internal/logger"
	"github.com/willibrandon/tenantmove/internal/migrate"
	"github.com/willibrandon/tenantmove/internal/region"
)

// migrationEnv holds what export and restore share.
type migrationEnv struct {
	cfg    *config.Config
	opts   migrate.Options
	stores *region.Factory
}

func newMigrationEnv() (*migrationEnv, error) {
	cfg := loadConfig()
	initLogging(cfg)
	opts, err := migrate.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &migrationEnv{cfg: cfg, opts: opts, stores: region.NewFactory(cfg, logger.Logger())}, nil
}

func (e *migrationEnv) Close() {
	e.stores.Close()
	logger.Close()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// newExportCmd creates the export subcommand
func newExportCmd() *cobra.Command {
	var req migrate.ExportRequest
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Extract a user into an archive",
		Long: `Run the extraction half of a migration: check quotas and identity
conflicts, then write the user's rows and files into an archive. For a new
tenant this reserves the destination alias.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newMigrationEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			if req.SourceRegion == "" {
				req.SourceRegion = env.cfg.Worker.SourceRegion
			}
			if output != "" {
				env.opts.ArchiveDir = output
			}

			ctx, cancel := signalContext()
			defer cancel()

			res, err := migrate.NewCreator(env.stores, env.opts, logger.Logger()).Create(ctx, req)
			if err != nil {
				return err
			}

			fmt.Printf("Archive:      %s\n", res.ArchivePath)
			fmt.Printf("Destination:  %s (new tenant: %t)\n", regionAlias(req.DestRegion, res.DestAlias), res.NewTenant)
			fmt.Printf("Content:      %s\n", humanize.Bytes(uint64(res.TotalBytes)))
			fmt.Printf("Tables:       %d (%s rows)\n", res.Tables, humanize.Comma(res.Rows))
			fmt.Printf("Files:        %d\n", res.Files)
			if len(res.FailedFiles) > 0 {
				fmt.Printf("Failed files: %d\n", len(res.FailedFiles))
				for _, f := range res.FailedFiles {
					fmt.Printf("  %s\n", f)
				}
			}
			fmt.Printf("\nRestore with:\n  tenantmove restore --archive %s --dest-region %q --source-alias %s --total-bytes %d",
				res.ArchivePath, req.DestRegion, req.SourceAlias, res.TotalBytes)
			if req.DestAlias != "" {
				fmt.Printf(" --dest-alias %s", req.DestAlias)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().StringVar(&req.SourceAlias, "source-alias", "", "alias of the source tenant")
	cmd.Flags().StringVar(&req.SourceRegion, "source-region", "", "source region (default worker.source_region)")
	cmd.Flags().StringVar(&req.User.Email, "email", "", "email of the user to move")
	cmd.Flags().StringVar(&req.User.UserName, "user", "", "user name of the user to move")
	cmd.Flags().StringVar(&req.DestRegion, "dest-region", "", "destination region (default home region)")
	cmd.Flags().StringVar(&req.DestAlias, "dest-alias", "", "alias of an existing destination tenant")
	cmd.Flags().StringVar(&output, "output", "", "archive directory (default worker.archive_dir)")
	_ = cmd.MarkFlagRequired("source-alias")
	return cmd
}

// newRestoreCmd creates the restore subcommand
func newRestoreCmd() *cobra.Command {
	var req migrate.RestoreRequest

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore an archive into a region",
		Long: `Run the restore half of a migration: replay the archive's rows and files
into the destination region and activate the destination tenant. A failed
restore is not rolled back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newMigrationEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			ctx, cancel := signalContext()
			defer cancel()

			res, err := migrate.NewRunner(env.stores, env.opts, logger.Logger()).Run(ctx, req)
			if err != nil {
				return err
			}

			fmt.Printf("Tenant:  %s (id %d)\n", regionAlias(req.DestRegion, res.Alias), res.TenantID)
			fmt.Printf("Tables:  %d (%s rows)\n", res.Tables, humanize.Comma(res.Rows))
			fmt.Printf("Files:   %d\n", res.Files)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ArchivePath, "archive", "", "archive written by export")
	cmd.Flags().StringVar(&req.DestRegion, "dest-region", "", "destination region (default home region)")
	cmd.Flags().StringVar(&req.SourceAlias, "source-alias", "", "alias of the source tenant")
	cmd.Flags().StringVar(&req.DestAlias, "dest-alias", "", "alias of an existing destination tenant")
	cmd.Flags().Int64Var(&req.TotalBytes, "total-bytes", 0, "content size for the quota row (default from manifest)")
	_ = cmd.MarkFlagRequired("archive")
	return cmd
}

// newVerifyCmd creates the verify subcommand
func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify ARCHIVE",
		Short: "Check archive checksums and print its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := archive.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Verify(); err != nil {
				return err
			}
			m, err := r.Manifest()
			if err != nil {
				return err
			}

			fmt.Printf("Archive %s OK\n", m.ID)
			fmt.Printf("  Created:     %s (%s)\n", m.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(m.CreatedAt))
			fmt.Printf("  Source:      %s (tenant %d)\n", regionAlias(m.SourceRegion, m.SourceAlias), m.SourceTenantID)
			fmt.Printf("  User:        %s\n", m.UserID)
			fmt.Printf("  Destination: %s (new tenant: %t)\n", regionAlias(m.DestRegion, m.DestAlias), m.NewTenant)
			fmt.Printf("  Content:     %s in %d files\n", humanize.Bytes(uint64(m.TotalBytes)), len(m.Files))
			fmt.Printf("  Compression: %s\n\n", m.Compression)
			fmt.Print(manifestTree(m).String())
			return nil
		},
	}
}

// manifestTree lists table snapshots under their module.
func manifestTree(m *archive.Manifest) treeprint.Tree {
	tree := treeprint.NewWithRoot(fmt.Sprintf("tables (%d)", len(m.Tables)))
	modules := make(map[string]treeprint.Tree)
	for _, t := range m.Tables {
		mod, table := path.Split(t.Key)
		mod = path.Clean(mod)
		branch, ok := modules[mod]
		if !ok {
			branch = tree.AddBranch(mod)
			modules[mod] = branch
		}
		branch.AddNode(fmt.Sprintf("%s  %s rows", table, humanize.Comma(int64(t.Rows))))
	}
	return tree
}
