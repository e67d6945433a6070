package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/willibrandon/tenantmove/internal/queue"
)

func openQueue() (*queue.Store, error) {
	cfg := loadConfig()
	return queue.Open(cfg.Queue.Path)
}

// newEnqueueCmd creates the enqueue subcommand
func newEnqueueCmd() *cobra.Command {
	var req queue.Request

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a migration request",
		Long: `Queue a request to move one user out of a source tenant. Without
--dest-alias the worker creates a new tenant whose alias is derived from the
user name or email.

Examples:
  tenantmove enqueue --email alice@acme.example --source-alias acme --dest-region eu
  tenantmove enqueue --user alice --source-alias acme --dest-alias globex`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			id, err := q.Enqueue(context.Background(), &req)
			if err != nil {
				return err
			}
			fmt.Printf("Request %d queued\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "email of the user to move")
	cmd.Flags().StringVar(&req.UserName, "user", "", "user name of the user to move")
	cmd.Flags().StringVar(&req.SourceAlias, "source-alias", "", "alias of the source tenant")
	cmd.Flags().StringVar(&req.SourceRegion, "source-region", "", "source region (default worker.source_region)")
	cmd.Flags().StringVar(&req.DestRegion, "dest-region", "", "destination region (default home region)")
	cmd.Flags().StringVar(&req.DestAlias, "dest-alias", "", "alias of an existing destination tenant")
	_ = cmd.MarkFlagRequired("source-alias")
	return cmd
}

// newRequestsCmd creates the requests subcommand
func newRequestsCmd() *cobra.Command {
	var status string
	var format string
	var limit int

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List migration requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			of, err := parseOutputFormat(format)
			if err != nil {
				return err
			}

			filter := queue.Filter{Limit: limit}
			if status != "" {
				if filter.Status, err = queue.ParseStatus(status); err != nil {
					return err
				}
			}

			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			requests, err := q.List(context.Background(), filter)
			if err != nil {
				return err
			}
			return printRequests(os.Stdout, requests, of)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show requests with this status (pending, in_work, success, error)")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json or yaml")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of requests (0 for all)")
	return cmd
}

// newRequeueCmd creates the requeue subcommand
func newRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue ID",
		Short: "Return a failed request to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid request id %q", args[0])
			}

			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			if err := q.Requeue(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("Request %d requeued\n", id)
			return nil
		},
	}
}
