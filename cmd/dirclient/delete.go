package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

func newDeleteCommand(a *app) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "delete DN...",
		Short: "Delete entries concurrently on one connection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs := make([]*ldapclient.DeleteRequest, len(args))
			for i, dn := range args {
				if err := ldapclient.ValidateDNSyntax(dn); err != nil {
					return err
				}
				reqs[i] = &ldapclient.DeleteRequest{DN: dn}
			}

			return a.run(cmd, func(ctx context.Context, factory *ldapclient.ConnectionFactory) error {
				conn, err := factory.Open(ctx)
				if err != nil {
					return err
				}
				defer conn.Close()

				op := ldapclient.NewDeleteOperation(conn).AddResponseHandlers(
					ldapclient.LogResponseHandler[*ldapclient.DeleteRequest, ldapclient.Void]{},
					ldapclient.MetricsResponseHandler[*ldapclient.DeleteRequest, ldapclient.Void]{Operation: "delete", Metrics: factory.Metrics()},
				)
				worker := ldapclient.NewOperationWorker("delete",
					ldapclient.Executor[*ldapclient.DeleteRequest, ldapclient.Void](op),
					ldapclient.NewWorkerPool(concurrency))
				responses := worker.ExecuteToCompletion(ctx, reqs...)

				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d of %d entries\n", len(responses), len(reqs))
				if len(responses) < len(reqs) {
					return fmt.Errorf("%d deletes failed", len(reqs)-len(responses))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "maximum deletes in flight, 0 for no limit")
	return cmd
}
