package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

func newCompareCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compare DN ATTRIBUTE VALUE",
		Short: "Report whether an entry holds an attribute value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ldapclient.ValidateDNSyntax(args[0]); err != nil {
				return err
			}
			req := &ldapclient.CompareRequest{DN: args[0], Attribute: args[1], Value: args[2]}

			return a.run(cmd, func(ctx context.Context, factory *ldapclient.ConnectionFactory) error {
				conn, err := factory.Open(ctx)
				if err != nil {
					return err
				}
				defer conn.Close()

				resp, err := ldapclient.NewCompareOperation(conn).
					AddResponseHandlers(ldapclient.MetricsResponseHandler[*ldapclient.CompareRequest, bool]{Operation: "compare", Metrics: factory.Metrics()}).
					Execute(ctx, req)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Result())
				return err
			})
		},
	}
}
