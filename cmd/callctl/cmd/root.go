package cmd

import (
	"github.com/spf13/cobra"

	"github.com/callrelay/callrelay/internal/callctl"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	app := callctl.New()
	cmd := &cobra.Command{
		Use:          "callctl",
		Short:        "callctl operates the callrelay call record pipeline.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringToStringVar(&app.Params.Postgres.Connection, "postgres",
		map[string]string{"host": "localhost", "port": "5432", "user": "postgres", "password": "psw", "dbname": "postgres", "sslmode": "disable"},
		"libpq connection parameters, e.g. host=db,port=5432")
	cmd.PersistentFlags().StringVar(&app.Params.IngressUrl, "ingressUrl", "http://localhost:8000", "Base url of the call ingress")
	cmd.PersistentFlags().StringSliceVar(&app.Params.Redis.Addrs, "redisAddrs", []string{"localhost:6379"}, "Addresses of the dead-letter redis")
	cmd.PersistentFlags().StringVar(&app.Params.DeadLetterStream, "deadLetterStream", "call-records-deadletter", "Redis stream holding dead-lettered records")

	cmd.AddCommand(
		migrateCmd(app),
		summaryCmd(app),
		loadTestCmd(app),
		deadLetterCmd(app),
	)
	return cmd
}
