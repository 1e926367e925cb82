package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/postavshik/internal/chat"
	"github.com/zulandar/postavshik/internal/dashboard"
)

func newDashboardCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the local web dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("port") {
				port = a.cfg.Dashboard.Port
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return dashboard.Start(ctx, dashboard.StartOpts{
				Opts: dashboard.Opts{
					Directory: a.dir,
					Auth:      a.auth,
					Chat: chat.BinderOpts{
						Dialer:      chatDialer,
						Endpoint:    a.cfg.ChatURL,
						PingPeriod:  time.Duration(a.cfg.Chat.PingPeriodSec) * time.Second,
						SendQueue:   a.cfg.Chat.SendQueue,
						DialTimeout: time.Duration(a.cfg.API.TimeoutSec) * time.Second,
					},
				},
				Port: port,
				Out:  cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", dashboard.DefaultPort, "HTTP port")
	return cmd
}
