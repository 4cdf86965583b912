package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheusHen/keyrelay/keyrelay"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := loadKey(keyFile)
			if err != nil {
				return err
			}
			srv, err := keyrelay.NewServer(kp, cfg)
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cmd.Printf("relay %s\n", srv.ID())
			err = srv.ListenAndServe(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, keyrelay.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("listen", "", "listen address (default :8443)")
	return cmd
}
