package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheusHen/keyrelay/keyrelay/identity"
)

// listen: stay connected and print every message as it arrives.
func listenCmd() *cobra.Command {
	var rf relayFlags
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect and print decrypted messages as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := rf.connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Printf("listening as %s\n", c.ID())

			for {
				select {
				case m, ok := <-c.Messages():
					if !ok {
						return fmt.Errorf("relay closed the connection")
					}
					fmt.Printf("[%s] %s\n", identity.FingerprintID(m.From), m.Plaintext)
				case <-ctx.Done():
					lctx, cancel := context.WithTimeout(cmd.Context(), cfg.WriteTimeout)
					defer cancel()
					return c.Logout(lctx)
				}
			}
		},
	}
	rf.register(cmd)
	return cmd
}
