package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// send <recipient-key> <message>: encrypt, relay and wait for DELIVERED.
func sendCmd() *cobra.Command {
	var rf relayFlags
	cmd := &cobra.Command{
		Use:   "send <recipient-key> <message>",
		Short: "Encrypt and send one message to a connected peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rf.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.HandshakeTimeout)
			defer cancel()
			id, err := c.Send(ctx, args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("delivered %s\n", id)
			return c.Logout(ctx)
		},
	}
	rf.register(cmd)
	return cmd
}
