package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/TheusHen/keyrelay/keyrelay"
)

// relayFlags are shared by the commands that connect to a relay.
type relayFlags struct {
	endpoint  string
	serverKey string
}

func (f *relayFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.endpoint, "relay", "ws://127.0.0.1:8443/ws", "relay endpoint (ws URL, or host:port for quic)")
	cmd.Flags().StringVar(&f.serverKey, "server-key", "", "expected relay public key")
}

func (f *relayFlags) connect(ctx context.Context) (*keyrelay.Client, error) {
	kp, err := loadKey(keyFile)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	c := keyrelay.NewClient(kp, cfg)
	if err := c.Dial(dialCtx, f.endpoint, f.serverKey); err != nil {
		return nil, err
	}
	return c, nil
}
