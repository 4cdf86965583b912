package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/keyrelay/keyrelay/identity"
)

func keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an identity key file and print its public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := saveKey(keyFile, kp, force); err != nil {
				return err
			}
			fmt.Printf("Identity written to %s\nPublic key:  %s\nFingerprint: %s\n",
				keyFile, kp.ID(), identity.Fingerprint(kp.PublicKey[:]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}
