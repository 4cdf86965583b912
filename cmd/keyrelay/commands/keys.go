package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/TheusHen/keyrelay/keyrelay/identity"
	"github.com/TheusHen/keyrelay/keyrelay/protocol"
)

// The key file holds the base64url private key on one line.

func loadKey(path string) (identity.KeyPair, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return identity.KeyPair{}, fmt.Errorf("no identity at %s, run keygen first", path)
		}
		return identity.KeyPair{}, err
	}
	priv, err := protocol.DecodeBinary(strings.TrimSpace(string(b)))
	if err != nil {
		return identity.KeyPair{}, fmt.Errorf("key file %s: %w", path, err)
	}
	return identity.KeyPairFromPrivate(priv)
}

func saveKey(path string, kp identity.KeyPair, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, protocol.EncodeBinary(kp.PrivateKey[:])); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
