// Package commands defines the keyrelay CLI.
//
// Commands
//
//   - keygen   Create an identity key file and print its public key
//   - serve    Run a relay
//   - send     Authenticate, send one message and wait for the relay's answer
//   - listen   Authenticate and print decrypted messages as they arrive
//
// # Configuration
//
// Settings come from, in increasing priority: built-in defaults, the file
// named by --config, KEYRELAY_* environment variables and flags. Nested keys
// use an underscore in the environment, e.g. KEYRELAY_HANDSHAKE_TIMEOUT.
package commands
