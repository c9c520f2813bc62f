package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/geoffreylitt/hypermerge/internal/crypto"
	"github.com/geoffreylitt/hypermerge/internal/keys"
)

// KeyPairOutput is a freshly generated, encoded key pair.
type KeyPairOutput struct {
	Kind        string `json:"kind"`
	PublicKey   string `json:"publicKey"`
	SecretKey   string `json:"secretKey"`
	DiscoveryID string `json:"discoveryId,omitempty"`
}

// RenderText prints one labelled key per line.
func (k KeyPairOutput) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "public:    %s\n", k.PublicKey)
	fmt.Fprintf(w, "secret:    %s\n", k.SecretKey)
	if k.DiscoveryID != "" {
		fmt.Fprintf(w, "discovery: %s\n", k.DiscoveryID)
	}
	return nil
}

// DiscoveryOutput is the discovery id derived from a public key.
type DiscoveryOutput struct {
	PublicKey   string `json:"publicKey"`
	DiscoveryID string `json:"discoveryId"`
}

func (d DiscoveryOutput) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, d.DiscoveryID)
	return err
}

// NewKeysCommand creates the keys command group.
func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate key pairs",
		Long: `Generate signing or encryption key pairs, hex encoded.

Signing keys are ed25519 and name documents and their writers. Encryption
keys are curve25519 and are used by box, unbox, seal and unseal.

Examples:
  hypermerge keys signing
  hypermerge keys encryption --format json
  hypermerge keys discovery <public-key>`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "signing",
		Short: "Generate an ed25519 signing key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.NewEncodedSigningKeyPair()
			if err != nil {
				return WrapExitError(ExitCommandError, "generate signing key pair", err)
			}
			out := KeyPairOutput{Kind: "signing", PublicKey: kp.PublicKey.String(), SecretKey: kp.SecretKey.String()}
			if d, err := keys.Discovery(keys.PublicID(out.PublicKey)); err == nil {
				out.DiscoveryID = string(d)
			}
			return rootOpts.formatter(cmd).Success(out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "encryption",
		Short: "Generate a curve25519 encryption key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.NewEncodedEncryptionKeyPair()
			if err != nil {
				return WrapExitError(ExitCommandError, "generate encryption key pair", err)
			}
			out := KeyPairOutput{Kind: "encryption", PublicKey: kp.PublicKey.String(), SecretKey: kp.SecretKey.String()}
			return rootOpts.formatter(cmd).Success(out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "discovery <public-key>",
		Short: "Print the discovery id of a public signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := keys.ParsePublic(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "parse public key", err)
			}
			d, err := keys.Discovery(pub)
			if err != nil {
				return WrapExitError(ExitCommandError, "derive discovery id", err)
			}
			return rootOpts.formatter(cmd).Success(DiscoveryOutput{PublicKey: string(pub), DiscoveryID: string(d)})
		},
	})

	return cmd
}
