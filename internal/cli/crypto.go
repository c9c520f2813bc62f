package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/geoffreylitt/hypermerge/internal/crypto"
)

// SignOutput is a message and its detached signature.
type SignOutput struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (s SignOutput) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, s.Signature)
	return err
}

// VerifyOutput reports a successful verification.
type VerifyOutput struct {
	Message string `json:"message"`
	Valid   bool   `json:"valid"`
}

func (v VerifyOutput) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, "signature valid")
	return err
}

// CiphertextOutput is a sealed box ciphertext.
type CiphertextOutput struct {
	Ciphertext string `json:"ciphertext"`
}

func (c CiphertextOutput) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, c.Ciphertext)
	return err
}

// BoxOutput is an authenticated box and its nonce.
type BoxOutput struct {
	Message string `json:"message"`
	Nonce   string `json:"nonce"`
}

func (b BoxOutput) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "message: %s\n", b.Message)
	fmt.Fprintf(w, "nonce:   %s\n", b.Nonce)
	return nil
}

// PlaintextOutput is a decrypted message.
type PlaintextOutput struct {
	Message string `json:"message"`
}

func (p PlaintextOutput) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, p.Message)
	return err
}

// parseKey parses a hex flag value, tagging failures with the flag name.
func parseKey[K crypto.Kind](flag, s string) (crypto.Encoded[K], error) {
	if s == "" {
		return crypto.Encoded[K]{}, &ExitError{Code: ExitCommandError, ErrCode: ErrCodeUsage, Message: fmt.Sprintf("--%s is required", flag)}
	}
	e, err := crypto.Parse[K](s)
	if err != nil {
		return crypto.Encoded[K]{}, WrapExitError(ExitCommandError, "invalid --"+flag, err)
	}
	return e, nil
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign <message>",
		Short: "Sign a message with a secret signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sk, err := parseKey[crypto.SecretSigning]("secret", secret)
			if err != nil {
				return err
			}
			sm, err := crypto.Sign(sk, []byte(args[0]))
			if err != nil {
				return WrapExitError(ExitCommandError, "sign", err)
			}
			return rootOpts.formatter(cmd).Success(SignOutput{Message: args[0], Signature: sm.Signature.String()})
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "secret signing key (hex)")
	return cmd
}

// NewVerifyCommand creates the verify command. An invalid signature exits
// with ExitFailure.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var public, signature string
	cmd := &cobra.Command{
		Use:   "verify <message>",
		Short: "Verify a detached signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := parseKey[crypto.PublicSigning]("public", public)
			if err != nil {
				return err
			}
			sig, err := parseKey[crypto.Signature]("signature", signature)
			if err != nil {
				return err
			}
			sm := crypto.SignedMessage{Message: []byte(args[0]), Signature: sig}
			if _, err := crypto.VerifiedMessage(pk, sm); err != nil {
				return WrapExitError(ExitFailure, "verify", err)
			}
			return rootOpts.formatter(cmd).Success(VerifyOutput{Message: args[0], Valid: true})
		},
	}
	cmd.Flags().StringVar(&public, "public", "", "public signing key (hex)")
	cmd.Flags().StringVar(&signature, "signature", "", "signature (hex)")
	return cmd
}

// NewSealCommand creates the seal command.
func NewSealCommand(rootOpts *RootOptions) *cobra.Command {
	var public string
	cmd := &cobra.Command{
		Use:   "seal <message>",
		Short: "Encrypt a message to a public encryption key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := parseKey[crypto.PublicEncryption]("public", public)
			if err != nil {
				return err
			}
			ct, err := crypto.SealedBox(pk, []byte(args[0]))
			if err != nil {
				return WrapExitError(ExitCommandError, "seal", err)
			}
			return rootOpts.formatter(cmd).Success(CiphertextOutput{Ciphertext: ct.String()})
		},
	}
	cmd.Flags().StringVar(&public, "public", "", "recipient public encryption key (hex)")
	return cmd
}

// NewUnsealCommand creates the unseal command.
func NewUnsealCommand(rootOpts *RootOptions) *cobra.Command {
	var public, secret string
	cmd := &cobra.Command{
		Use:   "unseal <ciphertext>",
		Short: "Decrypt a sealed box with an encryption key pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := parseKey[crypto.PublicEncryption]("public", public)
			if err != nil {
				return err
			}
			sk, err := parseKey[crypto.SecretEncryption]("secret", secret)
			if err != nil {
				return err
			}
			ct, err := crypto.Parse[crypto.SealedBoxCiphertext](args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid ciphertext", err)
			}
			msg, err := crypto.OpenSealedBox(crypto.EncodedEncryptionKeyPair{PublicKey: pk, SecretKey: sk}, ct)
			if err != nil {
				return WrapExitError(ExitFailure, "unseal", err)
			}
			return rootOpts.formatter(cmd).Success(PlaintextOutput{Message: string(msg)})
		},
	}
	cmd.Flags().StringVar(&public, "public", "", "public encryption key (hex)")
	cmd.Flags().StringVar(&secret, "secret", "", "secret encryption key (hex)")
	return cmd
}

// NewBoxCommand creates the box command.
func NewBoxCommand(rootOpts *RootOptions) *cobra.Command {
	var secret, recipient string
	cmd := &cobra.Command{
		Use:   "box <message>",
		Short: "Encrypt and authenticate a message for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sk, err := parseKey[crypto.SecretEncryption]("secret", secret)
			if err != nil {
				return err
			}
			pk, err := parseKey[crypto.PublicEncryption]("recipient", recipient)
			if err != nil {
				return err
			}
			b, err := crypto.NewBox(sk, pk, []byte(args[0]))
			if err != nil {
				return WrapExitError(ExitCommandError, "box", err)
			}
			return rootOpts.formatter(cmd).Success(BoxOutput{Message: b.Message.String(), Nonce: b.Nonce.String()})
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "sender secret encryption key (hex)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient public encryption key (hex)")
	return cmd
}

// NewUnboxCommand creates the unbox command.
func NewUnboxCommand(rootOpts *RootOptions) *cobra.Command {
	var sender, secret, nonce string
	cmd := &cobra.Command{
		Use:   "unbox <ciphertext>",
		Short: "Open a box sent by a known sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := parseKey[crypto.PublicEncryption]("sender", sender)
			if err != nil {
				return err
			}
			sk, err := parseKey[crypto.SecretEncryption]("secret", secret)
			if err != nil {
				return err
			}
			n, err := parseKey[crypto.BoxNonce]("nonce", nonce)
			if err != nil {
				return err
			}
			ct, err := crypto.Parse[crypto.BoxCiphertext](args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid ciphertext", err)
			}
			msg, err := crypto.OpenBox(pk, sk, crypto.Box{Message: ct, Nonce: n})
			if err != nil {
				return WrapExitError(ExitFailure, "unbox", err)
			}
			return rootOpts.formatter(cmd).Success(PlaintextOutput{Message: string(msg)})
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "sender public encryption key (hex)")
	cmd.Flags().StringVar(&secret, "secret", "", "recipient secret encryption key (hex)")
	cmd.Flags().StringVar(&nonce, "nonce", "", "box nonce (hex)")
	return cmd
}
