package main

import (
	"fmt"

	"aidanwoods.dev/go-paseto"
	"github.com/spf13/cobra"

	"sessiond/cmd/security/token"
)

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print fresh signing and hashing keys",
		Long:  `Print a PASETO v4 secret key for access credentials and a random HMAC key for stored refresh secrets, as environment assignments.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sk := paseto.NewV4AsymmetricSecretKey()

			hmacKey, err := token.NewOpaque(token.MinHMACKeyBytes)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SESSIOND_PASETO_V4_SECRET_KEY_HEX=%s\n", sk.ExportHex())
			fmt.Fprintf(out, "# public key: %s\n", sk.Public().ExportHex())
			fmt.Fprintf(out, "%s=%s\n", token.HMACEnvKey, hmacKey)
			return nil
		},
	}
}
