package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"vigil/cmd/security/token"
)

func newSecretCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "secret",
		Short: "Signing secret helpers",
	}

	var nBytes int
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Print a random signing secret suitable for VIGIL_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := token.GenerateSigningSecret(nBytes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
	gen.Flags().IntVar(&nBytes, "bytes", token.MinSecretBytes, "random bytes before hex encoding")

	c.AddCommand(gen)
	return c
}
