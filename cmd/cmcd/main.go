// Command cmcd serves CMC full and simple responses for a CA and builds
// revocation requests for clients.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cmcd",
		Short: "Certificate Management over CMS responder",
		Long: `cmcd answers CMC (RFC 5272) requests on behalf of a certificate authority.

Commands:
  serve           Run the HTTP responder
  revoke-request  Build a PKIData carrying a revokeRequest control
  seal-secret     Encrypt a revocation shared secret for the store
  cacerts         Fetch the CA chain from a running responder`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "cmcd.yaml", "configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRevokeRequestCmd())
	root.AddCommand(newSealSecretCmd())
	root.AddCommand(newCACertsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
