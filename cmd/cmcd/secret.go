package main

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/mdean75/cmc"
	"github.com/mdean75/cmc/internal/config"
)

func newSealSecretCmd() *cobra.Command {
	var serial, secret string
	var store bool
	cmd := &cobra.Command{
		Use:   "seal-secret",
		Short: "Encrypt a revocation shared secret for the store",
		Long: `Encrypt a revocation shared secret under the configured protection key.

The token is printed, or written to the configured store with --store.

Examples:
  cmcd seal-secret --config cmcd.yaml --serial 0x1A2B --secret "s3cret" --store`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			key, err := cfg.LoadProtectionKey()
			if err != nil {
				return err
			}
			if key == nil {
				return errors.New("cmc.sharedSecret.protectionKey is not configured")
			}
			n, ok := new(big.Int).SetString(serial, 0)
			if !ok {
				return fmt.Errorf("invalid serial number %q", serial)
			}

			token, err := cmc.SealSharedToken(&key.PublicKey, []byte(secret))
			if err != nil {
				return err
			}
			if !store {
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}
			return storeToken(cmd, cfg, key, n, token)
		},
	}
	cmd.Flags().StringVar(&serial, "serial", "", "certificate serial number (required)")
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret (required)")
	cmd.Flags().BoolVar(&store, "store", false, "write the token to the configured store")
	cmd.MarkFlagRequired("serial")
	cmd.MarkFlagRequired("secret")
	return cmd
}

func storeToken(cmd *cobra.Command, cfg *config.Config, key *rsa.PrivateKey, serial *big.Int, token string) error {
	if cfg.Store.Backend == "memory" {
		return errors.New("the memory store does not outlive this command; use the redis backend")
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	backend, closeStore, err := openStore(cfg, key, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := backend.PutSharedToken(cmd.Context(), serial, token); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored shared token for serial 0x%s\n", serial.Text(16))
	return nil
}
