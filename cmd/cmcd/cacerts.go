package main

import (
	"context"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdean75/cmc"
	"github.com/mdean75/cmc/internal/server"
)

func newCACertsCmd() *cobra.Command {
	var url string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "cacerts",
		Short: "Fetch the CA chain from a running responder",
		Long: `Fetch the CA chain as a certificates-only SignedData and print it as PEM.

Examples:
  cmcd cacerts --url http://localhost:8443 > chain.pem`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return fetchCACerts(ctx, strings.TrimRight(url, "/")+server.PathCAChain, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:8443", "responder base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func fetchCACerts(ctx context.Context, url string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	der, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	certs, err := cmc.ParseSimpleResponse(der)
	if err != nil {
		return err
	}
	for _, c := range certs {
		if err := pem.Encode(out, &pem.Block{Type: "CERTIFICATE", Bytes: c.Raw}); err != nil {
			return err
		}
	}
	return nil
}
