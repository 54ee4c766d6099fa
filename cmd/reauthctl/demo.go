package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aponysus/reauth/credential"
	"github.com/aponysus/reauth/internal/authtest"
	"github.com/aponysus/reauth/refresh"
)

func buildDemoCmd(a *app) *cobra.Command {
	var concurrency int
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Expire a session under concurrent load against a local server",
		Long: "Starts an in-process API, expires every access token and sends " +
			"concurrent requests. All of them share a single refresh call.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}

			srv := authtest.New(authtest.Config{Subject: "demo-user"})
			defer srv.Close()
			srv.SetRefreshDelay(delay)

			tok, err := srv.Issue()
			if err != nil {
				return err
			}
			c, err := a.newClient(cmd.Context(), clientOverrides{
				baseURL:    srv.URL + "/api",
				httpClient: srv.Client(),
				initial:    credential.Credential(tok),
				invoker: &refresh.HTTPInvoker{
					Client: srv.Client(),
					URL:    srv.RefreshURL(),
					Header: http.Header{authtest.RefreshHeader: []string{srv.RefreshToken()}},
				},
			})
			if err != nil {
				return err
			}
			// A shared store may hold a token from an earlier run.
			if err := c.store.Set(cmd.Context(), credential.Credential(tok)); err != nil {
				return err
			}

			srv.ExpireAll()
			a.logger.Info("expired all tokens", zap.Int("concurrency", concurrency))

			g, ctx := errgroup.WithContext(cmd.Context())
			for i := 0; i < concurrency; i++ {
				path := fmt.Sprintf("/bookings/%d", i)
				g.Go(func() error {
					_, err := c.pipeline.Get(ctx, path)
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "requests=%d refresh_calls=%d api_calls=%d\n",
				concurrency, srv.RefreshCalls(), srv.APICalls())
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 10, "concurrent requests")
	cmd.Flags().DurationVar(&delay, "refresh-delay", 100*time.Millisecond, "latency of the refresh endpoint")
	return cmd
}
