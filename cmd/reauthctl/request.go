package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/aponysus/reauth/pipeline"
)

func buildRequestCmd(a *app) *cobra.Command {
	var data string
	var headers []string
	var query string
	cmd := &cobra.Command{
		Use:   "request <method> <path>",
		Short: "Send one request, refreshing the token if it is rejected",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			if data != "" && header.Get("Content-Type") == "" {
				header.Set("Content-Type", "application/json")
			}

			c, err := a.newClient(cmd.Context(), clientOverrides{})
			if err != nil {
				return err
			}
			resp, err := c.pipeline.Execute(cmd.Context(), pipeline.Request{
				Method: args[0],
				Path:   args[1],
				Header: header,
				Body:   []byte(data),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if query != "" {
				if !gjson.ValidBytes(resp.Body) {
					return fmt.Errorf("--query: response is not JSON")
				}
				fmt.Fprintln(out, gjson.GetBytes(resp.Body, query).String())
				return nil
			}
			fmt.Fprintf(out, "%d %s\n", resp.Status, http.StatusText(resp.Status))
			if len(resp.Body) > 0 {
				fmt.Fprintln(out, strings.TrimRight(string(resp.Body), "\n"))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `extra header as "Name: value"`)
	cmd.Flags().StringVarP(&query, "query", "q", "", "print only this gjson path of the response")
	return cmd
}

func parseHeaders(raw []string) (http.Header, error) {
	h := make(http.Header)
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", kv)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func buildRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Obtain a new access token and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.CanRefresh() {
				return fmt.Errorf("refresh_url and refresh_token must be configured")
			}
			c, err := a.newClient(cmd.Context(), clientOverrides{})
			if err != nil {
				return err
			}
			cur, _, err := c.store.Get(cmd.Context())
			if err != nil {
				return err
			}
			fresh, err := c.coord.Obtain(cmd.Context(), cur)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %s\n", fresh)
			return nil
		},
	}
}
