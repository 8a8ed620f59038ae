package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"noshowd/pkg/types"
)

// httpDo is swapped in tests.
var httpDo = func(req *http.Request) (*http.Response, error) { return http.DefaultClient.Do(req) }

func serverURL(cfg *Config, path string) string {
	return strings.TrimRight(cfg.Server, "/") + path
}

func reloadCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running noshowd to reload its model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL(cfg, "/reload-model"), nil)
			if err != nil {
				return err
			}
			if cfg.ReloadToken != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.ReloadToken)
			}
			resp, err := httpDo(req)
			if err != nil {
				return fmt.Errorf("reload: %w", err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return err
			}

			var res types.ReloadResult
			if err := json.Unmarshal(body, &res); err != nil || res.OperationID == "" {
				var er types.ErrorResponse
				if json.Unmarshal(body, &er) == nil && er.Error != "" {
					return fmt.Errorf("reload: %s (%d)", er.Error, resp.StatusCode)
				}
				return fmt.Errorf("reload: unexpected response %d", resp.StatusCode)
			}
			if cfg.JSON {
				if err := printJSON(cfg.out, res); err != nil {
					return err
				}
			} else {
				switch {
				case !res.Success:
					fmt.Fprintf(cfg.out, "reload failed: %s\n", res.Error)
				case res.Changed:
					fmt.Fprintf(cfg.out, "reloaded %s -> %s in %dms\n", orDash(res.PreviousVersion), res.NewVersion, res.DurationMS)
				default:
					fmt.Fprintf(cfg.out, "unchanged at %s\n", res.NewVersion)
				}
			}
			if !res.Success {
				return fmt.Errorf("reload failed with status %d", resp.StatusCode)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.Server, "server", cfg.Server, "Base URL of the noshowd instance")
	cmd.Flags().StringVar(&cfg.ReloadToken, "token", cfg.ReloadToken, "Bearer token for /reload-model (defaults NOSHOWD_RELOAD_TOKEN)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
