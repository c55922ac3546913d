package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloo-solutions/ragchat/internal/assets"
	"github.com/cloo-solutions/ragchat/internal/config"
	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/spf13/cobra"
)

func AssetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Inspect the search asset definitions",
	}
	cmd.AddCommand(assetsRenderCmd())
	return cmd
}

func assetsRenderCmd() *cobra.Command {
	kinds := make([]string, len(assets.Kinds))
	for i, k := range assets.Kinds {
		kinds[i] = string(k)
	}

	return &cobra.Command{
		Use:       "render [kind]",
		Short:     "Render the asset definitions from the current configuration",
		Long:      "Render the asset definitions. kind is one of: " + strings.Join(kinds, ", ") + ". Without kind every asset is rendered.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			params := assets.ParamsFromConfig(cfg)

			if len(args) == 1 {
				data, err := assets.RenderJSON(domain.AssetKind(args[0]), params)
				if err != nil {
					return err
				}
				return writeIndented(cmd, data)
			}

			// Render validates the whole set before anything is printed.
			if _, err := assets.Render(params); err != nil {
				return err
			}
			out := make(map[string]json.RawMessage, len(assets.Kinds))
			for _, kind := range assets.Kinds {
				data, err := assets.RenderJSON(kind, params)
				if err != nil {
					return err
				}
				out[string(kind)] = data
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func writeIndented(cmd *cobra.Command, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := cmd.OutOrStdout().Write(buf.Bytes())
	return err
}
