package client

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

type settingKey struct {
	get      func(*Settings) string
	set      func(*Settings, string)
	validate func(string) error
}

var configKeys = map[string]settingKey{
	"api_url": {
		get: func(s *Settings) string { return s.APIURL },
		set: func(s *Settings, v string) { s.APIURL = v },
		validate: func(v string) error {
			_, err := NewAPIClientWithConfig(v, defaultTimeout)
			return err
		},
	},
	"timeout": {
		get: func(s *Settings) string { return s.Timeout },
		set: func(s *Settings, v string) { s.Timeout = v },
		validate: func(v string) error {
			_, err := (&Settings{Timeout: v}).RequestTimeout(defaultTimeout)
			return err
		},
	},
}

func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage client configuration",
		Long:  "Read and write ~/.ragchat/config.json",
	}

	cmd.AddCommand(configSetCmd())
	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configShowCmd())

	return cmd
}

func validKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Set a configuration value",
		Args:      cobra.ExactArgs(2),
		ValidArgs: validKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			acc, ok := configKeys[key]
			if !ok {
				return fmt.Errorf("unknown key %q (valid: %v)", key, validKeys())
			}
			if err := acc.validate(value); err != nil {
				return err
			}

			settings, err := LoadSettings()
			if err != nil {
				return err
			}
			acc.set(settings, value)
			if err := SaveSettings(settings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s set\n", key)
			return nil
		},
	}
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "get <key>",
		Short:     "Print a stored configuration value",
		Args:      cobra.ExactArgs(1),
		ValidArgs: validKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, ok := configKeys[args[0]]
			if !ok {
				return fmt.Errorf("unknown key %q (valid: %v)", args[0], validKeys())
			}
			settings, err := LoadSettings()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), acc.get(settings))
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration and where it comes from",
		RunE: func(cmd *cobra.Command, _ []string) error {
			apiURL, source, err := ResolveAPIURL(cmd)
			if err != nil {
				return err
			}
			path, err := SettingsPath()
			if err != nil {
				return err
			}
			settings, err := LoadSettings()
			if err != nil {
				return err
			}
			timeout, err := settings.RequestTimeout(defaultTimeout)
			if err != nil {
				return err
			}

			outputJSON, _ := cmd.Flags().GetBool("json")
			if outputJSON {
				data, err := json.MarshalIndent(map[string]string{
					"api_url":     apiURL,
					"source":      string(source),
					"timeout":     timeout.String(),
					"config_file": path,
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "API URL:     %s (%s)\n", apiURL, source)
			fmt.Fprintf(cmd.OutOrStdout(), "Timeout:     %s\n", timeout)
			fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}
