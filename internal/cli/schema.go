// Package cli provides shared CLI utilities for ragchat and ragchatd.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const helpJSONFlag = "help-json"

// FlagSchema represents the JSON schema for a command flag.
type FlagSchema struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Inherited   bool   `json:"inherited,omitempty"`
}

// CommandSchema represents the JSON schema for a command.
type CommandSchema struct {
	Name        string          `json:"name"`
	Use         string          `json:"use,omitempty"`
	Description string          `json:"description,omitempty"`
	Long        string          `json:"long,omitempty"`
	Example     string          `json:"example,omitempty"`
	Args        []string        `json:"valid_args,omitempty"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

// GenerateSchema generates a JSON schema for a cobra command.
func GenerateSchema(cmd *cobra.Command) CommandSchema {
	schema := CommandSchema{
		Name:        cmd.Name(),
		Use:         cmd.Use,
		Description: cmd.Short,
		Long:        cmd.Long,
		Example:     cmd.Example,
		Args:        cmd.ValidArgs,
		Flags:       extractFlags(cmd),
	}

	for _, sub := range cmd.Commands() {
		if sub.Name() == "help" || sub.Hidden {
			continue
		}
		schema.Subcommands = append(schema.Subcommands, GenerateSchema(sub))
	}

	return schema
}

func extractFlags(cmd *cobra.Command) []FlagSchema {
	var flags []FlagSchema

	collect := func(inherited bool) func(*pflag.Flag) {
		return func(f *pflag.Flag) {
			if f.Name == helpJSONFlag || f.Name == "help" || f.Hidden {
				return
			}
			flags = append(flags, flagToSchema(f, inherited))
		}
	}
	cmd.LocalFlags().VisitAll(collect(false))
	cmd.InheritedFlags().VisitAll(collect(true))

	return flags
}

func flagToSchema(f *pflag.Flag, inherited bool) FlagSchema {
	_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
	return FlagSchema{
		Name:        f.Name,
		Shorthand:   f.Shorthand,
		Type:        f.Value.Type(),
		Default:     f.DefValue,
		Description: f.Usage,
		Required:    required,
		Inherited:   inherited,
	}
}

// AddHelpJSONFlag registers --help-json on cmd and all of its children.
func AddHelpJSONFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(helpJSONFlag, false, "Output command schema as JSON")
}

// HandleHelpJSON writes the schema of the command addressed by args when they
// contain --help-json. It runs before Execute so that required arguments and
// flags of the target command are not validated. The boolean reports whether
// the flag was present.
func HandleHelpJSON(root *cobra.Command, args []string, w io.Writer) (bool, error) {
	for i, arg := range args {
		if arg != "--"+helpJSONFlag {
			continue
		}
		target := findTargetCommand(root, args[:i])
		out, err := json.MarshalIndent(GenerateSchema(target), "", "  ")
		if err != nil {
			return true, fmt.Errorf("generate schema: %w", err)
		}
		_, err = fmt.Fprintln(w, string(out))
		return true, err
	}
	return false, nil
}

// findTargetCommand resolves args to the deepest matching subcommand, falling
// back to the nearest ancestor when a name is unknown.
func findTargetCommand(root *cobra.Command, args []string) *cobra.Command {
	target, _, err := root.Find(args)
	if err != nil || target == nil {
		return root
	}
	return target
}
