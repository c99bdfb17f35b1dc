// Package cli holds what policyrag and policyragd share: the machine-readable
// command description printed by --help-json.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	helpJSONFlag = "help-json"

	// EnvAnnotation holds the comma separated environment variables a command
	// reads. Subcommands inherit it.
	EnvAnnotation = "policyrag_env"
)

// FlagSchema describes one command flag.
type FlagSchema struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// ArgSchema describes a positional argument taken from the command's usage
// line: <name> is required, [name] optional, and a trailing ... repeats.
type ArgSchema struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Variadic bool   `json:"variadic,omitempty"`
}

// CommandSchema describes a command and its subcommands.
type CommandSchema struct {
	Name           string          `json:"name"`
	Path           string          `json:"path"`
	Aliases        []string        `json:"aliases,omitempty"`
	Description    string          `json:"description,omitempty"`
	Long           string          `json:"long,omitempty"`
	Example        string          `json:"example,omitempty"`
	Args           []ArgSchema     `json:"args,omitempty"`
	Env            []string        `json:"env,omitempty"`
	Flags          []FlagSchema    `json:"flags,omitempty"`
	InheritedFlags []FlagSchema    `json:"inherited_flags,omitempty"`
	Subcommands    []CommandSchema `json:"subcommands,omitempty"`
}

// GenerateSchema describes cmd and every visible subcommand.
func GenerateSchema(cmd *cobra.Command) CommandSchema {
	schema := CommandSchema{
		Name:           cmd.Name(),
		Path:           cmd.CommandPath(),
		Aliases:        cmd.Aliases,
		Description:    cmd.Short,
		Long:           cmd.Long,
		Example:        cmd.Example,
		Args:           parseArgs(cmd.Use),
		Env:            commandEnv(cmd),
		Flags:          flagSchemas(cmd.LocalFlags()),
		InheritedFlags: flagSchemas(cmd.InheritedFlags()),
	}

	for _, sub := range cmd.Commands() {
		if sub.Name() == "help" || sub.Name() == "completion" || sub.Hidden {
			continue
		}
		schema.Subcommands = append(schema.Subcommands, GenerateSchema(sub))
	}
	return schema
}

func parseArgs(use string) []ArgSchema {
	fields := strings.Fields(use)
	if len(fields) < 2 {
		return nil
	}

	var args []ArgSchema
	for _, field := range fields[1:] {
		arg := ArgSchema{}
		if strings.HasSuffix(field, "...") {
			arg.Variadic = true
			field = strings.TrimSuffix(field, "...")
		}
		switch {
		case strings.HasPrefix(field, "<") && strings.HasSuffix(field, ">"):
			arg.Required = true
			arg.Name = strings.Trim(field, "<>")
		case strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]"):
			arg.Name = strings.Trim(field, "[]")
		default:
			continue
		}
		args = append(args, arg)
	}
	return args
}

// commandEnv collects EnvAnnotation from cmd and its ancestors, nearest first.
func commandEnv(cmd *cobra.Command) []string {
	var env []string
	seen := make(map[string]bool)
	for c := cmd; c != nil; c = c.Parent() {
		for _, name := range strings.Split(c.Annotations[EnvAnnotation], ",") {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			env = append(env, name)
		}
	}
	return env
}

func flagSchemas(set *pflag.FlagSet) []FlagSchema {
	var flags []FlagSchema
	set.VisitAll(func(f *pflag.Flag) {
		if f.Name == helpJSONFlag || f.Name == "help" || f.Hidden {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		flags = append(flags, FlagSchema{
			Name:        f.Name,
			Shorthand:   f.Shorthand,
			Type:        f.Value.Type(),
			Default:     f.DefValue,
			Description: f.Usage,
			Required:    required,
		})
	})
	return flags
}

// SetEnv records the environment variables cmd reads.
func SetEnv(cmd *cobra.Command, vars ...string) {
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	cmd.Annotations[EnvAnnotation] = strings.Join(vars, ",")
}

// WriteSchema writes the schema of cmd to w as indented JSON.
func WriteSchema(w io.Writer, cmd *cobra.Command) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(GenerateSchema(cmd))
}

// AddHelpJSONFlag adds the --help-json flag to a command.
func AddHelpJSONFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(helpJSONFlag, false, "Output command schema as JSON")
}

// HelpJSONTarget reports whether args ask for --help-json and, if so, for
// which command. Flags before it are skipped; words that name no subcommand
// are taken as positional arguments.
func HelpJSONTarget(root *cobra.Command, args []string) (*cobra.Command, bool) {
	target := root
	for _, arg := range args {
		if arg == "--"+helpJSONFlag {
			return target, true
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		for _, sub := range target.Commands() {
			if sub.Name() == arg || sub.HasAlias(arg) {
				target = sub
				break
			}
		}
	}
	return nil, false
}

// CheckHelpJSON prints the schema and exits when os.Args ask for --help-json.
// Call it before Execute so argument validation does not run first.
func CheckHelpJSON(root *cobra.Command) {
	target, ok := HelpJSONTarget(root, os.Args[1:])
	if !ok {
		return
	}
	if err := WriteSchema(os.Stdout, target); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
