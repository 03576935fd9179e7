package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/protoproxy/dispatch/internal/cli/output"
	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/config"
	"github.com/protoproxy/dispatch/pkg/dispatch"
	"github.com/protoproxy/dispatch/pkg/frame"
	"github.com/protoproxy/dispatch/pkg/sysmsg"
)

var hooksLoadNamespaces []string

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "List hooks a configured set of modules would register",
	Long: `hooks list builds a Dispatch from the configured protocol bundles,
loads the requested modules under throwaway namespaces, and prints every
hook those modules registered, merged and ordered the same way
Pipeline.Handle would see them for a given opcode.`,
}

var hooksListCmd = &cobra.Command{
	Use:  "list",
	RunE: runHooksList,
}

func init() {
	hooksListCmd.Flags().StringSliceVar(&hooksLoadNamespaces, "load", nil, "module names to load before listing (namespace defaults to the module name)")
	hooksCmd.AddCommand(hooksListCmd)
}

func runHooksList(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	registry := codec.NewMemoryRegistry()
	for _, path := range cfg.Dispatch.BundlePaths {
		bundle, err := codec.LoadBundle(path)
		if err != nil {
			return fmt.Errorf("loading bundle %s: %w", path, err)
		}
		if err := bundle.IntoRegistry(registry); err != nil {
			return fmt.Errorf("populating registry from %s: %w", path, err)
		}
	}

	d := dispatch.NewDispatch(registry, sysmsg.NewTable())
	d.Modules = dispatch.NewModuleHost(d.Hooks, builtinModules)

	for _, name := range hooksLoadNamespaces {
		if err := d.Modules.Load(name, name, cfg); err != nil {
			return fmt.Errorf("loading module %q: %w", name, err)
		}
		defer d.Modules.Unload(name)
	}

	data := output.NewTableData("NAMESPACE", "OPCODE", "ORDER", "VERSION", "FAKE", "INCOMING")
	for _, h := range d.Hooks.ListAll() {
		data.AddRow(
			h.Namespace,
			opcodeLabel(h.Opcode),
			fmt.Sprintf("%d", h.Order),
			h.Version.String(),
			h.Filter.Fake.String(),
			h.Filter.Incoming.String(),
		)
	}
	return output.PrintTable(os.Stdout, data)
}

func opcodeLabel(op frame.Opcode) string {
	if op == frame.Wildcard {
		return "*"
	}
	return fmt.Sprintf("%d", op)
}
