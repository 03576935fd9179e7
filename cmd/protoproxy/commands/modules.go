package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/protoproxy/dispatch/internal/cli/output"
	"github.com/protoproxy/dispatch/internal/cli/prompt"
	"github.com/protoproxy/dispatch/modules/chatlog"
	"github.com/protoproxy/dispatch/pkg/codec"
	"github.com/protoproxy/dispatch/pkg/config"
	"github.com/protoproxy/dispatch/pkg/dispatch"
	"github.com/protoproxy/dispatch/pkg/sysmsg"
)

// builtinModules lists the modules compiled into this binary's
// StaticLoader. A real deployment would extend this with modules
// discovered under config.Dispatch.ModuleSearchDirs.
var builtinModules = dispatch.StaticLoader{
	"chatlog": chatlog.New,
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Inspect and exercise the Module Host",
}

var modulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List modules available to load",
	RunE:  runModulesList,
}

var (
	loadNamespace string
)

var modulesLoadCmd = &cobra.Command{
	Use:   "load [name]",
	Short: "Load a module into a throwaway host and print its registered hooks",
	Long: `Load builds a Dispatch wired to the configured protocol bundles, loads
the named module (prompting interactively if omitted), and prints the
hooks it registered. The host is discarded on exit; this command is a
way to exercise module wiring outside of a live "serve" session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModulesLoad,
}

func init() {
	modulesLoadCmd.Flags().StringVar(&loadNamespace, "namespace", "cli", "namespace to load the module under")
	modulesCmd.AddCommand(modulesListCmd)
	modulesCmd.AddCommand(modulesLoadCmd)
}

func runModulesList(cmd *cobra.Command, args []string) error {
	data := output.NewTableData("NAME")
	for name := range builtinModules {
		data.AddRow(name)
	}
	return output.PrintTable(os.Stdout, data)
}

func runModulesLoad(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) == 1 {
		name = args[0]
	} else {
		options := make([]prompt.SelectOption, 0, len(builtinModules))
		for n := range builtinModules {
			options = append(options, prompt.SelectOption{Label: n, Value: n})
		}
		selected, err := prompt.Select("Select a module to load", options)
		if err != nil {
			return fmt.Errorf("module selection: %w", err)
		}
		name = selected
	}

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

	if err := d.Modules.Load(loadNamespace, name, cfg); err != nil {
		return fmt.Errorf("loading module %q: %w", name, err)
	}
	defer d.Modules.Unload(loadNamespace)

	data := output.NewTableData("ID", "OPCODE", "ORDER", "VERSION")
	for _, h := range d.Hooks.ListAll() {
		if h.Namespace != loadNamespace {
			continue
		}
		data.AddRow(h.ID, opcodeLabel(h.Opcode), fmt.Sprintf("%d", h.Order), h.Version.String())
	}
	return output.PrintTable(os.Stdout, data)
}
