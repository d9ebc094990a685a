package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/demuxmgr/internal/config"
	"github.com/3leaps/demuxmgr/pkg/registry"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run registry",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered runs",
	Long: `List every run in the registry with its folder and state.

Examples:
  demuxmgr runs list
  demuxmgr runs list --active
  demuxmgr runs list --output json`,
	Args: cobra.NoArgs,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var (
	runsActive bool
	runsOutput string
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsCmd.PersistentFlags().StringVarP(&runsOutput, "output", "o", "table", "Output format (table|json|yaml)")
	runsListCmd.Flags().BoolVar(&runsActive, "active", false, "Only runs that have not finished")
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := openRegistryOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	list := store.ListAll
	if runsActive {
		list = store.ListActive
	}
	records, err := list(ctx)
	if err != nil {
		return exitError(foundry.ExitFailure, "Cannot list runs", err)
	}
	return printRuns(cmd.OutOrStdout(), records, runsOutput)
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openRegistryOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot show run", err)
	}
	return printRuns(cmd.OutOrStdout(), []registry.Record{rec}, runsOutput)
}

// openRegistryOnly skips full validation: inspecting the registry needs
// nothing but its location.
func openRegistryOnly(cmd *cobra.Command) (*registry.Store, error) {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return nil, exitError(foundry.ExitConfigInvalid, "Cannot load configuration", err)
	}
	return openRegistry(cmd.Context(), cfg)
}

func printRuns(w io.Writer, records []registry.Record, format string) error {
	if records == nil {
		records = []registry.Record{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "RUN\tSTATE\tDIRECTORY")
		for _, r := range records {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.State, r.Directory)
		}
		return tw.Flush()
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value",
			fmt.Errorf("unsupported output format: %s", format))
	}
}
