package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idlehands/idlehands/internal/config"
	"github.com/idlehands/idlehands/pkg/runtime"
)

var modelsHost string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on a backend host",
	Long: `Fetch the model catalog from a backend host and mark the entry
auto-pick would choose. Defaults to the first configured host.`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().StringVar(&modelsHost, "host", "", "backend endpoint (default: first configured host)")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	host := modelsHost
	if host == "" {
		store, err := runtime.NewStore(cfg.Runtime.StorePath)
		if err != nil {
			return err
		}
		rc := store.Load()
		if len(rc.Hosts) == 0 {
			return fmt.Errorf("no host configured; pass --host or run 'idlehands setup'")
		}
		host = rc.Hosts[0]
	}

	client := runtime.NewHTTPClient(host)
	models, err := client.ListModels(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list models on %s: %w", host, err)
	}
	if len(models) == 0 {
		return runtime.ErrNoModels
	}

	picked, err := runtime.AutoPickModel(cmd.Context(), client, runtime.PickOptions{
		Cached:          models,
		PreferredFamily: cfg.Agent.PreferredModelFamily,
	})
	if err != nil {
		return err
	}

	cmd.Printf("Models on %s:\n", host)
	for _, model := range models {
		marker := "  "
		if model.ID == picked {
			marker = "* "
		}
		cmd.Printf("%s%s\n", marker, model.ID)
	}
	return nil
}
