package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/idlehands/idlehands/internal/config"
	"github.com/idlehands/idlehands/pkg/runtime"
)

var (
	setupHost    string
	setupBackend string
	setupModel   string
	setupWait    bool
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Add a host, backend, and model to the runtime store",
	Long: `Add entries to the runtime store. The daemon refuses to start until at
least one host, one backend, and one model are configured. Pass --wait
to block until the host answers probes and, when no model is given,
auto-pick one from its catalog.`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().StringVar(&setupHost, "host", "", "backend endpoint, e.g. http://localhost:1234")
	setupCmd.Flags().StringVar(&setupBackend, "backend", "lmstudio", "backend kind (lmstudio, llamacpp, vllm, openai, anthropic)")
	setupCmd.Flags().StringVar(&setupModel, "model", "", "model id (omit with --wait to auto-pick)")
	setupCmd.Flags().BoolVar(&setupWait, "wait", false, "wait for the host to become ready")
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(setupHost) == "" {
		return fmt.Errorf("--host is required")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	store, err := runtime.NewStore(cfg.Runtime.StorePath)
	if err != nil {
		return err
	}

	model := strings.TrimSpace(setupModel)
	if setupWait {
		cmd.Printf("Waiting for %s...\n", setupHost)
		if !runtime.WaitForEndpoint(cmd.Context(), setupHost, runtime.WaitOptions{}) {
			return fmt.Errorf("endpoint %s did not become ready", setupHost)
		}
		if model == "" {
			picked, err := runtime.AutoPickModel(cmd.Context(), runtime.NewHTTPClient(setupHost), runtime.PickOptions{
				PreferredFamily: cfg.Agent.PreferredModelFamily,
			})
			if err != nil {
				return err
			}
			model = picked
			cmd.Printf("Auto-picked model: %s\n", model)
		}
	}
	if model == "" {
		return fmt.Errorf("--model is required (or pass --wait to auto-pick)")
	}

	rc := store.Load()
	rc.Add(setupHost, setupBackend, model)
	if err := store.Save(rc); err != nil {
		return err
	}

	cmd.Printf("Runtime configured: host=%s backend=%s model=%s\n", setupHost, setupBackend, model)
	if rc.Configured() {
		cmd.Println("Run 'idlehands start' to launch the daemon.")
	}
	return nil
}
