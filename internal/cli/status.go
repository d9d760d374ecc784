package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/idlehands/idlehands/internal/config"
	"github.com/idlehands/idlehands/pkg/runtime"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and runtime status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()
	if isRunning(pidFile) {
		pid, _ := readPID(pidFile)
		cmd.Println("Status: running")
		cmd.Printf("PID: %d\n", pid)
		if info, err := os.Stat(pidFile); err == nil {
			cmd.Printf("Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	} else {
		cmd.Println("Status: stopped")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	store, err := runtime.NewStore(cfg.Runtime.StorePath)
	if err != nil {
		return err
	}
	rc := store.Load()
	if !rc.Configured() {
		cmd.Println("Runtime: not configured")
		return nil
	}
	cmd.Println("Runtime: configured")
	cmd.Printf("Hosts: %v\n", rc.Hosts)
	cmd.Printf("Backends: %v\n", rc.Backends)
	cmd.Printf("Models: %v\n", rc.Models)
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	s := d - m*time.Minute

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s/time.Second)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s/time.Second)
	}
	return fmt.Sprintf("%ds", s/time.Second)
}
