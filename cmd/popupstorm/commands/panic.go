package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"popupstorm/internal/config"
)

var panicCmd = &cobra.Command{
	Use:   "panic",
	Short: "Tell a running instance to close every popup immediately",
	Long: `Send the panic signal to a running popupstorm instance. Every popup is
torn down at once and spawning stops. Intended as the target of a global
hotkey binding.`,
	RunE: runPanic,
}

func init() {
	rootCmd.AddCommand(panicCmd)
}

func runPanic(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d/api/panic", configMgr.GetPort())
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("no running instance reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("panic request failed: %s", resp.Status)
	}
	fmt.Println("All popups cleared.")
	return nil
}
