package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"popupstorm/internal/catalog"
	"popupstorm/internal/config"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the bundle directory and print catalog counts",
	Long: `Run one catalog refresh against the configured bundle directory and
print how many images, GIFs and videos it yields, honoring the current
archive selection.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	settings := configMgr.Get()

	cat := catalog.NewScanner(settings.BundleDir).Refresh(settings.SelectedArchives)

	fmt.Printf("Bundle directory: %s\n", settings.BundleDir)
	if len(settings.SelectedArchives) > 0 {
		fmt.Printf("Selected archives: %v\n", settings.SelectedArchives)
	}
	fmt.Printf("  images: %d\n", cat.Count(catalog.KindImage))
	fmt.Printf("  gifs:   %d\n", cat.Count(catalog.KindGif))
	fmt.Printf("  videos: %d\n", cat.Count(catalog.KindVideo))
	return nil
}
