package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/careline-ai/careline/internal/config"
	"github.com/careline-ai/careline/internal/resource"
	"github.com/careline-ai/careline/pkg/types"
)

var (
	resourcesLocale   string
	resourcesCategory string
	refreshOut        string
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Inspect and refresh the hotline directory",
	Long: `Inspect and refresh the hotline directory.

Subcommands:
  list     List directory entries for a locale
  refresh  Snapshot the pages behind directory entries`,
}

var resourcesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List directory entries for a locale",
	RunE:    runResourcesList,
}

var resourcesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Snapshot the pages behind directory entries",
	Long: `Fetch the page behind each directory entry with a URL and save a
markdown snapshot, so operators can verify entries stay accurate.`,
	RunE: runResourcesRefresh,
}

func init() {
	resourcesCmd.PersistentFlags().StringVar(&resourcesLocale, "locale", "", "Locale to look up (defaults to en-US)")
	resourcesCmd.PersistentFlags().StringVar(&resourcesCategory, "category", "", "Category filter")
	resourcesRefreshCmd.Flags().StringVar(&refreshOut, "out", "", "Snapshot output directory (defaults to the cache directory)")

	resourcesCmd.AddCommand(resourcesListCmd)
	resourcesCmd.AddCommand(resourcesRefreshCmd)
}

func runResourcesList(cmd *cobra.Command, args []string) error {
	directory, err := loadDirectory()
	if err != nil {
		return err
	}

	bundle, err := directory.Lookup(resourcesLocale, resourcesCategory)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPHONE\tTEXT\t")
	for _, r := range bundle.Resources {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", r.ID, r.Name, r.Category, r.Phone, r.Text)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nEmergency number for %s: %s\n", bundle.Locale, bundle.EmergencyNumber)
	return nil
}

func runResourcesRefresh(cmd *cobra.Command, args []string) error {
	directory, err := loadDirectory()
	if err != nil {
		return err
	}

	bundle, err := directory.Lookup(resourcesLocale, resourcesCategory)
	if err != nil {
		return err
	}

	outDir := refreshOut
	if outDir == "" {
		outDir = filepath.Join(config.GetPaths().Cache, "snapshots")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	fetcher := resource.NewFetcher(loadResourcesConfig())

	var failures int
	for _, r := range bundle.Resources {
		if r.URL == "" {
			continue
		}

		snapshot, err := fetcher.Capture(cmd.Context(), r)
		if err != nil {
			failures++
			fmt.Printf("FAIL  %-24s %v\n", r.ID, err)
			continue
		}

		path := filepath.Join(outDir, r.ID+".md")
		if err := os.WriteFile(path, []byte(snapshot.Markdown), 0644); err != nil {
			return err
		}
		fmt.Printf("OK    %-24s %s\n", r.ID, snapshot.Title)
	}

	fmt.Printf("\nSnapshots written to %s\n", outDir)
	if failures > 0 {
		return fmt.Errorf("%d entries failed to fetch", failures)
	}
	return nil
}

// loadDirectory builds the hotline directory from the loaded configuration,
// so a site-local directory file is honored.
func loadDirectory() (*resource.Directory, error) {
	return resource.NewDirectory(loadResourcesConfig())
}

// loadResourcesConfig loads the resources section of the configuration,
// falling back to defaults when no configuration can be loaded.
func loadResourcesConfig() types.ResourcesConfig {
	workDir, err := os.Getwd()
	if err != nil {
		return types.ResourcesConfig{}
	}
	appConfig, err := config.Load(workDir)
	if err != nil {
		return types.ResourcesConfig{}
	}
	return appConfig.Resources
}
