package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xaenox/prospect-bot/internal/models"
)

func init() {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reset the traits of prospects inactive longer than the threshold",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	sweepCmd.Flags().Int("hours", 0, "Inactivity threshold in hours (default: configured value)")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count the prospects a sweep would reset",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
	statsCmd.Flags().Int("hours", 0, "Inactivity threshold in hours (default: configured value)")

	resetHoursCmd := &cobra.Command{
		Use:   "reset-hours [1-168]",
		Short: "Show or set the AutoReset threshold",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runResetHours,
	}

	classifyCmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Classify a message against the enabled traits without saving anything",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runClassify,
	}

	keywordsCmd := &cobra.Command{
		Use:   "keywords",
		Short: "Manage keyword overrides",
	}
	keywordsCmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Replace the keyword overrides with the ones in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeywordsImport,
	})

	traitsCmd := &cobra.Command{
		Use:   "traits",
		Short: "Show the ideal customer traits, or replace them from a YAML file",
		Args:  cobra.NoArgs,
		RunE:  runTraits,
	}
	traitsCmd.Flags().String("import", "", "YAML file with the trait list to store")

	rootCmd.AddCommand(sweepCmd, statsCmd, resetHoursCmd, classifyCmd, keywordsCmd, traitsCmd)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func hoursFlag(cmd *cobra.Command, a *app) (int, error) {
	hours, _ := cmd.Flags().GetInt("hours")
	if cmd.Flags().Changed("hours") {
		return hours, nil
	}
	return a.autoReset.ResetHours(cmd.Context())
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	hours, err := hoursFlag(cmd, a)
	if err != nil {
		return err
	}
	n, err := a.autoReset.Sweep(cmd.Context(), hours)
	if err != nil {
		return fmt.Errorf("sweep stopped after %d resets: %w", n, err)
	}
	return printJSON(map[string]int{"reset_count": n, "threshold_hours": hours})
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	hours, err := hoursFlag(cmd, a)
	if err != nil {
		return err
	}
	stats, err := a.autoReset.Stats(cmd.Context(), hours)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runResetHours(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		hours, err := a.autoReset.ResetHours(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(hours)
		return nil
	}

	hours, err := strconv.Atoi(args[0])
	if err != nil {
		return &models.ConfigError{Field: "reset_hours", Reason: "must be a whole number"}
	}
	if err := a.autoReset.UpdateResetHours(cmd.Context(), hours); err != nil {
		return err
	}
	fmt.Printf("AutoReset threshold set to %d hours\n", hours)
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	enabled, err := a.traits.LoadEnabled(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(a.engine.Classify(cmd.Context(), strings.Join(args, " "), enabled))
}

// keywordFile is the YAML layout accepted by "keywords import".
type keywordFile struct {
	Keywords map[string][]string `yaml:"keywords"`
}

func runKeywordsImport(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	var file keywordFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}
	if len(file.Keywords) == 0 {
		return &models.ConfigError{Field: "keywords", Reason: "file has no keywords section"}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.SaveKeywordOverrides(cmd.Context(), file.Keywords); err != nil {
		return models.NewPersistenceError("save keywords", err)
	}
	fmt.Printf("Imported keyword overrides for %d traits\n", len(file.Keywords))
	return nil
}

// traitFile is the YAML layout accepted by "traits --import".
type traitFile struct {
	Traits []models.Trait `yaml:"traits"`
}

func runTraits(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	path, _ := cmd.Flags().GetString("import")
	if path == "" {
		list, err := a.traits.Load(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(list)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var file traitFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	saved, err := a.traits.Save(cmd.Context(), file.Traits)
	if err != nil {
		return err
	}
	return printJSON(saved)
}
