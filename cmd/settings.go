package cmd

import (
	"fmt"
	"strings"

	"github.com/lance13c/deltawatch/internal/settings"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage stored settings",
	Long: `Stored settings override the config file and apply to the next check
of a running scheduler without a restart.

Keys: ` + strings.Join(settings.Keys(), ", "),
}

var settingsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored settings",
	RunE:    runSettingsList,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

var settingsUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored setting, falling back to the config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsUnset,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsListCmd, settingsSetCmd, settingsUnsetCmd)
}

func runSettingsList(cmd *cobra.Command, args []string) error {
	db, _, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	stored, err := db.GetSettings(cmd.Context())
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		fmt.Println("No stored settings; the config file is used as is.")
		return nil
	}

	var rows [][]string
	for _, key := range settings.Keys() {
		value, ok := stored[key]
		if !ok {
			continue
		}
		if settings.IsSecret(key) && value != "" {
			value = "********"
		}
		rows = append(rows, []string{key, value})
	}
	printTable([]string{"Key", "Value"}, rows)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if err := settings.Validate(key, value); err != nil {
		return err
	}

	db, _, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SetSetting(cmd.Context(), key, value); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", successStyle.Render("Set"), key)
	return nil
}

func runSettingsUnset(cmd *cobra.Command, args []string) error {
	db, _, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DeleteSetting(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", successStyle.Render("Unset"), args[0])
	return nil
}
