// Package cmd is the thin command-line dispatcher over the extraction
// core. All configuration is materialized here, once, into explicit
// inputs for the matchers; nothing below this package reads flags.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/darkskygit/ChatImporter/internal/logging"
)

var verbosity int

var rootCmd = &cobra.Command{
	Use:   "chatimporter",
	Short: "Import chat archives into a content-addressed record store",
	Long: `chatimporter ingests mobile-device backups and extracts a normalized,
deduplicated stream of chat records into a local record database.

Commands:
  wechat      Import WeChat chats from an iOS backup
  sms         Import SMS/iMessage chats from an iOS backup
  info        Show device and manifest details of a backup`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verbosity)
	},
	Version: "0.1.0",
}

// Execute runs the dispatcher.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().StringP("output", "o", "record.db", "path of the record database")
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(
		wechatCmd,
		smsCmd,
	)
}

// initConfig reads an optional chatimporter.yaml from the working
// directory plus CHATIMPORTER_* environment overrides.
func initConfig() {
	viper.SetConfigName("chatimporter")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("chatimporter")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// outputPath resolves the record database location.
func outputPath() string {
	return viper.GetString("output")
}
