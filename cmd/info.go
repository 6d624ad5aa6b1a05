package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/darkskygit/ChatImporter/internal/backup"
)

var infoCmd = &cobra.Command{
	Use:   "info DIR...",
	Short: "Show device and manifest details of a backup",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, root := range args {
			b, err := backup.Open(root)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s\n", root)
			fmt.Fprintf(os.Stdout, "  Device:       %s (%s %s)\n",
				b.Info.DeviceName, b.Info.ProductType, b.Info.ProductVersion)
			fmt.Fprintf(os.Stdout, "  Serial:       %s\n", b.Info.SerialNumber)
			fmt.Fprintf(os.Stdout, "  Snapshot:     %s (%s)\n",
				b.Status.SnapshotState, b.Status.Date.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(os.Stdout, "  Encrypted:    %v\n", b.Manifest.IsEncrypted)
			fmt.Fprintf(os.Stdout, "  Full backup:  %v\n", b.Status.IsFullBackup)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
