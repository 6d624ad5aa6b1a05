package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darkskygit/ChatImporter/internal/matcher"
	"github.com/darkskygit/ChatImporter/internal/recorder"
	"github.com/darkskygit/ChatImporter/internal/sms"
)

var smsOwner string

var smsCmd = &cobra.Command{
	Use:   "sms [flags] DIR...",
	Short: "Import SMS/iMessage chats from an iOS backup",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sink, err := recorder.NewSqliteChatRecorder(outputPath())
		if err != nil {
			return err
		}
		defer sink.Close()

		for _, root := range args {
			if _, err := os.Stat(root); err != nil {
				return fmt.Errorf("backup root %s: %w", root, err)
			}
			log.Info().Str("path", root).Msg("processing")
			m, err := sms.NewMatcher(root, smsOwner, promptPasscode)
			if err != nil {
				return err
			}
			err = matcher.Export(sink, m)
			m.Close()
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	smsCmd.Flags().StringVarP(&smsOwner, "owner", "O", "DarkSky", "display name of the device owner")
}
