package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darkskygit/ChatImporter/internal/matcher"
	"github.com/darkskygit/ChatImporter/internal/recorder"
	"github.com/darkskygit/ChatImporter/internal/wechat"
)

var chatNames string

var wechatCmd = &cobra.Command{
	Use:   "wechat [flags] DIR...",
	Short: "Import WeChat chats from an iOS backup",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// -c absent: every chat table. -c "": every contacted chat.
		// -c "a,b": substring targeting.
		var names []string
		if cmd.Flags().Changed("chats") {
			names = []string{}
			if chatNames != "" {
				names = strings.Split(chatNames, ",")
			}
		}

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
			m, err := wechat.NewMatcher(root, names, promptPasscode)
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
	wechatCmd.Flags().StringVarP(&chatNames, "chats", "c", "", "comma-separated chat names to import")
}
