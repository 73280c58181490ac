package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the channels and regions available to the configured API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}

		channels, err := client.ChannelList(cmd.Context())
		if err != nil {
			return err
		}

		for _, ch := range channels {
			color.Cyan("%s", ch.Name)
			fmt.Printf("  regions: %s\n", strings.Join(ch.Regions, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(channelsCmd)
}
