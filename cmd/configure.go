package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mips-tech/atlasexplorer/api"
	"github.com/mips-tech/atlasexplorer/internal/config"
	"github.com/mips-tech/atlasexplorer/internal/gyrfalcon"
)

var (
	configureAPIKey  string
	configureChannel string
	configureRegion  string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Validate an API key and store credentials",
	Long: `Validates the given API key against the Atlas Explorer global API, checks
that the requested channel and region are available to it, and writes the
credentials file used by subsequent commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadSettings(settingsFile)
		if err != nil {
			return err
		}

		creds := config.Credentials{
			APIKey:  configureAPIKey,
			Channel: configureChannel,
			Region:  configureRegion,
		}
		if err := creds.Validate(); err != nil {
			return err
		}

		client, err := gyrfalcon.New(nil, settings.GlobalAPI, creds.APIKey, creds.Channel, creds.Region)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := client.ValidateAPIKey(ctx); err != nil {
			return err
		}
		color.Green("API key is valid")

		channels, err := client.ChannelList(ctx)
		if err != nil {
			return err
		}
		if err := checkChannelRegion(channels, creds.Channel, creds.Region); err != nil {
			return err
		}

		if err := config.SaveCredentials(credentialsFile, creds); err != nil {
			return err
		}
		color.Green("credentials saved")
		return nil
	},
}

func checkChannelRegion(channels []api.Channel, channel, region string) error {
	for _, ch := range channels {
		if ch.Name != channel {
			continue
		}
		for _, r := range ch.Regions {
			if r == region {
				return nil
			}
		}
		return fmt.Errorf("channel %q is not served in region %q (available: %s)", channel, region, strings.Join(ch.Regions, ", "))
	}
	return fmt.Errorf("channel %q is not available to this API key", channel)
}

func init() {
	rootCmd.AddCommand(configureCmd)
	configureCmd.PersistentFlags().StringVar(&configureAPIKey, "api-key", "", "The Atlas Explorer API key.")
	configureCmd.PersistentFlags().StringVar(&configureChannel, "channel", "", "The distribution channel to use.")
	configureCmd.PersistentFlags().StringVar(&configureRegion, "region", "", "The region to run experiments in.")
	_ = configureCmd.MarkPersistentFlagRequired("api-key")
	_ = configureCmd.MarkPersistentFlagRequired("channel")
	_ = configureCmd.MarkPersistentFlagRequired("region")
}
