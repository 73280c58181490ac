package cmd

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/mips-tech/atlasexplorer/internal/config"
	"github.com/mips-tech/atlasexplorer/internal/gyrfalcon"
	"github.com/mips-tech/atlasexplorer/pkg/version"
)

func printVersion(verbose bool) {
	fmt.Println("Atlas Explorer version: ", version.AtlasExplorerVersion, runtime.GOOS+"/"+runtime.GOARCH)
	if verbose {
		fmt.Println("  Commit: ", version.Commit)
		fmt.Println("  Built:  ", version.BuildDate)
		fmt.Println("  Go:     ", runtime.Version())
	}
}

// newClient loads settings and credentials and builds a gyrfalcon client
// from them.
func newClient() (*gyrfalcon.Client, config.Settings, error) {
	settings, err := config.LoadSettings(settingsFile)
	if err != nil {
		return nil, config.Settings{}, err
	}

	creds, err := config.LoadCredentials(credentialsFile)
	if err != nil {
		return nil, config.Settings{}, err
	}

	client, err := gyrfalcon.New(
		&http.Client{Timeout: settings.HTTPTimeout},
		settings.GlobalAPI,
		creds.APIKey,
		creds.Channel,
		creds.Region,
	)
	if err != nil {
		return nil, config.Settings{}, err
	}
	return client, settings, nil
}
