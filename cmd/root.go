package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mips-tech/atlasexplorer/pkg/logs"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "atlasexplorer",
	Short: "Run workloads on MIPS Atlas Explorer cloud simulators",
	Long: `Atlas Explorer submits workload binaries to the MIPS cloud simulation
service and retrieves performance results. Everything uploaded is encrypted
on the client; results come back encrypted to a key only this client holds.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logs.Initialize()
	},
}

var (
	credentialsFile string
	settingsFile    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(
		&credentialsFile,
		"credentials-file",
		"",
		"Path to the credentials file. Defaults to ~/.config/mips/atlaspy/config.json.",
	)
	rootCmd.PersistentFlags().StringVar(
		&settingsFile,
		"settings-file",
		"",
		"Path to an optional YAML settings file with client tuning knobs.",
	)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	logs.AddFlags(rootCmd.PersistentFlags())

	// All subcommands are registered by now, so every command's flags can
	// pick up environment overrides.
	applyEnvOverrides()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func applyEnvOverrides() {
	setFlagsFromEnv("ATLAS_", rootCmd.PersistentFlags())
	for _, command := range rootCmd.Commands() {
		setFlagsFromEnv("ATLAS_", command.PersistentFlags())
	}
}

func setFlagsFromEnv(prefix string, fs *pflag.FlagSet) {
	set := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) {
		set[f.Name] = true
	})
	fs.VisitAll(func(f *pflag.Flag) {
		// ignore flags set from the commandline
		if set[f.Name] {
			return
		}
		// remove trailing _ to reduce common errors with the prefix, i.e. people setting it to MY_PROG_
		cleanPrefix := strings.TrimSuffix(prefix, "_")
		name := fmt.Sprintf("%s_%s", cleanPrefix, strings.Replace(strings.ToUpper(f.Name), "-", "_", -1))
		if e, ok := os.LookupEnv(name); ok {
			_ = f.Value.Set(e)
		}
	})
}
