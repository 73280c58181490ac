package cmd

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mips-tech/atlasexplorer/internal/envelope"
	"github.com/mips-tech/atlasexplorer/internal/poller"
	"github.com/mips-tech/atlasexplorer/internal/transfer"
	"github.com/mips-tech/atlasexplorer/internal/workload"
	"github.com/mips-tech/atlasexplorer/pkg/submitter"
)

var (
	runCore             string
	runServicePublicKey string
	runResultPrivateKey string
	runOutputDir        string
)

var runCmd = &cobra.Command{
	Use:   "run <workload>",
	Short: "Run a workload on a cloud simulator and fetch the results",
	Long: `Packages the workload binary, encrypts it to the service key, submits it as
an experiment on the selected core model and waits for completion. The
decrypted result reports are written to the output directory if one is
given; otherwise only a summary is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, settings, err := newClient()
		if err != nil {
			return err
		}

		servicePublicKey, err := envelope.LoadPublicKeyFile(runServicePublicKey)
		if err != nil {
			return fmt.Errorf("failed to load service public key: %w", err)
		}

		resultPrivateKey, err := loadOrGenerateResultKey(runResultPrivateKey)
		if err != nil {
			return err
		}

		s, err := submitter.New(submitter.Config{
			Gyrfalcon: client,
			Transfer: transfer.New(transfer.Config{
				HTTPClient:  &http.Client{Timeout: settings.HTTPTimeout},
				MaxAttempts: uint64(settings.UploadMaxAttempts),
			}),
			Poller: poller.New(poller.Config{
				InitialInterval: settings.PollInitialInterval,
				MaxInterval:     settings.PollMaxInterval,
				Budget:          settings.PollBudget,
			}),
			ServicePublicKey: servicePublicKey,
			ResultPrivateKey: resultPrivateKey,
			WorkDir:          settings.WorkDir,
		})
		if err != nil {
			return err
		}

		result, err := s.Submit(cmd.Context(), args[0], runCore)
		if err != nil {
			return err
		}

		color.Green("experiment %s completed (%d result bytes, sha256 %s)", result.ExperimentID, result.Size, result.SHA256)

		if runOutputDir == "" {
			return nil
		}
		files, err := workload.Unpack(result.Data, runOutputDir)
		if err != nil {
			return fmt.Errorf("failed to unpack result reports: %w", err)
		}
		for _, f := range files {
			fmt.Println("  wrote", f)
		}
		return nil
	},
}

// loadOrGenerateResultKey loads the result decryption key from path, or
// generates an ephemeral one when no path is given. With an ephemeral key
// the result is only readable for the lifetime of this process.
func loadOrGenerateResultKey(path string) (*rsa.PrivateKey, error) {
	if path != "" {
		key, err := envelope.LoadPrivateKeyFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load result private key: %w", err)
		}
		return key, nil
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate result key: %w", err)
	}
	return key, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.PersistentFlags().StringVar(&runCore, "core", "", "The core model to run on, for example \"I8500_(1_thread)\".")
	runCmd.PersistentFlags().StringVar(&runServicePublicKey, "service-public-key", "", "Path to the PEM-encoded service public key that uploads are encrypted to.")
	runCmd.PersistentFlags().StringVar(&runResultPrivateKey, "result-private-key", "", "Path to the PEM-encoded RSA private key for decrypting results. Generated per invocation when unset.")
	runCmd.PersistentFlags().StringVar(&runOutputDir, "output", "", "Directory to unpack the decrypted result reports into.")
	_ = runCmd.MarkPersistentFlagRequired("core")
	_ = runCmd.MarkPersistentFlagRequired("service-public-key")
}
