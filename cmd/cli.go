// SPDX-License-Identifier: MIT
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"wavecore/internal/config"
	"wavecore/pkg/build"
)

// ParseArgs builds the effective configuration from the config file,
// environment and command-line flags, in that order of precedence. The
// returned Config carries the selected one-off command ("list") or "run"
// for a normal acquisition.
func ParseArgs() (*config.Config, error) {
	buildInfo := build.GetBuildFlags()
	options := config.NewConfig()

	var (
		configPath string
		device     int
		sampleRate float64
		sourceName string
		blockSize  int
		lowLatency bool
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Real-time wave basin acquisition and reflection analysis",
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			*options = *loaded

			// Explicit flags win over file and environment.
			if cmd.Flags().Changed("device") {
				options.Acquisition.Device = device
			}
			if cmd.Flags().Changed("sample-rate") {
				options.Acquisition.SampleRate = sampleRate
			}
			if cmd.Flags().Changed("source") {
				options.Acquisition.Source = sourceName
			}
			if cmd.Flags().Changed("block-size") {
				options.Acquisition.BlockSize = blockSize
			}
			if cmd.Flags().Changed("low-latency") {
				options.Acquisition.LowLatency = lowLatency
			}
			if verbose {
				options.Debug = true
				options.LogLevel = "debug"
			}
			return options.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = "run"
			return nil
		},
	}

	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available capture devices",
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = "list"
		},
	}
	rootCmd.AddCommand(listCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "wavecore.yaml",
		"Path to the YAML configuration file")
	rootCmd.PersistentFlags().IntVarP(&device, "device", "d", config.DefaultDeviceID,
		"Capture device index. Use 'list' to see available devices.")
	rootCmd.PersistentFlags().Float64VarP(&sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	rootCmd.PersistentFlags().StringVar(&sourceName, "source", config.DefaultSource,
		"Sample source: simulated or portaudio")
	rootCmd.PersistentFlags().IntVarP(&blockSize, "block-size", "b", config.DefaultBlockSize,
		"Samples per acquisition block (affects latency)")
	rootCmd.PersistentFlags().BoolVarP(&lowLatency, "low-latency", "l", false,
		"Use low latency mode for hardware capture")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	return options, nil
}
