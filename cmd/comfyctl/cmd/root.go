package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "comfyctl",
	Short: "Comfyctl is a command line tool for driving a comfyguard supervisor",
	Long: `comfyctl is the command-line interface for comfyguard, the process
supervisor and job runner for a ComfyUI-style image generation engine.

The supervisor keeps one engine process alive, watches its health and runs
image generation jobs end to end: submit a workflow, wait for completion and
collect the output images.

Common workflows:

  Check the engine process:
    comfyctl status

  Run a health probe:
    comfyctl health

  Restart a wedged engine:
    comfyctl restart

  Submit a workflow and save the outputs:
    comfyctl submit --workflow workflow.json --out ./outputs
    comfyctl submit --template txt2img --prompt "a lighthouse at dusk"

  Look up a finished job:
    comfyctl job <correlation-id>

Configuration:
  Set the supervisor endpoint via a flag, environment variable or config file:
    COMFYGUARD_URL    Supervisor endpoint (default: http://localhost:8000)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".comfyctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".comfyctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "COMFYGUARD_VARNAME"
	viper.SetEnvPrefix("COMFYGUARD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.comfyctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8000", "Supervisor URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
