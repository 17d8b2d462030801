package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"comfyguard/pkg/api"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the engine process",
	Long: `Gracefully stop and relaunch the engine. The supervisor refuses the
restart when the restart ceiling was hit within the cooldown window.`,
	Run: func(cmd *cobra.Command, args []string) {
		runLifecycle(cmd, "restart")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the engine process gracefully",
	Long:  `Send the engine a termination signal and wait for it to exit, escalating to a hard kill after the grace period.`,
	Run: func(cmd *cobra.Command, args []string) {
		runLifecycle(cmd, "stop")
	},
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Kill the engine process immediately",
	Long:  `Terminate the engine without a grace period. Use when a graceful stop hangs.`,
	Run: func(cmd *cobra.Command, args []string) {
		runLifecycle(cmd, "kill")
	},
}

func runLifecycle(cmd *cobra.Command, action string) {
	client := NewSupervisorClient(viper.GetString("url"))

	result, err := client.Lifecycle(action)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok {
			cmd.Printf("%s failed (%d): %s\n", action, apiErr.StatusCode, apiErr.Message)
		} else {
			cmd.Printf("%s failed: %v\n", action, err)
		}
		return
	}

	if result.Status == api.LifecycleFailed {
		cmd.Printf("%s✗%s %s failed: %s\n", colorRed, colorReset, action, result.Message)
		return
	}
	cmd.Printf("%s✓%s %s: %s\n", colorGreen, colorReset, action, result.Status)
}

func init() {
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(killCmd)
}
