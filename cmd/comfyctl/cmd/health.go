package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run a health check against the engine",
	Long: `Trigger a health evaluation on the supervisor. The check is debounced
server-side: calls arriving within the probe interval return the cached
verdict as ok_skipped instead of probing again.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewSupervisorClient(viper.GetString("url"))

		health, err := client.GetHealth()
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		icon := "•"
		switch health.Status {
		case "healthy", "ok_skipped":
			icon = colorGreen + "✓" + colorReset
		case "starting":
			icon = colorYellow + "⏳" + colorReset
		case "error":
			icon = colorRed + "✗" + colorReset
		}

		cmd.Printf("%s %s%s%s\n", icon, colorBold, health.Status, colorReset)
		if health.Message != "" {
			cmd.Printf("%sMessage:%s   %s\n", colorDim, colorReset, health.Message)
		}
		if health.ConsecutiveFailures > 0 {
			cmd.Printf("%sFailures:%s  %d\n", colorDim, colorReset, health.ConsecutiveFailures)
		}
		cmd.Printf("%sChecked:%s   %s\n", colorDim, colorReset, health.Timestamp.Format(time.RFC1123))
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
