package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"comfyguard/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the supervised engine process status",
	Long:  `Retrieve the current state of the engine process: whether it is running, its PID, uptime and how often it has been restarted.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewSupervisorClient(viper.GetString("url"))

		status, err := client.GetStatus()
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		printStatus(cmd, status)
	},
}

func printStatus(cmd *cobra.Command, status *api.StatusResponse) {
	icon := colorRed + "✗" + colorReset
	state := colorRed + "stopped" + colorReset
	if status.Running {
		icon = colorGreen + "✓" + colorReset
		state = colorGreen + "running" + colorReset
	}

	cmd.Printf("%s %sEngine Process%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sState:%s     %s\n", colorDim, colorReset, state)
	if status.Running {
		cmd.Printf("%sPID:%s       %d\n", colorDim, colorReset, status.PID)
		cmd.Printf("%sUptime:%s    %s\n", colorDim, colorReset, formatDuration(time.Duration(status.UptimeSecs*float64(time.Second))))
	}
	cmd.Printf("%sRestarts:%s  %d\n", colorDim, colorReset, status.RestartCount)
	if status.LastRestart != nil {
		cmd.Printf("%sLast restart:%s %s\n", colorDim, colorReset, status.LastRestart.Format(time.RFC1123))
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
