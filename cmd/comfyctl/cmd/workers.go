package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"comfyguard/pkg/api"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List workers known to a fleet registry",
	Long:  `Query a fleet registry for its registered workers. Point --url at the registry, not at a supervisor.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewSupervisorClient(viper.GetString("url"))

		resp, err := client.ListWorkers()
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		if len(resp.Workers) == 0 {
			cmd.Println("No workers registered")
			return
		}

		for _, w := range resp.Workers {
			icon := "•"
			switch w.Status {
			case api.WorkerHealthy:
				icon = colorGreen + "✓" + colorReset
			case api.WorkerBusy:
				icon = colorYellow + "⏳" + colorReset
			case api.WorkerError, api.WorkerOffline:
				icon = colorRed + "✗" + colorReset
			}
			cmd.Printf("%s %s%s%s  %s  jobs=%d/%d  cpu=%.1f%%  seen %s\n",
				icon, colorBold, w.WorkerID, colorReset, w.Status,
				w.CurrentJobs, w.TotalJobs, w.CPUUsage,
				w.LastHeartbeat.Format(time.RFC3339))
		}
	},
}

func init() {
	rootCmd.AddCommand(workersCmd)
}
