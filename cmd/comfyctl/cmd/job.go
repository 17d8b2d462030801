package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var jobCmd = &cobra.Command{
	Use:   "job [correlation_id]",
	Short: "Show the archived record of a finished job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewSupervisorClient(viper.GetString("url"))

		rec, err := client.GetJob(args[0])
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		icon := colorRed + "✗" + colorReset
		if rec.State == "success" {
			icon = colorGreen + "✓" + colorReset
		}

		cmd.Printf("%s %sJob %s%s\n", icon, colorBold, rec.CorrelationID, colorReset)
		cmd.Println("──────────────────────────────")
		cmd.Printf("%sState:%s      %s\n", colorDim, colorReset, rec.State)
		if rec.Reason != "" {
			cmd.Printf("%sReason:%s     %s\n", colorDim, colorReset, rec.Reason)
		}
		cmd.Printf("%sArtifacts:%s  %d\n", colorDim, colorReset, rec.ArtifactCount)
		cmd.Printf("%sSubmitted:%s  %s\n", colorDim, colorReset, rec.SubmittedAt.Format(time.RFC1123))
		cmd.Printf("%sCompleted:%s  %s %s(%s)%s\n", colorDim, colorReset,
			rec.CompletedAt.Format(time.RFC1123),
			colorCyan, formatDuration(rec.CompletedAt.Sub(rec.SubmittedAt)), colorReset)
	},
}

func init() {
	rootCmd.AddCommand(jobCmd)
}
