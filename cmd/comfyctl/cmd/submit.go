package cmd

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"comfyguard/pkg/api"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a workflow and wait for the result",
	Long: `Submit an image generation job and block until it reaches a terminal
state. The workflow comes from a local JSON file or from a template stored
on the supervisor; output images are written to the --out directory.

Example:
  comfyctl submit --workflow workflow.json --out ./outputs
  comfyctl submit --template txt2img --prompt "a lighthouse at dusk" --seed 42
  comfyctl submit --template img2img --image source.png --timeout 600`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		workflowPath, _ := flags.GetString("workflow")
		template, _ := flags.GetString("template")
		prompt, _ := flags.GetString("prompt")
		width, _ := flags.GetInt("width")
		height, _ := flags.GetInt("height")
		seed, _ := flags.GetInt64("seed")
		imagePath, _ := flags.GetString("image")
		timeout, _ := flags.GetInt("timeout")
		outDir, _ := flags.GetString("out")

		if workflowPath == "" && template == "" {
			cmd.Println("Error: --workflow or --template is required")
			return
		}
		if workflowPath != "" && template != "" {
			cmd.Println("Error: --workflow and --template are mutually exclusive")
			return
		}

		req := api.ProcessJobRequest{Template: template, TimeoutSecs: timeout}

		if workflowPath != "" {
			data, err := os.ReadFile(workflowPath)
			if err != nil {
				cmd.Printf("Failed to read workflow file: %v\n", err)
				return
			}
			req.Workflow = json.RawMessage(data)
		}

		input := &api.JobInput{Prompt: prompt, Width: width, Height: height}
		if flags.Changed("seed") {
			input.Seed = &seed
		}
		if imagePath != "" {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				cmd.Printf("Failed to read source image: %v\n", err)
				return
			}
			input.Images = []api.InputImage{{
				Name: filepath.Base(imagePath),
				Data: base64.StdEncoding.EncodeToString(data),
			}}
		}
		if prompt != "" || width > 0 || height > 0 || input.Seed != nil || len(input.Images) > 0 {
			req.Input = input
		}

		client := NewSupervisorClient(viper.GetString("url"))
		cmd.Println("Submitting job...")

		result, err := client.ProcessJob(req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Submit failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Submit failed: %v\n", err)
			}
			return
		}

		if !result.Success {
			cmd.Printf("%s✗%s Job %s finished in state %s: %s\n",
				colorRed, colorReset, result.CorrelationID, result.State, result.Error)
			return
		}

		cmd.Printf("%s✓%s Job %s succeeded with %d artifact(s)\n",
			colorGreen, colorReset, result.CorrelationID, len(result.Artifacts))

		if outDir == "" {
			return
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			cmd.Printf("Failed to create output directory: %v\n", err)
			return
		}
		for _, artifact := range result.Artifacts {
			data, err := base64.StdEncoding.DecodeString(artifact.Data)
			if err != nil {
				cmd.Printf("Skipping artifact %s: %v\n", artifact.Filename, err)
				continue
			}
			path := filepath.Join(outDir, artifact.Filename)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				cmd.Printf("Failed to write %s: %v\n", path, err)
				continue
			}
			cmd.Printf("  wrote %s (%d bytes)\n", path, len(data))
		}
	},
}

func init() {
	submitCmd.Flags().String("workflow", "", "Path to a workflow JSON file")
	submitCmd.Flags().String("template", "", "Name of a workflow template stored on the supervisor")
	submitCmd.Flags().String("prompt", "", "Prompt text spliced into the workflow")
	submitCmd.Flags().Int("width", 0, "Output width spliced into the workflow")
	submitCmd.Flags().Int("height", 0, "Output height spliced into the workflow")
	submitCmd.Flags().Int64("seed", 0, "Sampler seed spliced into the workflow")
	submitCmd.Flags().String("image", "", "Path to a source image for image-to-image workflows")
	submitCmd.Flags().Int("timeout", 0, "Job deadline in seconds (0 uses the supervisor default)")
	submitCmd.Flags().String("out", "", "Directory to write output images to")

	rootCmd.AddCommand(submitCmd)
}
