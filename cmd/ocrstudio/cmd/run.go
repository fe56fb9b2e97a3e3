package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/gateway"
	"github.com/MeKo-Tech/ocrstudio/internal/history"
	"github.com/MeKo-Tech/ocrstudio/internal/model"
	"github.com/MeKo-Tech/ocrstudio/internal/task"
	"github.com/spf13/cobra"
)

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Recognize a single image or PDF from the command line",
	Long: `Send one image or PDF through the OCR model and print the result.

Examples:
  ocrstudio run scan.png
  ocrstudio run contract.pdf --mode base
  ocrstudio run scan.jpg --format json --output result.json
  ocrstudio run receipt.png --raw`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cmd.Flags().Changed("model-endpoint") {
			cfg.Model.Endpoint, _ = cmd.Flags().GetString("model-endpoint")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		modeName, _ := cmd.Flags().GetString("mode")
		prompt, _ := cmd.Flags().GetString("prompt")
		format, _ := cmd.Flags().GetString("format")
		outputPath, _ := cmd.Flags().GetString("output")
		rawOutput, _ := cmd.Flags().GetBool("raw")
		save, _ := cmd.Flags().GetBool("save")
		timeoutSec, _ := cmd.Flags().GetInt("timeout")

		if format != "text" && format != "json" {
			return fmt.Errorf("unsupported format: %s (use text or json)", format)
		}

		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		var store gateway.HistoryStore
		if save {
			s, err := history.NewStore(cfg.History)
			if err != nil {
				return fmt.Errorf("failed to open history store: %w", err)
			}
			store = s
		}

		gw := gateway.New(model.NewHTTPRunner(cfg.Model), task.NewRegistry(), store, cfg)

		ctx := cmd.Context()
		if timeoutSec > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
			defer cancel()
		}

		start := time.Now()
		result, err := gw.RunOCR(ctx, gateway.Request{
			Data:        data,
			FileName:    filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Mode:        modeName,
			Prompt:      prompt,
			SkipHistory: !save,
		})
		if err != nil {
			return err
		}

		var out []byte
		switch {
		case format == "json":
			out, err = json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			out = append(out, '\n')
		case rawOutput:
			out = []byte(result.RawText + "\n")
		default:
			out = []byte(result.Text + "\n")
		}

		if outputPath != "" {
			if err := os.WriteFile(outputPath, out, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d page(s) in %.1fs)\n",
				outputPath, len(result.Pages), time.Since(start).Seconds())
			return nil
		}

		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("mode", "", "resolution mode (gundam, base, small, tiny, large)")
	runCmd.Flags().String("prompt", "", "override the model prompt (must contain <image>)")
	runCmd.Flags().StringP("format", "f", "text", "output format (text, json)")
	runCmd.Flags().StringP("output", "o", "", "write result to file instead of stdout")
	runCmd.Flags().Bool("raw", false, "print raw model output with layout markers")
	runCmd.Flags().Bool("save", false, "persist the result to the history store")
	runCmd.Flags().Int("timeout", 0, "overall timeout in seconds (0 = no limit)")
}
