package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

var translateOut string

var translateCmd = &cobra.Command{
	Use:   "translate <image-file|url>",
	Short: "Translate one image and write the result as JPEG",
	Long: `Run a single image through detection, translation and rendering.

The transcript (source and translation per text region) is printed in
reading order.

Examples:
  mangatrans translate page01.png
  mangatrans translate page01.png -O out/page01.jpg
  mangatrans translate https://example.com/page01.png`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]
		req := &processor.ProcessRequest{
			JobID: uuid.NewString(),
			Sink: processor.ProgressSinkFunc(func(_ context.Context, s processor.TranslationState) {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%3d%%] %-11s %s\n", s.Progress, s.Stage, s.Message)
			}),
		}

		if isURL(source) {
			req.ImageURL = source
			req.Filename = filepath.Base(source)
		} else {
			data, err := os.ReadFile(source)
			if err != nil {
				return err
			}
			req.ImageBuffer = data
			req.Filename = filepath.Base(source)
		}

		proc, err := buildProcessor(cfg, nil, nil)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ProcessingTimeout)
		defer cancel()

		result, err := proc.ProcessImage(ctx, req)
		if err != nil {
			return err
		}

		out := translateOut
		if out == "" {
			out = "translated_" + strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename)) + ".jpg"
		}
		if err := os.WriteFile(out, result.TranslatedImage, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}

		w := cmd.OutOrStdout()
		for i, box := range result.TextBoxes {
			fmt.Fprintf(w, "%2d  %s\n    %s\n", i+1, box.Text, result.Translations[i])
		}
		fmt.Fprintf(w, "\n%d regions (%d kept source text) via %s in %s -> %s\n",
			len(result.TextBoxes), result.Degraded, result.Recognizer, result.Duration.Round(time.Millisecond), out)
		return nil
	},
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func init() {
	translateCmd.Flags().StringVarP(&translateOut, "out", "O", "", "output JPEG (default: translated_<name>.jpg)")
}
