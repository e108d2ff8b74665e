package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/born-ml/stylize/internal/envconfig"
	"github.com/born-ml/stylize/internal/imageio"
	"github.com/born-ml/stylize/internal/style"
)

func newRunCmd() *cobra.Command {
	defaults := style.DefaultConfig()

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Transfer the style of one image onto another",
		Example: `  stylize run --content photo.jpg --style painting.jpg --output out.png
  stylize run --content photo.jpg --style painting.jpg --iterations 100 --preview sheet.png`,
		Args: cobra.NoArgs,
		RunE: RunHandler,
	}

	f := runCmd.Flags()
	f.String("content", "", "Content image")
	f.String("style", "", "Style image")
	f.StringP("output", "o", "stylized.png", "Output image (.png, .jpg)")
	f.IntP("iterations", "n", defaults.Iterations, "Optimization steps")
	f.Float64("style-weight", defaults.StyleWeight, "Style loss weight")
	f.Float64("content-weight", defaults.ContentWeight, "Content loss weight")
	f.String("optimizer", string(defaults.Optimizer), "Pixel optimizer (adam, sgd)")
	f.Float32("learning-rate", defaults.Adam.LR, "Optimizer learning rate")
	f.Float32("beta1", defaults.Adam.Betas[0], "Adam first moment decay")
	f.Float32("beta2", defaults.Adam.Betas[1], "Adam second moment decay")
	f.Float32("epsilon", defaults.Adam.Eps, "Adam epsilon")
	f.Float32("momentum", defaults.SGD.Momentum, "SGD momentum")
	f.Int("max-size", int(envconfig.MaxSize()), "Downscale inputs so the longest side is at most this many pixels (0 keeps the size)")
	f.Bool("preserve-color", false, "Keep the colors of the content image")
	f.String("preview", "", "Also write a content | style | result preview sheet to this path")
	f.String("palette-method", imageio.PaletteDominant.String(), "Preview palette extraction (dominant, kmeans)")
	f.Int("palette-size", 5, "Swatches per preview panel (0 disables palettes)")
	f.Int("log-every", defaults.LogEvery, "Log progress every N steps (0 disables)")
	addWeightFlags(runCmd)

	_ = runCmd.MarkFlagRequired("content")
	_ = runCmd.MarkFlagRequired("style")

	return runCmd
}

// configFromFlags overlays the run flags on the default configuration.
func configFromFlags(cmd *cobra.Command) (style.Config, error) {
	cfg := style.DefaultConfig()
	f := cmd.Flags()

	cfg.Iterations, _ = f.GetInt("iterations")
	cfg.StyleWeight, _ = f.GetFloat64("style-weight")
	cfg.ContentWeight, _ = f.GetFloat64("content-weight")
	cfg.LogEvery, _ = f.GetInt("log-every")

	opt, _ := f.GetString("optimizer")
	cfg.Optimizer = style.OptimizerKind(opt)

	lr, _ := f.GetFloat32("learning-rate")
	cfg.Adam.LR = lr
	cfg.SGD.LR = lr
	cfg.Adam.Betas[0], _ = f.GetFloat32("beta1")
	cfg.Adam.Betas[1], _ = f.GetFloat32("beta2")
	cfg.Adam.Eps, _ = f.GetFloat32("epsilon")
	cfg.SGD.Momentum, _ = f.GetFloat32("momentum")

	return cfg, cfg.Validate()
}

// RunHandler loads both images, optimizes and writes the result.
func RunHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	contentPath, _ := f.GetString("content")
	stylePath, _ := f.GetString("style")
	output, _ := f.GetString("output")
	maxSize, _ := f.GetInt("max-size")
	preview, _ := f.GetString("preview")

	paletteName, _ := f.GetString("palette-method")
	paletteMethod, err := imageio.ParsePaletteMethod(paletteName)
	if err != nil {
		return err
	}
	paletteSize, _ := f.GetInt("palette-size")

	arch, err := archFromFlags(cmd)
	if err != nil {
		return err
	}

	content, err := imageio.Load(contentPath, maxSize)
	if err != nil {
		return fmt.Errorf("content image: %w", err)
	}
	styleImg, err := imageio.Load(stylePath, maxSize)
	if err != nil {
		return fmt.Errorf("style image: %w", err)
	}

	weights, closeWeights, err := weightsFromFlags(cmd, arch)
	if err != nil {
		return err
	}

	tr, err := style.New(cfg, arch, weights, content, styleImg)
	if cerr := closeWeights(); cerr != nil {
		slog.Warn("failed to close weights", "error", cerr)
	}
	if err != nil {
		return err
	}

	out, err := tr.Run(cmd.Context())
	if err != nil {
		if errors.Is(err, style.ErrNonFinite) {
			return fmt.Errorf("%w (try a lower --learning-rate or --style-weight)", err)
		}
		return err
	}

	if keep, _ := f.GetBool("preserve-color"); keep {
		if out, err = imageio.PreserveColor(content, out); err != nil {
			return err
		}
	}

	if err := imageio.Save(output, out); err != nil {
		return err
	}
	slog.Info("wrote result", "path", output, "iterations", tr.Iteration(), "loss", tr.Last().Loss)

	if preview != "" {
		panels := []imageio.Panel{
			{Label: "content", Image: content},
			{Label: "style", Image: styleImg},
			{Label: "result", Image: out},
		}
		opts := imageio.PreviewOptions{PaletteSize: paletteSize, PaletteMethod: paletteMethod}
		if err := imageio.SavePreview(preview, panels, opts); err != nil {
			return err
		}
		slog.Info("wrote preview", "path", preview)
	}

	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}
