package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/born-ml/stylize/internal/backend/cpu"
	"github.com/born-ml/stylize/internal/envconfig"
	"github.com/born-ml/stylize/internal/imageio"
	"github.com/born-ml/stylize/internal/style"
	"github.com/born-ml/stylize/internal/tensor"
)

func newInspectCmd() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect IMAGE",
		Short: "Show the style and content features of an image",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}
	inspectCmd.Flags().Int("max-size", int(envconfig.MaxSize()), "Downscale the image so the longest side is at most this many pixels (0 keeps the size)")
	inspectCmd.Flags().Bool("layers", false, "Also list every layer of the network")
	addWeightFlags(inspectCmd)
	return inspectCmd
}

// InspectHandler prints shape and value statistics of the gram matrix of
// each style layer and the activation of each content layer.
func InspectHandler(cmd *cobra.Command, args []string) error {
	arch, err := archFromFlags(cmd)
	if err != nil {
		return err
	}
	maxSize, _ := cmd.Flags().GetInt("max-size")
	showLayers, _ := cmd.Flags().GetBool("layers")

	img, err := imageio.Load(args[0], maxSize)
	if err != nil {
		return err
	}

	weights, closeWeights, err := weightsFromFlags(cmd, arch)
	if err != nil {
		return err
	}
	defer closeWeights() //nolint:errcheck

	backend := cpu.New()
	ext, err := style.NewExtractor(arch, weights, backend)
	if err != nil {
		return err
	}
	x, err := tensor.FromSlice(img.Pix, img.Shape(), backend)
	if err != nil {
		return err
	}
	feats, err := ext.Extract(x)
	if err != nil {
		return err
	}

	var data [][]string
	for i, g := range feats.Style {
		data = append(data, featureRow("style", style.StyleLayer(style.LayerIndex(i)).String(), "gram", g))
	}
	for i, a := range feats.Content {
		data = append(data, featureRow("content", style.ContentLayer(style.LayerIndex(i)).String(), "activation", a))
	}

	net := ext.Network()
	fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d, %s through %s (%d parameters), %s preprocessing\n",
		args[0], img.Width, img.Height, arch.Name, net.Deepest(), net.NumParameters(), net.Preprocessor().Kind())
	if showLayers {
		fmt.Fprint(cmd.OutOrStdout(), net.String())
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"ROLE", "LAYER", "FEATURE", "SHAPE", "MIN", "MAX", "MEAN"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}

func featureRow(role, layer, feature string, a *tensor.Tensor[float32, *cpu.CPUBackend]) []string {
	lo, hi, mean := stats(a.Data())
	return []string{
		role,
		layer,
		feature,
		fmt.Sprint(a.Shape()),
		strconv.FormatFloat(lo, 'g', 5, 64),
		strconv.FormatFloat(hi, 'g', 5, 64),
		strconv.FormatFloat(mean, 'g', 5, 64),
	}
}

func stats(data []float32) (lo, hi, mean float64) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, v := range data {
		f := float64(v)
		lo = min(lo, f)
		hi = max(hi, f)
		sum += f
	}
	return lo, hi, sum / float64(len(data))
}
