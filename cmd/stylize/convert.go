package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/born-ml/stylize/internal/loader"
	"github.com/born-ml/stylize/internal/serialization"
	"github.com/born-ml/stylize/internal/vgg"
)

// Metadata keys written by convert besides loader.MetadataPreprocess.
const (
	metadataArch   = "arch"
	metadataSource = "source"
)

func newConvertCmd() *cobra.Command {
	convertCmd := &cobra.Command{
		Use:   "convert SRC DST",
		Short: "Rewrite VGG feature weights as canonical safetensors",
		Long: `Convert reads VGG convolution weights from a Keras safetensors export,
a torchvision state dict (.pth) or a canonical file, and writes them as F32
safetensors named blockB_convC.weight/.bias with [out, in, kh, kw] kernels.
The preprocessing convention the weights expect is stored in the metadata.`,
		Args: cobra.ExactArgs(2),
		RunE: ConvertHandler,
	}
	convertCmd.Flags().String("arch", vgg.VGG19.Name, "Network architecture (vgg19, vgg16)")
	convertCmd.Flags().String("through", "", "Last layer to keep, e.g. block5_conv2 (default: every layer)")
	return convertCmd
}

// ConvertHandler converts SRC to canonical safetensors at DST.
func ConvertHandler(cmd *cobra.Command, args []string) error {
	arch, err := archFromFlags(cmd)
	if err != nil {
		return err
	}

	layers := arch.Layers()
	deepest := layers[len(layers)-1]
	if through, _ := cmd.Flags().GetString("through"); through != "" {
		if deepest, err = vgg.ParseLayer(through); err != nil {
			return err
		}
	}

	src, err := loader.OpenWeights(args[0], arch.Convs)
	if err != nil {
		return err
	}
	defer src.Close()

	n, err := convertWeights(arch, src, deepest, args[1], map[string]string{
		metadataSource: fmt.Sprintf("%s %s", src.Format(), src.Convention()),
	})
	if err != nil {
		return err
	}

	slog.Info("converted weights", "src", args[0], "dst", args[1], "tensors", n, "preprocess", src.Preprocessing())
	fmt.Fprintln(cmd.OutOrStdout(), args[1])
	return nil
}

// convertWeights writes every convolution of src up to deepest to dst and
// returns the number of tensors written.
func convertWeights(arch vgg.Arch, src vgg.WeightSource, deepest vgg.Layer, dst string, extra map[string]string) (int, error) {
	tensors, err := vgg.CanonicalTensors(arch, src, deepest)
	if err != nil {
		return 0, err
	}

	metadata := map[string]string{
		loader.MetadataPreprocess: string(src.Preprocessing()),
		metadataArch:              arch.Name,
	}
	for k, v := range extra {
		metadata[k] = v
	}

	if err := serialization.WriteSafeTensors(dst, tensors, metadata); err != nil {
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}
	return len(tensors), nil
}
