package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/born-ml/stylize/internal/envconfig"
	"github.com/born-ml/stylize/internal/loader"
	"github.com/born-ml/stylize/internal/vgg"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "v0.1.0-dev"

var archs = map[string]vgg.Arch{
	vgg.VGG19.Name: vgg.VGG19,
	vgg.VGG16.Name: vgg.VGG16,
}

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "stylize",
		Short:         "Neural style transfer",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				versionHandler(cmd, args)
				return
			}
			cmd.Print(cmd.UsageString())
		},
	}
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	runCmd := newRunCmd()
	inspectCmd := newInspectCmd()
	convertCmd := newConvertCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(runCmd, []envconfig.EnvVar{
		envVars["STYLIZE_DEBUG"],
		envVars["STYLIZE_WEIGHTS"],
		envVars["STYLIZE_MAX_SIZE"],
		envVars["STYLIZE_NUM_THREADS"],
	})
	appendEnvDocs(inspectCmd, []envconfig.EnvVar{envVars["STYLIZE_WEIGHTS"], envVars["STYLIZE_MAX_SIZE"]})

	rootCmd.AddCommand(
		runCmd,
		inspectCmd,
		convertCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  cobra.NoArgs,
			Run:   versionHandler,
		},
	)

	return rootCmd
}

func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "stylize version %s\n", version)
}

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// addWeightFlags registers the flags shared by every command that builds a network.
func addWeightFlags(cmd *cobra.Command) {
	cmd.Flags().String("weights", envconfig.Weights(), "VGG weight file (.safetensors, .pth)")
	cmd.Flags().String("arch", vgg.VGG19.Name, "Network architecture (vgg19, vgg16)")
	cmd.Flags().Bool("random-weights", false, "Use randomly initialized weights instead of a weight file")
	cmd.Flags().Uint64("seed", 0, "Seed for --random-weights")
}

func archFromFlags(cmd *cobra.Command) (vgg.Arch, error) {
	name, _ := cmd.Flags().GetString("arch")
	arch, ok := archs[strings.ToLower(name)]
	if !ok {
		return vgg.Arch{}, fmt.Errorf("unknown architecture %q (expected vgg19 or vgg16)", name)
	}
	return arch, nil
}

// weightsFromFlags returns the weight source selected by the flags and a
// function releasing it.
func weightsFromFlags(cmd *cobra.Command, arch vgg.Arch) (vgg.WeightSource, func() error, error) {
	if random, _ := cmd.Flags().GetBool("random-weights"); random {
		seed, _ := cmd.Flags().GetUint64("seed")
		return vgg.RandomWeights(arch, seed), func() error { return nil }, nil
	}

	path, _ := cmd.Flags().GetString("weights")
	if path == "" {
		return nil, nil, fmt.Errorf("no weights: pass --weights or set STYLIZE_WEIGHTS")
	}
	w, err := loader.OpenWeights(path, arch.Convs)
	if err != nil {
		return nil, nil, err
	}
	return w, w.Close, nil
}
