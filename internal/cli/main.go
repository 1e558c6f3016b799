package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := &cobra.Command{
		Use:          "clipforge <url>",
		Short:        "Cut vertical highlight clips from a video URL",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
	}

	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.Flags().String("out", "out", "Output directory")
	root.Flags().Int("clips", 5, "Maximum number of clips")
	root.Flags().Float64("min", 45, "Minimum clip duration in seconds")
	root.Flags().Float64("max", 90, "Maximum clip duration in seconds")
	root.Flags().Bool("captions", true, "Burn word-synced captions into the clips")
	root.Flags().Bool("reanalyze", false, "Ignore the cached analysis and re-run moment selection")
	root.Flags().String("model", "", "Reasoning model override")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
