package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/MeKo-Tech/ocrstudio/internal/model"
	"github.com/spf13/cobra"
)

// modesCmd lists the available resolution modes.
var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List available resolution modes",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODE\tBASE\tIMAGE\tCROP\tSPEED\tQUALITY")

		modes := model.Modes()
		for _, key := range model.ModeKeys() {
			m := modes[key]
			name := key
			if key == model.DefaultMode {
				name += " (default)"
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%s\t%s\n",
				name, m.BaseSize, m.ImageSize, m.CropMode, m.Speed, m.Quality)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modesCmd)
}
