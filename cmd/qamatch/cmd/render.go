package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qamatch/internal/ui"
)

// newRenderer creates the progress display for a long-running command.
// Progress goes to stderr so stdout stays machine-readable. --no-color and
// NO_COLOR both disable color.
func newRenderer(cmd *cobra.Command, title, unit string, stages ...ui.Stage) ui.Renderer {
	return ui.NewRenderer(ui.NewConfig(cmd.ErrOrStderr(),
		ui.WithNoColor(noColorFlag(cmd)),
		ui.WithTitle(title),
		ui.WithStages(stages...),
		ui.WithUnit(unit),
	))
}

func noColorFlag(cmd *cobra.Command) bool {
	noColor, _ := cmd.Flags().GetBool("no-color")
	return noColor || ui.DetectNoColor()
}
