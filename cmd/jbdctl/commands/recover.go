package commands

import (
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-jbd/image"
	"github.com/mit-pdos/go-jbd/jrnl"
	"github.com/mit-pdos/go-jbd/metrics"
)

var recoverCmd = &cobra.Command{
	Use:   "recover <image>",
	Short: "Replay the journal of an image after a crash",
	Long: `Replay every committed transaction left in the image's journal into
its filesystem blocks, then mark the journal clean.

With metrics enabled (metrics.enabled or JBD_METRICS_ENABLED=true) the
journal metrics are printed after the recovery summary.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	img, err := image.Open(imageBackend(), args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	j, info, err := jrnl.Load(img.Devices(), jrnl.Options{Metrics: metrics.NewJournalMetrics()})
	if err != nil {
		return err
	}
	if err := j.Destroy(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printRecoveryInfo(out, info)
	return printMetrics(out)
}
