package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-jbd/config"
	"github.com/mit-pdos/go-jbd/image"
	"github.com/mit-pdos/go-jbd/jrnl"
	"github.com/mit-pdos/go-jbd/metrics"
)

var (
	formatBlocks        string
	formatJournalBlocks string
)

var formatCmd = &cobra.Command{
	Use:   "format <image>",
	Short: "Create a disk image with an empty journal",
	Long: `Create a disk image file with a label at block 0, a journal starting
at block 1 and the remaining blocks free for filesystem data.

Sizes are block counts or byte sizes with a K, M or G suffix. With
--backend badger or leveldb the image is a directory; --backend mem formats
in memory and only reports the layout.

Examples:
  jbdctl format fs.img --blocks 64M --journal-blocks 1024
  jbdctl format fs.db --backend badger --blocks 16M`,
	Args: cobra.ExactArgs(1),
	RunE: runFormat,
}

func init() {
	formatCmd.Flags().StringVar(&formatBlocks, "blocks", "", "image size (default from config)")
	formatCmd.Flags().StringVar(&formatJournalBlocks, "journal-blocks", "", "journal size (default from config)")
}

func sizeFlag(flag string, def config.Blocks) (uint64, error) {
	if flag == "" {
		return uint64(def), nil
	}
	n, err := config.ParseBlocks(flag)
	return uint64(n), err
}

func runFormat(cmd *cobra.Command, args []string) error {
	total, err := sizeFlag(formatBlocks, cfg.Image.Blocks)
	if err != nil {
		return err
	}
	jblocks, err := sizeFlag(formatJournalBlocks, cfg.Image.JournalBlocks)
	if err != nil {
		return err
	}
	img, err := image.Format(imageBackend(), args[0], total, jblocks, jrnl.Options{Metrics: metrics.NewJournalMetrics()})
	if err != nil {
		return err
	}
	defer img.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "formatted %s (%s)\n", args[0], img.Backend)
	printLabel(out, img.Label)
	return nil
}
