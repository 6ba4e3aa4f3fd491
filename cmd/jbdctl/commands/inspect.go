package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-jbd/image"
	"github.com/mit-pdos/go-jbd/jrnl"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <image>",
	Short: "Show an image's journal without recovering it",
	Long: `Print the image label, the journal superblock and every block found
walking the log from its start. Nothing is written.

Tag records print as block number plus flags ([E]scape, [S]ame uuid,
[D]eleted, [L]ast tag); revoke records print as -block.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func printLabel(w io.Writer, l image.Label) {
	printPairs(w, [][2]string{
		{"blocks", fmt.Sprint(l.TotalBlocks)},
		{"journal start", fmt.Sprint(l.JournalStart)},
		{"journal blocks", fmt.Sprint(l.JournalBlocks)},
		{"fs start", fmt.Sprint(l.FSStart())},
	})
}

func runInspect(cmd *cobra.Command, args []string) error {
	img, err := image.Open(imageBackend(), args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	sb, ents, err := jrnl.Inspect(img.Devices())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printLabel(out, img.Label)
	fmt.Fprintln(out)
	printSuperblock(out, sb)
	fmt.Fprintln(out)
	if len(ents) == 0 {
		fmt.Fprintln(out, "log is empty")
		return nil
	}
	printEntries(out, ents)
	return nil
}
