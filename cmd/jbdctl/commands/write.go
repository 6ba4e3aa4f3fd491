package commands

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/image"
	"github.com/mit-pdos/go-jbd/internal/logger"
	"github.com/mit-pdos/go-jbd/jrnl"
	"github.com/mit-pdos/go-jbd/metrics"
)

var (
	writeBlocks       []uint
	writeRevokes      []uint
	writeFill         uint8
	writeNoCheckpoint bool
)

var writeCmd = &cobra.Command{
	Use:   "write <image>",
	Short: "Commit one transaction to an image",
	Long: `Commit a transaction that fills each --block with the --fill byte and
revokes each --revoke block. Block numbers are absolute and must lie past
the journal.

By default the journal is checkpointed and closed cleanly afterwards. With
--no-checkpoint the transaction is left in the log, as if the machine
crashed right after the commit; run "jbdctl recover" to replay it.

Examples:
  jbdctl write fs.img --block 1100 --block 1101 --fill 0xab --no-checkpoint
  jbdctl write fs.img --revoke 1100`,
	Args: cobra.ExactArgs(1),
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().UintSliceVar(&writeBlocks, "block", nil, "block to overwrite (repeatable)")
	writeCmd.Flags().UintSliceVar(&writeRevokes, "revoke", nil, "block to revoke (repeatable)")
	writeCmd.Flags().Uint8Var(&writeFill, "fill", 0, "byte to fill written blocks with")
	writeCmd.Flags().BoolVar(&writeNoCheckpoint, "no-checkpoint", false, "leave the transaction in the log")
}

var ErrBlockRange = errors.New("block outside the filesystem area")

func checkFSBlock(l image.Label, b uint) error {
	if uint64(b) < l.FSStart() || uint64(b) >= l.TotalBlocks {
		return errors.Wrapf(ErrBlockRange, "block %d not in [%d, %d)", b, l.FSStart(), l.TotalBlocks)
	}
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	if len(writeBlocks) == 0 && len(writeRevokes) == 0 {
		return errors.New("nothing to write: pass --block or --revoke")
	}
	img, err := image.Open(imageBackend(), args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	j, _, err := jrnl.Load(img.Devices(), jrnl.Options{Metrics: metrics.NewJournalMetrics()})
	if err != nil {
		return err
	}

	op, err := jrnl.Start(j, uint64(len(writeBlocks)+len(writeRevokes)))
	if err != nil {
		return err
	}
	data := make([]byte, common.BlockSize)
	for i := range data {
		data[i] = writeFill
	}
	for _, b := range writeBlocks {
		if err := checkFSBlock(img.Label, b); err != nil {
			return err
		}
		if err := op.OverWrite(common.Bnum(b), data); err != nil {
			return err
		}
	}
	for _, b := range writeRevokes {
		if err := checkFSBlock(img.Label, b); err != nil {
			return err
		}
		if err := op.Revoke(common.Bnum(b)); err != nil {
			return err
		}
	}
	tid, err := op.Commit()
	if err != nil {
		return err
	}
	logger.Info("committed transaction", "tid", tid,
		"blocks", len(writeBlocks), "revokes", len(writeRevokes))

	out := cmd.OutOrStdout()
	if writeNoCheckpoint {
		j.Crash()
		fmt.Fprintf(out, "committed transaction %d (left in log)\n", tid)
		return nil
	}
	if err := j.Destroy(); err != nil {
		return err
	}
	fmt.Fprintf(out, "committed transaction %d\n", tid)
	return nil
}
