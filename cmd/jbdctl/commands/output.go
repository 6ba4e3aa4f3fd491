package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/mit-pdos/go-jbd/metrics"
	"github.com/mit-pdos/go-jbd/ondisk"
	"github.com/mit-pdos/go-jbd/wal"
)

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// printPairs prints a key-value table.
func printPairs(w io.Writer, pairs [][2]string) {
	table := newTable(w)
	table.SetAutoFormatHeaders(false)
	table.SetColumnSeparator(":")
	for _, p := range pairs {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
}

func printRecoveryInfo(w io.Writer, info wal.RecoveryInfo) {
	printPairs(w, [][2]string{
		{"start transaction", fmt.Sprint(info.StartTransaction)},
		{"end transaction", fmt.Sprint(info.EndTransaction)},
		{"replayed blocks", fmt.Sprint(info.NumReplays)},
		{"revoke records", fmt.Sprint(info.NumRevokes)},
		{"revoke hits", fmt.Sprint(info.NumRevokeHits)},
	})
}

func printSuperblock(w io.Writer, sb ondisk.Superblock) {
	printPairs(w, [][2]string{
		{"type", sb.BlockType.String()},
		{"block size", fmt.Sprint(sb.BlockSize)},
		{"first", fmt.Sprint(sb.First)},
		{"maxlen", fmt.Sprint(sb.Maxlen)},
		{"sequence", fmt.Sprint(sb.Sequence)},
		{"start", fmt.Sprint(sb.Start)},
		{"errno", fmt.Sprint(sb.Errno)},
		{"uuid", sb.UUID.String()},
	})
}

func printEntries(w io.Writer, ents []wal.Entry) {
	table := newTable(w)
	table.SetHeader([]string{"Block", "Type", "Sequence", "Records"})
	for _, e := range ents {
		var recs []string
		for _, tag := range e.Tags {
			recs = append(recs, fmt.Sprintf("%d%s", tag.BlockNr, shortFlags(tag.Flags)))
		}
		for _, r := range e.Revokes {
			recs = append(recs, fmt.Sprintf("-%d", r))
		}
		table.Append([]string{
			fmt.Sprint(e.Blk),
			e.Type.String(),
			fmt.Sprint(e.Sequence),
			strings.Join(recs, " "),
		})
	}
	table.Render()
}

// shortFlags renders tag flags as e.g. "[EL]": Escape, Same uuid, Deleted,
// Last tag.
func shortFlags(f ondisk.TagFlag) string {
	var b strings.Builder
	for _, fl := range []struct {
		flag ondisk.TagFlag
		c    byte
	}{
		{ondisk.FlagEscape, 'E'},
		{ondisk.FlagSameUUID, 'S'},
		{ondisk.FlagDeleted, 'D'},
		{ondisk.FlagLastTag, 'L'},
	} {
		if f.Has(fl.flag) {
			b.WriteByte(fl.c)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "[" + b.String() + "]"
}

// printMetrics prints every metric gathered so far, if metrics are enabled.
func printMetrics(w io.Writer) error {
	reg := metrics.GetRegistry()
	if reg == nil {
		return nil
	}
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	sort.Slice(mfs, func(i, j int) bool { return mfs[i].GetName() < mfs[j].GetName() })

	table := newTable(w)
	table.SetHeader([]string{"Metric", "Value"})
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			var v string
			switch {
			case m.GetCounter() != nil:
				v = fmt.Sprint(m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				v = fmt.Sprint(m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				v = fmt.Sprintf("count=%d sum=%g", h.GetSampleCount(), h.GetSampleSum())
			default:
				continue
			}
			table.Append([]string{mf.GetName(), v})
		}
	}
	table.Render()
	return nil
}
