package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/nspcc-dev/smallfiles/pkg/archive"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const checkFlag = "check"

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect containers",
}

var archiveListCmd = &cobra.Command{
	Use:   "list <container>",
	Short: "List files of the container",
	Long: `List prints entries of the local container file together with the
original namespace paths kept in the container index.`,
	Args: cobra.ExactArgs(1),
	RunE: listArchive,
}

func init() {
	archiveListCmd.Flags().Bool(checkFlag, false, "Read every entry and verify its checksum")
	archiveCmd.AddCommand(archiveListCmd)
}

func listArchive(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	l, err := archive.List(f, fi.Size())
	if err != nil {
		return err
	}

	paths := make(map[string]string)
	for _, r := range archive.ParseIndex(l.Index) {
		paths[r.Name] = r.Path
	}

	check, _ := cmd.Flags().GetBool(checkFlag)

	header := []string{"#", "pnfsid", "Size", "Path"}
	if check {
		header = append(header, "Checksum")
	}

	out := tablewriter.NewWriter(cmd.OutOrStdout())
	out.SetHeader(header)
	out.SetAutoWrapText(false)

	var (
		total  uint64
		broken int
	)
	for i, e := range l.Entries {
		row := []string{strconv.Itoa(i), e.Name, strconv.FormatUint(e.Size, 10), paths[e.Name]}
		if check {
			status := "ok"
			if err := checkEntry(l, i); err != nil {
				status = err.Error()
				broken++
			}
			row = append(row, status)
		}
		out.Append(row)
		total += e.Size
	}

	footer := []string{"", strconv.Itoa(len(l.Entries)), strconv.FormatUint(total, 10), ""}
	if check {
		footer = append(footer, strconv.Itoa(broken))
	}
	out.SetFooter(footer)
	out.Render()

	if unindexed := len(l.Entries) - len(paths); unindexed > 0 {
		cmd.Printf("%d entries are missing in the index\n", unindexed)
	}

	if broken > 0 {
		return fmt.Errorf("%d entries are broken", broken)
	}

	return nil
}

func checkEntry(l *archive.Listing, i int) error {
	r, err := l.Open(i)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = io.Copy(io.Discard, r)
	return err
}
