package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cheggaaa/pb"
	"github.com/nspcc-dev/smallfiles/cmd/internal/cmderr"
	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	dcapconfig "github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config/dcap"
	"github.com/nspcc-dev/smallfiles/pkg/dcap"
	"github.com/nspcc-dev/smallfiles/pkg/util/grace"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	doorFlag       = "door"
	noProgressFlag = "no-progress"
)

var dcapCmd = &cobra.Command{
	Use:   "dcap",
	Short: "Transfer files through a DCAP door",
	Long: `Transfer files through a DCAP door. The door URL is taken from the flag
or from the dcap section of the configuration. Remote paths are relative to
the door URL path.`,
}

var dcapPutCmd = &cobra.Command{
	Use:   "put <local> <remote>",
	Short: "Upload local file",
	Args:  cobra.ExactArgs(2),
	RunE:  dcapPut,
}

var dcapGetCmd = &cobra.Command{
	Use:   "get <remote> <local>",
	Short: "Download remote file",
	Args:  cobra.ExactArgs(2),
	RunE:  dcapGet,
}

var dcapRenameCmd = &cobra.Command{
	Use:   "rename <remote> <new remote>",
	Short: "Rename remote file",
	Args:  cobra.ExactArgs(2),
	RunE:  dcapRename,
}

func init() {
	dcapCmd.PersistentFlags().String(doorFlag, "", "Door URL, dcap://host[:port]/root")
	dcapCmd.PersistentFlags().Bool(noProgressFlag, false, "Do not show progress bar")
	dcapCmd.AddCommand(dcapPutCmd, dcapGetCmd, dcapRenameCmd)
}

// dial connects to the door given by the flag or the configuration.
func dial(ctx context.Context, cmd *cobra.Command) (*dcap.Client, error) {
	c, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}

	door, _ := cmd.Flags().GetString(doorFlag)
	if door == "" {
		door = dcapconfig.Door(c)
	}
	if door == "" {
		return nil, cmderr.Config(errors.New("door URL is not set"))
	}
	if _, _, err := dcap.ParseDoor(door); err != nil {
		return nil, cmderr.Config(err)
	}

	return dcap.Dial(ctx, door, doorOptions(c)...)
}

func doorOptions(c *config.Config) []dcap.Option {
	return []dcap.Option{
		dcap.WithDialTimeout(dcapconfig.DialTimeout(c)),
		dcap.WithIOTimeout(dcapconfig.IOTimeout(c)),
		dcap.WithChunkSize(dcapconfig.ChunkSize(c)),
	}
}

// progress returns progress bar of the given size if it makes sense to
// show it, nil otherwise.
func progress(cmd *cobra.Command, size int64) *pb.ProgressBar {
	noProgress, _ := cmd.Flags().GetBool(noProgressFlag)
	if noProgress || size <= 0 || !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}

	p := pb.New64(size)
	p.Output = cmd.OutOrStdout()
	p.SetUnits(pb.U_BYTES)

	return p.Start()
}

func dcapPut(cmd *cobra.Command, args []string) error {
	ctx := grace.NewGracefulContext(nil)

	src, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return err
	}

	c, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	dst, err := c.Open(ctx, args[1], dcap.ModeWrite)
	if err != nil {
		return err
	}

	var r io.Reader = src
	p := progress(cmd, fi.Size())
	if p != nil {
		r = p.NewProxyReader(src)
	}

	n, err := dst.ReadFrom(r)
	if cErr := dst.Close(); err == nil {
		err = cErr
	}
	if p != nil {
		p.Finish()
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", args[0], err)
	}

	cmd.Printf("[%s] %d bytes stored as %s\n", args[0], n, args[1])

	return nil
}

func dcapGet(cmd *cobra.Command, args []string) error {
	ctx := grace.NewGracefulContext(nil)

	c, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	src, err := c.Open(ctx, args[0], dcap.ModeRead)
	if err != nil {
		return err
	}
	defer src.Close()

	size, err := src.Seek(0, dcap.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := src.Seek(0, dcap.SeekSet); err != nil {
		return err
	}

	dst, err := os.OpenFile(args[1], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	var w io.Writer = dst
	p := progress(cmd, size)
	if p != nil {
		w = io.MultiWriter(dst, p)
	}

	n, err := io.Copy(w, src)
	if cErr := dst.Close(); err == nil {
		err = cErr
	}
	if p != nil {
		p.Finish()
	}
	if err != nil {
		_ = os.Remove(args[1])
		return fmt.Errorf("download %s: %w", args[0], err)
	}

	cmd.Printf("[%s] %d bytes saved to %s\n", args[0], n, args[1])

	return nil
}

func dcapRename(cmd *cobra.Command, args []string) error {
	ctx := grace.NewGracefulContext(nil)

	c, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Rename(ctx, args[0], args[1]); err != nil {
		return err
	}

	cmd.Printf("%s renamed to %s\n", args[0], args[1])

	return nil
}
