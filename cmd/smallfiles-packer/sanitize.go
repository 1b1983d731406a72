package main

import (
	"fmt"

	"github.com/nspcc-dev/smallfiles/pkg/packer"
	"github.com/nspcc-dev/smallfiles/pkg/util/grace"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const checkArchivesFlag = "check-archives"

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Reset records left locked by this instance",
	Long: `Sanitize moves records locked by the configured instance back to the
new state. It repairs the record store after an unclean shutdown and is
safe to run repeatedly. The packing loop sanitizes on start as well.`,
	Args: cobra.NoArgs,
	RunE: sanitize,
}

func init() {
	sanitizeCmd.Flags().Bool(checkArchivesFlag, false, "Report registered containers missing in the local mount")
}

func sanitize(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	ctx := grace.NewGracefulContext(a.log)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			a.log.Warn("failed to close record store", zap.Error(err))
		}
	}()

	n, err := packer.Sanitize(ctx, st, a.instance, a.log)
	if err != nil {
		return err
	}
	cmd.Printf("Records reset: %d\n", n)

	check, _ := cmd.Flags().GetBool(checkArchivesFlag)
	if !check {
		return nil
	}

	missing, err := packer.CheckArchives(ctx, st, a.resolver, a.log)
	if err != nil {
		return err
	}

	for _, m := range missing {
		cmd.Printf("Missing container: %s (%s)\n", m.Path, m.ID)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%d registered containers are missing", len(missing))
	}

	cmd.Println("All registered containers are present")

	return nil
}
