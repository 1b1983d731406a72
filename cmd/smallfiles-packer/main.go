package main

import (
	"os"

	"github.com/nspcc-dev/smallfiles/cmd/internal/cmderr"
	"github.com/nspcc-dev/smallfiles/misc"
	"github.com/spf13/cobra"
)

var command = &cobra.Command{
	Use:   "smallfiles-packer",
	Short: "Small file packer",
	Long: `Small file packer collects small files of configured groups into
large ZIP containers and tracks the state of every file in the record store.`,
	RunE:          entryPoint,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func entryPoint(cmd *cobra.Command, _ []string) error {
	printVersion, _ := cmd.Flags().GetBool("version")
	if printVersion {
		cmd.Print(misc.BuildInfo("Small file packer"))

		return nil
	}

	return cmd.Usage()
}

func init() {
	// use stdout as default output for cmd.Print()
	command.SetOut(os.Stdout)
	command.Flags().Bool("version", false, "Application version")
	command.PersistentFlags().StringP(configFlag, "c", "", "Config file (default is "+defaultConfigPath+" if present)")
	command.AddCommand(
		runCmd,
		sanitizeCmd,
		dcapCmd,
		archiveCmd,
	)
}

func main() {
	err := command.Execute()
	cmderr.ExitOnErr(err)
}
