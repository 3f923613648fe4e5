package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/onkernel/wyrcan/lib/logger"
	"github.com/onkernel/wyrcan/lib/rootfs"
	"github.com/onkernel/wyrcan/lib/unpack"
)

func init() { Root.AddCommand(NewCmdUnpack()) }

// NewCmdUnpack creates the unpack subcommand.
func NewCmdUnpack() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "unpack NAME OUTPUT",
		Short: "Unpack a container image into a directory",
		Long:  "Unpack downloads an image and writes its merged root filesystem into OUTPUT, which must not exist yet.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, output := args[0], args[1]

			// Refuse to merge into something that already exists.
			if err := os.Mkdir(output, 0o755); err != nil {
				return err
			}

			e := newEnv()
			repo, selector, err := e.repository(name)
			if err != nil {
				return err
			}
			img, err := repo.Image(cmd.Context(), selector)
			if err != nil {
				return err
			}

			meter := meterFor(quiet, img.String())
			u, err := unpack.New(img, meter, logger.NewSubsystemLogger(logger.SubsystemUnpack, e.logCfg))
			if err != nil {
				return err
			}

			err = rootfs.Extract(cmd.Context(), u, output,
				logger.NewSubsystemLogger(logger.SubsystemRootfs, e.logCfg))
			if m, ok := meter.(*terminalMeter); ok {
				m.Finish()
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "don't display the progress bar")
	return cmd
}
