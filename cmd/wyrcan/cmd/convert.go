package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/onkernel/wyrcan/lib/initrd"
	"github.com/onkernel/wyrcan/lib/iotools"
	"github.com/onkernel/wyrcan/lib/logger"
	"github.com/onkernel/wyrcan/lib/unpack"
)

func init() { Root.AddCommand(NewCmdConvert()) }

// byteCount tallies bytes for the final size report.
type byteCount int64

func (b *byteCount) Write(p []byte) (int, error) {
	*b += byteCount(len(p))
	return len(p), nil
}

// NewCmdConvert creates the convert subcommand.
func NewCmdConvert() *cobra.Command {
	var kernelPath, initrdPath, cmdlinePath string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "convert NAME",
		Short: "Convert a container image into the files necessary for boot",
		Long:  "Convert streams an image into a kernel, an initrd (newc cpio), and a kernel command line. Outputs that were created are removed again on failure.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := newEnv()
			log := logger.NewSubsystemLogger(logger.SubsystemInitrd, e.logCfg)

			var created []string
			outputs := map[string]io.Writer{}
			for _, p := range []string{kernelPath, initrdPath, cmdlinePath} {
				if p == "" {
					continue
				}
				f, err := os.Create(p)
				if err != nil {
					removeAll(created, log)
					return err
				}
				defer f.Close()
				created = append(created, p)
				outputs[p] = f
			}
			writer := func(p string) io.Writer {
				if w, ok := outputs[p]; ok {
					return w
				}
				return io.Discard
			}

			repo, selector, err := e.repository(args[0])
			if err != nil {
				removeAll(created, log)
				return err
			}
			img, err := repo.Image(cmd.Context(), selector)
			if err != nil {
				removeAll(created, log)
				return err
			}

			meter := meterFor(quiet, img.String())
			u, err := unpack.New(img, meter,
				logger.NewSubsystemLogger(logger.SubsystemUnpack, e.logCfg))
			if err != nil {
				removeAll(created, log)
				return err
			}

			// The muxer lets the archive land in the file while the counter
			// observes exactly the bytes the file accepted.
			var written byteCount
			initrdOut := iotools.NewMuxer(writer(initrdPath), &written)

			err = initrd.Extract(cmd.Context(), u,
				writer(kernelPath), initrdOut, writer(cmdlinePath), log)
			if m, ok := meter.(*terminalMeter); ok {
				m.Finish()
			}
			if err != nil {
				removeAll(created, log)
				return err
			}

			log.Info("converted image",
				"image", img.String(),
				"initrd", datasize.ByteSize(written).HR(),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kernelPath, "kernel", "k", "", "the path to store the kernel")
	cmd.Flags().StringVarP(&initrdPath, "initrd", "i", "", "the path to store the initrd")
	cmd.Flags().StringVarP(&cmdlinePath, "cmdline", "c", "", "the path to store the cmdline")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "don't display the progress bar")
	return cmd
}

// removeAll best-effort deletes partially written outputs.
func removeAll(paths []string, log *slog.Logger) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			log.Warn("could not remove partial output", "path", p, "error", err)
		}
	}
}
