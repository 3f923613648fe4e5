package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/u-root/u-root/pkg/boot/kexec"
)

func init() { Root.AddCommand(NewCmdKexec()) }

// NewCmdKexec creates the kexec subcommand. It stages the extracted kernel
// and initrd with the kernel's file-based kexec load; the actual reboot is
// left to the operator (systemctl kexec, or kexec -e).
func NewCmdKexec() *cobra.Command {
	var kernelPath, initrdPath, cmdlinePath string

	cmd := &cobra.Command{
		Use:   "kexec",
		Short: "Load an extracted kernel and initrd for kexec",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel, err := os.Open(kernelPath)
			if err != nil {
				return err
			}
			defer kernel.Close()

			ramfs, err := os.Open(initrdPath)
			if err != nil {
				return err
			}
			defer ramfs.Close()

			cmdline, err := os.ReadFile(cmdlinePath)
			if err != nil {
				return err
			}

			return kexec.FileLoad(kernel, ramfs, strings.TrimSpace(string(cmdline)))
		},
	}

	cmd.Flags().StringVarP(&kernelPath, "kernel", "k", "", "the kernel to load")
	cmd.Flags().StringVarP(&initrdPath, "initrd", "i", "", "the initrd to load")
	cmd.Flags().StringVarP(&cmdlinePath, "cmdline", "c", "", "the file holding the kernel command line")
	cmd.MarkFlagRequired("kernel")
	cmd.MarkFlagRequired("initrd")
	cmd.MarkFlagRequired("cmdline")
	return cmd
}
