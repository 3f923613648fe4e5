package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() { Root.AddCommand(NewCmdTags()) }

// NewCmdTags creates the tags subcommand.
func NewCmdTags() *cobra.Command {
	return &cobra.Command{
		Use:   "tags NAME",
		Short: "List all tags for a given repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := newEnv().repository(args[0])
			if err != nil {
				return err
			}

			tags, err := repo.Tags(cmd.Context())
			if err != nil {
				return err
			}
			for _, tag := range tags {
				fmt.Fprintln(cmd.OutOrStdout(), tag)
			}
			return nil
		},
	}
}
