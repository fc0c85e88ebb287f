//go:build !linux

package cmds

import (
	"errors"

	"github.com/spf13/cobra"
)

func attachCmd(cmd *cobra.Command, args []string) error {
	return errors.New("attaching to a process is only supported on linux, use a core file instead")
}
