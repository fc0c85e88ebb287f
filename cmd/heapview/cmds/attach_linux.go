package cmds

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/go-delve/heapview/pkg/proc"
	"github.com/go-delve/heapview/pkg/proc/native"
)

func attachCmd(cmd *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid: %s", args[0])
	}
	return execute(func() (proc.Target, error) {
		p, err := native.Attach(pid)
		if err != nil {
			return nil, err
		}
		if err := p.Stop(); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
}
