package terminal

import (
	"fmt"
	"io"
	"strings"
)

// WriteMarkdown writes the documentation of every command, grouped like
// the output of help.
func (c *Commands) WriteMarkdown(w io.Writer) {
	fmt.Fprint(w, "# Configuration and Command History\n\n")
	fmt.Fprint(w, "If `$HEAPVIEW_CONFIG_DIR` is set, then configuration and command history files are located there. ")
	fmt.Fprint(w, "Otherwise, they are located in `$HOME/.heapview`.\n\n")
	fmt.Fprint(w, "The configuration file `config.yml` contains all the configurable options and their default values, ")
	fmt.Fprint(w, "they can be changed from the terminal with the `config` command. ")
	fmt.Fprintf(w, "The command history is stored in `%s`.\n\n", historyFile)

	fmt.Fprint(w, "# Commands\n")
	for _, cgd := range commandGroupDescriptions {
		cmds := c.group(cgd.group)
		if len(cmds) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n## %s\n\n", cgd.description)
		fmt.Fprint(w, "Command | Aliases | Description\n")
		fmt.Fprint(w, "--------|---------|------------\n")
		for _, cmd := range cmds {
			fmt.Fprintf(w, "[%s](#%s) | %s | %s\n", cmd.aliases[0], cmd.aliases[0], strings.Join(cmd.aliases[1:], " "), summary(cmd.helpMsg))
		}
	}

	for _, cgd := range commandGroupDescriptions {
		for _, cmd := range c.group(cgd.group) {
			fmt.Fprintf(w, "\n### %s\n\n%s\n", cmd.aliases[0], strings.TrimRight(cmd.helpMsg, "\n"))
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "\nAliases: %s\n", strings.Join(cmd.aliases[1:], " "))
			}
		}
	}
}

func (c *Commands) group(g commandGroup) []command {
	var r []command
	for _, cmd := range c.cmds {
		if cmd.group == g {
			r = append(r, cmd)
		}
	}
	return r
}

// summary returns the first line of a help message.
func summary(helpMsg string) string {
	if i := strings.Index(helpMsg, "\n"); i >= 0 {
		return helpMsg[:i]
	}
	return helpMsg
}
