// Package terminal implements functions for responding to user
// input and dispatching to the heap inspection commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/go-delve/heapview/pkg/glibc"
)

// maxExamineWords bounds the x command.
const maxExamineWords = 512

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the heapview terminal.
type Commands struct {
	cmds  []command
	names *trie.Trie
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// HeapCommands returns a Commands struct with default commands defined.
func HeapCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"heap-view", "visualize-libc-heap-chunks", "hv"}, group: heapCmds, cmdFn: heapView, helpMsg: `Prints every chunk of the main heap, word by word.

	heap-view [-json] [-nocollapse]

Each line shows the address of a word, its value and its printable bytes.
The first two words of a chunk are labeled with the chunk index and its
size and flags. Values pointing into a mapping are followed by the name of
the mapping, values pointing to the payload of a free chunk by the free
list holding it, as in

	0x00005558f02e02a0    0x00005558f02e02c0    ..........    → cache[0/1]

The walk ends at the top chunk. On a corrupted heap the chunks read so far
are printed, followed by the reason the walk stopped.

With -json the report is printed as a JSON object. Runs of three or more
zero words inside a chunk are collapsed unless -nocollapse is given or
collapse-nuls is false in the configuration.`},
		{aliases: []string{"chunks"}, group: heapCmds, cmdFn: chunksCmd, helpMsg: `Lists the chunks of the main heap.

	chunks

Prints one line per chunk with its base address, size, flags and the free
list it is on, if any.`},
		{aliases: []string{"bins", "freelists"}, group: heapCmds, cmdFn: binsCmd, helpMsg: `Prints the free lists of the main arena.

	bins [-json]

Lists the per-thread cache slots, the fast lists and the regular bins in
this order, with the payload addresses of their chunks. Lists that could
not be followed are reported as warnings. With -json the free chunks are
printed as an object mapping payload addresses to list labels.`},
		{aliases: []string{"refresh"}, group: heapCmds, cmdFn: refresh, helpMsg: `Drops the cached free lists.

	refresh

Free lists are read once per stop of the target. Use refresh after the
target memory has changed behind heapview's back.`},
		{aliases: []string{"regions", "maps"}, group: memoryCmds, cmdFn: regionsCmd, helpMsg: `Prints the memory mappings of the target.

	regions [-spans]

With -spans, mappings of the same file are merged into one address range.`},
		{aliases: []string{"examinemem", "x"}, group: memoryCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine memory word by word.

	examinemem [-fmt <format>] [-count|-len <count>] <address>

Format can be bin, oct, dec or hex (default).
The address is a number or one of heap, arena and top.
Every word is annotated like in heap-view.`},
		{aliases: []string{"peek-pointers"}, group: memoryCmds, cmdFn: peekPointersCmd, helpMsg: `Finds pointers to other mappings.

	peek-pointers <start> [<mapping>] [all]

Scans memory from the page aligned address start until the first
unreadable page and prints the words pointing into other mappings. The
mapping argument restricts the search: heap, stack, or part of the path of
a mapped file. Only the first pointer into each mapping is shown unless
all is given.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: cont, helpMsg: `Resumes a live process stopped by heapview.

	continue`},
		{aliases: []string{"halt"}, group: runCmds, cmdFn: halt, helpMsg: `Stops a live process.

	halt`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of heapview commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.
If path is a single '-' character an interactive starlark interpreter will start.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of heapview's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> [<value>]

Shows or changes the value of a configuration parameter. Lists take their
elements separated by spaces, quoted with '"' when they contain spaces.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit heapview.

	exit`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.rebuildNames()
	return c
}

func (c *Commands) rebuildNames() {
	c.names = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.names.Add(alias, nil)
		}
	}
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.names.Add(cmdstr, nil)
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it does nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	t.log.Debugf("command %q args %q", cmdname, args)
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.rebuildNames()
}

// complete returns the command names starting with line, for the line
// editor.
func (c *Commands) complete(line string) []string {
	if strings.Contains(line, " ") {
		return nil
	}
	r := c.names.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits the arguments of a command the way a shell would.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

// parseAddress parses a number or one of the names heap, arena and top.
func parseAddress(t *Term, s string) (uint64, error) {
	switch s {
	case "heap":
		return t.session.HeapBase(), nil
	case "arena":
		return t.session.ArenaAddr(), nil
	case "top":
		arena, err := t.session.Arena()
		if err != nil {
			return 0, err
		}
		return arena.Top, nil
	}
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse address %q", s)
	}
	return addr, nil
}

func (t *Term) ptrSize() int {
	return t.session.Target().Arch().PtrSize()
}

func heapView(t *Term, args string) error {
	opts, err := splitArgs(args)
	if err != nil {
		return err
	}
	jsonOut := t.json
	collapse := t.conf.GetCollapseNuls()
	for _, o := range opts {
		switch o {
		case "-json":
			jsonOut = true
		case "-nocollapse":
			collapse = false
		default:
			return fmt.Errorf("unknown option %q", o)
		}
	}

	rep, err := t.session.Report()
	if rep == nil {
		return err
	}
	if jsonOut {
		return writeReportJSON(t.stdout, rep)
	}
	t.stdout.pw.PageMaybe(nil)
	defer t.stdout.pw.Reset()
	p := &reportPrinter{w: t.stdout, scheme: t.scheme, collapse: collapse, ptrSize: t.ptrSize()}
	p.report(rep)
	return nil
}

func chunksCmd(t *Term, args string) error {
	if args != "" {
		return errors.New("chunks takes no arguments")
	}
	it, err := t.session.Walk()
	if err != nil {
		return err
	}
	idx, err := t.session.KnownValues()
	if err != nil {
		return err
	}
	var lines []chunkLine
	for it.Next() {
		c := it.Chunk()
		label, _ := idx.Lookup(c.DataAddress())
		lines = append(lines, chunkLine{chunk: c, label: label})
	}
	var top *glibc.TopChunk
	if tc, ok := it.Top(); ok {
		top = &tc
	}
	return printChunks(t.stdout, t.ptrSize(), lines, top, it.Err())
}

func binsCmd(t *Term, args string) error {
	jsonOut := t.json
	switch args {
	case "":
	case "-json":
		jsonOut = true
	default:
		return fmt.Errorf("unknown option %q", args)
	}
	snap, err := t.session.Snapshot()
	if err != nil {
		return err
	}
	if jsonOut {
		return writeKnownValuesJSON(t.stdout, snap.Index)
	}
	printBins(t.stdout, t.ptrSize(), snap.Arena, snap.Rec)
	return nil
}

func refresh(t *Term, args string) error {
	t.session.Invalidate()
	fmt.Fprintln(t.stdout, "free lists will be read again")
	return nil
}

func regionsCmd(t *Term, args string) error {
	switch args {
	case "":
		return printRegions(t.stdout, t.ptrSize(), t.session.Classifier(), false)
	case "-spans":
		return printRegions(t.stdout, t.ptrSize(), t.session.Classifier(), true)
	}
	return fmt.Errorf("unknown option %q", args)
}

func examineMemoryCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}

	var (
		address  uint64
		haveAddr bool
		ok       bool
	)

	priFmt := byte('x')
	count := 1

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
		default:
			if i != len(v)-1 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			address, err = parseAddress(t, v[i])
			if err != nil {
				return err
			}
			haveAddr = true
		}
	}

	if count > maxExamineWords {
		return fmt.Errorf("count must be less than or equal to %d words", maxExamineWords)
	}
	if !haveAddr {
		return fmt.Errorf("no address specified")
	}

	idx, err := t.session.KnownValues()
	if err != nil {
		// free lists are optional here
		idx = nil
	}
	a := glibc.NewAssembler(t.session.Target().Memory(), t.session.Layout(), t.session.Classifier())
	p := &reportPrinter{w: t.stdout, scheme: t.scheme, ptrSize: t.ptrSize()}
	for i := 0; i < count; i++ {
		w, err := a.Word(address+uint64(i*p.ptrSize), idx)
		if err != nil {
			return err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s:    %s    %s", p.addr(w.Addr), formatWord(priFmt, p.ptrSize, w.Value), w.ASCII)
		p.annotate(&b, &w)
		fmt.Fprintln(t.stdout, b.String())
	}
	return nil
}

func formatWord(priFmt byte, ptrSize int, v uint64) string {
	switch priFmt {
	case 'o':
		return fmt.Sprintf("%#o", v)
	case 'd':
		return strconv.FormatUint(v, 10)
	case 'b':
		return fmt.Sprintf("0b%0*b", ptrSize*8, v)
	}
	return formatAddress(ptrSize, v)
}

func peekPointersCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) < 1 || len(v) > 3 {
		return errors.New("wrong number of arguments: peek-pointers <start> [<mapping>] [all]")
	}
	start, err := parseAddress(t, v[0])
	if err != nil {
		return err
	}
	filter, all := "", false
	for _, arg := range v[1:] {
		if arg == "all" {
			all = true
			continue
		}
		filter = arg
	}
	target := t.session.Target()
	ptrs, err := PeekPointers(target.Memory(), target.Arch(), t.session.Classifier(), start, filter, all)
	for _, p := range ptrs {
		fmt.Fprintf(t.stdout, "Found pointer at %#x to %#x ('%s', perm: %s)\n", p.Addr, p.Value, p.Region.Name, p.Region.Entry.Perms())
	}
	if err == nil && len(ptrs) == 0 {
		fmt.Fprintln(t.stdout, "no pointers found")
	}
	return err
}

// runner is implemented by live targets that can be stopped and resumed.
type runner interface {
	Stop() error
	Resume() error
}

var errNotLive = errors.New("the target is not a live process")

func cont(t *Term, args string) error {
	r, ok := t.session.Target().(runner)
	if !ok {
		return errNotLive
	}
	if err := r.Resume(); err != nil {
		return err
	}
	t.session.Invalidate()
	fmt.Fprintln(t.stdout, "process resumed, use halt to stop it again")
	return nil
}

func halt(t *Term, args string) error {
	r, ok := t.session.Target().(runner)
	if !ok {
		return errNotLive
	}
	if err := r.Stop(); err != nil {
		return err
	}
	t.session.Invalidate()
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, args string) error {
	argv := strings.Fields(args)
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range argv {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits heapview.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
