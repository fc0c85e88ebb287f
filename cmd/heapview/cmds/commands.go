// Package cmds implements the heapview command line.
package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/heapview/pkg/config"
	"github.com/go-delve/heapview/pkg/glibc"
	"github.com/go-delve/heapview/pkg/logflags"
	"github.com/go-delve/heapview/pkg/proc"
	"github.com/go-delve/heapview/pkg/proc/core"
	"github.com/go-delve/heapview/pkg/proc/memimage"
	"github.com/go-delve/heapview/pkg/terminal"
	"github.com/go-delve/heapview/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// heapBase and arena override the discovered heap and main arena.
	heapBase addrValue
	arena    addrValue
	// libcVersion overrides the glibc version of the target.
	libcVersion string
	// jsonOutput makes heap-view and bins print JSON.
	jsonOutput bool
	// colorMode is one of auto, always and never.
	colorMode string
	// commands are run in order instead of starting the interactive terminal.
	commands []string
	// initFile is the path to initialization file.
	initFile string

	// loadAddress is the address of a raw dump given without one.
	loadAddress addrValue
	// archName selects the architecture of raw dumps.
	archName string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config

	// stdout replaces the standard output of the terminal when set.
	stdout io.Writer
)

const heapviewCommandLongDesc = `heapview inspects the glibc heap of a process.

It reconstructs the main arena, walks the chunks of the main heap and follows
every free list (per-thread cache, fast lists and bins), then prints an
annotated map of the heap in which every word pointing to a free chunk is
labeled with the list holding it.

The target can be a running process, a core file or raw memory dumps.`

// addrValue is a pflag.Value accepting addresses in any base.
type addrValue uint64

var _ pflag.Value = (*addrValue)(nil)

func (a *addrValue) String() string {
	if *a == 0 {
		return ""
	}
	return fmt.Sprintf("%#x", uint64(*a))
}

func (a *addrValue) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q", s)
	}
	*a = addrValue(v)
	return nil
}

func (a *addrValue) Type() string { return "address" }

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main heapview root command.
	rootCommand = &cobra.Command{
		Use:   "heapview",
		Short: "heapview is a glibc heap inspector.",
		Long:  heapviewCommandLongDesc,
		// errors are reported by the subcommands
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'heapview help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'heapview help log').")

	rootCommand.PersistentFlags().Var(&heapBase, "heap-base", "Address of the main heap, defaults to the [heap] mapping.")
	rootCommand.PersistentFlags().Var(&arena, "arena", "Address of the main arena, defaults to a search of the libc data segment.")
	rootCommand.PersistentFlags().StringVar(&libcVersion, "libc-version", "", "glibc version of the target, e.g. 2.35, when it can not be detected.")
	rootCommand.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print heap-view and bins output as JSON.")
	rootCommand.PersistentFlags().StringVar(&colorMode, "color", "auto", "Colorize output: auto, always or never.")
	rootCommand.PersistentFlags().StringArrayVarP(&commands, "command", "c", nil, "Run a terminal command and exit, may be repeated.")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to a running process and inspect its heap.",
		Long: `Attach to an already running process and inspect its heap.

The process is stopped with SIGSTOP while heapview runs and is resumed when
heapview exits. Use the continue and halt commands to let it run for a while.
Reading the memory of another process requires the same permissions as
ptrace(2).`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		RunE: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'core' subcommand.
	coreCommand := &cobra.Command{
		Use:   "core <core>",
		Short: "Inspect the heap of a core dump.",
		Long: `Inspect the heap of a Linux ELF core dump.

The names of file backed mappings are read from the NT_FILE note, the
[heap] mapping is recognized by its position after the executable.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a core file")
			}
			return nil
		},
		RunE: coreCmd,
	}
	rootCommand.AddCommand(coreCommand)

	// 'raw' subcommand.
	rawCommand := &cobra.Command{
		Use:   "raw <dump>...",
		Short: "Inspect raw memory dumps.",
		Long: `Inspect the heap in raw memory dumps, e.g. written by gdb's "dump memory".

Every dump is given as path@address[:name], for example

	heapview raw heap.bin@0x555555559000:[heap] libc.bin@0x7ffff7dd0000:/lib/libc.so.6

A single dump may instead be given as a plain path with --load-address, it is
then named [heap]. Since raw dumps carry no version information the glibc
version should be given with --libc-version.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide at least one dump")
			}
			return nil
		},
		RunE: rawCmd,
	}
	rawCommand.Flags().Var(&loadAddress, "load-address", "Address of a dump given without one.")
	rawCommand.Flags().StringVar(&archName, "arch", "amd64", "Architecture of the dumps: amd64, 386, arm64 or arm.")
	rootCommand.AddCommand(rawCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "heapview\n%s\n", version.HeapviewVersion)
			if log {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	heap		Log free list warnings and snapshot invalidation
	walker		Log every chunk of the heap walk
	target		Log memory map and memory reads of the target
	terminal	Log terminal commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	if docCall {
		rootCommand.AddCommand(&cobra.Command{
			Use:    "gen-docs",
			Short:  "Writes the documentation of the terminal commands.",
			Hidden: true,
			Run: func(cmd *cobra.Command, args []string) {
				terminal.HeapCommands().WriteMarkdown(cmd.OutOrStdout())
			},
		})
	}

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func coreCmd(cmd *cobra.Command, args []string) error {
	return execute(func() (proc.Target, error) {
		return core.OpenCore(args[0])
	})
}

func rawCmd(cmd *cobra.Command, args []string) error {
	return execute(func() (proc.Target, error) {
		arch, err := archByName(archName)
		if err != nil {
			return nil, err
		}
		dumps, err := parseDumps(args, uint64(loadAddress))
		if err != nil {
			return nil, err
		}
		return memimage.Load(arch, dumps)
	})
}

func archByName(name string) (*proc.Arch, error) {
	switch name {
	case "amd64":
		return proc.AMD64Arch(), nil
	case "386":
		return proc.I386Arch(), nil
	case "arm64":
		return proc.ARM64Arch(), nil
	case "arm":
		return proc.ARMArch(), nil
	}
	return nil, fmt.Errorf("unknown architecture %q", name)
}

// parseDumps parses the arguments of the raw command.
func parseDumps(args []string, loadAddr uint64) ([]memimage.DumpSpec, error) {
	if len(args) == 1 && !strings.Contains(args[0], "@") {
		if loadAddr == 0 {
			return nil, fmt.Errorf("%s: no address given, use path@address or --load-address", args[0])
		}
		return []memimage.DumpSpec{{Path: args[0], Addr: loadAddr, Name: "[heap]"}}, nil
	}
	dumps := make([]memimage.DumpSpec, 0, len(args))
	for _, arg := range args {
		ds, err := memimage.ParseDumpSpec(arg)
		if err != nil {
			return nil, err
		}
		dumps = append(dumps, ds)
	}
	return dumps, nil
}

// sessionOptions merges the configuration file with the command line.
func sessionOptions(conf *config.Config) glibc.Options {
	opts := glibc.OptionsFromConfig(conf)
	opts.HeapBase = uint64(heapBase)
	opts.Arena = uint64(arena)
	if libcVersion != "" {
		opts.LibcVersion = libcVersion
	}
	return opts
}

// execute opens the target and runs the terminal over its heap.
func execute(open func() (proc.Target, error)) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return err
	}
	defer logflags.Close()

	mode, err := terminal.ParseColorMode(colorMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return err
	}

	target, err := open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return err
	}

	s, err := glibc.NewSession(target, sessionOptions(conf))
	if err != nil {
		target.Close()
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return err
	}
	defer s.Close()

	term, err := terminal.New(s, conf, terminal.Options{Color: mode, JSON: jsonOutput, Stdout: stdout})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return err
	}

	if len(commands) > 0 {
		defer term.Close()
		if err := term.RunCommands(commands); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return err
		}
		return nil
	}

	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	if status != 0 {
		return fmt.Errorf("exit status %d", status)
	}
	return nil
}
