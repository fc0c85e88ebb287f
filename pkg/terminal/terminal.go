package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/go-delve/heapview/pkg/config"
	"github.com/go-delve/heapview/pkg/glibc"
	"github.com/go-delve/heapview/pkg/logflags"
	"github.com/go-delve/heapview/pkg/terminal/colorize"
	"github.com/go-delve/heapview/pkg/terminal/starbind"
)

const historyFile string = ".heapview_history"

// Options controls the output of a Term.
type Options struct {
	Color ColorMode
	// JSON makes heap-view and bins print JSON by default.
	JSON bool
	// Stdout replaces standard output.
	Stdout io.Writer
}

// Term represents the terminal running heapview.
type Term struct {
	session     *glibc.Session
	conf        *config.Config
	prompt      string
	line        *liner.State
	cmds        *Commands
	stdout      *transcriptWriter
	scheme      *colorize.Scheme
	json        bool
	starlarkEnv *starbind.Env
	log         logflags.Logger
	InitFile    string

	quittingMutex sync.Mutex
	quitting      bool
}

// New returns a new Term inspecting the heap of session.
func New(session *glibc.Session, conf *config.Config, opts Options) (*Term, error) {
	cmds := HeapCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	w := opts.Stdout
	color := useColor(opts.Color, conf.Color, os.Stdout)
	if w == nil {
		w = stdoutWriter(color)
	} else if opts.Color == ColorAuto && conf.Color == nil {
		color = isTerminal(w) && !dumbTerminal()
	}

	t := &Term{
		session: session,
		conf:    conf,
		prompt:  "(heapview) ",
		cmds:    cmds,
		stdout:  newTranscriptWriter(w),
		json:    opts.JSON,
		log:     logflags.TerminalLogger(),
	}
	if color {
		var err error
		if t.scheme, err = colorize.NewScheme(conf.Palette); err != nil {
			return nil, err
		}
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t, nil
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
	t.stdout.CloseTranscript()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintln(os.Stderr, "received SIGINT, cancelling running script")
	}
}

// Run begins running heapview in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.cmds.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to load history file: %v.\n", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to open history file: %v. History will not be saved for this session.\n", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			if err == liner.ErrPromptAborted {
				continue
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		t.stdout.Echo(t.prompt + cmdstr + "\n")
		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.quittingMutex.Lock()
			quitting := t.quitting
			t.quittingMutex.Unlock()
			if quitting {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
		t.stdout.Flush()
	}
}

// RunCommands executes cmds in order without prompting. It stops at the
// first failing command, an exit command ends it without error.
func (t *Term) RunCommands(cmds []string) error {
	defer t.stdout.Flush()
	for _, cmdstr := range cmds {
		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return nil
			}
			return fmt.Errorf("%s: %v", cmdstr, err)
		}
	}
	return nil
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Fprintln(os.Stderr, "readline history error:", err)
			}
			f.Close()
		}
	}

	t.quittingMutex.Lock()
	t.quitting = true
	t.quittingMutex.Unlock()
	return 0, nil
}
