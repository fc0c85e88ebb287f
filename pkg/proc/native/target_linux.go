//go:build linux

// Package native implements a proc.Target over a live Linux process.
package native

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/heapview/pkg/libcversion"
	"github.com/go-delve/heapview/pkg/logflags"
	"github.com/go-delve/heapview/pkg/proc"
)

// Process statuses
const (
	statusSleeping  = 'S'
	statusRunning   = 'R'
	statusStopped   = 'T'
	statusTraceStop = 't'
	statusZombie    = 'Z'
)

// ProcessExitedError indicates that the process has exited and contains
// its pid.
type ProcessExitedError struct {
	Pid int
}

func (pe ProcessExitedError) Error() string {
	return fmt.Sprintf("process %d has exited", pe.Pid)
}

// nativeProcess is a live process whose memory is read with
// process_vm_readv(2), falling back to /proc/pid/mem when the syscall is
// not permitted.
type nativeProcess struct {
	pid  int
	comm string
	arch *proc.Arch

	memFile *os.File
	useFile bool

	// stopped is true if the process was stopped by us.
	stopped bool
}

var _ proc.Target = &nativeProcess{}

// Attach returns a target for the running process pid. The process is not
// traced and keeps running unless Stop is called.
func Attach(pid int) (*nativeProcess, error) {
	logger := logflags.TargetLogger()

	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return nil, fmt.Errorf("could not attach to pid %d: %v", pid, err)
	}
	dbp := &nativeProcess{pid: pid, comm: strings.TrimSpace(string(comm))}

	dbp.arch, err = exeArch(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return nil, err
	}

	dbp.memFile, err = os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		logger.Debugf("could not open /proc/%d/mem: %v", pid, err)
		dbp.memFile = nil
	}
	logger.Debugf("attached to %d (%s, %s)", pid, dbp.comm, dbp.arch.Name)
	return dbp, nil
}

func exeArch(path string) (*proc.Arch, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not read executable %s: %v", path, err)
	}
	defer f.Close()
	ptrSize := 8
	if f.Class == elf.ELFCLASS32 {
		ptrSize = 4
	}
	var order binary.ByteOrder = binary.LittleEndian
	if f.Data == elf.ELFDATA2MSB {
		order = binary.BigEndian
	}
	switch f.Machine {
	case elf.EM_X86_64:
		return proc.AMD64Arch(), nil
	case elf.EM_386:
		return proc.I386Arch(), nil
	case elf.EM_AARCH64:
		return proc.ARM64Arch(), nil
	case elf.EM_ARM:
		return proc.ARMArch(), nil
	}
	return proc.ArchFor(ptrSize, order)
}

// Pid returns the process ID.
func (dbp *nativeProcess) Pid() int {
	return dbp.pid
}

// ReadMemory implements proc.MemoryReader.
func (dbp *nativeProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if !dbp.useFile {
		n, err := processVMRead(dbp.pid, buf, addr)
		if err == nil {
			return n, nil
		}
		if err != sys.EPERM && err != sys.ENOSYS {
			if status(dbp.pid, dbp.comm) == statusZombie {
				return n, ProcessExitedError{Pid: dbp.pid}
			}
			return n, err
		}
		if dbp.memFile == nil {
			return n, err
		}
		logflags.TargetLogger().Debugf("process_vm_readv not permitted (%v), using /proc/%d/mem", err, dbp.pid)
		dbp.useFile = true
	}
	return sys.Pread(int(dbp.memFile.Fd()), buf, int64(addr))
}

func processVMRead(pid int, buf []byte, addr uint64) (int, error) {
	local := []sys.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []sys.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	return sys.ProcessVMReadv(pid, local, remote, 0)
}

// Memory implements proc.Target.
func (dbp *nativeProcess) Memory() proc.MemoryReader {
	return dbp
}

// MemoryMap implements proc.Target.
func (dbp *nativeProcess) MemoryMap() ([]proc.MemoryMapEntry, error) {
	mapsbuf, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", dbp.pid))
	if err != nil {
		return nil, err
	}
	return proc.ParseMaps(bytes.NewReader(mapsbuf))
}

// Arch implements proc.Target.
func (dbp *nativeProcess) Arch() *proc.Arch {
	return dbp.arch
}

// LibcVersion implements proc.Target.
func (dbp *nativeProcess) LibcVersion() (libcversion.Version, bool) {
	maps, err := dbp.MemoryMap()
	if err != nil {
		return libcversion.Version{}, false
	}
	return proc.DetectLibcVersion(dbp, maps)
}

// Stop sends SIGSTOP to the process and waits for it to stop, so that the
// heap does not change while it is inspected.
func (dbp *nativeProcess) Stop() error {
	if err := sys.Kill(dbp.pid, sys.SIGSTOP); err != nil {
		return err
	}
	dbp.stopped = true
	for i := 0; i < 100; i++ {
		switch status(dbp.pid, dbp.comm) {
		case statusStopped, statusTraceStop:
			return nil
		case statusZombie, '\000':
			return ProcessExitedError{Pid: dbp.pid}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("process %d did not stop", dbp.pid)
}

// Resume continues a process stopped with Stop.
func (dbp *nativeProcess) Resume() error {
	dbp.stopped = false
	return sys.Kill(dbp.pid, sys.SIGCONT)
}

// Close implements proc.Target. A process stopped by Stop is resumed.
func (dbp *nativeProcess) Close() error {
	var err error
	if dbp.stopped {
		err = dbp.Resume()
	}
	if dbp.memFile != nil {
		dbp.memFile.Close()
	}
	return err
}

func status(pid int, comm string) rune {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return '\000'
	}
	defer f.Close()
	rd := bufio.NewReader(f)

	var (
		p     int
		state rune
	)

	// The second field of /proc/pid/stat is the name of the task in parentheses.
	// Since both parenthesis and spaces can appear inside the name of the task and no escaping happens we need to read the name of the executable first
	_, _ = fmt.Fscanf(rd, "%d ("+comm+")  %c", &p, &state)
	return state
}
