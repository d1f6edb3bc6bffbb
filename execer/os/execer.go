// Package os implements execer.Execer with real OS processes. Each process
// is started in its own process group so that aborting it reliably takes
// down the whole tree.
package os

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jobforge/jobforge/execer"
)

type osExecer struct{}

// NewExecer returns an Execer backed by os/exec.
func NewExecer() execer.Execer {
	return &osExecer{}
}

func (e *osExecer) Exec(command execer.Command) (execer.Process, error) {
	if len(command.Argv) == 0 {
		return nil, errors.New("no command specified")
	}

	cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
	cmd.Dir = command.Dir

	// Parent environment plus whatever additional env vars are provided.
	cmd.Env = os.Environ()
	for k, v := range command.EnvVars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Sets pgid of all child processes to cmd's pid.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Use pipes rather than handing the writers to os/exec: Wait() must not
	// block on grandchildren holding the fds open after an abort.
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(command.Stdout, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(command.Stderr, stderrPipe)
	}()

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"pid":  cmd.Process.Pid,
		"argv": command.Argv,
	}).Debug("Started process")

	return newProcess(cmd, &wg, command.KillGracePeriod), nil
}
