package sandbox

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

var ErrNoShellCommand = errors.New("sandbox: shell command required")

// Shell is one interactive process attached to a stream.
type Shell interface {
	io.ReadWriteCloser
	Resize(rows, cols int) error
}

// Spawner starts a shell inside a session workdir.
type Spawner interface {
	Spawn(workdir string, rows, cols int) (Shell, error)
}

// PTYSpawner runs Command under a pseudo terminal.
type PTYSpawner struct {
	Command []string
	Env     []string
}

func (p PTYSpawner) Spawn(workdir string, rows, cols int) (Shell, error) {
	if len(p.Command) == 0 || p.Command[0] == "" {
		return nil, ErrNoShellCommand
	}
	cmd := exec.Command(p.Command[0], p.Command[1:]...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "HOME="+workdir)
	cmd.Env = append(cmd.Env, p.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, err
	}
	return &ptyShell{cmd: cmd, ptmx: ptmx}, nil
}

type ptyShell struct {
	cmd  *exec.Cmd
	ptmx *os.File
	once sync.Once
}

func (s *ptyShell) Read(p []byte) (int, error) {
	return s.ptmx.Read(p)
}

func (s *ptyShell) Write(p []byte) (int, error) {
	return s.ptmx.Write(p)
}

func (s *ptyShell) Resize(rows, cols int) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

func (s *ptyShell) Close() error {
	var err error
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err = s.ptmx.Close()
		_ = s.cmd.Wait()
	})
	return err
}
