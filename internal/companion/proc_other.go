//go:build !unix

package companion

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func terminate(p *os.Process) error {
	if p == nil {
		return ErrNotStarted
	}
	if err := p.Signal(os.Interrupt); err != nil {
		return p.Kill()
	}
	return nil
}

func kill(p *os.Process) error {
	if p == nil {
		return ErrNotStarted
	}
	return p.Kill()
}
