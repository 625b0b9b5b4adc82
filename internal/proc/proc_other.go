//go:build !unix

package proc

import (
	"os"
	"os/exec"
)

func setGroup(cmd *exec.Cmd) {}

func termGroup(pid int) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
