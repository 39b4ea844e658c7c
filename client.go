package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// How long the kiosk client gets to exit on its own when the
// compositor shuts down before it is killed.
const clientStopTimeout = 2 * time.Second

// kioskClient is the process that the compositor was started to show.
type kioskClient struct {
	cmd  *exec.Cmd
	done chan error
	gone bool
}

// startClient runs command as a client of the compositor listening on
// the named socket.
func startClient(command []string, socket string) (*kioskClient, error) {
	if len(command) == 0 {
		return nil, errNoCommand
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), "WAYLAND_DISPLAY="+socket)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("start %v: %w", command[0], err)
	}

	c := kioskClient{
		cmd:  cmd,
		done: make(chan error, 1),
	}
	go func() { c.done <- cmd.Wait() }()

	c.log().Infoln("started client")
	return &c, nil
}

func (c *kioskClient) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"command": c.cmd.Path,
		"pid":     c.cmd.Process.Pid,
	})
}

// exited records the result of the process ending.
func (c *kioskClient) exited(err error) {
	c.gone = true
	if err != nil {
		c.log().WithError(err).Infoln("client exited")
		return
	}
	c.log().Infoln("client exited")
}

// stop asks the process to exit if it is still running, killing it if
// it does not do so quickly.
func (c *kioskClient) stop() {
	if c.gone {
		return
	}
	c.gone = true

	c.cmd.Process.Signal(unix.SIGTERM)
	select {
	case err := <-c.done:
		c.log().WithError(err).Debugln("client stopped")
	case <-time.After(clientStopTimeout):
		c.log().Warnln("client did not exit, killing it")
		c.cmd.Process.Kill()
		<-c.done
	}
}
