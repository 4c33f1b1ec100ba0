// Package ssh builds ssh and scp invocations against the remote GUI host.
// Commands are run through a system.CommandExecutor or Spawner so the
// launchers can be tested without a remote machine.
package ssh

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultConnectTimeout is the ssh ConnectTimeout in seconds.
const DefaultConnectTimeout = 5

// Options configures SSH connection parameters.
type Options struct {
	Host                string
	User                string
	Port                int
	IdentityFile        string
	DisableHostKeyCheck bool
	ConnectTimeout      int
	BatchMode           bool
}

// DefaultOptions returns Options for unattended use against host. Host may
// be an alias from ~/.ssh/config.
func DefaultOptions(host string) Options {
	return Options{
		Host:           host,
		ConnectTimeout: DefaultConnectTimeout,
		BatchMode:      true,
	}
}

// WithUser returns a copy connecting as user.
func (o Options) WithUser(user string) Options {
	o.User = user
	return o
}

// WithPort returns a copy using a non-default ssh port.
func (o Options) WithPort(port int) Options {
	o.Port = port
	return o
}

// WithIdentity returns a copy using the given private key.
func (o Options) WithIdentity(path string) Options {
	o.IdentityFile = path
	return o
}

// WithTimeout returns a copy with the specified connect timeout.
func (o Options) WithTimeout(seconds int) Options {
	o.ConnectTimeout = seconds
	return o
}

// optionArgs returns the -o and -i flags shared by ssh and scp.
func (o Options) optionArgs() []string {
	var args []string

	if o.IdentityFile != "" {
		args = append(args, "-i", o.IdentityFile)
	}
	if o.DisableHostKeyCheck {
		args = append(args, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null")
	}
	if o.BatchMode {
		args = append(args, "-o", "BatchMode=yes")
	}
	if o.ConnectTimeout > 0 {
		args = append(args, "-o", fmt.Sprintf("ConnectTimeout=%d", o.ConnectTimeout))
	}
	return args
}

// BaseArgs returns the common SSH arguments (options only, no destination).
func (o Options) BaseArgs() []string {
	var args []string
	if o.Port > 0 {
		args = append(args, "-p", strconv.Itoa(o.Port))
	}
	return append(args, o.optionArgs()...)
}

// Destination returns user@host, or just host when no user is set.
func (o Options) Destination() string {
	if o.User == "" {
		return o.Host
	}
	return o.User + "@" + o.Host
}

// BuildArgs returns complete SSH arguments for executing a remote command.
func (o Options) BuildArgs(command ...string) []string {
	args := o.BaseArgs()
	args = append(args, o.Destination())
	return append(args, command...)
}

// TunnelArgs returns SSH arguments that forward localPort to remotePort on
// the remote loopback. ssh backgrounds itself once the forward is up and
// exits non-zero if the forward cannot be established.
func (o Options) TunnelArgs(localPort, remotePort int) []string {
	args := o.BaseArgs()
	args = append(args,
		"-f", "-N",
		"-o", "ExitOnForwardFailure=yes",
		"-L", fmt.Sprintf("%d:127.0.0.1:%d", localPort, remotePort),
		o.Destination(),
	)
	return args
}

// ScpArgs returns scp arguments that copy a local file to remotePath.
func (o Options) ScpArgs(localPath, remotePath string) []string {
	var args []string
	if o.Port > 0 {
		args = append(args, "-P", strconv.Itoa(o.Port))
	}
	args = append(args, o.optionArgs()...)
	return append(args, localPath, o.Destination()+":"+remotePath)
}

// IsTunnel reports whether cmdline is an ssh local forward for localPort.
func IsTunnel(cmdline string, localPort int) bool {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 || filepath.Base(fields[0]) != "ssh" {
		return false
	}

	prefix := strconv.Itoa(localPort) + ":"
	for i, f := range fields {
		if f == "-L" && i+1 < len(fields) && strings.HasPrefix(fields[i+1], prefix) {
			return true
		}
		if strings.HasPrefix(f, "-L"+prefix) {
			return true
		}
	}
	return false
}
