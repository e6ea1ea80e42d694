package hypervisor

import (
	"context"
	"fmt"
	"net"
	"os/user"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const sshProbeTimeout = 5 * time.Second

// sshPreflight verifies that the remote side of an ssh-transport URI is
// reachable and speaks SSH before the driver attempts to tunnel through
// it. An authentication rejection counts as success: it proves the
// daemon is there, and credentials are the driver's problem.
func sshPreflight(ctx context.Context, u *URI) error {
	port := u.Port
	if port == "" {
		port = "22"
	}
	addr := net.JoinHostPort(u.Host, port)

	dialer := net.Dialer{Timeout: sshProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	cfg := &ssh.ClientConfig{
		User:            sshUser(u),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshProbeTimeout,
	}
	client, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil
		}
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = ssh.NewClient(client, chans, reqs).Close()
	return nil
}

func sshUser(u *URI) string {
	if u.User != "" {
		return u.User
	}
	if current, err := user.Current(); err == nil && current.Username != "" {
		return current.Username
	}
	return "root"
}
