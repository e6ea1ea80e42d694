package hypervisor

import (
	"fmt"
	"net/url"
	"strings"
)

// Transport describes how a connection reaches the hypervisor daemon.
type Transport int

const (
	TransportLocal Transport = iota
	TransportSSH
	TransportTLS
	TransportTCP
)

// String returns the transport name as it appears in connection URIs.
func (t Transport) String() string {
	switch t {
	case TransportSSH:
		return "ssh"
	case TransportTLS:
		return "tls"
	case TransportTCP:
		return "tcp"
	default:
		return "local"
	}
}

// URI is a parsed hypervisor connection URI such as qemu:///system,
// qemu+ssh://admin@host/system, or xen://host/.
type URI struct {
	Raw       string
	Driver    string // qemu, xen, test, ...
	Transport Transport
	User      string
	Host      string
	Port      string
	Path      string // /system, /session, /default
}

// ParseURI validates and splits a connection URI. The scheme may carry an
// explicit transport suffix (driver+transport); a URI with a host but no
// suffix defaults to TLS, matching libvirt conventions.
func ParseURI(raw string) (*URI, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("connection uri is empty")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse uri %q: %w", raw, err)
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("uri %q has no scheme", raw)
	}

	driver := parsed.Scheme
	transport := TransportLocal
	if idx := strings.Index(parsed.Scheme, "+"); idx >= 0 {
		driver = parsed.Scheme[:idx]
		switch suffix := parsed.Scheme[idx+1:]; suffix {
		case "ssh":
			transport = TransportSSH
		case "tls":
			transport = TransportTLS
		case "tcp":
			transport = TransportTCP
		case "unix":
			transport = TransportLocal
		default:
			return nil, fmt.Errorf("uri %q has unknown transport %q", raw, suffix)
		}
	} else if parsed.Hostname() != "" {
		transport = TransportTLS
	}
	if driver == "" {
		return nil, fmt.Errorf("uri %q has no driver scheme", raw)
	}

	user := ""
	if parsed.User != nil {
		user = parsed.User.Username()
	}

	return &URI{
		Raw:       trimmed,
		Driver:    driver,
		Transport: transport,
		User:      user,
		Host:      parsed.Hostname(),
		Port:      parsed.Port(),
		Path:      parsed.Path,
	}, nil
}

// IsRemote reports whether the URI targets another machine.
func (u *URI) IsRemote() bool {
	return u.Host != ""
}

// IsXen reports whether the URI drives a Xen host.
func (u *URI) IsXen() bool {
	return u.Driver == "xen"
}

func (u *URI) String() string {
	return u.Raw
}
