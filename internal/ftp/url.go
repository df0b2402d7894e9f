package ftp

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ndopj/tesp-api-go/internal/functional"
)

// DefaultPort is used when an ftp:// URL carries no explicit port.
const DefaultPort = 21

// DefaultUser and DefaultPassword are used when an ftp:// URL carries no
// credentials, matching the anonymous-FTP convention the original transfer
// service relied on.
const (
	DefaultUser     = "anonymous"
	DefaultPassword = "anonymous"
)

// URL is a parsed ftp:// reference to a task input or output file.
type URL struct {
	Host     string
	Port     int
	User     string
	Password string
	Path     string
}

// ParseURL parses raw as an ftp:// URL, filling in DefaultPort/DefaultUser/
// DefaultPassword for any component the URL left unspecified.
func ParseURL(raw string) (URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("ftp: parse url %q: %w", raw, err)
	}
	if u.Scheme != "" && u.Scheme != "ftp" {
		return URL{}, fmt.Errorf("ftp: unsupported scheme %q in %q", u.Scheme, raw)
	}

	port := functional.Of(u.Port())
	portNum, ok := port.Get()
	resolvedPort := DefaultPort
	if ok {
		n, err := strconv.Atoi(portNum)
		if err != nil {
			return URL{}, fmt.Errorf("ftp: invalid port in %q: %w", raw, err)
		}
		resolvedPort = n
	}

	user := functional.Of(u.User.Username()).OrElse(DefaultUser)
	password, _ := u.User.Password()
	password = functional.Of(password).OrElse(DefaultPassword)

	return URL{
		Host:     u.Hostname(),
		Port:     resolvedPort,
		User:     user,
		Password: password,
		Path:     u.Path,
	}, nil
}

// Addr returns the host:port dial address for this URL.
func (u URL) Addr() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}
