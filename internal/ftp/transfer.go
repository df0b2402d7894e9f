// Package ftp fetches task inputs from, and delivers task outputs to, the
// files the TES client referenced by ftp:// URL. The lifecycle handlers use
// it when staging inputs before the executors run and when shipping outputs
// after all of them have finished.
package ftp

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/jlaffaye/ftp"
)

// Transferer downloads and uploads whole files over FTP.
type Transferer interface {
	Download(ctx context.Context, u URL) ([]byte, error)
	Upload(ctx context.Context, u URL, content []byte) error
}

type transferer struct{}

// NewTransferer returns the default FTP-backed Transferer.
func NewTransferer() Transferer {
	return transferer{}
}

// Download connects to u's host, authenticates, and returns the full
// contents of the file at u.Path.
func (transferer) Download(ctx context.Context, u URL) ([]byte, error) {
	conn, err := dial(ctx, u)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return nil, fmt.Errorf("ftp: retrieve %s: %w", u.Path, err)
	}
	defer resp.Close()

	content, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("ftp: read %s: %w", u.Path, err)
	}
	return content, nil
}

// Upload connects to u's host, authenticates, and writes content to the
// file at u.Path, creating or truncating it.
func (transferer) Upload(ctx context.Context, u URL, content []byte) error {
	conn, err := dial(ctx, u)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := conn.Stor(u.Path, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("ftp: store %s: %w", u.Path, err)
	}
	return nil
}

func dial(ctx context.Context, u URL) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(u.Addr(), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp: dial %s: %w", u.Addr(), err)
	}
	if err := conn.Login(u.User, u.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp: login to %s: %w", u.Addr(), err)
	}
	return conn, nil
}
