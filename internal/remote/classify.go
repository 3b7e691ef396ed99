package remote

import (
	"errors"
	"io"
	"net"

	"github.com/pkg/sftp"

	"github.com/rescale/rescale-sftp/internal/errs"
)

// Classify maps an SFTP or transport error to a classified *errs.Error.
// pkg/sftp already turns no-such-file and permission statuses into os.ErrNotExist and
// os.ErrPermission; the remaining status codes and dead-transport cases are handled here.
func Classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errs.KindOf(err) != "" {
		return err
	}

	// File reads handle io.EOF themselves; anywhere else it means the channel is gone.
	if errors.Is(err, io.EOF) ||
		errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, sftp.ErrSSHFxNoConnection) ||
		errors.Is(err, net.ErrClosed) {
		return errs.WithPath(errs.ConnectionLost, op, path, err)
	}

	var status *sftp.StatusError
	if errors.As(err, &status) {
		switch status.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			return errs.WithPath(errs.NotFound, op, path, err)
		case sftp.ErrSSHFxPermissionDenied:
			return errs.WithPath(errs.PermissionDenied, op, path, err)
		case sftp.ErrSSHFxConnectionLost, sftp.ErrSSHFxNoConnection:
			return errs.WithPath(errs.ConnectionLost, op, path, err)
		}
		return errs.WithPath(errs.Protocol, op, path, err)
	}

	return errs.Classify(op, path, err, errs.Protocol)
}
