package remote

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/sshconn"
)

// Transfer phases.
const (
	PhaseCopy        = "copy"
	PhasePermissions = "permissions"
)

// DefaultMode is applied when File.Mode is zero.
const DefaultMode fs.FileMode = 0o600

// File describes one local file to place on the remote host.
type File struct {
	Source      string
	Destination string
	Mode        fs.FileMode
}

// TransferError reports which phase of a transfer failed. Nothing is cleaned
// up: a failed permission fix leaves the copied file in place.
type TransferError struct {
	Phase       string
	Source      string
	Destination string
	Err         error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s -> %s failed during %s: %v", e.Source, e.Destination, e.Phase, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Transferor copies files and then fixes their permissions as a separate
// mandatory step.
type Transferor struct {
	Executor *Executor
}

// Copy places f on the host. It reports success only after the permission
// fix command ran and exited zero.
func (t *Transferor) Copy(ctx context.Context, conn sshconn.Connection, f File) error {
	logger := ctxlog.FromContext(ctx).With("source", f.Source, "destination", f.Destination)
	if f.Mode == 0 {
		f.Mode = DefaultMode
	}

	src, err := os.Open(f.Source)
	if err != nil {
		return &TransferError{Phase: PhaseCopy, Source: f.Source, Destination: f.Destination, Err: err}
	}
	defer src.Close()

	copyCmd := fmt.Sprintf("mkdir -p %s && cat > %s", Quote(path.Dir(f.Destination)), Quote(f.Destination))
	if _, err := t.Executor.exec(ctx, conn, copyCmd, src); err != nil {
		return &TransferError{Phase: PhaseCopy, Source: f.Source, Destination: f.Destination, Err: err}
	}
	logger.Debug("File copied, fixing permissions.", "mode", fmt.Sprintf("%04o", f.Mode.Perm()))

	chmodCmd := fmt.Sprintf("chmod %04o %s", f.Mode.Perm(), Quote(f.Destination))
	if _, err := t.Executor.exec(ctx, conn, chmodCmd, nil); err != nil {
		return &TransferError{Phase: PhasePermissions, Source: f.Source, Destination: f.Destination, Err: err}
	}

	logger.Info("✅ File transferred")
	return nil
}
