package main

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/srg/gattsrv/pkg/config"
	"github.com/srg/gattsrv/pkg/gatt"
	"github.com/srg/gattsrv/pkg/profile"
	"github.com/srg/gattsrv/pkg/transport"
)

// FormatUserError turns err into the one line printed before exiting. Known failures
// get a hint on how to fix them.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, transport.ErrUnsupported):
		return fmt.Sprintf("%v: the l2cap transport needs Linux with BlueZ, %s/%s is not supported; use --transport tcp or stdio",
			err, runtime.GOOS, runtime.GOARCH)
	case errors.Is(err, config.ErrInvalidConfig):
		return fmt.Sprintf("%v (see 'gattsrv serve --help')", err)
	case errors.Is(err, profile.ErrInvalidProfile), errors.Is(err, gatt.ErrDuplicateToken):
		return fmt.Sprintf("%v (run 'gattsrv dump --yaml' for a valid example)", err)
	case errors.Is(err, gatt.ErrTransactionTimeout):
		return fmt.Sprintf("%v: the peer stopped confirming indications", err)
	}
	return err.Error()
}
