//go:build !linux

package transport

// ListenL2CAP is only available on Linux.
func ListenL2CAP() (Listener, error) {
	return nil, ErrUnsupported
}
