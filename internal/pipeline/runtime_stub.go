//go:build !govips || !cgo

package pipeline

// Runtime names the codec backend compiled into this binary.
const Runtime = "go"

func Startup() error {
	return nil
}

func Shutdown() {}
