//go:build !govips || !cgo

package compress

func Startup() error {
	return nil
}

func Shutdown() {}

func PrimaryBackend() string { return "none" }

func newPrimaryEncoder() PrimaryEncoder {
	return unavailablePrimary{}
}
