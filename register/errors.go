package register

import "fmt"

func errDeviceDown(name string) error {
	return fmt.Errorf("device %s is down", name)
}

func errConnClosed(addr string) error {
	return fmt.Errorf("connection to %s is closed", addr)
}
