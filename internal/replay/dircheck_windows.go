//go:build windows

package replay

import "os"

func canRead(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Windows ACLs are not reflected in mode bits, so check with a real file.
func canWrite(dir string) bool {
	f, err := os.CreateTemp(dir, ".replay-orch-writable-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
