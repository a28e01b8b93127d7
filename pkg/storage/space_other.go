//go:build !unix

package storage

// freeSpace is best effort; unknown on non-unix platforms.
func freeSpace(string) int64 {
	return 0
}
