package testutil

import (
	"os"
	"path/filepath"

	"github.com/hark-lang/hark/pkg/must"
)

// TempDir creates a temporary directory for testing that will be removed
// after the test finishes. It is different from testing.TB.TempDir in that it
// resolves symlinks in the path of the directory.
//
// It panics if the test directory cannot be created or symlinks cannot be
// resolved. It is only suitable for use in tests.
func TempDir(c Cleanuper) string {
	dir, err := os.MkdirTemp("", "hark-test")
	if err != nil {
		panic(err)
	}
	dir, err = filepath.EvalSymlinks(dir)
	if err != nil {
		panic(err)
	}
	c.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// TempFile writes content to a fresh file under a test temporary directory
// and returns the file name.
func TempFile(c Cleanuper, base, content string) string {
	fname := filepath.Join(TempDir(c), base)
	must.WriteFile(fname, content)
	return fname
}
