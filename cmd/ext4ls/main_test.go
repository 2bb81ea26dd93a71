package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diskfs/ext4ls/internal/testimage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeImage builds the fixture tree into a file, optionally behind a
// prefix of padding bytes
func writeImage(t *testing.T, padding int) string {
	t.Helper()
	b := testimage.New(testimage.Options{Label: "cli"})
	b.WriteFile("/motd", []byte("welcome\n"))
	b.Mkdir("/var")
	b.Mkdir("/var/log")
	b.WriteFile("/var/log/boot.log", bytes.Repeat([]byte("boot ok\n"), 300))
	data := append(make([]byte, padding), b.Build().Bytes()...)

	p := filepath.Join(t.TempDir(), "fixture.img")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestLsRoot(t *testing.T) {
	img := writeImage(t, 0)
	code, out, errOut := runCLI(t, img, "ls")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "2 dir .\n2 dir ..\n11 file motd\n12 dir var\n", out)
}

func TestLsByInodeAndPath(t *testing.T) {
	img := writeImage(t, 0)
	code, byInode, errOut := runCLI(t, img, "ls", "-inode", "13")
	require.Equal(t, 0, code, errOut)
	code, byPath, errOut := runCLI(t, img, "ls", "/var/log")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, byInode, byPath)
	assert.Equal(t, "13 dir .\n12 dir ..\n14 file boot.log\n", byPath)
}

func TestLsErrors(t *testing.T) {
	img := writeImage(t, 0)

	code, _, errOut := runCLI(t, img, "ls", "-inode", "11")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not a directory")

	code, _, errOut = runCLI(t, img, "ls", "-inode", "0")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "out of range")

	// 2^32+2 must not wrap around to the root directory
	code, out, errOut := runCLI(t, img, "ls", "-inode", "4294967298")
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "invalid inode number")

	code, _, errOut = runCLI(t, img, "ls", "/nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "does not exist")
}

func TestOffset(t *testing.T) {
	img := writeImage(t, 1<<20)
	code, out, errOut := runCLI(t, "-offset", "1048576", "-mmap", img, "ls")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "11 file motd\n")

	code, _, errOut = runCLI(t, img, "ls")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "corrupt")
}

func TestCat(t *testing.T) {
	img := writeImage(t, 0)
	code, out, errOut := runCLI(t, img, "cat", "14")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, strings.Repeat("boot ok\n", 300), out)

	code, _, errOut = runCLI(t, img, "cat", "12")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "is a directory")

	code, _, errOut = runCLI(t, img, "cat", "eleven")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid inode number")
}

func TestStat(t *testing.T) {
	img := writeImage(t, 0)
	code, out, errOut := runCLI(t, img, "stat", "14")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Type:        file\n")
	assert.Contains(t, out, "Size:        2400\n")
	assert.Contains(t, out, "Allocated:   true\n")
	assert.Contains(t, out, "Modify:      2023-11-14T22:13:20.5Z\n")
	assert.Contains(t, out, "Extent:      0-2 -> ")
}

func TestInfo(t *testing.T) {
	img := writeImage(t, 0)
	code, out, errOut := runCLI(t, img, "info")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Volume name:       cli\n")
	assert.Contains(t, out, "Features:          filetype extent sparse_super large_file\n")
	assert.Contains(t, out, "Block groups:      2\n")
	assert.Contains(t, out, "State:             clean\n")
	assert.Contains(t, out, "(file, ")
}

func TestVerboseLogging(t *testing.T) {
	img := writeImage(t, 0)
	code, _, errOut := runCLI(t, "-v", img, "ls")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "read superblock")
	assert.Contains(t, errOut, "reading inode")
}

func TestUsage(t *testing.T) {
	code, _, errOut := runCLI(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "usage:")

	img := writeImage(t, 0)
	code, _, errOut = runCLI(t, img, "mount")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown command")
}
