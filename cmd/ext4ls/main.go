// ext4ls lists and reads ext4 images without mounting them.
//
// Usage:
//
//	ext4ls [-v] [-mmap] [-offset N] <image> ls [-inode N] [path]
//	ext4ls [-v] [-mmap] [-offset N] <image> info
//	ext4ls [-v] [-mmap] [-offset N] <image> stat <inode>
//	ext4ls [-v] [-mmap] [-offset N] <image> cat <inode>
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/diskfs/ext4ls/disk"
	"github.com/diskfs/ext4ls/filesystem/ext4"
	"github.com/sirupsen/logrus"
)

const usage = "usage: ext4ls [-v] [-mmap] [-offset N] <image> <ls|info|stat|cat> [args]"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if err := execute(args, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "ext4ls: %v\n", err)
		return 1
	}
	return 0
}

func execute(args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("ext4ls", flag.ContinueOnError)
	flags.SetOutput(stderr)
	verbose := flags.Bool("v", false, "log metadata resolution at debug level")
	mmap := flags.Bool("mmap", false, "memory-map the image file")
	offset := flags.Int64("offset", 0, "byte offset of the filesystem inside the image")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 2 {
		return errors.New(usage)
	}
	imagePath, command, cmdArgs := flags.Arg(0), flags.Arg(1), flags.Args()[2:]

	log := logrus.New()
	log.SetOutput(stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	log.SetLevel(logrus.WarnLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	opts := []disk.OpenOpt{disk.WithLogger(log)}
	if *mmap {
		opts = append(opts, disk.WithMmap())
	}
	d, err := disk.Open(imagePath, opts...)
	if err != nil {
		return err
	}
	defer d.Close()

	if *offset < 0 || *offset >= d.Size {
		return fmt.Errorf("offset %d outside image of %d bytes", *offset, d.Size)
	}
	fs, err := ext4.Read(d, d.Size-*offset, *offset, 0, ext4.WithLogger(log), ext4.WithDescriptorCache())
	if err != nil {
		return fmt.Errorf("reading filesystem: %w", err)
	}

	switch command {
	case "ls":
		return runLs(fs, cmdArgs, stdout, stderr)
	case "info":
		return runInfo(fs, d, stdout)
	case "stat":
		return runStat(fs, cmdArgs, stdout)
	case "cat":
		return runCat(fs, cmdArgs, stdout)
	default:
		return fmt.Errorf("unknown command: %s (use ls, info, stat or cat)", command)
	}
}

func parseInode(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid inode number %q", s)
	}
	return uint32(n), nil
}

func runLs(fs *ext4.FileSystem, args []string, out, stderr io.Writer) error {
	flags := flag.NewFlagSet("ls", flag.ContinueOnError)
	flags.SetOutput(stderr)
	n := ext4.RootInode
	flags.Func("inode", "list the directory with this inode number (default 2)", func(s string) error {
		var err error
		n, err = parseInode(s)
		return err
	})
	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() > 0 {
		var err error
		if n, err = fs.Lookup(flags.Arg(0)); err != nil {
			return err
		}
	}
	entries, err := fs.ListDirectory(n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%d %s %s\n", e.Inode, e.Type, e.Name)
	}
	return nil
}

func runInfo(fs *ext4.FileSystem, d *disk.Disk, out io.Writer) error {
	info := fs.Info()
	fmt.Fprintf(out, "Image:             %s (%s, %d bytes)\n", d.Path, d.Backend, d.Size)
	fmt.Fprintf(out, "Volume name:       %s\n", info.Label)
	fmt.Fprintf(out, "Volume UUID:       %s\n", info.UUID)
	fmt.Fprintf(out, "Revision:          %d\n", info.Revision)
	fmt.Fprintf(out, "Features:          %s\n", strings.Join(info.Features, " "))
	fmt.Fprintf(out, "State:             %s\n", state(info.CleanlyUnmounted))
	fmt.Fprintf(out, "Block size:        %d\n", info.BlockSize)
	fmt.Fprintf(out, "Block count:       %d\n", info.BlockCount)
	fmt.Fprintf(out, "Free blocks:       %d\n", info.FreeBlocks)
	fmt.Fprintf(out, "Reserved blocks:   %d\n", info.ReservedBlocks)
	fmt.Fprintf(out, "First data block:  %d\n", info.FirstDataBlock)
	fmt.Fprintf(out, "Blocks per group:  %d\n", info.BlocksPerGroup)
	fmt.Fprintf(out, "Block groups:      %d\n", info.BlockGroups)
	fmt.Fprintf(out, "Flex group size:   %d\n", info.FlexGroupSize)
	fmt.Fprintf(out, "Descriptor size:   %d\n", info.DescriptorSize)
	fmt.Fprintf(out, "Inode count:       %d\n", info.InodeCount)
	fmt.Fprintf(out, "Free inodes:       %d\n", info.FreeInodes)
	fmt.Fprintf(out, "Inodes per group:  %d\n", info.InodesPerGroup)
	fmt.Fprintf(out, "Inode size:        %d\n", info.InodeSize)
	fmt.Fprintf(out, "Created:           %s\n", formatTime(info.Created))
	fmt.Fprintf(out, "Last written:      %s\n", formatTime(info.LastWritten))
	fmt.Fprintf(out, "Last mounted:      %s\n", formatTime(info.LastMountedAt))
	fmt.Fprintf(out, "Last mounted on:   %s\n", info.LastMounted)
	fmt.Fprintf(out, "Mount count:       %d\n", info.MountCount)

	hi, err := d.HostInfo()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Image modified:    %s\n", formatTime(hi.ModTime))
	if !hi.BirthTime.IsZero() {
		fmt.Fprintf(out, "Image created:     %s\n", formatTime(hi.BirthTime))
	}
	names := make([]string, 0, len(hi.Xattrs))
	for name := range hi.Xattrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "Image xattr:       %s=%q\n", name, hi.Xattrs[name])
	}
	return nil
}

func state(clean bool) string {
	if clean {
		return "clean"
	}
	return "not clean"
}

func formatTime(t time.Time) string {
	if t.Unix() == 0 {
		return "n/a"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func runStat(fs *ext4.FileSystem, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("stat requires an inode number")
	}
	n, err := parseInode(args[0])
	if err != nil {
		return err
	}
	st, err := fs.Stat(n)
	if err != nil {
		return err
	}
	allocated, err := fs.InodeAllocated(n)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Inode:       %d\n", st.Number)
	fmt.Fprintf(out, "Type:        %s\n", st.Type)
	fmt.Fprintf(out, "Mode:        %s\n", st.Mode)
	fmt.Fprintf(out, "Allocated:   %t\n", allocated)
	fmt.Fprintf(out, "Owner:       %d:%d\n", st.UID, st.GID)
	fmt.Fprintf(out, "Size:        %d\n", st.Size)
	fmt.Fprintf(out, "Links:       %d\n", st.Links)
	fmt.Fprintf(out, "Blocks:      %d\n", st.Blocks512)
	fmt.Fprintf(out, "Flags:       %#x\n", st.Flags)
	fmt.Fprintf(out, "Generation:  %d\n", st.Generation)
	fmt.Fprintf(out, "Access:      %s\n", formatTime(st.AccessTime))
	fmt.Fprintf(out, "Modify:      %s\n", formatTime(st.ModificationTime))
	fmt.Fprintf(out, "Change:      %s\n", formatTime(st.ChangeTime))
	if !st.CreationTime.IsZero() {
		fmt.Fprintf(out, "Birth:       %s\n", formatTime(st.CreationTime))
	}

	extents, err := fs.Extents(n)
	var uf *ext4.UnsupportedFeatureError
	switch {
	case errors.As(err, &uf):
		fmt.Fprintf(out, "Extents:     not decoded (%s)\n", uf.Feature)
	case err != nil:
		return err
	default:
		for _, e := range extents {
			kind := ""
			if e.Uninitialized {
				kind = " uninitialized"
			}
			fmt.Fprintf(out, "Extent:      %d-%d -> %d%s\n", e.FileBlock, uint64(e.FileBlock)+uint64(e.Count)-1, e.StartingBlock, kind)
		}
	}
	return nil
}

func runCat(fs *ext4.FileSystem, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("cat requires an inode number")
	}
	n, err := parseInode(args[0])
	if err != nil {
		return err
	}
	st, err := fs.Stat(n)
	if err != nil {
		return err
	}
	if st.Type == ext4.FileTypeDirectory {
		return fmt.Errorf("inode %d: is a directory", n)
	}
	f, err := fs.OpenInode(n)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(out, f)
	return err
}
