package disk

import (
	"fmt"
	"time"

	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"
	times "gopkg.in/djherbis/times.v1"
)

// HostInfo is what the host filesystem records about the image file itself
type HostInfo struct {
	ModTime    time.Time
	AccessTime time.Time
	// ChangeTime and BirthTime are zero where the platform does not record them
	ChangeTime time.Time
	BirthTime  time.Time
	// Xattrs holds the extended attributes of the image file, when the host filesystem supports them
	Xattrs map[string][]byte
}

// HostInfo returns the timestamps and extended attributes of the image file
func (d *Disk) HostInfo() (*HostInfo, error) {
	ts, err := times.Stat(d.Path)
	if err != nil {
		return nil, fmt.Errorf("could not read timestamps of %s: %w", d.Path, err)
	}
	hi := &HostInfo{
		ModTime:    ts.ModTime(),
		AccessTime: ts.AccessTime(),
		Xattrs:     map[string][]byte{},
	}
	if ts.HasChangeTime() {
		hi.ChangeTime = ts.ChangeTime()
	}
	if ts.HasBirthTime() {
		hi.BirthTime = ts.BirthTime()
	}

	names, err := xattr.List(d.Path)
	if err != nil {
		// block devices and some filesystems do not carry attributes
		d.log.WithError(err).Debug("could not list extended attributes")
		return hi, nil
	}
	for _, name := range names {
		value, err := xattr.Get(d.Path, name)
		if err != nil {
			d.log.WithFields(logrus.Fields{"xattr": name}).WithError(err).Debug("could not read extended attribute")
			continue
		}
		hi.Xattrs[name] = value
	}
	return hi, nil
}
