package rc

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

const (
	DefaultSysClassRc = "/sys/class/rc"
	DefaultByPathDir  = "/dev/input/by-path"

	// Some receivers (WinTV-dualHD) name their event file with an -ir
	// suffix, others (PC-TV 282e/292e, WinTV-soloHD) do not.
	eventIrSuffix = "-event-ir"
	eventSuffix   = "-event"
)

var frontendRegex = regexp.MustCompile(`dvb([0-9]+)\.frontend([0-9]+)`)

// Resolver maps between lirc device files, sysfs rc nodes and
// /dev/input/by-path event files.
type Resolver struct {
	SysClassRc string
	ByPathDir  string
}

func DefaultResolver() *Resolver {
	return &Resolver{
		SysClassRc: DefaultSysClassRc,
		ByPathDir:  DefaultByPathDir,
	}
}

// LircToSysPath returns the /sys/class/rc/rcN directory that owns lircPath.
func (r *Resolver) LircToSysPath(lircPath string) (string, error) {
	pattern := filepath.Join(r.SysClassRc, "rc*", "lirc*")
	candidates, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", pattern, err)
	}

	name := filepath.Base(lircPath)
	var found []string
	for _, candidate := range candidates {
		if filepath.Base(candidate) == name {
			found = append(found, candidate)
		}
	}
	if len(found) != 1 {
		return "", fmt.Errorf("%w: %s matched %v out of %v", ErrPathResolutionAmbiguous, lircPath, found, candidates)
	}
	return filepath.Dir(found[0]), nil
}

// SysPathToEventPath builds the by-path event file from the target of a
// /sys/class/rc/rcN symlink, e.g.
// ../../devices/pci0000:00/0000:00:14.0/usb2/2-1/2-1:1.0/rc/rc0 becomes
// <ByPathDir>/pci-0000:00:14.0-usb-0:1:1.0-event.
func (r *Resolver) SysPathToEventPath(target string) (string, error) {
	components := strings.Split(filepath.ToSlash(target), "/")
	n := len(components)
	if n < 7 || components[0] != ".." || components[1] != ".." ||
		components[n-2] != "rc" || !strings.HasPrefix(components[n-1], "rc") {
		return "", fmt.Errorf("%w: %q", ErrMalformedSysPath, target)
	}

	_, bus, ok := strings.Cut(components[n-3], "-")
	if !ok {
		return "", fmt.Errorf("%w: %q has no usb bus id", ErrMalformedSysPath, target)
	}

	base := filepath.Join(r.ByPathDir, "pci-"+components[4]+"-usb-0:"+bus)
	return base + eventFileSuffix(base), nil
}

func eventFileSuffix(base string) string {
	if _, err := os.Stat(base + eventIrSuffix); err == nil {
		return eventIrSuffix
	}
	return eventSuffix
}

// EventPath reads the sysfs rc symlink and derives the event file from it.
func (r *Resolver) EventPath(sysRcPath string) (string, error) {
	target, err := os.Readlink(sysRcPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSymlinkUnreadable, err)
	}
	return r.SysPathToEventPath(target)
}

// FindFrontends returns the frontends hanging off a sysfs rc node in
// glob order. An rc node without tuners yields an empty slice.
func (r *Resolver) FindFrontends(sysRcPath string) []FrontendId {
	pattern := filepath.Join(sysRcPath, "device", "dvb", "dvb*.frontend*")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		klog.Errorf("failed to glob %q: %v", pattern, err)
		return []FrontendId{}
	}
	return ExtractFrontends(paths)
}

// ExtractFrontends parses dvbA.frontendF file names, keeping input order.
func ExtractFrontends(paths []string) []FrontendId {
	frontends := make([]FrontendId, 0, len(paths))
	for _, path := range paths {
		matches := frontendRegex.FindStringSubmatch(filepath.Base(path))
		if matches == nil {
			klog.V(2).Infof("skipping %q: not a dvb frontend", path)
			continue
		}
		adapter, err := strconv.ParseUint(matches[1], 10, 8)
		if err != nil {
			klog.Errorf("skipping %q: bad adapter number: %v", path, err)
			continue
		}
		frontend, err := strconv.ParseUint(matches[2], 10, 8)
		if err != nil {
			klog.Errorf("skipping %q: bad frontend number: %v", path, err)
			continue
		}
		frontends = append(frontends, FrontendId{Adapter: uint8(adapter), Frontend: uint8(frontend)})
	}
	return frontends
}
