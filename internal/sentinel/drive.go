package sentinel

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sys/unix"
)

// ioctlCDROMDriveStatus is the Linux ioctl number for CDROM_DRIVE_STATUS.
const ioctlCDROMDriveStatus = 0x5326

// driveStatus is the raw result of a CDROM_DRIVE_STATUS ioctl call.
type driveStatus int

const (
	statusNoInfo   driveStatus = 0
	statusNoDisc   driveStatus = 1
	statusTrayOpen driveStatus = 2
	statusNotReady driveStatus = 3
	statusDiscOK   driveStatus = 4
)

func (s driveStatus) present() bool {
	return s == statusDiscOK
}

// checkDriveStatus queries the drive state using the CDROM_DRIVE_STATUS ioctl.
func checkDriveStatus(devicePath string) (driveStatus, error) {
	devicePath = strings.TrimSpace(devicePath)
	if devicePath == "" {
		return statusNoInfo, fmt.Errorf("sentinel: empty device path")
	}

	fd, err := unix.Open(devicePath, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return statusNoInfo, fmt.Errorf("sentinel: open %s: %w", devicePath, err)
	}
	defer unix.Close(fd)

	status, err := unix.IoctlGetInt(fd, ioctlCDROMDriveStatus)
	if err != nil {
		return statusNoInfo, fmt.Errorf("sentinel: ioctl CDROM_DRIVE_STATUS on %s: %w", devicePath, err)
	}
	return driveStatus(status), nil
}

var (
	allDigitsPattern = regexp.MustCompile(`^\d+$`)
	shortCodePattern = regexp.MustCompile(`^[A-Z0-9_]{1,4}$`)
)

// isUnusableLabel reports whether a volume label is too generic to surface
// as a job's detected_title (volume_label only feeds the
// Orchestrator's initial guess, never a final identification).
func isUnusableLabel(label string) bool {
	label = strings.TrimSpace(label)
	if label == "" {
		return true
	}
	upper := strings.ToUpper(label)

	for _, pattern := range []string{
		"LOGICAL_VOLUME_ID", "VOLUME_ID", "DVD_VIDEO", "BLURAY", "BD_ROM",
		"UNTITLED", "UNKNOWN DISC", "VOLUME_", "VOLUME ID", "DISK_", "TRACK_",
	} {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	if allDigitsPattern.MatchString(label) {
		return true
	}
	if shortCodePattern.MatchString(upper) {
		return true
	}
	if (strings.Contains(upper, "DISC") || strings.Contains(upper, "DISK")) && strings.Contains(upper, "_") {
		return true
	}
	if strings.Contains(label, "_") && label == upper && len(label) > 8 {
		return true
	}
	return false
}
