// Package models defines data structures for system information extracted from a disk image
package models

import "time"

// OsType identifies the operating system installed on an analyzed volume
type OsType string

const (
	// OsWindows is a Windows installation (NTFS volume with registry hives)
	OsWindows OsType = "Windows"

	// OsLinux is a Linux installation (ext volume with /etc)
	OsLinux OsType = "Linux"

	// OsUnknown is used when no collector recognized the volume
	OsUnknown OsType = "Unknown"
)

// UnknownHostname is the hostname reported when analysis could not identify the system
const UnknownHostname = "unknown"

// SystemInfo holds the triage result for one analyzed volume
type SystemInfo struct {
	Hostname    string         `json:"hostname"`
	IPAddress   *string        `json:"ip_address,omitempty"`
	Domain      *string        `json:"domain,omitempty"`
	OsType      OsType         `json:"os_type"`
	OsVersion   *string        `json:"os_version,omitempty"`
	InstallDate *time.Time     `json:"install_date,omitempty"`
	Timezone    *string        `json:"timezone,omitempty"`
	Users       []UserInfo     `json:"users"`
	Artifacts   []ArtifactInfo `json:"artifacts"`
}

// UnknownSystem returns the sentinel result for a volume no collector could handle
func UnknownSystem() SystemInfo {
	return SystemInfo{
		Hostname:  UnknownHostname,
		OsType:    OsUnknown,
		Users:     make([]UserInfo, 0),
		Artifacts: make([]ArtifactInfo, 0),
	}
}

// IsUnknown reports whether the result is the unknown-system sentinel
func (s SystemInfo) IsUnknown() bool {
	return s.OsType == OsUnknown
}

// UserInfo holds a user account discovered on the volume
type UserInfo struct {
	Username       string     `json:"username"`
	SID            *string    `json:"sid,omitempty"`
	ProfilePath    string     `json:"profile_path"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	AccountCreated *time.Time `json:"account_created,omitempty"`
}

// ArtifactInfo holds a file matched by an artifact definition
type ArtifactInfo struct {
	Name     string       `json:"name"`
	Path     string       `json:"path"`
	Size     uint64       `json:"size"`
	Metadata FileMetadata `json:"metadata"`
}

// FileMetadata holds filesystem-neutral metadata for one file or directory.
// Timestamps are UTC. Attributes keeps the native bits: NTFS file attribute
// flags, or the ext i_mode field.
type FileMetadata struct {
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	Accessed    time.Time `json:"accessed"`
	MFTModified time.Time `json:"mft_modified"`
	Size        uint64    `json:"size"`
	Allocated   bool      `json:"allocated"`
	IsDirectory bool      `json:"is_directory"`
	Attributes  uint32    `json:"attributes"`
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr returns a pointer to t, or nil for the zero time
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
