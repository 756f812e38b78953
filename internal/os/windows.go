//nolint:revive // Package name 'os' is intentional, in separate namespace 'internal/os'
package os

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilexum-group/imgtriage/internal/filesystem"
	"github.com/ilexum-group/imgtriage/internal/registry"
	"github.com/ilexum-group/imgtriage/internal/utils"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

// Hive names loaded into the registry access layer.
const (
	HiveSystem   = "SYSTEM"
	HiveSoftware = "SOFTWARE"
	HiveSAM      = "SAM"

	ntuserPrefix = "NTUSER:"
)

const (
	currentVersionPath = `Microsoft\Windows NT\CurrentVersion`
	profileListPath    = currentVersionPath + `\ProfileList`
	defaultControlSet  = "ControlSet001"
)

var skippedProfiles = map[string]bool{
	"default":      true,
	"default user": true,
	"all users":    true,
	"public":       true,
}

// Windows implements Collector for Windows installations on NTFS volumes
type Windows struct {
	*Default
}

// NewWindows creates a new Windows collector
func NewWindows(opts Options) *Windows {
	return NewWindowsWithDefault(NewDefault(opts))
}

// NewWindowsWithDefault creates a Windows collector sharing def.
func NewWindowsWithDefault(def *Default) *Windows {
	return &Windows{Default: def}
}

// Name returns "windows".
func (w *Windows) Name() string { return "windows" }

// OSType returns models.OsWindows.
func (w *Windows) OSType() models.OsType { return models.OsWindows }

// windowsIdentity is what stage two extracts from the SYSTEM and SOFTWARE hives.
type windowsIdentity struct {
	hostname    string
	ipAddress   string
	domain      string
	osVersion   string
	installDate time.Time
	timezone    string
}

// Collect runs the Windows pipeline against fs.
func (w *Windows) Collect(fs filesystem.Reader) (models.SystemInfo, error) {
	root, err := w.locate(fs)
	if err != nil {
		return models.SystemInfo{}, w.stageError(w.Name(), StageLocate, err)
	}

	reg := registry.NewAccess()
	ident, err := w.identity(fs, root, reg)
	if err != nil {
		return models.SystemInfo{}, w.stageError(w.Name(), StageIdentity, err)
	}

	users, err := w.users(fs, reg)
	if err != nil {
		return models.SystemInfo{}, w.stageError(w.Name(), StageUsers, err)
	}

	artifacts, err := CollectArtifacts(fs, w.Patterns(models.OsWindows), w.Threads())
	if err != nil {
		return models.SystemInfo{}, w.stageError(w.Name(), StageArtifacts, err)
	}

	return models.SystemInfo{
		Hostname:    ident.hostname,
		IPAddress:   models.StringPtr(ident.ipAddress),
		Domain:      models.StringPtr(ident.domain),
		OsType:      models.OsWindows,
		OsVersion:   models.StringPtr(ident.osVersion),
		InstallDate: models.TimePtr(ident.installDate),
		Timezone:    models.StringPtr(ident.timezone),
		Users:       users,
		Artifacts:   artifacts,
	}, nil
}

// locate finds the system root: a top-level directory named Windows in any
// case holding both the SYSTEM and SOFTWARE hives.
func (w *Windows) locate(fs filesystem.Reader) (string, error) {
	names, err := fs.ListDirectory("/")
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if !strings.EqualFold(name, "Windows") {
			continue
		}
		root := joinPath("/", name)
		found := true
		for _, hive := range []string{HiveSystem, HiveSoftware} {
			meta, ok, err := statOptional(fs, hiveFile(root, hive))
			if err != nil {
				return "", err
			}
			if !ok || meta.IsDirectory {
				found = false
				break
			}
		}
		if found {
			return root, nil
		}
	}
	return "", fmt.Errorf("%w: no Windows directory with SYSTEM and SOFTWARE hives", ErrNotDetected)
}

func hiveFile(root, hive string) string {
	return root + "/System32/config/" + hive
}

// loadHive reads a hive file into reg under name.
func loadHive(fs filesystem.Reader, reg *registry.Access, path, name string) error {
	data, err := fs.ReadFile(path)
	if err != nil {
		return err
	}
	if err := reg.LoadHiveBytes(data, name); err != nil {
		return fmt.Errorf("hive %s: %w", name, err)
	}
	if h, err := reg.Hive(name); err == nil && h.IsDirty() {
		utils.LogWarn("Registry hive is dirty; pending transaction logs were not replayed", utils.Meta(
			"hive", name,
			"path", path,
		))
	}
	return nil
}

func (w *Windows) identity(fs filesystem.Reader, root string, reg *registry.Access) (windowsIdentity, error) {
	var ident windowsIdentity
	for _, hive := range []string{HiveSystem, HiveSoftware} {
		if err := loadHive(fs, reg, hiveFile(root, hive), hive); err != nil {
			return ident, err
		}
	}
	if err := loadHive(fs, reg, hiveFile(root, HiveSAM), HiveSAM); err != nil && !isNotFound(err) {
		utils.LogWarn("Optional SAM hive not loaded", utils.Meta("error", err.Error()))
	}

	cs, err := controlSet(reg)
	if err != nil {
		return ident, err
	}

	hostname, err := optionalString(reg, HiveSystem, cs+`\Control\ComputerName\ComputerName`, "ComputerName")
	if err != nil {
		return ident, err
	}
	if hostname == "" {
		return ident, fmt.Errorf("%w: ComputerName is not set", registry.ErrNotFound)
	}
	ident.hostname = hostname

	tcpip := cs + `\Services\Tcpip\Parameters`
	if ident.domain, err = optionalString(reg, HiveSystem, tcpip, "Domain", "NV Domain"); err != nil {
		return ident, err
	}
	if ident.ipAddress, err = interfaceAddress(reg, tcpip+`\Interfaces`); err != nil {
		return ident, err
	}
	if ident.osVersion, err = osVersion(reg); err != nil {
		return ident, err
	}
	if ident.installDate, err = installDate(reg); err != nil {
		return ident, err
	}
	if ident.timezone, err = optionalString(reg, HiveSystem, cs+`\Control\TimeZoneInformation`, "TimeZoneKeyName", "StandardName"); err != nil {
		return ident, err
	}
	return ident, nil
}

// controlSet resolves the current control set from Select\Current.
func controlSet(reg *registry.Access) (string, error) {
	v, err := reg.GetValue(HiveSystem, "Select", "Current")
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return defaultControlSet, nil
		}
		return "", err
	}
	n, ok := v.AsInteger()
	if !ok || n == 0 {
		return defaultControlSet, nil
	}
	return fmt.Sprintf("ControlSet%03d", n), nil
}

// optionalString returns the first non-empty string among names under
// keyPath. Missing keys and values yield "".
func optionalString(reg *registry.Access, hive, keyPath string, names ...string) (string, error) {
	for _, name := range names {
		v, err := reg.GetValue(hive, keyPath, name)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				continue
			}
			return "", err
		}
		if s, ok := v.AsString(); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}
	return "", nil
}

// interfaceAddress returns the first configured, non-zero address among the
// TCP/IP interfaces, preferring a static IPAddress over DhcpIPAddress.
func interfaceAddress(reg *registry.Access, interfacesPath string) (string, error) {
	keys, err := reg.Subkeys(HiveSystem, interfacesPath)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	for _, k := range keys {
		path := interfacesPath + `\` + k.Name
		for _, name := range []string{"IPAddress", "DhcpIPAddress"} {
			v, err := reg.GetValue(HiveSystem, path, name)
			if err != nil {
				if errors.Is(err, registry.ErrNotFound) {
					continue
				}
				return "", err
			}
			for _, addr := range valueStrings(v) {
				if addr != "" && addr != "0.0.0.0" {
					return addr, nil
				}
			}
		}
	}
	return "", nil
}

func valueStrings(v registry.Value) []string {
	if list, ok := v.AsStrings(); ok {
		return list
	}
	if s, ok := v.AsString(); ok {
		return []string{strings.TrimSpace(s)}
	}
	return nil
}

// osVersion joins ProductName with DisplayVersion and the build number.
func osVersion(reg *registry.Access) (string, error) {
	product, err := optionalString(reg, HiveSoftware, currentVersionPath, "ProductName")
	if err != nil || product == "" {
		return "", err
	}
	parts := []string{product}
	display, err := optionalString(reg, HiveSoftware, currentVersionPath, "DisplayVersion", "ReleaseId")
	if err != nil {
		return "", err
	}
	if display != "" {
		parts = append(parts, display)
	}
	build, err := optionalString(reg, HiveSoftware, currentVersionPath, "CurrentBuild", "CurrentBuildNumber")
	if err != nil {
		return "", err
	}
	if build != "" {
		parts = append(parts, "(build "+build+")")
	}
	return strings.Join(parts, " "), nil
}

// installDate reads InstallDate (Unix seconds), else InstallTime (FILETIME).
func installDate(reg *registry.Access) (time.Time, error) {
	v, err := reg.GetValue(HiveSoftware, currentVersionPath, "InstallDate")
	switch {
	case err == nil:
		if n, ok := v.AsInteger(); ok && n > 0 {
			return time.Unix(int64(n), 0).UTC(), nil
		}
	case !errors.Is(err, registry.ErrNotFound):
		return time.Time{}, err
	}
	v, err = reg.GetValue(HiveSoftware, currentVersionPath, "InstallTime")
	switch {
	case err == nil:
		if n, ok := v.AsInteger(); ok {
			return registry.FiletimeToTime(n), nil
		}
	case !errors.Is(err, registry.ErrNotFound):
		return time.Time{}, err
	}
	return time.Time{}, nil
}

// users walks the profile root, cross-referencing SIDs and last logins from
// ProfileList and loading each profile's NTUSER.DAT as NTUSER:<name>.
func (w *Windows) users(fs filesystem.Reader, reg *registry.Access) ([]models.UserInfo, error) {
	profileRoot, err := w.profileRoot(fs)
	if err != nil {
		return nil, err
	}
	profiles, err := profileList(reg)
	if err != nil {
		return nil, err
	}

	names, err := fs.ListDirectory(profileRoot)
	if err != nil {
		return nil, err
	}
	users := make([]models.UserInfo, 0, len(names))
	for _, name := range names {
		if skippedProfiles[strings.ToLower(name)] {
			continue
		}
		dir := joinPath(profileRoot, name)
		meta, err := fs.GetMetadata(dir)
		if err != nil {
			return nil, err
		}
		if !meta.IsDirectory {
			continue
		}

		user := models.UserInfo{
			Username:       name,
			ProfilePath:    dir,
			AccountCreated: models.TimePtr(meta.Created),
		}
		entry, known := profiles[strings.ToLower(name)]
		if known {
			user.SID = models.StringPtr(entry.sid)
		}

		hiveName := ntuserPrefix + name
		switch err := loadHive(fs, reg, dir+"/NTUSER.DAT", hiveName); {
		case err == nil:
		case isNotFound(err):
		default:
			utils.LogWarn("User hive not loaded", utils.Meta(
				"user", name,
				"error", err.Error(),
			))
		}

		lastLogin := entry.lastLogin
		if !known || lastLogin.IsZero() {
			if h, err := reg.Hive(hiveName); err == nil {
				if rk, err := h.RootKey(); err == nil {
					lastLogin = rk.LastWriteTime()
				}
			}
		}
		user.LastLogin = models.TimePtr(lastLogin)
		users = append(users, user)
	}
	return users, nil
}

// profileRoot returns Users, or Documents and Settings on older systems.
func (w *Windows) profileRoot(fs filesystem.Reader) (string, error) {
	names, err := fs.ListDirectory("/")
	if err != nil {
		return "", err
	}
	for _, want := range []string{"Users", "Documents and Settings"} {
		for _, name := range names {
			if !strings.EqualFold(name, want) {
				continue
			}
			meta, err := fs.GetMetadata(joinPath("/", name))
			if err != nil {
				return "", err
			}
			if meta.IsDirectory {
				return joinPath("/", name), nil
			}
		}
	}
	return "", fmt.Errorf("%w: no profile directory", ErrNotDetected)
}
