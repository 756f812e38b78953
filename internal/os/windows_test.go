//nolint:revive // Package name 'os' is intentional, in separate namespace 'internal/os'
package os

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilexum-group/imgtriage/internal/filesystem"
	"github.com/ilexum-group/imgtriage/internal/image"
	"github.com/ilexum-group/imgtriage/internal/image/memimage"
	"github.com/ilexum-group/imgtriage/internal/registry"
	"github.com/ilexum-group/imgtriage/internal/registry/regtest"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

var (
	aliceLogin   = time.Date(2024, 2, 3, 9, 30, 0, 0, time.UTC)
	bobHiveWrite = time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	aliceCreated = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
)

func systemHive() []byte {
	root := regtest.NewKey("ROOT")
	root.Key("Select").SetDword("Current", 2)
	root.Path(`ControlSet001\Control\ComputerName\ComputerName`).SetString("ComputerName", "STALE-NAME")

	cs := root.Path("ControlSet002")
	cs.Path(`Control\ComputerName\ComputerName`).SetString("ComputerName", "WKSTN-07")
	cs.Path(`Control\TimeZoneInformation`).
		SetString("StandardName", "@tzres.dll,-322").
		SetString("TimeZoneKeyName", "W. Europe Standard Time")
	tcpip := cs.Path(`Services\Tcpip\Parameters`)
	tcpip.SetString("Domain", "").SetString("NV Domain", "corp.example.com")
	tcpip.Path(`Interfaces\{0b1e}`).SetMultiString("IPAddress", "0.0.0.0")
	tcpip.Path(`Interfaces\{7f3c}`).SetString("DhcpIPAddress", "10.20.30.40")
	return regtest.Build(root)
}

func filetimeParts(t time.Time) (hi, lo uint32) {
	ft := memimage.ToFiletime(t)
	return uint32(ft >> 32), uint32(ft)
}

func softwareHive() []byte {
	root := regtest.NewKey("ROOT")
	cv := root.Path(`Microsoft\Windows NT\CurrentVersion`)
	cv.SetString("ProductName", "Windows 10 Pro").
		SetString("DisplayVersion", "22H2").
		SetString("CurrentBuild", "19045").
		SetDword("InstallDate", 1609459200)

	hi, lo := filetimeParts(aliceLogin)
	profiles := cv.Path("ProfileList")
	profiles.Key("S-1-5-18").SetExpandString("ProfileImagePath", `%systemroot%\system32\config\systemprofile`)
	profiles.Key("S-1-5-21-100-200-300-1001").
		SetExpandString("ProfileImagePath", `C:\Users\alice`).
		SetDword("LocalProfileLoadTimeHigh", hi).
		SetDword("LocalProfileLoadTimeLow", lo)
	bob := profiles.Key("S-1-5-21-100-200-300-1002")
	bob.SetExpandString("ProfileImagePath", `C:\Users\Bob`)
	return regtest.Build(root)
}

func ntuserHive(lastWrite time.Time) []byte {
	root := regtest.NewKey("ROOT")
	root.LastWrite = memimage.ToFiletime(lastWrite)
	root.Path(`Software\Microsoft\Windows\CurrentVersion\Explorer`).SetString("Shell Folders", "")
	return regtest.Build(root)
}

func windowsImage() *memimage.Image {
	img := memimage.New(image.NTFS)
	img.WriteFile("/Windows/System32/config/SYSTEM", systemHive())
	img.WriteFile("/Windows/System32/config/SOFTWARE", softwareHive())
	img.WriteFile("/Windows/System32/winevt/Logs/Security.evtx", make([]byte, 4096))
	img.WriteFile("/Windows/Prefetch/CMD.EXE-0BD30981.pf", make([]byte, 2048))
	img.MkdirAll("/Users/alice", memimage.Options{Times: memimage.Times{Created: aliceCreated}})
	img.WriteFile("/Users/alice/NTUSER.DAT", ntuserHive(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
	img.MkdirAll("/Users/Bob")
	img.WriteFile("/Users/Bob/NTUSER.DAT", ntuserHive(bobHiveWrite))
	img.MkdirAll("/Users/Public")
	img.MkdirAll("/Users/Default")
	img.WriteFile("/Users/desktop.ini", []byte("[.ShellClassInfo]"))
	return img
}

func openFS(t *testing.T, img image.Image) filesystem.Reader {
	t.Helper()
	fs, err := filesystem.Open(img)
	require.NoError(t, err)
	return fs
}

func TestWindowsCollect(t *testing.T) {
	w := NewWindows(Options{Threads: 2})
	info, err := w.Collect(openFS(t, windowsImage()))
	require.NoError(t, err)

	assert.Equal(t, models.OsWindows, info.OsType)
	assert.Equal(t, "WKSTN-07", info.Hostname)
	require.NotNil(t, info.Domain)
	assert.Equal(t, "corp.example.com", *info.Domain)
	require.NotNil(t, info.IPAddress)
	assert.Equal(t, "10.20.30.40", *info.IPAddress)
	require.NotNil(t, info.OsVersion)
	assert.Equal(t, "Windows 10 Pro 22H2 (build 19045)", *info.OsVersion)
	require.NotNil(t, info.InstallDate)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), *info.InstallDate)
	require.NotNil(t, info.Timezone)
	assert.Equal(t, "W. Europe Standard Time", *info.Timezone)

	require.Len(t, info.Users, 2)
	alice, bob := info.Users[0], info.Users[1]

	assert.Equal(t, "alice", alice.Username)
	assert.Equal(t, "/Users/alice", alice.ProfilePath)
	require.NotNil(t, alice.SID)
	assert.Equal(t, "S-1-5-21-100-200-300-1001", *alice.SID)
	require.NotNil(t, alice.LastLogin)
	assert.Equal(t, aliceLogin, *alice.LastLogin)
	require.NotNil(t, alice.AccountCreated)
	assert.Equal(t, aliceCreated, *alice.AccountCreated)

	assert.Equal(t, "Bob", bob.Username)
	require.NotNil(t, bob.SID)
	assert.Equal(t, "S-1-5-21-100-200-300-1002", *bob.SID)
	require.NotNil(t, bob.LastLogin)
	assert.Equal(t, bobHiveWrite, *bob.LastLogin, "falls back to the NTUSER root key write time")

	var paths []string
	for _, a := range info.Artifacts {
		paths = append(paths, a.Path)
	}
	assert.Equal(t, []string{
		"/Users/Bob/NTUSER.DAT",
		"/Users/alice/NTUSER.DAT",
		"/Windows/Prefetch/CMD.EXE-0BD30981.pf",
		"/Windows/System32/config/SOFTWARE",
		"/Windows/System32/config/SYSTEM",
		"/Windows/System32/winevt/Logs/Security.evtx",
	}, paths)
	for _, a := range info.Artifacts {
		if a.Path == "/Windows/System32/winevt/Logs/Security.evtx" {
			assert.Equal(t, "event_logs", a.Name)
			assert.Equal(t, uint64(4096), a.Size)
			assert.True(t, a.Metadata.Allocated)
		}
	}
}

func TestWindowsCollectLowercaseSystemRoot(t *testing.T) {
	img := memimage.New(image.NTFS)
	img.WriteFile("/WINDOWS/system32/CONFIG/system", systemHive())
	img.WriteFile("/WINDOWS/system32/CONFIG/software", softwareHive())
	img.MkdirAll("/Documents and Settings/alice")

	info, err := NewWindows(Options{}).Collect(openFS(t, img))
	require.NoError(t, err)
	assert.Equal(t, "WKSTN-07", info.Hostname)
	require.Len(t, info.Users, 1)
	assert.Equal(t, "/Documents and Settings/alice", info.Users[0].ProfilePath)

	var hives []string
	for _, a := range info.Artifacts {
		if a.Name == "registry_hives" {
			hives = append(hives, a.Path)
		}
	}
	assert.Equal(t, []string{"/WINDOWS/system32/CONFIG/software", "/WINDOWS/system32/CONFIG/system"}, hives)
}

func TestWindowsLocateFails(t *testing.T) {
	img := memimage.New(image.NTFS)
	img.WriteFile("/Windows/System32/config/SYSTEM", systemHive())

	_, err := NewWindows(Options{}).Collect(openFS(t, img))
	require.ErrorIs(t, err, ErrNotDetected)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageLocate, stageErr.Stage)
	assert.Equal(t, "windows", stageErr.Collector)
}

func TestWindowsCorruptHiveFailsIdentity(t *testing.T) {
	img := windowsImage()
	img.WriteFile("/Windows/System32/config/SOFTWARE", []byte("not a registry hive"))

	_, err := NewWindows(Options{}).Collect(openFS(t, img))
	require.ErrorIs(t, err, registry.ErrInvalidFormat)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageIdentity, stageErr.Stage)
}

func TestWindowsMissingHostnameFails(t *testing.T) {
	root := regtest.NewKey("ROOT")
	root.Path(`ControlSet001\Control`)

	img := windowsImage()
	img.WriteFile("/Windows/System32/config/SYSTEM", regtest.Build(root))

	_, err := NewWindows(Options{}).Collect(openFS(t, img))
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestControlSetDefaultsAndInstallTime(t *testing.T) {
	system := regtest.NewKey("ROOT")
	system.Path(`ControlSet001\Control\ComputerName\ComputerName`).SetString("ComputerName", "LEGACY")
	software := regtest.NewKey("ROOT")
	installed := time.Date(2019, 7, 4, 10, 0, 0, 0, time.UTC)
	software.Path(`Microsoft\Windows NT\CurrentVersion`).
		SetString("ProductName", "Windows 7 Professional").
		SetQword("InstallTime", memimage.ToFiletime(installed))

	reg := registry.NewAccess()
	require.NoError(t, reg.LoadHiveBytes(regtest.Build(system), HiveSystem))
	require.NoError(t, reg.LoadHiveBytes(regtest.Build(software), HiveSoftware))

	cs, err := controlSet(reg)
	require.NoError(t, err)
	assert.Equal(t, "ControlSet001", cs)

	got, err := installDate(reg)
	require.NoError(t, err)
	assert.Equal(t, installed, got)

	version, err := osVersion(reg)
	require.NoError(t, err)
	assert.Equal(t, "Windows 7 Professional", version)

	addr, err := interfaceAddress(reg, `ControlSet001\Services\Tcpip\Parameters\Interfaces`)
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestProfileList(t *testing.T) {
	reg := registry.NewAccess()
	require.NoError(t, reg.LoadHiveBytes(softwareHive(), HiveSoftware))

	profiles, err := profileList(reg)
	require.NoError(t, err)
	require.Contains(t, profiles, "alice")
	assert.Equal(t, "S-1-5-21-100-200-300-1001", profiles["alice"].sid)
	assert.Equal(t, aliceLogin, profiles["alice"].lastLogin)
	require.Contains(t, profiles, "bob")
	assert.Equal(t, "S-1-5-21-100-200-300-1002", profiles["bob"].sid)
	assert.Contains(t, profiles, "systemprofile")
}

func TestProfileLoadTimeNeedsBothHalves(t *testing.T) {
	hi, _ := filetimeParts(aliceLogin)
	root := regtest.NewKey("ROOT")
	root.Key("Profile").SetDword("LocalProfileLoadTimeHigh", hi)

	reg := registry.NewAccess()
	require.NoError(t, reg.LoadHiveBytes(regtest.Build(root), HiveSoftware))
	key, err := reg.Scalibr(HiveSoftware).OpenKey("", "Profile")
	require.NoError(t, err)
	assert.True(t, profileLoadTime(key).IsZero())
}
