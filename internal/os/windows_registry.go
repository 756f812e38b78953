//nolint:revive // Package name 'os' is intentional, in separate namespace 'internal/os'
package os

import (
	"encoding/binary"
	"errors"
	"strings"
	"time"

	scalibr "github.com/google/osv-scalibr/common/windows/registry"

	"github.com/ilexum-group/imgtriage/internal/registry"
)

// profileEntry is one ProfileList subkey.
type profileEntry struct {
	sid       string
	lastLogin time.Time
}

func registryValueString(key scalibr.Key, name string) (string, error) {
	val, err := key.ValueString(name)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(val, "\x00"), nil
}

func registryValueDWORD(key scalibr.Key, name string) (uint32, bool) {
	data, err := key.ValueBytes(name)
	if err != nil || len(data) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[:4]), true
}

// profileList maps lower-cased profile directory names to their ProfileList
// entry, read through the scalibr registry interfaces.
func profileList(reg *registry.Access) (map[string]profileEntry, error) {
	out := make(map[string]profileEntry)
	sreg := reg.Scalibr(HiveSoftware)
	defer func() { _ = sreg.Close() }()

	list, err := sreg.OpenKey("", profileListPath)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return out, nil
		}
		return nil, err
	}
	defer func() { _ = list.Close() }()

	subkeys, err := list.Subkeys()
	if err != nil {
		return nil, err
	}
	for _, sk := range subkeys {
		imagePath, err := registryValueString(sk, "ProfileImagePath")
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				continue
			}
			return nil, err
		}
		dir := imagePath
		if i := strings.LastIndexAny(dir, `\/`); i >= 0 {
			dir = dir[i+1:]
		}
		entry := profileEntry{sid: sk.Name()}
		entry.lastLogin = profileLoadTime(sk)
		if entry.lastLogin.IsZero() {
			if k, err := reg.GetKey(HiveSoftware, profileListPath+`\`+sk.Name()); err == nil {
				entry.lastLogin = k.LastWriteTime()
			}
		}
		out[strings.ToLower(dir)] = entry
	}
	return out, nil
}

// profileLoadTime combines LocalProfileLoadTimeHigh/Low into a time.
func profileLoadTime(key scalibr.Key) time.Time {
	hi, ok := registryValueDWORD(key, "LocalProfileLoadTimeHigh")
	if !ok {
		return time.Time{}
	}
	lo, ok := registryValueDWORD(key, "LocalProfileLoadTimeLow")
	if !ok {
		return time.Time{}
	}
	return registry.FiletimeToTime(uint64(hi)<<32 | uint64(lo))
}
