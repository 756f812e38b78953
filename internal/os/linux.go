//nolint:revive // Package name 'os' is intentional, in separate namespace 'internal/os'
package os

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ilexum-group/imgtriage/internal/filesystem"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

// linuxMarkers are the root-filesystem paths that identify a Linux installation.
var linuxMarkers = []string{
	"/etc/os-release",
	"/usr/lib/os-release",
	"/etc/lsb-release",
	"/etc/debian_version",
	"/etc/redhat-release",
}

// Linux implements Collector for Linux installations on ext volumes
type Linux struct {
	*Default
}

// NewLinux creates a new Linux collector
func NewLinux(opts Options) *Linux {
	return NewLinuxWithDefault(NewDefault(opts))
}

// NewLinuxWithDefault creates a Linux collector sharing def.
func NewLinuxWithDefault(def *Default) *Linux {
	return &Linux{Default: def}
}

// Name returns "linux".
func (l *Linux) Name() string { return "linux" }

// OSType returns models.OsLinux.
func (l *Linux) OSType() models.OsType { return models.OsLinux }

type linuxIdentity struct {
	hostname    string
	ipAddress   string
	domain      string
	osVersion   string
	installDate time.Time
	timezone    string
}

// Collect runs the Linux pipeline against fs. No registry is involved.
func (l *Linux) Collect(fs filesystem.Reader) (models.SystemInfo, error) {
	if err := l.locate(fs); err != nil {
		return models.SystemInfo{}, l.stageError(l.Name(), StageLocate, err)
	}

	ident, err := l.identity(fs)
	if err != nil {
		return models.SystemInfo{}, l.stageError(l.Name(), StageIdentity, err)
	}

	users, err := l.users(fs)
	if err != nil {
		return models.SystemInfo{}, l.stageError(l.Name(), StageUsers, err)
	}

	artifacts, err := CollectArtifacts(fs, l.Patterns(models.OsLinux), l.Threads())
	if err != nil {
		return models.SystemInfo{}, l.stageError(l.Name(), StageArtifacts, err)
	}

	return models.SystemInfo{
		Hostname:    ident.hostname,
		IPAddress:   models.StringPtr(ident.ipAddress),
		Domain:      models.StringPtr(ident.domain),
		OsType:      models.OsLinux,
		OsVersion:   models.StringPtr(ident.osVersion),
		InstallDate: models.TimePtr(ident.installDate),
		Timezone:    models.StringPtr(ident.timezone),
		Users:       users,
		Artifacts:   artifacts,
	}, nil
}

func (l *Linux) locate(fs filesystem.Reader) error {
	for _, marker := range linuxMarkers {
		meta, ok, err := statOptional(fs, marker)
		if err != nil {
			return err
		}
		if ok && !meta.IsDirectory {
			return nil
		}
	}
	return fmt.Errorf("%w: no os-release, lsb-release, debian_version or redhat-release", ErrNotDetected)
}

func (l *Linux) identity(fs filesystem.Reader) (linuxIdentity, error) {
	var ident linuxIdentity

	var err error
	if ident.hostname, err = linuxHostname(fs); err != nil {
		return ident, err
	}

	if ident.osVersion, err = linuxVersion(fs); err != nil {
		return ident, err
	}

	data, _, err := readOptional(fs, "/etc/timezone")
	if err != nil {
		return ident, err
	}
	ident.timezone = firstLine(data)

	if data, _, err = readOptional(fs, "/etc/resolv.conf"); err != nil {
		return ident, err
	}
	ident.domain = resolvDomain(data)

	if ident.ipAddress, err = linuxAddress(fs); err != nil {
		return ident, err
	}

	for _, p := range []string{"/var/log/installer", "/lost+found"} {
		meta, ok, err := statOptional(fs, p)
		if err != nil {
			return ident, err
		}
		if ok && !meta.Created.IsZero() {
			ident.installDate = meta.Created
			break
		}
	}
	return ident, nil
}

// linuxHostname reads /etc/hostname, then HOSTNAME from
// /etc/sysconfig/network, then a kernel hostname left on disk. A system
// naming none of them is reported as unknown.
func linuxHostname(fs filesystem.Reader) (string, error) {
	data, _, err := readOptional(fs, "/etc/hostname")
	if err != nil {
		return "", err
	}
	if name := firstLine(data); name != "" {
		return name, nil
	}

	if data, _, err = readOptional(fs, "/etc/sysconfig/network"); err != nil {
		return "", err
	}
	if name := parseKeyValues(data)["HOSTNAME"]; name != "" {
		return name, nil
	}

	if data, _, err = readOptional(fs, "/proc/sys/kernel/hostname"); err != nil {
		return "", err
	}
	if name := firstLine(data); name != "" {
		return name, nil
	}
	return models.UnknownHostname, nil
}

// parseKeyValues reads shell-style KEY=value lines, unquoting values.
func parseKeyValues(data []byte) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if unq, err := strconv.Unquote(value); err == nil {
			value = unq
		} else {
			value = strings.Trim(value, `"'`)
		}
		out[strings.TrimSpace(key)] = value
	}
	return out
}

// linuxVersion reads PRETTY_NAME from os-release, then DISTRIB_DESCRIPTION
// from lsb-release, then the Debian or Red Hat release files.
func linuxVersion(fs filesystem.Reader) (string, error) {
	for _, p := range []string{"/etc/os-release", "/usr/lib/os-release"} {
		data, ok, err := readOptional(fs, p)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		kv := parseKeyValues(data)
		if v := kv["PRETTY_NAME"]; v != "" {
			return v, nil
		}
		if v := strings.TrimSpace(kv["NAME"] + " " + kv["VERSION"]); v != "" {
			return v, nil
		}
	}

	data, ok, err := readOptional(fs, "/etc/lsb-release")
	if err != nil {
		return "", err
	}
	if ok {
		if v := parseKeyValues(data)["DISTRIB_DESCRIPTION"]; v != "" {
			return v, nil
		}
	}

	data, ok, err = readOptional(fs, "/etc/debian_version")
	if err != nil {
		return "", err
	}
	if ok && firstLine(data) != "" {
		return "Debian " + firstLine(data), nil
	}

	data, _, err = readOptional(fs, "/etc/redhat-release")
	if err != nil {
		return "", err
	}
	return firstLine(data), nil
}

// resolvDomain returns the domain directive, else the first search entry.
func resolvDomain(data []byte) string {
	var search string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "domain":
			return fields[1]
		case "search":
			if search == "" {
				search = fields[1]
			}
		}
	}
	return search
}

// linuxAddress looks for a static address in ifupdown, netplan and
// ifcfg network configuration, in that order.
func linuxAddress(fs filesystem.Reader) (string, error) {
	data, _, err := readOptional(fs, "/etc/network/interfaces")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "address" {
			return stripPrefixLength(fields[1]), nil
		}
	}

	names, err := listOptional(fs, "/etc/netplan")
	if err != nil {
		return "", err
	}
	sort.Strings(names)
	for _, name := range names {
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, ok, err := readOptional(fs, "/etc/netplan/"+name)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if addr := netplanAddress(data); addr != "" {
			return addr, nil
		}
	}

	names, err = listOptional(fs, "/etc/sysconfig/network-scripts")
	if err != nil {
		return "", err
	}
	sort.Strings(names)
	for _, name := range names {
		if !strings.HasPrefix(name, "ifcfg-") || name == "ifcfg-lo" {
			continue
		}
		data, ok, err := readOptional(fs, "/etc/sysconfig/network-scripts/"+name)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if addr := parseKeyValues(data)["IPADDR"]; addr != "" {
			return addr, nil
		}
	}
	return "", nil
}

type netplanConfig struct {
	Network struct {
		Ethernets map[string]netplanInterface `yaml:"ethernets"`
		Wifis     map[string]netplanInterface `yaml:"wifis"`
		Bonds     map[string]netplanInterface `yaml:"bonds"`
	} `yaml:"network"`
}

type netplanInterface struct {
	Addresses []string `yaml:"addresses"`
}

// netplanAddress returns the first static address of a netplan document,
// interfaces taken in name order. Unparseable documents yield "".
func netplanAddress(data []byte) string {
	var cfg netplanConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	for _, group := range []map[string]netplanInterface{cfg.Network.Ethernets, cfg.Network.Bonds, cfg.Network.Wifis} {
		names := make([]string, 0, len(group))
		for name := range group {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, addr := range group[name].Addresses {
				if addr != "" {
					return stripPrefixLength(addr)
				}
			}
		}
	}
	return ""
}

func stripPrefixLength(addr string) string {
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// passwdEntry is one line of /etc/passwd.
type passwdEntry struct {
	name string
	uid  int
	home string
}

func parsePasswd(data []byte) []passwdEntry {
	var entries []passwdEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		entries = append(entries, passwdEntry{name: fields[0], uid: uid, home: strings.TrimSuffix(fields[5], "/")})
	}
	return entries
}

// users turns each directory under /home, plus /root, into a user. The
// owning account is the passwd entry matching the directory owner's uid,
// else the entry whose home is that directory. Root-owned directories only
// match by home.
func (l *Linux) users(fs filesystem.Reader) ([]models.UserInfo, error) {
	data, _, err := readOptional(fs, "/etc/passwd")
	if err != nil {
		return nil, err
	}
	byHome := make(map[string]passwdEntry)
	byUID := make(map[int]passwdEntry)
	for _, e := range parsePasswd(data) {
		if _, dup := byHome[e.home]; !dup {
			byHome[e.home] = e
		}
		if _, dup := byUID[e.uid]; !dup {
			byUID[e.uid] = e
		}
	}
	owners, _ := fs.(filesystem.OwnerReader)

	var homes []string
	names, err := listOptional(fs, "/home")
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if name == "lost+found" {
			continue
		}
		homes = append(homes, joinPath("/home", name))
	}
	homes = append(homes, "/root")

	users := make([]models.UserInfo, 0, len(homes))
	for _, home := range homes {
		meta, ok, err := statOptional(fs, home)
		if err != nil {
			return nil, err
		}
		if !ok || !meta.IsDirectory {
			continue
		}
		user := models.UserInfo{
			Username:       home[strings.LastIndexByte(home, '/')+1:],
			ProfilePath:    home,
			AccountCreated: models.TimePtr(meta.Created),
		}
		e, ok := byHome[home]
		if owners != nil {
			owner, err := owners.GetOwner(home)
			if err != nil {
				return nil, err
			}
			if byOwner, found := byUID[int(owner.UID)]; found && owner.UID != 0 {
				e, ok = byOwner, true
			}
		}
		if ok {
			user.Username = e.name
			user.SID = models.StringPtr("uid:" + strconv.Itoa(e.uid))
		}
		users = append(users, user)
	}
	return users, nil
}
