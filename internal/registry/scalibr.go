package registry

import (
	"encoding/hex"
	"strconv"
	"strings"

	scalibr "github.com/google/osv-scalibr/common/windows/registry"
)

// ScalibrRegistry exposes one Access through the osv-scalibr registry
// interfaces, so code written against scalibr's offline opener runs on this
// parser. OpenKey's hive argument selects a loaded hive; an empty hive uses
// the default one.
type ScalibrRegistry struct {
	access      *Access
	defaultHive string
}

var (
	_ scalibr.Registry = (*ScalibrRegistry)(nil)
	_ scalibr.Key      = (*scalibrKey)(nil)
	_ scalibr.Value    = (*scalibrValue)(nil)
)

// Scalibr wraps a in the scalibr Registry interface.
func (a *Access) Scalibr(defaultHive string) *ScalibrRegistry {
	return &ScalibrRegistry{access: a, defaultHive: defaultHive}
}

// OpenKey resolves path in the selected hive.
func (r *ScalibrRegistry) OpenKey(hive string, path string) (scalibr.Key, error) {
	if hive == "" {
		hive = r.defaultHive
	}
	key, err := r.access.GetKey(hive, path)
	if err != nil {
		return nil, err
	}
	return &scalibrKey{access: r.access, hive: hive, path: strings.Join(SplitPath(path), `\`), key: key}, nil
}

// Close is a no-op; hives are owned by the Access.
func (r *ScalibrRegistry) Close() error { return nil }

type scalibrKey struct {
	access *Access
	hive   string
	path   string
	key    Key
}

func (k *scalibrKey) childPath(name string) string {
	if k.path == "" {
		return name
	}
	return k.path + `\` + name
}

func (k *scalibrKey) Name() string { return k.key.Name }

func (k *scalibrKey) SubkeyNames() ([]string, error) {
	subkeys, err := k.subkeys()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(subkeys))
	for _, s := range subkeys {
		names = append(names, s.Name)
	}
	return names, nil
}

func (k *scalibrKey) Subkeys() ([]scalibr.Key, error) {
	subkeys, err := k.subkeys()
	if err != nil {
		return nil, err
	}
	out := make([]scalibr.Key, 0, len(subkeys))
	for _, s := range subkeys {
		out = append(out, &scalibrKey{access: k.access, hive: k.hive, path: k.childPath(s.Name), key: s})
	}
	return out, nil
}

func (k *scalibrKey) subkeys() ([]Key, error) {
	h, err := k.access.Hive(k.hive)
	if err != nil {
		return nil, err
	}
	return h.Subkeys(k.key)
}

func (k *scalibrKey) Close() error { return nil }

func (k *scalibrKey) ClassName() ([]byte, error) {
	h, err := k.access.Hive(k.hive)
	if err != nil {
		return nil, err
	}
	return h.ClassName(k.key)
}

func (k *scalibrKey) Value(name string) (scalibr.Value, error) {
	h, err := k.access.Hive(k.hive)
	if err != nil {
		return nil, err
	}
	v, err := h.Value(k.key, name)
	if err != nil {
		return nil, err
	}
	return &scalibrValue{v}, nil
}

func (k *scalibrKey) ValueBytes(name string) ([]byte, error) {
	v, err := k.Value(name)
	if err != nil {
		return nil, err
	}
	return v.Data()
}

func (k *scalibrKey) ValueString(name string) (string, error) {
	v, err := k.Value(name)
	if err != nil {
		return "", err
	}
	return v.DataString()
}

func (k *scalibrKey) Values() ([]scalibr.Value, error) {
	h, err := k.access.Hive(k.hive)
	if err != nil {
		return nil, err
	}
	values, err := h.Values(k.key)
	if err != nil {
		return nil, err
	}
	out := make([]scalibr.Value, 0, len(values))
	for _, v := range values {
		out = append(out, &scalibrValue{v})
	}
	return out, nil
}

type scalibrValue struct {
	v Value
}

func (v *scalibrValue) Name() string { return v.v.Name() }

func (v *scalibrValue) Data() ([]byte, error) { return v.v.Bytes(), nil }

// DataString renders the value as text: strings verbatim, integers in
// decimal, multi-strings newline separated, anything else as hex.
func (v *scalibrValue) DataString() (string, error) {
	if s, ok := v.v.AsString(); ok {
		return s, nil
	}
	if n, ok := v.v.AsInteger(); ok {
		return strconv.FormatUint(n, 10), nil
	}
	if list, ok := v.v.AsStrings(); ok {
		return strings.Join(list, "\n"), nil
	}
	return hex.EncodeToString(v.v.raw), nil
}
