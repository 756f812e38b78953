package registry

// maxSearchDepth stops SearchValue from following pathological key chains.
const maxSearchDepth = 512

// Match is one SearchValue hit inside a single hive.
type Match struct {
	KeyPath string
	Value   Value
}

// SearchValue walks the whole tree depth-first, pre-order, and returns every
// value named name (exact match). Paths are relative to the root, so a match
// on the root key has the path "".
//
// A key whose values or subkeys cannot be decoded is treated as having none;
// its siblings are still visited. Only a failure to decode the root is
// returned as an error.
func (h *Hive) SearchValue(name string) ([]Match, error) {
	root, err := h.RootKey()
	if err != nil {
		return nil, err
	}
	s := &searcher{hive: h, name: name, visited: make(map[uint32]struct{})}
	s.walk(root, "", 0)
	return s.matches, nil
}

type searcher struct {
	hive    *Hive
	name    string
	visited map[uint32]struct{}
	matches []Match
}

func (s *searcher) walk(key Key, path string, depth int) {
	if _, seen := s.visited[key.Offset]; seen || depth > maxSearchDepth {
		return
	}
	s.visited[key.Offset] = struct{}{}

	if values, err := s.hive.Values(key); err == nil {
		for _, v := range values {
			if v.Name() == s.name {
				s.matches = append(s.matches, Match{KeyPath: path, Value: v})
			}
		}
	}

	if key.SubkeyCount == 0 || key.subkeyList == noCell {
		return
	}
	offsets, err := s.hive.collectIndex(key.subkeyList, nil, 0)
	if err != nil {
		return
	}
	for _, off := range offsets {
		child, err := s.hive.keyAt(off)
		if err != nil {
			continue
		}
		childPath := child.Name
		if path != "" {
			childPath = path + `\` + child.Name
		}
		s.walk(child, childPath, depth+1)
	}
}
