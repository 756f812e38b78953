//nolint:revive // Package name 'os' is intentional, in separate namespace 'internal/os'
package os

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/ilexum-group/imgtriage/internal/filesystem"
	"github.com/ilexum-group/imgtriage/internal/image"
	"github.com/ilexum-group/imgtriage/internal/utils"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

const maxWalkDepth = 64

// expander resolves glob patterns against a filesystem one path segment at a time.
type expander struct {
	fs       filesystem.Reader
	foldCase bool
}

func newExpander(fs filesystem.Reader) expander {
	return expander{fs: fs, foldCase: fs.Type() == image.NTFS}
}

// Expand returns the paths matching pattern. Segments are matched with
// doublestar, "**" spans any number of directories, and a directory that
// does not exist yields no matches.
func (e expander) Expand(pattern string) ([]string, error) {
	segs := strings.Split(strings.Trim(pattern, "/"), "/")
	var out []string
	if err := e.walk("/", segs, 0, &out); err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return out, nil
}

func (e expander) walk(dir string, segs []string, depth int, out *[]string) error {
	if len(segs) == 0 {
		*out = append(*out, dir)
		return nil
	}
	if depth > maxWalkDepth {
		return nil
	}

	seg := segs[0]
	if seg == "**" {
		if err := e.walk(dir, segs[1:], depth, out); err != nil {
			return err
		}
		children, err := e.subdirectories(dir)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := e.walk(child, segs, depth+1, out); err != nil {
				return err
			}
		}
		return nil
	}

	names, err := listOptional(e.fs, dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		ok, err := e.match(seg, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		child := joinPath(dir, name)
		if len(segs) == 1 {
			*out = append(*out, child)
			continue
		}
		if err := e.walk(child, segs[1:], depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

func (e expander) match(seg, name string) (bool, error) {
	if e.foldCase {
		seg, name = strings.ToLower(seg), strings.ToLower(name)
	}
	return doublestar.Match(seg, name)
}

func (e expander) subdirectories(dir string) ([]string, error) {
	names, err := listOptional(e.fs, dir)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, name := range names {
		child := joinPath(dir, name)
		meta, ok, err := statOptional(e.fs, child)
		if err != nil {
			return nil, err
		}
		if ok && meta.IsDirectory {
			dirs = append(dirs, child)
		}
	}
	return dirs, nil
}

type candidate struct {
	name string
	path string
}

// CollectArtifacts expands defs against fs and resolves the metadata of
// every matched file on a worker pool of the given size. Directories are
// dropped, a path matched by several definitions keeps the first name, and
// the result is sorted by path. The first metadata error fails the call.
func CollectArtifacts(fs filesystem.Reader, defs PatternSet, threads int) ([]models.ArtifactInfo, error) {
	exp := newExpander(fs)
	seen := make(map[string]bool)
	var candidates []candidate
	for _, def := range defs {
		for _, pattern := range def.Patterns {
			paths, err := exp.Expand(pattern)
			if err != nil {
				return nil, err
			}
			for _, p := range paths {
				if seen[p] {
					continue
				}
				seen[p] = true
				candidates = append(candidates, candidate{name: def.Name, path: p})
			}
		}
	}

	if threads <= 0 {
		threads = 1
	}
	results := make([]*models.ArtifactInfo, len(candidates))
	pool := pond.NewPool(threads)
	group := pool.NewGroup()
	for i, c := range candidates {
		group.SubmitErr(func() error {
			meta, err := fs.GetMetadata(c.path)
			if err != nil {
				return fmt.Errorf("artifact %s: %w", c.path, err)
			}
			if meta.IsDirectory {
				return nil
			}
			results[i] = &models.ArtifactInfo{
				Name:     c.name,
				Path:     c.path,
				Size:     meta.Size,
				Metadata: meta,
			}
			return nil
		})
	}
	err := group.Wait()
	pool.StopAndWait()
	if err != nil {
		return nil, err
	}

	artifacts := make([]models.ArtifactInfo, 0, len(results))
	for _, r := range results {
		if r != nil {
			artifacts = append(artifacts, *r)
		}
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Path < artifacts[j].Path })

	utils.LogDebug("Artifacts collected", utils.Meta(
		"candidates", fmt.Sprint(len(candidates)),
		"files", fmt.Sprint(len(artifacts)),
		"threads", fmt.Sprint(threads),
	))
	return artifacts, nil
}
