package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// Search Path Index
// ---------------------------------------------------------------------------

// IndexedPackage is one package file found on the search paths.
type IndexedPackage struct {
	Name    string
	Path    string
	Version uint16
}

// IndexSearchPaths scans every search path for package files and validates
// their headers concurrently. When a name appears in several directories the
// earliest search path wins. Files with bad headers are logged and skipped.
func (m *Manager) IndexSearchPaths(ctx context.Context) ([]IndexedPackage, error) {
	type candidate struct {
		rank int
		path string
	}
	var cands []candidate
	for rank, dir := range m.cfg.SearchPaths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Warning("search path unreadable", "path", dir, "error", err.Error())
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !m.isPackageFile(e.Name()) {
				continue
			}
			cands = append(cands, candidate{rank: rank, path: filepath.Join(dir, e.Name())})
		}
	}

	found := make([]*IndexedPackage, len(cands))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, c := range cands {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			h, err := probeHeader(c.path)
			if err != nil {
				log.Warning("skipping package file", "path", c.path, "error", err.Error())
				return nil
			}
			found[i] = &IndexedPackage{Name: packageName(c.path), Path: c.path, Version: h.FileVersion}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	index := make(map[object.Name]string)
	var out []IndexedPackage
	for _, ip := range found {
		if ip == nil {
			continue
		}
		n := m.names.Intern(ip.Name)
		if _, dup := index[n]; dup {
			log.Debug("package shadowed by earlier search path", "package", ip.Name, "path", ip.Path)
			continue
		}
		index[n] = ip.Path
		out = append(out, *ip)
	}

	m.indexMu.Lock()
	m.index = index
	m.indexMu.Unlock()

	slices.SortFunc(out, func(a, b IndexedPackage) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) })
	log.Info("indexed search paths", "paths", len(m.cfg.SearchPaths), "packages", len(out))
	return out, nil
}

func (m *Manager) isPackageFile(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range m.cfg.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func probeHeader(path string) (*pkgfile.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return pkgfile.ReadHeader(f, fi.Size())
}

// locate finds the file for a package name. The index is rebuilt once when
// the name is missing, so packages written after the last scan are found.
func (m *Manager) locate(name string) (string, bool) {
	n := m.names.Intern(name)
	lookup := func() (string, bool) {
		m.indexMu.Lock()
		defer m.indexMu.Unlock()
		path, ok := m.index[n]
		return path, ok
	}
	if path, ok := lookup(); ok {
		return path, true
	}
	if len(m.cfg.SearchPaths) == 0 {
		return "", false
	}
	if _, err := m.IndexSearchPaths(context.Background()); err != nil {
		return "", false
	}
	return lookup()
}
