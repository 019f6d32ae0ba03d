package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

var (
	ErrModSource  = errors.New("mod has no git or path specified")
	ErrModOffline = errors.New("mod is not cloned and fetching is disabled")
)

// ResolvedMod is a mod resolved to a local content directory.
type ResolvedMod struct {
	Name        string
	Dir         string    // local filesystem path
	Commit      string    // checked out commit of git mods
	SearchPaths []string  // package directories contributed by the mod
	Manifest    *Manifest // the mod's own manifest (may be nil)
}

// Resolver manages mod resolution.
type Resolver struct {
	manifest *Manifest
	lock     *LockFile
	offline  bool
	declared map[string]Mod
}

// NewResolver creates a resolver for m's mods. An offline resolver never
// clones or fetches.
func NewResolver(m *Manifest, offline bool) *Resolver {
	return &Resolver{
		manifest: m,
		offline:  offline,
		declared: make(map[string]Mod),
	}
}

// Resolve resolves all mods and returns them in load order: a mod's own
// mods come before it.
func (r *Resolver) Resolve() ([]ResolvedMod, error) {
	if len(r.manifest.Mods) == 0 {
		return nil, nil
	}

	// Read existing lock file
	lock, err := ReadLock(r.manifest.LockFilePath())
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	r.lock = lock

	resolved := make(map[string]*ResolvedMod)
	order, err := r.resolveAll(r.manifest, resolved)
	if err != nil {
		return nil, err
	}

	if err := r.writeLock(order); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return order, nil
}

// resolveAll resolves the mods declared by owner recursively, in name order.
func (r *Resolver) resolveAll(owner *Manifest, resolved map[string]*ResolvedMod) ([]ResolvedMod, error) {
	names := make([]string, 0, len(owner.Mods))
	for name := range owner.Mods {
		names = append(names, name)
	}
	sort.Strings(names)

	var order []ResolvedMod
	for _, name := range names {
		if _, ok := resolved[name]; ok {
			continue // already resolved
		}
		mod := owner.Mods[name]

		rm, err := r.resolveOne(owner, name, mod)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		resolved[name] = rm
		r.declared[name] = mod

		// Mods of the mod
		if rm.Manifest != nil && len(rm.Manifest.Mods) > 0 {
			nested, err := r.resolveAll(rm.Manifest, resolved)
			if err != nil {
				return nil, err
			}
			order = append(order, nested...)
		}

		order = append(order, *rm)
	}
	return order, nil
}

// resolveOne resolves a single mod. Paths are relative to the manifest
// declaring the mod.
func (r *Resolver) resolveOne(owner *Manifest, name string, mod Mod) (*ResolvedMod, error) {
	var dir string
	switch {
	case mod.Path != "":
		localPath := mod.Path
		if !filepath.IsAbs(localPath) {
			localPath = filepath.Join(owner.Dir, localPath)
		}
		localPath, err := filepath.Abs(localPath)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", mod.Path, err)
		}
		if _, err := os.Stat(localPath); err != nil {
			return nil, fmt.Errorf("local mod %q not found at %s: %w", name, localPath, err)
		}
		dir = localPath

	case mod.Git != "":
		var err error
		if dir, err = r.fetchGit(name, mod); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrModSource, name)
	}

	rm := &ResolvedMod{Name: name, Dir: dir}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
		if rm.Manifest, err = Load(dir); err != nil {
			return nil, err
		}
		rm.SearchPaths = rm.Manifest.SearchPathDirs()
	} else {
		rm.SearchPaths = []string{dir}
	}
	if mod.Git != "" {
		if commit, err := gitCurrentCommit(dir); err == nil {
			rm.Commit = commit
		}
	}
	log.Info("resolved mod", "name", name, "dir", dir)
	return rm, nil
}

func (r *Resolver) fetchGit(name string, mod Mod) (string, error) {
	modDir := filepath.Join(r.manifest.ModsDir(), name)

	if _, err := os.Stat(modDir); os.IsNotExist(err) {
		if r.offline {
			return "", fmt.Errorf("%w: %s", ErrModOffline, name)
		}
		if err := os.MkdirAll(r.manifest.ModsDir(), 0755); err != nil {
			return "", fmt.Errorf("creating mods dir: %w", err)
		}
		log.Info("cloning mod", "name", name, "git", mod.Git)
		if err := gitClone(mod.Git, modDir); err != nil {
			return "", err
		}
	} else if locked := r.lock.FindLockedMod(name); !r.offline && (locked == nil || locked.Tag != mod.Tag) {
		log.Info("fetching mod", "name", name)
		if err := gitFetch(modDir); err != nil {
			return "", err
		}
	}

	if mod.Tag != "" {
		if err := gitCheckout(modDir, mod.Tag); err != nil {
			return "", err
		}
	}
	return modDir, nil
}

// writeLock records the resolved mods.
func (r *Resolver) writeLock(order []ResolvedMod) error {
	lf := &LockFile{}
	for _, rm := range order {
		mod := r.declared[rm.Name]
		lm := LockedMod{Name: rm.Name}
		if mod.Git != "" {
			lm.Git = mod.Git
			lm.Tag = mod.Tag
			lm.Commit = rm.Commit
		} else {
			lm.Path = mod.Path
		}
		lf.Mods = append(lf.Mods, lm)
	}

	lockDir := filepath.Dir(r.manifest.LockFilePath())
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return err
	}
	return WriteLock(r.manifest.LockFilePath(), lf)
}
