package term

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mholt/archives"

	"github.com/agentide/c3/log"
)

// extensionManifest is the manifest.json every bundle carries. Enabled
// defaults to true; setting it false parks a bundle without deleting it.
type extensionManifest struct {
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// Extension is one discovered bundle: a directory or a .zip under the
// extensions dir, identified by its manifest name.
type Extension struct {
	Name    string
	Path    string
	Zip     bool
	Enabled bool
}

// ExtensionManager discovers extension bundles and injects them into session
// working directories before spawn. Discovery results are cached and the
// cache is invalidated by a filesystem watcher on the bundle dir, so edits
// take effect without a restart. Everything here is best-effort: extension
// trouble is logged and never blocks a session.
type ExtensionManager struct {
	dir string

	mu    sync.Mutex
	cache []Extension
	valid bool

	watcher *fsnotify.Watcher
}

// NewExtensionManager watches dir for bundles. An empty or missing dir
// yields a manager that injects nothing.
func NewExtensionManager(dir string) *ExtensionManager {
	m := &ExtensionManager{dir: dir}
	if dir == "" {
		return m
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("extension watcher unavailable; caching disabled")
		return m
	}
	if err := w.Add(dir); err != nil {
		// Directory may not exist; scan-on-demand still works.
		_ = w.Close()
		return m
	}
	m.watcher = w
	go m.watch()
	return m
}

func (m *ExtensionManager) watch() {
	for {
		select {
		case _, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.invalidate()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("extension watcher error")
		}
	}
}

func (m *ExtensionManager) invalidate() {
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
}

// Close stops the directory watcher.
func (m *ExtensionManager) Close() {
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
}

// List returns the discovered bundles, rescanning only when the cache has
// been invalidated.
func (m *ExtensionManager) List() []Extension {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.valid {
		return m.cache
	}
	m.cache = m.scan()
	m.valid = true
	return m.cache
}

func (m *ExtensionManager) scan() []Extension {
	if m.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil
	}
	var exts []Extension
	for _, entry := range entries {
		path := filepath.Join(m.dir, entry.Name())
		switch {
		case entry.IsDir():
			manifest, err := readDirManifest(path)
			if err != nil {
				continue
			}
			exts = append(exts, manifestToExtension(manifest, path, false))
		case strings.HasSuffix(entry.Name(), ".zip"):
			manifest, err := readZipManifest(path)
			if err != nil {
				log.Debug().Err(err).Str("path", path).Msg("skipping extension zip without manifest")
				continue
			}
			exts = append(exts, manifestToExtension(manifest, path, true))
		}
	}
	return exts
}

func manifestToExtension(manifest extensionManifest, path string, zip bool) Extension {
	enabled := manifest.Enabled == nil || *manifest.Enabled
	return Extension{Name: manifest.Name, Path: path, Zip: zip, Enabled: enabled}
}

func readDirManifest(dir string) (extensionManifest, error) {
	var manifest extensionManifest
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return manifest, err
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, err
	}
	if manifest.Name == "" {
		return manifest, errors.New("manifest has no name")
	}
	return manifest, nil
}

// errStopWalk aborts an archive walk once the entry we need has been read.
var errStopWalk = errors.New("stop walk")

func readZipManifest(path string) (extensionManifest, error) {
	var manifest extensionManifest
	f, err := os.Open(path)
	if err != nil {
		return manifest, err
	}
	defer f.Close()

	ctx := context.Background()
	format, reader, err := archives.Identify(ctx, path, f)
	if err != nil {
		return manifest, err
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return manifest, fmt.Errorf("%s: not an extractable archive", path)
	}

	found := false
	err = extractor.Extract(ctx, reader, func(ctx context.Context, info archives.FileInfo) error {
		if info.IsDir() || filepath.Base(info.NameInArchive) != "manifest.json" {
			return nil
		}
		rc, err := info.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &manifest); err != nil {
			return err
		}
		found = true
		return errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return manifest, err
	}
	if !found || manifest.Name == "" {
		return manifest, fmt.Errorf("%s: no usable manifest", path)
	}
	return manifest, nil
}

// Inject copies every enabled bundle into the session working directory
// under .claude/extensions/<name>. Failures are logged per bundle and never
// abort the spawn.
func (m *ExtensionManager) Inject(ctx context.Context, workdir string) {
	exts := m.List()
	for _, ext := range exts {
		if !ext.Enabled {
			continue
		}
		target := filepath.Join(workdir, ".claude", "extensions", ext.Name)
		var err error
		if ext.Zip {
			err = extractArchive(ctx, ext.Path, target)
		} else {
			err = copyTree(ext.Path, target)
		}
		if err != nil {
			log.Warn().Err(err).Str("extension", ext.Name).Msg("extension injection failed")
			continue
		}
		log.Debug().Str("extension", ext.Name).Str("target", target).Msg("extension injected")
	}
}

// copyTree recursively copies src into dst, preserving file modes. Symlinks
// are skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}

// extractArchive unpacks a bundle archive into dst, rejecting entries that
// would escape it.
func extractArchive(ctx context.Context, archivePath, dst string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	format, reader, err := archives.Identify(ctx, archivePath, f)
	if err != nil {
		return err
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return fmt.Errorf("%s: not an extractable archive", archivePath)
	}

	return extractor.Extract(ctx, reader, func(ctx context.Context, info archives.FileInfo) error {
		name := filepath.Clean(info.NameInArchive)
		if name == "." || strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return nil
		}
		target := filepath.Join(dst, name)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := info.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(out, rc)
		closeErr := out.Close()
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	})
}
