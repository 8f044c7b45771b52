// Package modelcache owns the on-disk Hugging-Face-hub-shaped model cache:
// local-first resolution, HF downloads over plain HTTP GET requests (an
// interrupted file is fetched again from its first byte), GGUF
// variant/sharding rules, and deletion. Network access happens only through
// Download/DownloadStream; ResolveLocal never touches the network.
package modelcache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
)

var log = logging.Component("modelcache")

// LocalPaths is the result of a successful local resolution: the primary
// file handed to the wrapped server, every sibling file belonging to the
// same variant (for sharded GGUF sets), and the mmproj companion file, if
// any.
type LocalPaths struct {
	SnapshotDir  string
	PrimaryFile  string
	SiblingFiles []string
	MMProjFile   string
}

// Cache is rooted at a Hugging-Face-hub-shaped directory: HF_HUB_CACHE, or
// LEMONADE_CACHE_DIR/hub as a fallback.
type Cache struct {
	root string
}

// New returns a Cache rooted at root, creating it if it doesn't exist.
func New(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create cache root %s: %w", root, err)
	}
	return &Cache{root: root}, nil
}

// RepoDirName converts a "org/Repo" checkpoint repo into its on-disk
// "models--org--Repo" directory name, matching the Hugging Face hub cache
// layout.
func RepoDirName(repo string) string {
	return "models--" + strings.ReplaceAll(repo, "/", "--")
}

func (c *Cache) repoDir(repo string) string {
	return filepath.Join(c.root, RepoDirName(repo))
}

// snapshotDirs lists every "snapshots/<hash>" directory for repo, most
// recently modified first. This module does not track hub refs itself (the
// Hugging Face hub client is treated as an opaque download primitive); when
// a repo has multiple snapshots on disk, the newest one wins.
func (c *Cache) snapshotDirs(repo string) ([]string, error) {
	snapshotsRoot := filepath.Join(c.repoDir(repo), "snapshots")
	entries, err := os.ReadDir(snapshotsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to list snapshots for %s: %w", repo, err)
	}

	type dirWithTime struct {
		path string
		mod  int64
	}
	var dirs []dirWithTime
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirWithTime{path: filepath.Join(snapshotsRoot, e.Name()), mod: info.ModTime().UnixNano()})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mod > dirs[j].mod })

	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = d.path
	}
	return out, nil
}

// listFiles returns every regular file under dir, relative to dir, using
// forward slashes regardless of platform so ResolveVariant's matching is
// platform-independent.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ResolveLocal inspects the cache directory for checkpoint and returns the
// concrete file paths to hand the wrapped server, performing no network
// I/O. A partial local copy (e.g. a sharded set missing a shard) is treated
// as absent so the caller falls back to Download.
func (c *Cache) ResolveLocal(checkpoint string) (LocalPaths, error) {
	repo, _ := ParseCheckpoint(checkpoint)

	snapshots, err := c.snapshotDirs(repo)
	if err != nil {
		return LocalPaths{}, err
	}
	if len(snapshots) == 0 {
		return LocalPaths{}, lemonadeerr.ErrModelNotFound
	}
	snapshotDir := snapshots[0]

	files, err := listFiles(snapshotDir)
	if err != nil {
		return LocalPaths{}, fmt.Errorf("unable to list snapshot contents: %w", err)
	}

	primary, matched, err := ResolveVariant(checkpoint, files)
	if err != nil {
		return LocalPaths{}, err
	}

	if !allFilesPresent(snapshotDir, matched) {
		return LocalPaths{}, lemonadeerr.ErrModelNotFound
	}

	paths := make([]string, len(matched))
	for i, f := range matched {
		paths[i] = filepath.Join(snapshotDir, filepath.FromSlash(f))
	}

	return LocalPaths{
		SnapshotDir:  snapshotDir,
		PrimaryFile:  filepath.Join(snapshotDir, filepath.FromSlash(primary)),
		SiblingFiles: paths,
		MMProjFile:   mmprojPath(snapshotDir, files),
	}, nil
}

func mmprojPath(snapshotDir string, files []string) string {
	if f := MMProjFile(files); f != "" {
		return filepath.Join(snapshotDir, filepath.FromSlash(f))
	}
	return ""
}

// allFilesPresent guards against partial downloads: every matched sibling
// must actually be a non-empty regular file on disk, not just listed, and a
// file named as one shard of a set ("<name>-00001-of-00003.gguf") counts only
// when every shard of that set is present too.
func allFilesPresent(snapshotDir string, matched []string) bool {
	shardPattern := regexp.MustCompile(`^(.*)-(\d+)-of-(\d+)((?i:\.gguf))$`)
	for _, f := range matched {
		required := []string{f}
		if m := shardPattern.FindStringSubmatch(f); m != nil {
			total, _ := strconv.Atoi(m[3])
			for i := 1; i <= total; i++ {
				required = append(required, fmt.Sprintf("%s-%0*d-of-%s%s", m[1], len(m[2]), i, m[3], m[4]))
			}
		}
		for _, name := range required {
			info, err := os.Stat(filepath.Join(snapshotDir, filepath.FromSlash(name)))
			if err != nil || info.Size() == 0 {
				return false
			}
		}
	}
	return true
}

// Delete removes the on-disk files for checkpoint. For GGUF variants, only
// the variant-specific files are deleted; if no .gguf siblings remain in the
// repo afterward, the whole repo directory is removed. For non-GGUF
// checkpoints, the whole repo directory is removed outright.
func (c *Cache) Delete(checkpoint string) error {
	repo, variant := ParseCheckpoint(checkpoint)
	repoDir := c.repoDir(repo)

	if variant == "" {
		return removeIfExists(repoDir)
	}

	snapshots, err := c.snapshotDirs(repo)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return lemonadeerr.ErrModelNotFound
	}
	snapshotDir := snapshots[0]

	files, err := listFiles(snapshotDir)
	if err != nil {
		return err
	}
	_, matched, err := ResolveVariant(checkpoint, files)
	if err != nil {
		return err
	}
	for _, f := range matched {
		if err := os.Remove(filepath.Join(snapshotDir, filepath.FromSlash(f))); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("unable to remove %s: %w", f, err)
		}
	}

	remaining, err := listFiles(snapshotDir)
	if err != nil {
		return err
	}
	anyGGUF := false
	for _, f := range remaining {
		if strings.HasSuffix(strings.ToLower(f), ".gguf") {
			anyGGUF = true
			break
		}
	}
	if !anyGGUF {
		return removeIfExists(repoDir)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("unable to remove %s: %w", path, err)
	}
	log.WithField("path", path).Infoln("removed cache entry")
	return nil
}
