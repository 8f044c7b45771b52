package modelcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
)

// hfAPIBase is the Hugging Face hub API root used to list a repo's files.
// Downloads of the files themselves go through hfResolveBase. Both are vars
// rather than consts so tests can point them at an httptest server.
var (
	hfAPIBase     = "https://huggingface.co/api/models/"
	hfResolveBase = "https://huggingface.co/"
)

// PullEvent reports progress of a single download, used both for the
// /pull?stream=true SSE surface and the Ollama /api/pull NDJSON surface.
// Seq is a monotonic counter guaranteeing non-decreasing ordering when
// multiple file downloads are multiplexed into one event stream.
type PullEvent struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Seq       uint64 `json:"-"`
}

type hfSibling struct {
	RFilename string `json:"rfilename"`
}

type hfModelInfo struct {
	Siblings []hfSibling `json:"siblings"`
}

// httpClient is the shared client used for all HF hub requests; exposed as
// a package variable so tests can substitute a httptest.Server-backed
// client or a RoundTripper stub without changing the Cache API.
var httpClient = &http.Client{Timeout: 0}

// listRemoteFiles queries the HF hub API for every file in repo.
func listRemoteFiles(ctx context.Context, repo string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hfAPIBase+repo, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &lemonadeerr.NetworkError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, lemonadeerr.ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &lemonadeerr.NetworkError{URL: req.URL.String(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var info hfModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("unable to decode model info for %s: %w", repo, err)
	}
	files := make([]string, len(info.Siblings))
	for i, s := range info.Siblings {
		files[i] = s.RFilename
	}
	return files, nil
}

// Download fetches every file the checkpoint's variant resolves to, unless
// allowUpgrade is false and a complete local copy already exists, in which
// case it is a no-op that performs no network traffic.
func (c *Cache) Download(ctx context.Context, checkpoint string, allowUpgrade bool) (LocalPaths, error) {
	if !allowUpgrade {
		if local, err := c.ResolveLocal(checkpoint); err == nil {
			return local, nil
		}
	}

	for event, err := range c.downloadEvents(ctx, checkpoint) {
		if err != nil {
			return LocalPaths{}, err
		}
		_ = event
	}
	last, err := c.ResolveLocal(checkpoint)
	if err != nil {
		return LocalPaths{}, fmt.Errorf("download completed but local resolution failed: %w", err)
	}
	return last, nil
}

// DownloadStream returns a channel of PullEvent describing download
// progress, for the /pull?stream=true and Ollama /api/pull translation
// paths. The channel is closed after the terminal {status: "success"} event
// or an error event.
func (c *Cache) DownloadStream(ctx context.Context, checkpoint string) <-chan PullEvent {
	out := make(chan PullEvent, 8)
	go func() {
		defer close(out)
		for event, err := range c.downloadEvents(ctx, checkpoint) {
			if err != nil {
				out <- PullEvent{Status: "error"}
				return
			}
			out <- event
		}
	}()
	return out
}

// downloadEvents is the shared implementation behind Download and
// DownloadStream: it lists the remote repo, resolves the variant against
// that listing, and downloads each matched file with a temp-then-rename
// write (a plain GET without a Range header, so an interrupted file starts
// over), yielding one PullEvent per meaningful step.
func (c *Cache) downloadEvents(ctx context.Context, checkpoint string) func(yield func(PullEvent, error) bool) {
	return func(yield func(PullEvent, error) bool) {
		var seq uint64
		emit := func(e PullEvent) bool {
			seq++
			e.Seq = seq
			return yield(e, nil)
		}

		if !yield(PullEvent{Status: "pulling manifest", Seq: 1}, nil) {
			return
		}

		repo, _ := ParseCheckpoint(checkpoint)
		remoteFiles, err := listRemoteFiles(ctx, repo)
		if err != nil {
			yield(PullEvent{}, err)
			return
		}

		primary, matched, err := ResolveVariant(checkpoint, remoteFiles)
		if err != nil {
			yield(PullEvent{}, err)
			return
		}
		_ = primary

		snapshotDir := filepath.Join(c.repoDir(repo), "snapshots", "main")
		if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
			yield(PullEvent{}, fmt.Errorf("unable to create snapshot directory: %w", err))
			return
		}

		for _, file := range matched {
			completed, total, fileDigest, err := downloadFile(ctx, repo, file, snapshotDir, func(completed, total int64, dgst digest.Digest) bool {
				return emit(PullEvent{Status: "downloading", Digest: dgst.String(), Completed: completed, Total: total})
			})
			if err != nil {
				yield(PullEvent{}, err)
				return
			}
			if !emit(PullEvent{Status: "downloading", Digest: fileDigest.String(), Completed: completed, Total: total}) {
				return
			}
		}

		yield(PullEvent{Status: "success", Seq: seq + 1}, nil)
	}
}

// downloadFile downloads a single repo file into dir via a ".incomplete"
// sibling, renamed into place on completion, reporting progress through
// onProgress as bytes arrive. It returns the final byte count, total size,
// and a content digest computed incrementally over the bytes written.
func downloadFile(ctx context.Context, repo, file, dir string, onProgress func(completed, total int64, dgst digest.Digest) bool) (int64, int64, digest.Digest, error) {
	url := hfResolveBase + repo + "/resolve/main/" + file
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, "", err
	}

	finalPath := filepath.Join(dir, filepath.FromSlash(file))
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return 0, 0, "", fmt.Errorf("unable to create directory for %s: %w", file, err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, 0, "", &lemonadeerr.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, "", &lemonadeerr.NetworkError{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	total, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)

	tmpPath := finalPath + ".incomplete"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return 0, 0, "", fmt.Errorf("unable to create temp file for %s: %w", file, err)
	}

	digester := digest.Canonical.Digester()
	writer := io.MultiWriter(tmp, digester.Hash())

	var completed int64
	buf := make([]byte, 256*1024)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := writer.Write(buf[:n]); err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return 0, 0, "", fmt.Errorf("unable to write %s: %w", file, err)
			}
			completed += int64(n)
		}
		select {
		case <-ticker.C:
			onProgress(completed, total, digester.Digest())
		default:
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return 0, 0, "", &lemonadeerr.NetworkError{URL: url, Err: readErr}
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, 0, "", fmt.Errorf("unable to close temp file for %s: %w", file, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return 0, 0, "", fmt.Errorf("unable to rename temp file into place for %s: %w", file, err)
	}

	return completed, total, digester.Digest(), nil
}
