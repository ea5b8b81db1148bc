package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
)

// maxDirectoryEntries caps the picker response; the UI narrows with query.
const maxDirectoryEntries = 50

// GetDirectories handles GET /api/directories?path=&query=&workerId= — the
// directory picker behind "new session". Only subdirectories are returned;
// dotted ones stay hidden unless the query asks for them.
func (h *Handlers) GetDirectories(c *gin.Context) {
	workerID := c.Query("workerId")
	query := c.Query("query")

	remote := false
	if workerID != "" {
		w, err := h.store.GetWorker(workerID)
		if err != nil {
			respondError(c, err)
			return
		}
		if w == nil {
			respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "worker not found")
			return
		}
		remote = w.Type == db.WorkerTypeRemote
	}

	base := c.Query("path")
	if base == "" {
		if remote {
			base = "~"
		} else {
			base = h.homeDir
		}
	}
	if !remote {
		base = filepath.Clean(base)
		if !filepath.IsAbs(base) {
			respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "path must be absolute")
			return
		}
	}

	var names []string
	var err error
	if remote {
		names, err = h.listRemoteDirectories(c.Request.Context(), workerID, base)
	} else {
		names, err = listLocalDirectories(base)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "path not found")
			return
		}
		respondError(c, err)
		return
	}

	names = filterDirectories(names, query)
	c.JSON(http.StatusOK, gin.H{"path": base, "directories": names})
}

func listLocalDirectories(base string) ([]string, error) {
	dirents, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, d := range dirents {
		if d.IsDir() {
			names = append(names, d.Name())
		}
	}
	return names, nil
}

// listRemoteDirectories shells out on the worker; the trailing-slash grep
// keeps only directories. `~` is left unquoted so the remote shell expands
// it; everything else is quoted.
func (h *Handlers) listRemoteDirectories(ctx context.Context, workerID, base string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteExecTimeout)
	defer cancel()

	target := shellQuote(base)
	if base == "~" || strings.HasPrefix(base, "~/") {
		target = "~" + shellQuote(strings.TrimPrefix(base, "~"))
	}
	out, err := h.tunnels.Exec(ctx, workerID, `ls -1pa `+target+` | grep /$`)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSuffix(strings.TrimSpace(line), "/")
		if name == "" || name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// filterDirectories applies the picker query, hides dotfiles unless asked
// for, sorts, and truncates.
func filterDirectories(names []string, query string) []string {
	q := strings.ToLower(query)
	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(q, ".") {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(name), q) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	if len(out) > maxDirectoryEntries {
		out = out[:maxDirectoryEntries]
	}
	return out
}
