package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
	"github.com/agentide/c3/log"
)

// maxFileBytes caps file content responses; the viewer is for source files,
// not artifacts.
const maxFileBytes = 1 << 20

const remoteExecTimeout = 10 * time.Second

// fileEntry is one row in a directory listing.
type fileEntry struct {
	Name string `json:"name"`
	Type string `json:"type"` // "file" or "directory"
	Size int64  `json:"size,omitempty"`
}

// sessionForWorkspace loads the session or writes the error response.
func (h *Handlers) sessionForWorkspace(c *gin.Context) *db.Session {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return nil
	}
	sess, err := h.store.GetSession(id)
	if err != nil {
		respondError(c, err)
		return nil
	}
	if sess == nil {
		respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "session not found")
		return nil
	}
	return sess
}

func (h *Handlers) workerIsRemote(c *gin.Context, workerID string) (bool, bool) {
	w, err := h.store.GetWorker(workerID)
	if err != nil || w == nil {
		respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "worker not found")
		return false, false
	}
	return w.Type == db.WorkerTypeRemote, true
}

// ListSessionFiles handles GET /api/sessions/:id/files?path= — a directory
// listing rooted at the session's working directory.
func (h *Handlers) ListSessionFiles(c *gin.Context) {
	sess := h.sessionForWorkspace(c)
	if sess == nil {
		return
	}
	rel, err := cleanRelPath(c.Query("path"))
	if err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid path")
		return
	}
	remote, ok := h.workerIsRemote(c, sess.WorkerID)
	if !ok {
		return
	}

	var entries []fileEntry
	if remote {
		entries, err = h.listRemoteFiles(c.Request.Context(), sess.WorkerID, sess.WorkingDirectory, rel)
	} else {
		entries, err = listLocalFiles(sess.WorkingDirectory, rel)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "path not found")
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": rel, "entries": entries})
}

func listLocalFiles(workdir, rel string) ([]fileEntry, error) {
	dirents, err := os.ReadDir(filepath.Join(workdir, rel))
	if err != nil {
		return nil, err
	}
	entries := make([]fileEntry, 0, len(dirents))
	for _, d := range dirents {
		e := fileEntry{Name: d.Name(), Type: "file"}
		if d.IsDir() {
			e.Type = "directory"
		} else if info, err := d.Info(); err == nil {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

func (h *Handlers) listRemoteFiles(ctx context.Context, workerID, workdir, rel string) ([]fileEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteExecTimeout)
	defer cancel()
	// -p marks directories with a trailing slash; -A skips . and ..
	cmd := "cd " + shellQuote(workdir+"/"+rel) + " && ls -1pA"
	out, err := h.tunnels.Exec(ctx, workerID, cmd)
	if err != nil {
		return nil, err
	}
	var entries []fileEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, "/") {
			entries = append(entries, fileEntry{Name: strings.TrimSuffix(line, "/"), Type: "directory"})
		} else {
			entries = append(entries, fileEntry{Name: line, Type: "file"})
		}
	}
	sortEntries(entries)
	return entries, nil
}

// sortEntries orders directories before files, each alphabetically.
func sortEntries(entries []fileEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == "directory"
		}
		return entries[i].Name < entries[j].Name
	})
}

// SessionFileContent handles GET /api/sessions/:id/files/content?path=.
func (h *Handlers) SessionFileContent(c *gin.Context) {
	sess := h.sessionForWorkspace(c)
	if sess == nil {
		return
	}
	rel, err := cleanRelPath(c.Query("path"))
	if err != nil || rel == "." {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid path")
		return
	}
	remote, ok := h.workerIsRemote(c, sess.WorkerID)
	if !ok {
		return
	}

	var content string
	if remote {
		ctx, cancel := context.WithTimeout(c.Request.Context(), remoteExecTimeout)
		defer cancel()
		content, err = h.tunnels.Exec(ctx, sess.WorkerID, "cat "+shellQuote(sess.WorkingDirectory+"/"+rel))
		if err == nil && len(content) > maxFileBytes {
			respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "file is too large to display")
			return
		}
	} else {
		full := filepath.Join(sess.WorkingDirectory, rel)
		info, statErr := os.Stat(full)
		if statErr != nil {
			respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "file not found")
			return
		}
		if info.IsDir() {
			respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "path is a directory")
			return
		}
		if info.Size() > maxFileBytes {
			respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "file is too large to display")
			return
		}
		var data []byte
		data, err = os.ReadFile(full)
		content = string(data)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": rel, "content": content})
}

// SessionDiff handles GET /api/sessions/:id/diff: the working tree diff of
// the session's directory. A directory that is not a git repository yields an
// empty diff rather than an error.
func (h *Handlers) SessionDiff(c *gin.Context) {
	sess := h.sessionForWorkspace(c)
	if sess == nil {
		return
	}
	remote, ok := h.workerIsRemote(c, sess.WorkerID)
	if !ok {
		return
	}

	var diff string
	if remote {
		ctx, cancel := context.WithTimeout(c.Request.Context(), remoteExecTimeout)
		defer cancel()
		out, err := h.tunnels.Exec(ctx, sess.WorkerID,
			"cd "+shellQuote(sess.WorkingDirectory)+" && git diff --no-color 2>/dev/null || true")
		if err != nil {
			respondError(c, err)
			return
		}
		diff = out
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), remoteExecTimeout)
		defer cancel()
		out, err := exec.CommandContext(ctx, "git", "-C", sess.WorkingDirectory, "diff", "--no-color").Output()
		if err != nil {
			log.Debug().Err(err).Str("sessionId", sess.ID).Msg("git diff unavailable")
		}
		diff = string(out)
	}
	c.JSON(http.StatusOK, gin.H{"diff": diff})
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
