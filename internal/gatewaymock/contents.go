package gatewaymock

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// contentNode mirrors the gateway's contents model. Content carries the
// type-dependent payload: file text, or one level of directory entries.
type contentNode struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Type         string    `json:"type"`
	Format       string    `json:"format,omitempty"`
	Mimetype     string    `json:"mimetype,omitempty"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size,omitempty"`
	Content      any       `json:"content,omitempty"`
}

type contentsStore struct {
	root string
}

func newContentsStore(root string) *contentsStore {
	return &contentsStore{root: root}
}

func (st *contentsStore) registerRoutes(rg *gin.RouterGroup) {
	contents := rg.Group("/contents")
	{
		contents.GET("/*path", st.get)
		contents.PUT("/*path", st.save)
		contents.DELETE("/*path", st.remove)
		contents.PATCH("/*path", st.rename)
		contents.POST("/*path", st.copyInto)
	}
}

// resolve maps the request path into the contents root. On failure it has
// already written the error response.
func (st *contentsStore) resolve(c *gin.Context) (rel string, abs string, ok bool) {
	if st.root == "" {
		sendError(c, http.StatusNotFound, "Contents API is disabled")
		return "", "", false
	}

	rel = strings.Trim(c.Param("path"), "/")
	if rel == "" {
		return "", st.root, true
	}

	rel = path.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		sendError(c, http.StatusBadRequest, "Path escapes the contents root")
		return "", "", false
	}
	return rel, filepath.Join(st.root, filepath.FromSlash(rel)), true
}

// node builds the response for one filesystem entry. withContent loads the
// payload: file text, or one level of directory entries.
func (st *contentsStore) node(rel, abs string, info os.FileInfo, withContent bool) (*contentNode, error) {
	name := info.Name()
	if rel == "" {
		name = ""
	}

	n := &contentNode{
		Name:         name,
		Path:         rel,
		Created:      info.ModTime().UTC(),
		LastModified: info.ModTime().UTC(),
	}

	if info.IsDir() {
		n.Type = "directory"
		if withContent {
			entries, err := os.ReadDir(abs)
			if err != nil {
				return nil, err
			}
			children := make([]contentNode, 0, len(entries))
			for _, entry := range entries {
				childInfo, err := entry.Info()
				if err != nil {
					return nil, err
				}
				child, err := st.node(path.Join(rel, entry.Name()), filepath.Join(abs, entry.Name()), childInfo, false)
				if err != nil {
					return nil, err
				}
				children = append(children, *child)
			}
			n.Format = "json"
			n.Content = children
		}
		return n, nil
	}

	n.Type = "file"
	n.Mimetype = "text/plain"
	n.Size = info.Size()
	if withContent {
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, err
		}
		n.Format = "text"
		n.Content = string(data)
	}
	return n, nil
}

// respondWithNode stats abs and writes its node, without payload.
func (st *contentsStore) respondWithNode(c *gin.Context, status int, rel, abs string) {
	info, err := os.Stat(abs)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to stat: "+err.Error())
		return
	}

	n, err := st.node(rel, abs, info, false)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to read: "+err.Error())
		return
	}
	c.JSON(status, n)
}

// get handles GET /api/contents/*path - one node of the tree, payload
// included.
func (st *contentsStore) get(c *gin.Context) {
	rel, abs, ok := st.resolve(c)
	if !ok {
		return
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		sendError(c, http.StatusNotFound, "No such file or directory: "+rel)
		return
	}
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to stat: "+err.Error())
		return
	}

	n, err := st.node(rel, abs, info, true)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to read: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, n)
}

type saveContentsRequest struct {
	Type    string `json:"type"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// save handles PUT /api/contents/*path - writes a text file node, creating
// parent directories as needed.
func (st *contentsStore) save(c *gin.Context) {
	rel, abs, ok := st.resolve(c)
	if !ok {
		return
	}
	if rel == "" {
		sendError(c, http.StatusBadRequest, "Cannot save the contents root")
		return
	}

	var req saveContentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Type != "" && req.Type != "file" {
		sendError(c, http.StatusBadRequest, "Only file nodes can be saved")
		return
	}

	_, statErr := os.Stat(abs)
	created := os.IsNotExist(statErr)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to create parent directory: "+err.Error())
		return
	}
	if err := os.WriteFile(abs, []byte(req.Content), 0o644); err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to write file: "+err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	st.respondWithNode(c, status, rel, abs)
}

// remove handles DELETE /api/contents/*path - removes a node.
func (st *contentsStore) remove(c *gin.Context) {
	rel, abs, ok := st.resolve(c)
	if !ok {
		return
	}
	if rel == "" {
		sendError(c, http.StatusBadRequest, "Cannot delete the contents root")
		return
	}

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		sendError(c, http.StatusNotFound, "No such file or directory: "+rel)
		return
	}
	if err := os.RemoveAll(abs); err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to delete: "+err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

type renameContentsRequest struct {
	Path string `json:"path"`
}

// rename handles PATCH /api/contents/*path - moves a node to a new path.
func (st *contentsStore) rename(c *gin.Context) {
	rel, abs, ok := st.resolve(c)
	if !ok {
		return
	}
	if rel == "" {
		sendError(c, http.StatusBadRequest, "Cannot rename the contents root")
		return
	}

	var req renameContentsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		sendError(c, http.StatusBadRequest, "A target path is required")
		return
	}

	newRel := path.Clean(strings.Trim(req.Path, "/"))
	if newRel == "" || newRel == "." || newRel == ".." || strings.HasPrefix(newRel, "../") {
		sendError(c, http.StatusBadRequest, "Invalid target path")
		return
	}
	newAbs := filepath.Join(st.root, filepath.FromSlash(newRel))

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		sendError(c, http.StatusNotFound, "No such file or directory: "+rel)
		return
	}
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to create parent directory: "+err.Error())
		return
	}
	if err := os.Rename(abs, newAbs); err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to rename: "+err.Error())
		return
	}

	st.respondWithNode(c, http.StatusOK, newRel, newAbs)
}

type copyContentsRequest struct {
	CopyFrom string `json:"copy_from"`
}

// copyInto handles POST /api/contents/*path - copies a file into the target
// directory under a generated name.
func (st *contentsStore) copyInto(c *gin.Context) {
	relDir, absDir, ok := st.resolve(c)
	if !ok {
		return
	}

	var req copyContentsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CopyFrom == "" {
		sendError(c, http.StatusBadRequest, "A copy_from path is required")
		return
	}

	srcRel := path.Clean(strings.Trim(req.CopyFrom, "/"))
	if srcRel == "" || srcRel == "." || srcRel == ".." || strings.HasPrefix(srcRel, "../") {
		sendError(c, http.StatusBadRequest, "Invalid copy_from path")
		return
	}
	srcAbs := filepath.Join(st.root, filepath.FromSlash(srcRel))

	srcInfo, err := os.Stat(srcAbs)
	if os.IsNotExist(err) {
		sendError(c, http.StatusNotFound, "No such file or directory: "+srcRel)
		return
	}
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to stat: "+err.Error())
		return
	}
	if srcInfo.IsDir() {
		sendError(c, http.StatusBadRequest, "Directories cannot be copied")
		return
	}

	dirInfo, err := os.Stat(absDir)
	if os.IsNotExist(err) || (err == nil && !dirInfo.IsDir()) {
		sendError(c, http.StatusNotFound, "No such directory: "+relDir)
		return
	}
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to stat: "+err.Error())
		return
	}

	// The first free "<stem>-copy<n><ext>" name wins.
	base := path.Base(srcRel)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	var destRel, destAbs string
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-copy%d%s", stem, n, ext)
		destRel = path.Join(relDir, candidate)
		destAbs = filepath.Join(absDir, candidate)
		if _, err := os.Stat(destAbs); os.IsNotExist(err) {
			break
		}
	}

	data, err := os.ReadFile(srcAbs)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to read source: "+err.Error())
		return
	}
	if err := os.WriteFile(destAbs, data, 0o644); err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to write copy: "+err.Error())
		return
	}

	st.respondWithNode(c, http.StatusCreated, destRel, destAbs)
}
