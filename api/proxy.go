package api

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/log"
)

const (
	proxyTimeout  = 15 * time.Second
	proxyMaxBytes = 5 << 20
)

// ProxyURL handles GET /api/sessions/:id/proxy-url/:encodedUrl — a reverse
// fetch of an external page on the client's behalf. The target is validated
// against internal address space, and every redirect hop is re-validated, so
// the hub cannot be used to reach its own network.
func (h *Handlers) ProxyURL(c *gin.Context) {
	sess := h.sessionForWorkspace(c)
	if sess == nil {
		return
	}

	raw, err := url.PathUnescape(c.Param("encodedUrl"))
	if err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid url encoding")
		return
	}
	target, err := url.Parse(raw)
	if err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid url")
		return
	}
	if err := checkProxyTarget(target); err != nil {
		respondErrorMsg(c, http.StatusForbidden, CodeForbidden, err.Error())
		return
	}

	client := &http.Client{
		Timeout: proxyTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return checkProxyTarget(req.URL)
		},
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid url")
		return
	}
	req.Header.Set("User-Agent", "c3-hub")

	resp, err := client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", target.String()).Msg("proxy fetch failed")
		respondErrorMsg(c, http.StatusBadGateway, CodeWorkerDown, "could not fetch url")
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Status(resp.StatusCode)
	c.Header("Content-Type", contentType)
	if _, err := io.Copy(c.Writer, io.LimitReader(resp.Body, proxyMaxBytes)); err != nil {
		log.Debug().Err(err).Str("url", target.String()).Msg("proxy copy interrupted")
	}
}
