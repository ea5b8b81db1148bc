package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/auth"
	"github.com/agentide/c3/db"
	"github.com/agentide/c3/log"
	"github.com/agentide/c3/session"
	"github.com/agentide/c3/tunnel"
)

// ErrorCode is the machine-readable half of the error envelope.
type ErrorCode string

const (
	CodeBadRequest   ErrorCode = "BAD_REQUEST"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeRateLimited  ErrorCode = "TOO_MANY_REQUESTS"
	CodeWorkerDown   ErrorCode = "WORKER_UNAVAILABLE"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// respondError maps a package sentinel to its HTTP status and writes the
// `{error, code}` envelope. Unrecognized errors become an opaque 500; the
// detail goes to the log with the request's correlation id, never the client.
func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("reqId", log.RequestID(c)).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
		c.JSON(status, gin.H{"error": "internal server error", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func respondErrorMsg(c *gin.Context, status int, code ErrorCode, msg string) {
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func classify(err error) (int, ErrorCode) {
	switch {
	case errors.Is(err, db.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrWorkerNotFound):
		return http.StatusNotFound, CodeNotFound

	case errors.Is(err, session.ErrNotFinished),
		errors.Is(err, session.ErrSessionNotActive),
		errors.Is(err, db.ErrLocalWorkerProtected),
		errors.Is(err, db.ErrWorkerHasSessions),
		errors.Is(err, db.ErrCommentImmutable):
		return http.StatusConflict, CodeConflict

	case errors.Is(err, session.ErrDirectoryOutsideHome):
		return http.StatusForbidden, CodeForbidden

	case errors.Is(err, session.ErrDirectoryNotAbsolute),
		errors.Is(err, db.ErrRemoteFieldsRequired),
		errors.Is(err, tunnel.ErrKeyEncrypted),
		errors.Is(err, tunnel.ErrNotPrivateKey):
		return http.StatusBadRequest, CodeBadRequest

	case errors.Is(err, auth.ErrBadFormat),
		errors.Is(err, auth.ErrBadSignature),
		errors.Is(err, auth.ErrExpired),
		errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, CodeUnauthorized

	case errors.Is(err, tunnel.ErrNotConnected),
		errors.Is(err, tunnel.ErrConnectionLost),
		errors.Is(err, tunnel.ErrTimeout):
		return http.StatusServiceUnavailable, CodeWorkerDown
	}
	return http.StatusInternalServerError, CodeInternal
}
