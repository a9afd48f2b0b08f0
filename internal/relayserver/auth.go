package relayserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Harry0M/oikos-sub001/internal/auth"
	"github.com/Harry0M/oikos-sub001/internal/relay"
)

// Keys set on the gin context by the auth middleware.
const (
	userIDKey = "user_id"
	pathKey   = "relay_path"
)

// requireAuth validates the bearer token and stores the caller's user ID.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		claims, err := s.jwt.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// accessRule decides whether caller may touch path.
type accessRule func(caller, path string) bool

// canRead covers reads, updates and watches: only inside the caller's own
// subtree.
func canRead(caller, path string) bool {
	return relay.Owner(path) == caller
}

// canWrite covers puts and deletes: the caller's own subtree, or any single
// notification document in someone else's mailbox. checkSender then limits
// the latter to documents the caller sent.
func canWrite(caller, path string) bool {
	return relay.Owner(path) == caller || relay.IsNotificationPath(path)
}

// allow cleans the wildcard path and checks it against rule.
func (s *Server) allow(rule accessRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, err := relay.CleanPath(c.Param("path"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !rule(c.GetString(userIDKey), path) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access to " + path + " denied"})
			return
		}
		c.Set(pathKey, path)
		c.Next()
	}
}

// senderOf returns the senderId field of a notification document.
func senderOf(doc []byte) (string, error) {
	var n struct {
		SenderID string `json:"senderId"`
	}
	if err := json.Unmarshal(doc, &n); err != nil {
		return "", err
	}
	return n.SenderID, nil
}

// checkSender guards writes into another user's mailbox. The caller must name
// itself as senderId in body, when one is given, and may not replace or
// remove a document held by a different sender. It aborts the request and
// returns false when the write is refused.
func (s *Server) checkSender(c *gin.Context, body []byte) bool {
	caller, path := c.GetString(userIDKey), c.GetString(pathKey)
	if relay.Owner(path) == caller {
		return true
	}
	if body != nil {
		sender, err := senderOf(body)
		if err != nil {
			c.String(http.StatusBadRequest, "body must be a JSON object")
			return false
		}
		if sender != caller {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "senderId must match the caller"})
			return false
		}
	}

	existing, err := s.mailbox.Get(c.Request.Context(), path)
	if errors.Is(err, relay.ErrNotFound) {
		return true
	}
	if err != nil {
		s.fail(c, err)
		return false
	}
	if sender, err := senderOf(existing); err != nil || sender != caller {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": path + " belongs to another sender"})
		return false
	}
	return true
}
