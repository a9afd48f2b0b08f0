package relayserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"

	"github.com/Harry0M/oikos-sub001/internal/relay"
)

// Keys stored on each melody session.
const (
	sessionSubtreeKey = "subtree"
	sessionUserKey    = "user_id"
	sessionFeedKey    = "feed"
)

func (s *Server) newFeeds() *melody.Melody {
	m := melody.New()
	m.Config.MaxMessageSize = maxDocumentSize
	m.Config.MessageBufferSize = 1024
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	m.HandleConnect(s.startFeed)
	m.HandleDisconnect(func(ms *melody.Session) {
		if sub, _ := ms.MustGet(sessionFeedKey).(*relay.Subscription); sub != nil {
			sub.Close()
		}
		subtree, _ := ms.Get(sessionSubtreeKey)
		s.logger.Debug("Feed disconnected", "subtree", subtree)
	})
	m.HandleError(func(ms *melody.Session, err error) {
		subtree, _ := ms.Get(sessionSubtreeKey)
		s.logger.Warn("Feed error", "subtree", subtree, "error", err)
		// A dropped event can only be recovered by a fresh replay, so the
		// session is closed and the client resubscribes.
		ms.Close()
	})
	return m
}

// watch upgrades the request and streams the subtree's events as JSON
// text messages.
func (s *Server) watch(c *gin.Context) {
	keys := map[string]any{
		sessionSubtreeKey: c.GetString(pathKey),
		sessionUserKey:    c.GetString(userIDKey),
		sessionFeedKey:    (*relay.Subscription)(nil),
	}
	if err := s.feeds.HandleRequestWithKeys(c.Writer, c.Request, keys); err != nil {
		s.logger.Warn("Failed to upgrade websocket", "error", err)
	}
}

// startFeed subscribes to the mailbox on behalf of one websocket session.
func (s *Server) startFeed(ms *melody.Session) {
	subtree := ms.MustGet(sessionSubtreeKey).(string)
	sub, err := s.mailbox.Subscribe(context.Background(), subtree)
	if err != nil {
		s.logger.Error("Failed to subscribe", "subtree", subtree, "error", err)
		ms.CloseWithMsg(melody.FormatCloseMessage(1011, "subscribe failed"))
		return
	}
	ms.Set(sessionFeedKey, sub)
	s.logger.Debug("Feed connected", "subtree", subtree, "user_id", ms.MustGet(sessionUserKey))

	go func() {
		for ev := range sub.Events() {
			msg, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("Failed to encode event", "path", ev.Path, "error", err)
				continue
			}
			if err := ms.Write(msg); err != nil {
				sub.Close()
				return
			}
		}
		if err := sub.Err(); err != nil {
			s.logger.Warn("Mailbox feed ended", "subtree", subtree, "error", err)
			ms.CloseWithMsg(melody.FormatCloseMessage(1011, "feed ended"))
			return
		}
		ms.Close()
	}()
}
