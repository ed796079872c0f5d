// Package adminapi is the administrative HTTP surface: group mutations, catch-up queries and
// presence diagnostics. Every route answers HTTP 200 with a {code, msg|data} reply body.
package adminapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/presence"
	v1 "parley/shared/contracts/chat/v1"

	"github.com/gin-gonic/gin"
)

// Groups is the group membership synchronizer as seen by the admin routes.
type Groups interface {
	Create(ctx context.Context, req v1.GroupRequest) error
	Delete(ctx context.Context, groupID string) error
	Update(ctx context.Context, req v1.GroupRequest) (chat.MemberDiff, error)
}

// History serves resume queries.
type History interface {
	Messages(ctx context.Context, username string, lastID int64) ([]v1.MessagePayload, error)
	Notifications(ctx context.Context, username string, lastID int64) ([]v1.NotificationPayload, error)
}

// Presence reports live connections.
type Presence interface {
	Snapshot(username string) presence.Snapshot
}

// Handler serves the admin routes.
type Handler struct {
	log      *slog.Logger
	groups   Groups
	history  History
	presence Presence
}

func NewHandler(log *slog.Logger, groups Groups, history History, p Presence) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, groups: groups, history: history, presence: p}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/chatroom/create", h.CreateGroup)
	r.POST("/chatroom/delete", h.DeleteGroup)
	r.POST("/chatroom/update", h.UpdateGroup)
	r.GET("/chatroom/queryNotification", h.QueryNotifications)
	r.GET("/chatroom/queryChatMessageList", h.QueryMessages)
	r.GET("/server/userInfo", h.PresenceSnapshot)
}

type updateResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

func (h *Handler) CreateGroup(c *gin.Context) {
	var req v1.GroupRequest
	if !h.bind(c, "adminapi.CreateGroup", &req) {
		return
	}
	err := h.groups.Create(c.Request.Context(), req)
	h.reply(c, "group.create", nil, err)
}

func (h *Handler) DeleteGroup(c *gin.Context) {
	var req v1.DeleteGroupRequest
	if !h.bind(c, "adminapi.DeleteGroup", &req) {
		return
	}
	err := h.groups.Delete(c.Request.Context(), req.GroupID)
	h.reply(c, "group.delete", nil, err)
}

func (h *Handler) UpdateGroup(c *gin.Context) {
	var req v1.GroupRequest
	if !h.bind(c, "adminapi.UpdateGroup", &req) {
		return
	}
	diff, err := h.groups.Update(c.Request.Context(), req)
	if err != nil {
		h.reply(c, "group.update", nil, err)
		return
	}
	h.reply(c, "group.update", updateResult{Added: nonNil(diff.Added), Removed: nonNil(diff.Removed)}, nil)
}

func (h *Handler) QueryNotifications(c *gin.Context) {
	username, lastID, ok := h.catchUpParams(c, "adminapi.QueryNotifications")
	if !ok {
		return
	}
	rows, err := h.history.Notifications(c.Request.Context(), username, lastID)
	if err != nil {
		h.reply(c, "catchup.notifications", nil, err)
		return
	}
	h.reply(c, "catchup.notifications", rows, nil)
}

func (h *Handler) QueryMessages(c *gin.Context) {
	username, lastID, ok := h.catchUpParams(c, "adminapi.QueryMessages")
	if !ok {
		return
	}
	rows, err := h.history.Messages(c.Request.Context(), username, lastID)
	if err != nil {
		h.reply(c, "catchup.messages", nil, err)
		return
	}
	h.reply(c, "catchup.messages", rows, nil)
}

// PresenceSnapshot lists live users, or one user when ?username is set.
func (h *Handler) PresenceSnapshot(c *gin.Context) {
	snap := h.presence.Snapshot(strings.TrimSpace(c.Query("username")))

	out := v1.PresenceSnapshot{Size: snap.Size, Users: make([]v1.PresenceUser, 0, len(snap.Users))}
	for _, u := range snap.Users {
		out.Users = append(out.Users, v1.PresenceUser{Username: u.Username, Connections: u.Connections})
	}
	c.JSON(http.StatusOK, v1.OK(out))
}

func (h *Handler) bind(c *gin.Context, op string, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.reply(c, op, nil, chat.OpError{Op: op, Kind: chat.ErrParse, Msg: "invalid json body", Err: err})
		return false
	}
	return true
}

func (h *Handler) catchUpParams(c *gin.Context, op string) (string, int64, bool) {
	username := strings.TrimSpace(c.Query("username"))

	var lastID int64
	if raw := strings.TrimSpace(c.Query("lastId")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.reply(c, op, nil, chat.OpError{Op: op, Kind: chat.ErrArg, Msg: "lastId must be an integer"})
			return "", 0, false
		}
		lastID = n
	}
	return username, lastID, true
}

func (h *Handler) reply(c *gin.Context, event string, data any, err error) {
	if err != nil {
		r := chat.ReplyFor(err)
		h.log.Info("admin."+event+".fail", "code", r.Code, "err", err)
		c.JSON(http.StatusOK, r)
		return
	}
	c.JSON(http.StatusOK, v1.OK(data))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
