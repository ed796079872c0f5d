package routing

import (
	"context"
	"log/slog"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/presence"
	v1 "parley/shared/contracts/chat/v1"
)

// Synchronizer applies group mutations to the store and then to the rooms of live connections.
//
// The store transaction and the room changes are two separate effects: rooms are adjusted only
// after a successful commit and on a best-effort basis, so a failed join or leave is logged and
// left to converge on the member's next connect.
type Synchronizer struct {
	log  *slog.Logger
	reg  *presence.Registry
	repo *chat.Repository
	tr   Transport
}

func NewSynchronizer(log *slog.Logger, reg *presence.Registry, repo *chat.Repository, tr Transport) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{log: log, reg: reg, repo: repo, tr: tr}
}

// Create inserts the group and its roster and joins every listed member's live connections.
func (s *Synchronizer) Create(ctx context.Context, req v1.GroupRequest) (err error) {
	defer func() { groupMutationsTotal.WithLabelValues("create", resultLabel(err)).Inc() }()

	if err := validateGroup("routing.Create", &req); err != nil {
		return err
	}

	g, members := groupFrom(req)
	stored, err := s.repo.CreateGroup(ctx, g, members)
	if err != nil {
		return err
	}

	names := make([]string, len(stored))
	for i, m := range stored {
		names[i] = m.Username
	}
	joined := s.apply(req.GroupID, names, true)
	s.log.Info("group.create", "group_id", req.GroupID, "members", len(stored), "conns_joined", joined)
	return nil
}

// Delete removes the group's members and then the group. Live connections are not made to
// leave the room; they drop out of it when they disconnect.
func (s *Synchronizer) Delete(ctx context.Context, groupID string) (err error) {
	defer func() { groupMutationsTotal.WithLabelValues("delete", resultLabel(err)).Inc() }()

	if err := v1.Validate(v1.DeleteGroupRequest{GroupID: groupID}); err != nil {
		return chat.OpError{Op: "routing.Delete", Kind: chat.ErrArg, Msg: err.Error()}
	}

	existed, err := s.repo.DeleteGroup(ctx, groupID)
	if err != nil {
		return err
	}
	s.log.Info("group.delete", "group_id", groupID, "existed", existed)
	return nil
}

// Update rewrites the group and reconciles its roster, then joins added members' live
// connections and removes removed members' live connections from the room.
func (s *Synchronizer) Update(ctx context.Context, req v1.GroupRequest) (diff chat.MemberDiff, err error) {
	defer func() { groupMutationsTotal.WithLabelValues("update", resultLabel(err)).Inc() }()

	if err := validateGroup("routing.Update", &req); err != nil {
		return chat.MemberDiff{}, err
	}

	g, members := groupFrom(req)
	diff, err = s.repo.UpdateGroup(ctx, g, members)
	if err != nil {
		return chat.MemberDiff{}, err
	}

	joined := s.apply(req.GroupID, diff.Added, true)
	left := s.apply(req.GroupID, diff.Removed, false)
	s.log.Info("group.update",
		"group_id", req.GroupID,
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"kept", len(diff.Kept),
		"conns_joined", joined,
		"conns_left", left,
	)
	return diff, nil
}

// apply joins or leaves the room for every live connection of usernames and returns how many
// connections changed.
func (s *Synchronizer) apply(room string, usernames []string, join bool) int {
	op, fn := "leave", s.tr.LeaveRoom
	if join {
		op, fn = "join", s.tr.JoinRoom
	}

	n := 0
	for _, u := range usernames {
		unlock := s.reg.LockUser(u)
		for _, c := range liveConnections(s.reg, s.tr, u) {
			if err := fn(c.ID, room); err != nil {
				roomOpFailuresTotal.WithLabelValues(op).Inc()
				s.log.Warn("group.room."+op+".fail", "group_id", room, "username", u, "conn_id", c.ID, "err", err)
				continue
			}
			n++
		}
		unlock()
	}
	return n
}

func validateGroup(op string, req *v1.GroupRequest) error {
	if err := v1.Validate(req); err != nil {
		return chat.OpError{Op: op, Kind: chat.ErrArg, Msg: err.Error()}
	}
	return nil
}

func groupFrom(req v1.GroupRequest) (chat.Group, []chat.Member) {
	g := chat.Group{
		GroupID:     req.GroupID,
		Name:        req.Group.Name,
		MemberCount: req.Group.MemberCount,
		CreatorID:   req.Group.CreatorID,
	}
	members := make([]chat.Member, len(req.Members))
	for i, m := range req.Members {
		members[i] = chat.Member{GroupID: req.GroupID, Username: m.Username, UserID: m.UserID, Nickname: m.Nickname}
	}
	return g, members
}
