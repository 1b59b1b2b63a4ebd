package fakeserver

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
)

type credentialsRequest struct {
	Username   string `json:"username"`
	Devicename string `json:"devicename"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Group      string `json:"group"`
}

// handleAuthenticate serves POST /authenticate_{user,device}. A missing or
// unknown name is a validation failure (422); a wrong password is 401.
func (s *Server) handleAuthenticate(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeBody(r, &req); err != nil {
			sendError(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}

		s.store.mu.Lock()
		defer s.store.mu.Unlock()

		var principal *account
		switch {
		case kind == "user" && req.Email != "":
			principal = s.store.emails[req.Email]
		case kind == "user":
			if req.Username == "" {
				sendError(w, http.StatusUnprocessableEntity, "username required")
				return
			}
			principal = s.store.users[req.Username]
		default:
			if req.Devicename == "" {
				sendError(w, http.StatusUnprocessableEntity, "devicename required")
				return
			}
			principal = s.store.devices[req.Devicename]
		}

		if principal == nil {
			sendError(w, http.StatusUnprocessableEntity, "no such "+kind)
			return
		}
		if !checkPassword(principal.passwordHash, req.Password) {
			sendError(w, http.StatusUnauthorized, "wrong password")
			return
		}
		sendJSON(w, http.StatusOK, map[string]any{
			"token": s.mintSession(principal, kind),
			"id":    principal.id,
		})
	}
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil || req.Username == "" || req.Password == "" {
		sendError(w, http.StatusUnprocessableEntity, "username and password required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, taken := s.store.users[req.Username]; taken {
		sendError(w, http.StatusUnprocessableEntity, "username in use")
		return
	}
	if req.Email != "" {
		if _, taken := s.store.emails[req.Email]; taken {
			sendError(w, http.StatusUnprocessableEntity, "email in use")
			return
		}
	}

	user := &account{
		id:           s.store.newID(),
		name:         req.Username,
		email:        req.Email,
		passwordHash: hashPassword(req.Password),
		// The first user registered administers the whole service.
		super: len(s.store.users) == 0,
	}
	s.store.users[req.Username] = user
	if req.Email != "" {
		s.store.emails[req.Email] = user
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"token": s.mintSession(user, "user"),
		"id":    user.id,
	})
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil || req.Devicename == "" || req.Password == "" {
		sendError(w, http.StatusUnprocessableEntity, "devicename and password required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, taken := s.store.devices[req.Devicename]; taken {
		sendError(w, http.StatusUnprocessableEntity, "devicename in use")
		return
	}
	g, ok := s.store.groups[req.Group]
	if !ok {
		sendError(w, http.StatusUnprocessableEntity, "no such group")
		return
	}

	device := &account{
		id:           s.store.newID(),
		name:         req.Devicename,
		passwordHash: hashPassword(req.Password),
		groupID:      g.id,
	}
	s.store.devices[req.Devicename] = device
	sendJSON(w, http.StatusOK, map[string]any{
		"token": s.mintSession(device, "device"),
		"id":    device.id,
	})
}

// handleReregisterDevice issues an authenticated device a fresh identity in
// a possibly different group. The old device record stays behind so its
// recording history keeps an owner.
func (s *Server) handleReregisterDevice(w http.ResponseWriter, r *http.Request) {
	device := s.authDevice(w, r)
	if device == nil {
		return
	}
	var req struct {
		NewName     string `json:"newName"`
		NewGroup    string `json:"newGroup"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &req); err != nil || req.NewName == "" || req.NewGroup == "" || req.NewPassword == "" {
		sendError(w, http.StatusUnprocessableEntity, "newName, newGroup and newPassword required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, taken := s.store.devices[req.NewName]; taken && req.NewName != device.name {
		sendError(w, http.StatusUnprocessableEntity, "devicename in use")
		return
	}
	g, ok := s.store.groups[req.NewGroup]
	if !ok {
		sendError(w, http.StatusUnprocessableEntity, "no such group")
		return
	}

	fresh := &account{
		id:           s.store.newID(),
		name:         req.NewName,
		passwordHash: hashPassword(req.NewPassword),
		groupID:      g.id,
	}
	s.store.devices[req.NewName] = fresh
	sendJSON(w, http.StatusOK, map[string]any{
		"token": s.mintSession(fresh, "device"),
		"id":    fresh.id,
	})
}

func (s *Server) handleUserDetails(w http.ResponseWriter, r *http.Request) {
	if s.authUser(w, r) == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	user, ok := s.store.users[mux.Vars(r)["name"]]
	if !ok {
		sendError(w, http.StatusUnprocessableEntity, "no such user")
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"userData": map[string]any{
			"id":       user.id,
			"username": user.name,
			"email":    user.email,
		},
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	rows := []map[string]any{}
	for _, device := range s.store.devices {
		if user.super || s.memberOfGroupID(user, device.groupID) {
			rows = append(rows, map[string]any{"id": device.id, "devicename": device.name})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i]["id"].(int) < rows[j]["id"].(int) })
	sendJSON(w, http.StatusOK, map[string]any{"devices": map[string]any{"rows": rows}})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	var req struct {
		Groupname string `json:"groupname"`
	}
	if err := decodeBody(r, &req); err != nil || req.Groupname == "" {
		sendError(w, http.StatusUnprocessableEntity, "groupname required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, taken := s.store.groups[req.Groupname]; taken {
		sendError(w, http.StatusUnprocessableEntity, "group name in use")
		return
	}
	g := &group{
		id:      s.store.newID(),
		name:    req.Groupname,
		members: map[int]bool{user.id: true},
	}
	s.store.groups[req.Groupname] = g
	sendJSON(w, http.StatusOK, map[string]any{"groupId": g.id})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	groups := []map[string]any{}
	for _, g := range s.store.groups {
		if user.super || g.hasMember(user.id) {
			groups = append(groups, map[string]any{"id": g.id, "groupname": g.name})
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i]["id"].(int) < groups[j]["id"].(int) })
	sendJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) handleListGroupUsers(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	g, ok := s.store.groups[mux.Vars(r)["group"]]
	if !ok {
		sendError(w, http.StatusUnprocessableEntity, "no such group")
		return
	}
	if !user.super && !g.hasMember(user.id) {
		sendError(w, http.StatusForbidden, "not a member of group")
		return
	}

	users := []map[string]any{}
	for _, u := range s.store.users {
		if g.hasMember(u.id) {
			users = append(users, map[string]any{
				"id":           u.id,
				"username":     u.name,
				"isGroupAdmin": g.isAdmin(u.id),
			})
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i]["id"].(int) < users[j]["id"].(int) })
	sendJSON(w, http.StatusOK, map[string]any{"users": users})
}

// changeGroupUsers resolves the group and target user named in a membership
// change, checks the caller administers that group, and applies the change
// under the store lock. Only group admins and superusers manage membership.
func (s *Server) changeGroupUsers(w http.ResponseWriter, r *http.Request, apply func(g *group, target *account, admin bool) error) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}
	var req struct {
		Group    string `json:"group"`
		Username string `json:"username"`
		Admin    bool   `json:"admin"`
	}
	if err := decodeBody(r, &req); err != nil || req.Group == "" || req.Username == "" {
		sendError(w, http.StatusUnprocessableEntity, "group and username required")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	g, ok := s.store.groups[req.Group]
	if !ok {
		sendError(w, http.StatusUnprocessableEntity, "no such group")
		return
	}
	target, ok := s.store.users[req.Username]
	if !ok {
		sendError(w, http.StatusUnprocessableEntity, "no such user")
		return
	}
	if !user.super && !g.isAdmin(user.id) {
		sendError(w, http.StatusForbidden, "not a group admin")
		return
	}
	if err := apply(g, target, req.Admin); err != nil {
		sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"messages": []string{"updated group users"}})
}

func (s *Server) handleAddGroupUser(w http.ResponseWriter, r *http.Request) {
	s.changeGroupUsers(w, r, func(g *group, target *account, admin bool) error {
		// Re-adding an existing member just updates the admin flag.
		g.members[target.id] = admin
		return nil
	})
}

func (s *Server) handleRemoveGroupUser(w http.ResponseWriter, r *http.Request) {
	s.changeGroupUsers(w, r, func(g *group, target *account, _ bool) error {
		if !g.hasMember(target.id) {
			return fmt.Errorf("user not in group")
		}
		delete(g.members, target.id)
		return nil
	})
}

// memberOfGroupID reports whether user belongs to the group with the given
// id. Callers must hold the store lock.
func (s *Server) memberOfGroupID(user *account, groupID int) bool {
	for _, g := range s.store.groups {
		if g.id == groupID && g.hasMember(user.id) {
			return true
		}
	}
	return false
}
