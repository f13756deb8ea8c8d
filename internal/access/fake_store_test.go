package access

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/notify"
	"github.com/scmxpert/scmxpertlite/internal/repository"
)

// memStore はテスト用のインメモリストア。ユーザー、申請、返信を保持する。
type memStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	requests map[string]*model.AccessRequest
	replies  []*model.AccessReply
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*model.User{},
		requests: map[string]*model.AccessRequest{},
	}
}

func (s *memStore) userRepo() *memUsers       { return &memUsers{s} }
func (s *memStore) requestRepo() *memRequests { return &memRequests{s} }
func (s *memStore) replyRepo() *memReplies    { return &memReplies{s} }

func (s *memStore) user(username string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[username]
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

type memUsers struct{ s *memStore }

func (r *memUsers) find(match func(*model.User) bool) *model.User {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if match(u) {
			c := *u
			return &c
		}
	}
	return nil
}

func (r *memUsers) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Username == username }), nil
}

func (r *memUsers) FindByUsernameOrEmail(_ context.Context, identifier string) (*model.User, error) {
	return r.find(func(u *model.User) bool {
		return u.Username == identifier || strings.EqualFold(u.Email, identifier)
	}), nil
}

func (r *memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (r *memUsers) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	u := r.find(func(u *model.User) bool { return u.Username == username || strings.EqualFold(u.Email, email) })
	return u != nil, nil
}

func (r *memUsers) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.Username]; ok {
		return repository.ErrDuplicate
	}
	c := *user
	r.s.users[user.Username] = &c
	return nil
}

func (r *memUsers) update(username string, fn func(*model.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[username]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	return nil
}

func (r *memUsers) UpdatePasswordHash(_ context.Context, username, hash string) error {
	return r.update(username, func(u *model.User) { u.PasswordHash = hash })
}

func (r *memUsers) UpdatePasswordHashByEmail(_ context.Context, email, hash string) error {
	u := r.find(func(u *model.User) bool { return strings.EqualFold(u.Email, email) })
	if u == nil {
		return repository.ErrNotFound
	}
	return r.update(u.Username, func(u *model.User) { u.PasswordHash = hash })
}

func (r *memUsers) UpdateRole(_ context.Context, username string, role model.Role) error {
	return r.update(username, func(u *model.User) { u.Role = role })
}

func (r *memUsers) UpdateGoogleProfile(_ context.Context, username, sub, name, picture string) error {
	return r.update(username, func(u *model.User) { u.GoogleSub = sub })
}

func (r *memUsers) List(_ context.Context) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.User
	for _, u := range r.s.users {
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

type memRequests struct{ s *memStore }

func (r *memRequests) Create(_ context.Context, req *model.AccessRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.requests {
		if existing.Username == req.Username && existing.Status == model.RequestStatusPending {
			return repository.ErrDuplicate
		}
	}
	c := *req
	r.s.requests[req.ID] = &c
	return nil
}

func (r *memRequests) FindByID(_ context.Context, id string) (*model.AccessRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, nil
	}
	c := *req
	return &c, nil
}

func (r *memRequests) FindPendingByUsername(_ context.Context, username string) (*model.AccessRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, req := range r.s.requests {
		if req.Username == username && req.Status == model.RequestStatusPending {
			c := *req
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRequests) List(_ context.Context, status model.RequestStatus) ([]*model.AccessRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.AccessRequest
	for _, req := range r.s.requests {
		if status == "" || req.Status == status {
			c := *req
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (r *memRequests) Approve(_ context.Context, requestID, username string, role model.Role, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[requestID]
	if !ok || req.Status != model.RequestStatusPending {
		return repository.ErrNotFound
	}
	u, ok := r.s.users[username]
	if !ok {
		return repository.ErrNotFound
	}
	req.Status = model.RequestStatusApproved
	req.AdminActionAt = &at
	u.Role = role
	return nil
}

func (r *memRequests) Transition(_ context.Context, requestID string, from []model.RequestStatus, to model.RequestStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[requestID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, f := range from {
		if req.Status == f {
			req.Status = to
			req.AdminActionAt = &at
			return nil
		}
	}
	return repository.ErrNotFound
}

type memReplies struct{ s *memStore }

func (r *memReplies) CreateAndResolve(_ context.Context, reply *model.AccessReply) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[reply.RequestID]
	if !ok || req.Status == model.RequestStatusResolved {
		return repository.ErrNotFound
	}
	req.Status = model.RequestStatusResolved
	at := reply.SentAt
	req.AdminActionAt = &at
	c := *reply
	r.s.replies = append(r.s.replies, &c)
	return nil
}

func (r *memReplies) List(_ context.Context) ([]*model.AccessReply, error) {
	return r.filter(func(*model.AccessReply) bool { return true }), nil
}

func (r *memReplies) ListByUsername(_ context.Context, username string) ([]*model.AccessReply, error) {
	return r.filter(func(rep *model.AccessReply) bool { return rep.Username == username }), nil
}

func (r *memReplies) filter(match func(*model.AccessReply) bool) []*model.AccessReply {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.AccessReply
	for i := len(r.s.replies) - 1; i >= 0; i-- {
		if match(r.s.replies[i]) {
			c := *r.s.replies[i]
			out = append(out, &c)
		}
	}
	return out
}

// mockSender は送信内容を記録するSender。errが設定されている場合は失敗する。
type mockSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (m *mockSender) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSender) messages() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.sent...)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*memUsers)(nil)
var _ repository.AccessRequestRepository = (*memRequests)(nil)
var _ repository.ReplyRepository = (*memReplies)(nil)
var _ Notifier = (*notify.Dispatcher)(nil)
