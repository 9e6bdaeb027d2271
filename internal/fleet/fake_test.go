package fleet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
	"github.com/edvin/keyfleet/internal/platform"
)

// ---------- fake adapter ----------

type fakeAdapter struct {
	name     string
	addFn    func(panel.ClientSpec) error
	delFn    func(string) error
	extendFn func(string, int) error
	toggleFn func(string, bool) error

	addCalls int32
	delCalls int32
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Authenticate(ctx context.Context) error { return nil }

func (f *fakeAdapter) AddClient(ctx context.Context, spec panel.ClientSpec) error {
	atomic.AddInt32(&f.addCalls, 1)
	if f.addFn != nil {
		return f.addFn(spec)
	}
	return nil
}

func (f *fakeAdapter) DeleteClient(ctx context.Context, uuid string) error {
	atomic.AddInt32(&f.delCalls, 1)
	if f.delFn != nil {
		return f.delFn(uuid)
	}
	return nil
}

func (f *fakeAdapter) FindClientByUUID(ctx context.Context, uuid string) (*panel.Client, error) {
	return nil, panel.ErrNotFound
}

func (f *fakeAdapter) FindClientByEmail(ctx context.Context, email string) (*panel.Client, error) {
	return nil, panel.ErrNotFound
}

func (f *fakeAdapter) ListClients(ctx context.Context) ([]panel.Client, error) { return nil, nil }

func (f *fakeAdapter) ClientLink(ctx context.Context, email, override string) (string, error) {
	return "", panel.ErrNotFound
}

func (f *fakeAdapter) ClientTraffic(ctx context.Context, email string) (*panel.Traffic, error) {
	return nil, panel.ErrNotFound
}

func (f *fakeAdapter) ExtendClient(ctx context.Context, email string, days int) (int64, int64, error) {
	if f.extendFn != nil {
		return 0, 0, f.extendFn(email, days)
	}
	return 0, 0, nil
}

func (f *fakeAdapter) SetClientEnabled(ctx context.Context, email string, enabled bool) error {
	if f.toggleFn != nil {
		return f.toggleFn(email, enabled)
	}
	return nil
}

func (f *fakeAdapter) RestartProcess(ctx context.Context) error { return nil }

func unreachable(server string) error {
	return &panel.Error{Kind: panel.KindUnreachable, Server: server, Op: "add client", Err: errors.New("connection refused")}
}

func rejected(server, reason string) error {
	return &panel.Error{Kind: panel.KindRejected, Server: server, Op: "add client", Reason: reason}
}

// ---------- fake adapter source ----------

type fakeSource struct {
	active []panel.Adapter
	byName map[string]panel.Adapter
}

func newFakeSource(adapters ...*fakeAdapter) *fakeSource {
	s := &fakeSource{byName: make(map[string]panel.Adapter)}
	for _, a := range adapters {
		s.active = append(s.active, a)
		s.byName[a.name] = a
	}
	return s
}

func (s *fakeSource) ActiveAdapters() []panel.Adapter { return s.active }

func (s *fakeSource) Adapter(name string) (panel.Adapter, error) {
	a, ok := s.byName[name]
	if !ok {
		return nil, errors.New("unknown server " + name)
	}
	return a, nil
}

// ---------- fake store ----------

type committedCreate struct {
	client  model.Client
	servers []string
	actor   string
}

type raisedAlert struct {
	kind       string
	clientUUID string
	serverName string
}

type fakeStore struct {
	mu sync.Mutex

	clients       map[string]*model.Client
	activeServers map[string][]string

	creates          []committedCreate
	deletes          []string
	membershipStatus map[string]string
	statusUpdates    map[string]string
	expiryUpdates    map[string]*time.Time
	events           []model.LifecycleEvent
	enqueued         []model.PendingOperation
	alerts           []raisedAlert

	enqueueErr      error
	commitCreateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients:          make(map[string]*model.Client),
		activeServers:    make(map[string][]string),
		membershipStatus: make(map[string]string),
		statusUpdates:    make(map[string]string),
		expiryUpdates:    make(map[string]*time.Time),
	}
}

func (s *fakeStore) CommitCreate(ctx context.Context, client *model.Client, servers []string, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitCreateErr != nil {
		return s.commitCreateErr
	}
	s.creates = append(s.creates, committedCreate{client: *client, servers: servers, actor: actor})
	s.clients[client.UUID] = client
	s.activeServers[client.UUID] = servers
	return nil
}

func (s *fakeStore) CommitDelete(ctx context.Context, clientUUID, actor, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, clientUUID)
	return nil
}

func (s *fakeStore) GetClient(ctx context.Context, uuid string) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[uuid]
	if !ok {
		return nil, errors.New("client " + uuid + " not found")
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) GetClientByEmail(ctx context.Context, email string) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ActiveServersFor(ctx context.Context, clientUUID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeServers[clientUUID], nil
}

func (s *fakeStore) SetMembershipStatus(ctx context.Context, clientUUID, serverName, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.membershipStatus[clientUUID+"/"+serverName] = status
	return nil
}

func (s *fakeStore) UpdateClientStatus(ctx context.Context, uuid, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusUpdates[uuid] = status
	return nil
}

func (s *fakeStore) UpdateClientExpiry(ctx context.Context, uuid string, expireAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiryUpdates[uuid] = expireAt
	return nil
}

func (s *fakeStore) RecordEvent(ctx context.Context, e *model.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *fakeStore) EnqueueOperation(ctx context.Context, op *model.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	if op.ID == "" {
		op.ID = platform.NewID()
	}
	if op.Status == "" {
		op.Status = model.OperationQueued
	}
	s.enqueued = append(s.enqueued, *op)
	return nil
}

func (s *fakeStore) RaiseAlert(ctx context.Context, kind, clientUUID, serverName string, detail any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, raisedAlert{kind: kind, clientUUID: clientUUID, serverName: serverName})
	return nil
}
