package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/cipher"
	"direct-messenger/internal/config"
	"direct-messenger/internal/models"
	"direct-messenger/internal/repository"
)

type fakeUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
	edges  *fakeFriends
}

func newFakeUsers(edges *fakeFriends) *fakeUsers {
	return &fakeUsers{users: make(map[int64]*models.User), edges: edges}
}

func (f *fakeUsers) add(username string, lastActivity time.Time) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u := &models.User{ID: f.nextID, Username: username, Nickname: username, LastActivity: lastActivity, CreatedAt: lastActivity}
	f.users[u.ID] = u
	if f.edges != nil {
		f.edges.addSelf(u.ID)
	}
	return u
}

func (f *fakeUsers) CreateWithSelfEdge(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username || u.Nickname == user.Nickname {
			return fmt.Errorf("taken: %w", apperrors.ErrConflict)
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.CreatedAt = time.Now()
	user.LastActivity = user.CreatedAt
	cp := *user
	f.users[user.ID] = &cp
	if f.edges != nil {
		f.edges.addSelf(user.ID)
	}
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, apperrors.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, apperrors.ErrNotFound)
}

func (f *fakeUsers) FindByHandle(_ context.Context, handle string) (*models.User, error) {
	handle = repository.NormalizeHandle(handle)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == handle {
			cp := *u
			return &cp, nil
		}
	}
	for _, u := range f.users {
		if u.Nickname == handle {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", handle, apperrors.ErrNotFound)
}

func (f *fakeUsers) Search(_ context.Context, viewerID int64, q string, limit int) ([]*models.User, error) {
	return []*models.User{}, nil
}

func (f *fakeUsers) TouchActivity(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.LastActivity = at
	}
	return nil
}

func (f *fakeUsers) UpdatePushToken(_ context.Context, userID int64, token *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperrors.ErrNotFound
	}
	u.PushToken = token
	return nil
}

// fakeFriends keeps one edge per unordered pair, like the friend_edges table
type fakeFriends struct {
	mu     sync.Mutex
	nextID int64
	edges  map[[2]int64]*models.FriendEdge
	users  *fakeUsers
}

func newFakeFriends() *fakeFriends {
	return &fakeFriends{edges: make(map[[2]int64]*models.FriendEdge)}
}

func pairKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

func (f *fakeFriends) addSelf(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	now := time.Now()
	f.edges[pairKey(id, id)] = &models.FriendEdge{
		ID: f.nextID, UserID: id, FriendID: id, Status: models.FriendStatusAccepted,
		IsSelf: true, RequestedAt: now, AcceptedAt: &now,
	}
}

func (f *fakeFriends) CreateRequest(_ context.Context, requesterID, recipientID int64) (*models.FriendEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(requesterID, recipientID)
	if existing, ok := f.edges[key]; ok {
		if err := existing.CheckSupersede(); err != nil {
			return nil, err
		}
		delete(f.edges, key)
	}
	f.nextID++
	edge := &models.FriendEdge{
		ID: f.nextID, UserID: requesterID, FriendID: recipientID,
		Status: models.FriendStatusPending, RequestedAt: time.Now().Add(time.Duration(f.nextID) * time.Millisecond),
	}
	f.edges[key] = edge
	cp := *edge
	return &cp, nil
}

func (f *fakeFriends) byID(id int64) *models.FriendEdge {
	for _, e := range f.edges {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (f *fakeFriends) Respond(_ context.Context, edgeID, responderID int64, status models.FriendStatus) (*models.FriendEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.byID(edgeID)
	switch {
	case e == nil:
		return nil, apperrors.ErrNotFound
	case e.FriendID != responderID:
		return nil, apperrors.ErrUnauthorized
	case e.Status != models.FriendStatusPending || e.IsSelf:
		return nil, apperrors.ErrNotFound
	}
	e.Status = status
	if status == models.FriendStatusAccepted {
		now := time.Now()
		e.AcceptedAt = &now
	}
	cp := *e
	return &cp, nil
}

func (f *fakeFriends) DeletePair(_ context.Context, a, b int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(a, b)
	if e, ok := f.edges[key]; ok && !e.IsSelf {
		delete(f.edges, key)
		return 1, nil
	}
	return 0, nil
}

func (f *fakeFriends) ListForUser(ctx context.Context, userID int64, status models.FriendStatus) ([]*repository.FriendRow, error) {
	f.mu.Lock()
	var edges []models.FriendEdge
	for _, e := range f.edges {
		if (e.UserID == userID || e.FriendID == userID) && e.Status == status {
			edges = append(edges, *e)
		}
	}
	f.mu.Unlock()

	var rows []*repository.FriendRow
	for _, e := range edges {
		friend, err := f.users.GetByID(ctx, e.Counterpart(userID))
		if err != nil {
			return nil, err
		}
		rows = append(rows, &repository.FriendRow{Edge: e, Friend: *friend})
	}
	return rows, nil
}

func (f *fakeFriends) ListIncoming(ctx context.Context, userID int64) ([]*models.IncomingRequest, error) {
	f.mu.Lock()
	var edges []models.FriendEdge
	for _, e := range f.edges {
		if e.FriendID == userID && e.Status == models.FriendStatusPending && !e.IsSelf {
			edges = append(edges, *e)
		}
	}
	f.mu.Unlock()

	sort.Slice(edges, func(i, j int) bool { return edges[i].RequestedAt.After(edges[j].RequestedAt) })
	reqs := []*models.IncomingRequest{}
	for _, e := range edges {
		u, err := f.users.GetByID(ctx, e.UserID)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, &models.IncomingRequest{
			ID: e.ID, UserID: e.UserID, Username: u.Username, Nickname: u.Nickname,
			Status: e.Status, RequestedAt: e.RequestedAt,
		})
	}
	return reqs, nil
}

func (f *fakeFriends) AreFriends(_ context.Context, a, b int64) (bool, error) {
	if a == b {
		return true, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.edges[pairKey(a, b)]
	return ok && e.Status == models.FriendStatusAccepted, nil
}

// fakeMessages stores rows the way the messages table does
type fakeMessages struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.Message
	clock  time.Time
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{clock: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeMessages) Create(_ context.Context, msg *models.Message) error {
	if msg.Kind.NeedsAttachment() != (msg.AttachmentRef != nil) {
		return fmt.Errorf("attachment_ref does not match kind %s", msg.Kind)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.clock = f.clock.Add(time.Minute)
	msg.ID = f.nextID
	msg.CreatedAt = f.clock
	cp := *msg
	cp.Ciphertext = append([]byte(nil), msg.Ciphertext...)
	f.rows = append(f.rows, &cp)
	return nil
}

func inPair(m *models.Message, a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

func (f *fakeMessages) Between(_ context.Context, a, b, sinceID int64) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Message{}
	for _, m := range f.rows {
		if inPair(m, a, b) && m.ID > sinceID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeMessages) Last(ctx context.Context, a, b int64) (*models.Message, error) {
	all, _ := f.Between(ctx, a, b, 0)
	if len(all) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return all[len(all)-1], nil
}

func (f *fakeMessages) MaxID(ctx context.Context, a, b int64) (int64, error) {
	all, _ := f.Between(ctx, a, b, 0)
	var max int64
	for _, m := range all {
		if m.ID > max {
			max = m.ID
		}
	}
	return max, nil
}

func (f *fakeMessages) MarkRead(_ context.Context, readerID, senderID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.rows {
		if m.ReceiverID == readerID && m.SenderID == senderID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (f *fakeMessages) UnreadCount(_ context.Context, readerID, senderID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.rows {
		if m.ReceiverID == readerID && m.SenderID == senderID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (f *fakeMessages) DeleteOwned(_ context.Context, id, senderID int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.rows {
		if m.ID != id {
			continue
		}
		if m.SenderID != senderID {
			return nil, apperrors.ErrForbidden
		}
		f.rows = append(f.rows[:i], f.rows[i+1:]...)
		return m, nil
	}
	return nil, apperrors.ErrNotFound
}

// corrupt overwrites the stored ciphertext of a message
func (f *fakeMessages) corrupt(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.rows {
		if m.ID == id {
			m.Ciphertext = []byte("garbage")
		}
	}
}

type published struct {
	key   RoomKey
	event Event
}

type fakePublisher struct {
	mu        sync.Mutex
	events    []published
	delivered int
}

func (p *fakePublisher) Publish(key RoomKey, ev Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{key: key, event: ev})
	return p.delivered
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	calls     []int64
	deadlines []bool
}

func (n *fakeNotifier) NotifyMessage(ctx context.Context, sender, receiver *models.User, msg *models.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	n.calls = append(n.calls, receiver.ID)
	n.deadlines = append(n.deadlines, hasDeadline)
	return nil
}

func (n *fakeNotifier) allBounded() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ok := range n.deadlines {
		if !ok {
			return false
		}
	}
	return len(n.deadlines) > 0
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func newTestKeyring(t *testing.T) *cipher.Keyring {
	t.Helper()
	key, err := cipher.GenerateKey()
	require.NoError(t, err)
	kr, err := cipher.NewKeyring(1, key, nil)
	require.NoError(t, err)
	return kr
}

var testStickers = []*models.Sticker{
	{ID: 10, Name: "Done", Category: "actions", Emoji: "✅", AssetRef: "emoji:ok"},
	{ID: 1, Name: "Like", Category: "reactions", Emoji: "👍", AssetRef: "emoji:like"},
}

// env wires every service on in-memory stores
type env struct {
	users     *fakeUsers
	friends   *fakeFriends
	messages  *fakeMessages
	publisher *fakePublisher
	presence  *PresenceTracker
	msgSvc    *MessageService
	friendSvc *FriendService
	syncSvc   *SyncService
	keyring   *cipher.Keyring
	now       time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	friends := newFakeFriends()
	users := newFakeUsers(friends)
	friends.users = users

	e := &env{
		users:     users,
		friends:   friends,
		messages:  newFakeMessages(),
		publisher: &fakePublisher{},
		keyring:   newTestKeyring(t),
		now:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	e.presence = NewPresenceTracker(users, config.PresenceConfig{
		OnlineThreshold: 5 * time.Minute,
		RecentThreshold: time.Hour,
	})
	e.presence.now = func() time.Time { return e.now }

	e.msgSvc = NewMessageService(e.messages, users, NewFriendPolicy(friends), e.keyring,
		NewStickerCatalog(testStickers), e.publisher, nil)
	e.friendSvc = NewFriendService(friends, users, e.presence, e.msgSvc)
	e.syncSvc = NewSyncService(e.msgSvc, e.presence)
	return e
}

func (e *env) befriend(t *testing.T, a, b *models.User) {
	t.Helper()
	edge, err := e.friendSvc.Request(context.Background(), a.ID, b.Username)
	require.NoError(t, err)
	_, err = e.friendSvc.Respond(context.Background(), edge.ID, b.ID, models.FriendActionAccept)
	require.NoError(t, err)
}

func (e *env) sendText(t *testing.T, from, to *models.User, text string) *models.Message {
	t.Helper()
	msg, err := e.msgSvc.Send(context.Background(), SendInput{SenderID: from.ID, ReceiverID: to.ID, Kind: models.KindText, Payload: text})
	require.NoError(t, err)
	return msg
}
