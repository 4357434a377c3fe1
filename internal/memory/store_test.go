package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/repository"
)

func newUser(t *testing.T, s *Store, name string) domain.UserID {
	t.Helper()
	u, err := domain.NewUser(name, name+"@example.org", "hash", time.Now())
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	id, err := s.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func newGroup(t *testing.T, s *Store, name string, creator domain.UserID) domain.GroupID {
	t.Helper()
	g, err := domain.NewGroup(name, "", "", time.Now())
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	id, err := s.CreateGroup(context.Background(), g, creator)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return id
}

func TestCreateUser_ConflictOnUsernameAndEmail(t *testing.T) {
	s := New(nil)
	newUser(t, s, "alice")

	u, _ := domain.NewUser("ALICE", "other@example.org", "h", time.Now())
	if _, err := s.CreateUser(context.Background(), u); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on username, got %v", err)
	}
	u, _ = domain.NewUser("bob", "alice@example.org", "h", time.Now())
	if _, err := s.CreateUser(context.Background(), u); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on email, got %v", err)
	}
}

func TestMembership_IsBidirectional(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	alice := newUser(t, s, "alice")
	bob := newUser(t, s, "bob")
	gid := newGroup(t, s, "Garden", alice)

	g, err := s.AddMember(ctx, gid, bob)
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if !g.HasMember(alice) || !g.HasMember(bob) {
		t.Fatalf("group members = %v", g.Members)
	}
	u, _ := s.GetUser(ctx, bob)
	if !u.InGroup(gid) {
		t.Fatalf("user groups = %v", u.Groups)
	}
	if err := s.CheckConsistency(); err != nil {
		t.Fatalf("consistency: %v", err)
	}

	if _, err := s.AddMember(ctx, gid, bob); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second join: expected conflict, got %v", err)
	}

	if err := s.RemoveMember(ctx, gid, bob); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ok, _ := s.IsMember(ctx, bob, gid)
	if ok {
		t.Fatal("bob must not be a member after leave")
	}
	u, _ = s.GetUser(ctx, bob)
	if u.InGroup(gid) {
		t.Fatal("user side still references group")
	}
	if err := s.CheckConsistency(); err != nil {
		t.Fatalf("consistency: %v", err)
	}
}

func TestDeleteUser_RemovesMemberships(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	alice := newUser(t, s, "alice")
	gid := newGroup(t, s, "Garden", alice)

	if err := s.DeleteUser(ctx, alice); err != nil {
		t.Fatalf("delete: %v", err)
	}
	g, _ := s.GetGroup(ctx, gid)
	if len(g.Members) != 0 {
		t.Fatalf("members after delete = %v", g.Members)
	}
	if _, err := s.GetUser(ctx, alice); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAppendMessage_MonotonicTimestamps(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	s := New(func() time.Time { ts := clock[i%len(clock)]; i++; return ts })

	alice := newUser(t, s, "alice")
	gid := newGroup(t, s, "Garden", alice)

	var msgs []*domain.Message
	for _, text := range []string{"one", "two", "three"} {
		m, err := s.AppendMessage(ctx, gid, alice, "alice", text)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		msgs = append(msgs, m)
	}
	if !msgs[1].CreatedAt.Equal(msgs[0].CreatedAt) {
		t.Fatalf("clock went back, timestamp must be clamped: %v vs %v", msgs[1].CreatedAt, msgs[0].CreatedAt)
	}
	for j := 1; j < len(msgs); j++ {
		if !msgs[j-1].Before(*msgs[j]) {
			t.Fatalf("message %d not after %d", msgs[j].ID, msgs[j-1].ID)
		}
	}
}

func TestRecentMessages_LimitAndCursor(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	alice := newUser(t, s, "alice")
	gid := newGroup(t, s, "Garden", alice)
	other := newGroup(t, s, "Other", alice)

	for i := 0; i < 5; i++ {
		if _, err := s.AppendMessage(ctx, gid, alice, "alice", "m"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.AppendMessage(ctx, other, alice, "alice", "elsewhere"); err != nil {
		t.Fatal(err)
	}

	page, err := s.RecentMessages(ctx, gid, nil, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(page) != 3 || page[0].ID != 3 || page[2].ID != 5 {
		t.Fatalf("first page = %+v", ids(page))
	}

	cur := repository.CursorOf(page[0])
	page, err = s.RecentMessages(ctx, gid, &cur, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(page) != 2 || page[0].ID != 1 || page[1].ID != 2 {
		t.Fatalf("second page = %+v", ids(page))
	}

	empty, err := s.RecentMessages(ctx, other, nil, 0)
	if err != nil || len(empty) != 0 {
		t.Fatalf("zero limit: %v %v", empty, err)
	}
	if _, err := s.RecentMessages(ctx, 99, nil, 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown group: %v", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	alice := newUser(t, s, "alice")
	gid := newGroup(t, s, "Garden", alice)
	m, _ := s.AppendMessage(ctx, gid, alice, "alice", "oops")

	if err := s.DeleteMessage(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteMessage(ctx, m.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	all, _ := s.ListMessages(ctx, 0)
	if len(all) != 0 {
		t.Fatalf("messages left: %v", ids(all))
	}
}

func TestReset_ClearsEverythingAndRestartsIDs(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	alice := newUser(t, s, "alice")
	gid := newGroup(t, s, "Garden", alice)
	if _, err := s.AppendMessage(ctx, gid, alice, "alice", "hi"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateActivity(ctx, newActivity(t, alice, "Shelter")); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	users, _ := s.ListUsers(ctx)
	groups, _ := s.ListGroups(ctx)
	msgs, _ := s.ListMessages(ctx, 0)
	acts, _ := s.ListActivities(ctx, 0)
	if len(users)+len(groups)+len(msgs)+len(acts) != 0 {
		t.Fatalf("store not empty: %d users %d groups %d messages %d activities", len(users), len(groups), len(msgs), len(acts))
	}
	if id := newUser(t, s, "carol"); id != 1 {
		t.Fatalf("user id after reset = %d, want 1", id)
	}
}

func TestConcurrentJoinLeave_KeepsInvariant(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	owner := newUser(t, s, "owner")
	gid := newGroup(t, s, "Garden", owner)

	users := make([]domain.UserID, 20)
	for i := range users {
		users[i] = newUser(t, s, "u"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	for _, uid := range users {
		wg.Add(1)
		go func(uid domain.UserID) {
			defer wg.Done()
			for k := 0; k < 10; k++ {
				_, _ = s.AddMember(ctx, gid, uid)
				_ = s.RemoveMember(ctx, gid, uid)
			}
		}(uid)
	}
	wg.Wait()

	if err := s.CheckConsistency(); err != nil {
		t.Fatalf("consistency: %v", err)
	}
}

func ids(ms []domain.Message) []domain.MessageID {
	out := make([]domain.MessageID, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func newActivity(t *testing.T, uid domain.UserID, typ string) *domain.Activity {
	t.Helper()
	a, err := domain.NewActivity(uid, "Garden", typ, "soup at noon", domain.Contact{Email: "a@example.org"},
		domain.Location{Lat: 40.75, Lng: -73.99, Zipcode: "10001"})
	if err != nil {
		t.Fatalf("new activity: %v", err)
	}
	return a
}

func TestActivities_NewestFirstWithServerTime(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	s := New(func() time.Time { ts := clock[i%len(clock)]; i++; return ts })

	in := newActivity(t, 0, "Shelter")
	in.CreatedAt = base.Add(24 * time.Hour)
	first, err := s.CreateActivity(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !first.CreatedAt.Equal(base) || first.ID != 1 {
		t.Fatalf("client timestamp must be ignored: %+v", first)
	}
	if _, err := s.CreateActivity(ctx, newActivity(t, 0, "Other")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateActivity(ctx, newActivity(t, 0, "Clothing Drive")); err != nil {
		t.Fatal(err)
	}

	all, _ := s.ListActivities(ctx, 0)
	if len(all) != 3 || all[0].ActivityType != "Clothing Drive" || all[2].ActivityType != "Shelter" {
		t.Fatalf("order = %+v", all)
	}
	if all[1].CreatedAt.Before(all[2].CreatedAt) {
		t.Fatalf("clock went back, timestamp must be clamped: %v", all[1].CreatedAt)
	}
	if two, _ := s.ListActivities(ctx, 2); len(two) != 2 || two[0].ID != 3 {
		t.Fatalf("limit 2 = %+v", two)
	}
}
