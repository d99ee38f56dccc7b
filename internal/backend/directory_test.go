package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"matchday-chat/go-client/pkg/models"
)

type scriptedDirectory struct {
	communities []models.Community
	err         error
	calls       int
}

func (s *scriptedDirectory) Communities(context.Context) ([]models.Community, error) {
	s.calls++
	return s.communities, s.err
}

func (s *scriptedDirectory) Members(context.Context, string) ([]models.CommunityMember, error) {
	s.calls++
	return nil, s.err
}

func (s *scriptedDirectory) Leaderboard(context.Context, string) ([]models.LeaderboardEntry, error) {
	s.calls++
	return nil, s.err
}

func TestDirectoryPrefersPrimary(t *testing.T) {
	t.Parallel()

	primary := &scriptedDirectory{communities: []models.Community{{ID: "live-1"}}}
	fallback := &scriptedDirectory{communities: []models.Community{{ID: "bundled-1"}}}
	dir := NewDirectory(primary, fallback, nil)

	got, err := dir.Communities(context.Background())
	if err != nil {
		t.Fatalf("Communities: %v", err)
	}
	if len(got) != 1 || got[0].ID != "live-1" {
		t.Fatalf("communities: got=%v want live-1", got)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback consulted despite healthy primary")
	}
}

func TestDirectoryFallsBackOnTransportFailure(t *testing.T) {
	t.Parallel()

	primary := &scriptedDirectory{err: fmt.Errorf("backend: /api/v1/communities: %w", errors.New("connection refused"))}
	fallback := &scriptedDirectory{communities: []models.Community{{ID: "bundled-1", DisplayName: "Derby Day"}}}
	dir := NewDirectory(primary, fallback, nil)

	got, err := dir.Communities(context.Background())
	if err != nil {
		t.Fatalf("Communities: %v", err)
	}
	if len(got) != 1 || got[0].ID != "bundled-1" {
		t.Fatalf("communities: got=%v want bundled-1", got)
	}
}

func TestDirectoryDoesNotMaskAuthRejection(t *testing.T) {
	t.Parallel()

	primary := &scriptedDirectory{err: fmt.Errorf("%w: status 401", ErrSessionRejected)}
	fallback := &scriptedDirectory{communities: []models.Community{{ID: "bundled-1"}}}
	dir := NewDirectory(primary, fallback, nil)

	_, err := dir.Communities(context.Background())
	if !errors.Is(err, ErrSessionRejected) {
		t.Fatalf("error: got=%v want ErrSessionRejected", err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback consulted on auth rejection")
	}
}

func TestDirectoryWithoutFallbackReturnsError(t *testing.T) {
	t.Parallel()

	primary := &scriptedDirectory{err: errors.New("connection refused")}
	dir := NewDirectory(primary, nil, nil)

	if _, err := dir.Communities(context.Background()); err == nil {
		t.Fatalf("Communities succeeded despite failing primary and no fallback")
	}
}

func TestFallbackDirectoryServesSnapshots(t *testing.T) {
	t.Parallel()

	fallback := &FallbackDirectory{
		CommunityList: []models.Community{{ID: "comm-1", DisplayName: "Derby Day"}},
		MemberLists: map[string][]models.CommunityMember{
			"comm-1": {{ID: "u1", DisplayName: "ana"}},
		},
		Leaderboards: map[string][]models.LeaderboardEntry{
			"comm-1": {{Rank: 1, UserID: "u1", Points: 930}},
		},
	}

	ctx := context.Background()
	communities, _ := fallback.Communities(ctx)
	if len(communities) != 1 {
		t.Fatalf("communities: got=%d want=1", len(communities))
	}
	members, _ := fallback.Members(ctx, "comm-1")
	if len(members) != 1 || members[0].DisplayName != "ana" {
		t.Fatalf("members: got=%v", members)
	}
	board, _ := fallback.Leaderboard(ctx, "unknown")
	if len(board) != 0 {
		t.Fatalf("unknown community leaderboard: got=%v want empty", board)
	}
}
