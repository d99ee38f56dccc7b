package backend

import (
	"context"
	"errors"
	"log/slog"

	"matchday-chat/go-client/pkg/models"
)

// DirectorySource serves the community browse surfaces. Client is the
// live implementation; FallbackDirectory serves bundled data.
type DirectorySource interface {
	Communities(ctx context.Context) ([]models.Community, error)
	Members(ctx context.Context, communityID string) ([]models.CommunityMember, error)
	Leaderboard(ctx context.Context, communityID string) ([]models.LeaderboardEntry, error)
}

// FallbackDirectory answers directory reads from an in-memory snapshot,
// used when the backend is unreachable so browse screens stay populated.
type FallbackDirectory struct {
	CommunityList []models.Community
	MemberLists   map[string][]models.CommunityMember
	Leaderboards  map[string][]models.LeaderboardEntry
}

func (f *FallbackDirectory) Communities(_ context.Context) ([]models.Community, error) {
	return append([]models.Community(nil), f.CommunityList...), nil
}

func (f *FallbackDirectory) Members(_ context.Context, communityID string) ([]models.CommunityMember, error) {
	return append([]models.CommunityMember(nil), f.MemberLists[communityID]...), nil
}

func (f *FallbackDirectory) Leaderboard(_ context.Context, communityID string) ([]models.LeaderboardEntry, error) {
	return append([]models.LeaderboardEntry(nil), f.Leaderboards[communityID]...), nil
}

// Directory reads from a primary source and falls back to a secondary one
// on transport failure. Auth rejections are not masked: a revoked session
// must surface, not silently degrade to stale data.
type Directory struct {
	primary  DirectorySource
	fallback DirectorySource
	logger   *slog.Logger
}

func NewDirectory(primary, fallback DirectorySource, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("component", "directory"),
	}
}

func (d *Directory) Communities(ctx context.Context) ([]models.Community, error) {
	out, err := d.primary.Communities(ctx)
	if !d.shouldFallback(ctx, err, "communities") {
		return out, err
	}
	return d.fallback.Communities(ctx)
}

func (d *Directory) Members(ctx context.Context, communityID string) ([]models.CommunityMember, error) {
	out, err := d.primary.Members(ctx, communityID)
	if !d.shouldFallback(ctx, err, "members") {
		return out, err
	}
	return d.fallback.Members(ctx, communityID)
}

func (d *Directory) Leaderboard(ctx context.Context, communityID string) ([]models.LeaderboardEntry, error) {
	out, err := d.primary.Leaderboard(ctx, communityID)
	if !d.shouldFallback(ctx, err, "leaderboard") {
		return out, err
	}
	return d.fallback.Leaderboard(ctx, communityID)
}

func (d *Directory) shouldFallback(ctx context.Context, err error, operation string) bool {
	if err == nil || d.fallback == nil {
		return false
	}
	if errors.Is(err, ErrSessionRejected) || ctx.Err() != nil {
		return false
	}
	d.logger.Warn("directory read falling back to bundled data",
		"operation", operation,
		"error", err.Error())
	return true
}
