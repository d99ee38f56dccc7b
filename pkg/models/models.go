package models

import "time"

type MessageKind string

const (
	KindText            MessageKind = "text"
	KindSystem          MessageKind = "system"
	KindSharedMatchCard MessageKind = "shared-match-card"
)

type Sender struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// ReplyRef is a compose-time snapshot of the message being replied to.
// It is client-local decoration and is never transmitted to the backend.
type ReplyRef struct {
	TargetID           string `json:"target_id"`
	OriginalText       string `json:"original_text"`
	OriginalSenderName string `json:"original_sender_name"`
}

type MatchCard struct {
	MatchID   string    `json:"match_id"`
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	KickoffAt time.Time `json:"kickoff_at"`
	HomeOdds  float64   `json:"home_odds,omitempty"`
	DrawOdds  float64   `json:"draw_odds,omitempty"`
	AwayOdds  float64   `json:"away_odds,omitempty"`
}

// Message is a single chat entry. ID is unique within one topic's timeline.
type Message struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
	Sender    Sender      `json:"sender"`
	Kind      MessageKind `json:"kind"`
	ReplyRef  *ReplyRef   `json:"reply_ref,omitempty"`
	MatchCard *MatchCard  `json:"match_card,omitempty"`
}

type Community struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	LogoRef     string `json:"logo_ref,omitempty"`
	MemberCount int    `json:"member_count"`
}

type CommunityMember struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarRef   string    `json:"avatar_ref,omitempty"`
	Role        string    `json:"role,omitempty"`
	JoinedAt    time.Time `json:"joined_at,omitempty"`
}

type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	Points      int     `json:"points"`
	WinRate     float64 `json:"win_rate,omitempty"`
}
