package reward

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
)

// Transaction types
const (
	TxLessonCompleted   = "lesson_completed"
	TxQuizPassed        = "quiz_passed"
	TxCourseCompleted   = "course_completed"
	TxAchievementEarned = "achievement_earned"
	TxLeaderboardBonus  = "leaderboard_bonus"
	TxAdminBonus        = "admin_bonus"
	TxRewardPurchase    = "reward_purchase"
	TxRefund            = "refund"
	TxAdjustment        = "adjustment"
)

// Achievement tiers
const (
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
	TierDiamond  = "diamond"
)

// Leaderboard categories
const (
	CategoryTokens  = "fore_tokens"
	CategoryCourses = "courses_completed"
	CategoryLessons = "lessons_completed"
	CategoryQuizzes = "quizzes_passed"
)

// Leaderboard periods
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodAllTime = "all_time"
)

// Redemption statuses
const (
	RedemptionPending   = "pending"
	RedemptionApproved  = "approved"
	RedemptionDelivered = "delivered"
	RedemptionCancelled = "cancelled"
)

// UnlimitedStock marks a Reward that never runs out.
const UnlimitedStock = -1

// Wallet holds a user's FORE token balance. Balance always equals the sum
// of the user's transaction amounts; TotalEarned and TotalSpent accumulate
// credits and debits separately and never decrease.
type Wallet struct {
	UserID      string    `json:"user_id"`
	Balance     int       `json:"balance"`
	TotalEarned int       `json:"total_earned"`
	TotalSpent  int       `json:"total_spent"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// Transaction is one immutable ledger entry. Amount is signed: positive for
// credits, negative for debits. BalanceAfter snapshots the wallet balance
// right after the entry was applied.
type Transaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Type         string    `json:"type"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balance_after"`
	Description  string    `json:"description,omitempty"`
	ReferenceID  string    `json:"reference_id,omitempty"` // lesson, quiz, course, achievement, leaderboard or redemption ID
	CreatedAt    time.Time `json:"created_at"`             // UTC
}

type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tier        string `json:"tier"`
	ForeReward  int    `json:"fore_reward"`

	// unlock thresholds; zero means not required
	RequiredCourses    int `json:"required_courses"`
	RequiredLessons    int `json:"required_lessons"`
	RequiredQuizzes    int `json:"required_quizzes"`
	RequiredStreakDays int `json:"required_streak_days"`
	RequiredTokens     int `json:"required_tokens"` // lifetime earned

	IsSecret      bool      `json:"is_secret"`
	MaxRecipients int       `json:"max_recipients"` // 0 means unlimited
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"` // UTC
}

type UserAchievement struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at"` // UTC
}

type Leaderboard struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	Period            string    `json:"period"`
	FirstPlaceReward  int       `json:"first_place_reward"`
	SecondPlaceReward int       `json:"second_place_reward"`
	ThirdPlaceReward  int       `json:"third_place_reward"`
	MaxPositions      int       `json:"max_positions"` // 0 means unbounded
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"` // UTC
	UpdatedAt         time.Time `json:"updated_at"` // UTC
}

// PositionReward returns the bonus for a 1-based position, 0 past third place.
func (lb *Leaderboard) PositionReward(position int) int {
	switch position {
	case 1:
		return lb.FirstPlaceReward
	case 2:
		return lb.SecondPlaceReward
	case 3:
		return lb.ThirdPlaceReward
	}
	return 0
}

// PeriodStart returns the UTC start of the leaderboard period containing t:
// midnight for daily, Monday midnight for weekly, the 1st for monthly and
// the zero time for all_time.
func (lb *Leaderboard) PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	switch lb.Period {
	case PeriodDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeekly:
		daysFromMonday := (int(t.Weekday()) + 6) % 7
		t = t.AddDate(0, 0, -daysFromMonday)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}

type UserRanking struct {
	LeaderboardID string    `json:"leaderboard_id"`
	UserID        string    `json:"user_id"`
	Score         int       `json:"score"`
	Position      int       `json:"position"` // 1-based
	RewardClaimed bool      `json:"reward_claimed"`
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

type Reward struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Category       string    `json:"category,omitempty"`
	Cost           int       `json:"cost"`
	Stock          int       `json:"stock"`        // UnlimitedStock means never runs out
	MaxPerUser     int       `json:"max_per_user"` // 0 means unlimited
	AvailableFrom  time.Time `json:"available_from,omitempty"`
	AvailableUntil time.Time `json:"available_until,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

// Available reports whether the reward can be redeemed at time t.
func (r *Reward) Available(t time.Time) bool {
	if !r.IsActive {
		return false
	}
	if !r.AvailableFrom.IsZero() && t.Before(r.AvailableFrom) {
		return false
	}
	if !r.AvailableUntil.IsZero() && t.After(r.AvailableUntil) {
		return false
	}
	return true
}

type Redemption struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RewardID  string    `json:"reward_id"`
	Cost      int       `json:"cost"` // snapshot of the reward cost at redemption time
	Status    string    `json:"status"`
	Code      string    `json:"code"` // handed to the user to claim the physical reward
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// NewRedemptionCode returns an 8-character uppercase claim code.
func NewRedemptionCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:8])
}

// NewAchievement contains information needed to create a new Achievement.
type NewAchievement struct {
	Name               string `json:"name" validate:"required"`
	Description        string `json:"description"`
	Tier               string `json:"tier" validate:"required,oneof=bronze silver gold platinum diamond"`
	ForeReward         int    `json:"fore_reward" validate:"gte=0"`
	RequiredCourses    int    `json:"required_courses" validate:"gte=0"`
	RequiredLessons    int    `json:"required_lessons" validate:"gte=0"`
	RequiredQuizzes    int    `json:"required_quizzes" validate:"gte=0"`
	RequiredStreakDays int    `json:"required_streak_days" validate:"gte=0"`
	RequiredTokens     int    `json:"required_tokens" validate:"gte=0"`
	IsSecret           bool   `json:"is_secret"`
	MaxRecipients      int    `json:"max_recipients" validate:"gte=0"`
}

func (na *NewAchievement) Validate() error {
	na.Name = core.CleanString(na.Name)
	return core.Validate.Struct(na)
}

// NewLeaderboard contains information needed to create a new Leaderboard.
type NewLeaderboard struct {
	Name              string `json:"name" validate:"required"`
	Category          string `json:"category" validate:"required,oneof=fore_tokens courses_completed lessons_completed quizzes_passed"`
	Period            string `json:"period" validate:"required,oneof=daily weekly monthly all_time"`
	FirstPlaceReward  int    `json:"first_place_reward" validate:"gte=0"`
	SecondPlaceReward int    `json:"second_place_reward" validate:"gte=0"`
	ThirdPlaceReward  int    `json:"third_place_reward" validate:"gte=0"`
	MaxPositions      int    `json:"max_positions" validate:"gte=0"`
}

func (nl *NewLeaderboard) Validate() error {
	nl.Name = core.CleanString(nl.Name)
	return core.Validate.Struct(nl)
}

// NewReward contains information needed to create a new store Reward.
type NewReward struct {
	Name           string    `json:"name" validate:"required"`
	Description    string    `json:"description"`
	Category       string    `json:"category"`
	Cost           int       `json:"cost" validate:"required,gt=0"`
	Stock          int       `json:"stock" validate:"gte=-1"`
	MaxPerUser     int       `json:"max_per_user" validate:"gte=0"`
	AvailableFrom  time.Time `json:"available_from"`
	AvailableUntil time.Time `json:"available_until"`
}

func (nr *NewReward) Validate() error {
	nr.Name = core.CleanString(nr.Name)
	return core.Validate.Struct(nr)
}

// GrantBonus contains information needed for a manual admin token grant.
type GrantBonus struct {
	UserID      string `json:"user_id" validate:"required"`
	Amount      int    `json:"amount" validate:"required,gt=0"`
	Description string `json:"description"`
}

func (gb GrantBonus) Validate() error { return core.Validate.Struct(gb) }
