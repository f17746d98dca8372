package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
)

var (
	// errors
	ErrNotFound            = errors.New("not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient FORE balance")
	ErrOutOfStock          = errors.New("reward is out of stock")
	ErrRedemptionLimit     = errors.New("per-user redemption limit reached")
	ErrRewardUnavailable   = errors.New("reward is not available")
	ErrAlreadyUnlocked     = errors.New("achievement already unlocked")
	ErrAlreadyClaimed      = errors.New("ranking reward already claimed")
	ErrNothingToClaim      = errors.New("no ranking reward to claim")
	ErrNotCancellable      = errors.New("redemption can no longer be cancelled")
)

type (
	Repository interface {
		// GetWallet returns ErrNotFound when the user has never transacted.
		GetWallet(ctx context.Context, userID string) (Wallet, error)
		// CreditWallet atomically creates the wallet if needed, adds amount to
		// the balance and appends a ledger entry. amount must be positive.
		CreditWallet(ctx context.Context, userID string, amount int, txType, description, referenceID string) (Wallet, Transaction, error)
		// DebitWallet atomically subtracts amount from the balance and appends
		// a ledger entry. Returns ErrInsufficientBalance when the balance does
		// not cover amount. amount must be positive.
		DebitWallet(ctx context.Context, userID string, amount int, txType, description, referenceID string) (Wallet, Transaction, error)
		QueryTransactions(ctx context.Context, userID string, page core.Pagination) ([]Transaction, error)
		// HasTransaction reports whether a ledger entry of the given type and
		// reference already exists for the user.
		HasTransaction(ctx context.Context, userID, txType, referenceID string) (bool, error)
		// TokensEarnedSince aggregates positive ledger amounts per user,
		// counting entries recorded at or after since. A zero since means all
		// time.
		TokensEarnedSince(ctx context.Context, since time.Time) (map[string]int, error)

		CreateAchievement(ctx context.Context, ach Achievement) (Achievement, error)
		GetAchievement(ctx context.Context, id string) (Achievement, error)
		QueryAchievements(ctx context.Context, activeOnly bool) ([]Achievement, error)
		// UnlockAchievement returns ErrAlreadyUnlocked on a duplicate
		// (user, achievement) pair.
		UnlockAchievement(ctx context.Context, ua UserAchievement) (UserAchievement, error)
		QueryUserAchievements(ctx context.Context, userID string) ([]UserAchievement, error)
		CountAchievementRecipients(ctx context.Context, achievementID string) (int, error)

		CreateLeaderboard(ctx context.Context, lb Leaderboard) (Leaderboard, error)
		GetLeaderboard(ctx context.Context, id string) (Leaderboard, error)
		QueryLeaderboards(ctx context.Context, activeOnly bool) ([]Leaderboard, error)
		// UpsertRankings replaces the board's scores and positions while
		// preserving RewardClaimed for (leaderboard, user) pairs already seen.
		UpsertRankings(ctx context.Context, leaderboardID string, rankings []UserRanking) error
		QueryRankings(ctx context.Context, leaderboardID string, limit int) ([]UserRanking, error)
		GetRanking(ctx context.Context, leaderboardID, userID string) (UserRanking, error)
		// MarkRankingRewardClaimed returns ErrAlreadyClaimed when the flag was
		// already set.
		MarkRankingRewardClaimed(ctx context.Context, leaderboardID, userID string) error

		CreateReward(ctx context.Context, rwd Reward) (Reward, error)
		GetReward(ctx context.Context, id string) (Reward, error)
		QueryRewards(ctx context.Context, activeOnly bool) ([]Reward, error)
		UpdateReward(ctx context.Context, rwd Reward) (Reward, error)
		// RedeemReward atomically checks stock, the per-user limit and the
		// wallet balance, then decrements stock, debits the wallet and records
		// the redemption with its ledger entry. Returns ErrOutOfStock,
		// ErrRedemptionLimit or ErrInsufficientBalance accordingly.
		RedeemReward(ctx context.Context, userID, rewardID, code string, now time.Time) (Redemption, error)
		GetRedemption(ctx context.Context, id string) (Redemption, error)
		QueryRedemptions(ctx context.Context, userID string) ([]Redemption, error)
		UpdateRedemptionStatus(ctx context.Context, id, status string) (Redemption, error)
		// CancelRedemption atomically marks the redemption cancelled, restores
		// reward stock and credits the cost back as a refund. Returns
		// ErrNotCancellable for delivered or already cancelled redemptions.
		CancelRedemption(ctx context.Context, id string) (Redemption, error)
	}

	// StatsSource answers learning-progress questions needed to unlock
	// achievements and score leaderboards.
	StatsSource interface {
		CompletionCounts(ctx context.Context, userID string) (courses, lessons, quizzes int, err error)
		StreakDays(ctx context.Context, userID string) (int, error)
		ActivityCounts(ctx context.Context, activity string, since time.Time) (map[string]int, error)
	}

	ServiceInterface interface {
		Wallet(ctx context.Context, userID string) (Wallet, error)
		Transactions(ctx context.Context, userID string, page core.Pagination) ([]Transaction, error)
		GrantAdminBonus(ctx context.Context, gb GrantBonus) (Transaction, error)

		// course.Rewarder
		LessonCompleted(ctx context.Context, userID, lessonID string, tokens int) error
		QuizPassed(ctx context.Context, userID, quizID string, tokens int) error
		CourseCompleted(ctx context.Context, userID, courseID string, tokens int) error

		CreateAchievement(ctx context.Context, na NewAchievement) (Achievement, error)
		Achievements(ctx context.Context) ([]Achievement, error)
		UserAchievements(ctx context.Context, userID string) ([]UserAchievement, error)
		EvaluateAchievements(ctx context.Context, userID string) ([]Achievement, error)

		CreateLeaderboard(ctx context.Context, nl NewLeaderboard) (Leaderboard, error)
		Leaderboards(ctx context.Context) ([]Leaderboard, error)
		Rankings(ctx context.Context, leaderboardID string) ([]UserRanking, error)
		UpdateRankings(ctx context.Context, leaderboardID string) error
		UpdateAllRankings(ctx context.Context) error
		ClaimRankingReward(ctx context.Context, leaderboardID, userID string) (Transaction, error)

		CreateReward(ctx context.Context, nr NewReward) (Reward, error)
		Rewards(ctx context.Context) ([]Reward, error)
		Redeem(ctx context.Context, userID, rewardID string) (Redemption, error)
		Redemptions(ctx context.Context, userID string) ([]Redemption, error)
		UpdateRedemptionStatus(ctx context.Context, id, status string) (Redemption, error)
		CancelRedemption(ctx context.Context, id string) (Redemption, error)
	}

	service struct {
		repo  Repository
		stats StatsSource
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, stats StatsSource) *service {
	return &service{
		repo:  repo,
		stats: stats,
	}
}

// SetStatsSource breaks the construction cycle with the course service,
// which needs a Rewarder before this service can be built.
func (svc *service) SetStatsSource(stats StatsSource) { svc.stats = stats }

// Wallet returns the user's wallet, or an empty zero-balance wallet if the
// user has never transacted.
func (svc *service) Wallet(ctx context.Context, userID string) (Wallet, error) {
	wlt, err := svc.repo.GetWallet(ctx, userID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Wallet{UserID: userID}, nil
		}
		return Wallet{}, err
	}
	return wlt, nil
}

func (svc *service) Transactions(ctx context.Context, userID string, page core.Pagination) ([]Transaction, error) {
	return svc.repo.QueryTransactions(ctx, userID, page)
}

func (svc *service) GrantAdminBonus(ctx context.Context, gb GrantBonus) (Transaction, error) {
	return svc.credit(ctx, gb.UserID, gb.Amount, TxAdminBonus, gb.Description, "")
}

// credit applies a token grant and re-evaluates achievements, since any
// credit can push the user past a threshold.
func (svc *service) credit(ctx context.Context, userID string, amount int, txType, description, referenceID string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	_, tx, err := svc.repo.CreditWallet(ctx, userID, amount, txType, description, referenceID)
	if err != nil {
		return Transaction{}, err
	}
	if _, err = svc.EvaluateAchievements(ctx, userID); err != nil {
		return Transaction{}, errors.Wrap(err, "evaluating achievements")
	}
	return tx, nil
}

// creditOnce is like credit but a no-op when a ledger entry with the same
// type and reference already exists for the user.
func (svc *service) creditOnce(ctx context.Context, userID string, amount int, txType, description, referenceID string) error {
	exists, err := svc.repo.HasTransaction(ctx, userID, txType, referenceID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = svc.credit(ctx, userID, amount, txType, description, referenceID)
	return err
}

func (svc *service) LessonCompleted(ctx context.Context, userID, lessonID string, tokens int) error {
	return svc.creditOnce(ctx, userID, tokens, TxLessonCompleted, "Lesson completed", lessonID)
}

func (svc *service) QuizPassed(ctx context.Context, userID, quizID string, tokens int) error {
	return svc.creditOnce(ctx, userID, tokens, TxQuizPassed, "Quiz passed", quizID)
}

func (svc *service) CourseCompleted(ctx context.Context, userID, courseID string, tokens int) error {
	return svc.creditOnce(ctx, userID, tokens, TxCourseCompleted, "Course completed", courseID)
}

func (svc *service) CreateAchievement(ctx context.Context, na NewAchievement) (Achievement, error) {
	return svc.repo.CreateAchievement(ctx, Achievement{
		Name:               na.Name,
		Description:        na.Description,
		Tier:               na.Tier,
		ForeReward:         na.ForeReward,
		RequiredCourses:    na.RequiredCourses,
		RequiredLessons:    na.RequiredLessons,
		RequiredQuizzes:    na.RequiredQuizzes,
		RequiredStreakDays: na.RequiredStreakDays,
		RequiredTokens:     na.RequiredTokens,
		IsSecret:           na.IsSecret,
		MaxRecipients:      na.MaxRecipients,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	})
}

func (svc *service) Achievements(ctx context.Context) ([]Achievement, error) {
	return svc.repo.QueryAchievements(ctx, true /* activeOnly */)
}

func (svc *service) UserAchievements(ctx context.Context, userID string) ([]UserAchievement, error) {
	return svc.repo.QueryUserAchievements(ctx, userID)
}

// EvaluateAchievements unlocks every active achievement whose thresholds the
// user now meets and credits the attached token rewards. Each achievement
// unlocks at most once per user. Evaluation loops until no further unlocks,
// so a token reward that crosses another threshold cascades immediately.
func (svc *service) EvaluateAchievements(ctx context.Context, userID string) ([]Achievement, error) {
	achs, err := svc.repo.QueryAchievements(ctx, true /* activeOnly */)
	if err != nil {
		return nil, err
	}

	unlocked := make(map[string]bool)
	uas, err := svc.repo.QueryUserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, ua := range uas {
		unlocked[ua.AchievementID] = true
	}

	var courses, lessons, quizzes, streak int
	if svc.stats != nil {
		if courses, lessons, quizzes, err = svc.stats.CompletionCounts(ctx, userID); err != nil {
			return nil, err
		}
		if streak, err = svc.stats.StreakDays(ctx, userID); err != nil {
			return nil, err
		}
	}

	var newlyUnlocked []Achievement
	for progressed := true; progressed; {
		progressed = false

		wlt, err := svc.Wallet(ctx, userID)
		if err != nil {
			return nil, err
		}

		for _, ach := range achs {
			if unlocked[ach.ID] {
				continue
			}
			if !meetsThresholds(ach, courses, lessons, quizzes, streak, wlt.TotalEarned) {
				continue
			}
			if ach.MaxRecipients > 0 {
				n, err := svc.repo.CountAchievementRecipients(ctx, ach.ID)
				if err != nil {
					return nil, err
				}
				if n >= ach.MaxRecipients {
					continue
				}
			}

			if _, err = svc.repo.UnlockAchievement(ctx, UserAchievement{
				UserID:        userID,
				AchievementID: ach.ID,
				UnlockedAt:    time.Now().UTC(),
			}); err != nil {
				if errors.Cause(err) == ErrAlreadyUnlocked {
					unlocked[ach.ID] = true
					continue
				}
				return nil, err
			}
			unlocked[ach.ID] = true
			newlyUnlocked = append(newlyUnlocked, ach)

			if ach.ForeReward > 0 {
				desc := fmt.Sprintf("Achievement unlocked: %s", ach.Name)
				if _, _, err = svc.repo.CreditWallet(ctx, userID, ach.ForeReward, TxAchievementEarned, desc, ach.ID); err != nil {
					return nil, err
				}
				progressed = true // the credit may unlock a token-threshold achievement
			}
		}
	}
	return newlyUnlocked, nil
}

func meetsThresholds(ach Achievement, courses, lessons, quizzes, streak, earned int) bool {
	if ach.RequiredCourses > 0 && courses < ach.RequiredCourses {
		return false
	}
	if ach.RequiredLessons > 0 && lessons < ach.RequiredLessons {
		return false
	}
	if ach.RequiredQuizzes > 0 && quizzes < ach.RequiredQuizzes {
		return false
	}
	if ach.RequiredStreakDays > 0 && streak < ach.RequiredStreakDays {
		return false
	}
	if ach.RequiredTokens > 0 && earned < ach.RequiredTokens {
		return false
	}
	return true
}

func (svc *service) CreateLeaderboard(ctx context.Context, nl NewLeaderboard) (Leaderboard, error) {
	now := time.Now().UTC()
	return svc.repo.CreateLeaderboard(ctx, Leaderboard{
		Name:              nl.Name,
		Category:          nl.Category,
		Period:            nl.Period,
		FirstPlaceReward:  nl.FirstPlaceReward,
		SecondPlaceReward: nl.SecondPlaceReward,
		ThirdPlaceReward:  nl.ThirdPlaceReward,
		MaxPositions:      nl.MaxPositions,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}

func (svc *service) Leaderboards(ctx context.Context) ([]Leaderboard, error) {
	return svc.repo.QueryLeaderboards(ctx, true /* activeOnly */)
}

func (svc *service) Rankings(ctx context.Context, leaderboardID string) ([]UserRanking, error) {
	lb, err := svc.repo.GetLeaderboard(ctx, leaderboardID)
	if err != nil {
		return nil, err
	}
	return svc.repo.QueryRankings(ctx, leaderboardID, lb.MaxPositions)
}

// UpdateRankings recomputes a board's scores for the current period.
// Recomputing is idempotent: scores and positions are replaced, claimed
// bonuses stay claimed.
func (svc *service) UpdateRankings(ctx context.Context, leaderboardID string) error {
	lb, err := svc.repo.GetLeaderboard(ctx, leaderboardID)
	if err != nil {
		return err
	}

	since := lb.PeriodStart(time.Now())
	var scores map[string]int
	if lb.Category == CategoryTokens {
		scores, err = svc.repo.TokensEarnedSince(ctx, since)
	} else if svc.stats != nil {
		scores, err = svc.stats.ActivityCounts(ctx, lb.Category, since)
	}
	if err != nil {
		return errors.Wrapf(err, "scoring leaderboard %s", lb.Name)
	}

	rankings := rankScores(lb, scores)
	return svc.repo.UpsertRankings(ctx, leaderboardID, rankings)
}

// rankScores orders users by score descending, breaking ties by user ID so
// recomputation is deterministic, and truncates to the board's MaxPositions.
func rankScores(lb Leaderboard, scores map[string]int) []UserRanking {
	now := time.Now().UTC()
	rankings := make([]UserRanking, 0, len(scores))
	for userID, score := range scores {
		if score <= 0 {
			continue
		}
		rankings = append(rankings, UserRanking{
			LeaderboardID: lb.ID,
			UserID:        userID,
			Score:         score,
			UpdatedAt:     now,
		})
	}
	sortRankings(rankings)
	if lb.MaxPositions > 0 && len(rankings) > lb.MaxPositions {
		rankings = rankings[:lb.MaxPositions]
	}
	for i := range rankings {
		rankings[i].Position = i + 1
	}
	return rankings
}

func sortRankings(rankings []UserRanking) {
	for i := 1; i < len(rankings); i++ {
		for j := i; j > 0 && less(rankings[j], rankings[j-1]); j-- {
			rankings[j], rankings[j-1] = rankings[j-1], rankings[j]
		}
	}
}

func less(a, b UserRanking) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.UserID < b.UserID
}

func (svc *service) UpdateAllRankings(ctx context.Context) error {
	lbs, err := svc.repo.QueryLeaderboards(ctx, true /* activeOnly */)
	if err != nil {
		return err
	}
	for _, lb := range lbs {
		if err = svc.UpdateRankings(ctx, lb.ID); err != nil {
			return err
		}
	}
	return nil
}

// ClaimRankingReward credits the position bonus for a top-three ranking.
// A ranking's bonus can be claimed exactly once; recomputation of the board
// never resets the claim.
func (svc *service) ClaimRankingReward(ctx context.Context, leaderboardID, userID string) (Transaction, error) {
	lb, err := svc.repo.GetLeaderboard(ctx, leaderboardID)
	if err != nil {
		return Transaction{}, err
	}
	rnk, err := svc.repo.GetRanking(ctx, leaderboardID, userID)
	if err != nil {
		return Transaction{}, err
	}
	if rnk.RewardClaimed {
		return Transaction{}, ErrAlreadyClaimed
	}
	bonus := lb.PositionReward(rnk.Position)
	if bonus <= 0 {
		return Transaction{}, ErrNothingToClaim
	}

	// The credit lands before the claimed flag: a failed credit leaves the
	// claim open for a retry, and the ledger lookup keeps a retry after a
	// failed flag write from paying the bonus twice.
	exists, err := svc.repo.HasTransaction(ctx, userID, TxLeaderboardBonus, leaderboardID)
	if err != nil {
		return Transaction{}, err
	}
	var tx Transaction
	if !exists {
		desc := fmt.Sprintf("%s: position %d bonus", lb.Name, rnk.Position)
		if tx, err = svc.credit(ctx, userID, bonus, TxLeaderboardBonus, desc, leaderboardID); err != nil {
			return Transaction{}, err
		}
	}
	if err = svc.repo.MarkRankingRewardClaimed(ctx, leaderboardID, userID); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func (svc *service) CreateReward(ctx context.Context, nr NewReward) (Reward, error) {
	now := time.Now().UTC()
	return svc.repo.CreateReward(ctx, Reward{
		Name:           nr.Name,
		Description:    nr.Description,
		Category:       nr.Category,
		Cost:           nr.Cost,
		Stock:          nr.Stock,
		MaxPerUser:     nr.MaxPerUser,
		AvailableFrom:  nr.AvailableFrom,
		AvailableUntil: nr.AvailableUntil,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (svc *service) Rewards(ctx context.Context) ([]Reward, error) {
	return svc.repo.QueryRewards(ctx, true /* activeOnly */)
}

// Redeem spends tokens on a store reward. Stock, the per-user limit and the
// balance are checked atomically so concurrent redemptions of the last unit
// cannot both succeed.
func (svc *service) Redeem(ctx context.Context, userID, rewardID string) (Redemption, error) {
	rwd, err := svc.repo.GetReward(ctx, rewardID)
	if err != nil {
		return Redemption{}, err
	}
	now := time.Now().UTC()
	if !rwd.Available(now) {
		return Redemption{}, ErrRewardUnavailable
	}
	return svc.repo.RedeemReward(ctx, userID, rewardID, NewRedemptionCode(), now)
}

func (svc *service) Redemptions(ctx context.Context, userID string) ([]Redemption, error) {
	return svc.repo.QueryRedemptions(ctx, userID)
}

func (svc *service) UpdateRedemptionStatus(ctx context.Context, id, status string) (Redemption, error) {
	if status == RedemptionCancelled {
		return svc.CancelRedemption(ctx, id)
	}
	return svc.repo.UpdateRedemptionStatus(ctx, id, status)
}

// CancelRedemption refunds the tokens and restores stock. Delivered or
// already cancelled redemptions cannot be cancelled.
func (svc *service) CancelRedemption(ctx context.Context, id string) (Redemption, error) {
	return svc.repo.CancelRedemption(ctx, id)
}
