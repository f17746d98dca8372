package reward_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/reward"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/storage/inmem"
)

// statsStub answers StatsSource queries with fixed values.
type statsStub struct {
	courses, lessons, quizzes, streak int
	activity                          map[string]int
}

func (s *statsStub) CompletionCounts(context.Context, string) (int, int, int, error) {
	return s.courses, s.lessons, s.quizzes, nil
}
func (s *statsStub) StreakDays(context.Context, string) (int, error) { return s.streak, nil }
func (s *statsStub) ActivityCounts(context.Context, string, time.Time) (map[string]int, error) {
	return s.activity, nil
}

func setup(t *testing.T) (reward.ServiceInterface, *statsStub) {
	t.Helper()
	stats := &statsStub{}
	svc := reward.NewService(inmem.NewRewardRepository(), stats)
	return svc, stats
}

func ledgerSum(t *testing.T, svc reward.ServiceInterface, userID string) int {
	t.Helper()
	txs, err := svc.Transactions(context.Background(), userID, core.Pagination{})
	require.NoError(t, err)
	var sum int
	for _, tx := range txs {
		sum += tx.Amount
	}
	return sum
}

func grant(t *testing.T, svc reward.ServiceInterface, userID string, amount int) {
	t.Helper()
	_, err := svc.GrantAdminBonus(context.Background(), reward.GrantBonus{
		UserID: userID,
		Amount: amount,
	})
	require.NoError(t, err)
}

func Test_service_Wallet(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	// a user who never transacted gets an empty wallet, not an error
	wlt, err := svc.Wallet(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, reward.Wallet{UserID: "usr1"}, wlt)

	grant(t, svc, "usr1", 100)
	wlt, err = svc.Wallet(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 100, wlt.Balance)
	assert.Equal(t, 100, wlt.TotalEarned)
	assert.Equal(t, 0, wlt.TotalSpent)
}

func Test_service_GrantAdminBonus(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	tx, err := svc.GrantAdminBonus(ctx, reward.GrantBonus{UserID: "usr1", Amount: 50, Description: "welcome"})
	require.NoError(t, err)
	assert.Equal(t, 50, tx.Amount)
	assert.Equal(t, 50, tx.BalanceAfter)
	assert.Equal(t, reward.TxAdminBonus, tx.Type)

	_, err = svc.GrantAdminBonus(ctx, reward.GrantBonus{UserID: "usr1", Amount: -5})
	assert.Equal(t, reward.ErrInvalidAmount, err)
}

func Test_service_milestoneCreditsAreIdempotent(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	// completing the same lesson twice credits once
	require.NoError(t, svc.LessonCompleted(ctx, "usr1", "les1", 10))
	require.NoError(t, svc.LessonCompleted(ctx, "usr1", "les1", 10))
	require.NoError(t, svc.QuizPassed(ctx, "usr1", "qz1", 20))
	require.NoError(t, svc.QuizPassed(ctx, "usr1", "qz1", 20))
	require.NoError(t, svc.CourseCompleted(ctx, "usr1", "crs1", 50))
	require.NoError(t, svc.CourseCompleted(ctx, "usr1", "crs1", 50))

	wlt, err := svc.Wallet(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 80, wlt.Balance)

	// a different lesson still credits
	require.NoError(t, svc.LessonCompleted(ctx, "usr1", "les2", 10))
	wlt, err = svc.Wallet(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 90, wlt.Balance)
}

func Test_service_EvaluateAchievements(t *testing.T) {
	svc, stats := setup(t)
	ctx := context.Background()

	first, err := svc.CreateAchievement(ctx, reward.NewAchievement{
		Name: "First Lesson", Tier: reward.TierBronze, ForeReward: 90, RequiredLessons: 1,
	})
	require.NoError(t, err)
	collector, err := svc.CreateAchievement(ctx, reward.NewAchievement{
		Name: "Collector", Tier: reward.TierSilver, ForeReward: 20, RequiredTokens: 100,
	})
	require.NoError(t, err)

	stats.lessons = 1
	require.NoError(t, svc.LessonCompleted(ctx, "usr1", "les1", 10))

	// the lesson credit unlocks First Lesson; its 90-token reward pushes
	// lifetime earnings to 100, which cascades into Collector
	uas, err := svc.UserAchievements(ctx, "usr1")
	require.NoError(t, err)
	unlocked := make(map[string]bool, len(uas))
	for _, ua := range uas {
		unlocked[ua.AchievementID] = true
	}
	assert.True(t, unlocked[first.ID])
	assert.True(t, unlocked[collector.ID])

	wlt, err := svc.Wallet(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 120, wlt.Balance) // 10 + 90 + 20

	// re-evaluation never unlocks or credits twice
	newly, err := svc.EvaluateAchievements(ctx, "usr1")
	require.NoError(t, err)
	assert.Empty(t, newly)
	wlt, err = svc.Wallet(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 120, wlt.Balance)
}

func Test_service_EvaluateAchievements_maxRecipients(t *testing.T) {
	svc, stats := setup(t)
	ctx := context.Background()

	ach, err := svc.CreateAchievement(ctx, reward.NewAchievement{
		Name: "Founding Member", Tier: reward.TierDiamond, RequiredLessons: 1, MaxRecipients: 2,
	})
	require.NoError(t, err)
	stats.lessons = 1

	for i, userID := range []string{"usr1", "usr2", "usr3"} {
		newly, err := svc.EvaluateAchievements(ctx, userID)
		require.NoError(t, err)
		if i < 2 {
			require.Len(t, newly, 1)
			assert.Equal(t, ach.ID, newly[0].ID)
		} else {
			assert.Empty(t, newly) // capacity reached
		}
	}
}

func Test_service_UpdateRankings(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	lb, err := svc.CreateLeaderboard(ctx, reward.NewLeaderboard{
		Name:             "Token Race",
		Category:         reward.CategoryTokens,
		Period:           reward.PeriodAllTime,
		FirstPlaceReward: 100, SecondPlaceReward: 50, ThirdPlaceReward: 25,
		MaxPositions: 2,
	})
	require.NoError(t, err)

	grant(t, svc, "usr1", 300)
	grant(t, svc, "usr2", 200)
	grant(t, svc, "usr3", 100)

	require.NoError(t, svc.UpdateRankings(ctx, lb.ID))
	rnks, err := svc.Rankings(ctx, lb.ID)
	require.NoError(t, err)
	require.Len(t, rnks, 2) // truncated to MaxPositions
	assert.Equal(t, "usr1", rnks[0].UserID)
	assert.Equal(t, 1, rnks[0].Position)
	assert.Equal(t, 300, rnks[0].Score)
	assert.Equal(t, "usr2", rnks[1].UserID)
	assert.Equal(t, 2, rnks[1].Position)

	// recomputing without new activity changes nothing
	require.NoError(t, svc.UpdateRankings(ctx, lb.ID))
	again, err := svc.Rankings(ctx, lb.ID)
	require.NoError(t, err)
	require.Len(t, again, len(rnks))
	for i := range rnks {
		assert.Equal(t, rnks[i].UserID, again[i].UserID)
		assert.Equal(t, rnks[i].Score, again[i].Score)
		assert.Equal(t, rnks[i].Position, again[i].Position)
	}
}

func Test_service_ClaimRankingReward(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	lb, err := svc.CreateLeaderboard(ctx, reward.NewLeaderboard{
		Name:             "Token Race",
		Category:         reward.CategoryTokens,
		Period:           reward.PeriodAllTime,
		FirstPlaceReward: 100, SecondPlaceReward: 50, ThirdPlaceReward: 25,
	})
	require.NoError(t, err)

	grant(t, svc, "usr1", 300)
	grant(t, svc, "usr2", 200)
	grant(t, svc, "usr3", 100)
	grant(t, svc, "usr4", 10)
	require.NoError(t, svc.UpdateRankings(ctx, lb.ID))

	tx, err := svc.ClaimRankingReward(ctx, lb.ID, "usr2")
	require.NoError(t, err)
	assert.Equal(t, 50, tx.Amount) // second place
	assert.Equal(t, reward.TxLeaderboardBonus, tx.Type)

	// claiming twice fails
	_, err = svc.ClaimRankingReward(ctx, lb.ID, "usr2")
	assert.Equal(t, reward.ErrAlreadyClaimed, err)

	// positions past third have nothing to claim
	_, err = svc.ClaimRankingReward(ctx, lb.ID, "usr4")
	assert.Equal(t, reward.ErrNothingToClaim, err)

	// the claim survives a recompute
	require.NoError(t, svc.UpdateRankings(ctx, lb.ID))
	_, err = svc.ClaimRankingReward(ctx, lb.ID, "usr2")
	assert.Equal(t, reward.ErrAlreadyClaimed, err)
}

// flakyRewardRepository fails wallet credits on demand.
type flakyRewardRepository struct {
	*inmem.RewardRepository
	failCredits int
}

func (repo *flakyRewardRepository) CreditWallet(ctx context.Context, userID string, amount int, txType, description, referenceID string) (reward.Wallet, reward.Transaction, error) {
	if repo.failCredits > 0 {
		repo.failCredits--
		return reward.Wallet{}, reward.Transaction{}, errors.New("connection reset")
	}
	return repo.RewardRepository.CreditWallet(ctx, userID, amount, txType, description, referenceID)
}

func Test_service_ClaimRankingReward_failedCreditKeepsClaimOpen(t *testing.T) {
	repo := &flakyRewardRepository{RewardRepository: inmem.NewRewardRepository()}
	svc := reward.NewService(repo, &statsStub{})
	ctx := context.Background()

	lb, err := svc.CreateLeaderboard(ctx, reward.NewLeaderboard{
		Name:             "Token Race",
		Category:         reward.CategoryTokens,
		Period:           reward.PeriodAllTime,
		FirstPlaceReward: 100,
	})
	require.NoError(t, err)
	grant(t, svc, "usr1", 300)
	require.NoError(t, svc.UpdateRankings(ctx, lb.ID))

	// a failed credit must not consume the claim
	repo.failCredits = 1
	_, err = svc.ClaimRankingReward(ctx, lb.ID, "usr1")
	require.Error(t, err)
	rnk, err := repo.GetRanking(ctx, lb.ID, "usr1")
	require.NoError(t, err)
	assert.False(t, rnk.RewardClaimed)

	// the retry pays the bonus once
	tx, err := svc.ClaimRankingReward(ctx, lb.ID, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 100, tx.Amount)
	wlt, err := svc.Wallet(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 400, wlt.Balance)

	_, err = svc.ClaimRankingReward(ctx, lb.ID, "usr1")
	assert.Equal(t, reward.ErrAlreadyClaimed, err)
}

func createReward(t *testing.T, svc reward.ServiceInterface, cost, stock, maxPerUser int) reward.Reward {
	t.Helper()
	rwd, err := svc.CreateReward(context.Background(), reward.NewReward{
		Name:       "Notebook",
		Cost:       cost,
		Stock:      stock,
		MaxPerUser: maxPerUser,
	})
	require.NoError(t, err)
	return rwd
}

func Test_service_Redeem(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	rwd := createReward(t, svc, 100, 5, 0)

	// insufficient balance
	grant(t, svc, "usr1", 50)
	_, err := svc.Redeem(ctx, "usr1", rwd.ID)
	assert.Equal(t, reward.ErrInsufficientBalance, err)

	grant(t, svc, "usr1", 150)
	red, err := svc.Redeem(ctx, "usr1", rwd.ID)
	require.NoError(t, err)
	assert.Equal(t, "usr1", red.UserID)
	assert.Equal(t, 100, red.Cost)
	assert.Equal(t, reward.RedemptionPending, red.Status)
	assert.Len(t, red.Code, 8)

	wlt, err := svc.Wallet(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 100, wlt.Balance)
	assert.Equal(t, 100, wlt.TotalSpent)
	assert.Equal(t, wlt.Balance, ledgerSum(t, svc, "usr1"))
}

func Test_service_Redeem_outOfStock(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	rwd := createReward(t, svc, 10, 0, 0)

	grant(t, svc, "usr1", 100)
	_, err := svc.Redeem(ctx, "usr1", rwd.ID)
	assert.Equal(t, reward.ErrOutOfStock, err)
}

func Test_service_Redeem_perUserLimit(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	rwd := createReward(t, svc, 10, reward.UnlimitedStock, 2)

	grant(t, svc, "usr1", 100)
	for i := 0; i < 2; i++ {
		_, err := svc.Redeem(ctx, "usr1", rwd.ID)
		require.NoError(t, err)
	}
	_, err := svc.Redeem(ctx, "usr1", rwd.ID)
	assert.Equal(t, reward.ErrRedemptionLimit, err)

	// another user is unaffected
	grant(t, svc, "usr2", 100)
	_, err = svc.Redeem(ctx, "usr2", rwd.ID)
	assert.NoError(t, err)
}

func Test_service_Redeem_lastUnitRace(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	rwd := createReward(t, svc, 10, 1, 0)

	const users = 10
	userIDs := make([]string, users)
	for i := range userIDs {
		userIDs[i] = "usr" + string(rune('a'+i))
		grant(t, svc, userIDs[i], 100)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			if _, err := svc.Redeem(ctx, userID, rwd.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.Equal(t, reward.ErrOutOfStock, err)
			}
		}(userID)
	}
	wg.Wait()

	// exactly one redemption of the last unit may succeed
	assert.Equal(t, 1, succeeded)
}

func Test_service_CancelRedemption(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	rwd := createReward(t, svc, 100, 1, 0)

	grant(t, svc, "usr1", 100)
	red, err := svc.Redeem(ctx, "usr1", rwd.ID)
	require.NoError(t, err)

	cancelled, err := svc.CancelRedemption(ctx, red.ID)
	require.NoError(t, err)
	assert.Equal(t, reward.RedemptionCancelled, cancelled.Status)

	// tokens are refunded without inflating lifetime earnings
	wlt, err := svc.Wallet(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 100, wlt.Balance)
	assert.Equal(t, 100, wlt.TotalEarned)
	assert.Equal(t, 0, wlt.TotalSpent)
	assert.Equal(t, wlt.Balance, ledgerSum(t, svc, "usr1"))

	// stock is restored so the unit can be redeemed again
	_, err = svc.Redeem(ctx, "usr1", rwd.ID)
	require.NoError(t, err)

	// cancelling twice fails
	_, err = svc.CancelRedemption(ctx, red.ID)
	assert.Equal(t, reward.ErrNotCancellable, err)
}

func Test_service_UpdateRedemptionStatus(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	rwd := createReward(t, svc, 10, reward.UnlimitedStock, 0)

	grant(t, svc, "usr1", 100)
	red, err := svc.Redeem(ctx, "usr1", rwd.ID)
	require.NoError(t, err)

	red, err = svc.UpdateRedemptionStatus(ctx, red.ID, reward.RedemptionDelivered)
	require.NoError(t, err)
	assert.Equal(t, reward.RedemptionDelivered, red.Status)

	// delivered redemptions can no longer be cancelled, even via a status update
	_, err = svc.UpdateRedemptionStatus(ctx, red.ID, reward.RedemptionCancelled)
	assert.Equal(t, reward.ErrNotCancellable, err)
}

func Test_service_ledgerSumMatchesBalance(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	rwd := createReward(t, svc, 30, reward.UnlimitedStock, 0)

	grant(t, svc, "usr1", 100)
	require.NoError(t, svc.LessonCompleted(ctx, "usr1", "les1", 10))
	red, err := svc.Redeem(ctx, "usr1", rwd.ID)
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, "usr1", rwd.ID)
	require.NoError(t, err)
	_, err = svc.CancelRedemption(ctx, red.ID)
	require.NoError(t, err)

	wlt, err := svc.Wallet(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 80, wlt.Balance) // 100 + 10 - 30 - 30 + 30
	assert.Equal(t, wlt.Balance, ledgerSum(t, svc, "usr1"))
	assert.Equal(t, wlt.TotalEarned-wlt.TotalSpent, wlt.Balance)
}
