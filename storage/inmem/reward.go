package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/reward"
)

type RewardRepository struct {
	mu               sync.Mutex
	wallets          map[string]reward.Wallet
	transactions     map[string][]reward.Transaction // keyed by userID
	achievements     map[string]reward.Achievement
	userAchievements map[string]reward.UserAchievement // keyed by userID|achievementID
	leaderboards     map[string]reward.Leaderboard
	rankings         map[string]map[string]reward.UserRanking // leaderboardID -> userID -> ranking
	rewards          map[string]reward.Reward
	redemptions      map[string]reward.Redemption
}

var _ reward.Repository = (*RewardRepository)(nil)

func NewRewardRepository() *RewardRepository {
	return &RewardRepository{
		wallets:          make(map[string]reward.Wallet),
		transactions:     make(map[string][]reward.Transaction),
		achievements:     make(map[string]reward.Achievement),
		userAchievements: make(map[string]reward.UserAchievement),
		leaderboards:     make(map[string]reward.Leaderboard),
		rankings:         make(map[string]map[string]reward.UserRanking),
		rewards:          make(map[string]reward.Reward),
		redemptions:      make(map[string]reward.Redemption),
	}
}

func (repo *RewardRepository) GetWallet(_ context.Context, userID string) (reward.Wallet, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	wlt, ok := repo.wallets[userID]
	if !ok {
		return reward.Wallet{}, reward.ErrNotFound
	}
	return wlt, nil
}

// creditLocked and debitLocked assume repo.mu is held.
func (repo *RewardRepository) creditLocked(userID string, amount int, txType, description, referenceID string) (reward.Wallet, reward.Transaction) {
	now := time.Now().UTC()
	wlt, ok := repo.wallets[userID]
	if !ok {
		wlt = reward.Wallet{UserID: userID, CreatedAt: now}
	}
	wlt.Balance += amount
	if txType == reward.TxRefund {
		// a refund undoes spending rather than earning anew
		wlt.TotalSpent -= amount
	} else {
		wlt.TotalEarned += amount
	}
	wlt.UpdatedAt = now
	repo.wallets[userID] = wlt

	tx := reward.Transaction{
		ID:           newID(),
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: wlt.Balance,
		Description:  description,
		ReferenceID:  referenceID,
		CreatedAt:    now,
	}
	repo.transactions[userID] = append(repo.transactions[userID], tx)
	return wlt, tx
}

func (repo *RewardRepository) debitLocked(userID string, amount int, txType, description, referenceID string) (reward.Wallet, reward.Transaction, error) {
	now := time.Now().UTC()
	wlt, ok := repo.wallets[userID]
	if !ok || wlt.Balance < amount {
		return reward.Wallet{}, reward.Transaction{}, reward.ErrInsufficientBalance
	}
	wlt.Balance -= amount
	wlt.TotalSpent += amount
	wlt.UpdatedAt = now
	repo.wallets[userID] = wlt

	tx := reward.Transaction{
		ID:           newID(),
		UserID:       userID,
		Type:         txType,
		Amount:       -amount,
		BalanceAfter: wlt.Balance,
		Description:  description,
		ReferenceID:  referenceID,
		CreatedAt:    now,
	}
	repo.transactions[userID] = append(repo.transactions[userID], tx)
	return wlt, tx, nil
}

func (repo *RewardRepository) CreditWallet(_ context.Context, userID string, amount int, txType, description, referenceID string) (reward.Wallet, reward.Transaction, error) {
	if amount <= 0 {
		return reward.Wallet{}, reward.Transaction{}, reward.ErrInvalidAmount
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()

	wlt, tx := repo.creditLocked(userID, amount, txType, description, referenceID)
	return wlt, tx, nil
}

func (repo *RewardRepository) DebitWallet(_ context.Context, userID string, amount int, txType, description, referenceID string) (reward.Wallet, reward.Transaction, error) {
	if amount <= 0 {
		return reward.Wallet{}, reward.Transaction{}, reward.ErrInvalidAmount
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()

	return repo.debitLocked(userID, amount, txType, description, referenceID)
}

func (repo *RewardRepository) QueryTransactions(_ context.Context, userID string, page core.Pagination) ([]reward.Transaction, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	txs := repo.transactions[userID]
	// newest first
	out := make([]reward.Transaction, len(txs))
	for i, tx := range txs {
		out[len(txs)-1-i] = tx
	}
	if page.Offset > 0 {
		if page.Offset >= len(out) {
			return nil, nil
		}
		out = out[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(out) {
		out = out[:page.Limit]
	}
	return out, nil
}

func (repo *RewardRepository) HasTransaction(_ context.Context, userID, txType, referenceID string) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, tx := range repo.transactions[userID] {
		if tx.Type == txType && tx.ReferenceID == referenceID {
			return true, nil
		}
	}
	return false, nil
}

func (repo *RewardRepository) TokensEarnedSince(_ context.Context, since time.Time) (map[string]int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	earned := make(map[string]int)
	for userID, txs := range repo.transactions {
		for _, tx := range txs {
			if tx.Amount > 0 && tx.Type != reward.TxRefund && !tx.CreatedAt.Before(since) {
				earned[userID] += tx.Amount
			}
		}
	}
	return earned, nil
}

func (repo *RewardRepository) CreateAchievement(_ context.Context, ach reward.Achievement) (reward.Achievement, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if ach.ID == "" {
		ach.ID = newID()
	}
	repo.achievements[ach.ID] = ach
	return ach, nil
}

func (repo *RewardRepository) GetAchievement(_ context.Context, id string) (reward.Achievement, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	ach, ok := repo.achievements[id]
	if !ok {
		return reward.Achievement{}, reward.ErrNotFound
	}
	return ach, nil
}

func (repo *RewardRepository) QueryAchievements(_ context.Context, activeOnly bool) ([]reward.Achievement, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	achs := make([]reward.Achievement, 0, len(repo.achievements))
	for _, ach := range repo.achievements {
		if activeOnly && !ach.IsActive {
			continue
		}
		achs = append(achs, ach)
	}
	sort.SliceStable(achs, func(i, j int) bool { return achs[i].Name < achs[j].Name })
	return achs, nil
}

func (repo *RewardRepository) UnlockAchievement(_ context.Context, ua reward.UserAchievement) (reward.UserAchievement, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	k := ua.UserID + "|" + ua.AchievementID
	if existing, ok := repo.userAchievements[k]; ok {
		return existing, reward.ErrAlreadyUnlocked
	}
	if ua.ID == "" {
		ua.ID = newID()
	}
	repo.userAchievements[k] = ua
	return ua, nil
}

func (repo *RewardRepository) QueryUserAchievements(_ context.Context, userID string) ([]reward.UserAchievement, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var uas []reward.UserAchievement
	for _, ua := range repo.userAchievements {
		if ua.UserID == userID {
			uas = append(uas, ua)
		}
	}
	sort.SliceStable(uas, func(i, j int) bool { return uas[i].UnlockedAt.Before(uas[j].UnlockedAt) })
	return uas, nil
}

func (repo *RewardRepository) CountAchievementRecipients(_ context.Context, achievementID string) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var n int
	for _, ua := range repo.userAchievements {
		if ua.AchievementID == achievementID {
			n++
		}
	}
	return n, nil
}

func (repo *RewardRepository) CreateLeaderboard(_ context.Context, lb reward.Leaderboard) (reward.Leaderboard, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if lb.ID == "" {
		lb.ID = newID()
	}
	repo.leaderboards[lb.ID] = lb
	return lb, nil
}

func (repo *RewardRepository) GetLeaderboard(_ context.Context, id string) (reward.Leaderboard, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	lb, ok := repo.leaderboards[id]
	if !ok {
		return reward.Leaderboard{}, reward.ErrNotFound
	}
	return lb, nil
}

func (repo *RewardRepository) QueryLeaderboards(_ context.Context, activeOnly bool) ([]reward.Leaderboard, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	lbs := make([]reward.Leaderboard, 0, len(repo.leaderboards))
	for _, lb := range repo.leaderboards {
		if activeOnly && !lb.IsActive {
			continue
		}
		lbs = append(lbs, lb)
	}
	sort.SliceStable(lbs, func(i, j int) bool { return lbs[i].Name < lbs[j].Name })
	return lbs, nil
}

// UpsertRankings keeps rows that fell off the board with Position 0 so their
// RewardClaimed flag survives recomputation.
func (repo *RewardRepository) UpsertRankings(_ context.Context, leaderboardID string, rankings []reward.UserRanking) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	board := repo.rankings[leaderboardID]
	if board == nil {
		board = make(map[string]reward.UserRanking)
		repo.rankings[leaderboardID] = board
	}

	seen := make(map[string]bool, len(rankings))
	for _, rnk := range rankings {
		seen[rnk.UserID] = true
		if old, ok := board[rnk.UserID]; ok {
			rnk.RewardClaimed = old.RewardClaimed
		}
		board[rnk.UserID] = rnk
	}
	for userID, rnk := range board {
		if !seen[userID] {
			rnk.Score = 0
			rnk.Position = 0
			board[userID] = rnk
		}
	}
	return nil
}

func (repo *RewardRepository) QueryRankings(_ context.Context, leaderboardID string, limit int) ([]reward.UserRanking, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var rnks []reward.UserRanking
	for _, rnk := range repo.rankings[leaderboardID] {
		if rnk.Position > 0 {
			rnks = append(rnks, rnk)
		}
	}
	sort.SliceStable(rnks, func(i, j int) bool { return rnks[i].Position < rnks[j].Position })
	if limit > 0 && len(rnks) > limit {
		rnks = rnks[:limit]
	}
	return rnks, nil
}

func (repo *RewardRepository) GetRanking(_ context.Context, leaderboardID, userID string) (reward.UserRanking, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	rnk, ok := repo.rankings[leaderboardID][userID]
	if !ok {
		return reward.UserRanking{}, reward.ErrNotFound
	}
	return rnk, nil
}

func (repo *RewardRepository) MarkRankingRewardClaimed(_ context.Context, leaderboardID, userID string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	rnk, ok := repo.rankings[leaderboardID][userID]
	if !ok {
		return reward.ErrNotFound
	}
	if rnk.RewardClaimed {
		return reward.ErrAlreadyClaimed
	}
	rnk.RewardClaimed = true
	repo.rankings[leaderboardID][userID] = rnk
	return nil
}

func (repo *RewardRepository) CreateReward(_ context.Context, rwd reward.Reward) (reward.Reward, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if rwd.ID == "" {
		rwd.ID = newID()
	}
	repo.rewards[rwd.ID] = rwd
	return rwd, nil
}

func (repo *RewardRepository) GetReward(_ context.Context, id string) (reward.Reward, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	rwd, ok := repo.rewards[id]
	if !ok {
		return reward.Reward{}, reward.ErrNotFound
	}
	return rwd, nil
}

func (repo *RewardRepository) QueryRewards(_ context.Context, activeOnly bool) ([]reward.Reward, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	rwds := make([]reward.Reward, 0, len(repo.rewards))
	for _, rwd := range repo.rewards {
		if activeOnly && !rwd.IsActive {
			continue
		}
		rwds = append(rwds, rwd)
	}
	sort.SliceStable(rwds, func(i, j int) bool { return rwds[i].Name < rwds[j].Name })
	return rwds, nil
}

func (repo *RewardRepository) UpdateReward(_ context.Context, rwd reward.Reward) (reward.Reward, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.rewards[rwd.ID]; !ok {
		return reward.Reward{}, reward.ErrNotFound
	}
	repo.rewards[rwd.ID] = rwd
	return rwd, nil
}

func (repo *RewardRepository) RedeemReward(_ context.Context, userID, rewardID, code string, now time.Time) (reward.Redemption, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	rwd, ok := repo.rewards[rewardID]
	if !ok {
		return reward.Redemption{}, reward.ErrNotFound
	}
	if rwd.Stock == 0 {
		return reward.Redemption{}, reward.ErrOutOfStock
	}
	if rwd.MaxPerUser > 0 {
		var n int
		for _, red := range repo.redemptions {
			if red.UserID == userID && red.RewardID == rewardID && red.Status != reward.RedemptionCancelled {
				n++
			}
		}
		if n >= rwd.MaxPerUser {
			return reward.Redemption{}, reward.ErrRedemptionLimit
		}
	}

	red := reward.Redemption{
		ID:        newID(),
		UserID:    userID,
		RewardID:  rewardID,
		Cost:      rwd.Cost,
		Status:    reward.RedemptionPending,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, _, err := repo.debitLocked(userID, rwd.Cost, reward.TxRewardPurchase, "Reward redeemed: "+rwd.Name, red.ID); err != nil {
		return reward.Redemption{}, err
	}
	if rwd.Stock != reward.UnlimitedStock {
		rwd.Stock--
		repo.rewards[rewardID] = rwd
	}
	repo.redemptions[red.ID] = red
	return red, nil
}

func (repo *RewardRepository) GetRedemption(_ context.Context, id string) (reward.Redemption, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	red, ok := repo.redemptions[id]
	if !ok {
		return reward.Redemption{}, reward.ErrNotFound
	}
	return red, nil
}

func (repo *RewardRepository) QueryRedemptions(_ context.Context, userID string) ([]reward.Redemption, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var reds []reward.Redemption
	for _, red := range repo.redemptions {
		if red.UserID == userID {
			reds = append(reds, red)
		}
	}
	sort.SliceStable(reds, func(i, j int) bool { return reds[i].CreatedAt.Before(reds[j].CreatedAt) })
	return reds, nil
}

func (repo *RewardRepository) UpdateRedemptionStatus(_ context.Context, id, status string) (reward.Redemption, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	red, ok := repo.redemptions[id]
	if !ok {
		return reward.Redemption{}, reward.ErrNotFound
	}
	red.Status = status
	red.UpdatedAt = time.Now().UTC()
	repo.redemptions[id] = red
	return red, nil
}

func (repo *RewardRepository) CancelRedemption(_ context.Context, id string) (reward.Redemption, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	red, ok := repo.redemptions[id]
	if !ok {
		return reward.Redemption{}, reward.ErrNotFound
	}
	if red.Status == reward.RedemptionDelivered || red.Status == reward.RedemptionCancelled {
		return reward.Redemption{}, reward.ErrNotCancellable
	}

	red.Status = reward.RedemptionCancelled
	red.UpdatedAt = time.Now().UTC()
	repo.redemptions[id] = red

	if rwd, ok := repo.rewards[red.RewardID]; ok {
		if rwd.Stock != reward.UnlimitedStock {
			rwd.Stock++
			repo.rewards[red.RewardID] = rwd
		}
		repo.creditLocked(red.UserID, red.Cost, reward.TxRefund, "Redemption cancelled: "+rwd.Name, red.ID)
	} else {
		repo.creditLocked(red.UserID, red.Cost, reward.TxRefund, "Redemption cancelled", red.ID)
	}
	return red, nil
}
