package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/reward"
)

type RewardRepository struct {
	db *sqlx.DB
}

var _ reward.Repository = (*RewardRepository)(nil)

func NewRewardRepository(db *sqlx.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

type walletRow struct {
	UserID      string    `db:"user_id"`
	Balance     int       `db:"balance"`
	TotalEarned int       `db:"total_earned"`
	TotalSpent  int       `db:"total_spent"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row walletRow) toWallet() reward.Wallet {
	return reward.Wallet(row)
}

const walletColumns = `user_id, balance, total_earned, total_spent, created_at, updated_at`

func (repo *RewardRepository) GetWallet(ctx context.Context, userID string) (reward.Wallet, error) {
	var row walletRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID); err != nil {
		if err == sql.ErrNoRows {
			return reward.Wallet{}, reward.ErrNotFound
		}
		return reward.Wallet{}, errors.Wrap(err, "selecting wallet")
	}
	return row.toWallet(), nil
}

// lockWallet creates the wallet row if missing and locks it for the
// remainder of the transaction.
func lockWallet(ctx context.Context, tx *sqlx.Tx, userID string) (walletRow, error) {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return walletRow{}, errors.Wrap(err, "ensuring wallet")
	}

	var row walletRow
	if err = tx.GetContext(ctx, &row, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		return walletRow{}, errors.Wrap(err, "locking wallet")
	}
	// a balance that disagrees with the ledger totals cannot be fixed by any
	// request; stop serving instead of compounding the corruption
	if row.Balance != row.TotalEarned-row.TotalSpent {
		return walletRow{}, core.NewShutdownError("wallet " + userID + ": balance does not match ledger totals")
	}
	return row, nil
}

func applyToWallet(ctx context.Context, tx *sqlx.Tx, userID string, amount int, txType, description, referenceID string) (reward.Wallet, reward.Transaction, error) {
	wlt, err := lockWallet(ctx, tx, userID)
	if err != nil {
		return reward.Wallet{}, reward.Transaction{}, err
	}
	if amount < 0 && wlt.Balance+amount < 0 {
		return reward.Wallet{}, reward.Transaction{}, reward.ErrInsufficientBalance
	}

	now := time.Now().UTC()
	wlt.Balance += amount
	switch {
	case txType == reward.TxRefund:
		wlt.TotalSpent -= amount
	case amount > 0:
		wlt.TotalEarned += amount
	default:
		wlt.TotalSpent -= amount // amount is negative
	}
	wlt.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
	UPDATE wallets SET balance = $2, total_earned = $3, total_spent = $4, updated_at = $5 WHERE user_id = $1`,
		userID, wlt.Balance, wlt.TotalEarned, wlt.TotalSpent, wlt.UpdatedAt)
	if err != nil {
		return reward.Wallet{}, reward.Transaction{}, errors.Wrap(err, "updating wallet")
	}

	txn := reward.Transaction{
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: wlt.Balance,
		Description:  description,
		ReferenceID:  referenceID,
		CreatedAt:    now,
	}
	err = tx.QueryRowContext(ctx, `
	INSERT INTO transactions (user_id, type, amount, balance_after, description, reference_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`,
		txn.UserID, txn.Type, txn.Amount, txn.BalanceAfter, txn.Description, txn.ReferenceID, txn.CreatedAt,
	).Scan(&txn.ID)
	if err != nil {
		return reward.Wallet{}, reward.Transaction{}, errors.Wrap(err, "inserting transaction")
	}
	return wlt.toWallet(), txn, nil
}

func (repo *RewardRepository) CreditWallet(ctx context.Context, userID string, amount int, txType, description, referenceID string) (reward.Wallet, reward.Transaction, error) {
	if amount <= 0 {
		return reward.Wallet{}, reward.Transaction{}, reward.ErrInvalidAmount
	}
	return repo.inTx(ctx, func(tx *sqlx.Tx) (reward.Wallet, reward.Transaction, error) {
		return applyToWallet(ctx, tx, userID, amount, txType, description, referenceID)
	})
}

func (repo *RewardRepository) DebitWallet(ctx context.Context, userID string, amount int, txType, description, referenceID string) (reward.Wallet, reward.Transaction, error) {
	if amount <= 0 {
		return reward.Wallet{}, reward.Transaction{}, reward.ErrInvalidAmount
	}
	return repo.inTx(ctx, func(tx *sqlx.Tx) (reward.Wallet, reward.Transaction, error) {
		return applyToWallet(ctx, tx, userID, -amount, txType, description, referenceID)
	})
}

func (repo *RewardRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) (reward.Wallet, reward.Transaction, error)) (reward.Wallet, reward.Transaction, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return reward.Wallet{}, reward.Transaction{}, errors.Wrap(err, "beginning transaction")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer tx.Rollback()

	wlt, txn, err := fn(tx)
	if err != nil {
		return reward.Wallet{}, reward.Transaction{}, err
	}
	if err = tx.Commit(); err != nil {
		return reward.Wallet{}, reward.Transaction{}, errors.Wrap(err, "committing transaction")
	}
	return wlt, txn, nil
}

type transactionRow struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	Type         string    `db:"type"`
	Amount       int       `db:"amount"`
	BalanceAfter int       `db:"balance_after"`
	Description  string    `db:"description"`
	ReferenceID  string    `db:"reference_id"`
	CreatedAt    time.Time `db:"created_at"`
}

func (repo *RewardRepository) QueryTransactions(ctx context.Context, userID string, page core.Pagination) ([]reward.Transaction, error) {
	query := `
	SELECT id, user_id, type, amount, balance_after, description, reference_id, created_at
	FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`
	args := []interface{}{userID}
	if page.Limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, page.Limit, page.Offset)
	}

	var rows []transactionRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting transactions")
	}
	txs := make([]reward.Transaction, len(rows))
	for i, row := range rows {
		txs[i] = reward.Transaction(row)
	}
	return txs, nil
}

func (repo *RewardRepository) HasTransaction(ctx context.Context, userID, txType, referenceID string) (bool, error) {
	var exists bool
	err := repo.db.QueryRowContext(ctx, `
	SELECT EXISTS (SELECT 1 FROM transactions WHERE user_id = $1 AND type = $2 AND reference_id = $3)`,
		userID, txType, referenceID).Scan(&exists)
	return exists, errors.Wrap(err, "checking transaction")
}

func (repo *RewardRepository) TokensEarnedSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := repo.db.QueryContext(ctx, `
	SELECT user_id, sum(amount) FROM transactions
	WHERE amount > 0 AND type <> $1 AND created_at >= $2
	GROUP BY user_id`, reward.TxRefund, since)
	if err != nil {
		return nil, errors.Wrap(err, "aggregating earnings")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer rows.Close()

	earned := make(map[string]int)
	for rows.Next() {
		var (
			userID string
			sum    int
		)
		if err = rows.Scan(&userID, &sum); err != nil {
			return nil, errors.Wrap(err, "scanning earnings")
		}
		earned[userID] = sum
	}
	return earned, rows.Err()
}

type achievementRow struct {
	ID                 string    `db:"id"`
	Name               string    `db:"name"`
	Description        string    `db:"description"`
	Tier               string    `db:"tier"`
	ForeReward         int       `db:"fore_reward"`
	RequiredCourses    int       `db:"required_courses"`
	RequiredLessons    int       `db:"required_lessons"`
	RequiredQuizzes    int       `db:"required_quizzes"`
	RequiredStreakDays int       `db:"required_streak_days"`
	RequiredTokens     int       `db:"required_tokens"`
	IsSecret           bool      `db:"is_secret"`
	MaxRecipients      int       `db:"max_recipients"`
	IsActive           bool      `db:"is_active"`
	CreatedAt          time.Time `db:"created_at"`
}

const achievementColumns = `id, name, description, tier, fore_reward, required_courses, required_lessons,
	required_quizzes, required_streak_days, required_tokens, is_secret, max_recipients, is_active, created_at`

func (repo *RewardRepository) CreateAchievement(ctx context.Context, ach reward.Achievement) (reward.Achievement, error) {
	const query = `
	INSERT INTO achievements (name, description, tier, fore_reward, required_courses, required_lessons,
		required_quizzes, required_streak_days, required_tokens, is_secret, max_recipients, is_active, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING id`

	err := repo.db.QueryRowContext(ctx, query,
		ach.Name, ach.Description, ach.Tier, ach.ForeReward, ach.RequiredCourses, ach.RequiredLessons,
		ach.RequiredQuizzes, ach.RequiredStreakDays, ach.RequiredTokens, ach.IsSecret, ach.MaxRecipients,
		ach.IsActive, ach.CreatedAt,
	).Scan(&ach.ID)
	if err != nil {
		return reward.Achievement{}, errors.Wrap(err, "inserting achievement")
	}
	return ach, nil
}

func (repo *RewardRepository) GetAchievement(ctx context.Context, id string) (reward.Achievement, error) {
	var row achievementRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+achievementColumns+` FROM achievements WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return reward.Achievement{}, reward.ErrNotFound
		}
		return reward.Achievement{}, errors.Wrap(err, "selecting achievement")
	}
	return reward.Achievement(row), nil
}

func (repo *RewardRepository) QueryAchievements(ctx context.Context, activeOnly bool) ([]reward.Achievement, error) {
	query := `SELECT ` + achievementColumns + ` FROM achievements`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name ASC`

	var rows []achievementRow
	if err := repo.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "selecting achievements")
	}
	achs := make([]reward.Achievement, len(rows))
	for i, row := range rows {
		achs[i] = reward.Achievement(row)
	}
	return achs, nil
}

func (repo *RewardRepository) UnlockAchievement(ctx context.Context, ua reward.UserAchievement) (reward.UserAchievement, error) {
	const query = `
	INSERT INTO user_achievements (user_id, achievement_id, unlocked_at) VALUES ($1, $2, $3)
	ON CONFLICT (user_id, achievement_id) DO NOTHING
	RETURNING id`

	err := repo.db.QueryRowContext(ctx, query, ua.UserID, ua.AchievementID, ua.UnlockedAt).Scan(&ua.ID)
	if err == sql.ErrNoRows {
		return reward.UserAchievement{}, reward.ErrAlreadyUnlocked
	}
	if err != nil {
		return reward.UserAchievement{}, errors.Wrap(err, "inserting user achievement")
	}
	return ua, nil
}

func (repo *RewardRepository) QueryUserAchievements(ctx context.Context, userID string) ([]reward.UserAchievement, error) {
	type uaRow struct {
		ID            string    `db:"id"`
		UserID        string    `db:"user_id"`
		AchievementID string    `db:"achievement_id"`
		UnlockedAt    time.Time `db:"unlocked_at"`
	}
	var rows []uaRow
	err := repo.db.SelectContext(ctx, &rows, `
	SELECT id, user_id, achievement_id, unlocked_at
	FROM user_achievements WHERE user_id = $1 ORDER BY unlocked_at ASC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting user achievements")
	}
	uas := make([]reward.UserAchievement, len(rows))
	for i, row := range rows {
		uas[i] = reward.UserAchievement(row)
	}
	return uas, nil
}

func (repo *RewardRepository) CountAchievementRecipients(ctx context.Context, achievementID string) (int, error) {
	var n int
	err := repo.db.QueryRowContext(ctx,
		`SELECT count(*) FROM user_achievements WHERE achievement_id = $1`, achievementID).Scan(&n)
	return n, errors.Wrap(err, "counting recipients")
}

type leaderboardRow struct {
	ID                string    `db:"id"`
	Name              string    `db:"name"`
	Category          string    `db:"category"`
	Period            string    `db:"period"`
	FirstPlaceReward  int       `db:"first_place_reward"`
	SecondPlaceReward int       `db:"second_place_reward"`
	ThirdPlaceReward  int       `db:"third_place_reward"`
	MaxPositions      int       `db:"max_positions"`
	IsActive          bool      `db:"is_active"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

const leaderboardColumns = `id, name, category, period, first_place_reward, second_place_reward,
	third_place_reward, max_positions, is_active, created_at, updated_at`

func (repo *RewardRepository) CreateLeaderboard(ctx context.Context, lb reward.Leaderboard) (reward.Leaderboard, error) {
	const query = `
	INSERT INTO leaderboards (name, category, period, first_place_reward, second_place_reward,
		third_place_reward, max_positions, is_active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id`

	err := repo.db.QueryRowContext(ctx, query,
		lb.Name, lb.Category, lb.Period, lb.FirstPlaceReward, lb.SecondPlaceReward,
		lb.ThirdPlaceReward, lb.MaxPositions, lb.IsActive, lb.CreatedAt, lb.UpdatedAt,
	).Scan(&lb.ID)
	if err != nil {
		return reward.Leaderboard{}, errors.Wrap(err, "inserting leaderboard")
	}
	return lb, nil
}

func (repo *RewardRepository) GetLeaderboard(ctx context.Context, id string) (reward.Leaderboard, error) {
	var row leaderboardRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+leaderboardColumns+` FROM leaderboards WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return reward.Leaderboard{}, reward.ErrNotFound
		}
		return reward.Leaderboard{}, errors.Wrap(err, "selecting leaderboard")
	}
	return reward.Leaderboard(row), nil
}

func (repo *RewardRepository) QueryLeaderboards(ctx context.Context, activeOnly bool) ([]reward.Leaderboard, error) {
	query := `SELECT ` + leaderboardColumns + ` FROM leaderboards`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name ASC`

	var rows []leaderboardRow
	if err := repo.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "selecting leaderboards")
	}
	lbs := make([]reward.Leaderboard, len(rows))
	for i, row := range rows {
		lbs[i] = reward.Leaderboard(row)
	}
	return lbs, nil
}

// UpsertRankings demotes rows missing from the new standings to position 0
// instead of deleting them, so reward_claimed survives recomputation.
func (repo *RewardRepository) UpsertRankings(ctx context.Context, leaderboardID string, rankings []reward.UserRanking) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
	UPDATE user_rankings SET score = 0, position = 0, updated_at = $2 WHERE leaderboard_id = $1`,
		leaderboardID, now); err != nil {
		return errors.Wrap(err, "resetting rankings")
	}

	const query = `
	INSERT INTO user_rankings (leaderboard_id, user_id, score, position, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (leaderboard_id, user_id)
	DO UPDATE SET score = EXCLUDED.score, position = EXCLUDED.position, updated_at = EXCLUDED.updated_at`

	for _, rnk := range rankings {
		if _, err = tx.ExecContext(ctx, query, leaderboardID, rnk.UserID, rnk.Score, rnk.Position, now); err != nil {
			return errors.Wrap(err, "upserting ranking")
		}
	}
	return errors.Wrap(tx.Commit(), "committing rankings")
}

type rankingRow struct {
	LeaderboardID string    `db:"leaderboard_id"`
	UserID        string    `db:"user_id"`
	Score         int       `db:"score"`
	Position      int       `db:"position"`
	RewardClaimed bool      `db:"reward_claimed"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (repo *RewardRepository) QueryRankings(ctx context.Context, leaderboardID string, limit int) ([]reward.UserRanking, error) {
	query := `
	SELECT leaderboard_id, user_id, score, position, reward_claimed, updated_at
	FROM user_rankings WHERE leaderboard_id = $1 AND position > 0 ORDER BY position ASC`
	args := []interface{}{leaderboardID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []rankingRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting rankings")
	}
	rnks := make([]reward.UserRanking, len(rows))
	for i, row := range rows {
		rnks[i] = reward.UserRanking(row)
	}
	return rnks, nil
}

func (repo *RewardRepository) GetRanking(ctx context.Context, leaderboardID, userID string) (reward.UserRanking, error) {
	var row rankingRow
	err := repo.db.GetContext(ctx, &row, `
	SELECT leaderboard_id, user_id, score, position, reward_claimed, updated_at
	FROM user_rankings WHERE leaderboard_id = $1 AND user_id = $2`, leaderboardID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return reward.UserRanking{}, reward.ErrNotFound
		}
		return reward.UserRanking{}, errors.Wrap(err, "selecting ranking")
	}
	return reward.UserRanking(row), nil
}

func (repo *RewardRepository) MarkRankingRewardClaimed(ctx context.Context, leaderboardID, userID string) error {
	res, err := repo.db.ExecContext(ctx, `
	UPDATE user_rankings SET reward_claimed = TRUE
	WHERE leaderboard_id = $1 AND user_id = $2 AND NOT reward_claimed`, leaderboardID, userID)
	if err != nil {
		return errors.Wrap(err, "claiming ranking reward")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// distinguish a missing row from a double claim
		if _, err = repo.GetRanking(ctx, leaderboardID, userID); err != nil {
			return err
		}
		return reward.ErrAlreadyClaimed
	}
	return nil
}

type rewardRow struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	Description    string    `db:"description"`
	Category       string    `db:"category"`
	Cost           int       `db:"cost"`
	Stock          int       `db:"stock"`
	MaxPerUser     int       `db:"max_per_user"`
	AvailableFrom  null.Time `db:"available_from"`
	AvailableUntil null.Time `db:"available_until"`
	IsActive       bool      `db:"is_active"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (row rewardRow) toReward() reward.Reward {
	return reward.Reward{
		ID:             row.ID,
		Name:           row.Name,
		Description:    row.Description,
		Category:       row.Category,
		Cost:           row.Cost,
		Stock:          row.Stock,
		MaxPerUser:     row.MaxPerUser,
		AvailableFrom:  row.AvailableFrom.Time,
		AvailableUntil: row.AvailableUntil.Time,
		IsActive:       row.IsActive,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

const rewardColumns = `id, name, description, category, cost, stock, max_per_user,
	available_from, available_until, is_active, created_at, updated_at`

func (repo *RewardRepository) CreateReward(ctx context.Context, rwd reward.Reward) (reward.Reward, error) {
	const query = `
	INSERT INTO store_rewards (name, description, category, cost, stock, max_per_user,
		available_from, available_until, is_active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING id`

	err := repo.db.QueryRowContext(ctx, query,
		rwd.Name, rwd.Description, rwd.Category, rwd.Cost, rwd.Stock, rwd.MaxPerUser,
		null.NewTime(rwd.AvailableFrom, !rwd.AvailableFrom.IsZero()),
		null.NewTime(rwd.AvailableUntil, !rwd.AvailableUntil.IsZero()),
		rwd.IsActive, rwd.CreatedAt, rwd.UpdatedAt,
	).Scan(&rwd.ID)
	if err != nil {
		return reward.Reward{}, errors.Wrap(err, "inserting reward")
	}
	return rwd, nil
}

func (repo *RewardRepository) GetReward(ctx context.Context, id string) (reward.Reward, error) {
	var row rewardRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+rewardColumns+` FROM store_rewards WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return reward.Reward{}, reward.ErrNotFound
		}
		return reward.Reward{}, errors.Wrap(err, "selecting reward")
	}
	return row.toReward(), nil
}

func (repo *RewardRepository) QueryRewards(ctx context.Context, activeOnly bool) ([]reward.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM store_rewards`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name ASC`

	var rows []rewardRow
	if err := repo.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "selecting rewards")
	}
	rwds := make([]reward.Reward, len(rows))
	for i, row := range rows {
		rwds[i] = row.toReward()
	}
	return rwds, nil
}

func (repo *RewardRepository) UpdateReward(ctx context.Context, rwd reward.Reward) (reward.Reward, error) {
	const query = `
	UPDATE store_rewards SET name = $2, description = $3, category = $4, cost = $5, stock = $6,
		max_per_user = $7, available_from = $8, available_until = $9, is_active = $10, updated_at = $11
	WHERE id = $1`

	res, err := repo.db.ExecContext(ctx, query,
		rwd.ID, rwd.Name, rwd.Description, rwd.Category, rwd.Cost, rwd.Stock, rwd.MaxPerUser,
		null.NewTime(rwd.AvailableFrom, !rwd.AvailableFrom.IsZero()),
		null.NewTime(rwd.AvailableUntil, !rwd.AvailableUntil.IsZero()),
		rwd.IsActive, rwd.UpdatedAt)
	if err != nil {
		return reward.Reward{}, errors.Wrap(err, "updating reward")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return reward.Reward{}, reward.ErrNotFound
	}
	return rwd, nil
}

// RedeemReward performs the whole redemption in one transaction, locking
// the reward row so two concurrent redemptions of the last unit cannot
// both succeed.
func (repo *RewardRepository) RedeemReward(ctx context.Context, userID, rewardID, code string, now time.Time) (reward.Redemption, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return reward.Redemption{}, errors.Wrap(err, "beginning transaction")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer tx.Rollback()

	var row rewardRow
	if err = tx.GetContext(ctx, &row, `SELECT `+rewardColumns+` FROM store_rewards WHERE id = $1 FOR UPDATE`, rewardID); err != nil {
		if err == sql.ErrNoRows {
			return reward.Redemption{}, reward.ErrNotFound
		}
		return reward.Redemption{}, errors.Wrap(err, "locking reward")
	}
	if row.Stock == 0 {
		return reward.Redemption{}, reward.ErrOutOfStock
	}

	if row.MaxPerUser > 0 {
		var n int
		err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM redemptions WHERE user_id = $1 AND reward_id = $2 AND status <> $3`,
			userID, rewardID, reward.RedemptionCancelled).Scan(&n)
		if err != nil {
			return reward.Redemption{}, errors.Wrap(err, "counting redemptions")
		}
		if n >= row.MaxPerUser {
			return reward.Redemption{}, reward.ErrRedemptionLimit
		}
	}

	red := reward.Redemption{
		UserID:    userID,
		RewardID:  rewardID,
		Cost:      row.Cost,
		Status:    reward.RedemptionPending,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = tx.QueryRowContext(ctx, `
	INSERT INTO redemptions (user_id, reward_id, cost, status, code, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`,
		red.UserID, red.RewardID, red.Cost, red.Status, red.Code, red.CreatedAt, red.UpdatedAt,
	).Scan(&red.ID)
	if err != nil {
		return reward.Redemption{}, errors.Wrap(err, "inserting redemption")
	}

	if _, _, err = applyToWallet(ctx, tx, userID, -row.Cost, reward.TxRewardPurchase, "Reward redeemed: "+row.Name, red.ID); err != nil {
		return reward.Redemption{}, err
	}

	if row.Stock != reward.UnlimitedStock {
		if _, err = tx.ExecContext(ctx,
			`UPDATE store_rewards SET stock = stock - 1, updated_at = $2 WHERE id = $1`, rewardID, now); err != nil {
			return reward.Redemption{}, errors.Wrap(err, "decrementing stock")
		}
	}

	if err = tx.Commit(); err != nil {
		return reward.Redemption{}, errors.Wrap(err, "committing redemption")
	}
	return red, nil
}

type redemptionRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	RewardID  string    `db:"reward_id"`
	Cost      int       `db:"cost"`
	Status    string    `db:"status"`
	Code      string    `db:"code"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const redemptionColumns = `id, user_id, reward_id, cost, status, code, created_at, updated_at`

func (repo *RewardRepository) GetRedemption(ctx context.Context, id string) (reward.Redemption, error) {
	var row redemptionRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+redemptionColumns+` FROM redemptions WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return reward.Redemption{}, reward.ErrNotFound
		}
		return reward.Redemption{}, errors.Wrap(err, "selecting redemption")
	}
	return reward.Redemption(row), nil
}

func (repo *RewardRepository) QueryRedemptions(ctx context.Context, userID string) ([]reward.Redemption, error) {
	var rows []redemptionRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+redemptionColumns+` FROM redemptions WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting redemptions")
	}
	reds := make([]reward.Redemption, len(rows))
	for i, row := range rows {
		reds[i] = reward.Redemption(row)
	}
	return reds, nil
}

func (repo *RewardRepository) UpdateRedemptionStatus(ctx context.Context, id, status string) (reward.Redemption, error) {
	var row redemptionRow
	err := repo.db.GetContext(ctx, &row, `
	UPDATE redemptions SET status = $2, updated_at = $3 WHERE id = $1
	RETURNING `+redemptionColumns, id, status, time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return reward.Redemption{}, reward.ErrNotFound
		}
		return reward.Redemption{}, errors.Wrap(err, "updating redemption")
	}
	return reward.Redemption(row), nil
}

// CancelRedemption reverses a redemption in one transaction: restores stock
// and refunds the cost.
func (repo *RewardRepository) CancelRedemption(ctx context.Context, id string) (reward.Redemption, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return reward.Redemption{}, errors.Wrap(err, "beginning transaction")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer tx.Rollback()

	var row redemptionRow
	if err = tx.GetContext(ctx, &row, `SELECT `+redemptionColumns+` FROM redemptions WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return reward.Redemption{}, reward.ErrNotFound
		}
		return reward.Redemption{}, errors.Wrap(err, "locking redemption")
	}
	if row.Status == reward.RedemptionDelivered || row.Status == reward.RedemptionCancelled {
		return reward.Redemption{}, reward.ErrNotCancellable
	}

	now := time.Now().UTC()
	row.Status = reward.RedemptionCancelled
	row.UpdatedAt = now
	if _, err = tx.ExecContext(ctx,
		`UPDATE redemptions SET status = $2, updated_at = $3 WHERE id = $1`, id, row.Status, now); err != nil {
		return reward.Redemption{}, errors.Wrap(err, "cancelling redemption")
	}

	if _, err = tx.ExecContext(ctx, `
	UPDATE store_rewards SET stock = stock + 1, updated_at = $2 WHERE id = $1 AND stock <> $3`,
		row.RewardID, now, reward.UnlimitedStock); err != nil {
		return reward.Redemption{}, errors.Wrap(err, "restoring stock")
	}

	if _, _, err = applyToWallet(ctx, tx, row.UserID, row.Cost, reward.TxRefund, "Redemption cancelled", row.ID); err != nil {
		return reward.Redemption{}, err
	}

	if err = tx.Commit(); err != nil {
		return reward.Redemption{}, errors.Wrap(err, "committing cancellation")
	}
	return reward.Redemption(row), nil
}
