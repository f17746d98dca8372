package main

import (
	"context"
	"fmt"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/reward"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/storage/database"
)

var defaultAchievements = []reward.NewAchievement{
	{Name: "First Steps", Description: "Complete your first lesson", Tier: reward.TierBronze, ForeReward: 10, RequiredLessons: 1},
	{Name: "Quiz Rookie", Description: "Pass your first quiz", Tier: reward.TierBronze, ForeReward: 15, RequiredQuizzes: 1},
	{Name: "Course Finisher", Description: "Complete your first course", Tier: reward.TierSilver, ForeReward: 50, RequiredCourses: 1},
	{Name: "Dedicated Learner", Description: "Complete 25 lessons", Tier: reward.TierSilver, ForeReward: 75, RequiredLessons: 25},
	{Name: "Quiz Master", Description: "Pass 20 quizzes", Tier: reward.TierGold, ForeReward: 100, RequiredQuizzes: 20},
	{Name: "Week Warrior", Description: "Learn 7 days in a row", Tier: reward.TierGold, ForeReward: 100, RequiredStreakDays: 7},
	{Name: "Polyglot in Training", Description: "Complete 5 courses", Tier: reward.TierPlatinum, ForeReward: 250, RequiredCourses: 5},
	{Name: "Token Collector", Description: "Earn 1000 FORE tokens", Tier: reward.TierPlatinum, ForeReward: 200, RequiredTokens: 1000},
	{Name: "Unstoppable", Description: "Learn 30 days in a row", Tier: reward.TierDiamond, ForeReward: 500, RequiredStreakDays: 30},
	{Name: "Founding Scholar", Description: "Be among the first ten to complete 10 courses", Tier: reward.TierDiamond, ForeReward: 1000, RequiredCourses: 10, IsSecret: true, MaxRecipients: 10},
}

var defaultLeaderboards = []reward.NewLeaderboard{
	{Name: "Daily Token Race", Category: reward.CategoryTokens, Period: reward.PeriodDaily, FirstPlaceReward: 50, SecondPlaceReward: 30, ThirdPlaceReward: 15, MaxPositions: 10},
	{Name: "Weekly Token Race", Category: reward.CategoryTokens, Period: reward.PeriodWeekly, FirstPlaceReward: 200, SecondPlaceReward: 100, ThirdPlaceReward: 50, MaxPositions: 25},
	{Name: "Monthly Course Champions", Category: reward.CategoryCourses, Period: reward.PeriodMonthly, FirstPlaceReward: 500, SecondPlaceReward: 250, ThirdPlaceReward: 100, MaxPositions: 25},
	{Name: "Weekly Lesson Grind", Category: reward.CategoryLessons, Period: reward.PeriodWeekly, FirstPlaceReward: 100, SecondPlaceReward: 60, ThirdPlaceReward: 30, MaxPositions: 25},
	{Name: "Quiz Hall of Fame", Category: reward.CategoryQuizzes, Period: reward.PeriodAllTime, FirstPlaceReward: 300, SecondPlaceReward: 150, ThirdPlaceReward: 75, MaxPositions: 50},
}

var defaultRewards = []reward.NewReward{
	{Name: "1:1 Conversation Session", Description: "A 30-minute conversation session with a teacher", Category: "tutoring", Cost: 500, Stock: reward.UnlimitedStock, MaxPerUser: 4},
	{Name: "Premium Course Unlock", Description: "Unlock any premium course of your choice", Category: "courses", Cost: 1000, Stock: reward.UnlimitedStock, MaxPerUser: 0},
	{Name: "Branded Notebook", Description: "A Cash for English notebook, shipped to you", Category: "merchandise", Cost: 750, Stock: 100, MaxPerUser: 1},
	{Name: "Certificate of Achievement", Description: "A printed, signed certificate for a completed course", Category: "merchandise", Cost: 300, Stock: reward.UnlimitedStock, MaxPerUser: 0},
	{Name: "Amazon Gift Card ($10)", Description: "A $10 Amazon gift card code", Category: "gift_cards", Cost: 2000, Stock: 50, MaxPerUser: 2},
}

// initData seeds the default achievements, leaderboards and store rewards.
// Entries whose name already exists are skipped, so the command can be rerun.
func initData() error {
	return withDB(func(db dbHandle) error {
		ctx := context.Background()
		svc := reward.NewService(database.NewRewardRepository(db), nil)

		var created, skipped int

		achs, err := svc.Achievements(ctx)
		if err != nil {
			return err
		}
		achNames := make(map[string]bool, len(achs))
		for _, ach := range achs {
			achNames[ach.Name] = true
		}
		for _, na := range defaultAchievements {
			if achNames[na.Name] {
				skipped++
				continue
			}
			if _, err = svc.CreateAchievement(ctx, na); err != nil {
				return err
			}
			created++
		}

		lbs, err := svc.Leaderboards(ctx)
		if err != nil {
			return err
		}
		lbNames := make(map[string]bool, len(lbs))
		for _, lb := range lbs {
			lbNames[lb.Name] = true
		}
		for _, nl := range defaultLeaderboards {
			if lbNames[nl.Name] {
				skipped++
				continue
			}
			if _, err = svc.CreateLeaderboard(ctx, nl); err != nil {
				return err
			}
			created++
		}

		rwds, err := svc.Rewards(ctx)
		if err != nil {
			return err
		}
		rwdNames := make(map[string]bool, len(rwds))
		for _, rwd := range rwds {
			rwdNames[rwd.Name] = true
		}
		for _, nr := range defaultRewards {
			if rwdNames[nr.Name] {
				skipped++
				continue
			}
			if _, err = svc.CreateReward(ctx, nr); err != nil {
				return err
			}
			created++
		}

		fmt.Printf("initdata: %d created, %d skipped\n", created, skipped)
		return nil
	})
}
