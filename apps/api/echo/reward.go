package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/reward"
)

type rewardAPI struct {
	svc reward.ServiceInterface
}

func registerRewardAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc reward.ServiceInterface) {
	api := rewardAPI{svc: svc}

	wg := g.Group("/wallet", jwt)
	wg.GET("", api.wallet)
	wg.GET("/transactions", api.transactions)
	wg.POST("/grant", api.grantBonus, adminMiddleware())

	ag := g.Group("/achievements", jwt)
	ag.GET("", api.achievements)
	ag.POST("", api.createAchievement, adminMiddleware())
	ag.GET("/mine", api.userAchievements)

	lg := g.Group("/leaderboards", jwt)
	lg.GET("", api.leaderboards)
	lg.POST("", api.createLeaderboard, adminMiddleware())
	lg.GET("/:id/rankings", api.rankings)
	lg.POST("/:id/recompute", api.recompute, adminMiddleware())
	lg.POST("/:id/claim", api.claimRankingReward, studentMiddleware())

	sg := g.Group("/store", jwt)
	sg.GET("", api.rewards)
	sg.POST("", api.createReward, adminMiddleware())
	sg.POST("/:id/redeem", api.redeem, studentMiddleware())
	sg.GET("/redemptions", api.redemptions)
	sg.PATCH("/redemptions/:id/status", api.updateRedemptionStatus, adminMiddleware())
	sg.POST("/redemptions/:id/cancel", api.cancelRedemption)
}

func (api *rewardAPI) wallet(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	wlt, err := api.svc.Wallet(c.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wlt)
}

func (api *rewardAPI) transactions(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	page := core.Pagination{
		Limit:  intQueryParam(c, "limit", 50),
		Offset: intQueryParam(c, "offset", 0),
	}

	txs, err := api.svc.Transactions(c.Request().Context(), claims.Subject, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, txs)
}

func intQueryParam(c echo.Context, name string, fallback int) int {
	if raw := c.QueryParam(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

func (api *rewardAPI) grantBonus(c echo.Context) error {
	var gb reward.GrantBonus
	if err := c.Bind(&gb); err != nil {
		return err
	}
	if err := gb.Validate(); err != nil {
		return err
	}

	tx, err := api.svc.GrantAdminBonus(c.Request().Context(), gb)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tx)
}

func (api *rewardAPI) achievements(c echo.Context) error {
	achs, err := api.svc.Achievements(c.Request().Context())
	if err != nil {
		return err
	}
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	if claims.isAdmin() {
		return c.JSON(http.StatusOK, achs)
	}

	// hide secret achievements the caller has not unlocked yet
	uas, err := api.svc.UserAchievements(c.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	unlocked := make(map[string]bool, len(uas))
	for _, ua := range uas {
		unlocked[ua.AchievementID] = true
	}
	visible := make([]reward.Achievement, 0, len(achs))
	for _, ach := range achs {
		if !ach.IsSecret || unlocked[ach.ID] {
			visible = append(visible, ach)
		}
	}
	return c.JSON(http.StatusOK, visible)
}

func (api *rewardAPI) createAchievement(c echo.Context) error {
	var na reward.NewAchievement
	if err := c.Bind(&na); err != nil {
		return err
	}
	if err := na.Validate(); err != nil {
		return err
	}

	ach, err := api.svc.CreateAchievement(c.Request().Context(), na)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ach)
}

func (api *rewardAPI) userAchievements(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	uas, err := api.svc.UserAchievements(c.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, uas)
}

func (api *rewardAPI) leaderboards(c echo.Context) error {
	lbs, err := api.svc.Leaderboards(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lbs)
}

func (api *rewardAPI) createLeaderboard(c echo.Context) error {
	var nl reward.NewLeaderboard
	if err := c.Bind(&nl); err != nil {
		return err
	}
	if err := nl.Validate(); err != nil {
		return err
	}

	lb, err := api.svc.CreateLeaderboard(c.Request().Context(), nl)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, lb)
}

func (api *rewardAPI) rankings(c echo.Context) error {
	rnks, err := api.svc.Rankings(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rnks)
}

func (api *rewardAPI) recompute(c echo.Context) error {
	if err := api.svc.UpdateRankings(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (api *rewardAPI) claimRankingReward(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	tx, err := api.svc.ClaimRankingReward(c.Request().Context(), c.Param("id"), claims.Subject)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tx)
}

func (api *rewardAPI) rewards(c echo.Context) error {
	rwds, err := api.svc.Rewards(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rwds)
}

func (api *rewardAPI) createReward(c echo.Context) error {
	var nr reward.NewReward
	if err := c.Bind(&nr); err != nil {
		return err
	}
	if err := nr.Validate(); err != nil {
		return err
	}

	rwd, err := api.svc.CreateReward(c.Request().Context(), nr)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rwd)
}

func (api *rewardAPI) redeem(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	red, err := api.svc.Redeem(c.Request().Context(), claims.Subject, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, red)
}

func (api *rewardAPI) redemptions(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	reds, err := api.svc.Redemptions(c.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reds)
}

type redemptionStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending approved delivered cancelled"`
}

func (api *rewardAPI) updateRedemptionStatus(c echo.Context) error {
	var req redemptionStatusRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := core.Validate.Struct(req); err != nil {
		return err
	}

	red, err := api.svc.UpdateRedemptionStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, red)
}

// cancelRedemption lets a user cancel their own pending redemption.
func (api *rewardAPI) cancelRedemption(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if !claims.isAdmin() {
		// only the owner may cancel
		reds, err := api.svc.Redemptions(ctx, claims.Subject)
		if err != nil {
			return err
		}
		var owned bool
		for _, red := range reds {
			if red.ID == c.Param("id") {
				owned = true
				break
			}
		}
		if !owned {
			return errPermissionDenied
		}
	}

	red, err := api.svc.CancelRedemption(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, red)
}
