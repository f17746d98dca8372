package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/course"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/reward"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/user"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/services/email"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/services/logger"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/storage/inmem"
)

type testServer struct {
	srv       *Server
	userRepo  *inmem.UserRepository
	courseSvc course.ServiceInterface
	rewardSvc reward.ServiceInterface
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	userRepo := inmem.NewUserRepository()
	userSvc := user.NewService(userRepo, email.NewConsoleService())
	rewardSvc := reward.NewService(inmem.NewRewardRepository(), nil)
	courseSvc := course.NewService(inmem.NewCourseRepository(), rewardSvc)
	rewardSvc.SetStatsSource(courseSvc)

	srv := NewServer(Options{
		Logger:    logger.NewStdLogger("test"),
		UserSvc:   userSvc,
		CourseSvc: courseSvc,
		RewardSvc: rewardSvc,
	})
	return &testServer{srv: srv, userRepo: userRepo, courseSvc: courseSvc, rewardSvc: rewardSvc}
}

func (ts *testServer) createUser(t *testing.T, name, uname, emailAddr, pwd string, roles []string) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     emailAddr,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	usr.SetActive(true)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := ts.userRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func (ts *testServer) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(usr)
	if err != nil {
		t.Fatalf("token() failed: %v", err)
	}
	return token
}

func (ts *testServer) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("request() failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode() failed: %v\nbody: %s", err, rec.Body.String())
	}
}

func Test_server_health(t *testing.T) {
	ts := setupServer(t)
	rec := ts.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_server_shutdownErrorSignals(t *testing.T) {
	var signaled bool
	handler := newAppHTTPErrorHandler(logger.NewStdLogger("test"), func() { signaled = true })
	e := echo.New()

	newCtx := func() (echo.Context, *httptest.ResponseRecorder) {
		rec := httptest.NewRecorder()
		return e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/wallet", nil), rec), rec
	}

	c, rec := newCtx()
	handler(core.NewShutdownError("wallet usr1: balance does not match ledger totals"), c)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, signaled)

	// an ordinary server error does not stop the process
	signaled = false
	c, rec = newCtx()
	handler(errors.New("boom"), c)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, signaled)
}

func Test_authApi_registerLoginFlow(t *testing.T) {
	ts := setupServer(t)

	rec := ts.request(t, http.MethodPost, "/v1/auth/register", "", echo.Map{
		"name":             "Maria Lopez",
		"username":         "marialopez",
		"email":            "maria@test.cc",
		"password":         "Tr0ub4dor&Gate",
		"password_confirm": "Tr0ub4dor&Gate",
		"roles":            []string{user.RoleAdmin}, // must be ignored
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var registered user.User
	decode(t, rec, &registered)
	assert.Equal(t, []string{user.RoleStudent}, registered.Roles) // self-registration is student-only
	assert.Empty(t, registered.PasswordHash)

	rec = ts.request(t, http.MethodPost, "/v1/auth/login", "", echo.Map{
		"username": "maria@test.cc",
		"password": "Tr0ub4dor&Gate",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login loginResponse
	decode(t, rec, &login)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, registered.ID, login.User.ID)

	rec = ts.request(t, http.MethodGet, "/v1/auth/me", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me user.User
	decode(t, rec, &me)
	assert.Equal(t, registered.ID, me.ID)

	// wrong password
	rec = ts.request(t, http.MethodPost, "/v1/auth/login", "", echo.Map{
		"username": "maria@test.cc",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_authApi_logout(t *testing.T) {
	ts := setupServer(t)
	usr := ts.createUser(t, "Test Student", "student1", "student@test.cc", "Tr0ub4dor&Gate", user.StudentRoles)
	token := ts.token(t, usr)

	rec := ts.request(t, http.MethodGet, "/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodPost, "/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// a blacklisted token no longer authenticates
	rec = ts.request(t, http.MethodGet, "/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_server_authenticationRequired(t *testing.T) {
	ts := setupServer(t)

	for _, path := range []string{"/v1/auth/me", "/v1/wallet", "/v1/courses", "/v1/store"} {
		rec := ts.request(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func Test_courseApi_roleEnforcement(t *testing.T) {
	ts := setupServer(t)
	student := ts.createUser(t, "Test Student", "student1", "student@test.cc", "", user.StudentRoles)
	teacher := ts.createUser(t, "Test Teacher", "teacher1", "teacher@test.cc", "", user.TeacherRoles)

	body := echo.Map{
		"title":       "English Basics",
		"level":       course.LevelBeginner,
		"status":      course.StatusPublished,
		"fore_reward": 100,
	}
	rec := ts.request(t, http.MethodPost, "/v1/courses", ts.token(t, student), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.request(t, http.MethodPost, "/v1/courses", ts.token(t, teacher), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var crs course.Course
	decode(t, rec, &crs)
	assert.Equal(t, teacher.ID, crs.TeacherID)
}

func Test_courseApi_studentsSeeOnlyPublished(t *testing.T) {
	ts := setupServer(t)
	student := ts.createUser(t, "Test Student", "student1", "student@test.cc", "", user.StudentRoles)
	teacher := ts.createUser(t, "Test Teacher", "teacher1", "teacher@test.cc", "", user.TeacherRoles)

	for _, status := range []string{course.StatusDraft, course.StatusPublished} {
		rec := ts.request(t, http.MethodPost, "/v1/courses", ts.token(t, teacher), echo.Map{
			"title":  "Course " + status,
			"level":  course.LevelBeginner,
			"status": status,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := ts.request(t, http.MethodGet, "/v1/courses", ts.token(t, student), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var visible []course.Course
	decode(t, rec, &visible)
	require.Len(t, visible, 1)
	assert.Equal(t, course.StatusPublished, visible[0].Status)

	rec = ts.request(t, http.MethodGet, "/v1/courses", ts.token(t, teacher), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []course.Course
	decode(t, rec, &all)
	assert.Len(t, all, 2)
}

func Test_rewardApi_redeemFlow(t *testing.T) {
	ts := setupServer(t)
	admin := ts.createUser(t, "Test Admin", "admin01", "admin@test.cc", "", user.AdminRoles)
	student := ts.createUser(t, "Test Student", "student1", "student@test.cc", "", user.StudentRoles)
	adminToken := ts.token(t, admin)
	studentToken := ts.token(t, student)

	rec := ts.request(t, http.MethodPost, "/v1/store", adminToken, echo.Map{
		"name":  "Notebook",
		"cost":  50,
		"stock": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rwd reward.Reward
	decode(t, rec, &rwd)

	// students cannot create store rewards
	rec = ts.request(t, http.MethodPost, "/v1/store", studentToken, echo.Map{"name": "x", "cost": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// no balance yet
	rec = ts.request(t, http.MethodPost, "/v1/store/"+rwd.ID+"/redeem", studentToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodPost, "/v1/wallet/grant", adminToken, echo.Map{
		"user_id": student.ID,
		"amount":  100,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.request(t, http.MethodPost, "/v1/store/"+rwd.ID+"/redeem", studentToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var red reward.Redemption
	decode(t, rec, &red)
	assert.Equal(t, reward.RedemptionPending, red.Status)
	assert.Len(t, red.Code, 8)

	// the only unit is gone
	rec = ts.request(t, http.MethodPost, "/v1/store/"+rwd.ID+"/redeem", studentToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodGet, "/v1/wallet", studentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wlt reward.Wallet
	decode(t, rec, &wlt)
	assert.Equal(t, 50, wlt.Balance)
}

func Test_rewardApi_secretAchievementsHidden(t *testing.T) {
	ts := setupServer(t)
	admin := ts.createUser(t, "Test Admin", "admin01", "admin@test.cc", "", user.AdminRoles)
	student := ts.createUser(t, "Test Student", "student1", "student@test.cc", "", user.StudentRoles)
	adminToken := ts.token(t, admin)

	rec := ts.request(t, http.MethodPost, "/v1/achievements", adminToken, echo.Map{
		"name":             "Hidden Gem",
		"tier":             reward.TierGold,
		"required_lessons": 100,
		"is_secret":        true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = ts.request(t, http.MethodPost, "/v1/achievements", adminToken, echo.Map{
		"name":             "First Steps",
		"tier":             reward.TierBronze,
		"required_lessons": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.request(t, http.MethodGet, "/v1/achievements", ts.token(t, student), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var visible []reward.Achievement
	decode(t, rec, &visible)
	require.Len(t, visible, 1)
	assert.Equal(t, "First Steps", visible[0].Name)

	rec = ts.request(t, http.MethodGet, "/v1/achievements", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []reward.Achievement
	decode(t, rec, &all)
	assert.Len(t, all, 2)
}
