package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kydenul/luckydraw"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func userToken(t *testing.T, userID int64) string {
	return signToken(t, jwt.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
}

type testServer struct {
	router   *gin.Engine
	store    *luckydraw.MemoryStore
	activity *luckydraw.Activity
}

func newTestServer(t *testing.T, maxDraws int, prizes ...luckydraw.Prize) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	store := luckydraw.NewMemoryStore()
	activity := &luckydraw.Activity{Name: "Spring", MaxDraws: maxDraws}
	require.NoError(t, store.SaveActivity(ctx, activity))
	for i := range prizes {
		prizes[i].ActivityID = activity.ID
		require.NoError(t, store.SavePrize(ctx, &prizes[i]))
	}

	engine := luckydraw.NewEngine(store, luckydraw.NewContextIdentityResolver())
	engine.SetRandomSource(luckydraw.NewFixedRandomSource(0.1))

	return &testServer{
		router:   NewRouter(NewHandler(engine, nil), testSecret),
		store:    store,
		activity: activity,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func goldPrize(qty int) luckydraw.Prize {
	return luckydraw.Prize{Name: "Gold", Quantity: qty, Probability: decimal.RequireFromString("0.5")}
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, 5, goldPrize(1))

	t.Run("missing header", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/luckydraw/activity/list", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, luckydraw.ErrCodeUnauthorized, decodeError(t, w).Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": 1})
		signed, err := token.SignedString([]byte("other"))
		require.NoError(t, err)
		w := s.do(t, http.MethodGet, "/api/luckydraw/activity/list", signed, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"userId": 1, "exp": time.Now().Add(-time.Minute).Unix()})
		w := s.do(t, http.MethodGet, "/api/luckydraw/activity/list", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, decodeError(t, w).Message, "expired")
	})

	t.Run("no user id", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"role": "admin"})
		w := s.do(t, http.MethodGet, "/api/luckydraw/activity/list", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("fractional user id", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"userId": 1.9})
		w := s.do(t, http.MethodGet, "/api/luckydraw/activity/list", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, decodeError(t, w).Message, "not an integer")
	})

	t.Run("subject claim", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"sub": "42"})
		w := s.do(t, http.MethodGet, "/api/luckydraw/user/activity/"+strconv.FormatInt(s.activity.ID, 10), token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var info luckydraw.UserActivityInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
		assert.Equal(t, int64(42), info.UserID)
	})
}

func TestPerformDraw(t *testing.T) {
	s := newTestServer(t, 5, goldPrize(1))
	token := userToken(t, 7)

	w := s.do(t, http.MethodPost, "/api/luckydraw/draw/single", token, gin.H{"activityId": s.activity.ID})
	require.Equal(t, http.StatusOK, w.Code)

	var result luckydraw.DrawResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.NotNil(t, result.PrizeID)
	assert.Equal(t, "Gold", result.PrizeName)

	// 库存已耗尽, 第二次为未中奖
	w = s.do(t, http.MethodPost, "/api/luckydraw/draw/single", token, gin.H{"activityId": s.activity.ID})
	require.Equal(t, http.StatusOK, w.Code)
	result = luckydraw.DrawResult{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Nil(t, result.PrizeID)
	assert.Equal(t, luckydraw.LossPrizeName, result.PrizeName)
}

func TestPerformDrawErrors(t *testing.T) {
	s := newTestServer(t, 2, goldPrize(10))
	token := userToken(t, 7)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   luckydraw.ErrorCode
	}{
		{"missing activity", "/api/luckydraw/draw/single", gin.H{}, http.StatusBadRequest, luckydraw.ErrCodeInvalidRequest},
		{"unknown activity", "/api/luckydraw/draw/single", gin.H{"activityId": 999}, http.StatusNotFound, luckydraw.ErrCodeActivityNotFound},
		{"count too large", "/api/luckydraw/draw/multiple", gin.H{"activityId": s.activity.ID, "drawCount": 11}, http.StatusBadRequest, luckydraw.ErrCodeInvalidRequest},
		{"over quota", "/api/luckydraw/draw/multiple", gin.H{"activityId": s.activity.ID, "drawCount": 3}, http.StatusConflict, luckydraw.ErrCodeDrawLimitReached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, tt.path, token, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestPerformMultipleDraws(t *testing.T) {
	s := newTestServer(t, 5, goldPrize(2))
	token := userToken(t, 9)

	w := s.do(t, http.MethodPost, "/api/luckydraw/draw/multiple", token,
		gin.H{"activityId": s.activity.ID, "drawCount": 3})
	require.Equal(t, http.StatusOK, w.Code)

	var resp MultipleDrawResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.TotalDraws)
	assert.Len(t, resp.Results, 3)
	assert.NotEmpty(t, resp.BatchID)

	wins := 0
	for _, r := range resp.Results {
		if r.PrizeID != nil {
			wins++
		}
	}
	assert.Equal(t, 2, wins)

	w = s.do(t, http.MethodGet, "/api/luckydraw/user/activity/"+strconv.FormatInt(s.activity.ID, 10), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info luckydraw.UserActivityInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, 3, info.CurrentDraws)
	assert.Equal(t, 2, info.RemainingDraws)
}

func TestNoPrizesConfigured(t *testing.T) {
	s := newTestServer(t, 5)
	token := userToken(t, 1)

	w := s.do(t, http.MethodPost, "/api/luckydraw/draw/single", token, gin.H{"activityId": s.activity.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, luckydraw.ErrCodeNoPrizesAvailable, decodeError(t, w).Code)
}

func TestListAndHistory(t *testing.T) {
	s := newTestServer(t, 5, goldPrize(1))
	token := userToken(t, 3)

	w := s.do(t, http.MethodGet, "/api/luckydraw/activity/list", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []luckydraw.ActivityInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Spring", list[0].Name)
	assert.Len(t, list[0].Prizes, 1)

	s.do(t, http.MethodPost, "/api/luckydraw/draw/multiple", token, gin.H{"activityId": s.activity.ID, "drawCount": 2})

	path := "/api/luckydraw/user/activity/" + strconv.FormatInt(s.activity.ID, 10) + "/history"
	w = s.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []luckydraw.DrawHistoryItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	assert.Len(t, items, 2)

	// 其他用户看不到这些记录
	w = s.do(t, http.MethodGet, path, userToken(t, 4), nil)
	require.Equal(t, http.StatusOK, w.Code)
	items = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	assert.Empty(t, items)

	w = s.do(t, http.MethodGet, "/api/luckydraw/user/activity/abc/history", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   luckydraw.ErrorCode
	}{
		{luckydraw.ErrInvalidRequest, http.StatusBadRequest, luckydraw.ErrCodeInvalidRequest},
		{luckydraw.ErrActivityNotFound, http.StatusNotFound, luckydraw.ErrCodeActivityNotFound},
		{luckydraw.ErrDrawLimitExceeded, http.StatusConflict, luckydraw.ErrCodeDrawLimitReached},
		{luckydraw.ErrLockTimeout, http.StatusServiceUnavailable, luckydraw.ErrCodeSystemBusy},
		{luckydraw.ErrCircuitBreakerOpen, http.StatusServiceUnavailable, luckydraw.ErrCodeSystemBusy},
		{luckydraw.ErrConfigInvalid, http.StatusInternalServerError, luckydraw.ErrCodeInternal},
		{assert.AnError, http.StatusInternalServerError, luckydraw.ErrCodeInternal},
	}

	for _, tt := range tests {
		status, code := StatusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
