package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/benmeehan/knock-agent/internal/mocks"
	"github.com/benmeehan/knock-agent/internal/models"
	"github.com/benmeehan/knock-agent/internal/observability"
	"github.com/benmeehan/knock-agent/internal/services"
	"github.com/benmeehan/knock-agent/internal/store"
	"github.com/benmeehan/knock-agent/pkg/jwt"
	"github.com/benmeehan/knock-agent/pkg/location"
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type apiFixture struct {
	positions *mocks.PositionSource
	store     *store.KnockStore
	handlers  *Handlers
	router    *gin.Engine
}

func newAPIFixture(t *testing.T, auth jwt.JWTManagerInterface) *apiFixture {
	t.Helper()
	canvasser := new(mocks.CanvasserInfo)
	canvasser.On("GetCanvasserID").Return("rep-1").Maybe()
	canvasser.On("GetCanvasserName").Return("Dana").Maybe()

	f := &apiFixture{
		positions: new(mocks.PositionSource),
		store:     store.NewKnockStore("", nil, zerolog.Nop()),
	}
	metrics := observability.NewMetrics()
	flow := services.NewKnockService(f.positions, f.store, nil, canvasser,
		location.DefaultThresholds, location.DefaultAcquirerConfig(), metrics, zerolog.Nop())

	f.handlers = &Handlers{
		Knocks:     f.store,
		KnockFlow:  flow,
		Positions:  f.positions,
		Thresholds: location.DefaultThresholds,
		Hub:        NewKnockHub(f.store, zerolog.Nop()),
		Logger:     zerolog.Nop(),
	}
	f.router = NewRouter(f.handlers, metrics, auth)
	return f
}

func (f *apiFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) seed(t *testing.T, lat, lng float64, outcome models.Outcome, canvasser string) models.Knock {
	t.Helper()
	k, err := f.store.Create(models.NewKnock{Lat: lat, Lng: lng, Accuracy: 6, Outcome: outcome, CanvasserID: canvasser})
	require.NoError(t, err)
	return k
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func fix(accuracy float64) *location.Position {
	return &location.Position{Latitude: 40.7128, Longitude: -74.006, Accuracy: accuracy, Timestamp: time.Now()}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "knock_")
}

func TestLogKnock_Created(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(http.MethodPost, "/v1/knocks", map[string]interface{}{
		"result":   "signed_up",
		"notes":    "wants a yard sign",
		"address":  "12 Main St",
		"position": fix(7),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res services.LogResult
	decode(t, w, &res)
	require.NotNil(t, res.Knock)
	assert.Equal(t, location.RatingGood, res.Rating)
	assert.Equal(t, "12 Main St", res.Knock.Address)
	assert.Equal(t, "rep-1", res.Knock.CanvasserID)
	assert.Equal(t, 1, f.store.Len())
}

func TestLogKnock_NeedsConfirmation(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(http.MethodPost, "/v1/knocks", map[string]interface{}{"result": "not_home", "position": fix(45)})
	require.Equal(t, http.StatusAccepted, w.Code)

	var res services.LogResult
	decode(t, w, &res)
	assert.True(t, res.NeedsConfirmation)
	assert.Nil(t, res.Knock)
	assert.Equal(t, location.RatingPoor, res.Rating)
	assert.Equal(t, 0, f.store.Len())

	w = f.do(http.MethodPost, "/v1/knocks", map[string]interface{}{"result": "not_home", "position": fix(45), "confirmed": true})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, f.store.Len())
}

func TestLogKnock_BadInput(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(http.MethodPost, "/v1/knocks", map[string]interface{}{"result": "maybe", "position": fix(5)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/v1/knocks", map[string]interface{}{"result": "callback", "position": map[string]float64{"lat": 120, "lng": 0}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/knocks", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogKnock_LocationFailure(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.positions.On("AcquireBest", mock.Anything, mock.Anything, mock.Anything).
		Return(location.Position{}, location.NewLocationError(location.CodePermissionDenied, nil))

	w := f.do(http.MethodPost, "/v1/knocks", map[string]interface{}{"result": "signed_up"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body errorResponse
	decode(t, w, &body)
	assert.Equal(t, "permission_denied", body.Code)
	assert.Equal(t, location.ErrorMessage(location.CodePermissionDenied), body.Error)
}

func TestKnocksInBounds(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seed(t, 40.71, -74.00, models.OutcomeNotHome, "rep-1")
	f.seed(t, 41.50, -74.00, models.OutcomeNotHome, "rep-1")

	w := f.do(http.MethodGet, "/v1/knocks?min_lat=40&max_lat=41&min_lng=-75&max_lng=-73", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Knocks []models.Knock `json:"knocks"`
	}
	decode(t, w, &body)
	require.Len(t, body.Knocks, 1)
	assert.Equal(t, 40.71, body.Knocks[0].Lat)

	w = f.do(http.MethodGet, "/v1/knocks?min_lat=40&max_lat=41", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/v1/knocks?min_lat=42&max_lat=41&min_lng=-75&max_lng=-73", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/v1/knocks?min_lat=0&max_lat=1&min_lng=0&max_lng=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"knocks":[]}`, w.Body.String())
}

func TestKnockCRUD(t *testing.T) {
	f := newAPIFixture(t, nil)
	k := f.seed(t, 40.71, -74.00, models.OutcomeNotHome, "rep-1")

	w := f.do(http.MethodGet, "/v1/knocks/"+k.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Knock
	decode(t, w, &got)
	assert.Equal(t, k.ID, got.ID)

	w = f.do(http.MethodPatch, "/v1/knocks/"+k.ID, map[string]string{"result": "callback", "notes": "come back at 6"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &got)
	assert.Equal(t, models.OutcomeCallback, got.Outcome)
	assert.Equal(t, "come back at 6", got.Notes)

	w = f.do(http.MethodPatch, "/v1/knocks/"+k.ID, map[string]string{"result": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/v1/knocks/"+k.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodDelete, "/v1/knocks/"+k.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/v1/knocks/"+k.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPatch, "/v1/knocks/missing", map[string]string{"notes": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKnocksTodayAndByCanvasser(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seed(t, 40.71, -74.00, models.OutcomeSignedUp, "rep-1")
	f.seed(t, 40.72, -74.01, models.OutcomeNotHome, "rep-2")
	f.seed(t, 40.73, -74.02, models.OutcomeCallback, "rep-2")

	var body struct {
		Knocks []models.Knock `json:"knocks"`
	}
	w := f.do(http.MethodGet, "/v1/knocks/today", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Len(t, body.Knocks, 3)

	w = f.do(http.MethodGet, "/v1/canvassers/rep-2/knocks?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	require.Len(t, body.Knocks, 1)
	assert.Equal(t, "rep-2", body.Knocks[0].CanvasserID)

	w = f.do(http.MethodGet, "/v1/canvassers/rep-2/knocks?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seed(t, 40.71, -74.00, models.OutcomeSignedUp, "rep-1")
	f.seed(t, 40.72, -74.01, models.OutcomeNotHome, "rep-1")

	w := f.do(http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Stats models.KnockStats `json:"stats"`
	}
	decode(t, w, &body)
	assert.Equal(t, models.KnockStats{Total: 2, SignedUp: 1, NotHome: 1}, body.Stats)

	w = f.do(http.MethodGet, "/v1/stats?from=2020-01-01T00:00:00Z&to=2020-01-02T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Equal(t, models.KnockStats{}, body.Stats)

	w = f.do(http.MethodGet, "/v1/stats?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/v1/stats?from=2020-01-02T00:00:00Z&to=2020-01-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPosition(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.positions.On("AcquireQuick", mock.Anything).Return(*fix(3), nil)
	f.positions.On("AcquireBest", mock.Anything, time.Duration(0), 0.0).
		Return(location.Position{}, location.NewLocationError(location.CodeTimeout, nil))

	w := f.do(http.MethodGet, "/v1/position?mode=quick", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pos positionResponse
	decode(t, w, &pos)
	assert.Equal(t, location.RatingExcellent, pos.Rating)
	assert.Equal(t, 40.7128, pos.Position.Latitude)

	w = f.do(http.MethodGet, "/v1/position", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body errorResponse
	decode(t, w, &body)
	assert.Equal(t, "timeout", body.Code)

	w = f.do(http.MethodGet, "/v1/position?mode=slow", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.positions.AssertExpectations(t)
}

func TestDistance(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(http.MethodGet, "/v1/distance?lat1=0&lng1=0&lat2=0&lng2=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Meters float64 `json:"meters"`
	}
	decode(t, w, &body)
	assert.InDelta(t, 111195, body.Meters, 10)

	w = f.do(http.MethodGet, "/v1/distance?lat1=0&lng1=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthRequired(t *testing.T) {
	fileOps := new(mocks.FileOperations)
	fileOps.On("ReadFileRaw", "secret").Return([]byte("field-secret"), nil)
	jm := jwt.NewJWTManager(fileOps)
	require.NoError(t, jm.Initialize("secret"))

	f := newAPIFixture(t, jm)

	w := f.do(http.MethodGet, "/v1/knocks/today", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// health stays open
	w = f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	tok, err := jm.IssueToken("rep-1", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/knocks/today", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_KnockFeedOverWebSocket(t *testing.T) {
	f := newAPIFixture(t, nil)
	srv := NewServer("127.0.0.1:0", time.Second, f.router, f.handlers.Hub, zerolog.Nop())
	require.NoError(t, srv.Start())
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Addr().String()+"/v1/ws/knocks", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.handlers.Hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	k := f.seed(t, 40.71, -74.00, models.OutcomeSignedUp, "rep-1")

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var ev models.KnockEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, models.KnockInserted, ev.Type)
	assert.Equal(t, k.ID, ev.Knock.ID)

	require.NoError(t, srv.Stop())
	assert.Equal(t, 0, f.handlers.Hub.Len())
	assert.Nil(t, srv.Addr())
}

func TestServer_StartTwice(t *testing.T) {
	srv := NewServer("127.0.0.1:0", time.Second, http.NotFoundHandler(), nil, zerolog.Nop())
	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start())
	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}

func dialFeed(t *testing.T, patterns []string, origin string) (*http.Response, error) {
	t.Helper()
	f := newAPIFixture(t, nil)
	f.handlers.OriginPatterns = patterns
	srv := NewServer("127.0.0.1:0", time.Second, f.router, f.handlers.Hub, zerolog.Nop())
	require.NoError(t, srv.Start())
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, "ws://"+srv.Addr().String()+"/v1/ws/knocks", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{origin}},
	})
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	return resp, err
}

func TestServer_KnockFeedOriginCheck(t *testing.T) {
	resp, err := dialFeed(t, nil, "http://elsewhere.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, err = dialFeed(t, []string{"maps.example.org"}, "https://maps.example.org")
	assert.NoError(t, err)
}
