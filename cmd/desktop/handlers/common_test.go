package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/auth"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
	syncpkg "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/conflict"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/merge"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/network"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/queue"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/sync/transport"
)

// testEnv wires a real engine against an accepting fake remote. The
// network starts offline so saves do not sync in the background.
type testEnv struct {
	ctx      context.Context
	repo     *db.Repository
	queue    *queue.Queue
	engine   *syncpkg.Engine
	resolver *conflict.Resolver
	net      *network.Manual
	router   *gin.Engine
}

func remoteServer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sync/push":
			var req transport.PushRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			resp := transport.PushResponse{}
			for _, op := range req.Operations {
				resp.Results = append(resp.Results, transport.PushResult{ID: op.ID, Status: transport.StatusSuccess})
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/sync/pull":
			_, _ = w.Write([]byte(`{"syncedAt":"2024-01-10T00:00:00Z","changes":{}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logging.Init(io.Discard, logging.LevelError)

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })

	remote := httptest.NewServer(remoteServer())
	t.Cleanup(remote.Close)

	repo := db.NewRepository(database.DB)
	reg := merge.NewRegistry()
	reg.Register("products", nil)
	q := queue.New(repo, reg)
	net := network.NewManual(false)
	merger := merge.NewEngine(reg)

	engine, err := syncpkg.NewEngine(syncpkg.Options{
		Repo:    repo,
		Queue:   q,
		Merger:  merger,
		Client:  transport.NewHTTPClient(remote.URL, 5*time.Second),
		Auth:    auth.StaticToken("test-token"),
		Network: net,
		Clock:   func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	env := &testEnv{
		ctx:      context.Background(),
		repo:     repo,
		queue:    q,
		engine:   engine,
		resolver: conflict.NewResolver(repo, q, merger),
		net:      net,
		router:   gin.New(),
	}

	api := env.router.Group("/api")
	NewSyncHandler(engine, q).Register(api)
	NewEntityHandler(engine).Register(api)
	NewConflictHandler(env.resolver).Register(api)
	NewNetworkHandler(net).Register(api)
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// data decodes the "data" member of a success response into v.
func data(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code apperrors.ErrorCode
		want int
	}{
		{apperrors.ErrValidation, http.StatusBadRequest},
		{apperrors.ErrNotFound, http.StatusNotFound},
		{apperrors.ErrAuthentication, http.StatusUnauthorized},
		{apperrors.ErrNetwork, http.StatusBadGateway},
		{apperrors.ErrServer, http.StatusBadGateway},
		{apperrors.ErrDatabase, http.StatusInternalServerError},
		{apperrors.ErrInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.code))
		})
	}
}

func TestFormatBindingError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	bind := func(body string) error {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")
		var req ResolveRequest
		return c.ShouldBindJSON(&req)
	}

	assert.Equal(t, "", FormatBindingError(nil))
	assert.Equal(t, "Request body is empty", FormatBindingError(bind("")))
	assert.True(t, strings.HasPrefix(FormatBindingError(bind(`{"strategy" "local"}`)), "Invalid JSON at byte offset"))
	assert.Equal(t, "Field 'strategy' is required", FormatBindingError(bind(`{}`)))
	assert.Equal(t, "Field 'strategy' must be one of [local server merge manual]", FormatBindingError(bind(`{"strategy":"newest"}`)))
	assert.Equal(t, "Field 'strategy' should be of type string", FormatBindingError(bind(`{"strategy":5}`)))
	assert.Equal(t, "boom", FormatBindingError(errors.New("boom")))
}
