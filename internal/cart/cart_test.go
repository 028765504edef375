package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/casca-store/storefront/internal/auth"
	"github.com/casca-store/storefront/internal/configuration"
	"github.com/casca-store/storefront/internal/store"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce(t *testing.T) {
	a := models.CartItem{ConfigID: "a"}
	b := models.CartItem{ConfigID: "b"}

	items, err := Reduce(nil, Add(a))
	require.NoError(t, err)
	items, err = Reduce(items, Add(b))
	require.NoError(t, err)
	assert.Equal(t, []models.CartItem{a, b}, items)

	same, err := Reduce(items, Add(models.CartItem{ConfigID: "a", AddedAt: 99}))
	require.NoError(t, err)
	assert.Equal(t, items, same)

	removed, err := Reduce(items, Remove(0))
	require.NoError(t, err)
	assert.Equal(t, []models.CartItem{b}, removed)
	assert.Len(t, items, 2, "input must not change")

	_, err = Reduce(items, Remove(5))
	assert.ErrorIs(t, err, ErrInvalidIndex)

	cleared, err := Reduce(items, Clear())
	require.NoError(t, err)
	assert.Empty(t, cleared)
	assert.NotNil(t, cleared)
}

func TestReduce_CartFull(t *testing.T) {
	var items []models.CartItem
	for i := 0; i < MaxItems; i++ {
		var err error
		items, err = Reduce(items, Add(models.CartItem{ImageURL: strings.Repeat("x", i+1)}))
		require.NoError(t, err)
	}
	_, err := Reduce(items, Add(models.CartItem{ConfigID: "one-more"}))
	assert.ErrorIs(t, err, ErrCartFull)
}

func TestBus(t *testing.T) {
	bus := NewBus()
	var first, second []Event
	unsubscribe := bus.Subscribe(func(e Event) { first = append(first, e) })
	bus.Subscribe(func(e Event) { second = append(second, e) })

	bus.Publish(Event{Action: ActionAdd, Count: 1})
	unsubscribe()
	bus.Publish(Event{Action: ActionClear})

	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
	assert.Equal(t, ActionClear, second[1].Action)
}

type testServer struct {
	router *mux.Router
	store  *store.MemoryStore
	events []Event
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	ts := &testServer{store: store.NewMemoryStore()}
	bus := NewBus()
	bus.Subscribe(func(e Event) { ts.events = append(ts.events, e) })
	h := NewHandler(NewSessionStore([]byte("0123456789abcdef0123456789abcdef"), false), configuration.NewResolver(ts.store, logger), bus, logger)

	r := mux.NewRouter()
	r.HandleFunc("/api/cart", h.GetCart).Methods(http.MethodGet)
	r.HandleFunc("/api/cart", h.AddItem).Methods(http.MethodPost)
	r.HandleFunc("/api/cart", h.ClearCart).Methods(http.MethodDelete)
	r.HandleFunc("/api/cart/{index}", h.RemoveItem).Methods(http.MethodDelete)
	ts.router = r
	return ts
}

// do sends a request carrying cookies and returns the response along with
// the cookies to send next time.
func (ts *testServer) do(t *testing.T, method, target, body string, cookies []*http.Cookie, user *auth.User) (*httptest.ResponseRecorder, []*http.Cookie) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if set := rec.Result().Cookies(); len(set) > 0 {
		cookies = set
	}
	return rec, cookies
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) cartResponse {
	t.Helper()
	var resp cartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandler_CartLifecycle(t *testing.T) {
	ts := newTestServer(t)
	user := &auth.User{ID: "user-1"}

	rec, cookies := ts.do(t, http.MethodGet, "/api/cart", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeCart(t, rec).Count)

	rec, cookies = ts.do(t, http.MethodPost, "/api/cart", `{"imageUrl":"/gallery/koi.png"}`, cookies, user)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decodeCart(t, rec)
	require.Len(t, added.Items, 1)
	assert.NotEmpty(t, added.Items[0].ConfigID)
	assert.NotZero(t, added.Items[0].AddedAt)

	cfg, err := ts.store.FindConfigurationByImageURL(context.Background(), "/gallery/koi.png")
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, added.Items[0].ConfigID)

	rec, cookies = ts.do(t, http.MethodPost, "/api/cart", `{"configId":"`+cfg.ID+`"}`, cookies, user)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, decodeCart(t, rec).Count)

	rec, cookies = ts.do(t, http.MethodGet, "/api/cart", "", cookies, nil)
	assert.Equal(t, 1, decodeCart(t, rec).Count)

	rec, cookies = ts.do(t, http.MethodDelete, "/api/cart/3", "", cookies, user)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, cookies = ts.do(t, http.MethodDelete, "/api/cart/0", "", cookies, user)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeCart(t, rec).Count)

	rec, _ = ts.do(t, http.MethodGet, "/api/cart", "", cookies, nil)
	assert.Equal(t, 0, decodeCart(t, rec).Count)

	require.Len(t, ts.events, 3)
	assert.Equal(t, "user-1", ts.events[0].UserID)
	assert.Equal(t, ActionAdd, ts.events[0].Action)
	assert.Equal(t, ActionRemove, ts.events[2].Action)
}

func TestHandler_AddItemValidation(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/cart", `{}`, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "imageUrl is required")

	rec, _ = ts.do(t, http.MethodPost, "/api/cart", `{"configId":"missing"}`, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, ts.events)
}

func TestHandler_ClearCart(t *testing.T) {
	ts := newTestServer(t)
	_, cookies := ts.do(t, http.MethodPost, "/api/cart", `{"imageUrl":"/a.png"}`, nil, nil)
	_, cookies = ts.do(t, http.MethodPost, "/api/cart", `{"imageUrl":"/b.png"}`, cookies, nil)

	rec, cookies := ts.do(t, http.MethodDelete, "/api/cart", "", cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeCart(t, rec).Count)

	rec, _ = ts.do(t, http.MethodGet, "/api/cart", "", cookies, nil)
	assert.Equal(t, 0, decodeCart(t, rec).Count)
	assert.Equal(t, "", ts.events[len(ts.events)-1].UserID)
}

func TestSessionStore_TamperedCookie(t *testing.T) {
	s := NewSessionStore([]byte("0123456789abcdef0123456789abcdef"), false)
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.AddCookie(&http.Cookie{Name: sessionName, Value: "garbage"})

	items, err := s.Items(req)
	assert.Error(t, err)
	assert.Empty(t, items)
}

func TestHandler_FullCartFitsCookie(t *testing.T) {
	ts := newTestServer(t)
	user := &auth.User{ID: "user-1"}

	// Generated images carry the whole prompt in their URL.
	prompt := strings.Repeat("a%20watercolor%20koi%20", 30)
	var cookies []*http.Cookie
	for i := 0; i < MaxItems; i++ {
		url := fmt.Sprintf("https://image.pollinations.ai/prompt/%s?width=512&height=512&seed=%d", prompt, i)
		body, err := json.Marshal(map[string]string{"imageUrl": url})
		require.NoError(t, err)

		var rec *httptest.ResponseRecorder
		rec, cookies = ts.do(t, http.MethodPost, "/api/cart", string(body), cookies, user)
		require.Equal(t, http.StatusCreated, rec.Code, "item %d: %s", i, rec.Body.String())
	}

	rec, cookies := ts.do(t, http.MethodGet, "/api/cart", "", cookies, nil)
	full := decodeCart(t, rec)
	require.Len(t, full.Items, MaxItems)
	assert.Contains(t, full.Items[MaxItems-1].ImageURL, fmt.Sprintf("seed=%d", MaxItems-1))
	assert.Contains(t, full.Items[0].ImageURL, prompt)

	rec, _ = ts.do(t, http.MethodPost, "/api/cart", `{"imageUrl":"/gallery/one-more.png"}`, cookies, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cart is full")
}

func TestSessionStore_OversizedCart(t *testing.T) {
	s := NewSessionStore([]byte("0123456789abcdef0123456789abcdef"), false)
	items := []models.CartItem{{ConfigID: strings.Repeat("c", 5000), AddedAt: 1}}

	rec := httptest.NewRecorder()
	err := s.Save(rec, httptest.NewRequest(http.MethodPost, "/api/cart", nil), items)
	assert.ErrorIs(t, err, ErrCartFull)
	assert.Empty(t, rec.Result().Cookies())
}

func TestSessionStore_RoundTripKeepsConfigOnly(t *testing.T) {
	s := NewSessionStore([]byte("0123456789abcdef0123456789abcdef"), false)
	rec := httptest.NewRecorder()
	require.NoError(t, s.Save(rec, httptest.NewRequest(http.MethodPost, "/api/cart", nil), []models.CartItem{
		{ConfigID: "cfg-1", ImageURL: "https://utfs.io/f/koi.png", AddedAt: 42},
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	items, err := s.Items(req)
	require.NoError(t, err)
	assert.Equal(t, []models.CartItem{{ConfigID: "cfg-1", AddedAt: 42}}, items)
}
