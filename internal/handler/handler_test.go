package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/cache/memory"
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/mail"
	"github.com/prn-tf/quill/internal/pkg/crypto"
	"github.com/prn-tf/quill/internal/ratelimit"
	"github.com/prn-tf/quill/internal/repository"
	"github.com/prn-tf/quill/internal/repository/sqlite"
	"github.com/prn-tf/quill/internal/service"
	"github.com/prn-tf/quill/internal/storage"
)

var (
	pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

	verifyLinkPattern = regexp.MustCompile(`verify-account/([0-9a-f]+)`)
	resetLinkPattern  = regexp.MustCompile(`reset-password/([0-9a-f]+)`)
	otpPattern        = regexp.MustCompile(`<h2>(\d{6})</h2>`)
)

// captureSender records every message instead of sending it.
type captureSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (c *captureSender) Send(ctx context.Context, msg mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureSender) extract(t *testing.T, kind mail.Kind, pattern *regexp.Regexp) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Kind == kind {
			m := pattern.FindStringSubmatch(c.sent[i].HTML)
			require.Len(t, m, 2, "no match in %s message", kind)
			return m[1]
		}
	}
	t.Fatalf("no %s message sent", kind)
	return ""
}

func (c *captureSender) sentOf(kind mail.Kind) []mail.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []mail.Message
	for _, m := range c.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type testServer struct {
	handler http.Handler
	mail    *captureSender
	repos   *repository.Repositories
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(":memory:"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))
	repos := db.Repositories()

	backend, err := storage.NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	images := storage.NewImageStore(backend, "/images", 1<<20, logger)

	cache := memory.NewCache()
	t.Cleanup(cache.Stop)
	loginLimiter := ratelimit.New(cache, "login", ratelimit.Config{Enabled: true, Attempts: 3, Window: time.Minute})

	tokens := auth.NewTokenManager(auth.TokenConfig{Secret: []byte("test-secret"), Issuer: "quill", TTL: time.Hour})
	sender := &captureSender{}
	locker := lock.NewMemoryLocker()

	accounts := service.NewAccountService(
		repos.User, crypto.NewPasswordHasher(4), tokens, sender,
		mail.Templates{BaseURL: "http://localhost"}, locker, nil, logger,
		service.DefaultAccountConfig(),
	).WithLimiters(loginLimiter, nil)
	social := service.NewSocialService(repos.User, repos.Relationship, logger)
	profiles := service.NewProfileService(repos.User, images, locker, logger)
	posts := service.NewPostService(repos.Post, repos.Category, repos.Comment, repos.Relationship, repos.Tx, images, logger)
	categories := service.NewCategoryService(repos.Category, repos.Post, repos.Tx, logger)
	comments := service.NewCommentService(repos.Comment, repos.Post, logger)

	home, err := NewHomeHandler("test", logger)
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		UserHandler: NewUserHandler(UserHandlerConfig{
			AccountService: accounts,
			SocialService:  social,
			ProfileService: profiles,
			MaxImageSize:   1 << 20,
			Logger:         logger,
		}),
		PostHandler:     NewPostHandler(PostHandlerConfig{PostService: posts, MaxImageSize: 1 << 20, Logger: logger}),
		CategoryHandler: NewCategoryHandler(categories, logger),
		CommentHandler:  NewCommentHandler(comments, logger),
		ImageHandler:    NewImageHandler(images, logger),
		HomeHandler:     home,
		Gate:            NewGate(auth.NewVerifier(tokens, repos.User)),
		Health:          db,
		Logger:          logger,
	})

	return &testServer{handler: router.Handler(), mail: sender, repos: repos}
}

type response struct {
	Code    int         `json:"-"`
	Header  http.Header `json:"-"`
	Raw     []byte      `json:"-"`

	Status  string          `json:"status"`
	ErrCode string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *testServer) send(t *testing.T, req *http.Request, token string) response {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	res := response{Code: rec.Code, Header: rec.Header(), Raw: rec.Body.Bytes()}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	}
	return res
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.send(t, req, token)
}

func (s *testServer) upload(t *testing.T, method, path, token, field string, fields map[string]string) response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if field != "" {
		part, err := w.CreateFormFile(field, "picture.png")
		require.NoError(t, err)
		_, err = part.Write(pngImage)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return s.send(t, req, token)
}

func dataAs[T any](t *testing.T, res response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(res.Data, &v), string(res.Data))
	return v
}

type userBody struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	IsVerified bool      `json:"is_verified"`
	ProfilePic struct {
		URL string `json:"url"`
	} `json:"profile_pic"`
}

type sessionBody struct {
	User  userBody `json:"user"`
	Token string   `json:"token"`
}

type postBody struct {
	ID         uuid.UUID   `json:"id"`
	Title      string      `json:"title"`
	AuthorID   uuid.UUID   `json:"author"`
	PostViews  int64       `json:"post_views"`
	Likes      []uuid.UUID `json:"likes"`
	Dislikes   []uuid.UUID `json:"dislikes"`
	LikesCount int         `json:"likes_count"`
	Image      struct {
		URL string `json:"url"`
	} `json:"image"`
}

// signup registers and logs in a user, optionally verifying the account.
func (s *testServer) signup(t *testing.T, name string, verified bool) sessionBody {
	t.Helper()
	res := s.do(t, http.MethodPost, "/api/v1/users/register", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "Secret1!",
	})
	require.Equal(t, http.StatusCreated, res.Code, string(res.Raw))

	res = s.do(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{
		"email": name + "@example.com", "password": "Secret1!",
	})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	session := dataAs[sessionBody](t, res)

	if verified {
		res = s.do(t, http.MethodPost, "/api/v1/users/account-verification-email", session.Token, nil)
		require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
		token := s.mail.extract(t, mail.KindAccountVerification, verifyLinkPattern)
		res = s.do(t, http.MethodPost, "/api/v1/users/verify-account/"+token, "", nil)
		require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	}
	return session
}

func (s *testServer) createPost(t *testing.T, token, title string) postBody {
	t.Helper()
	res := s.upload(t, http.MethodPost, "/api/v1/posts", token, "image", map[string]string{
		"title": title, "content": "content of " + title,
	})
	require.Equal(t, http.StatusCreated, res.Code, string(res.Raw))
	return dataAs[postBody](t, res)
}

func TestHealthAndNotFound(t *testing.T) {
	s := newTestServer(t)

	res := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "healthy", res.Status)

	res = s.do(t, http.MethodGet, "/api/v1/nothing-here", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, "failed", res.Status)
	assert.Equal(t, "Cannot find route /api/v1/nothing-here", res.Message)

	res = s.send(t, httptest.NewRequest(http.MethodGet, "/", nil), "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, string(res.Raw), "/api/v1")
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	session := s.signup(t, "alice", false)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "alice", session.User.Username)

	res := s.do(t, http.MethodPost, "/api/v1/users/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "Secret1!",
	})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = s.do(t, http.MethodPost, "/api/v1/users/register", "", map[string]string{
		"username": "bob", "email": "not-an-email", "password": "Secret1!",
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "failed", res.Status)

	// The password hash never leaves the server.
	assert.NotContains(t, string(res.Raw), "password_hash")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", bytes.NewBufferString("{"))
	res = s.send(t, req, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "alice", false)

	body := map[string]string{"email": "alice@example.com", "password": "wrong-password"}
	for i := 0; i < 3; i++ {
		res := s.do(t, http.MethodPost, "/api/v1/users/login", "", body)
		require.Equal(t, http.StatusUnauthorized, res.Code)
	}

	res := s.do(t, http.MethodPost, "/api/v1/users/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, res.Code)
	assert.NotEmpty(t, res.Header.Get("Retry-After"))
}

func TestAuthGate(t *testing.T) {
	s := newTestServer(t)
	session := s.signup(t, "alice", false)

	res := s.do(t, http.MethodGet, "/api/v1/users/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, string(auth.CodeNoToken), res.ErrCode)
	assert.Equal(t, "failed", res.Status)

	res = s.do(t, http.MethodGet, "/api/v1/users/profile", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, string(auth.CodeMalformedOrExpiredToken), res.ErrCode)

	res = s.do(t, http.MethodGet, "/api/v1/users/profile", session.Token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	profile := dataAs[map[string]any](t, res)
	assert.Equal(t, "alice", profile["username"])
	assert.Contains(t, profile, "followers")

	// Unverified accounts cannot create posts.
	res = s.upload(t, http.MethodPost, "/api/v1/posts", session.Token, "image", map[string]string{
		"title": "Hello", "content": "world",
	})
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestChangePasswordInvalidatesOldToken(t *testing.T) {
	s := newTestServer(t)
	session := s.signup(t, "alice", false)

	res := s.do(t, http.MethodPut, "/api/v1/users/change-password", session.Token, map[string]string{
		"current_password": "Secret1!", "new_password": "Secret2!",
	})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	fresh := dataAs[sessionBody](t, res)

	res = s.do(t, http.MethodGet, "/api/v1/users/profile", session.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, string(auth.CodeStaleCredential), res.ErrCode)

	res = s.do(t, http.MethodGet, "/api/v1/users/profile", fresh.Token, nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestPasswordReset(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "alice", false)

	res := s.do(t, http.MethodPost, "/api/v1/users/forgot-password", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = s.do(t, http.MethodPost, "/api/v1/users/forgot-password", "", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	token := s.mail.extract(t, mail.KindPasswordReset, resetLinkPattern)

	res = s.do(t, http.MethodPut, "/api/v1/users/reset-password/deadbeef", "", map[string]string{"password": "Secret2!"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodPut, "/api/v1/users/reset-password/"+token, "", map[string]string{"password": "Secret2!"})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	// The token is single use.
	res = s.do(t, http.MethodPut, "/api/v1/users/reset-password/"+token, "", map[string]string{"password": "Secret3!"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{
		"email": "alice@example.com", "password": "Secret2!",
	})
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestAccountLifecycle(t *testing.T) {
	s := newTestServer(t)
	session := s.signup(t, "alice", false)
	login := map[string]string{"email": "alice@example.com", "password": "Secret1!"}

	res := s.do(t, http.MethodPut, "/api/v1/users/deactivate", session.Token, nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = s.do(t, http.MethodGet, "/api/v1/users/profile", session.Token, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Equal(t, string(auth.CodeSubjectInactive), res.ErrCode)

	res = s.do(t, http.MethodPost, "/api/v1/users/login", "", login)
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = s.do(t, http.MethodPut, "/api/v1/users/reactivate", session.Token, nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = s.do(t, http.MethodPut, "/api/v1/users/reactivate", session.Token, nil)
	assert.Equal(t, http.StatusConflict, res.Code)

	res = s.do(t, http.MethodDelete, "/api/v1/users/delete-account", session.Token, nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = s.do(t, http.MethodGet, "/api/v1/users/profile", session.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, string(auth.CodeSubjectDeleted), res.ErrCode)

	res = s.do(t, http.MethodPost, "/api/v1/users/login", "", login)
	assert.Equal(t, http.StatusForbidden, res.Code)

	// Restore with the emailed code.
	res = s.do(t, http.MethodPost, "/api/v1/users/request-otp", "", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	code := s.mail.extract(t, mail.KindOTP, otpPattern)

	res = s.do(t, http.MethodPost, "/api/v1/users/verify-otp", "", map[string]string{"email": "alice@example.com", "otp": code})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	restored := dataAs[sessionBody](t, res)

	res = s.do(t, http.MethodGet, "/api/v1/users/profile", restored.Token, nil)
	assert.Equal(t, http.StatusOK, res.Code)

	res = s.do(t, http.MethodPost, "/api/v1/users/verify-otp", "", map[string]string{"email": "alice@example.com", "otp": code})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestDeleteInactiveAccount(t *testing.T) {
	s := newTestServer(t)
	session := s.signup(t, "alice", false)

	res := s.do(t, http.MethodPut, "/api/v1/users/deactivate", session.Token, nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = s.do(t, http.MethodDelete, "/api/v1/users/delete-account", session.Token, nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = s.do(t, http.MethodGet, "/api/v1/users/profile", session.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, string(auth.CodeSubjectDeleted), res.ErrCode)

	// A deleted token can reach the lifecycle routes but not delete twice
	// or ask for a verification link.
	res = s.do(t, http.MethodDelete, "/api/v1/users/delete-account", session.Token, nil)
	assert.Equal(t, http.StatusConflict, res.Code)

	res = s.do(t, http.MethodPost, "/api/v1/users/account-verification-email", session.Token, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Empty(t, s.mail.sentOf(mail.KindAccountVerification))
}

func TestSocialGraph(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice", true)
	bob := s.signup(t, "bob", false)

	res := s.do(t, http.MethodPut, "/api/v1/users/follow/"+alice.User.ID.String(), alice.Token, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodPut, "/api/v1/users/follow/not-a-uuid", bob.Token, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodPut, "/api/v1/users/follow/"+uuid.NewString(), bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = s.do(t, http.MethodPut, "/api/v1/users/follow/"+alice.User.ID.String(), bob.Token, nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = s.do(t, http.MethodGet, "/api/v1/users/view-other-profile/"+alice.User.ID.String(), bob.Token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	profile := dataAs[struct {
		Followers      []uuid.UUID `json:"followers"`
		ProfileViewers []uuid.UUID `json:"profile_viewers"`
	}](t, res)
	assert.Equal(t, []uuid.UUID{bob.User.ID}, profile.Followers)
	assert.Equal(t, []uuid.UUID{bob.User.ID}, profile.ProfileViewers)

	// Posts by an author who blocked the viewer leave the viewer's feed.
	s.createPost(t, alice.Token, "Hello")

	res = s.do(t, http.MethodGet, "/api/v1/posts", bob.Token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, dataAs[listResponse](t, res).Items, 1)

	res = s.do(t, http.MethodPut, "/api/v1/users/block/"+bob.User.ID.String(), alice.Token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	res = s.do(t, http.MethodPut, "/api/v1/users/block/"+bob.User.ID.String(), alice.Token, nil)
	assert.Equal(t, http.StatusConflict, res.Code)

	res = s.do(t, http.MethodGet, "/api/v1/posts", bob.Token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Empty(t, dataAs[listResponse](t, res).Items)

	// Anonymous readers still see it.
	res = s.do(t, http.MethodGet, "/api/v1/posts", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, dataAs[listResponse](t, res).Items, 1)

	res = s.do(t, http.MethodPut, "/api/v1/users/unblock/"+bob.User.ID.String(), alice.Token, nil)
	assert.Equal(t, http.StatusOK, res.Code)
	res = s.do(t, http.MethodPut, "/api/v1/users/unblock/"+bob.User.ID.String(), alice.Token, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestPosts(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice", true)
	bob := s.signup(t, "bob", false)

	post := s.createPost(t, alice.Token, "Hello")
	assert.Equal(t, alice.User.ID, post.AuthorID)

	// The uploaded image is served back.
	res := s.send(t, httptest.NewRequest(http.MethodGet, post.Image.URL, nil), "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	assert.Equal(t, pngImage, res.Raw)

	res = s.upload(t, http.MethodPost, "/api/v1/posts", alice.Token, "", map[string]string{"title": "No image", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.upload(t, http.MethodPost, "/api/v1/posts", alice.Token, "image", map[string]string{"title": "Hello", "content": "x"})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = s.do(t, http.MethodGet, "/api/v1/posts/"+post.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 1, dataAs[postBody](t, res).PostViews)

	res = s.do(t, http.MethodPut, "/api/v1/posts/"+post.ID.String()+"/like", bob.Token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	liked := dataAs[postBody](t, res)
	assert.Equal(t, []uuid.UUID{bob.User.ID}, liked.Likes)
	assert.Equal(t, 1, liked.LikesCount)

	res = s.do(t, http.MethodPut, "/api/v1/posts/"+post.ID.String()+"/dislike", bob.Token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	disliked := dataAs[postBody](t, res)
	assert.Empty(t, disliked.Likes)
	assert.Equal(t, []uuid.UUID{bob.User.ID}, disliked.Dislikes)

	res = s.do(t, http.MethodPut, "/api/v1/posts/"+post.ID.String()+"/clap", bob.Token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, map[string]int64{"claps": 1}, dataAs[map[string]int64](t, res))

	title := "Hello again"
	res = s.do(t, http.MethodPut, "/api/v1/posts/"+post.ID.String(), bob.Token, map[string]*string{"title": &title})
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = s.do(t, http.MethodPut, "/api/v1/posts/"+post.ID.String(), alice.Token, map[string]*string{"title": &title})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	assert.Equal(t, title, dataAs[postBody](t, res).Title)

	res = s.do(t, http.MethodPut, "/api/v1/posts/"+post.ID.String()+"/schedule", alice.Token, map[string]time.Time{
		"scheduled_publish": time.Now().Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodPut, "/api/v1/posts/"+post.ID.String()+"/schedule", alice.Token, map[string]time.Time{
		"scheduled_publish": time.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = s.do(t, http.MethodGet, "/api/v1/posts", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Empty(t, dataAs[listResponse](t, res).Items)

	res = s.do(t, http.MethodDelete, "/api/v1/posts/"+post.ID.String(), bob.Token, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = s.do(t, http.MethodDelete, "/api/v1/posts/"+post.ID.String(), alice.Token, nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = s.do(t, http.MethodGet, "/api/v1/posts/"+post.ID.String(), "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestCategoriesAndComments(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice", true)
	bob := s.signup(t, "bob", false)

	res := s.do(t, http.MethodPost, "/api/v1/categories", alice.Token, map[string]string{"name": "Go"})
	require.Equal(t, http.StatusCreated, res.Code, string(res.Raw))
	category := dataAs[struct {
		ID uuid.UUID `json:"id"`
	}](t, res)

	res = s.do(t, http.MethodPost, "/api/v1/categories", bob.Token, map[string]string{"name": "Go"})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = s.do(t, http.MethodPut, "/api/v1/categories/"+category.ID.String(), bob.Token, map[string]string{"name": "Golang"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = s.upload(t, http.MethodPost, "/api/v1/posts", alice.Token, "image", map[string]string{
		"title": "Hello", "content": "world", "category": category.ID.String(),
	})
	require.Equal(t, http.StatusCreated, res.Code, string(res.Raw))
	post := dataAs[postBody](t, res)

	res = s.do(t, http.MethodGet, "/api/v1/categories/"+category.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, string(res.Data), post.ID.String())

	res = s.do(t, http.MethodPost, "/api/v1/comments/"+post.ID.String(), bob.Token, map[string]string{"message": "nice"})
	require.Equal(t, http.StatusCreated, res.Code, string(res.Raw))
	comment := dataAs[struct {
		ID uuid.UUID `json:"id"`
	}](t, res)

	res = s.do(t, http.MethodPost, "/api/v1/comments/"+post.ID.String(), bob.Token, map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodGet, "/api/v1/comments/post/"+post.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, dataAs[[]json.RawMessage](t, res), 1)

	res = s.do(t, http.MethodPut, "/api/v1/comments/"+comment.ID.String(), alice.Token, map[string]string{"message": "edited"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	// The post author may remove comments on their post.
	res = s.do(t, http.MethodDelete, "/api/v1/comments/"+comment.ID.String(), alice.Token, nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = s.do(t, http.MethodGet, "/api/v1/comments/"+comment.ID.String(), "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = s.do(t, http.MethodDelete, "/api/v1/categories/"+category.ID.String(), alice.Token, nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))

	res = s.do(t, http.MethodGet, "/api/v1/posts/"+post.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotContains(t, string(res.Data), category.ID.String())
}

func TestProfileImage(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice", false)

	res := s.upload(t, http.MethodPut, "/api/v1/users/profile-image", alice.Token, "file", nil)
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	user := dataAs[userBody](t, res)
	assert.Regexp(t, `^/images/images/[0-9a-f]{2}/[0-9a-f]{2}/[0-9a-f]{64}\.png$`, user.ProfilePic.URL)

	res = s.upload(t, http.MethodPut, "/api/v1/users/cover-image", alice.Token, "", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.send(t, httptest.NewRequest(http.MethodGet, "/images/images/00/00/missing.png", nil), "")
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"too many attempts", &service.RateLimitError{Scope: "login", RetryAfter: time.Minute}, http.StatusTooManyRequests},
		{"email", service.ErrEmailDelivery, http.StatusBadGateway},
		{"internal", service.ErrInternalError, http.StatusInternalServerError},
		{"unknown", assert.AnError, http.StatusInternalServerError},
		{"stale", auth.ErrStaleCredential, http.StatusUnauthorized},
		{"inactive", auth.ErrSubjectInactive, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := classify(tt.err)
			assert.Equal(t, tt.status, status)
			if status == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", message)
			}
		})
	}
}

func TestWriteErrorDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	writeError(rec, req, assert.AnError)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())

	rec = httptest.NewRecorder()
	writeError(rec, req.WithContext(withErrorDetail(req.Context())), assert.AnError)
	assert.Contains(t, rec.Body.String(), assert.AnError.Error())

	rec = httptest.NewRecorder()
	writeError(rec, req, &service.RateLimitError{RetryAfter: 1500 * time.Millisecond})
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}
