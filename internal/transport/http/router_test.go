package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/health"
	"timecapsule/backend/internal/mailer"
	"timecapsule/backend/internal/pool"
	"timecapsule/backend/internal/scheduler"
	"timecapsule/backend/internal/service"
	"timecapsule/backend/internal/storage/filesystem"
	"timecapsule/backend/internal/storage/memory"
)

const testPassword = "correct-horse-battery-staple"

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSender struct {
	mu   sync.Mutex
	sent []mailer.Email
}

func (s *stubSender) Send(_ context.Context, email mailer.Email) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, email)
	return true
}

func (s *stubSender) sentTo(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.sent {
		if e.To == addr {
			n++
		}
	}
	return n
}

type testEnv struct {
	router *gin.Engine
	store  *memory.Store
	locker *memory.Locker
	sender *stubSender
	auth   *auth.Service
	jobRan chan struct{}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()

	cfg := &config.Config{
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
		JWT:     config.JWTConfig{Secret: "test-secret-key-for-development-32-chars-long", Issuer: "timecapsule", AccessExpiry: 15 * time.Minute, RefreshExpiry: time.Hour},
		Storage: config.StorageConfig{MaxUploadSize: 1024},
		App:     config.AppConfig{Name: "TimeCapsule", BaseURL: "http://localhost:8080"},
	}

	store := memory.NewStore()
	locker := memory.NewLocker()
	sender := &stubSender{}
	blobs, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)

	authSvc := auth.NewService(store, store, auth.NewJWTManager(&cfg.JWT), sender, auth.Options{BaseURL: cfg.App.BaseURL}, log)
	messageSvc := service.NewMessageService(store, blobs, sender, service.MessageOptions{MaxUploadSize: cfg.Storage.MaxUploadSize}, log)
	deliverySvc := service.NewDeliveryService(store, sender, locker, service.DeliveryOptions{}, log)

	jobRan := make(chan struct{}, 1)
	sched := scheduler.New(pool.NewWorkerPool(1, 1, log), log)
	require.NoError(t, sched.Register(scheduler.Job{
		Name:     "noop",
		Interval: time.Hour,
		Run: func(context.Context) error {
			jobRan <- struct{}{}
			return nil
		},
	}))

	router := NewRouter(RouterDependencies{
		Config:          cfg,
		AuthService:     authSvc,
		MessageService:  messageSvc,
		DeliveryService: deliverySvc,
		AdminService:    service.NewAdminService(store, log),
		Jobs:            sched,
		Health:          health.NewHealthChecker(store, log),
		Logger:          log,
	})

	return &testEnv{router: router, store: store, locker: locker, sender: sender, auth: authSvc, jobRan: jobRan}
}

// seedUser 直接写入一个可登录的用户并返回访问令牌
func (e *testEnv) seedUser(t *testing.T, email string, role domain.UserRole) (*domain.User, string) {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)

	now := time.Now().UTC()
	user := &domain.User{
		ID:           strings.SplitN(email, "@", 2)[0],
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.store.CreateUser(user))

	resp, err := e.auth.Login(email, testPassword)
	require.NoError(t, err)
	return user, resp.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.serve(t, req, token)
}

func (e *testEnv) serve(t *testing.T, req *http.Request, token string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

// decodeData 将响应中的 data 字段解码到 out
func decodeData(t *testing.T, resp Response, out any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w, _ = env.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_Auth(t *testing.T) {
	env := newTestEnv(t)

	t.Run("注册成功", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/auth/register", "", gin.H{
			"name": "Alice", "email": "alice@example.com", "password": testPassword,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var user userResponse
		decodeData(t, resp, &user)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.False(t, user.IsVerified)
		assert.Equal(t, 1, env.sender.sentTo("alice@example.com"))
	})

	t.Run("重复注册返回409", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/auth/register", "", gin.H{
			"email": "alice@example.com", "password": testPassword,
		})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "该邮箱已被注册", resp.Msg)
	})

	t.Run("弱密码返回400", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPost, "/v1/auth/register", "", gin.H{
			"email": "bob@example.com", "password": "short",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("JSON登录", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{
			"email": "alice@example.com", "password": testPassword,
		})
		require.Equal(t, http.StatusOK, w.Code)

		var out authResponse
		decodeData(t, resp, &out)
		assert.NotEmpty(t, out.AccessToken)
		assert.Equal(t, "Bearer", out.TokenType)

		w, resp = env.do(t, http.MethodGet, "/v1/auth/me", out.AccessToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var me userResponse
		decodeData(t, resp, &me)
		assert.Equal(t, "alice@example.com", me.Email)
	})

	t.Run("密码错误返回401", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{
			"email": "alice@example.com", "password": "wrong-password-123",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("表单登录返回OAuth2令牌", func(t *testing.T) {
		form := url.Values{"username": {"alice@example.com"}, "password": {testPassword}}
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w, _ := env.serve(t, req, "")
		require.Equal(t, http.StatusOK, w.Code)

		var token tokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))
		assert.NotEmpty(t, token.AccessToken)
		assert.Equal(t, "bearer", token.TokenType)
	})

	t.Run("验证链接无效", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/auth/verify?token=nope", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("未认证访问me", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRouter_Messages(t *testing.T) {
	env := newTestEnv(t)
	owner, token := env.seedUser(t, "owner@example.com", domain.RoleUser)
	_, otherToken := env.seedUser(t, "other@example.com", domain.RoleUser)
	future := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)

	var created messageResponse

	t.Run("创建信件", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/messages", token, gin.H{
			"recipientEmail": "future@example.com",
			"subject":        "Hello",
			"content":        "From the past",
			"scheduledDate":  future,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		decodeData(t, resp, &created)
		assert.False(t, created.IsSent)
		assert.True(t, created.ScheduledDate.Equal(future))
	})

	t.Run("收件人地址过长", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/messages", token, gin.H{
			"recipientEmail": strings.Repeat("a", 60) + "@" + strings.Repeat("b", 250) + ".com",
			"subject":        "Long",
			"content":        "Too long",
			"scheduledDate":  future,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "邮箱地址过长", resp.Msg)
	})

	t.Run("过去的投递时间被拒绝且不保存", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/messages", token, gin.H{
			"recipientEmail": "future@example.com",
			"subject":        "Late",
			"content":        "Too late",
			"scheduledDate":  time.Now().UTC().Add(-time.Minute),
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Scheduled date must be in the future", resp.Msg)

		list, err := env.store.ListMessagesByUser(owner.ID, 0, 100)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("未认证返回401", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/messages", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("列出与获取", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/messages?skip=0&limit=1000", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list messageListResponse
		decodeData(t, resp, &list)
		assert.Equal(t, 1, list.Count)
		assert.Equal(t, service.MaxListLimit, list.Limit)

		w, _ = env.do(t, http.MethodGet, "/v1/messages/"+created.ID, token, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("非法分页参数", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/messages?skip=-1", token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("其他用户不可见", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/messages/"+created.ID, otherToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w, _ = env.do(t, http.MethodDelete, "/v1/messages/"+created.ID, otherToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("删除信件", func(t *testing.T) {
		w, _ := env.do(t, http.MethodDelete, "/v1/messages/"+created.ID, token, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w, _ = env.do(t, http.MethodGet, "/v1/messages/"+created.ID, token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func multipartRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/messages/with-attachment", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRouter_MessageWithAttachment(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "owner@example.com", domain.RoleUser)
	fields := map[string]string{
		"recipientEmail": "future@example.com",
		"subject":        "With file",
		"content":        "See attached",
		"scheduledDate":  time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
	}

	t.Run("上传成功", func(t *testing.T) {
		w, resp := env.serve(t, multipartRequest(t, fields, "photo.PNG", []byte("png-bytes")), token)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var msg messageResponse
		decodeData(t, resp, &msg)
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, "photo.PNG", msg.Attachments[0].Filename)
		assert.Equal(t, int64(len("png-bytes")), msg.Attachments[0].Size)
	})

	t.Run("不带文件时创建无附件信件", func(t *testing.T) {
		w, resp := env.serve(t, multipartRequest(t, fields, "", nil), token)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var msg messageResponse
		decodeData(t, resp, &msg)
		assert.Equal(t, "With file", msg.Subject)
		assert.Empty(t, msg.Attachments)
	})

	t.Run("附件过大", func(t *testing.T) {
		w, _ := env.serve(t, multipartRequest(t, fields, "big.bin", bytes.Repeat([]byte("x"), 2048)), token)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestRouter_SendScheduled(t *testing.T) {
	env := newTestEnv(t)
	owner, userToken := env.seedUser(t, "owner@example.com", domain.RoleUser)
	_, adminToken := env.seedUser(t, "admin@example.com", domain.RoleAdmin)

	require.NoError(t, env.store.SaveMessage(&domain.Message{
		ID:             "due-1",
		UserID:         owner.ID,
		RecipientEmail: "future@example.com",
		Subject:        "Due",
		Content:        "Now",
		ScheduledDate:  time.Now().UTC().Add(-time.Minute),
		CreatedAt:      time.Now().UTC().Add(-time.Hour),
	}))

	t.Run("普通用户无权触发", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPost, "/v1/messages/send-scheduled", userToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("锁被占用时返回409", func(t *testing.T) {
		release, ok, err := env.locker.TryLock(context.Background(), "delivery-sweep", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		defer release()

		w, _ := env.do(t, http.MethodPost, "/v1/messages/send-scheduled", adminToken, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("管理员触发投递", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/messages/send-scheduled", adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var result service.SweepResult
		decodeData(t, resp, &result)
		assert.Equal(t, 1, result.Due)
		assert.Equal(t, 1, result.Sent)
		assert.Equal(t, 1, env.sender.sentTo("future@example.com"))

		msg, err := env.store.GetMessage(owner.ID, "due-1")
		require.NoError(t, err)
		assert.True(t, msg.IsSent)
	})

	t.Run("再次触发不会重复发送", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/messages/send-scheduled", adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var result service.SweepResult
		decodeData(t, resp, &result)
		assert.Equal(t, 0, result.Due)
		assert.Equal(t, 1, env.sender.sentTo("future@example.com"))
	})
}

func TestRouter_Admin(t *testing.T) {
	env := newTestEnv(t)
	plain, userToken := env.seedUser(t, "plain@example.com", domain.RoleUser)
	_, adminToken := env.seedUser(t, "admin@example.com", domain.RoleAdmin)
	_, superToken := env.seedUser(t, "root@example.com", domain.RoleSuper)

	t.Run("普通用户无权访问", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/admin/users", userToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("列出用户", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/admin/users", adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var out service.ListUsersOutput
		decodeData(t, resp, &out)
		assert.Equal(t, 3, out.Total)
	})

	t.Run("禁用用户后其令牌失效", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPatch, "/v1/admin/users/"+plain.ID, adminToken, gin.H{"isActive": false})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w, _ = env.do(t, http.MethodGet, "/v1/messages", userToken, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("普通管理员不能修改角色", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPatch, "/v1/admin/users/"+plain.ID, adminToken, gin.H{"role": "admin"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("用户不存在", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/admin/users/missing", adminToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("任务列表与触发", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/admin/jobs", adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"noop"`)

		w, _ = env.do(t, http.MethodPost, "/v1/admin/jobs/noop/trigger", adminToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w, _ = env.do(t, http.MethodPost, "/v1/admin/jobs/noop/trigger", superToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		select {
		case <-env.jobRan:
		default:
			t.Fatal("job did not run")
		}

		w, _ = env.do(t, http.MethodPost, "/v1/admin/jobs/missing/trigger", superToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
