package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/pkg/response"
)

// CounterStore counts hits per key inside a fixed window. Incr records one
// hit and returns the total for the current window plus the instant the
// window resets. Forgive undoes one hit in the current window.
type CounterStore interface {
	Incr(key string, window time.Duration, now time.Time) (count int, resetAt time.Time)
	Forgive(key string, now time.Time)
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryCounterStore is a mutex-guarded in-process CounterStore. Counters
// are lost on restart, so admission fails open after a redeploy.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

func NewMemoryCounterStore() *MemoryCounterStore {
	s := &MemoryCounterStore{counters: make(map[string]*windowCounter)}
	// Background cleanup of elapsed windows every 3 minutes
	go s.cleanup()
	return s
}

func (s *MemoryCounterStore) Incr(key string, window time.Duration, now time.Time) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.counters[key]
	if !exists || !now.Before(c.resetAt) {
		c = &windowCounter{resetAt: now.Truncate(window).Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count, c.resetAt
}

func (s *MemoryCounterStore) Forgive(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.counters[key]
	if !exists || !now.Before(c.resetAt) {
		return
	}
	if c.count > 0 {
		c.count--
	}
}

func (s *MemoryCounterStore) cleanup() {
	for {
		time.Sleep(3 * time.Minute)
		now := time.Now()
		s.mu.Lock()
		for key, c := range s.counters {
			if now.After(c.resetAt) {
				delete(s.counters, key)
			}
		}
		s.mu.Unlock()
	}
}

// Policy describes one admission class: how requests are keyed, how many
// are admitted per window, and whether successful requests are forgiven.
type Policy struct {
	Name    string
	Window  time.Duration
	Limit   int
	KeyFunc func(*gin.Context) string
	// SkipOnSuccess forgives the hit after the handler when the response
	// status is below 400. Used for login so only failures burn budget.
	SkipOnSuccess bool
}

// Admission enforces fixed-window policies against a shared counter store.
type Admission struct {
	store CounterStore
	now   func() time.Time
}

func NewAdmission(store CounterStore) *Admission {
	return &Admission{store: store, now: time.Now}
}

// Limit returns a Gin middleware enforcing the given policy. A Limit of
// zero or less disables the policy, as does an empty key.
func (a *Admission) Limit(p Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p.Limit <= 0 {
			c.Next()
			return
		}
		key := p.KeyFunc(c)
		if key == "" {
			c.Next()
			return
		}
		key = p.Name + ":" + key

		now := a.now()
		count, resetAt := a.store.Incr(key, p.Window, now)
		if count > p.Limit {
			retryAfter := int((resetAt.Sub(now) + time.Second - 1) / time.Second)
			response.TooManyRequests(c, retryAfter)
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(p.Limit-count))
		c.Next()

		if p.SkipOnSuccess && c.Writer.Status() < 400 {
			a.store.Forgive(key, a.now())
		}
	}
}

// KeyByIP keys a policy by client IP.
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByUser keys a policy by the authenticated user. Unauthenticated
// requests yield an empty key and bypass the policy; AuthRequired runs
// first on every route that uses this.
func KeyByUser(c *gin.Context) string {
	id := GetUserID(c)
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(id), 10)
}

// KeyByIPAndBodyIdentity keys a policy by client IP plus the email or
// username field of the JSON body, so one account cannot lock a whole NAT
// out of login.
func KeyByIPAndBodyIdentity(c *gin.Context) string {
	identity := peekBodyIdentity(c)
	if identity == "" {
		return c.ClientIP()
	}
	return c.ClientIP() + ":" + identity
}

// KeyByBodyEmail keys a policy by the email field of the JSON body alone.
// Used for password reset requests, which are limited per target account.
func KeyByBodyEmail(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(payload.Email))
}

// peekBodyIdentity reads the request body, restores it for the handler,
// and extracts a lower-cased email or username field if one is present.
func peekBodyIdentity(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Email != "" {
		return strings.ToLower(strings.TrimSpace(payload.Email))
	}
	return strings.ToLower(strings.TrimSpace(payload.Username))
}
