package session

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// Store 进程内的会话表，不做持久化
type Store struct {
	deps   Deps
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	cron     *cron.Cron
}

func NewStore(deps Deps, ttl time.Duration) *Store {
	return &Store{
		deps:     deps,
		ttl:      ttl,
		logger:   deps.Logger.Named("store"),
		sessions: make(map[string]*Session),
	}
}

func (st *Store) Create() *Session {
	s := New(ksuid.New().String(), st.deps)

	st.mu.Lock()
	st.sessions[s.ID()] = s
	st.mu.Unlock()

	st.logger.Debug("session created", zap.String("session_id", s.ID()))
	return s
}

func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete 移除会话并释放其位图
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.Reset()
	return nil
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep 清理超过 ttl 未访问且不在处理中的会话
func (st *Store) Sweep(now time.Time) int {
	if st.ttl <= 0 {
		return 0
	}

	var expired []*Session
	st.mu.Lock()
	for id, s := range st.sessions {
		if s.Busy() || now.Sub(s.Touched()) <= st.ttl {
			continue
		}
		delete(st.sessions, id)
		expired = append(expired, s)
	}
	st.mu.Unlock()

	for _, s := range expired {
		s.Reset()
	}
	if len(expired) > 0 {
		st.logger.Info("expired sessions swept", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// StartSweeper 按 cron 表达式定期清理，例如 "@every 1m"
func (st *Store) StartSweeper(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { st.Sweep(time.Now()) }); err != nil {
		return err
	}
	c.Start()

	st.mu.Lock()
	st.cron = c
	st.mu.Unlock()
	return nil
}

// Stop 停止清理任务并等待正在执行的清理结束
func (st *Store) Stop(ctx context.Context) {
	st.mu.Lock()
	c := st.cron
	st.cron = nil
	st.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
