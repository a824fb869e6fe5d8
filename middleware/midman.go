package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

type entry struct {
	name string
	h    gin.HandlerFunc
}

// MiddlewareManager 按名字管理一组中间件，运行时可替换/移除
type MiddlewareManager struct {
	mu      sync.RWMutex
	entries []entry
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Set 注册或原位替换名为 name 的中间件，保持原有顺序
func (m *MiddlewareManager) Set(name string, h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].name == name {
			m.entries[i].h = h
			return
		}
	}
	m.entries = append(m.entries, entry{name: name, h: h})
}

// Remove 注销名为 name 的中间件
func (m *MiddlewareManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].name == name {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// Names 当前生效的中间件名，按执行顺序
func (m *MiddlewareManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.name
	}
	return out
}

// Use 返回挂到 Engine 上的总控；每个请求取一次快照，任一中间件 Abort 即停止
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		snap := make([]gin.HandlerFunc, len(m.entries))
		for i, e := range m.entries {
			snap[i] = e.h
		}
		m.mu.RUnlock()

		for _, h := range snap {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
