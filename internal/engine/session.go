package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"data-intelligence/internal/anomaly"
	"data-intelligence/internal/cluster"
	"data-intelligence/internal/graph"
	"data-intelligence/internal/monitor"
	"data-intelligence/internal/neural"
	"data-intelligence/internal/registry"
	"data-intelligence/internal/schema"
	"data-intelligence/internal/temporal"
)

// Playback 演化回放状态
type Playback struct {
	Active    bool                `json:"active"`
	StartedAt time.Time           `json:"started_at"`
	Steps     int                 `json:"steps"`
	Frames    []temporal.Snapshot `json:"frames,omitempty"`
}

// Session 单个连接独占的缓存与组件。
// 缓存整体原子替换，读取方不阻塞写入方
type Session struct {
	Handle   registry.Handle
	Database string

	schema    atomic.Pointer[schema.Schema]
	method    atomic.Pointer[cluster.Method]
	clusters  atomic.Pointer[cluster.Map]
	evolution atomic.Pointer[temporal.Analysis]
	playback  atomic.Pointer[Playback]

	core      *neural.Core
	live      *cluster.LiveAdapter
	detector  *anomaly.Detector
	monitor   *monitor.Monitor
	assembler *graph.Assembler

	// tickMu 串行化神经核心的所有变更
	tickMu sync.Mutex
}

// Schema 已缓存的结构，未采集时为 nil
func (s *Session) Schema() *schema.Schema { return s.schema.Load() }

// Method 当前聚类方法
func (s *Session) Method() cluster.Method {
	if m := s.method.Load(); m != nil {
		return *m
	}
	return cluster.MethodHeuristic
}

// Clusters 当前聚类映射，方法为 none 或未采集时为 nil
func (s *Session) Clusters() *cluster.Map { return s.clusters.Load() }

// Core 神经核心
func (s *Session) Core() *neural.Core { return s.core }

// Live 实时引力
func (s *Session) Live() *cluster.LiveAdapter { return s.live }

// Playback 当前回放状态
func (s *Session) Playback() Playback {
	if p := s.playback.Load(); p != nil {
		return *p
	}
	return Playback{}
}

// install 安装新结构：重置核心、重新聚类、清空演化缓存
func (s *Session) install(sc *schema.Schema, recluster func(*schema.Schema) *cluster.Map) {
	s.tickMu.Lock()
	s.core.Install(sc)
	s.tickMu.Unlock()

	s.schema.Store(sc)
	s.storeClusters(recluster(sc))
	s.evolution.Store(nil)
}

func (s *Session) storeClusters(cm *cluster.Map) {
	s.clusters.Store(cm)
	if cm != nil && cm.BaseGravity != nil {
		s.live.SetBase(cm.BaseGravity)
	}
}
