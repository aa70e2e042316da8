// Package metrics 定义节点的 Prometheus 指标
//
// 所有指标使用 ndnrepo_ 前缀。方法对 nil 接收者安全，未启用指标时传 nil 即可。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ndnrepo/pkg/storage"
	"ndnrepo/pkg/types"
)

type Metrics struct {
	// CommandsTotal 按动词和状态码统计入站命令
	CommandsTotal *prometheus.CounterVec

	// SegmentsTotal 按结果统计拉取到的分段 ("stored", "store_failed")
	SegmentsTotal *prometheus.CounterVec

	// SegmentRetries 分段请求重发次数
	SegmentRetries prometheus.Counter

	// ProcessesActive 当前在途会话数
	ProcessesActive *prometheus.GaugeVec

	// ProcessesFinished 按类型和结局统计结束的会话
	ProcessesFinished *prometheus.CounterVec

	// StoragePackets 本地数据包数量
	StoragePackets prometheus.Gauge

	// StorageBytes 写入的内容字节数
	StorageBytes prometheus.Counter

	// RPCDuration 入站 gRPC 延迟
	RPCDuration *prometheus.HistogramVec
}

// New 创建并注册全部指标，注册失败时 panic (只会在初始化阶段发生)
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndnrepo_commands_total",
				Help: "Total commands handled by verb and status code",
			},
			[]string{"verb", "status"},
		),
		SegmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndnrepo_segments_total",
				Help: "Fetched segments by result",
			},
			[]string{"result"},
		),
		SegmentRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ndnrepo_segment_retries_total",
				Help: "Segment requests re-expressed after a timeout or nack",
			},
		),
		ProcessesActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ndnrepo_processes_active",
				Help: "In-flight insert and delete processes",
			},
			[]string{"kind"},
		),
		ProcessesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndnrepo_processes_finished_total",
				Help: "Finished processes by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		StoragePackets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ndnrepo_storage_packets",
				Help: "Data packets currently held by this node",
			},
		),
		StorageBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ndnrepo_storage_content_bytes_total",
				Help: "Content bytes written to local storage",
			},
		),
		RPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ndnrepo_rpc_duration_seconds",
				Help:    "Inbound gRPC duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		),
	}

	reg.MustRegister(
		m.CommandsTotal,
		m.SegmentsTotal,
		m.SegmentRetries,
		m.ProcessesActive,
		m.ProcessesFinished,
		m.StoragePackets,
		m.StorageBytes,
		m.RPCDuration,
	)
	return m
}

func (m *Metrics) RecordCommand(verb string, status types.StatusCode) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(verb, strconv.Itoa(status.Int())).Inc()
}

func (m *Metrics) RecordSegment(stored bool) {
	if m == nil {
		return
	}
	result := "stored"
	if !stored {
		result = "store_failed"
	}
	m.SegmentsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.SegmentRetries.Inc()
}

func (m *Metrics) ProcessStarted(kind string) {
	if m == nil {
		return
	}
	m.ProcessesActive.WithLabelValues(kind).Inc()
}

// ProcessFinished outcome: "complete", "failed", "aborted"
func (m *Metrics) ProcessFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.ProcessesActive.WithLabelValues(kind).Dec()
	m.ProcessesFinished.WithLabelValues(kind, outcome).Inc()
}

// ObserveStorage 作为 RepoStorage 的观察者
func (m *Metrics) ObserveStorage(ev storage.Event) {
	if m == nil {
		return
	}
	switch ev.Kind {
	case storage.EventInsert:
		m.StoragePackets.Inc()
		m.StorageBytes.Add(float64(ev.Size))
	case storage.EventDelete:
		m.StoragePackets.Dec()
	}
}

// SetPackets 在启动重建索引后校准包数量
func (m *Metrics) SetPackets(n int) {
	if m == nil {
		return
	}
	m.StoragePackets.Set(float64(n))
}

func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.RPCDuration.WithLabelValues(method, code).Observe(d.Seconds())
}
