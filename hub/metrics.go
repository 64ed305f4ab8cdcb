package hub

import "sync/atomic"

type MetricsSnapshot struct {
	HostedHubs int64
	Posted     int64
	Processed  int64
	Ignored    int64
	Failed     int64
	Pending    int64
}

type Metrics struct {
	hostedHubs atomic.Int64
	posted     atomic.Int64
	processed  atomic.Int64
	ignored    atomic.Int64
	failed     atomic.Int64
	pending    atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordHostedHub(delta int) {
	m.hostedHubs.Add(int64(delta))
}

func (m *Metrics) RecordPosted() {
	m.posted.Add(1)
}

func (m *Metrics) RecordProcessed() {
	m.processed.Add(1)
}

func (m *Metrics) RecordIgnored() {
	m.ignored.Add(1)
}

func (m *Metrics) RecordFailed() {
	m.failed.Add(1)
}

func (m *Metrics) RecordPending(delta int) {
	m.pending.Add(int64(delta))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		HostedHubs: m.hostedHubs.Load(),
		Posted:     m.posted.Load(),
		Processed:  m.processed.Load(),
		Ignored:    m.ignored.Load(),
		Failed:     m.failed.Load(),
		Pending:    m.pending.Load(),
	}
}
