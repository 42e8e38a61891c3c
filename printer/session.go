package printer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mmdatafocus/pos_engine/metrics"
	"github.com/sirupsen/logrus"
)

type JobState string

const (
	JobQueued  JobState = "queued"
	JobSending JobState = "sending"
	JobAcked   JobState = "acked"
	JobFailed  JobState = "failed"
)

// ErrAborted: the operator disconnected mid-stream.
var ErrAborted = errors.New("print aborted")

// Manager owns the device connection lifecycle:
// Idle → Discovering → Connected → Writing* → Disconnected.
// Each print call is independent; retry policy belongs to the caller.
type Manager struct {
	Adapter Adapter
	Filter  Filter
	Logger  *logrus.Logger

	// ChunkSize must stay ≤512: larger writes overflow transport
	// buffers on most printer modules.
	ChunkSize int

	// PaceDelay follows every unacknowledged chunk. The transport has
	// no flow control and silently drops data sent too fast.
	PaceDelay time.Duration

	// WithResponse requests acknowledged writes where the adapter
	// supports them; the cursor then advances on the ack alone.
	WithResponse bool
}

func NewManager(adapter Adapter, logger *logrus.Logger, filter Filter) *Manager {
	return &Manager{
		Adapter:   adapter,
		Filter:    filter,
		Logger:    logger,
		ChunkSize: 512,
		PaceDelay: 20 * time.Millisecond,
	}
}

// Job is one print attempt over one physical connection.
type Job struct {
	m       *Manager
	payload []byte

	mu      sync.Mutex
	state   JobState
	cursor  int
	lastErr error
	session Session
	aborted bool
}

func (m *Manager) NewJob(payload []byte) *Job {
	return &Job{m: m, payload: payload, state: JobQueued}
}

// Print runs the whole lifecycle once. On failure the returned job is
// in the failed state and exposes Retry (from chunk 1) and the cause;
// abandoning is simply not retrying — the sale is already persisted.
func (m *Manager) Print(ctx context.Context, payload []byte) (*Job, error) {
	job := m.NewJob(payload)
	return job, job.Run(ctx)
}

func (j *Job) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.state == JobSending {
		j.mu.Unlock()
		return errors.New("job already running")
	}
	j.state = JobSending
	j.aborted = false
	j.lastErr = nil
	j.mu.Unlock()

	err := j.run(ctx)

	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.state = JobFailed
		j.lastErr = err
		metrics.PrintJobsTotal.WithLabelValues(string(JobFailed)).Inc()
		if j.m.Logger != nil {
			j.m.Logger.WithFields(logrus.Fields{
				"module": "printer",
				"cursor": j.cursor,
				"total":  len(j.payload),
			}).Error("print failed: " + err.Error())
		}
		return err
	}
	j.state = JobAcked
	metrics.PrintJobsTotal.WithLabelValues(string(JobAcked)).Inc()
	return nil
}

// Retry restarts the entire print from the first chunk. A torn partial
// transfer leaves the printer's parser in an unknown state, so resuming
// mid-stream would garble output.
func (j *Job) Retry(ctx context.Context) error {
	j.mu.Lock()
	if j.state == JobSending {
		j.mu.Unlock()
		return errors.New("job already running")
	}
	j.cursor = 0
	j.state = JobQueued
	j.mu.Unlock()
	return j.Run(ctx)
}

// Abort disconnects immediately, interrupting the in-flight chunk loop.
func (j *Job) Abort() {
	j.mu.Lock()
	j.aborted = true
	sess := j.session
	j.mu.Unlock()
	if sess != nil {
		_ = sess.Disconnect()
	}
}

func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) Cursor() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cursor
}

func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

func (j *Job) run(ctx context.Context) error {
	m := j.m

	device, err := m.Adapter.Discover(ctx, m.Filter)
	if err != nil {
		return err
	}
	session, err := device.Connect(ctx)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.session = session
	j.cursor = 0
	j.mu.Unlock()
	defer func() {
		_ = session.Disconnect()
		j.mu.Lock()
		j.session = nil
		j.mu.Unlock()
	}()

	endpoints, err := session.WritableEndpoints(ctx)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		return ErrTransportUnavailable
	}
	endpoint := endpoints[0]

	chunkSize := m.ChunkSize
	if chunkSize <= 0 || chunkSize > 512 {
		chunkSize = 512
	}

	for offset := 0; offset < len(j.payload); offset += chunkSize {
		select {
		case <-ctx.Done():
			return ErrAborted
		default:
		}
		j.mu.Lock()
		if j.aborted {
			j.mu.Unlock()
			return ErrAborted
		}
		j.mu.Unlock()

		end := offset + chunkSize
		if end > len(j.payload) {
			end = len(j.payload)
		}
		if err := endpoint.Write(ctx, j.payload[offset:end], m.WithResponse); err != nil {
			return err
		}
		if !m.WithResponse && m.PaceDelay > 0 {
			// The cursor only advances after the pacing delay on
			// unacknowledged transports.
			select {
			case <-ctx.Done():
				return ErrAborted
			case <-time.After(m.PaceDelay):
			}
		}
		j.mu.Lock()
		j.cursor = end
		j.mu.Unlock()
	}
	return nil
}
