package printer

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter scripts per-chunk failures. failAt is 1-based over the
// lifetime of the endpoint; 0 means never fail.
type fakeAdapter struct {
	discoverErr error
	connectErr  error
	noEndpoints bool
	failAt      int
	failErr     error
	block       chan struct{} // when set, every write waits on it

	writes      [][]byte
	disconnects int
}

func (a *fakeAdapter) Discover(context.Context, Filter) (Device, error) {
	if a.discoverErr != nil {
		return nil, a.discoverErr
	}
	return &fakeDevice{a: a}, nil
}

type fakeDevice struct{ a *fakeAdapter }

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Connect(context.Context) (Session, error) {
	if d.a.connectErr != nil {
		return nil, d.a.connectErr
	}
	return &fakeSession{a: d.a}, nil
}

type fakeSession struct{ a *fakeAdapter }

func (s *fakeSession) WritableEndpoints(context.Context) ([]Endpoint, error) {
	if s.a.noEndpoints {
		return nil, nil
	}
	return []Endpoint{&fakeEndpoint{a: s.a}}, nil
}

func (s *fakeSession) Disconnect() error {
	s.a.disconnects++
	return nil
}

type fakeEndpoint struct{ a *fakeAdapter }

func (e *fakeEndpoint) Write(_ context.Context, p []byte, _ bool) error {
	if e.a.block != nil {
		<-e.a.block
	}
	if e.a.failAt > 0 && len(e.a.writes)+1 == e.a.failAt {
		return e.a.failErr
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	e.a.writes = append(e.a.writes, chunk)
	return nil
}

func newTestManager(a *fakeAdapter) *Manager {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := NewManager(a, logger, Filter{Addr: "fake"})
	m.PaceDelay = 0 // no pacing in tests
	return m
}

func payloadOf(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func TestPrintChunksAndAcks(t *testing.T) {
	adapter := &fakeAdapter{}
	m := newTestManager(adapter)

	payload := payloadOf(1300)
	job, err := m.Print(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, JobAcked, job.State())
	assert.Equal(t, len(payload), job.Cursor())
	require.Len(t, adapter.writes, 3)
	assert.Len(t, adapter.writes[0], 512)
	assert.Len(t, adapter.writes[1], 512)
	assert.Len(t, adapter.writes[2], 276)
	assert.Equal(t, 1, adapter.disconnects, "session closed after the job")
}

func TestPrintFailureReportsCursor(t *testing.T) {
	adapter := &fakeAdapter{failAt: 3, failErr: ErrWriteTimeout}
	m := newTestManager(adapter)

	job, err := m.Print(context.Background(), payloadOf(2000))
	require.ErrorIs(t, err, ErrWriteTimeout)

	assert.Equal(t, JobFailed, job.State())
	assert.Equal(t, 1024, job.Cursor(), "two chunks delivered before the failure")
	assert.ErrorIs(t, job.Err(), ErrWriteTimeout)
	assert.Equal(t, 1, adapter.disconnects, "session closed even on failure")
}

func TestRetryRestartsFromFirstChunk(t *testing.T) {
	adapter := &fakeAdapter{failAt: 2, failErr: ErrWriteTimeout}
	m := newTestManager(adapter)

	payload := payloadOf(1000)
	job, err := m.Print(context.Background(), payload)
	require.Error(t, err)
	require.Len(t, adapter.writes, 1)

	// A torn transfer leaves the printer parser in an unknown state;
	// retry must resend everything, not resume mid-stream.
	adapter.failAt = 0
	require.NoError(t, job.Retry(context.Background()))

	assert.Equal(t, JobAcked, job.State())
	require.Len(t, adapter.writes, 3)
	assert.Equal(t, payload[:512], adapter.writes[1], "retry starts over at chunk 1")
}

func TestPrintNoEndpoints(t *testing.T) {
	adapter := &fakeAdapter{noEndpoints: true}
	m := newTestManager(adapter)

	job, err := m.Print(context.Background(), payloadOf(10))
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, JobFailed, job.State())
}

func TestPrintDiscoverFailure(t *testing.T) {
	adapter := &fakeAdapter{discoverErr: ErrDeviceNotFound}
	m := newTestManager(adapter)

	job, err := m.Print(context.Background(), payloadOf(10))
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, JobFailed, job.State())
	assert.Zero(t, adapter.disconnects)
}

func TestPrintCancelledContext(t *testing.T) {
	adapter := &fakeAdapter{}
	m := newTestManager(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := m.Print(ctx, payloadOf(600))
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, JobFailed, job.State())
	assert.Empty(t, adapter.writes)
}

func TestChunkSizeClampedTo512(t *testing.T) {
	adapter := &fakeAdapter{}
	m := newTestManager(adapter)
	m.ChunkSize = 4096

	_, err := m.Print(context.Background(), payloadOf(600))
	require.NoError(t, err)
	require.Len(t, adapter.writes, 2)
	assert.Len(t, adapter.writes[0], 512)
}

func TestRunWhileRunningRejected(t *testing.T) {
	adapter := &fakeAdapter{block: make(chan struct{})}
	m := newTestManager(adapter)

	job := m.NewJob(payloadOf(600))
	done := make(chan error, 1)
	go func() { done <- job.Run(context.Background()) }()

	require.Eventually(t, func() bool { return job.State() == JobSending }, time.Second, time.Millisecond)

	// A second Run (or Retry) against an in-flight job is refused; one
	// physical connection per job.
	require.EqualError(t, job.Run(context.Background()), "job already running")
	require.EqualError(t, job.Retry(context.Background()), "job already running")

	close(adapter.block)
	require.NoError(t, <-done)
	assert.Equal(t, JobAcked, job.State())
}

func TestFinishedJobRunsAgainViaRetry(t *testing.T) {
	adapter := &fakeAdapter{}
	m := newTestManager(adapter)

	job := m.NewJob(payloadOf(10))
	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Retry(context.Background()))
	assert.Len(t, adapter.writes, 2)
}
