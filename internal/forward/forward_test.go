package forward

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jwulff/farmlink-go/internal/domain"
)

type fakeSink struct {
	name  string
	err   error
	mu    sync.Mutex
	calls []domain.Reading
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(_ context.Context, r domain.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r)
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// blockingSink holds every Send until its context ends.
type blockingSink struct {
	started chan struct{}
	done    chan error
}

func newBlockingSink() *blockingSink {
	return &blockingSink{started: make(chan struct{}, 1), done: make(chan error, 1)}
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Send(ctx context.Context, _ domain.Reading) error {
	b.started <- struct{}{}
	<-ctx.Done()
	b.done <- ctx.Err()
	return ctx.Err()
}

type countingRecorder struct {
	mu     sync.Mutex
	failed map[string]int
}

func (c *countingRecorder) SinkFailed(sink string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed == nil {
		c.failed = map[string]int{}
	}
	c.failed[sink]++
}

func sampleReading() domain.Reading {
	return domain.Reading{
		ID:            12,
		PackageNumber: domain.Int64(3),
		Farm:          domain.String("Fazenda Sol"),
		DeviceID:      domain.String("esp32-01"),
		Temperature:   domain.Float64(22.5),
		U2:            domain.Float64(0.7),
	}
}

// Fanout tests

func TestFanoutForwardsToEverySink(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	f := NewFanout(zaptest.NewLogger(t), 0, a, b)

	ok := f.Forward(context.Background(), sampleReading())

	assert.Equal(t, 2, ok)
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestFanoutContinuesPastFailure(t *testing.T) {
	bad := &fakeSink{name: "bad", err: errors.New("broker down")}
	good := &fakeSink{name: "good"}
	rec := &countingRecorder{}
	f := NewFanout(zaptest.NewLogger(t), time.Second, bad, good).WithRecorder(rec)

	ok := f.Forward(context.Background(), sampleReading())

	assert.Equal(t, 1, ok)
	assert.Len(t, good.calls, 1)
	assert.Equal(t, 1, rec.failed["bad"])
}

func TestFanoutNoSinks(t *testing.T) {
	f := NewFanout(zaptest.NewLogger(t), 0)
	assert.Equal(t, 0, f.Forward(context.Background(), sampleReading()))
}

func TestFanoutEnqueueForwardsInBackground(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	f := NewFanout(zaptest.NewLogger(t), 0, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	assert.True(t, f.Enqueue(sampleReading()))
	assert.True(t, f.Enqueue(sampleReading()))

	assert.Eventually(t, func() bool {
		return a.count() == 2 && b.count() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestFanoutEnqueueDropsWhenFull(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	rec := &countingRecorder{}
	f := NewFanout(zaptest.NewLogger(t), 0, a, b).WithQueueSize(1).WithRecorder(rec)

	assert.True(t, f.Enqueue(sampleReading()))
	assert.False(t, f.Enqueue(sampleReading()))

	assert.Equal(t, map[string]int{"a": 1, "b": 1}, rec.failed)
	assert.Zero(t, a.count())
}

func TestFanoutEnqueueWithoutSinks(t *testing.T) {
	f := NewFanout(zaptest.NewLogger(t), 0).WithQueueSize(1)

	assert.True(t, f.Enqueue(sampleReading()))
	assert.True(t, f.Enqueue(sampleReading()))
}

func TestFanoutRunSendOutlivesCancel(t *testing.T) {
	sink := newBlockingSink()
	f := NewFanout(zaptest.NewLogger(t), 50*time.Millisecond, sink)

	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)
	require.True(t, f.Enqueue(sampleReading()))

	<-sink.started
	cancel()

	select {
	case err := <-sink.done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("send never finished")
	}
}

// Breaker tests

func TestBreakerSinkTripsAfterFailures(t *testing.T) {
	inner := &fakeSink{name: "influx", err: errors.New("connection refused")}
	b := NewBreakerSink(inner, 2, time.Minute)

	assert.Equal(t, "influx", b.Name())
	assert.Error(t, b.Send(context.Background(), sampleReading()))
	assert.Error(t, b.Send(context.Background(), sampleReading()))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Send(context.Background(), sampleReading())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, inner.calls, 2)
}

func TestBreakerSinkPassesSuccess(t *testing.T) {
	inner := &fakeSink{name: "mqtt"}
	b := NewBreakerSink(inner, 0, time.Minute)

	require.NoError(t, b.Send(context.Background(), sampleReading()))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

// MQTT tests

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error, complete bool) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type fakePublisher struct {
	token    *fakeToken
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.topic = topic
	p.qos = qos
	p.retained = retained
	p.payload = payload.([]byte)
	return p.token
}

func TestMQTTSinkPublishesReadingJSON(t *testing.T) {
	pub := &fakePublisher{token: newFakeToken(nil, true)}
	s := NewMQTTSink(pub, "farmlink/registros")

	err := s.Send(context.Background(), sampleReading())
	require.NoError(t, err)

	assert.Equal(t, "mqtt", s.Name())
	assert.Equal(t, "farmlink/registros/esp32-01", pub.topic)
	assert.Equal(t, byte(0), pub.qos)
	assert.False(t, pub.retained)

	var decoded domain.Reading
	require.NoError(t, json.Unmarshal(pub.payload, &decoded))
	assert.Equal(t, sampleReading(), decoded)
}

func TestMQTTSinkUnknownDeviceTopic(t *testing.T) {
	s := NewMQTTSink(&fakePublisher{}, "farmlink/registros")
	assert.Equal(t, "farmlink/registros/unknown", s.TopicFor(domain.Reading{}))
}

func TestMQTTSinkDeviceIDStaysOneLevel(t *testing.T) {
	s := NewMQTTSink(&fakePublisher{}, "farmlink/registros")

	cases := map[string]string{
		"esp32/../other": "farmlink/registros/esp32_.._other",
		"esp32+":         "farmlink/registros/esp32_",
		"#":              "farmlink/registros/_",
		"a\x00b":         "farmlink/registros/a_b",
	}
	for id, want := range cases {
		assert.Equal(t, want, s.TopicFor(domain.Reading{DeviceID: domain.String(id)}), id)
	}
}

func TestMQTTSinkPublishError(t *testing.T) {
	pub := &fakePublisher{token: newFakeToken(errors.New("not connected"), true)}
	s := NewMQTTSink(pub, "t")

	err := s.Send(context.Background(), sampleReading())
	assert.ErrorContains(t, err, "not connected")
}

func TestMQTTSinkTimeout(t *testing.T) {
	pub := &fakePublisher{token: newFakeToken(nil, false)}
	s := NewMQTTSink(pub, "t")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Send(ctx, sampleReading())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Influx tests

type fakeWriter struct {
	points []*write.Point
	err    error
}

func (w *fakeWriter) WritePoint(_ context.Context, point ...*write.Point) error {
	w.points = append(w.points, point...)
	return w.err
}

func TestInfluxSinkWritesPoint(t *testing.T) {
	w := &fakeWriter{}
	s := NewInfluxSink(w, "")
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, s.Send(context.Background(), sampleReading()))
	require.Len(t, w.points, 1)

	line := write.PointToLineProtocol(w.points[0], time.Second)
	assert.Contains(t, line, "registros,")
	assert.Contains(t, line, "dispositivo_id=esp32-01")
	assert.Contains(t, line, `fazenda=Fazenda\ Sol`)
	assert.Contains(t, line, "temperatura=22.5")
	assert.Contains(t, line, "u2=0.7")
	assert.Contains(t, line, "numero_pacote=3i")
	assert.Contains(t, line, "registro_id=12i")
	assert.NotContains(t, line, "u1=")
	assert.Contains(t, line, "1700000000")
}

func TestInfluxSinkEmptyReadingStillHasField(t *testing.T) {
	s := NewInfluxSink(&fakeWriter{}, "custom")

	p := s.Point(domain.Reading{ID: 1})

	assert.Equal(t, "custom", p.Name())
	assert.Len(t, p.FieldList(), 1)
	assert.Empty(t, p.TagList())
}

func TestInfluxSinkWriteError(t *testing.T) {
	s := NewInfluxSink(&fakeWriter{err: errors.New("unauthorized")}, "")

	err := s.Send(context.Background(), sampleReading())
	assert.ErrorContains(t, err, "unauthorized")
	assert.Equal(t, "influx", s.Name())
}
