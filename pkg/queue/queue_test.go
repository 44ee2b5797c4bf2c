package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepare(t *testing.T) {
	_, err := prepare(Task{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	task, err := prepare(Task{PipelineID: "p1"})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.False(t, task.EnqueuedAt.IsZero())
}

func TestTask_Delay(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Duration(0), Task{}.Delay(now))
	assert.Equal(t, time.Duration(0), Task{NotBefore: now.Add(-time.Second)}.Delay(now))
	assert.Equal(t, time.Minute, Task{NotBefore: now.Add(time.Minute)}.Delay(now))
}

func TestTaskCodec(t *testing.T) {
	in := Task{ID: "t1", PipelineID: "p1", JobID: "j1", NotBefore: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	data, err := encodeTask(in)
	require.NoError(t, err)

	out, err := decodeTask(data)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.JobID, out.JobID)
	assert.True(t, in.NotBefore.Equal(out.NotBefore))

	_, err = decodeTask([]byte(`{"id":""}`))
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestLocalDispatcher_RunsTasks(t *testing.T) {
	d := NewLocalDispatcher(2)
	defer d.Close()

	var mu sync.Mutex
	var seen []string
	require.NoError(t, d.Start(testutil.TestContext(t), func(_ context.Context, task Task) error {
		mu.Lock()
		seen = append(seen, task.JobID)
		mu.Unlock()
		return nil
	}))

	for _, id := range []string{"a", "b", "c"} {
		_, err := d.Enqueue(context.Background(), Task{PipelineID: "p", JobID: id})
		require.NoError(t, err)
	}

	testutil.AssertEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, "all tasks should run")
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}

func TestLocalDispatcher_DelayAndRevoke(t *testing.T) {
	d := NewLocalDispatcher(1)
	defer d.Close()

	var runs atomic.Int32
	require.NoError(t, d.Start(testutil.TestContext(t), func(context.Context, Task) error {
		runs.Add(1)
		return nil
	}))

	delayed, err := d.Enqueue(context.Background(), Task{PipelineID: "p", NotBefore: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Pending())

	require.NoError(t, d.Revoke(context.Background(), delayed.TaskID))
	assert.Equal(t, 0, d.Pending())
	// unknown ids are ignored
	require.NoError(t, d.Revoke(context.Background(), "missing"))

	_, err = d.Enqueue(context.Background(), Task{PipelineID: "p", NotBefore: time.Now().Add(20 * time.Millisecond)})
	require.NoError(t, err)
	testutil.AssertEventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, "delayed task should run")
}

func TestLocalDispatcher_Close(t *testing.T) {
	d := NewLocalDispatcher(1)
	require.NoError(t, d.Start(context.Background(), func(context.Context, Task) error { return nil }))

	_, err := d.Enqueue(context.Background(), Task{PipelineID: "p", NotBefore: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.Equal(t, 0, d.Pending())

	_, err = d.Enqueue(context.Background(), Task{PipelineID: "p"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	assert.Error(t, d.Start(context.Background(), nil))
}

func TestKafkaDispatcher_Enqueue(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		task, err := decodeTask(val)
		if err != nil {
			return err
		}
		if task.JobID != "j1" {
			return errors.Newf(errors.ErrorTypeData, "unexpected job id %q", task.JobID)
		}
		return nil
	})

	d := newKafkaDispatcher(KafkaConfig{Topic: "jobs"}, producer)
	handle, err := d.Enqueue(context.Background(), Task{PipelineID: "p1", JobID: "j1"})
	require.NoError(t, err)
	assert.NotEmpty(t, handle.TaskID)
	require.NoError(t, d.Close())
}

func TestKafkaDispatcher_EnqueueFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	d := newKafkaDispatcher(KafkaConfig{Topic: "jobs"}, producer)
	_, err := d.Enqueue(context.Background(), Task{PipelineID: "p1"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
	require.NoError(t, d.Close())
}

func TestNewKafkaDispatcher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaDispatcher(KafkaConfig{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestTaskConsumer_Handle(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	d := newKafkaDispatcher(KafkaConfig{Topic: "jobs"}, producer)
	defer d.Close()

	var got []string
	consumer := &taskConsumer{dispatcher: d, handler: func(_ context.Context, task Task) error {
		got = append(got, task.ID)
		return nil
	}}

	message := func(task Task) *sarama.ConsumerMessage {
		data, err := encodeTask(task)
		require.NoError(t, err)
		return &sarama.ConsumerMessage{Value: data}
	}

	ctx := context.Background()
	require.NoError(t, consumer.handle(ctx, message(Task{ID: "t1", PipelineID: "p"})))

	require.NoError(t, d.Revoke(ctx, "t2"))
	require.NoError(t, consumer.handle(ctx, message(Task{ID: "t2", PipelineID: "p"})))

	require.NoError(t, consumer.handle(ctx, message(Task{ID: "t3", PipelineID: "p", NotBefore: time.Now().Add(10 * time.Millisecond)})))
	assert.Equal(t, []string{"t1", "t3"}, got)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := consumer.handle(cancelled, message(Task{ID: "t4", PipelineID: "p", NotBefore: time.Now().Add(time.Hour)}))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Error(t, consumer.handle(ctx, &sarama.ConsumerMessage{Value: []byte("not json")}))
}
