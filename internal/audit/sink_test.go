package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetward/control-plane/internal/apierr"
)

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Write(ctx context.Context, events []Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

func TestSubmitForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	svc := New(sink)

	events := []Event{{DeviceID: "dev_1", Kind: "login", Payload: []byte(`{}`), Timestamp: time.Now()}}
	require.NoError(t, svc.Submit(context.Background(), "dev_1", events))
	require.Len(t, sink.events, 1)
}

func TestSubmitRejectsOversizedBatch(t *testing.T) {
	svc := New(&recordingSink{})

	events := make([]Event, MaxBatchSize+1)
	err := svc.Submit(context.Background(), "dev_1", events)
	require.Error(t, err)

	apiErr := apierr.Get(err)
	require.NotNil(t, apiErr)
	require.Equal(t, apierr.CodeBatchTooLarge, apiErr.Code)
}

func TestSubmitWrapsSinkFailure(t *testing.T) {
	svc := New(&recordingSink{err: errors.New("disk full")})

	err := svc.Submit(context.Background(), "dev_1", []Event{{DeviceID: "dev_1"}})
	require.Error(t, err)
	apiErr := apierr.Get(err)
	require.NotNil(t, apiErr)
	require.Equal(t, apierr.CodeInternal, apiErr.Code)
}

func TestNoopSinkDiscardsSilently(t *testing.T) {
	svc := New(NoopSink{})
	require.NoError(t, svc.Submit(context.Background(), "dev_1", []Event{{DeviceID: "dev_1"}}))
}
