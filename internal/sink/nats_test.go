package sink

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/sensor-gateway/internal/reading"
)

type fakeNATS struct {
	subjects []string
	payloads [][]byte
	pubErr   error
	flushErr error
}

func (f *fakeNATS) Publish(subj string, data []byte) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeNATS) FlushWithContext(context.Context) error { return f.flushErr }

func TestNATSSinkPublishesPerMeasurement(t *testing.T) {
	nc := &fakeNATS{}
	s := NewNATSSink(nc, "sensors.", nil)

	require.NoError(t, s.Write(context.Background(), ph(6.8)))
	require.Equal(t, []string{"sensors.sensor_data"}, nc.subjects)

	var got reading.Reading
	require.NoError(t, json.Unmarshal(nc.payloads[0], &got))
	v, ok := got.Field("pH")
	assert.True(t, ok)
	assert.Equal(t, 6.8, v)
}

func TestNATSSinkErrors(t *testing.T) {
	tests := []struct {
		name  string
		nc    *fakeNATS
		class Class
	}{
		{"bad subject", &fakeNATS{pubErr: nats.ErrBadSubject}, ClassPermanent},
		{"max payload", &fakeNATS{pubErr: nats.ErrMaxPayload}, ClassPermanent},
		{"closed", &fakeNATS{pubErr: nats.ErrConnectionClosed}, ClassTransient},
		{"flush timeout", &fakeNATS{flushErr: nats.ErrTimeout}, ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewNATSSink(tt.nc, "sensors", nil)
			err := s.Write(context.Background(), ph(7))
			require.Error(t, err)
			assert.Equal(t, tt.class, Classify(err))
		})
	}
}

func TestNATSSinkCloseRunsHook(t *testing.T) {
	closed := false
	s := NewNATSSink(&fakeNATS{}, "sensors", func() { closed = true })
	require.NoError(t, s.Close())
	assert.True(t, closed)
}
