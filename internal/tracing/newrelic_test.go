package tracing

import (
	"testing"

	"example.com/backstage/services/sentiment/config"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNewTracer_DisabledWithoutLicenseKey(t *testing.T) {
	tracer, err := NewTracer(config.TracingConfig{})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	txn := tracer.StartTransaction("test")
	require.Nil(t, txn)

	// Every method must be safe on the disabled tracer
	tracer.AddAttribute(txn, "key", "value")
	tracer.RecordError(txn, errors.New("boom"))
	span := tracer.StartSpan("segment", txn)
	span.End()
	tracer.EndTransaction(txn)
}

func TestNewTracer_InitFailureStillReturnsUsableTracer(t *testing.T) {
	// License keys must be 40 characters, so agent initialization fails
	tracer, err := NewTracer(config.TracingConfig{
		LicenseKey: "not-a-valid-license",
		AppName:    "sentiment-test",
	})
	require.Error(t, err)
	require.NotNil(t, tracer)

	// The returned tracer is disabled but fully callable
	txn := tracer.StartTransaction("test")
	require.Nil(t, txn)
	tracer.RecordError(txn, errors.New("boom"))
	tracer.EndTransaction(txn)
}
