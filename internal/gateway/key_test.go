package gateway

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/opsflow/internal/model"
)

func TestKeyDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("payload key is independent of map construction", prop.ForAll(
		func(company, eventType string, payload map[string]int) bool {
			a := IngestRequest{CompanyID: company, Source: model.SourceBank, EventType: eventType, Payload: map[string]any{}}
			b := IngestRequest{CompanyID: company, Source: model.SourceBank, EventType: eventType, Payload: map[string]any{}}
			for k, v := range payload {
				a.Payload[k] = v
			}
			for k, v := range payload {
				b.Payload[k] = float64(v)
			}

			ka, errA := a.Key()
			kb, errB := b.Key()
			return errA == nil && errB == nil && ka == kb
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.MapOf(gen.Identifier(), gen.IntRange(-100000, 100000)),
	))

	properties.Property("external id takes precedence over payload", prop.ForAll(
		func(externalID string, x, y int) bool {
			a := IngestRequest{CompanyID: "c", Source: model.SourceStripe, EventType: "payment.received", ExternalID: externalID, Payload: map[string]any{"x": x}}
			b := IngestRequest{CompanyID: "c", Source: model.SourceStripe, EventType: "payment.received", ExternalID: externalID, Payload: map[string]any{"y": y}}
			ka, _ := a.Key()
			kb, _ := b.Key()
			return ka == kb
		},
		gen.Identifier(),
		gen.Int(),
		gen.Int(),
	))

	properties.TestingRun(t)
}

func TestKeyVariesWithEachComponent(t *testing.T) {
	base := IngestRequest{CompanyID: "c1", Source: model.SourceManual, EventType: "transaction.created", ExternalID: "x"}
	baseKey, err := base.Key()
	require.NoError(t, err)

	tests := []struct {
		mutate func(*IngestRequest)
		name   string
	}{
		{name: "company", mutate: func(r *IngestRequest) { r.CompanyID = "c2" }},
		{name: "source", mutate: func(r *IngestRequest) { r.Source = model.SourceBank }},
		{name: "event type", mutate: func(r *IngestRequest) { r.EventType = "invoice.created" }},
		{name: "external id", mutate: func(r *IngestRequest) { r.ExternalID = "y" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			key, err := req.Key()
			require.NoError(t, err)
			assert.NotEqual(t, baseKey, key)
		})
	}
}
