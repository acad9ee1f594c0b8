package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(reconciliations.WithLabelValues("completed"))
	RecordReconciliation("completed")
	assert.Equal(t, before+1, testutil.ToFloat64(reconciliations.WithLabelValues("completed")))

	before = testutil.ToFloat64(ledgerCalls.WithLabelValues("getBalance", "ok"))
	RecordLedgerCall("getBalance", "ok", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(ledgerCalls.WithLabelValues("getBalance", "ok")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordWebhook("FAILED")
	RecordTransition("start")
	RecordVerification("valid")
	RecordLedgerCall("getTransaction", "transport_error", 30*time.Millisecond)

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	for _, name := range []string{
		`consultation_settlement_webhooks_total{status="FAILED"}`,
		`consultation_session_transitions_total{action="start"}`,
		`consultation_ledger_verifications_total{result="valid"}`,
		`consultation_ledger_rpc_duration_seconds_bucket`,
	} {
		assert.Contains(t, string(body), name)
	}
}
