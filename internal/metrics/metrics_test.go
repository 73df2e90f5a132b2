package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordClientRequest(t *testing.T) {
	before := testutil.ToFloat64(ClientRequestsTotal.WithLabelValues("metadata", "200"))
	RecordClientRequest("metadata", 200, time.Now())
	assert.Equal(t, before+1, testutil.ToFloat64(ClientRequestsTotal.WithLabelValues("metadata", "200")))

	before = testutil.ToFloat64(ClientRequestsTotal.WithLabelValues("metadata", "error"))
	RecordClientRequest("metadata", 0, time.Now())
	assert.Equal(t, before+1, testutil.ToFloat64(ClientRequestsTotal.WithLabelValues("metadata", "error")))
}

func TestRecordCacheOperation(t *testing.T) {
	before := testutil.ToFloat64(CacheRequestsTotal.WithLabelValues("get", "hit"))
	RecordCacheOperation("get", "hit")
	assert.Equal(t, before+1, testutil.ToFloat64(CacheRequestsTotal.WithLabelValues("get", "hit")))
}
