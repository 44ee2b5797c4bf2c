package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("jira", "POST", "201"))
	RecordHTTPRequest("jira", "POST", 201, 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequests.WithLabelValues("jira", "POST", "201")))

	before = testutil.ToFloat64(HTTPRequests.WithLabelValues("jira", "POST", "error"))
	RecordHTTPRequest("jira", "POST", 0, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequests.WithLabelValues("jira", "POST", "error")))
}

func TestRecordUpload(t *testing.T) {
	ok := testutil.ToFloat64(RecordsUploaded.WithLabelValues("json", "success"))
	bad := testutil.ToFloat64(RecordsUploaded.WithLabelValues("json", "failure"))

	RecordUpload("json", 3, 1)

	assert.Equal(t, ok+3, testutil.ToFloat64(RecordsUploaded.WithLabelValues("json", "success")))
	assert.Equal(t, bad+1, testutil.ToFloat64(RecordsUploaded.WithLabelValues("json", "failure")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer(StageFetch)
	time.Sleep(time.Millisecond)
	assert.Greater(t, timer.ObserveDuration(), time.Duration(0))
}
