// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_Counters(t *testing.T) {
	var r Recorder

	before := testutil.ToFloat64(sendsTotal.WithLabelValues("sendgrid", "sent"))
	r.ObserveSend("sendgrid", "sent")
	r.ObserveSend("sendgrid", "sent")
	assert.Equal(t, before+2, testutil.ToFloat64(sendsTotal.WithLabelValues("sendgrid", "sent")))

	beforeFailed := testutil.ToFloat64(tickJobs.WithLabelValues("failed"))
	r.ObserveTick(3, 1, 2, time.Second)
	assert.Equal(t, beforeFailed+1, testutil.ToFloat64(tickJobs.WithLabelValues("failed")))

	r.ObserveStage("sending", time.Millisecond, errors.New("boom"))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(stageDuration), 1)
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/jobs/{id}", "404"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/jobs/{id}", "404")))
}
