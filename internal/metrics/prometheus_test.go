package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Middleware("metrics-test"))
	r.HandleFunc("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("GET")

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("metrics-test", "GET", "/orders/{id}", "404"))
	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
	}
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("metrics-test", "GET", "/orders/{id}", "404"))

	assert.Equal(t, 2.0, after-before)
}

func TestMiddlewareKeepsHijacker(t *testing.T) {
	hijackable := make(chan bool, 1)
	handler := Middleware("metrics-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Hijacker)
		hijackable <- ok
	}))

	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.True(t, <-hijackable)
}
