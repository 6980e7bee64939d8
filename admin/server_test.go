/*
 * Copyright 2026. DataPlane Author All Rights Reserved.
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/dataplane/config"
	"github.com/opencampus/dataplane/database"
	"github.com/opencampus/dataplane/routing"
)

type stubConn struct{}

func (stubConn) Execute(context.Context, string, ...interface{}) (int64, error) { return 1, nil }
func (stubConn) FetchOne(_ context.Context, query string, _ ...interface{}) (map[string]interface{}, error) {
	if strings.Contains(query, "pg_last_xact_replay_timestamp") {
		return map[string]interface{}{"lag": float64(0)}, nil
	}
	return map[string]interface{}{"?column?": 1}, nil
}
func (stubConn) FetchAll(context.Context, string, ...interface{}) ([]map[string]interface{}, error) {
	return nil, nil
}
func (stubConn) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *database.Registry) {
	t.Helper()
	cnf := config.Default().Router
	cnf.Primary = config.ConnConfig{Host: "primary", Port: 5432, Database: "app"}
	cnf.Replicas = []config.ReplicaConfig{{
		ID:         "r1",
		ConnConfig: config.ConnConfig{Host: "replica-1", Port: 5432, Database: "app"},
	}}
	router := routing.NewRouter(cnf,
		routing.WithDialer(func(config.ConnConfig) (routing.Conn, error) { return stubConn{}, nil }),
		routing.WithClock(clockwork.NewFakeClock()),
	)
	require.NoError(t, router.Initialize(context.Background()))
	t.Cleanup(func() { _ = router.Close() })

	registry := database.NewRegistry()
	return NewServer(config.AdminConfig{Listen: ":0"}, router, registry), registry
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestListReplicas(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(s, http.MethodGet, "/api/replicas", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"r1"`)
}

func TestSetReplicaWeight(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodPut, "/api/replicas/r1/weight", `{"weight": 5}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodPut, "/api/replicas/ghost/weight", `{"weight": 5}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodPut, "/api/replicas/r1/weight", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPromoteReplica(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/api/replicas/ghost/promote", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodPost, "/api/replicas/r1/promote", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"r1"`)
}

func TestTransactionStatus(t *testing.T) {
	s, registry := newTestServer(t)

	tx := database.NewTxManager()
	registry.Register(tx)

	w := do(s, http.MethodGet, "/api/transactions/"+tx.ID()+"/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), tx.ID())
	assert.Contains(t, w.Body.String(), "PENDING")

	w = do(s, http.MethodGet, "/api/transactions/ghost/status", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodGet, "/api/transactions", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
