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

// Package admin exposes the operational HTTP surface: replica pool
// inspection and control plus transaction status lookup. It is an
// operator tool, not an application API.
package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/opencampus/dataplane/config"
	"github.com/opencampus/dataplane/database"
	"github.com/opencampus/dataplane/logging"
	"github.com/opencampus/dataplane/routing"
	"github.com/opencampus/dataplane/util"
)

var log = logging.GetLogger("admin")

type Server struct {
	cnf      config.AdminConfig
	router   *routing.Router
	registry *database.Registry

	engine *gin.Engine
	srv    *http.Server
}

func NewServer(cnf config.AdminConfig, router *routing.Router, registry *database.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gzip.Gzip(gzip.DefaultCompression))

	s := &Server{
		cnf:      cnf,
		router:   router,
		registry: registry,
		engine:   engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	api.GET("/replicas", s.listReplicas)
	api.PUT("/replicas/:id/weight", s.setReplicaWeight)
	api.POST("/replicas/:id/promote", s.promoteReplica)
	api.GET("/transactions", s.listTransactions)
	api.GET("/transactions/:id/status", s.transactionStatus)
}

// Start binds the listener and serves until Shutdown. It returns on
// the serving goroutine's behalf only for bind errors.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.cnf.Listen,
		Handler: s.engine,
	}
	log.Infof("admin server listening on %s", s.cnf.Listen)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return util.Wrap(err, "admin server")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) listReplicas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"primary":  s.router.PrimaryEndpoint(),
		"replicas": s.router.ReplicaStats(),
	})
}

// weightRequest allows zero: weight 0 drains a replica from selection.
type weightRequest struct {
	Weight int `json:"weight"`
}

func (s *Server) setReplicaWeight(c *gin.Context) {
	id := c.Param("id")
	var req weightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Allow ?weight= as a fallback for curl-driven operators.
		w, convErr := strconv.Atoi(c.Query("weight"))
		if convErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "weight required"})
			return
		}
		req.Weight = w
	}
	if !s.router.SetReplicaWeight(id, req.Weight) {
		c.JSON(http.StatusNotFound, gin.H{"error": "replica not found", "id": id})
		return
	}
	log.Infof("replica %s weight set to %d", id, req.Weight)
	c.JSON(http.StatusOK, gin.H{"id": id, "weight": req.Weight})
}

func (s *Server) promoteReplica(c *gin.Context) {
	id := c.Param("id")
	if !s.router.PromoteReplica(c.Request.Context(), id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "replica not found or promotion failed", "id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"promoted": id})
}

func (s *Server) listTransactions(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusOK, gin.H{"transactions": []database.Status{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": s.registry.Statuses()})
}

func (s *Server) transactionStatus(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	tx, ok := s.registry.Lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found", "id": c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, tx.Status())
}
