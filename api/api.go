/*
Copyright 2026 Paychan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paychanhq/paychan"
	"github.com/paychanhq/paychan/api/middleware"
	"github.com/paychanhq/paychan/config"
	"github.com/paychanhq/paychan/database"
)

type Api struct {
	paychan *paychan.Paychan
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/channels", a.CreateChannel)
	router.GET("/channels", a.GetAllChannels)
	router.GET("/channels/:id", a.GetChannel)
	router.POST("/channels/:id/activate", a.ActivateChannel)
	router.GET("/channels/:id/balance", a.GetChannelBalance)
	router.GET("/channels/:id/state", a.GetChannelState)
	router.GET("/channels/:id/history", a.GetStateHistory)
	router.GET("/channels/:id/payments", a.GetChannelPayments)

	router.POST("/channels/:id/payments", a.ApplyPayment)
	router.POST("/channels/:id/payments/queue", a.QueuePayment)
	router.GET("/payments/:reference", a.GetPayment)

	router.POST("/channels/:id/close", a.CloseChannel)
	router.POST("/channels/:id/force-close", a.ForceClose)
	router.POST("/channels/:id/counter-claim", a.CounterClaim)
	router.GET("/disputes/:id", a.GetDispute)

	router.GET("/backup", a.BackupDB)
	router.GET("/backup-s3", a.BackupDBS3)
	return a.router
}

func NewAPI(p *paychan.Paychan, db database.IDataSource) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	r.GET("/health", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		if err := p.PingRedis(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	return &Api{paychan: p, router: r}
}
