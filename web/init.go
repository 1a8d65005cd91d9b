// Copyright (c) 2024 The readypoll Authors
// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

// Package web is the demo binary's admin surface: pprof, prometheus
// scraping, and a registration dump, grounded on the teacher's web package
// (gin + gin-contrib/pprof + promhttp, one handler file per concern).
package web

import (
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is whatever can list the demo's live Pollers by name;
// cmd/pollerdemo/main.go supplies a single-Poller implementation.
type Registry interface {
	Pollers() map[string]PollerInfo
}

func Init(ginSrv *gin.Engine, reg Registry) {
	pprof.Register(ginSrv)
	ginSrv.GET("/registrations", HandleRegistrations(reg))
	ginSrv.GET("/version", HandleVersion)
	ginSrv.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
