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

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"readypoll/internal/selector"
)

// PollerInfo is the admin-facing snapshot of one named Poller, analogous to
// the teacher's ClusterNodeRes listing.
type PollerInfo struct {
	Name          string           `json:"name"`
	Registrations []selector.Entry `json:"registrations"`
}

func HandleRegistrations(reg Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		pollers := reg.Pollers()
		res := make([]PollerInfo, 0, len(pollers))
		for name, info := range pollers {
			info.Name = name
			res = append(res, info)
		}
		c.JSON(http.StatusOK, res)
	}
}
