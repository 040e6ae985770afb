// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package registry

import (
	"sync/atomic"

	"github.com/AleutianAI/AleutianDecide/services/decision/datafile"
	"github.com/AleutianAI/AleutianDecide/services/decision/decide"
	"github.com/AleutianAI/AleutianDecide/services/decision/notifications"
	"github.com/AleutianAI/AleutianDecide/services/decision/odp"
	"github.com/AleutianAI/AleutianDecide/services/decision/ups"
)

// Client is the per-SDK-key decision runtime: the current datafile
// snapshot plus the long-lived state that survives refreshes. The
// snapshot is read through an atomic pointer, so in-flight requests
// keep the project they started with across a swap.
type Client struct {
	sdkKey string

	project atomic.Pointer[datafile.Project]
	odp     atomic.Pointer[odp.Client]

	decider  *decide.Service
	profiles ups.Store
	center   *notifications.Center

	stop chan struct{}
}

// SDKKey returns the key the client serves.
func (c *Client) SDKKey() string { return c.sdkKey }

// Project returns the current datafile snapshot.
func (c *Client) Project() *datafile.Project { return c.project.Load() }

// Decider returns the decision service.
func (c *Client) Decider() *decide.Service { return c.decider }

// Profiles returns the user profile store, nil when disabled.
func (c *Client) Profiles() ups.Store { return c.profiles }

// Notifications returns the client's notification center.
func (c *Client) Notifications() *notifications.Center { return c.center }

// ODP returns the ODP client for the current snapshot, or nil when
// the datafile carries no ODP integration.
func (c *Client) ODP() *odp.Client { return c.odp.Load() }

// setProject swaps the snapshot and rebuilds ODP state when the
// integration changed. Revision regressions are accepted: the CDN is
// the source of truth.
func (c *Client) setProject(project *datafile.Project, odpCfg odp.Config) {
	prev := c.project.Swap(project)

	host, key, ok := project.ODPConfig()
	if !ok {
		c.odp.Store(nil)
		return
	}
	if prev != nil {
		if ph, pk, pok := prev.ODPConfig(); pok && ph == host && pk == key {
			// Same integration, keep the segment cache warm.
			return
		}
	}
	odpCfg.Host = host
	odpCfg.PublicKey = key
	client, err := odp.NewClient(odpCfg)
	if err != nil {
		c.odp.Store(nil)
		return
	}
	c.odp.Store(client)
}
