// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bureau-foundation/jmsh/lib/netutil"
)

// assetListingPath is the bastion API listing every asset the session's
// user is granted, grouped by node.
const assetListingPath = "/api/perms/v1/user/nodes-assets/"

// supportedProtocol is the only asset protocol the relay can open.
const supportedProtocol = "ssh"

// AssetFetcher lists the assets visible to a bastion session.
type AssetFetcher interface {
	FetchAssets(ctx context.Context, endpoint, sessionID string) ([]Asset, error)
}

// HTTPAssetFetcher reads the bastion's permissions API.
type HTTPAssetFetcher struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// nodeGroup is one entry of the listing response.
type nodeGroup struct {
	Name          string         `json:"name"`
	AssetsGranted []grantedAsset `json:"assets_granted"`
}

type grantedAsset struct {
	ID                 string          `json:"id"`
	Hostname           string          `json:"hostname"`
	Protocol           string          `json:"protocol"`
	SystemUsersGranted []grantedSystem `json:"system_users_granted"`
}

type grantedSystem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FetchAssets returns the SSH assets granted to the session, in listing
// order. A 401 or 403 response yields ErrUnauthenticated; any other
// non-2xx response yields a *FetchError.
func (f *HTTPAssetFetcher) FetchAssets(ctx context.Context, endpoint, sessionID string) ([]Asset, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	url := strings.TrimSuffix(endpoint, "/") + assetListingPath
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building asset request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	// Set explicitly, so net/http leaves the body compressed for us.
	request.Header.Set("Accept-Encoding", "gzip")
	request.AddCookie(&http.Cookie{Name: "sessionid", Value: sessionID})

	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetching assets from %s: %w", endpoint, err)
	}
	defer response.Body.Close()

	encoding := response.Header.Get("Content-Encoding")
	switch {
	case response.StatusCode == http.StatusUnauthorized, response.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthenticated
	case response.StatusCode < 200 || response.StatusCode > 299:
		return nil, &FetchError{
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body, encoding),
		}
	}

	var groups []nodeGroup
	if err := netutil.DecodeResponse(response.Body, encoding, &groups); err != nil {
		return nil, fmt.Errorf("decoding asset listing: %w", err)
	}
	return sshAssets(groups), nil
}

// sshAssets flattens the grouped listing, keeping only assets the relay
// can open.
func sshAssets(groups []nodeGroup) []Asset {
	assets := []Asset{}
	for _, group := range groups {
		for _, granted := range group.AssetsGranted {
			if granted.Protocol != supportedProtocol {
				continue
			}
			identities := make([]Identity, 0, len(granted.SystemUsersGranted))
			for _, system := range granted.SystemUsersGranted {
				identities = append(identities, Identity{ID: system.ID, Name: system.Name})
			}
			assets = append(assets, Asset{
				Group:             group.Name,
				ID:                granted.ID,
				Hostname:          granted.Hostname,
				GrantedIdentities: identities,
			})
		}
	}
	return assets
}

// FindAsset returns the first asset whose hostname matches.
func FindAsset(assets []Asset, hostname string) (Asset, bool) {
	for _, asset := range assets {
		if asset.Hostname == hostname {
			return asset, true
		}
	}
	return Asset{}, false
}
