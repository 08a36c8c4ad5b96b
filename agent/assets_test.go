// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

const listingBody = `[
  {"name": "Default", "assets_granted": [
    {"id": "a1", "hostname": "web-1", "protocol": "ssh",
     "system_users_granted": [{"id": "u1", "name": "root"}, {"id": "u2", "name": "deploy"}]},
    {"id": "a2", "hostname": "win-1", "protocol": "rdp", "system_users_granted": []}
  ]},
  {"name": "Databases", "assets_granted": [
    {"id": "a3", "hostname": "db-1", "protocol": "ssh", "system_users_granted": [{"id": "u3", "name": "dba"}]}
  ]}
]`

func listingServer(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server.URL
}

func TestFetchAssetsFiltersSSH(t *testing.T) {
	t.Parallel()
	endpoint := listingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != assetListingPath {
			t.Errorf("path = %q, want %q", r.URL.Path, assetListingPath)
		}
		cookie, err := r.Cookie("sessionid")
		if err != nil || cookie.Value != "s3cret" {
			t.Errorf("sessionid cookie = %v, %v", cookie, err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(listingBody))
	})

	assets, err := (&HTTPAssetFetcher{}).FetchAssets(t.Context(), endpoint+"/", "s3cret")
	if err != nil {
		t.Fatalf("FetchAssets: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("got %d assets, want 2: %+v", len(assets), assets)
	}
	if assets[0].Hostname != "web-1" || assets[0].Group != "Default" || len(assets[0].GrantedIdentities) != 2 {
		t.Errorf("assets[0] = %+v", assets[0])
	}
	if assets[1].Hostname != "db-1" || assets[1].GrantedIdentities[0].Name != "dba" {
		t.Errorf("assets[1] = %+v", assets[1])
	}
}

func TestFetchAssetsGzip(t *testing.T) {
	t.Parallel()
	endpoint := listingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			t.Errorf("Accept-Encoding = %q", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Encoding", "gzip")
		writer := gzip.NewWriter(w)
		writer.Write([]byte(listingBody))
		writer.Close()
	})

	assets, err := (&HTTPAssetFetcher{}).FetchAssets(t.Context(), endpoint, "s")
	if err != nil {
		t.Fatalf("FetchAssets: %v", err)
	}
	if len(assets) != 2 {
		t.Errorf("got %d assets, want 2", len(assets))
	}
}

func TestFetchAssetsNoSSHIsEmptyNotNil(t *testing.T) {
	t.Parallel()
	endpoint := listingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"x","assets_granted":[{"id":"1","hostname":"h","protocol":"vnc"}]}]`))
	})

	assets, err := (&HTTPAssetFetcher{}).FetchAssets(t.Context(), endpoint, "s")
	if err != nil {
		t.Fatalf("FetchAssets: %v", err)
	}
	if assets == nil || len(assets) != 0 {
		t.Errorf("assets = %#v, want empty slice", assets)
	}
}

func TestFetchAssetsStatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) {
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("err = %v, want ErrUnauthenticated", err)
			}
		}},
		{"forbidden", http.StatusForbidden, func(t *testing.T, err error) {
			if !IsUnauthenticated(err) {
				t.Errorf("err = %v, want unauthenticated", err)
			}
		}},
		{"server error", http.StatusBadGateway, func(t *testing.T, err error) {
			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("err = %v, want *FetchError", err)
			}
			if fetchErr.StatusCode != http.StatusBadGateway || fetchErr.Body != "upstream down" {
				t.Errorf("FetchError = %+v", fetchErr)
			}
			if IsUnauthenticated(err) {
				t.Error("502 reported as unauthenticated")
			}
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			endpoint := listingServer(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream down", test.status)
			})
			_, err := (&HTTPAssetFetcher{}).FetchAssets(t.Context(), endpoint, "s")
			if err == nil {
				t.Fatal("FetchAssets succeeded")
			}
			test.check(t, err)
		})
	}
}

func TestFindAsset(t *testing.T) {
	t.Parallel()
	assets := []Asset{{ID: "1", Hostname: "web"}, {ID: "2", Hostname: "db"}, {ID: "3", Hostname: "db"}}

	if asset, ok := FindAsset(assets, "db"); !ok || asset.ID != "2" {
		t.Errorf("FindAsset(db) = %+v, %v", asset, ok)
	}
	if _, ok := FindAsset(assets, "cache"); ok {
		t.Error("FindAsset(cache) found something")
	}
}

func TestInputMessageDecode(t *testing.T) {
	t.Parallel()

	if input, err := DataMessage("ls\n").Decode(); err != nil || input != (DataInput{Data: "ls\n"}) {
		t.Errorf("data Decode = %#v, %v", input, err)
	}
	if input, err := ResizeMessage(120, 40).Decode(); err != nil || input != (ResizeInput{Cols: 120, Rows: 40}) {
		t.Errorf("resize Decode = %#v, %v", input, err)
	}
	if _, err := ResizeMessage(0, 40).Decode(); err == nil {
		t.Error("zero-width resize accepted")
	}
	if _, err := (InputMessage{Kind: "paste"}).Decode(); err == nil {
		t.Error("unknown kind accepted")
	}
}
