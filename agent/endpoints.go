// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"

	"github.com/bureau-foundation/jmsh/lib/rpc"
)

// The agent's methods. These names and the JSON shapes below are the
// contract between the CLI and the agent.
var (
	CheckConnection  = rpc.NewCallEndpoint[CheckConnectionRequest, bool]("checkConnection")
	CreateConnection = rpc.NewCallEndpoint[CreateConnectionRequest, struct{}]("createConnection")
	GetAssets        = rpc.NewCallEndpoint[GetAssetsRequest, []Asset]("getAssets")
	ConnectAsset     = rpc.NewChannelEndpoint[ConnectAssetRequest, InputMessage, OutputMessage]("connectAsset")
)

// CheckConnectionRequest asks whether a session exists.
type CheckConnectionRequest struct {
	Endpoint string `json:"endpoint"`
	Identity string `json:"identity"`
}

// Key returns the registry key the request refers to.
func (r CheckConnectionRequest) Key() Key { return Key{Endpoint: r.Endpoint, Identity: r.Identity} }

// CreateConnectionRequest hands the agent a logged-in bastion session.
type CreateConnectionRequest struct {
	Endpoint  string `json:"endpoint"`
	Identity  string `json:"identity"`
	SessionID string `json:"sessionId"`
	CSRFToken string `json:"csrfToken"`
}

// Key returns the registry key the request refers to.
func (r CreateConnectionRequest) Key() Key { return Key{Endpoint: r.Endpoint, Identity: r.Identity} }

// GetAssetsRequest lists the assets of a session.
type GetAssetsRequest struct {
	Endpoint  string `json:"endpoint"`
	Identity  string `json:"identity"`
	FromCache bool   `json:"fromCache"`
}

// Key returns the registry key the request refers to.
func (r GetAssetsRequest) Key() Key { return Key{Endpoint: r.Endpoint, Identity: r.Identity} }

// ConnectAssetRequest opens a terminal on TargetID as LoginIdentity.
type ConnectAssetRequest struct {
	Endpoint      string `json:"endpoint"`
	Identity      string `json:"identity"`
	TargetID      string `json:"targetId"`
	LoginIdentity string `json:"loginIdentity"`
	Cols          int    `json:"cols"`
	Rows          int    `json:"rows"`
}

// Key returns the registry key the request refers to.
func (r ConnectAssetRequest) Key() Key { return Key{Endpoint: r.Endpoint, Identity: r.Identity} }

// Asset is one SSH target the account may log in to.
type Asset struct {
	Group             string     `json:"group"`
	ID                string     `json:"id"`
	Hostname          string     `json:"hostname"`
	GrantedIdentities []Identity `json:"grantedIdentities"`
}

// Identity is a login account granted on an asset.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Input kinds carried by InputMessage.
const (
	InputData   = "data"
	InputResize = "resize"
)

// InputMessage is a message from the CLI into a connectAsset channel:
// {"kind":"data","data":...} or {"kind":"resize","cols":...,"rows":...}.
// Use Decode to get the typed form.
type InputMessage struct {
	Kind string `json:"kind"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// Input is the decoded form of an InputMessage: DataInput or
// ResizeInput.
type Input interface {
	isInput()
}

// DataInput is keystrokes for the remote terminal.
type DataInput struct {
	Data string
}

// ResizeInput is a new terminal size.
type ResizeInput struct {
	Cols, Rows int
}

func (DataInput) isInput()   {}
func (ResizeInput) isInput() {}

// DataMessage builds the InputMessage for keystrokes.
func DataMessage(data string) InputMessage {
	return InputMessage{Kind: InputData, Data: data}
}

// ResizeMessage builds the InputMessage for a size change.
func ResizeMessage(cols, rows int) InputMessage {
	return InputMessage{Kind: InputResize, Cols: cols, Rows: rows}
}

// Decode validates the message and returns its typed form.
func (m InputMessage) Decode() (Input, error) {
	switch m.Kind {
	case InputData:
		return DataInput{Data: m.Data}, nil
	case InputResize:
		if m.Cols <= 0 || m.Rows <= 0 {
			return nil, fmt.Errorf("resize to %dx%d: dimensions must be positive", m.Cols, m.Rows)
		}
		return ResizeInput{Cols: m.Cols, Rows: m.Rows}, nil
	default:
		return nil, fmt.Errorf("unknown input kind %q", m.Kind)
	}
}

// OutputMessage is a message from the agent out of a connectAsset
// channel. Data carries terminal output. Error is set only on the last
// message of a session that ended because the relay connection failed.
type OutputMessage struct {
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}
