// Package rpc exposes session creation and command submission as a Connect
// service so controllers without store credentials can drive a session.
package rpc

import (
	"encoding/json"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/derive"
)

const TimerServiceName = "cuecard.timer.v1.TimerService"

const (
	CreateSessionProcedure = "/cuecard.timer.v1.TimerService/CreateSession"
	GetSessionProcedure    = "/cuecard.timer.v1.TimerService/GetSession"
	SendCommandProcedure   = "/cuecard.timer.v1.TimerService/SendCommand"
)

type CreateSessionRequest struct {
	// SessionID is optional; a fresh room id is generated when empty.
	SessionID string                `json:"sessionId,omitempty"`
	Config    *models.SessionConfig `json:"config,omitempty"`
}

type CreateSessionResponse struct {
	Session *models.Session `json:"session"`
}

type GetSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type GetSessionResponse struct {
	Session *models.Session `json:"session"`
	View    derive.View     `json:"view"`
}

type SendCommandRequest struct {
	SessionID string             `json:"sessionId"`
	OriginID  string             `json:"originId,omitempty"`
	Type      models.CommandType `json:"type"`
	Payload   json.RawMessage    `json:"payload,omitempty"`
}

type SendCommandResponse struct {
	CommandID string `json:"commandId"`
}
