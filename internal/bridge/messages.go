// Package bridge exposes the engine as newline-delimited JSON commands and events, so a
// presentation layer in any process can drive it over stdin/stdout.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rescale/rescale-sftp/internal/errs"
)

// Command names a request.
type Command string

const (
	CmdConnect         Command = "connect"
	CmdDisconnect      Command = "disconnect"
	CmdListDirectory   Command = "list_directory"
	CmdUploadFile      Command = "upload_file"
	CmdDownloadFile    Command = "download_file"
	CmdCancelTransfer  Command = "cancel_transfer"
	CmdCreateDirectory Command = "create_directory"
	CmdDelete          Command = "delete"
	CmdRename          Command = "rename"
	CmdListTransfers   Command = "list_transfers"
	CmdListConnections Command = "list_connections"
)

// Event names pushed to the client.
const (
	EventUploadProgress    = "upload_progress"
	EventDownloadProgress  = "download_progress"
	EventProcessFinished   = "process_finished"
	EventTransferError     = "transfer_error"
	EventTransferCancelled = "transfer_cancelled"
	EventConnectionState   = "connection_state"
)

// Message types on the output stream.
const (
	TypeResponse = "response"
	TypeEvent    = "event"
)

// ErrMissingCommand is returned for a request without a command.
var ErrMissingCommand = errors.New("command is required")

// Request is one line on the input stream.
type Request struct {
	ID      string          `json:"id"`
	Command Command         `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one Request, echoing its id.
type Response struct {
	Type      string      `json:"type"`
	ID        string      `json:"id"`
	OK        bool        `json:"ok"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind errs.Kind   `json:"error_kind,omitempty"`
}

// EventMessage is an unsolicited event.
type EventMessage struct {
	Type    string      `json:"type"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Command parameters

type ConnectionParams struct {
	ConnectionID string `json:"connection_id"`
}

type ListDirectoryParams struct {
	ConnectionID string `json:"connection_id"`
	Path         string `json:"path"`
	HideDotfiles bool   `json:"hide_dotfiles,omitempty"`
	DirsFirst    bool   `json:"dirs_first,omitempty"`
}

type UploadParams struct {
	ConnectionID string `json:"connection_id"`
	LocalPath    string `json:"local_path"`
	RemotePath   string `json:"remote_path"`
}

type DownloadParams struct {
	ConnectionID string `json:"connection_id"`
	RemotePath   string `json:"remote_path"`
	LocalPath    string `json:"local_path"`
}

type TransferParams struct {
	TransferID string `json:"transfer_id"`
}

type PathParams struct {
	ConnectionID string `json:"connection_id"`
	Path         string `json:"path"`
}

type DeleteParams struct {
	ConnectionID string `json:"connection_id"`
	Path         string `json:"path"`
	IsDir        bool   `json:"is_dir"`
}

type RenameParams struct {
	ConnectionID string `json:"connection_id"`
	OldPath      string `json:"old_path"`
	NewPath      string `json:"new_path"`
}

// DecodeRequest deserializes a request from one JSON line.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.Command == "" {
		return &req, ErrMissingCommand
	}
	return &req, nil
}

// decodeParams unmarshals the request parameters into v. Missing params decode as zero values.
func (r *Request) decodeParams(v interface{}) error {
	if len(r.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return errs.New(errs.InvalidArgument, string(r.Command), fmt.Errorf("invalid params: %w", err))
	}
	return nil
}

// NewOKResponse creates a success response.
func NewOKResponse(id string, result interface{}) *Response {
	return &Response{Type: TypeResponse, ID: id, OK: true, Result: result}
}

// NewErrorResponse creates a failure response carrying the error kind.
func NewErrorResponse(id string, err error) *Response {
	return &Response{
		Type:      TypeResponse,
		ID:        id,
		OK:        false,
		Error:     err.Error(),
		ErrorKind: errs.KindOf(err),
	}
}

// NewEventMessage wraps an event payload.
func NewEventMessage(event string, payload interface{}) *EventMessage {
	return &EventMessage{Type: TypeEvent, Event: event, Payload: payload}
}
