package bridge

import (
	"github.com/rescale/rescale-sftp/internal/events"
)

// DTO conversion functions for JSON-safe serialization

// ProgressDTO is the payload of upload_progress and download_progress.
type ProgressDTO struct {
	TransferID   string  `json:"transfer_id"`
	ConnectionID string  `json:"connection_id"`
	Path         string  `json:"path"`
	Transferred  uint64  `json:"transferred"`
	Total        int64   `json:"total"` // -1 while the size is unknown
	Type         string  `json:"type"`
	Speed        float64 `json:"speed"`
}

func progressEventToDTO(e *events.TransferProgressEvent) ProgressDTO {
	return ProgressDTO{
		TransferID:   e.TransferID,
		ConnectionID: e.ConnectionID,
		Path:         e.RemotePath,
		Transferred:  e.Transferred,
		Total:        wireTotal(e.Total),
		Type:         e.Kind,
		Speed:        e.Speed,
	}
}

// FinishedDTO is the payload of process_finished.
type FinishedDTO struct {
	TransferID   string `json:"transfer_id"`
	ConnectionID string `json:"connection_id"`
	Path         string `json:"path"`
	Type         string `json:"type"`
	State        string `json:"state"`
	Transferred  uint64 `json:"transferred"`
	Total        int64  `json:"total"`
	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
}

func finishedEventToDTO(e *events.TransferFinishedEvent) FinishedDTO {
	dto := FinishedDTO{
		TransferID:   e.TransferID,
		ConnectionID: e.ConnectionID,
		Path:         e.RemotePath,
		Type:         e.Kind,
		State:        e.State,
		Transferred:  e.Transferred,
		Total:        wireTotal(e.Total),
		ErrorKind:    e.ErrorKind,
	}
	if e.Error != nil {
		dto.Error = e.Error.Error()
	}
	return dto
}

// TransferErrorDTO is the payload of transfer_error.
type TransferErrorDTO struct {
	TransferID string `json:"transfer_id"`
	Type       string `json:"type"`
	Error      string `json:"error"`
	ErrorKind  string `json:"error_kind"`
}

// TransferCancelledDTO is the payload of transfer_cancelled.
type TransferCancelledDTO struct {
	TransferID string `json:"transfer_id"`
	Type       string `json:"type"`
}

// ConnectionStateDTO is the payload of connection_state.
type ConnectionStateDTO struct {
	ConnectionID string `json:"connection_id"`
	Endpoint     string `json:"endpoint"`
	State        string `json:"state"`
	Error        string `json:"error,omitempty"`
}

func connectionEventToDTO(e *events.ConnectionEvent) ConnectionStateDTO {
	dto := ConnectionStateDTO{
		ConnectionID: e.ConnectionID,
		Endpoint:     e.Endpoint,
		State:        e.State,
	}
	if e.Error != nil {
		dto.Error = e.Error.Error()
	}
	return dto
}

func wireTotal(total uint64) int64 {
	if total == events.UnknownTotal {
		return -1
	}
	return int64(total)
}

// translate maps a bus event to the messages sent to the client, in order. Queued and
// started announcements have no wire form.
func translate(event events.Event) []*EventMessage {
	switch e := event.(type) {
	case *events.TransferProgressEvent:
		name := EventDownloadProgress
		if e.Kind == "upload" {
			name = EventUploadProgress
		}
		return []*EventMessage{NewEventMessage(name, progressEventToDTO(e))}

	case *events.TransferFinishedEvent:
		out := make([]*EventMessage, 0, 2)
		switch e.State {
		case "failed":
			msg := ""
			if e.Error != nil {
				msg = e.Error.Error()
			}
			out = append(out, NewEventMessage(EventTransferError, TransferErrorDTO{
				TransferID: e.TransferID,
				Type:       e.Kind,
				Error:      msg,
				ErrorKind:  e.ErrorKind,
			}))
		case "cancelled":
			out = append(out, NewEventMessage(EventTransferCancelled, TransferCancelledDTO{
				TransferID: e.TransferID,
				Type:       e.Kind,
			}))
		}
		// process_finished is always the last message of a transfer
		return append(out, NewEventMessage(EventProcessFinished, finishedEventToDTO(e)))

	case *events.ConnectionEvent:
		return []*EventMessage{NewEventMessage(EventConnectionState, connectionEventToDTO(e))}
	}
	return nil
}
