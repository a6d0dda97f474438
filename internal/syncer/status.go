package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopledger/shopledger/internal/dataset"
	"github.com/shopledger/shopledger/internal/remote"
)

// State is the coarse sync state shown to the user.
type State string

const (
	StateOffline State = "OFFLINE"
	StateSyncing State = "SYNCING"
	StateSynced  State = "SYNCED"
	StateError   State = "ERROR"
)

// Result names what one reconcile did. The values double as metric labels.
type Result string

const (
	ResultOffline   Result = "offline"
	ResultSkipped   Result = "skipped"
	ResultPushed    Result = "pushed"
	ResultPulled    Result = "pulled"
	ResultUnchanged Result = "unchanged"
	ResultFailed    Result = "failed"
)

// Status is the last reported sync state.
type Status struct {
	State       State     `json:"state"`
	Message     string    `json:"message,omitempty"`
	Direction   string    `json:"direction,omitempty"`
	LocalClock  int64     `json:"localClock"`
	RemoteClock int64     `json:"remoteClock"`
	At          time.Time `json:"at"`
}

var (
	// ErrInFlight is returned by forced operations while a sync runs.
	ErrInFlight = errors.New("syncer: sync already in progress")
	// ErrOffline is returned by forced operations without a remote.
	ErrOffline = errors.New("syncer: no remote configured")
	// ErrRemoteEmpty refuses a forced download of a replica with no snapshot.
	ErrRemoteEmpty = errors.New("syncer: remote has no snapshot")
)

// Classify turns err into a message the user can act on.
func Classify(err error) string {
	var rejected *remote.RejectedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, dataset.ErrLocalStore):
		return "Saving on this device failed. Free up space or restart before making more changes."
	case errors.Is(err, remote.ErrAuth):
		return "The sync server rejected the access token. Check the token in sync settings."
	case errors.Is(err, remote.ErrProtocol):
		return "The sync endpoint did not return sync data. Check that the URL points at the sync service."
	case errors.As(err, &rejected):
		if rejected.Code != "" {
			return fmt.Sprintf("The sync server refused the request (HTTP %d: %s).", rejected.Status, rejected.Code)
		}
		return fmt.Sprintf("The sync server refused the request (HTTP %d).", rejected.Status)
	case errors.Is(err, remote.ErrNotFound):
		return "The sync server has no data for this token."
	case errors.Is(err, ErrRemoteEmpty):
		return "There is nothing on the sync server to download yet."
	case errors.Is(err, context.DeadlineExceeded):
		return "The sync server did not answer in time. Changes are kept and will sync later."
	case errors.Is(err, remote.ErrTransport):
		return "Could not reach the sync server. Changes are kept and will sync when the connection returns."
	default:
		return "Sync failed: " + err.Error()
	}
}
