// Package session implements the on-disk control layout and
// crash-recoverable session listing that form the cross-process
// rendezvous between this server and an external forwarding CLI. Sessions
// are modeled as an explicit collaborator passed by construction rather
// than as package-global state.
package session

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

// Info is the serializable contents of session.json.
type Info struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Cmdline   []string          `json:"cmdline"`
	Cwd       string            `json:"cwd"`
	Pid       int               `json:"pid,omitempty"`
	Status    Status            `json:"status"`
	ExitCode  *int              `json:"exitCode,omitempty"`
	StartedAt time.Time         `json:"startedAt"`
	Term      string            `json:"term"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Env       map[string]string `json:"env,omitempty"`
}

// Row is what the Session API emits for a listing entry: Info plus
// federation provenance ("source", "remoteId", "remoteName").
type Row struct {
	Info
	Source     string `json:"source"`
	RemoteID   string `json:"remoteId,omitempty"`
	RemoteName string `json:"remoteName,omitempty"`
}

// Save persists Info to <dir>/session.json using temp-then-rename so readers
// never observe a torn write.
func (i *Info) Save(dir string) error {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return err
	}
	tmp := dir + "/.session.json.tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dir+"/session.json")
}

// LoadInfo reads and parses session.json from a session directory.
func LoadInfo(dir string) (*Info, error) {
	data, err := os.ReadFile(dir + "/session.json")
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
