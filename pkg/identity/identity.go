package identity

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/benmeehan/knock-agent/pkg/file"
	"github.com/google/uuid"
)

// Identity holds the canvasser this agent logs knocks for.
type Identity struct {
	ID       string          `json:"canvasser_id,omitempty"`
	Name     string          `json:"canvasser_name,omitempty"`
	TeamID   string          `json:"team_id,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// CanvasserInfoInterface defines methods for managing canvasser identity.
type CanvasserInfoInterface interface {
	LoadIdentity() error
	GetCanvasserID() string
	GetCanvasserName() string
	GetIdentity() *Identity
}

// CanvasserInfo manages the canvasser identity and its backing file.
type CanvasserInfo struct {
	IdentityFile string
	Identity     Identity
	fileOps      file.FileOperations
}

// NewCanvasserInfo initializes a new CanvasserInfo instance.
func NewCanvasserInfo(filePath string, fileOps file.FileOperations) *CanvasserInfo {
	return &CanvasserInfo{
		IdentityFile: filePath,
		fileOps:      fileOps,
	}
}

// LoadIdentity reads the identity file. A missing file or missing ID gets a
// freshly generated ID, which is written back so it survives restarts.
func (c *CanvasserInfo) LoadIdentity() error {
	err := c.fileOps.ReadJsonFile(c.IdentityFile, &c.Identity)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if c.Identity.ID != "" {
		return nil
	}
	c.Identity.ID = uuid.NewString()
	return c.fileOps.WriteJsonFile(c.IdentityFile, c.Identity)
}

// GetIdentity returns the current Identity.
func (c *CanvasserInfo) GetIdentity() *Identity {
	return &c.Identity
}

// GetCanvasserID returns the current canvasser ID.
func (c *CanvasserInfo) GetCanvasserID() string {
	return c.Identity.ID
}

// GetCanvasserName returns the display name, if any.
func (c *CanvasserInfo) GetCanvasserName() string {
	return c.Identity.Name
}
