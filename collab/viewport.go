package collab

import (
	"time"
)

type PreviewMode string

const (
	PreviewModeDesktop PreviewMode = "desktop"
	PreviewModeTablet  PreviewMode = "tablet"
	PreviewModeMobile  PreviewMode = "mobile"
	PreviewModeCustom  PreviewMode = "custom"
)

func (self PreviewMode) Valid() bool {
	switch self {
	case PreviewModeDesktop, PreviewModeTablet, PreviewModeMobile, PreviewModeCustom:
		return true
	default:
		return false
	}
}

// the shared rendering viewport
type ViewportConfig struct {
	Mode       PreviewMode `json:"mode"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	UpdatedBy  Id          `json:"updated_by,omitempty"`
	UpdateTime time.Time   `json:"updated_at,omitempty"`
}

// process-wide viewport state with no per-collaborator override.
// The latest set wins globally.
// Not safe for concurrent use; the event processor owns all mutation.
type ViewportController struct {
	config ViewportConfig
}

func NewViewportController() *ViewportController {
	return &ViewportController{
		config: ViewportConfig{
			Mode:   PreviewModeDesktop,
			Width:  1920,
			Height: 1080,
		},
	}
}

func (self *ViewportController) SetMode(change *PreviewModeChange, userId Id, eventTime time.Time) *ViewportConfig {
	config := ViewportConfig{
		Mode:       change.Mode,
		UpdatedBy:  userId,
		UpdateTime: eventTime,
	}
	switch change.Mode {
	case PreviewModeDesktop:
		config.Width = 1920
		config.Height = 1080
	case PreviewModeTablet:
		config.Width = 768
		config.Height = 1024
	case PreviewModeMobile:
		config.Width = 375
		config.Height = 667
	case PreviewModeCustom:
		config.Width = change.Width
		config.Height = change.Height
	}
	self.config = config
	configCopy := config
	return &configCopy
}

func (self *ViewportController) Config() *ViewportConfig {
	configCopy := self.config
	return &configCopy
}
