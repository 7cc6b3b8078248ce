package session

import (
	"github.com/chaos-io/cutout/export"
)

type SourceInfo struct {
	Name           string `json:"name"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Size           int64  `json:"size"`
	OriginalWidth  int    `json:"original_width"`
	OriginalHeight int    `json:"original_height"`
}

type ResultInfo struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Background string `json:"background"`
	// Subject 主体外接矩形 [x0, y0, x1, y1]
	Subject [4]int `json:"subject"`
}

// Status 会话快照
type Status struct {
	ID                  string         `json:"id"`
	Phase               Phase          `json:"phase"`
	Progress            *Progress      `json:"progress,omitempty"`
	Error               string         `json:"error,omitempty"`
	Source              *SourceInfo    `json:"source,omitempty"`
	Result              *ResultInfo    `json:"result,omitempty"`
	Export              export.Options `json:"export"`
	HasCustomBackground bool           `json:"has_custom_background"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:                  s.id,
		Phase:               s.phase,
		Export:              s.exportOpts,
		HasCustomBackground: s.customImage != nil,
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	if s.phase == Processing {
		p := s.progress
		st.Progress = &p
	}
	if s.source != nil {
		st.Source = &SourceInfo{
			Name:           s.source.Name,
			Width:          s.source.Width,
			Height:         s.source.Height,
			Size:           s.source.Size,
			OriginalWidth:  s.source.OriginalWidth,
			OriginalHeight: s.source.OriginalHeight,
		}
	}
	if s.phase == Result && s.cutout != nil {
		st.Result = &ResultInfo{
			Width:      s.cutout.Width,
			Height:     s.cutout.Height,
			Background: s.background.Name(),
			Subject: [4]int{
				s.cutout.Subject.Min.X, s.cutout.Subject.Min.Y,
				s.cutout.Subject.Max.X, s.cutout.Subject.Max.Y,
			},
		}
	}
	return st
}

// LastError 最近一次失败的原因
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Background() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.background.Name()
}

func (s *Session) ExportOptions() export.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportOpts
}
