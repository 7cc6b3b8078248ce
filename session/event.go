package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/compose"
	"github.com/chaos-io/cutout/export"
	"github.com/chaos-io/cutout/imaging"
)

// Event 由界面层派发给会话的事件
type Event interface {
	eventName() string
}

type FileSelected struct {
	File imaging.File
}

type BackgroundChanged struct {
	Background compose.Background
}

type CustomBackgroundSelected struct {
	File imaging.File
}

type FormatChanged struct {
	Options export.Options
}

// ExportRequested Options 为空时使用会话当前的导出设置
type ExportRequested struct {
	Saver   export.Saver
	Options *export.Options
}

type ResetRequested struct{}

func (FileSelected) eventName() string             { return "file_selected" }
func (BackgroundChanged) eventName() string        { return "background_changed" }
func (CustomBackgroundSelected) eventName() string { return "custom_background_selected" }
func (FormatChanged) eventName() string            { return "format_changed" }
func (ExportRequested) eventName() string          { return "export_requested" }
func (ResetRequested) eventName() string           { return "reset_requested" }

// Dispatch 同步处理一个事件
func (s *Session) Dispatch(ctx context.Context, ev Event) error {
	if ev == nil {
		return errors.New("nil event")
	}
	s.logger.Debug("dispatch", zap.String("event", ev.eventName()))

	switch e := ev.(type) {
	case FileSelected:
		return s.SelectFile(ctx, e.File)
	case BackgroundChanged:
		return s.SetBackground(e.Background)
	case CustomBackgroundSelected:
		return s.LoadCustomBackground(e.File)
	case FormatChanged:
		return s.SetExportOptions(e.Options)
	case ExportRequested:
		_, err := s.Export(ctx, e.Saver, e.Options)
		return err
	case ResetRequested:
		s.Reset()
		return nil
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
}
