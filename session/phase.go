package session

import "fmt"

type Phase int

const (
	Upload Phase = iota
	Processing
	Result
)

func (p Phase) String() string {
	switch p {
	case Upload:
		return "upload"
	case Processing:
		return "processing"
	case Result:
		return "result"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Progress 处理中的进度，百分比取值 [0, 100]
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

var initialProgress = Progress{Percent: 0, Message: "Initializing AI model..."}
