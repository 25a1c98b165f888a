package inputprep

import (
	"fmt"
	"strings"
)

// Task selects which shape override applies to a pipeline.
type Task string

const (
	TextDetection   Task = "TextDetection"
	TextRecognition Task = "TextRecognition"
)

func (t Task) String() string { return string(t) }

// ParseTask accepts the canonical names and the short forms det/detection
// and rec/recog/recognition, case-insensitively.
func ParseTask(s string) (Task, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "textdetection", "text_detection", "det", "detection":
		return TextDetection, nil
	case "textrecognition", "text_recognition", "rec", "recog", "recognition":
		return TextRecognition, nil
	default:
		return "", fmt.Errorf("unknown task %q (want TextDetection or TextRecognition)", s)
	}
}
