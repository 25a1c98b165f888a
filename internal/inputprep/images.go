package inputprep

import (
	"errors"
	"fmt"
	"image"
)

// ErrImageType marks image arguments that are neither paths nor images.
var ErrImageType = errors.New("images must be file paths or decoded images")

// ImageTypeError reports the offending element of an image argument.
type ImageTypeError struct {
	Index int // -1 for the argument itself
	Got   string
}

func (e *ImageTypeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: got %s", ErrImageType, e.Got)
	}
	return fmt.Sprintf("%v: element %d is %s", ErrImageType, e.Index, e.Got)
}

func (e *ImageTypeError) Is(target error) bool { return target == ErrImageType }

type source struct {
	path string
	img  image.Image
}

// normalizeImages turns the accepted argument shapes into a uniform list.
// It reports whether the list holds in-memory images.
func normalizeImages(images any) ([]source, bool, error) {
	var items []any
	switch v := images.(type) {
	case string:
		return []source{{path: v}}, false, nil
	case image.Image:
		return []source{{img: v}}, true, nil
	case []string:
		items = make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
	case []image.Image:
		items = make([]any, len(v))
		for i, img := range v {
			items[i] = img
		}
	case []any:
		items = v
	default:
		return nil, false, &ImageTypeError{Index: -1, Got: fmt.Sprintf("%T", images)}
	}
	if len(items) == 0 {
		return nil, false, &ImageTypeError{Index: -1, Got: "an empty list"}
	}

	out := make([]source, len(items))
	_, arrays := items[0].(image.Image)
	for i, item := range items {
		switch v := item.(type) {
		case string:
			if arrays {
				return nil, false, &ImageTypeError{Index: i, Got: "a path in a list of images"}
			}
			out[i] = source{path: v}
		case image.Image:
			if !arrays {
				return nil, false, &ImageTypeError{Index: i, Got: "an image in a list of paths"}
			}
			out[i] = source{img: v}
		default:
			return nil, false, &ImageTypeError{Index: i, Got: fmt.Sprintf("%T", item)}
		}
	}
	return out, arrays, nil
}
