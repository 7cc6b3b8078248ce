package compose

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

var ErrInvalidBackgroundSelection = errors.New("invalid background selection")

type Kind int

const (
	Transparent Kind = iota
	SolidColor
	Gradient
	CustomImage
)

func (k Kind) String() string {
	switch k {
	case Transparent:
		return "transparent"
	case SolidColor:
		return "color"
	case Gradient:
		return "gradient"
	case CustomImage:
		return "custom-image"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Stop 渐变色标，Offset 取值 [0, 1]
type Stop struct {
	Offset float64
	Color  color.NRGBA
}

// Background 合成时使用的背景，同一时间只有一种生效
type Background struct {
	Kind  Kind
	Color color.NRGBA
	Stops []Stop
	Image image.Image
}

// 预设色
var (
	White = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	Black = color.NRGBA{A: 0xff}
	Blue  = color.NRGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}

	DefaultGradient = []Stop{
		{Offset: 0, Color: color.NRGBA{R: 0x66, G: 0x7e, B: 0xea, A: 0xff}},
		{Offset: 1, Color: color.NRGBA{R: 0x76, G: 0x4b, B: 0xa2, A: 0xff}},
	}
)

func NewTransparent() Background {
	return Background{Kind: Transparent}
}

func NewSolid(c color.NRGBA) Background {
	return Background{Kind: SolidColor, Color: c}
}

func NewGradient(stops ...Stop) Background {
	if len(stops) == 0 {
		stops = DefaultGradient
	}
	return Background{Kind: Gradient, Stops: stops}
}

func NewCustomImage(img image.Image) Background {
	return Background{Kind: CustomImage, Image: img}
}

// Validate CustomImage 必须先有位图
func (b Background) Validate() error {
	switch b.Kind {
	case Transparent, SolidColor:
		return nil
	case Gradient:
		if len(b.Stops) == 0 {
			return fmt.Errorf("%w: gradient without stops", ErrInvalidBackgroundSelection)
		}
		return nil
	case CustomImage:
		if b.Image == nil || b.Image.Bounds().Empty() {
			return fmt.Errorf("%w: no custom background image loaded", ErrInvalidBackgroundSelection)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidBackgroundSelection, b.Kind)
	}
}

// Name 背景的展示名，纯色返回 #rrggbb
func (b Background) Name() string {
	if b.Kind == SolidColor {
		return fmt.Sprintf("#%02x%02x%02x", b.Color.R, b.Color.G, b.Color.B)
	}
	return b.Kind.String()
}

// ParseColor 解析 #rrggbb 或 #rgb
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 && s[0] == '#' {
		s = string([]byte{'#', s[1], s[1], s[2], s[2], s[3], s[3]})
	}
	if len(s) != 7 || s[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("%w: bad color %q", ErrInvalidBackgroundSelection, s)
	}
	c, err := colorful.Hex(strings.ToLower(s))
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: bad color %q", ErrInvalidBackgroundSelection, s)
	}
	r, g, bl := c.RGB255()
	return color.NRGBA{R: r, G: g, B: bl, A: 0xff}, nil
}

// ParseBackground 解析预设名或十六进制颜色
//
// custom-image 需要由调用方补上位图
func ParseBackground(name string) (Background, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "transparent", "none":
		return NewTransparent(), nil
	case "white":
		return NewSolid(White), nil
	case "black":
		return NewSolid(Black), nil
	case "blue":
		return NewSolid(Blue), nil
	case "gradient":
		return NewGradient(), nil
	case "custom-image", "image":
		return Background{Kind: CustomImage}, nil
	}

	c, err := ParseColor(name)
	if err != nil {
		return Background{}, err
	}
	return NewSolid(c), nil
}
