package rembg

import (
	"context"
	"errors"
)

// Passthrough 原样返回输入，用于没有推理服务时的本地调试
type Passthrough struct{}

func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (p *Passthrough) Infer(ctx context.Context, src []byte, progress ProgressFunc) ([]byte, error) {
	if len(src) == 0 {
		return nil, errors.New("empty input")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(PhaseCompute, 0, 1)
		progress(PhaseCompute, 1, 1)
	}
	return src, nil
}
