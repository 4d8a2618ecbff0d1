package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"domain", EmptyBookError("no pages"), CodeEmptyBook},
		{"wrapped", fmt.Errorf("assemble: %w", PageNotFoundError(3)), CodePageNotFound},
		{"cancelled", context.Canceled, CodeCancelled},
		{"deadline", fmt.Errorf("decode: %w", context.DeadlineExceeded), CodeCancelled},
		{"released", ErrHandleReleased, CodeHandleReleased},
		{"plain", errors.New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
	assert.True(t, IsCode(ValidationError("bad", nil), CodeInvalidArgument))
}

func TestDomainError(t *testing.T) {
	cause := errors.New("disk gone")
	err := ContainerReadError("cannot open book.cbz", cause)

	assert.Equal(t, "[CODE_CONTAINER_READ] cannot open book.cbz: disk gone", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[CODE_PAGE_NOT_FOUND] no page at position 7", PageNotFoundError(7).Error())
}

func TestParseDirection(t *testing.T) {
	assert.Equal(t, DirectionRTL, ParseDirection("rtl"))
	assert.Equal(t, DirectionRTL, ParseDirection("RtL"))
	assert.Equal(t, DirectionLTR, ParseDirection("ltr"))
	assert.Equal(t, DirectionLTR, ParseDirection(""))
	assert.Equal(t, DirectionLTR, ParseDirection("right-to-left"))
}

func TestFileHashData(t *testing.T) {
	a := FileHashData{Hash: []byte{0xAB, 0x01}, Size: 10}
	assert.Equal(t, "ab01", a.Hex())
	assert.True(t, a.Equal(FileHashData{Hash: []byte{0xAB, 0x01}, Size: 10}))
	assert.False(t, a.Equal(FileHashData{Hash: []byte{0xAB, 0x01}, Size: 11}))
	assert.False(t, a.IsZero())
	assert.True(t, FileHashData{}.IsZero())
}

func TestBoundingBox(t *testing.T) {
	b := BoundingBox{XMin: 0.1, YMin: 0.2, XMax: 0.5, YMax: 0.6}
	assert.True(t, b.Valid())
	assert.InDelta(t, 0.16, b.Area(), 1e-9)
	assert.InDelta(t, 1.0, b.IoU(b), 1e-9)
	assert.Zero(t, b.IoU(BoundingBox{XMin: 0.6, YMin: 0.6, XMax: 0.9, YMax: 0.9}))

	half := BoundingBox{XMin: 0.3, YMin: 0.2, XMax: 0.7, YMax: 0.6}
	assert.InDelta(t, 0.08/0.24, b.IoU(half), 1e-9)

	assert.False(t, BoundingBox{XMin: 0.5, XMax: 0.2, YMax: 1}.Valid())
	assert.False(t, BoundingBox{XMax: 1.2, YMax: 1}.Valid())

	c := BoundingBox{XMin: 0.8, YMin: -0.5, XMax: 0.2, YMax: math.NaN()}.Clamp()
	assert.Equal(t, BoundingBox{XMin: 0.2, YMin: 0, XMax: 0.8, YMax: 0}, c)
	assert.True(t, c.Valid())
}

func TestBookPageAt(t *testing.T) {
	b := &Book{Pages: []Page{{Position: 0, Name: "a"}, {Position: 1, Name: "b"}}}
	p, ok := b.PageAt(1)
	assert.True(t, ok)
	assert.Equal(t, "b", p.Name)
	_, ok = b.PageAt(2)
	assert.False(t, ok)
}

func TestRegionEmpty(t *testing.T) {
	assert.True(t, Region{Width: 0, Height: 10}.Empty())
	assert.False(t, Region{Width: 1, Height: 1}.Empty())
}
