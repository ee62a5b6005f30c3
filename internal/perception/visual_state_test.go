package perception

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/omniagent/internal/parser"
	"github.com/v0xg/omniagent/internal/ui"
)

type staticSource struct {
	img   image.Image
	err   error
	calls int
}

func (s *staticSource) Screenshot(context.Context) (image.Image, error) {
	s.calls++
	return s.img, s.err
}

type fakeParser struct {
	resp *parser.Response
	err  error
	seen image.Rectangle
}

func (f *fakeParser) Parse(_ context.Context, img image.Image) (*parser.Response, error) {
	f.seen = img.Bounds()
	return f.resp, f.err
}

func loginDetections() *parser.Response {
	return &parser.Response{ParsedContentList: []parser.RawElement{
		{Type: "text_field", BBox: []float64{0.25, 0.3, 0.75, 0.37}, Content: "Username"},
		{Type: "text_field", BBox: []float64{0.25, 0.4, 0.75, 0.47}, Content: "Password"},
		{Type: "button", BBox: []float64{0.4, 0.8, 0.55, 0.875}, Content: "Login"},
		{Type: "text", BBox: []float64{0.3, 0.1, 0.7, 0.15}, Content: "Welcome back"},
	}}
}

func TestUpdateReplacesSnapshot(t *testing.T) {
	src := &staticSource{img: image.NewRGBA(image.Rect(0, 0, 800, 600))}
	p := &fakeParser{resp: loginDetections()}
	vs := New(src, p, Options{DownsampleFactor: 1, MinElementPx: 3}, nil)

	require.NoError(t, vs.Update(context.Background()))

	w, h := vs.ScreenDimensions()
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
	assert.Len(t, vs.Elements(), 4)
	assert.Equal(t, src.img, vs.LastScreenshot())
	assert.Equal(t, image.Rect(0, 0, 800, 600), p.seen)
}

func TestUpdateDownsamplesParserInput(t *testing.T) {
	src := &staticSource{img: image.NewRGBA(image.Rect(0, 0, 800, 600))}
	p := &fakeParser{resp: loginDetections()}
	vs := New(src, p, Options{DownsampleFactor: 0.5}, nil)

	require.NoError(t, vs.Update(context.Background()))

	assert.Equal(t, 400, p.seen.Dx())
	assert.Equal(t, 300, p.seen.Dy())
	w, h := vs.ScreenDimensions()
	assert.Equal(t, 800, w, "dimensions stay physical")
	assert.Equal(t, 600, h)
}

func TestUpdateFailureKeepsPreviousSnapshot(t *testing.T) {
	src := &staticSource{img: image.NewRGBA(image.Rect(0, 0, 800, 600))}
	p := &fakeParser{resp: loginDetections()}
	vs := New(src, p, Options{}, nil)
	require.NoError(t, vs.Update(context.Background()))

	p.err = errors.New("service down")
	err := vs.Update(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse failed")
	assert.Len(t, vs.Elements(), 4)

	src.err = errors.New("no display")
	err = vs.Update(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screenshot failed")
}

func TestCaptureScreenDoesNotParse(t *testing.T) {
	src := &staticSource{img: image.NewRGBA(image.Rect(0, 0, 10, 10))}
	p := &fakeParser{resp: loginDetections()}
	vs := New(src, p, Options{}, nil)

	img, err := vs.CaptureScreen(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, img)
	assert.Empty(t, vs.Elements())
	assert.Nil(t, vs.LastScreenshot())
}

func TestFindElement(t *testing.T) {
	elements := []ui.Element{
		{ID: 0, Type: "text_field", Content: "Username"},
		{ID: 1, Type: "text_field", Content: "Password"},
		{ID: 2, Type: "button", Content: "Login"},
		{ID: 3, Type: "text", Content: "Login to continue"},
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "content", query: "password", want: 1},
		{name: "content beats type", query: "login button", want: 2},
		{name: "tie keeps lowest id", query: "login", want: 2},
		{name: "type only", query: "field", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := FindElement(elements, tt.query)
			require.NotNil(t, el)
			assert.Equal(t, tt.want, el.ID)
		})
	}

	assert.Nil(t, FindElement(elements, "checkbox"))
	assert.Nil(t, FindElement(elements, "   "))
}

func TestRankElementsLimit(t *testing.T) {
	elements := []ui.Element{
		{ID: 0, Type: "text_field", Content: "Username"},
		{ID: 1, Type: "text_field", Content: "Password"},
		{ID: 2, Type: "button", Content: "Login"},
	}

	ranked := RankElements(elements, "text_field password", 0)
	require.Len(t, ranked, 2)
	assert.Equal(t, 1, ranked[0].ID)
	assert.Equal(t, 0, ranked[1].ID)

	assert.Len(t, RankElements(elements, "text_field", 1), 1)
}
