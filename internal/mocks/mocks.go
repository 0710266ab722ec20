// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Browser Mocks --

// MockPageProbe mocks schemas.PageProbe.
type MockPageProbe struct {
	mock.Mock
}

func (m *MockPageProbe) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPageProbe) CurrentTitle(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPageProbe) FindElement(ctx context.Context, by, selector string) (*schemas.ElementHandle, error) {
	args := m.Called(ctx, by, selector)
	var el *schemas.ElementHandle
	if v := args.Get(0); v != nil {
		el = v.(*schemas.ElementHandle)
	}
	return el, args.Error(1)
}

func (m *MockPageProbe) IsVisibleInViewport(ctx context.Context, el *schemas.ElementHandle) (bool, error) {
	args := m.Called(ctx, el)
	return args.Bool(0), args.Error(1)
}

func (m *MockPageProbe) InteractiveElements(ctx context.Context) ([]schemas.TriggerCandidate, error) {
	args := m.Called(ctx)
	var els []schemas.TriggerCandidate
	if v := args.Get(0); v != nil {
		els = v.([]schemas.TriggerCandidate)
	}
	return els, args.Error(1)
}

// MockActionDriver mocks schemas.ActionDriver.
type MockActionDriver struct {
	mock.Mock
}

func (m *MockActionDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockActionDriver) Click(ctx context.Context, target schemas.Target) error {
	return m.Called(ctx, target).Error(0)
}

func (m *MockActionDriver) Type(ctx context.Context, target schemas.Target, text string) error {
	return m.Called(ctx, target, text).Error(0)
}

func (m *MockActionDriver) Scroll(ctx context.Context, direction string, pixels int, target *schemas.Target) error {
	return m.Called(ctx, direction, pixels, target).Error(0)
}

func (m *MockActionDriver) ScrollTo(ctx context.Context, target schemas.Target) error {
	return m.Called(ctx, target).Error(0)
}

func (m *MockActionDriver) Move(ctx context.Context, target schemas.Target) error {
	return m.Called(ctx, target).Error(0)
}

func (m *MockActionDriver) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockActionDriver) Wait(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}

// MockAnnotator mocks schemas.Annotator.
type MockAnnotator struct {
	mock.Mock
}

func (m *MockAnnotator) Annotate(ctx context.Context) (*schemas.Annotation, error) {
	args := m.Called(ctx)
	var a *schemas.Annotation
	if v := args.Get(0); v != nil {
		a = v.(*schemas.Annotation)
	}
	return a, args.Error(1)
}

func (m *MockAnnotator) ScreenCoordinates(ctx context.Context, box schemas.Rect, pct float64) (schemas.Point, error) {
	args := m.Called(ctx, box, pct)
	return args.Get(0).(schemas.Point), args.Error(1)
}

// MockBrowser combines the three browser mocks into a schemas.Browser.
type MockBrowser struct {
	MockPageProbe
	MockActionDriver
	MockAnnotator
}

// NewMockBrowser returns an empty MockBrowser.
func NewMockBrowser() *MockBrowser {
	return &MockBrowser{}
}

var _ schemas.Browser = (*MockBrowser)(nil)
